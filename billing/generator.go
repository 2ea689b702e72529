/*
generator.go - Bulk pending-payment generation

PURPOSE:
  Creates (or, on request, overwrites) one pending payment per household,
  fee and period for the whole property.

CONTRACT:
  Generate(ctx, {Period, Overwrite, Categories})        monthly categories
  GenerateYearly(ctx, {Period, Overwrite, Categories})  yearly categories (hygiene)

  For every active household, every category, every line item with a
  positive amount:
    existing + !Overwrite  -> skipped ("already exists"), no mutation
    existing + Overwrite   -> amount/status/description/period updated in place
    none                   -> new pending payment inserted

PARTIAL FAILURE:
  A failing line (store error, conflict, calculator error for one household)
  becomes a report entry and the batch continues. Only these propagate:
    - ConfigurationError: a category has no active policies
    - listing households or policies fails
    - the context is cancelled

IDEMPOTENCE:
  Running twice with Overwrite=false creates nothing the second time. Two
  concurrent runs are guarded by the store's (household, fee, period) unique
  constraint: the loser's insert conflict is recorded as skipped.
*/
package billing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// GenerateRequest selects what to generate.
type GenerateRequest struct {
	// Period is any date inside the target period; it is canonicalized.
	Period    time.Time
	Overwrite bool

	// Categories restricts generation. Empty means every category of the
	// entry point's granularity that has active policies.
	Categories []Category

	// Quiet keeps a batch that created and failed nothing away from the report
	// sinks. Periodic reruns set it.
	Quiet bool
}

// LineAction is the outcome of one generated line.
type LineAction string

const (
	ActionCreated LineAction = "created"
	ActionUpdated LineAction = "updated"
	ActionSkipped LineAction = "skipped"
	ActionFailed  LineAction = "failed"
)

// GenerationLine describes one (household, fee) line of a batch.
type GenerationLine struct {
	HouseholdID string
	Category    Category
	FeeID       string
	FeeCode     string
	PaymentID   string
	Amount      decimal.Decimal
	Description string
	Action      LineAction
	Reason      string
}

// GenerationReport summarizes one batch.
type GenerationReport struct {
	Period          Period
	Overwrite       bool
	Categories      []Category
	TotalHouseholds int
	TotalLineItems  int

	// Created includes overwritten lines; Overwritten counts them separately.
	Created     int
	Skipped     int
	Errors      int
	Overwritten int

	// TotalAmount sums created and overwritten amounts.
	TotalAmount decimal.Decimal

	CreatedPayments []GenerationLine
	SkippedPayments []GenerationLine
	ErrorLines      []GenerationLine

	StartedAt  time.Time
	FinishedAt time.Time
}

func (r *GenerationReport) add(line GenerationLine) {
	r.TotalLineItems++
	switch line.Action {
	case ActionCreated, ActionUpdated:
		r.Created++
		if line.Action == ActionUpdated {
			r.Overwritten++
		}
		r.TotalAmount = r.TotalAmount.Add(line.Amount)
		r.CreatedPayments = append(r.CreatedPayments, line)
	case ActionSkipped:
		r.Skipped++
		r.SkippedPayments = append(r.SkippedPayments, line)
	default:
		r.Errors++
		r.ErrorLines = append(r.ErrorLines, line)
	}
}

// =============================================================================
// ENTRY POINTS
// =============================================================================

// Generate runs a monthly batch.
func (e *Engine) Generate(ctx context.Context, req GenerateRequest) (*GenerationReport, error) {
	return e.generate(ctx, req, Monthly)
}

// GenerateYearly runs a yearly batch (hygiene with the default registry).
func (e *Engine) GenerateYearly(ctx context.Context, req GenerateRequest) (*GenerationReport, error) {
	return e.generate(ctx, req, Yearly)
}

func (e *Engine) generate(ctx context.Context, req GenerateRequest, g Granularity) (*GenerationReport, error) {
	if req.Period.IsZero() {
		return nil, &ValidationError{Field: "period", Reason: "must be set", Err: ErrInvalidPeriod}
	}
	period := e.Normalizer.PeriodFor(req.Period, g)
	log := e.logger().With("period", period.Key(), "granularity", string(g), "overwrite", req.Overwrite)

	// 1. Resolve categories and their policies before any write
	cats, policies, err := e.resolveCategories(ctx, req.Categories, g)
	if err != nil {
		return nil, err
	}

	// 2. Households
	households, err := e.Store.FindActiveHouseholds(ctx)
	if err != nil {
		return nil, fmt.Errorf("find active households: %w", err)
	}

	report := &GenerationReport{
		Period:          period,
		Overwrite:       req.Overwrite,
		Categories:      cats,
		TotalHouseholds: len(households),
		TotalAmount:     decimal.Zero,
		CreatedPayments: []GenerationLine{},
		SkippedPayments: []GenerationLine{},
		ErrorLines:      []GenerationLine{},
		StartedAt:       e.now(),
	}

	calcs := make([]Calculator, 0, len(cats))
	for _, cat := range cats {
		calc, err := e.Calculator(cat)
		if err != nil {
			return nil, err
		}
		calcs = append(calcs, calc)
	}

	// 3. Per-household lines, bounded concurrency
	var mu sync.Mutex
	record := func(line GenerationLine) {
		mu.Lock()
		defer mu.Unlock()
		report.add(line)
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(e.workers())
	for _, h := range households {
		grp.Go(func() error {
			for _, calc := range calcs {
				if err := gctx.Err(); err != nil {
					return err
				}
				obligation, err := calc.Calculate(gctx, h.ID)
				if err != nil {
					if ctxErr := gctx.Err(); ctxErr != nil {
						return ctxErr
					}
					log.Warn("obligation calculation failed", "household_id", h.ID, "category", string(calc.Category()), "error", err)
					record(GenerationLine{HouseholdID: h.ID, Category: calc.Category(), Action: ActionFailed, Reason: err.Error()})
					continue
				}
				for _, item := range obligation.LineItems {
					if !item.Quantity.IsPositive() || !item.Amount.IsPositive() {
						continue
					}
					if p, ok := policies[item.FeeID]; ok && !p.EffectiveStart.IsZero() && !p.EffectiveStart.Before(period.End) {
						continue
					}
					line := e.generateLine(gctx, h.ID, calc.Category(), item, period, req.Overwrite)
					if line.Action == ActionFailed {
						if ctxErr := gctx.Err(); ctxErr != nil {
							return ctxErr
						}
						log.Warn("payment line failed", "household_id", h.ID, "fee_code", item.FeeCode, "error", line.Reason)
					}
					record(line)
				}
			}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	sortLines(report.CreatedPayments)
	sortLines(report.SkippedPayments)
	sortLines(report.ErrorLines)
	report.FinishedAt = e.now()

	log.Info("payment generation complete",
		"households", report.TotalHouseholds,
		"created", report.Created,
		"skipped", report.Skipped,
		"errors", report.Errors,
		"overwritten", report.Overwritten,
		"total_amount", report.TotalAmount.String())

	if req.Quiet && report.Created == 0 && report.Errors == 0 {
		return report, nil
	}
	e.publish(ctx, report)
	return report, nil
}

// resolveCategories returns the categories to generate and their active
// policies by id. A requested category without policies is a configuration
// error; a defaulted one is skipped unless every category is empty.
func (e *Engine) resolveCategories(ctx context.Context, requested []Category, g Granularity) ([]Category, map[string]FeePolicy, error) {
	explicit := len(requested) > 0
	cats := requested
	if !explicit {
		for _, cat := range []Category{CategoryFlat, CategoryArea, CategoryVehicle, CategoryOccupancy} {
			if e.Registry.Granularity(cat) == g {
				cats = append(cats, cat)
			}
		}
	}

	all, err := e.Store.FindActivePolicies(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("find active policies: %w", err)
	}
	byCategory := make(map[Category][]FeePolicy)
	for _, p := range all {
		cat := e.Registry.CategoryOf(p)
		byCategory[cat] = append(byCategory[cat], p)
	}

	var resolved []Category
	policies := make(map[string]FeePolicy)
	seen := make(map[Category]bool)
	for _, cat := range cats {
		if _, err := ParseCategory(string(cat)); err != nil {
			return nil, nil, err
		}
		if seen[cat] {
			continue
		}
		seen[cat] = true
		if e.Registry.Granularity(cat) != g {
			return nil, nil, &ValidationError{Field: "category", Value: string(cat), Reason: fmt.Sprintf("bills %s, not %s", e.Registry.Granularity(cat), g)}
		}
		if len(byCategory[cat]) == 0 {
			if explicit {
				return nil, nil, &ConfigurationError{Category: cat, Reason: "no active fee policies"}
			}
			e.logger().Debug("skipping category without policies", "category", string(cat))
			continue
		}
		resolved = append(resolved, cat)
		for _, p := range byCategory[cat] {
			policies[p.ID] = p
		}
	}
	if len(resolved) == 0 {
		names := make([]string, len(cats))
		for i, c := range cats {
			names[i] = string(c)
		}
		return nil, nil, &ConfigurationError{Category: Category(strings.Join(names, ",")), Reason: "no active fee policies in any category"}
	}
	return resolved, policies, nil
}

// generateLine applies the skip / overwrite / insert rule to one line item.
func (e *Engine) generateLine(ctx context.Context, householdID string, cat Category, item LineItem, period Period, overwrite bool) GenerationLine {
	line := GenerationLine{
		HouseholdID: householdID,
		Category:    cat,
		FeeID:       item.FeeID,
		FeeCode:     item.FeeCode,
		Amount:      item.Amount,
		Description: describe(item, period),
	}

	existing, err := e.matcher().FindPayment(ctx, householdID, item.FeeID, period)
	if err != nil {
		line.Action, line.Reason = ActionFailed, err.Error()
		return line
	}

	if existing != nil {
		line.PaymentID = existing.ID
		if !overwrite {
			line.Action, line.Reason = ActionSkipped, "already exists"
			return line
		}
		patch := PaymentPatch{
			Amount:      item.Amount,
			Status:      StatusPending,
			Description: line.Description,
			Period:      period.Start,
		}
		if err := e.Store.UpdatePayment(ctx, existing.ID, patch); err != nil {
			line.Action, line.Reason = ActionFailed, err.Error()
			return line
		}
		line.Action = ActionUpdated
		return line
	}

	now := e.now()
	start := period.Start
	payment := Payment{
		ID:          e.newID(),
		FeeID:       item.FeeID,
		HouseholdID: householdID,
		Amount:      item.Amount,
		Period:      &start,
		Status:      StatusPending,
		PaymentDate: now,
		Description: line.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Store.InsertPayment(ctx, payment); err != nil {
		if IsConflict(err) {
			line.Action, line.Reason = ActionSkipped, "already exists (concurrent insert)"
			return line
		}
		line.Action, line.Reason = ActionFailed, err.Error()
		return line
	}
	line.PaymentID = payment.ID
	line.Action = ActionCreated
	return line
}

// describe renders e.g. "Service fee 06/2024: 80 m² × 5,000 = 400,000".
func describe(item LineItem, period Period) string {
	name := item.FeeName
	if name == "" {
		name = item.FeeCode
	}
	return fmt.Sprintf("%s %s: %s = %s", name, period.Label(), item.Description, FormatMoney(item.Amount))
}

func sortLines(lines []GenerationLine) {
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].HouseholdID != lines[j].HouseholdID {
			return lines[i].HouseholdID < lines[j].HouseholdID
		}
		if lines[i].Category != lines[j].Category {
			return lines[i].Category < lines[j].Category
		}
		return lines[i].FeeCode < lines[j].FeeCode
	})
}
