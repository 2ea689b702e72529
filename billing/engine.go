/*
engine.go - Facade over calculators, matcher, generator and status aggregator

PURPOSE:
  The single entry point callers (HTTP handlers, the scheduler, tests) use.
  Wires the injectable collaborators together and exposes the logical
  operations:

    CalculateForHousehold(ctx, category, id)      -> Obligation
    CalculateForAllHouseholds(ctx, category)      -> []Obligation
    Generate / GenerateYearly(ctx, request)       -> *GenerationReport
    GetHouseholdFeeStatus(ctx, id)                -> *HouseholdFeeStatus
    RecordPayment(ctx, payment, period)           -> Payment, RecordOutcome

STATELESS:
  The engine keeps no cache of obligations or payments between calls. Every
  operation recomputes from current store state, so it relies only on the
  store's read-after-write consistency.

EXAMPLE:
  engine := billing.NewEngine(store, billing.DefaultRegistry())
  engine.Normalizer = billing.NewNormalizer(loc)
  report, err := engine.Generate(ctx, billing.GenerateRequest{Period: june, Overwrite: false})
*/
package billing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const defaultWorkers = 4

type Engine struct {
	Store      Store
	Registry   *Registry
	Normalizer Normalizer
	Matcher    *Matcher
	Logger     *slog.Logger

	// Workers bounds the households processed concurrently.
	Workers int

	// Now and NewID are injectable for tests.
	Now   func() time.Time
	NewID func() string

	// Sinks receive every generation report after the batch completes.
	Sinks []ReportSink

	matcherOnce sync.Once
}

// NewEngine returns an engine with default collaborators. A nil registry
// uses DefaultRegistry.
func NewEngine(store Store, registry *Registry) *Engine {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Engine{
		Store:      store,
		Registry:   registry,
		Normalizer: NewNormalizer(time.Local),
		Matcher:    NewMatcher(store),
		Logger:     slog.Default(),
		Workers:    defaultWorkers,
		Now:        time.Now,
		NewID:      uuid.NewString,
	}
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Engine) newID() string {
	if e.NewID == nil {
		return uuid.NewString()
	}
	return e.NewID()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// matcher defaults Matcher once; generation workers call it concurrently.
func (e *Engine) matcher() *Matcher {
	e.matcherOnce.Do(func() {
		if e.Matcher == nil {
			e.Matcher = NewMatcher(e.Store)
		}
	})
	return e.Matcher
}

func (e *Engine) workers() int {
	if e.Workers <= 0 {
		return defaultWorkers
	}
	return e.Workers
}

// Calculator returns the calculator of a category.
func (e *Engine) Calculator(cat Category) (Calculator, error) {
	switch cat {
	case CategoryArea:
		return &AreaCalculator{Households: e.Store, Policies: e.Store, Registry: e.Registry}, nil
	case CategoryVehicle:
		return &VehicleCalculator{Households: e.Store, Vehicles: e.Store, Policies: e.Store, Registry: e.Registry}, nil
	case CategoryOccupancy:
		return &OccupancyCalculator{Households: e.Store, Residents: e.Store, Policies: e.Store, Registry: e.Registry}, nil
	case CategoryFlat:
		return &FlatCalculator{Households: e.Store, Policies: e.Store, Registry: e.Registry}, nil
	}
	return nil, &ValidationError{Field: "category", Value: string(cat), Reason: "unknown fee category", Err: ErrUnknownCategory}
}

// =============================================================================
// OBLIGATIONS
// =============================================================================

// CalculateForHousehold computes one category's obligation for a household.
func (e *Engine) CalculateForHousehold(ctx context.Context, cat Category, householdID string) (Obligation, error) {
	calc, err := e.Calculator(cat)
	if err != nil {
		return Obligation{}, err
	}
	return calc.Calculate(ctx, householdID)
}

// CalculateForAllHouseholds computes one category's obligation for every
// active household, in household id order.
func (e *Engine) CalculateForAllHouseholds(ctx context.Context, cat Category) ([]Obligation, error) {
	calc, err := e.Calculator(cat)
	if err != nil {
		return nil, err
	}
	households, err := e.Store.FindActiveHouseholds(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Obligation, len(households))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())
	for i, h := range households {
		g.Go(func() error {
			o, err := calc.Calculate(gctx, h.ID)
			if err != nil {
				return err
			}
			results[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// =============================================================================
// REPORT SINKS
// =============================================================================

// ReportSink receives completed generation reports (metrics, event bus).
type ReportSink interface {
	Record(ctx context.Context, report *GenerationReport) error
}

func (e *Engine) publish(ctx context.Context, report *GenerationReport) {
	var wg sync.WaitGroup
	for _, sink := range e.Sinks {
		wg.Add(1)
		go func(s ReportSink) {
			defer wg.Done()
			if err := s.Record(ctx, report); err != nil {
				e.logger().Warn("report sink failed", "period", report.Period.Key(), "error", err)
			}
		}(sink)
	}
	wg.Wait()
}
