/*
status.go - Household fee status aggregation

PURPOSE:
  One view per household of every fee it owes, for the current and the
  previous billing period, with a status derived at read time.

ENTRY KINDS (tagged by FeeRef.Kind):
  flat              one entry per active flat policy, matched by existence
  vehicle_combined  all parking codes, matched by summed amount >= obligation
  area_combined     all area codes, matched by summed amount >= obligation
  hygiene_combined  yearly, matched by existence of a paid payment per code

STATUS RULES:
  Flat:     current  paid | pending
            previous paid | overdue (effectiveStart before previous end) | not_applicable
  Combined: current  paid | pending
            previous paid | overdue

  Only payments with status "paid" count. Generated pending payments do not
  settle anything.

FAILURE ISOLATION:
  The flat list is mandatory and its errors propagate. A failure while
  computing one combined category is logged and that entry omitted.
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// FeeRefKind discriminates status entries.
type FeeRefKind string

const (
	RefFlat            FeeRefKind = "flat"
	RefVehicleCombined FeeRefKind = "vehicle_combined"
	RefAreaCombined    FeeRefKind = "area_combined"
	RefHygieneCombined FeeRefKind = "hygiene_combined"
)

// FeeRef identifies what a status entry is about. FeeID is set only for flat
// entries; combined entries have no single backing policy.
type FeeRef struct {
	Kind  FeeRefKind
	FeeID string
}

func FlatRef(feeID string) FeeRef { return FeeRef{Kind: RefFlat, FeeID: feeID} }

var (
	VehicleCombinedRef = FeeRef{Kind: RefVehicleCombined}
	AreaCombinedRef    = FeeRef{Kind: RefAreaCombined}
	HygieneCombinedRef = FeeRef{Kind: RefHygieneCombined}
)

// IsCombined reports whether the ref aggregates several fee codes.
func (r FeeRef) IsCombined() bool { return r.Kind != RefFlat }

// EntryID returns the entry identifier: the fee id for flat entries and a
// synthetic, never persisted, id for combined ones.
func (r FeeRef) EntryID(householdID string) string {
	if r.Kind == RefFlat {
		return r.FeeID
	}
	return fmt.Sprintf("%s:%s", r.Kind, householdID)
}

// FeeStatus is the derived state of one fee in one period.
type FeeStatus string

const (
	FeePaid          FeeStatus = "paid"
	FeePending       FeeStatus = "pending"
	FeeOverdue       FeeStatus = "overdue"
	FeeNotApplicable FeeStatus = "not_applicable"
)

// FeeStatusEntry is one row of the household view.
type FeeStatusEntry struct {
	Ref      FeeRef
	ID       string
	Code     string
	Name     string
	Category Category
	Amount   decimal.Decimal

	CurrentPeriod  Period
	PreviousPeriod Period
	CurrentStatus  FeeStatus
	PreviousStatus FeeStatus

	// Summed paid amounts found in each period.
	CurrentPaid  decimal.Decimal
	PreviousPaid decimal.Decimal

	// Combined entries only.
	Codes      []string
	Obligation *Obligation
}

// HouseholdFeeStatus is the aggregated view for one household.
type HouseholdFeeStatus struct {
	HouseholdID string
	AsOf        time.Time
	Entries     []FeeStatusEntry
}

// =============================================================================
// AGGREGATOR
// =============================================================================

// GetHouseholdFeeStatus builds the status view of one household as of Now.
func (e *Engine) GetHouseholdFeeStatus(ctx context.Context, householdID string) (*HouseholdFeeStatus, error) {
	if _, err := e.Store.FindHousehold(ctx, householdID); err != nil {
		return nil, err
	}

	asOf := e.now()
	result := &HouseholdFeeStatus{HouseholdID: householdID, AsOf: asOf, Entries: []FeeStatusEntry{}}

	// 1. Flat fees (mandatory)
	flat, err := e.flatStatuses(ctx, householdID, asOf)
	if err != nil {
		return nil, err
	}
	result.Entries = append(result.Entries, flat...)

	// 2. Optional combined categories
	optional := []struct {
		ref FeeRefKind
		fn  func(context.Context, string, time.Time) (*FeeStatusEntry, error)
	}{
		{RefVehicleCombined, e.vehicleStatus},
		{RefAreaCombined, e.areaStatus},
		{RefHygieneCombined, e.hygieneStatus},
	}
	for _, o := range optional {
		entry, err := o.fn(ctx, householdID, asOf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger().Warn("fee status category omitted", "household_id", householdID, "kind", string(o.ref), "error", err)
			continue
		}
		if entry != nil {
			result.Entries = append(result.Entries, *entry)
		}
	}
	return result, nil
}

func (e *Engine) flatStatuses(ctx context.Context, householdID string, asOf time.Time) ([]FeeStatusEntry, error) {
	policies, err := flatPolicies(ctx, e.Store, e.Registry)
	if err != nil {
		return nil, err
	}
	cur := e.Normalizer.PeriodFor(asOf, e.Registry.Granularity(CategoryFlat))
	prev := cur.Previous()

	entries := make([]FeeStatusEntry, 0, len(policies))
	for _, p := range policies {
		entry := FeeStatusEntry{
			Ref:            FlatRef(p.ID),
			ID:             p.ID,
			Code:           p.Code,
			Name:           p.Name,
			Category:       CategoryFlat,
			Amount:         e.Registry.UnitRate(p),
			CurrentPeriod:  cur,
			PreviousPeriod: prev,
			CurrentStatus:  FeePending,
			CurrentPaid:    decimal.Zero,
			PreviousPaid:   decimal.Zero,
		}

		current, err := e.matcher().FindPayment(ctx, householdID, p.ID, cur, StatusPaid)
		if err != nil {
			return nil, fmt.Errorf("match %s current period: %w", p.Code, err)
		}
		if current != nil {
			entry.CurrentStatus = FeePaid
			entry.CurrentPaid = current.Amount
		}

		previous, err := e.matcher().FindPayment(ctx, householdID, p.ID, prev, StatusPaid)
		if err != nil {
			return nil, fmt.Errorf("match %s previous period: %w", p.Code, err)
		}
		switch {
		case previous != nil:
			entry.PreviousStatus = FeePaid
			entry.PreviousPaid = previous.Amount
		case p.EffectiveStart.Before(prev.End):
			entry.PreviousStatus = FeeOverdue
		default:
			entry.PreviousStatus = FeeNotApplicable
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (e *Engine) vehicleStatus(ctx context.Context, householdID string, asOf time.Time) (*FeeStatusEntry, error) {
	return e.thresholdStatus(ctx, householdID, asOf, CategoryVehicle, VehicleCombinedRef, "Parking fees")
}

func (e *Engine) areaStatus(ctx context.Context, householdID string, asOf time.Time) (*FeeStatusEntry, error) {
	return e.thresholdStatus(ctx, householdID, asOf, CategoryArea, AreaCombinedRef, "Area fees")
}

// thresholdStatus judges a combined category by whether the paid amounts of
// its codes reach the computed obligation.
func (e *Engine) thresholdStatus(ctx context.Context, householdID string, asOf time.Time, cat Category, ref FeeRef, name string) (*FeeStatusEntry, error) {
	obligation, err := e.CalculateForHousehold(ctx, cat, householdID)
	if err != nil {
		return nil, err
	}
	if !obligation.TotalAmount.IsPositive() {
		return nil, nil
	}

	cur := e.Normalizer.PeriodFor(asOf, e.Registry.Granularity(cat))
	prev := cur.Previous()
	feeIDs, codes := lineFees(obligation)

	curSum, err := e.matcher().FindPaymentsSum(ctx, householdID, feeIDs, cur, StatusPaid)
	if err != nil {
		return nil, err
	}
	prevSum, err := e.matcher().FindPaymentsSum(ctx, householdID, feeIDs, prev, StatusPaid)
	if err != nil {
		return nil, err
	}

	entry := combinedEntry(householdID, ref, cat, name, codes, obligation, cur, prev)
	entry.CurrentPaid = curSum.Total
	entry.PreviousPaid = prevSum.Total
	if curSum.Covers(obligation.TotalAmount) {
		entry.CurrentStatus = FeePaid
	}
	if prevSum.Covers(obligation.TotalAmount) {
		entry.PreviousStatus = FeePaid
	}
	return &entry, nil
}

// hygieneStatus judges the yearly occupancy fee by existence: every code of
// the obligation needs a paid payment in the year.
func (e *Engine) hygieneStatus(ctx context.Context, householdID string, asOf time.Time) (*FeeStatusEntry, error) {
	obligation, err := e.CalculateForHousehold(ctx, CategoryOccupancy, householdID)
	if err != nil {
		return nil, err
	}
	if !obligation.TotalAmount.IsPositive() {
		return nil, nil
	}

	cur := e.Normalizer.PeriodFor(asOf, e.Registry.Granularity(CategoryOccupancy))
	prev := cur.Previous()
	feeIDs, codes := lineFees(obligation)

	entry := combinedEntry(householdID, HygieneCombinedRef, CategoryOccupancy, "Hygiene fee", codes, obligation, cur, prev)
	curPaid, curAll, err := e.paidForEach(ctx, householdID, feeIDs, cur)
	if err != nil {
		return nil, err
	}
	prevPaid, prevAll, err := e.paidForEach(ctx, householdID, feeIDs, prev)
	if err != nil {
		return nil, err
	}
	entry.CurrentPaid, entry.PreviousPaid = curPaid, prevPaid
	if curAll {
		entry.CurrentStatus = FeePaid
	}
	if prevAll {
		entry.PreviousStatus = FeePaid
	}
	return &entry, nil
}

func (e *Engine) paidForEach(ctx context.Context, householdID string, feeIDs []string, period Period) (decimal.Decimal, bool, error) {
	total := decimal.Zero
	all := len(feeIDs) > 0
	for _, id := range feeIDs {
		p, err := e.matcher().FindPayment(ctx, householdID, id, period, StatusPaid)
		if err != nil {
			return total, false, err
		}
		if p == nil {
			all = false
			continue
		}
		total = total.Add(p.Amount)
	}
	return total, all, nil
}

func combinedEntry(householdID string, ref FeeRef, cat Category, name string, codes []string, o Obligation, cur, prev Period) FeeStatusEntry {
	return FeeStatusEntry{
		Ref:            ref,
		ID:             ref.EntryID(householdID),
		Code:           string(ref.Kind),
		Name:           name,
		Category:       cat,
		Amount:         o.TotalAmount,
		CurrentPeriod:  cur,
		PreviousPeriod: prev,
		CurrentStatus:  FeePending,
		PreviousStatus: FeeOverdue,
		CurrentPaid:    decimal.Zero,
		PreviousPaid:   decimal.Zero,
		Codes:          codes,
		Obligation:     &o,
	}
}

func lineFees(o Obligation) (ids, codes []string) {
	for _, item := range o.LineItems {
		ids = append(ids, item.FeeID)
		codes = append(codes, item.FeeCode)
	}
	return ids, codes
}
