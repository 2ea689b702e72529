/*
matcher.go - Two-stage payment matching

PURPOSE:
  Locates the payment(s) recorded for a household and fee within one billing
  period. Payments written by the generator carry a canonical period; older
  records only have a payment date.

STRATEGY:
  1. PeriodRangeStrategy:  period in [start, end)
  2. PaymentDateStrategy:  period absent AND paymentDate in [start, end)

  The second stage only runs when the first finds nothing, and it uses the
  same half-open interval, never a different rounding rule.

DETERMINISTIC PICK:
  Several legacy records can fall in one month. FindPayment returns the one
  with the most recent payment date, then the most recent creation time, then
  the greatest id. Every caller sees the same record.

THRESHOLD MATCHING:
  Combined categories (vehicle, area) are judged by the summed amount of the
  matched payments, not by the existence of one record. FindPaymentsSum
  returns both the matches and their total.
*/
package billing

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// MatchStrategy is one stage of the matcher.
type MatchStrategy interface {
	Name() string
	Find(ctx context.Context, store PaymentStore, householdID string, feeIDs []string, period Period, statuses []PaymentStatus) ([]Payment, error)
}

// PeriodRangeStrategy matches payments by their canonical period.
type PeriodRangeStrategy struct{}

func (PeriodRangeStrategy) Name() string { return "period" }

func (PeriodRangeStrategy) Find(ctx context.Context, store PaymentStore, householdID string, feeIDs []string, period Period, statuses []PaymentStatus) ([]Payment, error) {
	return store.FindPayments(ctx, PaymentQuery{
		HouseholdID: householdID,
		FeeIDs:      feeIDs,
		Field:       ByPeriod,
		From:        period.Start,
		To:          period.End,
		Statuses:    statuses,
	})
}

// PaymentDateStrategy matches legacy payments without a period by payment date.
type PaymentDateStrategy struct{}

func (PaymentDateStrategy) Name() string { return "payment_date" }

func (PaymentDateStrategy) Find(ctx context.Context, store PaymentStore, householdID string, feeIDs []string, period Period, statuses []PaymentStatus) ([]Payment, error) {
	return store.FindPayments(ctx, PaymentQuery{
		HouseholdID: householdID,
		FeeIDs:      feeIDs,
		Field:       ByPaymentDate,
		From:        period.Start,
		To:          period.End,
		Statuses:    statuses,
	})
}

// =============================================================================
// MATCHER
// =============================================================================

type Matcher struct {
	Store      PaymentStore
	Strategies []MatchStrategy
}

// NewMatcher returns the default two-stage matcher.
func NewMatcher(store PaymentStore) *Matcher {
	return &Matcher{
		Store:      store,
		Strategies: []MatchStrategy{PeriodRangeStrategy{}, PaymentDateStrategy{}},
	}
}

// FindPayment returns at most one payment of the fee in period, or nil.
// With statuses empty any status matches.
func (m *Matcher) FindPayment(ctx context.Context, householdID, feeID string, period Period, statuses ...PaymentStatus) (*Payment, error) {
	matches, err := m.find(ctx, householdID, []string{feeID}, period, statuses)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sortMostRecentFirst(matches)
	return &matches[0], nil
}

// MatchSum is the result of a threshold lookup.
type MatchSum struct {
	Payments []Payment
	Total    decimal.Decimal
}

// Covers reports whether the matched total reaches amount.
func (s MatchSum) Covers(amount decimal.Decimal) bool {
	return s.Total.GreaterThanOrEqual(amount)
}

// FindPaymentsSum matches every fee in feeIDs independently, each through the
// two stages, and sums what was found.
func (m *Matcher) FindPaymentsSum(ctx context.Context, householdID string, feeIDs []string, period Period, statuses ...PaymentStatus) (MatchSum, error) {
	sum := MatchSum{Payments: []Payment{}, Total: decimal.Zero}
	for _, feeID := range feeIDs {
		matches, err := m.find(ctx, householdID, []string{feeID}, period, statuses)
		if err != nil {
			return sum, err
		}
		for _, p := range matches {
			sum.Payments = append(sum.Payments, p)
			sum.Total = sum.Total.Add(p.Amount)
		}
	}
	sortMostRecentFirst(sum.Payments)
	return sum, nil
}

// find runs the strategies in order and returns the first non-empty result.
func (m *Matcher) find(ctx context.Context, householdID string, feeIDs []string, period Period, statuses []PaymentStatus) ([]Payment, error) {
	for _, s := range m.Strategies {
		matches, err := s.Find(ctx, m.Store, householdID, feeIDs, period, statuses)
		if err != nil {
			return nil, fmt.Errorf("match payments by %s: %w", s.Name(), err)
		}
		if len(matches) > 0 {
			return matches, nil
		}
	}
	return nil, nil
}

func sortMostRecentFirst(payments []Payment) {
	sort.SliceStable(payments, func(i, j int) bool {
		a, b := payments[i], payments[j]
		if !a.PaymentDate.Equal(b.PaymentDate) {
			return a.PaymentDate.After(b.PaymentDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}
