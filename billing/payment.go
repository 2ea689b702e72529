/*
payment.go - Recording payments received from households

PURPOSE:
  The generator writes one pending payment per (household, fee, period).
  When the household later pays, the money must land on that record, not on a
  new one: a second period-tagged row would violate uniqueness, and an undated
  row would be credited by payment date to whatever month it arrived in.

RULES:
  period given, no record for the triple   -> insert
  period given, unpaid record exists        -> settle it in place (id, period kept)
  period given, paid record exists          -> StoreConflictError
  no period                                 -> insert as a date-only record
*/
package billing

import (
	"context"
	"fmt"
)

// RecordOutcome tells how RecordPayment stored a payment.
type RecordOutcome string

const (
	RecordInserted RecordOutcome = "inserted"
	RecordSettled  RecordOutcome = "settled"
)

// RecordPayment stores p. A non-nil period is canonical for p's fee; p.Period
// is overwritten with its start.
func (e *Engine) RecordPayment(ctx context.Context, p Payment, period *Period) (Payment, RecordOutcome, error) {
	if period == nil {
		p.Period = nil
		if err := e.Store.InsertPayment(ctx, p); err != nil {
			return Payment{}, "", err
		}
		return p, RecordInserted, nil
	}

	start := period.Start
	p.Period = &start

	existing, err := e.Store.FindPayments(ctx, PaymentQuery{
		HouseholdID: p.HouseholdID,
		FeeIDs:      []string{p.FeeID},
		Field:       ByPeriod,
		From:        period.Start,
		To:          period.End,
	})
	if err != nil {
		return Payment{}, "", fmt.Errorf("find payment for %s: %w", period.Key(), err)
	}
	if len(existing) == 0 {
		if err := e.Store.InsertPayment(ctx, p); err != nil {
			return Payment{}, "", err
		}
		return p, RecordInserted, nil
	}

	target := existing[0]
	if target.Status == StatusPaid {
		return Payment{}, "", &StoreConflictError{HouseholdID: p.HouseholdID, FeeID: p.FeeID, Period: period.Key()}
	}

	s := Settlement{
		Amount:      p.Amount,
		Status:      p.Status,
		PaymentDate: p.PaymentDate,
		Description: p.Description,
		PayerName:   p.PayerName,
		PayerNote:   p.PayerNote,
	}
	if err := e.Store.SettlePayment(ctx, target.ID, s); err != nil {
		return Payment{}, "", err
	}

	settled := target
	settled.Amount = s.Amount
	settled.Status = s.Status
	settled.PaymentDate = s.PaymentDate
	if s.Description != "" {
		settled.Description = s.Description
	}
	settled.PayerName = s.PayerName
	settled.PayerNote = s.PayerNote
	settled.UpdatedAt = p.UpdatedAt

	e.logger().Info("payment settled",
		"payment_id", settled.ID,
		"household_id", settled.HouseholdID,
		"fee_id", settled.FeeID,
		"period", period.Key(),
		"amount", settled.Amount.String())
	return settled, RecordSettled, nil
}
