/*
store.go - Collaborator contracts consumed by the engine

PURPOSE:
  Defines the interface between the fee logic and the data store. Roster
  CRUD (households, residents, vehicles) lives outside the engine; the engine
  only reads it. Payments are the single write target.

KEY INTERFACES:
  HouseholdStore:  active households + lookup by id
  ResidentStore:   active residents of a household
  VehicleStore:    active vehicles of a household
  FeePolicyStore:  active fee policies, optionally filtered by code
  PaymentStore:    range queries, insert, in-place update and settlement

UNIQUENESS CONTRACT:
  PaymentStore MUST enforce uniqueness on (household, fee, period) and report
  violations as ErrDuplicatePayment. That constraint is the only guard against
  two concurrent generations inserting the same line.

IMPLEMENTATIONS:
  - billing/store/memory.go: in-memory, for tests and development
  - store/sqlite/sqlite.go:  SQLite with versioned migrations
*/
package billing

import (
	"context"
	"time"
)

type HouseholdStore interface {
	// FindActiveHouseholds returns every active household ordered by id.
	FindActiveHouseholds(ctx context.Context) ([]Household, error)

	// FindHousehold returns ErrHouseholdNotFound for unknown ids.
	FindHousehold(ctx context.Context, id string) (*Household, error)
}

type ResidentStore interface {
	FindActiveResidents(ctx context.Context, householdID string) ([]Resident, error)
}

type VehicleStore interface {
	FindActiveVehicles(ctx context.Context, householdID string) ([]Vehicle, error)
}

type FeePolicyStore interface {
	// FindActivePolicies returns active policies; when codes is non-empty only
	// policies with one of those codes are returned.
	FindActivePolicies(ctx context.Context, codes ...string) ([]FeePolicy, error)
}

// PaymentField selects which date column a range query filters on.
type PaymentField string

const (
	// ByPeriod filters on the canonical period column.
	ByPeriod PaymentField = "period"
	// ByPaymentDate filters legacy records (no period) on their payment date.
	ByPaymentDate PaymentField = "payment_date"
)

// PaymentQuery selects payments of one household for a set of fees whose
// Field value lies in the half-open interval [From, To).
type PaymentQuery struct {
	HouseholdID string
	FeeIDs      []string
	Field       PaymentField
	From        time.Time
	To          time.Time
	Statuses    []PaymentStatus // empty = any status
}

type PaymentStore interface {
	FindPayments(ctx context.Context, q PaymentQuery) ([]Payment, error)

	// InsertPayment returns ErrDuplicatePayment on a uniqueness violation.
	InsertPayment(ctx context.Context, p Payment) error

	// UpdatePayment applies patch to the payment id in place.
	UpdatePayment(ctx context.Context, id string, patch PaymentPatch) error

	// SettlePayment applies a received payment to the payment id in place.
	SettlePayment(ctx context.Context, id string, s Settlement) error
}

// Store bundles every contract; both shipped implementations satisfy it.
type Store interface {
	HouseholdStore
	ResidentStore
	VehicleStore
	FeePolicyStore
	PaymentStore
}
