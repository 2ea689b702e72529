/*
Package billing provides the fee computation and payment-period reconciliation engine.

PURPOSE:
  For each household of a residential property the engine computes what is
  owed under several billing policies (flat per-cycle fees, per-area fees,
  per-vehicle-category fees and the per-resident yearly hygiene fee), matches
  those obligations against recorded payments, and derives a paid / pending /
  overdue status per fee per billing period.

KEY CONCEPTS IN THIS FILE (types.go):
  - Household, Resident, Vehicle: roster state read from collaborator stores
  - FeePolicy: a billable fee with a code, category and rate
  - Payment: a recorded (or generated pending) payment for one fee and period
  - Obligation: a computed, never persisted, amount owed

DESIGN PRINCIPLES:
  1. Precision: money, rates and areas use decimal.Decimal, amount = qty x rate exactly
  2. Derived status: paid/overdue is computed at read time, never stored
  3. No caching: every call recomputes from current store state

SEE ALSO:
  - period.go: period canonicalization and half-open intervals
  - calculator.go: obligation calculators
  - matcher.go: two-stage payment matching
  - generator.go: bulk pending-payment generation
  - status.go: household fee status aggregation
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ROSTER
// =============================================================================

// Household is a billable unit of the property.
// Area is nullable: a missing area yields a zero area obligation.
type Household struct {
	ID     string
	Code   string // e.g. "A-1203"
	Owner  string
	Area   decimal.NullDecimal // square metres, must be >= 0 when set
	Active bool
}

// AreaOrZero returns the household area, treating a missing area as zero.
func (h Household) AreaOrZero() decimal.Decimal {
	if !h.Area.Valid {
		return decimal.Zero
	}
	return h.Area.Decimal
}

// Validate rejects a negative area. A missing area is valid.
func (h Household) Validate() error {
	if h.ID == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if h.Area.Valid && h.Area.Decimal.IsNegative() {
		return &ValidationError{Field: "area", Value: h.Area.Decimal.String(), Reason: "must not be negative", Err: ErrInvalidArea}
	}
	return nil
}

type Resident struct {
	ID          string
	HouseholdID string
	Name        string
	Active      bool
}

// VehicleCategory enumerates the kinds of vehicles a household can register.
type VehicleCategory string

const (
	VehicleMotorbike    VehicleCategory = "motorbike"
	VehicleCar          VehicleCategory = "car"
	VehicleBicycle      VehicleCategory = "bicycle"
	VehicleElectricBike VehicleCategory = "electric_bike"
)

// VehicleCategories lists every known category in display order.
var VehicleCategories = []VehicleCategory{VehicleMotorbike, VehicleCar, VehicleBicycle, VehicleElectricBike}

// Valid reports whether c is one of the known categories.
func (c VehicleCategory) Valid() bool {
	for _, known := range VehicleCategories {
		if c == known {
			return true
		}
	}
	return false
}

// VehicleStatus is the operational status of a registered vehicle.
type VehicleStatus string

const (
	VehicleInUse     VehicleStatus = "in_use"
	VehicleSuspended VehicleStatus = "suspended"
	VehicleRetired   VehicleStatus = "retired"
)

type Vehicle struct {
	ID          string
	HouseholdID string
	Plate       string
	Category    VehicleCategory
	Status      VehicleStatus
	Active      bool
}

// Billable reports whether the vehicle counts towards the parking obligation.
func (v Vehicle) Billable() bool {
	return v.Active && v.Status == VehicleInUse
}

// =============================================================================
// FEE POLICIES
// =============================================================================

// Category determines which calculation rule applies to a fee policy.
type Category string

const (
	CategoryFlat      Category = "flat"
	CategoryArea      Category = "area"
	CategoryVehicle   Category = "vehicle"
	CategoryOccupancy Category = "occupancy"
)

// ParseCategory converts an external string into a Category.
func ParseCategory(s string) (Category, error) {
	switch c := Category(s); c {
	case CategoryFlat, CategoryArea, CategoryVehicle, CategoryOccupancy:
		return c, nil
	}
	return "", &ValidationError{Field: "category", Value: s, Reason: "unknown fee category", Err: ErrUnknownCategory}
}

// FeePolicy is a billable fee. Rate is expressed in currency per unit per
// billing cycle of the category (per month for occupancy, which the registry
// then scales to the yearly cycle).
type FeePolicy struct {
	ID             string
	Code           string
	Name           string
	Category       Category
	Rate           decimal.Decimal
	Active         bool
	EffectiveStart time.Time
}

// =============================================================================
// PAYMENTS
// =============================================================================

type PaymentStatus string

const (
	StatusPaid    PaymentStatus = "paid"
	StatusPending PaymentStatus = "pending"
	StatusOverdue PaymentStatus = "overdue"
)

// Payment records money owed or received for one fee, household and period.
// Period is nil on legacy records, which are matched by PaymentDate instead.
type Payment struct {
	ID          string
	FeeID       string
	HouseholdID string
	Amount      decimal.Decimal
	Period      *time.Time
	Status      PaymentStatus
	PaymentDate time.Time
	Description string

	// Payer metadata; never touched by generation overwrites.
	PayerName string
	PayerNote string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PaymentPatch lists the fields an overwrite may change. Payer metadata is
// deliberately absent.
type PaymentPatch struct {
	Amount      decimal.Decimal
	Status      PaymentStatus
	Description string
	Period      time.Time
}

// Settlement records a received payment onto an existing record, typically a
// pending one written by the generator. Period and fee are kept.
type Settlement struct {
	Amount      decimal.Decimal
	Status      PaymentStatus
	PaymentDate time.Time
	Description string // empty keeps the current description
	PayerName   string
	PayerNote   string
}

// =============================================================================
// OBLIGATIONS
// =============================================================================

// LineItem is one fee's share of an obligation: Amount = Quantity x Rate.
type LineItem struct {
	FeeID       string
	FeeCode     string
	FeeName     string
	Quantity    decimal.Decimal
	Rate        decimal.Decimal
	Amount      decimal.Decimal
	Description string
}

// Obligation is the computed amount a household owes under one category.
type Obligation struct {
	HouseholdID   string
	Category      Category
	TotalQuantity decimal.Decimal
	TotalAmount   decimal.Decimal
	LineItems     []LineItem

	// Vehicle only.
	TotalVehicles int
	ByCategory    []VehicleCount
}

// VehicleCount is the number of billable vehicles of one category.
type VehicleCount struct {
	Category VehicleCategory
	FeeCode  string
	Count    int
	Rate     decimal.Decimal
	Amount   decimal.Decimal
}

// ZeroObligation returns the empty obligation for a category.
func ZeroObligation(householdID string, category Category) Obligation {
	return Obligation{
		HouseholdID:   householdID,
		Category:      category,
		TotalQuantity: decimal.Zero,
		TotalAmount:   decimal.Zero,
		LineItems:     []LineItem{},
	}
}

// IsZero reports whether nothing is owed.
func (o Obligation) IsZero() bool {
	return !o.TotalAmount.IsPositive()
}
