package billing_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-engine/billing"
	"github.com/warp/fee-engine/billing/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var ict = time.FixedZone("ICT", 7*60*60)

// june15 is the fixed "now" of most tests.
var june15 = time.Date(2024, time.June, 15, 10, 30, 0, 0, ict)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, ict)
}

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func newTestEngine(t *testing.T, s billing.Store) *billing.Engine {
	t.Helper()
	engine := billing.NewEngine(s, billing.DefaultRegistry())
	engine.Normalizer = billing.NewNormalizer(ict)
	engine.Now = func() time.Time { return june15 }
	var seq atomic.Int64
	engine.NewID = func() string { return fmt.Sprintf("pay-%03d", seq.Add(1)) }
	return engine
}

func household(id string, area int64) billing.Household {
	return billing.Household{ID: id, Code: id, Area: decimal.NewNullDecimal(dec(area)), Active: true}
}

func policy(code string, cat billing.Category, rate int64) billing.FeePolicy {
	return billing.FeePolicy{
		ID:             "fee-" + code,
		Code:           code,
		Name:           code,
		Category:       cat,
		Rate:           dec(rate),
		Active:         true,
		EffectiveStart: date(2024, time.January, 1),
	}
}

func mustSave(t *testing.T, m *store.Memory, items ...any) {
	t.Helper()
	ctx := context.Background()
	for _, item := range items {
		var err error
		switch v := item.(type) {
		case billing.Household:
			err = m.SaveHousehold(ctx, v)
		case billing.Resident:
			err = m.SaveResident(ctx, v)
		case billing.Vehicle:
			err = m.SaveVehicle(ctx, v)
		case billing.FeePolicy:
			err = m.SavePolicy(ctx, v)
		case billing.Payment:
			err = m.InsertPayment(ctx, v)
		default:
			t.Fatalf("unsupported fixture %T", item)
		}
		require.NoError(t, err)
	}
}

func residents(householdID string, n int) []any {
	out := make([]any, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, billing.Resident{ID: fmt.Sprintf("%s-r%d", householdID, i), HouseholdID: householdID, Active: true})
	}
	return out
}

func vehicle(id, householdID string, cat billing.VehicleCategory) billing.Vehicle {
	return billing.Vehicle{ID: id, HouseholdID: householdID, Category: cat, Status: billing.VehicleInUse, Active: true}
}

func paidPayment(id, householdID, feeID string, amount int64, period time.Time) billing.Payment {
	return billing.Payment{
		ID:          id,
		FeeID:       feeID,
		HouseholdID: householdID,
		Amount:      dec(amount),
		Period:      &period,
		Status:      billing.StatusPaid,
		PaymentDate: period.AddDate(0, 0, 5),
		CreatedAt:   period.AddDate(0, 0, 5),
	}
}

// standardPolicies is the default property setup.
func standardPolicies() []any {
	return []any{
		policy(billing.CodeServiceFee, billing.CategoryArea, 5000),
		policy(billing.CodeManagementFee, billing.CategoryArea, 7000),
		policy(billing.CodeParkingMotorbike, billing.CategoryVehicle, 100000),
		policy(billing.CodeParkingCar, billing.CategoryVehicle, 1200000),
		policy(billing.CodeParkingOther, billing.CategoryVehicle, 50000),
		policy(billing.CodeHygieneFee, billing.CategoryOccupancy, 6000),
	}
}

// =============================================================================
// FAULTY STORE - injects failures into the memory store
// =============================================================================

type faultyStore struct {
	*store.Memory

	// insertErr, when set, decides per payment whether the insert fails.
	insertErr func(p billing.Payment) error

	vehiclesErr  error
	residentsErr error
	hideExisting bool
}

func (f *faultyStore) InsertPayment(ctx context.Context, p billing.Payment) error {
	if f.insertErr != nil {
		if err := f.insertErr(p); err != nil {
			return err
		}
	}
	return f.Memory.InsertPayment(ctx, p)
}

func (f *faultyStore) FindActiveVehicles(ctx context.Context, householdID string) ([]billing.Vehicle, error) {
	if f.vehiclesErr != nil {
		return nil, f.vehiclesErr
	}
	return f.Memory.FindActiveVehicles(ctx, householdID)
}

func (f *faultyStore) FindActiveResidents(ctx context.Context, householdID string) ([]billing.Resident, error) {
	if f.residentsErr != nil {
		return nil, f.residentsErr
	}
	return f.Memory.FindActiveResidents(ctx, householdID)
}

// FindPayments simulates a concurrent writer: the existence check sees
// nothing, the insert then hits the unique constraint.
func (f *faultyStore) FindPayments(ctx context.Context, q billing.PaymentQuery) ([]billing.Payment, error) {
	if f.hideExisting {
		return nil, nil
	}
	return f.Memory.FindPayments(ctx, q)
}
