package billing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-engine/billing"
	"github.com/warp/fee-engine/billing/store"
)

func june2024() billing.GenerateRequest {
	return billing.GenerateRequest{Period: date(2024, 6, 1)}
}

// property seeds three households: 80 m² with 2 motorbikes, 50 m² with a car,
// and 0 m² with nothing.
func property(t *testing.T) *store.Memory {
	m := store.NewMemory()
	mustSave(t, m, standardPolicies()...)
	mustSave(t, m, household("h-1", 80), household("h-2", 50), household("h-3", 0))
	mustSave(t, m,
		vehicle("v-1", "h-1", billing.VehicleMotorbike),
		vehicle("v-2", "h-1", billing.VehicleMotorbike),
		vehicle("v-3", "h-2", billing.VehicleCar),
	)
	mustSave(t, m, residents("h-1", 3)...)
	return m
}

type recordingSink struct {
	mu      sync.Mutex
	reports []*billing.GenerationReport
}

func (s *recordingSink) Record(_ context.Context, r *billing.GenerationReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return nil
}

type failingSink struct{}

func (failingSink) Record(context.Context, *billing.GenerationReport) error {
	return errors.New("broker down")
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestGenerate_AreaScenario_CreatesTwoPendingPayments(t *testing.T) {
	// GIVEN: 80 m², service 5,000/m² and management 7,000/m²
	// WHEN: Generating June 2024
	// THEN: Two pending payments of 400,000 and 560,000 for period 2024-06-01

	m := store.NewMemory()
	mustSave(t, m, standardPolicies()...)
	mustSave(t, m, household("h-1", 80))
	engine := newTestEngine(t, m)

	report, err := engine.Generate(context.Background(), billing.GenerateRequest{Period: date(2024, 6, 1), Categories: []billing.Category{billing.CategoryArea}})
	require.NoError(t, err)

	assert.Equal(t, 1, report.TotalHouseholds)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 0, report.Skipped)
	assert.Equal(t, 0, report.Errors)
	assert.True(t, report.TotalAmount.Equal(dec(960000)))
	assert.Equal(t, "2024-06-01", report.Period.Key())

	payments := m.Payments()
	require.Len(t, payments, 2)
	amounts := map[string]decimal.Decimal{}
	for _, p := range payments {
		assert.Equal(t, billing.StatusPending, p.Status)
		require.NotNil(t, p.Period)
		assert.True(t, p.Period.Equal(date(2024, 6, 1)))
		amounts[p.FeeID] = p.Amount
	}
	assert.True(t, amounts["fee-SERVICE_FEE"].Equal(dec(400000)))
	assert.True(t, amounts["fee-MANAGEMENT_FEE"].Equal(dec(560000)))

	byFee := map[string]billing.GenerationLine{}
	for _, l := range report.CreatedPayments {
		byFee[l.FeeCode] = l
	}
	assert.Equal(t, "SERVICE_FEE 06/2024: 80 m² × 5,000 = 400,000", byFee[billing.CodeServiceFee].Description)
}

func TestGenerate_PeriodIsCanonicalized(t *testing.T) {
	m := property(t)
	engine := newTestEngine(t, m)

	report, err := engine.Generate(context.Background(), billing.GenerateRequest{Period: june15})
	require.NoError(t, err)
	assert.True(t, report.Period.Start.Equal(date(2024, 6, 1)))
	assert.True(t, report.Period.End.Equal(date(2024, 7, 1)))
}

func TestGenerate_MonthlySkipsHygiene_YearlyBillsIt(t *testing.T) {
	m := property(t)
	engine := newTestEngine(t, m)

	monthly, err := engine.Generate(context.Background(), june2024())
	require.NoError(t, err)
	for _, l := range monthly.CreatedPayments {
		assert.NotEqual(t, billing.CodeHygieneFee, l.FeeCode)
	}

	yearly, err := engine.GenerateYearly(context.Background(), billing.GenerateRequest{Period: june15})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", yearly.Period.Key())
	require.Equal(t, 1, yearly.Created)
	assert.True(t, yearly.CreatedPayments[0].Amount.Equal(dec(216000)))
	assert.Equal(t, "h-1", yearly.CreatedPayments[0].HouseholdID)
}

func TestGenerate_MonthlyRejectsYearlyCategory(t *testing.T) {
	engine := newTestEngine(t, property(t))

	_, err := engine.Generate(context.Background(), billing.GenerateRequest{
		Period:     june15,
		Categories: []billing.Category{billing.CategoryOccupancy},
	})
	assert.True(t, billing.IsClientError(err))
}

// =============================================================================
// IDEMPOTENCE & OVERWRITE
// =============================================================================

func TestGenerate_Idempotent(t *testing.T) {
	// GIVEN: A first generation for June
	// WHEN: Generating June again without overwrite
	// THEN: Nothing is created, every line is skipped, the store is unchanged

	m := property(t)
	engine := newTestEngine(t, m)
	ctx := context.Background()

	first, err := engine.Generate(ctx, june2024())
	require.NoError(t, err)
	require.Greater(t, first.Created, 0)
	before := m.Payments()

	second, err := engine.Generate(ctx, june2024())
	require.NoError(t, err)

	assert.Equal(t, 0, second.Created)
	assert.Equal(t, first.Created, second.Skipped)
	assert.Equal(t, 0, second.Errors)
	assert.Equal(t, before, m.Payments())
	for _, l := range second.SkippedPayments {
		assert.Equal(t, "already exists", l.Reason)
		assert.NotEmpty(t, l.PaymentID)
	}
}

func TestGenerate_Overwrite_UpdatesInPlace(t *testing.T) {
	// GIVEN: A paid service-fee payment with payer metadata and a prior generation
	// WHEN: The area changes and June is regenerated with overwrite
	// THEN: Same records, new amounts, status pending, payer metadata kept

	m := property(t)
	start := date(2024, 6, 1)
	mustSave(t, m, billing.Payment{
		ID: "manual-1", FeeID: "fee-SERVICE_FEE", HouseholdID: "h-1", Amount: dec(1),
		Period: &start, Status: billing.StatusPaid, PaymentDate: date(2024, 6, 3),
		PayerName: "Nguyen Van A", PayerNote: "cash",
	})
	engine := newTestEngine(t, m)
	ctx := context.Background()

	_, err := engine.Generate(ctx, june2024())
	require.NoError(t, err)
	count := len(m.Payments())

	mustSave(t, m, household("h-1", 100))
	report, err := engine.Generate(ctx, billing.GenerateRequest{Period: date(2024, 6, 1), Overwrite: true})
	require.NoError(t, err)

	assert.Equal(t, count, len(m.Payments()))
	assert.Equal(t, report.Created, report.Overwritten)
	assert.Equal(t, 0, report.Skipped)

	for _, p := range m.Payments() {
		if p.ID != "manual-1" {
			continue
		}
		assert.True(t, p.Amount.Equal(dec(500000)))
		assert.Equal(t, billing.StatusPending, p.Status)
		assert.Equal(t, "Nguyen Van A", p.PayerName)
		assert.Equal(t, "cash", p.PayerNote)
		assert.Contains(t, p.Description, "100 m²")
		return
	}
	t.Fatal("manual payment disappeared")
}

// =============================================================================
// PARTIAL FAILURE
// =============================================================================

func TestGenerate_OneLineRejected_BatchContinues(t *testing.T) {
	m := property(t)
	boom := errors.New("constraint failed")
	faulty := &faultyStore{Memory: m, insertErr: func(p billing.Payment) error {
		if p.HouseholdID == "h-2" && p.FeeID == "fee-SERVICE_FEE" {
			return boom
		}
		return nil
	}}
	engine := newTestEngine(t, faulty)

	report, err := engine.Generate(context.Background(), june2024())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, report.TotalLineItems, report.Created+report.Skipped+report.Errors)
	assert.Len(t, m.Payments(), report.TotalLineItems-1)
	require.Len(t, report.ErrorLines, 1)
	assert.Equal(t, "h-2", report.ErrorLines[0].HouseholdID)
	assert.Equal(t, billing.CodeServiceFee, report.ErrorLines[0].FeeCode)
	assert.Contains(t, report.ErrorLines[0].Reason, "constraint failed")
}

func TestGenerate_CalculatorFailure_RecordedPerHousehold(t *testing.T) {
	m := property(t)
	engine := newTestEngine(t, &faultyStore{Memory: m, vehiclesErr: errors.New("vehicles table locked")})

	report, err := engine.Generate(context.Background(), june2024())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Errors, "one vehicle error per household")
	for _, l := range report.ErrorLines {
		assert.Equal(t, billing.CategoryVehicle, l.Category)
	}
	// area lines for h-1 and h-2 still created
	assert.Equal(t, 4, report.Created)
}

func TestGenerate_ConcurrentInsertConflict_IsSkipped(t *testing.T) {
	m := property(t)
	ctx := context.Background()
	first, err := newTestEngine(t, m).Generate(ctx, june2024())
	require.NoError(t, err)

	// Existence check blind to the first run's rows: every insert conflicts
	racer := newTestEngine(t, &faultyStore{Memory: m, hideExisting: true})
	racer.NewID = uuid.NewString
	report, err := racer.Generate(ctx, june2024())
	require.NoError(t, err)

	assert.Equal(t, 0, report.Created)
	assert.Equal(t, 0, report.Errors)
	assert.Equal(t, first.Created, report.Skipped)
	for _, l := range report.SkippedPayments {
		assert.Equal(t, "already exists (concurrent insert)", l.Reason)
	}
	assert.Len(t, m.Payments(), first.Created)
}

func TestGenerate_ParallelRuns_NoDuplicates(t *testing.T) {
	m := property(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	reports := make([]*billing.GenerationReport, 4)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			engine := billing.NewEngine(m, billing.DefaultRegistry())
			engine.Normalizer = billing.NewNormalizer(ict)
			r, err := engine.Generate(ctx, june2024())
			assert.NoError(t, err)
			reports[i] = r
		}(i)
	}
	wg.Wait()

	created := 0
	for _, r := range reports {
		require.NotNil(t, r)
		assert.Equal(t, 0, r.Errors)
		created += r.Created
	}
	assert.Equal(t, reports[0].TotalLineItems, created)
	assert.Len(t, m.Payments(), created)
}

// =============================================================================
// CONFIGURATION & VALIDATION
// =============================================================================

func TestGenerate_RequestedCategoryWithoutPolicies_ConfigurationError(t *testing.T) {
	m := store.NewMemory()
	mustSave(t, m, policy(billing.CodeServiceFee, billing.CategoryArea, 5000))
	mustSave(t, m, household("h-1", 80))
	engine := newTestEngine(t, m)

	_, err := engine.Generate(context.Background(), billing.GenerateRequest{
		Period:     june15,
		Categories: []billing.Category{billing.CategoryArea, billing.CategoryVehicle},
	})

	assert.True(t, billing.IsConfiguration(err))
	assert.ErrorIs(t, err, billing.ErrNoFeePolicies)
	assert.Empty(t, m.Payments(), "nothing written before the error")
}

func TestGenerate_NoPoliciesAtAll_ConfigurationError(t *testing.T) {
	m := store.NewMemory()
	mustSave(t, m, household("h-1", 80))
	engine := newTestEngine(t, m)

	_, err := engine.Generate(context.Background(), june2024())
	assert.True(t, billing.IsConfiguration(err))

	_, err = engine.GenerateYearly(context.Background(), june2024())
	assert.True(t, billing.IsConfiguration(err))
}

func TestGenerate_MissingPeriod_ValidationError(t *testing.T) {
	engine := newTestEngine(t, property(t))

	_, err := engine.Generate(context.Background(), billing.GenerateRequest{})
	assert.ErrorIs(t, err, billing.ErrInvalidPeriod)
}

func TestGenerate_PolicyNotYetEffective_NotBilled(t *testing.T) {
	m := store.NewMemory()
	later := policy(billing.CodeManagementFee, billing.CategoryArea, 7000)
	later.EffectiveStart = date(2024, 7, 1)
	mustSave(t, m, policy(billing.CodeServiceFee, billing.CategoryArea, 5000), later)
	mustSave(t, m, household("h-1", 80))
	engine := newTestEngine(t, m)

	june, err := engine.Generate(context.Background(), june2024())
	require.NoError(t, err)
	assert.Equal(t, 1, june.Created)

	july, err := engine.Generate(context.Background(), billing.GenerateRequest{Period: date(2024, 7, 1)})
	require.NoError(t, err)
	assert.Equal(t, 2, july.Created)
}

func TestGenerate_CancelledContext_Propagates(t *testing.T) {
	engine := newTestEngine(t, property(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Generate(ctx, june2024())
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// SINKS
// =============================================================================

func TestGenerate_ReportsReachSinks_FailuresIgnored(t *testing.T) {
	sink := &recordingSink{}
	engine := newTestEngine(t, property(t))
	engine.Sinks = []billing.ReportSink{sink, failingSink{}}

	report, err := engine.Generate(context.Background(), june2024())
	require.NoError(t, err)

	require.Len(t, sink.reports, 1)
	assert.Same(t, report, sink.reports[0])
}

func TestGenerate_QuietSkipsSinksWhenNothingHappened(t *testing.T) {
	sink := &recordingSink{}
	engine := newTestEngine(t, property(t))
	engine.Sinks = []billing.ReportSink{sink}
	req := june2024()
	req.Quiet = true

	first, err := engine.Generate(context.Background(), req)
	require.NoError(t, err)
	require.Positive(t, first.Created)

	second, err := engine.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)

	require.Len(t, sink.reports, 1)
	assert.Same(t, first, sink.reports[0])
}

// =============================================================================
// ZERO-VALUE ENGINE
// =============================================================================

func TestGenerate_EngineLiteralWithoutMatcher(t *testing.T) {
	// GIVEN: An engine built as a literal, leaving Matcher to its default
	m := property(t)
	engine := &billing.Engine{
		Store:      m,
		Registry:   billing.DefaultRegistry(),
		Normalizer: billing.NewNormalizer(ict),
		Workers:    4,
		Now:        func() time.Time { return june15 },
	}

	// WHEN: Four workers generate June, then the status view is read
	report, err := engine.Generate(context.Background(), june2024())

	// THEN: Every line is created exactly once
	require.NoError(t, err)
	assert.Equal(t, 6, report.Created)
	assert.Equal(t, 0, report.Errors)
	assert.Len(t, m.Payments(), 6)
	assert.NotNil(t, engine.Matcher)

	status, err := engine.GetHouseholdFeeStatus(context.Background(), "h-1")
	require.NoError(t, err)
	assert.NotEmpty(t, status.Entries)
}
