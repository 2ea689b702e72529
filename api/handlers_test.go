/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Obligations per household and for every household
- Bulk generation (monthly, yearly, idempotent rerun, error statuses)
- Fee status view including legacy payments without a period
- Recording payments, settling generated periods and the uniqueness conflict
- Policies, runs history, health and metrics endpoints

Each test runs the real router over an in-memory SQLite store.
*/
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-engine/billing"
	"github.com/warp/fee-engine/factory"
	"github.com/warp/fee-engine/metrics"
	"github.com/warp/fee-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var ict = time.FixedZone("ICT", 7*60*60)

var june15 = time.Date(2024, time.June, 15, 10, 30, 0, 0, ict)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestHandler(t *testing.T) *Handler {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry, _, err := factory.NewPolicyFactory(ict).ParseRegistry(factory.DefaultRegistryJSON)
	require.NoError(t, err)

	engine := billing.NewEngine(store, registry)
	engine.Normalizer = billing.NewNormalizer(ict)
	engine.Now = func() time.Time { return june15 }
	engine.Logger = quietLogger()
	engine.Sinks = []billing.ReportSink{store}

	h := NewHandler(store, engine)
	h.Logger = quietLogger()
	return h
}

func setupSmallBuilding(t *testing.T) (*Handler, *chi.Mux) {
	t.Helper()
	h := setupTestHandler(t)
	require.NoError(t, h.loadSmallBuildingScenario(t.Context()))
	return h, NewRouter(h, RouterOptions{})
}

func doRequest(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func assertAmount(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.NewFromInt(want).Equal(got), "expected %d, got %s", want, got)
}

// =============================================================================
// OBLIGATIONS
// =============================================================================

func TestGetObligation_Area(t *testing.T) {
	// GIVEN: A-0101 with 80 m² and the default area rates 5,000 and 7,000
	_, router := setupSmallBuilding(t)

	// WHEN: Requesting its area obligation
	rec := doRequest(t, router, http.MethodGet, "/api/households/hh-a0101/obligations/area", nil)

	// THEN: Both area fees are billed on the full area
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	o := decodeBody[ObligationDTO](t, rec)
	assertAmount(t, 960000, o.TotalAmount)
	assertAmount(t, 80, o.TotalQuantity)
	require.Len(t, o.LineItems, 2)
	assert.Equal(t, "MANAGEMENT_FEE", o.LineItems[0].FeeCode)
	assertAmount(t, 560000, o.LineItems[0].Amount)
	assert.Equal(t, "SERVICE_FEE", o.LineItems[1].FeeCode)
	assertAmount(t, 400000, o.LineItems[1].Amount)
}

func TestGetObligation_UnknownHouseholdIsZero(t *testing.T) {
	// GIVEN: No household hh-missing
	_, router := setupSmallBuilding(t)

	// WHEN: Requesting its vehicle obligation
	rec := doRequest(t, router, http.MethodGet, "/api/households/hh-missing/obligations/vehicle", nil)

	// THEN: A zero obligation is returned
	require.Equal(t, http.StatusOK, rec.Code)
	o := decodeBody[ObligationDTO](t, rec)
	assert.True(t, o.TotalAmount.IsZero())
	assert.Empty(t, o.LineItems)
}

func TestGetObligation_BadCategory(t *testing.T) {
	_, router := setupSmallBuilding(t)

	rec := doRequest(t, router, http.MethodGet, "/api/households/hh-a0101/obligations/laundry", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListObligations_Vehicle(t *testing.T) {
	// GIVEN: A-0101 with two motorbikes, A-0102 with a car and a bicycle
	_, router := setupSmallBuilding(t)

	// WHEN: Listing vehicle obligations for every household
	rec := doRequest(t, router, http.MethodGet, "/api/obligations/vehicle", nil)

	// THEN: Each household is billed per mapped parking code, the bicycle at PARKING_OTHER
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[struct {
		Category    string          `json:"category"`
		TotalAmount decimal.Decimal `json:"total_amount"`
		Obligations []ObligationDTO `json:"obligations"`
	}](t, rec)

	assert.Equal(t, "vehicle", resp.Category)
	require.Len(t, resp.Obligations, 3)
	assert.Equal(t, "hh-a0101", resp.Obligations[0].HouseholdID)
	assertAmount(t, 200000, resp.Obligations[0].TotalAmount)
	assert.Equal(t, 2, resp.Obligations[0].TotalVehicles)
	assert.Equal(t, "hh-a0102", resp.Obligations[1].HouseholdID)
	assertAmount(t, 1250000, resp.Obligations[1].TotalAmount)
	assert.True(t, resp.Obligations[2].TotalAmount.IsZero())
	assertAmount(t, 1450000, resp.TotalAmount)
}

// =============================================================================
// GENERATION
// =============================================================================

func TestGeneratePayments_MonthlyIdempotent(t *testing.T) {
	// GIVEN: The small building with no payments
	_, router := setupSmallBuilding(t)

	// WHEN: Generating June 2024
	rec := doRequest(t, router, http.MethodPost, "/api/payments/generate", GenerateRequest{Period: "2024-06"})

	// THEN: One pending payment per billed line item is created
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decodeBody[GenerationReportDTO](t, rec)
	assert.Equal(t, "2024-06-01", first.Period)
	assert.Equal(t, "monthly", first.Granularity)
	assert.Equal(t, 3, first.TotalHouseholds)
	assert.Equal(t, 7, first.Created)
	assert.Equal(t, 0, first.Skipped)
	assert.Equal(t, 0, first.Errors)
	assertAmount(t, 960000+600000+200000+1250000, first.TotalAmount)

	// AND WHEN: Running the same batch again
	rec = doRequest(t, router, http.MethodPost, "/api/payments/generate", GenerateRequest{Period: "2024-06-20"})

	// THEN: Nothing new is created
	require.Equal(t, http.StatusOK, rec.Code)
	second := decodeBody[GenerationReportDTO](t, rec)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 7, second.Skipped)
	for _, line := range second.SkippedPayments {
		assert.Equal(t, "already exists", line.Reason)
	}

	// AND: Both runs are in the history
	rec = doRequest(t, router, http.MethodGet, "/api/generation/runs?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decodeBody[struct {
		Runs []GenerationRunDTO `json:"runs"`
	}](t, rec)
	assert.Len(t, runs.Runs, 2)
}

func TestGeneratePayments_Overwrite(t *testing.T) {
	// GIVEN: June already generated
	_, router := setupSmallBuilding(t)
	rec := doRequest(t, router, http.MethodPost, "/api/payments/generate", GenerateRequest{Period: "2024-06"})
	require.Equal(t, http.StatusOK, rec.Code)

	// WHEN: Regenerating the area category with overwrite
	rec = doRequest(t, router, http.MethodPost, "/api/payments/generate",
		GenerateRequest{Period: "2024-06", Overwrite: true, Categories: []string{"area"}})

	// THEN: The existing area payments are updated in place
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody[GenerationReportDTO](t, rec)
	assert.Equal(t, []string{"area"}, report.Categories)
	assert.Equal(t, 4, report.Created)
	assert.Equal(t, 4, report.Overwritten)
	for _, line := range report.CreatedPayments {
		assert.Equal(t, "updated", line.Action)
	}
}

func TestGenerateYearlyPayments_Hygiene(t *testing.T) {
	// GIVEN: 3, 2 and 1 residents and a hygiene rate of 6,000 per month
	_, router := setupSmallBuilding(t)

	// WHEN: Generating 2024
	rec := doRequest(t, router, http.MethodPost, "/api/payments/generate-yearly", GenerateRequest{Period: "2024"})

	// THEN: Each household pays 72,000 per resident
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody[GenerationReportDTO](t, rec)
	assert.Equal(t, "2024-01-01", report.Period)
	assert.Equal(t, "yearly", report.Granularity)
	require.Equal(t, 3, report.Created)
	assertAmount(t, 216000, report.CreatedPayments[0].Amount)
	assertAmount(t, 144000, report.CreatedPayments[1].Amount)
	assertAmount(t, 72000, report.CreatedPayments[2].Amount)
	assertAmount(t, 432000, report.TotalAmount)
}

func TestGeneratePayments_Errors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"missing period", "/api/payments/generate", GenerateRequest{}, http.StatusBadRequest},
		{"malformed period", "/api/payments/generate", GenerateRequest{Period: "June"}, http.StatusBadRequest},
		{"unknown category", "/api/payments/generate", GenerateRequest{Period: "2024-06", Categories: []string{"laundry"}}, http.StatusBadRequest},
		{"yearly category in monthly batch", "/api/payments/generate", GenerateRequest{Period: "2024-06", Categories: []string{"occupancy"}}, http.StatusBadRequest},
		{"explicit category without policies", "/api/payments/generate", GenerateRequest{Period: "2024-06", Categories: []string{"flat"}}, http.StatusUnprocessableEntity},
		{"invalid body", "/api/payments/generate-yearly", "not an object", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, router := setupSmallBuilding(t)

			rec := doRequest(t, router, http.MethodPost, tt.path, tt.body)

			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			errResp := decodeBody[ErrorResponse](t, rec)
			assert.NotEmpty(t, errResp.Error)
		})
	}
}

func TestGeneratePayments_NoPoliciesScenario(t *testing.T) {
	// GIVEN: The no-policies scenario loaded through the API
	h := setupTestHandler(t)
	router := NewRouter(h, RouterOptions{})
	rec := doRequest(t, router, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "no-policies"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// WHEN: Generating June
	rec = doRequest(t, router, http.MethodPost, "/api/payments/generate", GenerateRequest{Period: "2024-06"})

	// THEN: The configuration problem is reported as 422 and nothing is written
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	n, err := h.Store.CountPayments(t.Context())
	require.NoError(t, err)
	assert.Zero(t, n)
}

// =============================================================================
// FEE STATUS
// =============================================================================

func TestGetFeeStatus_LegacyPayments(t *testing.T) {
	// GIVEN: A-0101 paid May's area fees through imported records without a period
	h := setupTestHandler(t)
	require.NoError(t, h.loadLegacyPaymentsScenario(t.Context()))
	router := NewRouter(h, RouterOptions{})

	// WHEN: Requesting the fee status in June
	rec := doRequest(t, router, http.MethodGet, "/api/households/hh-a0101/fee-status", nil)

	// THEN: Area fees are paid for May by payment date and pending for June
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	status := decodeBody[FeeStatusDTO](t, rec)
	assert.Equal(t, "hh-a0101", status.HouseholdID)

	byKind := make(map[string]FeeStatusEntryDTO)
	for _, e := range status.Entries {
		byKind[e.Kind] = e
	}

	area, ok := byKind["area_combined"]
	require.True(t, ok, "area entry missing")
	assert.Equal(t, "area_combined:hh-a0101", area.ID)
	assert.Equal(t, "2024-06-01", area.CurrentPeriod)
	assert.Equal(t, "2024-05-01", area.PreviousPeriod)
	assert.Equal(t, "pending", area.CurrentStatus)
	assert.Equal(t, "paid", area.PreviousStatus)
	assertAmount(t, 960000, area.PreviousPaid)
	assert.Equal(t, []string{"MANAGEMENT_FEE", "SERVICE_FEE"}, area.Codes)

	vehicle, ok := byKind["vehicle_combined"]
	require.True(t, ok, "vehicle entry missing")
	assert.Equal(t, "overdue", vehicle.PreviousStatus)

	hygiene, ok := byKind["hygiene_combined"]
	require.True(t, ok, "hygiene entry missing")
	assert.Equal(t, "2024-01-01", hygiene.CurrentPeriod)
	assert.Equal(t, "pending", hygiene.CurrentStatus)
}

func TestGetFeeStatus_PaidAfterRecording(t *testing.T) {
	// GIVEN: June generated, then A-0102 pays both parking fees
	_, router := setupSmallBuilding(t)
	rec := doRequest(t, router, http.MethodPost, "/api/payments/generate", GenerateRequest{Period: "2024-06"})
	require.Equal(t, http.StatusOK, rec.Code)

	for _, fee := range []struct {
		id     string
		amount int64
	}{{"fee-parking-car", 1200000}, {"fee-parking-other", 50000}} {
		rec = doRequest(t, router, http.MethodPost, "/api/payments", RecordPaymentRequest{
			ID:          "manual-" + fee.id,
			HouseholdID: "hh-a0102",
			FeeID:       fee.id,
			Amount:      decimal.NewFromInt(fee.amount),
			PaymentDate: "2024-06-12",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	// WHEN: Requesting the fee status
	rec = doRequest(t, router, http.MethodGet, "/api/households/hh-a0102/fee-status", nil)

	// THEN: Parking counts as paid; generated pending payments do not settle area fees
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[FeeStatusDTO](t, rec)
	for _, e := range status.Entries {
		switch e.Kind {
		case "vehicle_combined":
			assert.Equal(t, "paid", e.CurrentStatus)
			assertAmount(t, 1250000, e.CurrentPaid)
		case "area_combined":
			assert.Equal(t, "pending", e.CurrentStatus)
		}
	}
}

func TestGetFeeStatus_UnknownHousehold(t *testing.T) {
	_, router := setupSmallBuilding(t)

	rec := doRequest(t, router, http.MethodGet, "/api/households/hh-missing/fee-status", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestRecordPayment(t *testing.T) {
	// GIVEN: The small building
	h, router := setupSmallBuilding(t)
	req := RecordPaymentRequest{
		HouseholdID: "hh-a0101",
		FeeID:       "fee-service",
		Amount:      decimal.NewFromInt(400000),
		Period:      "2024-06",
		PayerName:   "Nguyen Van An",
	}

	// WHEN: Recording a payment for June
	rec := doRequest(t, router, http.MethodPost, "/api/payments", req)

	// THEN: It is stored as paid with the canonical period
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decodeBody[PaymentDTO](t, rec)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "paid", p.Status)
	require.NotNil(t, p.Period)
	assert.Equal(t, "2024-06-01", *p.Period)

	stored, err := h.Store.GetPayment(t.Context(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, stored.Status)

	// AND WHEN: Recording the same fee and period again
	rec = doRequest(t, router, http.MethodPost, "/api/payments", req)

	// THEN: The uniqueness conflict is a 409
	assert.Equal(t, http.StatusConflict, rec.Code)

	// AND: The history lists the single payment
	rec = doRequest(t, router, http.MethodGet, "/api/households/hh-a0101/payments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]PaymentDTO](t, rec), 1)
}

func TestRecordPayment_LatePaymentSettlesGeneratedPeriod(t *testing.T) {
	// GIVEN: May generated as pending, and now is mid June
	h, router := setupSmallBuilding(t)
	rec := doRequest(t, router, http.MethodPost, "/api/payments/generate", GenerateRequest{Period: "2024-05"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	before, err := h.Store.ListPayments(t.Context(), "hh-a0101")
	require.NoError(t, err)

	// WHEN: A-0101 pays May's area fees on June 10
	for _, fee := range []struct {
		id     string
		amount int64
	}{{"fee-service", 400000}, {"fee-management", 560000}} {
		rec = doRequest(t, router, http.MethodPost, "/api/payments", RecordPaymentRequest{
			HouseholdID: "hh-a0101",
			FeeID:       fee.id,
			Amount:      decimal.NewFromInt(fee.amount),
			Period:      "2024-05",
			PaymentDate: "2024-06-10",
			PayerName:   "Nguyen Van An",
		})

		// THEN: The generated record is settled rather than duplicated
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		p := decodeBody[PaymentDTO](t, rec)
		assert.Equal(t, "paid", p.Status)
		require.NotNil(t, p.Period)
		assert.Equal(t, "2024-05-01", *p.Period)
	}

	after, err := h.Store.ListPayments(t.Context(), "hh-a0101")
	require.NoError(t, err)
	assert.Len(t, after, len(before))

	// AND: May is paid while June is still pending
	rec = doRequest(t, router, http.MethodGet, "/api/households/hh-a0101/fee-status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[FeeStatusDTO](t, rec)
	var seen bool
	for _, e := range status.Entries {
		if e.Kind != "area_combined" {
			continue
		}
		seen = true
		assert.Equal(t, "paid", e.PreviousStatus)
		assert.Equal(t, "pending", e.CurrentStatus)
		assertAmount(t, 960000, e.PreviousPaid)
	}
	assert.True(t, seen)

	// AND WHEN: Paying May's service fee a second time
	rec = doRequest(t, router, http.MethodPost, "/api/payments", RecordPaymentRequest{
		HouseholdID: "hh-a0101",
		FeeID:       "fee-service",
		Amount:      decimal.NewFromInt(400000),
		Period:      "2024-05",
	})

	// THEN: The period is already settled
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRecordPayment_Errors(t *testing.T) {
	tests := []struct {
		name   string
		req    RecordPaymentRequest
		status int
	}{
		{"zero amount", RecordPaymentRequest{HouseholdID: "hh-a0101", FeeID: "fee-service"}, http.StatusBadRequest},
		{"unknown household", RecordPaymentRequest{HouseholdID: "hh-missing", FeeID: "fee-service", Amount: decimal.NewFromInt(1)}, http.StatusNotFound},
		{"unknown fee", RecordPaymentRequest{HouseholdID: "hh-a0101", FeeID: "fee-laundry", Amount: decimal.NewFromInt(1)}, http.StatusNotFound},
		{"bad status", RecordPaymentRequest{HouseholdID: "hh-a0101", FeeID: "fee-service", Amount: decimal.NewFromInt(1), Status: "refunded"}, http.StatusBadRequest},
		{"bad period", RecordPaymentRequest{HouseholdID: "hh-a0101", FeeID: "fee-service", Amount: decimal.NewFromInt(1), Period: "06/2024"}, http.StatusBadRequest},
		{"bad payment date", RecordPaymentRequest{HouseholdID: "hh-a0101", FeeID: "fee-service", Amount: decimal.NewFromInt(1), PaymentDate: "yesterday"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, router := setupSmallBuilding(t)

			rec := doRequest(t, router, http.MethodPost, "/api/payments", tt.req)

			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

// =============================================================================
// HOUSEHOLDS AND POLICIES
// =============================================================================

func TestHouseholdRoster(t *testing.T) {
	_, router := setupSmallBuilding(t)

	// Detail view
	rec := doRequest(t, router, http.MethodGet, "/api/households/hh-a0101", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decodeBody[HouseholdDetailDTO](t, rec)
	assert.Equal(t, "A-0101", detail.Code)
	require.NotNil(t, detail.Area)
	assertAmount(t, 80, *detail.Area)
	assert.Len(t, detail.Residents, 3)
	assert.Len(t, detail.Vehicles, 2)

	// New household with a resident and a vehicle
	area := decimal.NewFromInt(65)
	rec = doRequest(t, router, http.MethodPost, "/api/households", SaveHouseholdRequest{ID: "hh-b0201", Code: "B-0201", Area: &area})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doRequest(t, router, http.MethodPost, "/api/households/hh-b0201/residents", AddResidentRequest{Name: "Dang Thi Hoa"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doRequest(t, router, http.MethodPost, "/api/households/hh-b0201/vehicles", AddVehicleRequest{Plate: "59B2-111.22", Category: "electric_bike"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "in_use", decodeBody[VehicleDTO](t, rec).Status)

	rec = doRequest(t, router, http.MethodGet, "/api/households/hh-b0201/obligations/vehicle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assertAmount(t, 50000, decodeBody[ObligationDTO](t, rec).TotalAmount)

	rec = doRequest(t, router, http.MethodGet, "/api/households", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]HouseholdDTO](t, rec), 4)

	// Validation
	rec = doRequest(t, router, http.MethodPost, "/api/households/hh-b0201/vehicles", AddVehicleRequest{Category: "boat"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doRequest(t, router, http.MethodPost, "/api/households/hh-missing/residents", AddResidentRequest{Name: "Nobody"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doRequest(t, router, http.MethodGet, "/api/households/hh-missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSavePolicy_FlatFee(t *testing.T) {
	// GIVEN: The small building without flat fees
	_, router := setupSmallBuilding(t)

	// WHEN: Adding an elevator fee
	rec := doRequest(t, router, http.MethodPost, "/api/policies", map[string]any{
		"code":     "ELEVATOR_FEE",
		"name":     "Elevator fee",
		"category": "flat",
		"rate":     "20000",
	})

	// THEN: It is stored with a derived id and billed once per household
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	policy := decodeBody[PolicyDTO](t, rec)
	assert.Equal(t, "fee-elevator-fee", policy.ID)
	assert.Equal(t, "flat", policy.Category)

	rec = doRequest(t, router, http.MethodPost, "/api/payments/generate",
		GenerateRequest{Period: "2024-06", Categories: []string{"flat"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody[GenerationReportDTO](t, rec)
	assert.Equal(t, 3, report.Created)
	assertAmount(t, 60000, report.TotalAmount)

	rec = doRequest(t, router, http.MethodGet, "/api/policies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]PolicyDTO](t, rec), 7)
}

func TestSavePolicy_Invalid(t *testing.T) {
	_, router := setupSmallBuilding(t)

	rec := doRequest(t, router, http.MethodPost, "/api/policies", map[string]any{
		"code":     "ELEVATOR_FEE",
		"category": "elevator",
		"rate":     "-1",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// OPERATIONS
// =============================================================================

func TestHealthAndMetrics(t *testing.T) {
	// GIVEN: A router exposing metrics, with the recorder as a report sink
	h := setupTestHandler(t)
	require.NoError(t, h.loadSmallBuildingScenario(t.Context()))
	rec := metrics.NewRecorder()
	h.Engine.Sinks = append(h.Engine.Sinks, rec)
	router := NewRouter(h, RouterOptions{Metrics: rec})

	// WHEN: Calling health and running a batch
	resp := doRequest(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ok", decodeBody[map[string]any](t, resp)["status"])

	resp = doRequest(t, router, http.MethodPost, "/api/payments/generate", GenerateRequest{Period: "2024-06"})
	require.Equal(t, http.StatusOK, resp.Code)

	// THEN: Both HTTP and generation metrics are exposed
	resp = doRequest(t, router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	body := resp.Body.String()
	assert.Contains(t, body, `fee_http_requests_total{method="GET",route="/health",status="200"} 1`)
	assert.Contains(t, body, `fee_generation_runs_total{granularity="monthly"} 1`)
	assert.Contains(t, body, `fee_generation_lines_total{action="created",granularity="monthly"} 7`)
}

func TestListGenerationRuns_BadLimit(t *testing.T) {
	_, router := setupSmallBuilding(t)

	rec := doRequest(t, router, http.MethodGet, "/api/generation/runs?limit=zero", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunSchedulerNow(t *testing.T) {
	// GIVEN: No scheduler configured
	h, router := setupSmallBuilding(t)
	rec := doRequest(t, router, http.MethodPost, "/api/generation/run-now", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// WHEN: A scheduler is attached and triggered in June
	h.Scheduler = NewGenerationScheduler(h.Engine)
	h.Scheduler.Logger = quietLogger()
	rec = doRequest(t, router, http.MethodPost, "/api/generation/run-now", nil)

	// THEN: Only the monthly batch runs
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[struct {
		Reports []GenerationReportDTO `json:"reports"`
	}](t, rec)
	require.Len(t, resp.Reports, 1)
	assert.Equal(t, "monthly", resp.Reports[0].Granularity)
	assert.Equal(t, 7, resp.Reports[0].Created)
}

func TestScenarioEndpoints(t *testing.T) {
	h := setupTestHandler(t)
	router := NewRouter(h, RouterOptions{})

	rec := doRequest(t, router, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ScenarioDTO](t, rec), 3)

	rec = doRequest(t, router, http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))

	rec = doRequest(t, router, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "legacy-payments"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, router, http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "legacy-payments", decodeBody[ScenarioDTO](t, rec).ID)

	rec = doRequest(t, router, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	households, err := h.Store.ListHouseholds(t.Context())
	require.NoError(t, err)
	assert.Empty(t, households)
}
