/*
handlers.go - HTTP API handlers for the fee engine

PURPOSE:
  Exposes the billing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to billing.Engine and the store.

ENDPOINTS:
  Households:
    GET    /api/households                              List households
    POST   /api/households                              Create or update household
    GET    /api/households/{id}                         Household details
    POST   /api/households/{id}/residents               Add resident
    POST   /api/households/{id}/vehicles                Register vehicle
    GET    /api/households/{id}/obligations/{category}  Obligation of one category
    GET    /api/households/{id}/fee-status              Paid/pending/overdue view
    GET    /api/households/{id}/payments                Payment history

  Obligations:
    GET    /api/obligations/{category}                  Every active household

  Policies:
    GET    /api/policies                                List fee policies
    POST   /api/policies                                Create or update fee policy

  Payments:
    POST   /api/payments                                Record a payment
    POST   /api/payments/generate                       Monthly bulk generation
    POST   /api/payments/generate-yearly                Yearly bulk generation

  Generation:
    GET    /api/generation/runs                         Run history
    POST   /api/generation/run-now                      Trigger the scheduler

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Household, policy or payment not found
  - 409: Payment uniqueness conflict
  - 422: Configuration error (category without active fee policies)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/fee-engine/billing"
	"github.com/warp/fee-engine/factory"
	"github.com/warp/fee-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Engine    *billing.Engine
	Factory   *factory.PolicyFactory
	Scheduler *GenerationScheduler // optional
	Logger    *slog.Logger

	currentScenario string
}

// NewHandler creates a handler over store and engine.
func NewHandler(store *sqlite.Store, engine *billing.Engine) *Handler {
	return &Handler{
		Store:   store,
		Engine:  engine,
		Factory: factory.NewPolicyFactory(engine.Normalizer.Location),
		Logger:  slog.Default(),
	}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func (h *Handler) location() *time.Location {
	if loc := h.Engine.Normalizer.Location; loc != nil {
		return loc
	}
	return time.Local
}

func (h *Handler) now() time.Time {
	if h.Engine.Now != nil {
		return h.Engine.Now()
	}
	return time.Now()
}

// Health reports liveness and database reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	resp := map[string]any{"status": "ok"}
	if h.Scheduler != nil && h.Scheduler.Enabled {
		resp["scheduler_next_run"] = h.Scheduler.NextRunTime().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HOUSEHOLD HANDLERS
// =============================================================================

// ListHouseholds returns all households, active or not.
func (h *Handler) ListHouseholds(w http.ResponseWriter, r *http.Request) {
	households, err := h.Store.ListHouseholds(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list households", err)
		return
	}
	dtos := make([]HouseholdDTO, len(households))
	for i, hh := range households {
		dtos[i] = toHouseholdDTO(hh)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetHousehold returns one household with its active residents and vehicles.
func (h *Handler) GetHousehold(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hh, err := h.Store.FindHousehold(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, "Failed to get household", err)
		return
	}
	residents, err := h.Store.FindActiveResidents(ctx, hh.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list residents", err)
		return
	}
	vehicles, err := h.Store.FindActiveVehicles(ctx, hh.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list vehicles", err)
		return
	}

	dto := HouseholdDetailDTO{
		HouseholdDTO: toHouseholdDTO(*hh),
		Residents:    make([]ResidentDTO, len(residents)),
		Vehicles:     make([]VehicleDTO, len(vehicles)),
	}
	for i, res := range residents {
		dto.Residents[i] = toResidentDTO(res)
	}
	for i, v := range vehicles {
		dto.Vehicles[i] = toVehicleDTO(v)
	}
	writeJSON(w, http.StatusOK, dto)
}

// SaveHousehold creates or updates a household.
func (h *Handler) SaveHousehold(w http.ResponseWriter, r *http.Request) {
	var req SaveHouseholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	hh := billing.Household{
		ID:     req.ID,
		Code:   req.Code,
		Owner:  req.Owner,
		Active: req.Active == nil || *req.Active,
	}
	if req.Area != nil {
		hh.Area = decimal.NewNullDecimal(*req.Area)
	}
	if err := h.Store.SaveHousehold(r.Context(), hh); err != nil {
		writeEngineError(w, "Failed to save household", err)
		return
	}
	writeJSON(w, http.StatusCreated, toHouseholdDTO(hh))
}

// AddResident adds a resident to a household.
func (h *Handler) AddResident(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	householdID := chi.URLParam(r, "id")
	if _, err := h.Store.FindHousehold(ctx, householdID); err != nil {
		writeEngineError(w, "Failed to add resident", err)
		return
	}

	var req AddResidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	resident := billing.Resident{ID: req.ID, HouseholdID: householdID, Name: req.Name, Active: req.Active == nil || *req.Active}
	if err := h.Store.SaveResident(ctx, resident); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to add resident", err)
		return
	}
	writeJSON(w, http.StatusCreated, toResidentDTO(resident))
}

// AddVehicle registers a vehicle for a household.
func (h *Handler) AddVehicle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	householdID := chi.URLParam(r, "id")
	if _, err := h.Store.FindHousehold(ctx, householdID); err != nil {
		writeEngineError(w, "Failed to add vehicle", err)
		return
	}

	var req AddVehicleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	cat := billing.VehicleCategory(req.Category)
	if !cat.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown vehicle category %q", req.Category), nil)
		return
	}
	status := billing.VehicleStatus(req.Status)
	switch status {
	case "":
		status = billing.VehicleInUse
	case billing.VehicleInUse, billing.VehicleSuspended, billing.VehicleRetired:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown vehicle status %q", req.Status), nil)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	vehicle := billing.Vehicle{
		ID:          req.ID,
		HouseholdID: householdID,
		Plate:       req.Plate,
		Category:    cat,
		Status:      status,
		Active:      req.Active == nil || *req.Active,
	}
	if err := h.Store.SaveVehicle(ctx, vehicle); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to add vehicle", err)
		return
	}
	writeJSON(w, http.StatusCreated, toVehicleDTO(vehicle))
}

// =============================================================================
// OBLIGATION HANDLERS
// =============================================================================

// GetObligation computes one category's obligation for a household.
// GET /api/households/{id}/obligations/{category}
func (h *Handler) GetObligation(w http.ResponseWriter, r *http.Request) {
	cat, err := billing.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		writeEngineError(w, "Invalid category", err)
		return
	}
	o, err := h.Engine.CalculateForHousehold(r.Context(), cat, chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, "Failed to calculate obligation", err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationDTO(o))
}

// ListObligations computes one category's obligation for every active household.
// GET /api/obligations/{category}
func (h *Handler) ListObligations(w http.ResponseWriter, r *http.Request) {
	cat, err := billing.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		writeEngineError(w, "Invalid category", err)
		return
	}
	obligations, err := h.Engine.CalculateForAllHouseholds(r.Context(), cat)
	if err != nil {
		writeEngineError(w, "Failed to calculate obligations", err)
		return
	}

	total := decimal.Zero
	dtos := make([]ObligationDTO, len(obligations))
	for i, o := range obligations {
		dtos[i] = toObligationDTO(o)
		total = total.Add(o.TotalAmount)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"category":     string(cat),
		"total_amount": total,
		"obligations":  dtos,
	})
}

// GetFeeStatus returns the household fee status view.
// GET /api/households/{id}/fee-status
func (h *Handler) GetFeeStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Engine.GetHouseholdFeeStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, "Failed to get fee status", err)
		return
	}
	writeJSON(w, http.StatusOK, toFeeStatusDTO(status, h.location()))
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// ListPolicies returns every fee policy.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.Store.ListPolicies(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list policies", err)
		return
	}
	dtos := make([]PolicyDTO, len(policies))
	for i, p := range policies {
		dtos[i] = toPolicyDTO(p, h.Engine.Registry, h.location())
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SavePolicy creates or updates a fee policy and registers its code.
func (h *Handler) SavePolicy(w http.ResponseWriter, r *http.Request) {
	var req SavePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	registry, policies, err := h.Factory.FromJSON(factory.RegistryJSON{Fees: []factory.FeeJSON{req}})
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid fee policy", err)
		return
	}
	policy := policies[0]
	if err := h.Store.SavePolicy(r.Context(), policy); err != nil {
		writeEngineError(w, "Failed to save policy", err)
		return
	}
	if _, known := h.Engine.Registry.Lookup(policy.Code); !known || req.RateMultiplier > 0 {
		entry, _ := registry.Lookup(policy.Code)
		h.Engine.Registry.Register(entry)
	}

	writeJSON(w, http.StatusCreated, toPolicyDTO(policy, h.Engine.Registry, h.location()))
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// ListPayments returns the payment history of a household, newest first.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	householdID := chi.URLParam(r, "id")
	if _, err := h.Store.FindHousehold(ctx, householdID); err != nil {
		writeEngineError(w, "Failed to list payments", err)
		return
	}
	payments, err := h.Store.ListPayments(ctx, householdID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payments", err)
		return
	}
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p, h.location())
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RecordPayment stores a payment received from a household. With a period,
// an unpaid record already generated for it is settled (200); otherwise a new
// payment is created (201). A period that is already paid answers 409.
// POST /api/payments
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req RecordPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "amount must be positive", nil)
		return
	}

	if _, err := h.Store.FindHousehold(ctx, req.HouseholdID); err != nil {
		writeEngineError(w, "Failed to record payment", err)
		return
	}
	policy, err := h.findPolicy(r, req.FeeID)
	if err != nil {
		writeEngineError(w, "Failed to record payment", err)
		return
	}

	status := billing.PaymentStatus(req.Status)
	switch status {
	case "":
		status = billing.StatusPaid
	case billing.StatusPaid, billing.StatusPending, billing.StatusOverdue:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown payment status %q", req.Status), nil)
		return
	}

	now := h.now()
	paidAt := now
	if req.PaymentDate != "" {
		if paidAt, err = h.parseInstant(req.PaymentDate); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid payment_date", err)
			return
		}
	}

	payment := billing.Payment{
		ID:          req.ID,
		FeeID:       policy.ID,
		HouseholdID: req.HouseholdID,
		Amount:      req.Amount,
		Status:      status,
		PaymentDate: paidAt,
		Description: req.Description,
		PayerName:   req.PayerName,
		PayerNote:   req.PayerNote,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	var period *billing.Period
	if req.Period != "" {
		g := h.Engine.Registry.Granularity(h.Engine.Registry.CategoryOf(policy))
		parsed, err := h.Engine.Normalizer.ParsePeriod(req.Period, g)
		if err != nil {
			writeEngineError(w, "Invalid period", err)
			return
		}
		period = &parsed
	}

	// A pending payment generated for the period is settled in place
	stored, outcome, err := h.Engine.RecordPayment(ctx, payment, period)
	if err != nil {
		writeEngineError(w, "Failed to record payment", err)
		return
	}
	h.logger().Info("payment recorded",
		"payment_id", stored.ID,
		"household_id", stored.HouseholdID,
		"fee_code", policy.Code,
		"outcome", string(outcome),
		"amount", stored.Amount.String())

	code := http.StatusCreated
	if outcome == billing.RecordSettled {
		code = http.StatusOK
	}
	writeJSON(w, code, toPaymentDTO(stored, h.location()))
}

func (h *Handler) findPolicy(r *http.Request, feeID string) (billing.FeePolicy, error) {
	policies, err := h.Store.ListPolicies(r.Context())
	if err != nil {
		return billing.FeePolicy{}, err
	}
	for _, p := range policies {
		if p.ID == feeID {
			return p, nil
		}
	}
	return billing.FeePolicy{}, fmt.Errorf("fee %q: %w", feeID, billing.ErrFeePolicyNotFound)
}

// parseInstant accepts RFC 3339 or a local date.
func (h *Handler) parseInstant(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(time.DateOnly, s, h.location())
}

// GeneratePayments runs a monthly generation batch.
// POST /api/payments/generate
func (h *Handler) GeneratePayments(w http.ResponseWriter, r *http.Request) {
	h.generate(w, r, billing.Monthly)
}

// GenerateYearlyPayments runs a yearly generation batch.
// POST /api/payments/generate-yearly
func (h *Handler) GenerateYearlyPayments(w http.ResponseWriter, r *http.Request) {
	h.generate(w, r, billing.Yearly)
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request, g billing.Granularity) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	greq := billing.GenerateRequest{Overwrite: req.Overwrite}
	if req.Period != "" {
		period, err := h.Engine.Normalizer.ParsePeriod(req.Period, g)
		if err != nil {
			writeEngineError(w, "Invalid period", err)
			return
		}
		greq.Period = period.Start
	}
	for _, c := range req.Categories {
		cat, err := billing.ParseCategory(c)
		if err != nil {
			writeEngineError(w, "Invalid category", err)
			return
		}
		greq.Categories = append(greq.Categories, cat)
	}

	var (
		report *billing.GenerationReport
		err    error
	)
	if g == billing.Yearly {
		report, err = h.Engine.GenerateYearly(r.Context(), greq)
	} else {
		report, err = h.Engine.Generate(r.Context(), greq)
	}
	if err != nil {
		writeEngineError(w, "Failed to generate payments", err)
		return
	}
	writeJSON(w, http.StatusOK, toGenerationReportDTO(report))
}

// =============================================================================
// GENERATION RUN HANDLERS
// =============================================================================

// ListGenerationRuns returns generation history, newest first.
// GET /api/generation/runs?limit=20
func (h *Handler) ListGenerationRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}
	runs, err := h.Store.ListGenerationRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list generation runs", err)
		return
	}
	dtos := make([]GenerationRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toGenerationRunDTO(run, h.location())
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// RunSchedulerNow runs the scheduled generation immediately.
// POST /api/generation/run-now
func (h *Handler) RunSchedulerNow(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "Scheduler not configured", nil)
		return
	}
	reports := h.Scheduler.RunNow(r.Context())
	dtos := make([]GenerationReportDTO, len(reports))
	for i, rep := range reports {
		dtos[i] = toGenerationReportDTO(rep)
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": dtos})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps billing errors to HTTP statuses.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case billing.IsConfiguration(err):
		return http.StatusUnprocessableEntity
	case billing.IsClientError(err):
		return http.StatusBadRequest
	case billing.IsNotFound(err):
		return http.StatusNotFound
	case billing.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
