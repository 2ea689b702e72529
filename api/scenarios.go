/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
	Provides pre-built scenarios that populate the database with a realistic
	small property: fee schedule, households, residents, vehicles and, for
	some scenarios, historical payments.

AVAILABLE SCENARIOS:
	small-building:   Default fee schedule, three households
	legacy-payments:  small-building plus last month's payments imported
	                  without a billing period (matched by payment date)
	no-policies:      Households only; generation answers 422

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Seed fee policies from the default registry JSON via factory
 3. Create households, residents and vehicles
 4. Optionally add payments

USAGE VIA API:
	POST /api/scenarios/load
	{"scenario_id": "legacy-payments"}

NOTE:
	Scenarios reset the database. Only use in development/demo environments.
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/fee-engine/billing"
	"github.com/warp/fee-engine/factory"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "small-building",
		Name:        "Small Building",
		Description: "Default fee schedule with three households, residents and vehicles",
	},
	{
		ID:          "legacy-payments",
		Name:        "Legacy Payments",
		Description: "Small building with last month's payments imported without a billing period",
	},
	{
		ID:          "no-policies",
		Name:        "No Fee Policies",
		Description: "Households without any fee schedule; generation reports a configuration error",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: h.currentScenario, Name: h.currentScenario})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "small-building":
		load = h.loadSmallBuildingScenario
	case "legacy-payments":
		load = h.loadLegacyPaymentsScenario
	case "no-policies":
		load = h.loadRoster
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadSmallBuildingScenario(ctx context.Context) error {
	_, policies, err := h.Factory.ParseRegistry(factory.DefaultRegistryJSON)
	if err != nil {
		return err
	}
	if err := factory.SeedPolicies(ctx, h.Store, policies); err != nil {
		return err
	}
	return h.loadRoster(ctx)
}

// loadRoster creates the three demo households:
//
//	A-0101  80 m²   3 residents  2 motorbikes
//	A-0102  50 m²   2 residents  1 car, 1 bicycle
//	A-0103  no area 1 resident
func (h *Handler) loadRoster(ctx context.Context) error {
	households := []billing.Household{
		{ID: "hh-a0101", Code: "A-0101", Owner: "Nguyen Van An", Area: decimal.NewNullDecimal(decimal.NewFromInt(80)), Active: true},
		{ID: "hh-a0102", Code: "A-0102", Owner: "Tran Thi Binh", Area: decimal.NewNullDecimal(decimal.NewFromInt(50)), Active: true},
		{ID: "hh-a0103", Code: "A-0103", Owner: "Le Van Cuong", Active: true},
	}
	for _, hh := range households {
		if err := h.Store.SaveHousehold(ctx, hh); err != nil {
			return err
		}
	}

	residents := map[string][]string{
		"hh-a0101": {"Nguyen Van An", "Pham Thi Dung", "Nguyen Minh Em"},
		"hh-a0102": {"Tran Thi Binh", "Vo Van Giang"},
		"hh-a0103": {"Le Van Cuong"},
	}
	for _, hh := range households {
		for i, name := range residents[hh.ID] {
			r := billing.Resident{ID: fmt.Sprintf("%s-r%d", hh.ID, i+1), HouseholdID: hh.ID, Name: name, Active: true}
			if err := h.Store.SaveResident(ctx, r); err != nil {
				return err
			}
		}
	}

	vehicles := []billing.Vehicle{
		{ID: "v-1", HouseholdID: "hh-a0101", Plate: "59A1-123.45", Category: billing.VehicleMotorbike},
		{ID: "v-2", HouseholdID: "hh-a0101", Plate: "59A1-678.90", Category: billing.VehicleMotorbike},
		{ID: "v-3", HouseholdID: "hh-a0102", Plate: "51H-246.80", Category: billing.VehicleCar},
		{ID: "v-4", HouseholdID: "hh-a0102", Category: billing.VehicleBicycle},
	}
	for _, v := range vehicles {
		v.Status, v.Active = billing.VehicleInUse, true
		if err := h.Store.SaveVehicle(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

// loadLegacyPaymentsScenario pays A-0101's area fees for last month the way
// records imported from the previous system look: paid, no billing period.
func (h *Handler) loadLegacyPaymentsScenario(ctx context.Context) error {
	if err := h.loadSmallBuildingScenario(ctx); err != nil {
		return err
	}

	prev := h.Engine.Normalizer.PeriodFor(h.now(), billing.Monthly).Previous()
	paidAt := prev.Start.AddDate(0, 0, 9)
	for _, p := range []struct {
		id, feeID string
		amount    int64
	}{
		{"legacy-1", "fee-service", 400000},
		{"legacy-2", "fee-management", 560000},
	} {
		payment := billing.Payment{
			ID:          p.id,
			FeeID:       p.feeID,
			HouseholdID: "hh-a0101",
			Amount:      decimal.NewFromInt(p.amount),
			Status:      billing.StatusPaid,
			PaymentDate: paidAt,
			Description: "Imported " + prev.Label(),
			PayerName:   "Nguyen Van An",
			CreatedAt:   paidAt,
			UpdatedAt:   paidAt,
		}
		if err := h.Store.InsertPayment(ctx, payment); err != nil {
			return err
		}
	}
	return nil
}
