/*
Package factory provides JSON to Go fee registry conversion.

PURPOSE:
  Converts a JSON fee schedule into a billing.Registry and the FeePolicy
  records that back it. Rates, vehicle mappings and billing cycles change
  without a code change: operators edit the JSON, the factory builds the
  Go structs.

JSON SCHEMA:
  {
    "default_vehicle_code": "PARKING_OTHER",
    "vehicle_mappings": {"motorbike": "PARKING_MOTORBIKE", "car": "PARKING_CAR"},
    "granularity": {"occupancy": "yearly"},
    "fees": [
      {
        "id": "fee-service",
        "code": "SERVICE_FEE",
        "name": "Service fee",
        "category": "area",
        "rate": "5000",
        "effective_start": "2024-01-01"
      },
      {
        "code": "HYGIENE_FEE",
        "category": "occupancy",
        "rate": 6000,
        "rate_multiplier": 12
      }
    ]
  }

KEY FEATURES:
  - Validates categories, codes, rates and vehicle categories
  - Sets defaults: id "fee-<code>", active true, rate multiplier 1
  - Rate accepts a JSON number or string, parsed as an exact decimal
  - Effective start dates are interpreted in the factory's location

USAGE:
  f := factory.NewPolicyFactory(loc)
  registry, policies, err := f.ParseRegistry(factory.DefaultRegistryJSON)
  err = factory.SeedPolicies(ctx, store, policies)

SEE ALSO:
  - billing/registry.go: Registry type definition
*/
package factory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/fee-engine/billing"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RegistryJSON is the JSON representation of a fee schedule.
type RegistryJSON struct {
	DefaultVehicleCode string            `json:"default_vehicle_code,omitempty"`
	VehicleMappings    map[string]string `json:"vehicle_mappings,omitempty"`
	Granularity        map[string]string `json:"granularity,omitempty"`
	Fees               []FeeJSON         `json:"fees"`
}

// FeeJSON represents one fee policy.
type FeeJSON struct {
	ID             string          `json:"id,omitempty"`
	Code           string          `json:"code"`
	Name           string          `json:"name,omitempty"`
	Category       string          `json:"category"` // flat, area, vehicle, occupancy
	Rate           decimal.Decimal `json:"rate"`
	RateMultiplier int64           `json:"rate_multiplier,omitempty"`
	Active         *bool           `json:"active,omitempty"` // default true
	EffectiveStart string          `json:"effective_start,omitempty"`
}

const dateLayout = "2006-01-02"

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts JSON fee schedules to registries and policies.
type PolicyFactory struct {
	loc *time.Location
}

// NewPolicyFactory creates a factory interpreting dates in loc (nil = UTC).
func NewPolicyFactory(loc *time.Location) *PolicyFactory {
	if loc == nil {
		loc = time.UTC
	}
	return &PolicyFactory{loc: loc}
}

// ParseRegistry parses a JSON string into a Registry and its fee policies.
func (f *PolicyFactory) ParseRegistry(jsonStr string) (*billing.Registry, []billing.FeePolicy, error) {
	var rj RegistryJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return nil, nil, fmt.Errorf("failed to parse registry JSON: %w", err)
	}
	return f.FromJSON(rj)
}

// LoadFile reads a JSON fee schedule from path. An empty path loads the
// built-in default.
func (f *PolicyFactory) LoadFile(path string) (*billing.Registry, []billing.FeePolicy, error) {
	if path == "" {
		return f.ParseRegistry(DefaultRegistryJSON)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read registry file: %w", err)
	}
	return f.ParseRegistry(string(data))
}

// FromJSON converts RegistryJSON to a Registry and FeePolicy slice. Every
// problem found is reported in one joined error.
func (f *PolicyFactory) FromJSON(rj RegistryJSON) (*billing.Registry, []billing.FeePolicy, error) {
	registry := billing.NewRegistry()
	var errs []error

	for cat, g := range rj.Granularity {
		c, err := billing.ParseCategory(cat)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		gran, err := parseGranularity(g)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		registry.SetGranularity(c, gran)
	}

	seen := make(map[string]bool)
	policies := make([]billing.FeePolicy, 0, len(rj.Fees))
	for i, fj := range rj.Fees {
		policy, entry, err := f.parseFee(fj)
		if err != nil {
			errs = append(errs, fmt.Errorf("fees[%d]: %w", i, err))
			continue
		}
		if seen[policy.Code] {
			errs = append(errs, fmt.Errorf("fees[%d]: duplicate code %s", i, policy.Code))
			continue
		}
		seen[policy.Code] = true
		registry.Register(entry)
		policies = append(policies, policy)
	}

	for cat, code := range rj.VehicleMappings {
		vc := billing.VehicleCategory(cat)
		if !vc.Valid() {
			errs = append(errs, fmt.Errorf("vehicle_mappings: unknown vehicle category %q", cat))
			continue
		}
		if err := checkVehicleCode(registry, code); err != nil {
			errs = append(errs, fmt.Errorf("vehicle_mappings[%s]: %w", cat, err))
			continue
		}
		registry.MapVehicle(vc, code)
	}

	if rj.DefaultVehicleCode != "" {
		if err := checkVehicleCode(registry, rj.DefaultVehicleCode); err != nil {
			errs = append(errs, fmt.Errorf("default_vehicle_code: %w", err))
		} else {
			registry.SetDefaultVehicleCode(rj.DefaultVehicleCode)
		}
	}

	if len(errs) > 0 {
		return nil, nil, errors.Join(errs...)
	}
	return registry, policies, nil
}

func (f *PolicyFactory) parseFee(fj FeeJSON) (billing.FeePolicy, billing.FeeEntry, error) {
	code := strings.TrimSpace(fj.Code)
	if code == "" {
		return billing.FeePolicy{}, billing.FeeEntry{}, fmt.Errorf("code is required")
	}
	cat, err := billing.ParseCategory(fj.Category)
	if err != nil {
		return billing.FeePolicy{}, billing.FeeEntry{}, err
	}
	if fj.Rate.IsNegative() {
		return billing.FeePolicy{}, billing.FeeEntry{}, fmt.Errorf("%s: rate must not be negative", code)
	}

	policy := billing.FeePolicy{
		ID:       fj.ID,
		Code:     code,
		Name:     fj.Name,
		Category: cat,
		Rate:     fj.Rate,
		Active:   fj.Active == nil || *fj.Active,
	}
	if policy.ID == "" {
		policy.ID = "fee-" + strings.ToLower(strings.ReplaceAll(code, "_", "-"))
	}
	if policy.Name == "" {
		policy.Name = code
	}
	if fj.EffectiveStart != "" {
		start, err := time.ParseInLocation(dateLayout, fj.EffectiveStart, f.loc)
		if err != nil {
			return billing.FeePolicy{}, billing.FeeEntry{}, fmt.Errorf("%s: invalid effective_start: %w", code, err)
		}
		policy.EffectiveStart = start
	}

	entry := billing.FeeEntry{Code: code, Category: cat}
	switch {
	case fj.RateMultiplier < 0:
		return billing.FeePolicy{}, billing.FeeEntry{}, fmt.Errorf("%s: rate_multiplier must be positive", code)
	case fj.RateMultiplier > 1:
		entry.Resolve = billing.ScaledRate(fj.RateMultiplier)
	}
	return policy, entry, nil
}

func checkVehicleCode(r *billing.Registry, code string) error {
	e, ok := r.Lookup(code)
	if !ok {
		return fmt.Errorf("fee code %s is not defined", code)
	}
	if e.Category != billing.CategoryVehicle {
		return fmt.Errorf("fee code %s is %s, not vehicle", code, e.Category)
	}
	return nil
}

func parseGranularity(s string) (billing.Granularity, error) {
	switch billing.Granularity(s) {
	case billing.Monthly, billing.Yearly:
		return billing.Granularity(s), nil
	}
	return "", fmt.Errorf("unknown granularity %q", s)
}

// =============================================================================
// SEEDING
// =============================================================================

// PolicySaver persists fee policies.
type PolicySaver interface {
	SavePolicy(ctx context.Context, p billing.FeePolicy) error
}

// SeedPolicies saves every policy, stopping at the first failure.
func SeedPolicies(ctx context.Context, store PolicySaver, policies []billing.FeePolicy) error {
	for _, p := range policies {
		if err := store.SavePolicy(ctx, p); err != nil {
			return fmt.Errorf("failed to seed policy %s: %w", p.Code, err)
		}
	}
	return nil
}

// =============================================================================
// DEFAULT SCHEDULE
// =============================================================================

// DefaultRegistryJSON is the built-in fee schedule of the property.
const DefaultRegistryJSON = `{
  "default_vehicle_code": "PARKING_OTHER",
  "vehicle_mappings": {
    "motorbike": "PARKING_MOTORBIKE",
    "car": "PARKING_CAR",
    "bicycle": "PARKING_OTHER",
    "electric_bike": "PARKING_OTHER"
  },
  "granularity": {"occupancy": "yearly"},
  "fees": [
    {"id": "fee-service", "code": "SERVICE_FEE", "name": "Service fee", "category": "area", "rate": "5000"},
    {"id": "fee-management", "code": "MANAGEMENT_FEE", "name": "Management fee", "category": "area", "rate": "7000"},
    {"id": "fee-parking-motorbike", "code": "PARKING_MOTORBIKE", "name": "Motorbike parking", "category": "vehicle", "rate": "100000"},
    {"id": "fee-parking-car", "code": "PARKING_CAR", "name": "Car parking", "category": "vehicle", "rate": "1200000"},
    {"id": "fee-parking-other", "code": "PARKING_OTHER", "name": "Other vehicle parking", "category": "vehicle", "rate": "50000"},
    {"id": "fee-hygiene", "code": "HYGIENE_FEE", "name": "Hygiene fee", "category": "occupancy", "rate": "6000", "rate_multiplier": 12}
  ]
}`
