/*
registry.go - Fee policy registry

PURPOSE:
  Maps fee codes to their calculation category and rate resolver, and maps
  vehicle categories to the parking fee code that bills them. Calculators and
  the matcher consult the registry instead of hardcoded tables, so adding a
  fee category or remapping a vehicle category is a configuration change.

HOW IT WORKS:
  1. factory.ParseRegistry (or DefaultRegistry) builds a Registry
  2. The Engine receives it by injection
  3. Calculators ask for codes by category and resolve unit rates

VEHICLE FALLBACK:
  Vehicle categories without a dedicated mapping bill at the default vehicle
  code ("other"). The default registry maps bicycle and electric_bike to
  PARKING_OTHER explicitly, so both share one rate.
*/
package billing

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// Default fee codes used by the built-in registry and seed data.
const (
	CodeServiceFee       = "SERVICE_FEE"
	CodeManagementFee    = "MANAGEMENT_FEE"
	CodeParkingMotorbike = "PARKING_MOTORBIKE"
	CodeParkingCar       = "PARKING_CAR"
	CodeParkingOther     = "PARKING_OTHER"
	CodeHygieneFee       = "HYGIENE_FEE"
)

// RateResolver derives the unit rate applied per billing cycle from a policy.
type RateResolver func(policy FeePolicy) decimal.Decimal

// PolicyRate bills the policy rate as is.
func PolicyRate(policy FeePolicy) decimal.Decimal {
	return policy.Rate
}

// ScaledRate bills the policy rate times n, e.g. a monthly rate over a year.
func ScaledRate(n int64) RateResolver {
	factor := decimal.NewFromInt(n)
	return func(policy FeePolicy) decimal.Decimal {
		return policy.Rate.Mul(factor)
	}
}

// FeeEntry is the registry record for one fee code.
type FeeEntry struct {
	Code     string
	Category Category
	Resolve  RateResolver
}

// =============================================================================
// REGISTRY
// =============================================================================

type Registry struct {
	mu                 sync.RWMutex
	entries            map[string]FeeEntry
	vehicleCodes       map[VehicleCategory]string
	defaultVehicleCode string
	granularity        map[Category]Granularity
}

// NewRegistry returns an empty registry in which every category bills monthly
// except occupancy, which bills yearly.
func NewRegistry() *Registry {
	return &Registry{
		entries:      make(map[string]FeeEntry),
		vehicleCodes: make(map[VehicleCategory]string),
		granularity: map[Category]Granularity{
			CategoryFlat:      Monthly,
			CategoryArea:      Monthly,
			CategoryVehicle:   Monthly,
			CategoryOccupancy: Yearly,
		},
	}
}

// DefaultRegistry returns the built-in property mapping.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(FeeEntry{Code: CodeServiceFee, Category: CategoryArea})
	r.Register(FeeEntry{Code: CodeManagementFee, Category: CategoryArea})
	r.Register(FeeEntry{Code: CodeParkingMotorbike, Category: CategoryVehicle})
	r.Register(FeeEntry{Code: CodeParkingCar, Category: CategoryVehicle})
	r.Register(FeeEntry{Code: CodeParkingOther, Category: CategoryVehicle})
	r.Register(FeeEntry{Code: CodeHygieneFee, Category: CategoryOccupancy, Resolve: ScaledRate(12)})

	r.MapVehicle(VehicleMotorbike, CodeParkingMotorbike)
	r.MapVehicle(VehicleCar, CodeParkingCar)
	r.MapVehicle(VehicleBicycle, CodeParkingOther)
	r.MapVehicle(VehicleElectricBike, CodeParkingOther)
	r.SetDefaultVehicleCode(CodeParkingOther)
	return r
}

// Register adds or replaces a fee code. A nil resolver bills the policy rate.
func (r *Registry) Register(e FeeEntry) {
	if e.Resolve == nil {
		e.Resolve = PolicyRate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.Code] = e
}

// MapVehicle bills vehicles of cat under code.
func (r *Registry) MapVehicle(cat VehicleCategory, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vehicleCodes[cat] = code
}

// SetDefaultVehicleCode sets the code for vehicle categories without a mapping.
func (r *Registry) SetDefaultVehicleCode(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultVehicleCode = code
}

// SetGranularity overrides the billing cycle of a category.
func (r *Registry) SetGranularity(cat Category, g Granularity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.granularity[cat] = g
}

// Lookup returns the entry for code.
func (r *Registry) Lookup(code string) (FeeEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[code]
	return e, ok
}

// VehicleFeeCode returns the fee code billing cat, falling back to the default.
func (r *Registry) VehicleFeeCode(cat VehicleCategory) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if code, ok := r.vehicleCodes[cat]; ok {
		return code
	}
	return r.defaultVehicleCode
}

// DefaultVehicleCode returns the fallback vehicle fee code.
func (r *Registry) DefaultVehicleCode() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultVehicleCode
}

// Codes returns the registered codes of a category, sorted. For the vehicle
// category the default vehicle code is always included.
func (r *Registry) Codes(cat Category) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var codes []string
	for code, e := range r.entries {
		if e.Category == cat && !seen[code] {
			seen[code] = true
			codes = append(codes, code)
		}
	}
	if cat == CategoryVehicle {
		for _, code := range r.vehicleCodes {
			if !seen[code] {
				seen[code] = true
				codes = append(codes, code)
			}
		}
		if r.defaultVehicleCode != "" && !seen[r.defaultVehicleCode] {
			codes = append(codes, r.defaultVehicleCode)
		}
	}
	sort.Strings(codes)
	return codes
}

// CategoryOf returns the registered category of a policy, or the policy's own
// category when its code is not registered.
func (r *Registry) CategoryOf(p FeePolicy) Category {
	if e, ok := r.Lookup(p.Code); ok {
		return e.Category
	}
	return p.Category
}

// UnitRate resolves the per-cycle unit rate of a policy.
func (r *Registry) UnitRate(p FeePolicy) decimal.Decimal {
	if e, ok := r.Lookup(p.Code); ok {
		return e.Resolve(p)
	}
	return p.Rate
}

// Granularity returns the billing cycle of a category.
func (r *Registry) Granularity(cat Category) Granularity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if g, ok := r.granularity[cat]; ok {
		return g
	}
	return Monthly
}
