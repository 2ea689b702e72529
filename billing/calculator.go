package billing

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// =============================================================================
// CALCULATOR - Roster state to obligation, no knowledge of payments
// =============================================================================

// Calculator computes one category's obligation for a household.
//
// A missing or inactive household, or a driving quantity <= 0, yields the
// zero obligation rather than an error. Only store failures are returned.
type Calculator interface {
	Category() Category
	Calculate(ctx context.Context, householdID string) (Obligation, error)
}

// lookupActive returns the household, or nil when it is missing or inactive.
func lookupActive(ctx context.Context, households HouseholdStore, id string) (*Household, error) {
	h, err := households.FindHousehold(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find household %s: %w", id, err)
	}
	if h == nil || !h.Active {
		return nil, nil
	}
	return h, nil
}

func sortByCode(policies []FeePolicy) {
	sort.Slice(policies, func(i, j int) bool { return policies[i].Code < policies[j].Code })
}

// =============================================================================
// AREA
// =============================================================================

// AreaCalculator bills every active area policy at area x rate.
type AreaCalculator struct {
	Households HouseholdStore
	Policies   FeePolicyStore
	Registry   *Registry
}

func (c *AreaCalculator) Category() Category { return CategoryArea }

func (c *AreaCalculator) Calculate(ctx context.Context, householdID string) (Obligation, error) {
	result := ZeroObligation(householdID, CategoryArea)

	h, err := lookupActive(ctx, c.Households, householdID)
	if err != nil || h == nil {
		return result, err
	}
	area := h.AreaOrZero()
	if !area.IsPositive() {
		return result, nil
	}

	all, err := c.Policies.FindActivePolicies(ctx)
	if err != nil {
		return result, fmt.Errorf("find area policies: %w", err)
	}
	var policies []FeePolicy
	for _, p := range all {
		if c.Registry.CategoryOf(p) == CategoryArea {
			policies = append(policies, p)
		}
	}
	sortByCode(policies)

	result.TotalQuantity = area
	for _, p := range policies {
		rate := c.Registry.UnitRate(p)
		amount := area.Mul(rate)
		result.LineItems = append(result.LineItems, LineItem{
			FeeID:       p.ID,
			FeeCode:     p.Code,
			FeeName:     p.Name,
			Quantity:    area,
			Rate:        rate,
			Amount:      amount,
			Description: fmt.Sprintf("%s m² × %s", area.String(), FormatMoney(rate)),
		})
		result.TotalAmount = result.TotalAmount.Add(amount)
	}
	return result, nil
}

// =============================================================================
// VEHICLE
// =============================================================================

// VehicleCalculator bills billable vehicles per category at the rate of the
// fee code the registry maps that category to.
type VehicleCalculator struct {
	Households HouseholdStore
	Vehicles   VehicleStore
	Policies   FeePolicyStore
	Registry   *Registry
}

func (c *VehicleCalculator) Category() Category { return CategoryVehicle }

func (c *VehicleCalculator) Calculate(ctx context.Context, householdID string) (Obligation, error) {
	result := ZeroObligation(householdID, CategoryVehicle)

	h, err := lookupActive(ctx, c.Households, householdID)
	if err != nil || h == nil {
		return result, err
	}

	vehicles, err := c.Vehicles.FindActiveVehicles(ctx, householdID)
	if err != nil {
		return result, fmt.Errorf("find vehicles of %s: %w", householdID, err)
	}
	counts := make(map[VehicleCategory]int)
	for _, v := range vehicles {
		if v.Billable() {
			counts[v.Category]++
			result.TotalVehicles++
		}
	}
	if result.TotalVehicles == 0 {
		return result, nil
	}

	policies, err := c.Policies.FindActivePolicies(ctx, c.Registry.Codes(CategoryVehicle)...)
	if err != nil {
		return result, fmt.Errorf("find vehicle policies: %w", err)
	}
	byCode := make(map[string]FeePolicy, len(policies))
	for _, p := range policies {
		byCode[p.Code] = p
	}

	lines := make(map[string]*LineItem)
	var lineOrder []string
	for _, cat := range orderedCategories(counts) {
		n := counts[cat]
		policy, ok := byCode[c.Registry.VehicleFeeCode(cat)]
		if !ok {
			policy, ok = byCode[c.Registry.DefaultVehicleCode()]
		}
		if !ok {
			continue
		}

		qty := decimal.NewFromInt(int64(n))
		rate := c.Registry.UnitRate(policy)
		amount := qty.Mul(rate)
		result.ByCategory = append(result.ByCategory, VehicleCount{
			Category: cat,
			FeeCode:  policy.Code,
			Count:    n,
			Rate:     rate,
			Amount:   amount,
		})

		line, exists := lines[policy.Code]
		if !exists {
			line = &LineItem{FeeID: policy.ID, FeeCode: policy.Code, FeeName: policy.Name, Quantity: decimal.Zero, Rate: rate, Amount: decimal.Zero}
			lines[policy.Code] = line
			lineOrder = append(lineOrder, policy.Code)
		}
		line.Quantity = line.Quantity.Add(qty)
		line.Amount = line.Quantity.Mul(rate)
		if line.Description != "" {
			line.Description += ", "
		}
		line.Description += fmt.Sprintf("%d %s × %s", n, cat, FormatMoney(rate))
	}

	sort.Strings(lineOrder)
	result.TotalQuantity = decimal.NewFromInt(int64(result.TotalVehicles))
	for _, code := range lineOrder {
		result.LineItems = append(result.LineItems, *lines[code])
		result.TotalAmount = result.TotalAmount.Add(lines[code].Amount)
	}
	return result, nil
}

// orderedCategories returns known categories first in declaration order, then
// any unknown ones alphabetically.
func orderedCategories(counts map[VehicleCategory]int) []VehicleCategory {
	var out []VehicleCategory
	for _, cat := range VehicleCategories {
		if counts[cat] > 0 {
			out = append(out, cat)
		}
	}
	var unknown []VehicleCategory
	for cat, n := range counts {
		if n > 0 && !cat.Valid() {
			unknown = append(unknown, cat)
		}
	}
	sort.Slice(unknown, func(i, j int) bool { return unknown[i] < unknown[j] })
	return append(out, unknown...)
}

// =============================================================================
// OCCUPANCY (HYGIENE)
// =============================================================================

// OccupancyCalculator bills active residents at the yearly unit rate of each
// occupancy policy. With the default registry that is monthlyRate x 12.
type OccupancyCalculator struct {
	Households HouseholdStore
	Residents  ResidentStore
	Policies   FeePolicyStore
	Registry   *Registry
}

func (c *OccupancyCalculator) Category() Category { return CategoryOccupancy }

func (c *OccupancyCalculator) Calculate(ctx context.Context, householdID string) (Obligation, error) {
	result := ZeroObligation(householdID, CategoryOccupancy)

	h, err := lookupActive(ctx, c.Households, householdID)
	if err != nil || h == nil {
		return result, err
	}

	residents, err := c.Residents.FindActiveResidents(ctx, householdID)
	if err != nil {
		return result, fmt.Errorf("find residents of %s: %w", householdID, err)
	}
	count := 0
	for _, r := range residents {
		if r.Active {
			count++
		}
	}
	if count == 0 {
		return result, nil
	}

	policies, err := c.Policies.FindActivePolicies(ctx, c.Registry.Codes(CategoryOccupancy)...)
	if err != nil {
		return result, fmt.Errorf("find occupancy policies: %w", err)
	}
	sortByCode(policies)

	qty := decimal.NewFromInt(int64(count))
	result.TotalQuantity = qty
	for _, p := range policies {
		rate := c.Registry.UnitRate(p)
		amount := qty.Mul(rate)
		desc := fmt.Sprintf("%d residents × %s", count, FormatMoney(rate))
		if !p.Rate.IsZero() && !rate.Equal(p.Rate) {
			desc = fmt.Sprintf("%d residents × %s × %s months", count, FormatMoney(p.Rate), rate.Div(p.Rate).String())
		}
		result.LineItems = append(result.LineItems, LineItem{
			FeeID:       p.ID,
			FeeCode:     p.Code,
			FeeName:     p.Name,
			Quantity:    qty,
			Rate:        rate,
			Amount:      amount,
			Description: desc,
		})
		result.TotalAmount = result.TotalAmount.Add(amount)
	}
	return result, nil
}

// =============================================================================
// FLAT
// =============================================================================

// FlatCalculator bills each active flat policy once per cycle per household.
type FlatCalculator struct {
	Households HouseholdStore
	Policies   FeePolicyStore
	Registry   *Registry
}

func (c *FlatCalculator) Category() Category { return CategoryFlat }

func (c *FlatCalculator) Calculate(ctx context.Context, householdID string) (Obligation, error) {
	result := ZeroObligation(householdID, CategoryFlat)

	h, err := lookupActive(ctx, c.Households, householdID)
	if err != nil || h == nil {
		return result, err
	}

	policies, err := flatPolicies(ctx, c.Policies, c.Registry)
	if err != nil {
		return result, err
	}

	one := decimal.NewFromInt(1)
	for _, p := range policies {
		rate := c.Registry.UnitRate(p)
		result.LineItems = append(result.LineItems, LineItem{
			FeeID:       p.ID,
			FeeCode:     p.Code,
			FeeName:     p.Name,
			Quantity:    one,
			Rate:        rate,
			Amount:      rate,
			Description: "flat " + FormatMoney(rate),
		})
		result.TotalQuantity = result.TotalQuantity.Add(one)
		result.TotalAmount = result.TotalAmount.Add(rate)
	}
	return result, nil
}

// flatPolicies returns every active policy that is not area, vehicle or
// occupancy, sorted by code.
func flatPolicies(ctx context.Context, store FeePolicyStore, registry *Registry) ([]FeePolicy, error) {
	all, err := store.FindActivePolicies(ctx)
	if err != nil {
		return nil, fmt.Errorf("find flat policies: %w", err)
	}
	var out []FeePolicy
	for _, p := range all {
		if registry.CategoryOf(p) == CategoryFlat {
			out = append(out, p)
		}
	}
	sortByCode(out)
	return out, nil
}

// =============================================================================
// FORMATTING
// =============================================================================

// FormatMoney renders an amount with thousands separators: 1234567 -> "1,234,567".
func FormatMoney(d decimal.Decimal) string {
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Abs()
	}
	s := sign + humanize.BigComma(d.BigInt())
	if frac := d.Sub(d.Truncate(0)); !frac.IsZero() {
		s += strings.TrimPrefix(frac.String(), "0")
	}
	return s
}
