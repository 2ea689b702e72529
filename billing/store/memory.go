// Package store provides an in-memory billing.Store.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/fee-engine/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	households map[string]billing.Household
	residents  map[string]billing.Resident
	vehicles   map[string]billing.Vehicle
	policies   map[string]billing.FeePolicy
	payments   map[string]billing.Payment

	// (household, fee, period) -> payment id, the uniqueness guard
	periodIndex map[key]string
}

type key struct {
	HouseholdID string
	FeeID       string
	Period      string
}

func NewMemory() *Memory {
	return &Memory{
		households:  make(map[string]billing.Household),
		residents:   make(map[string]billing.Resident),
		vehicles:    make(map[string]billing.Vehicle),
		policies:    make(map[string]billing.FeePolicy),
		payments:    make(map[string]billing.Payment),
		periodIndex: make(map[key]string),
	}
}

var _ billing.Store = (*Memory)(nil)

func periodKey(p billing.Payment) (key, bool) {
	if p.Period == nil {
		return key{}, false
	}
	return key{HouseholdID: p.HouseholdID, FeeID: p.FeeID, Period: p.Period.UTC().Format(time.RFC3339)}, true
}

// =============================================================================
// ROSTER
// =============================================================================

func (m *Memory) SaveHousehold(_ context.Context, h billing.Household) error {
	if err := h.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.households[h.ID] = h
	return nil
}

func (m *Memory) SaveResident(_ context.Context, r billing.Resident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.residents[r.ID] = r
	return nil
}

func (m *Memory) SaveVehicle(_ context.Context, v billing.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vehicles[v.ID] = v
	return nil
}

func (m *Memory) FindActiveHouseholds(_ context.Context) ([]billing.Household, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []billing.Household
	for _, h := range m.households {
		if h.Active {
			result = append(result, h)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) FindHousehold(_ context.Context, id string) (*billing.Household, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.households[id]
	if !ok {
		return nil, billing.ErrHouseholdNotFound
	}
	return &h, nil
}

func (m *Memory) FindActiveResidents(_ context.Context, householdID string) ([]billing.Resident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []billing.Resident
	for _, r := range m.residents {
		if r.HouseholdID == householdID && r.Active {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) FindActiveVehicles(_ context.Context, householdID string) ([]billing.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []billing.Vehicle
	for _, v := range m.vehicles {
		if v.HouseholdID == householdID && v.Active {
			result = append(result, v)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// =============================================================================
// FEE POLICIES
// =============================================================================

// SavePolicy adds or replaces a policy. Codes are unique.
func (m *Memory) SavePolicy(_ context.Context, p billing.FeePolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.policies {
		if existing.Code == p.Code && id != p.ID {
			return &billing.ValidationError{Field: "code", Value: p.Code, Reason: "already used by another fee policy"}
		}
	}
	m.policies[p.ID] = p
	return nil
}

func (m *Memory) FindActivePolicies(_ context.Context, codes ...string) ([]billing.FeePolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := make(map[string]bool, len(codes))
	for _, c := range codes {
		wanted[c] = true
	}
	var result []billing.FeePolicy
	for _, p := range m.policies {
		if !p.Active {
			continue
		}
		if len(wanted) > 0 && !wanted[p.Code] {
			continue
		}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (m *Memory) FindPayments(_ context.Context, q billing.PaymentQuery) ([]billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fees := make(map[string]bool, len(q.FeeIDs))
	for _, id := range q.FeeIDs {
		fees[id] = true
	}
	statuses := make(map[billing.PaymentStatus]bool, len(q.Statuses))
	for _, s := range q.Statuses {
		statuses[s] = true
	}
	interval := billing.Period{Start: q.From, End: q.To}

	var result []billing.Payment
	for _, p := range m.payments {
		if p.HouseholdID != q.HouseholdID {
			continue
		}
		if len(fees) > 0 && !fees[p.FeeID] {
			continue
		}
		if len(statuses) > 0 && !statuses[p.Status] {
			continue
		}
		switch q.Field {
		case billing.ByPaymentDate:
			if p.Period != nil || !interval.Contains(p.PaymentDate) {
				continue
			}
		default:
			if p.Period == nil || !interval.Contains(*p.Period) {
				continue
			}
		}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// InsertPayment stores a new payment, enforcing (household, fee, period) uniqueness.
func (m *Memory) InsertPayment(_ context.Context, p billing.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.payments[p.ID]; exists {
		return &billing.ValidationError{Field: "id", Value: p.ID, Reason: "payment id already used"}
	}
	if k, ok := periodKey(p); ok {
		if _, taken := m.periodIndex[k]; taken {
			return &billing.StoreConflictError{HouseholdID: k.HouseholdID, FeeID: k.FeeID, Period: k.Period}
		}
		m.periodIndex[k] = p.ID
	}
	m.payments[p.ID] = p
	return nil
}

// UpdatePayment applies an overwrite patch. Payer metadata is preserved.
func (m *Memory) UpdatePayment(_ context.Context, id string, patch billing.PaymentPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[id]
	if !ok {
		return billing.ErrPaymentNotFound
	}
	period := patch.Period
	updated := p
	updated.Amount = patch.Amount
	updated.Status = patch.Status
	updated.Description = patch.Description
	updated.Period = &period
	updated.UpdatedAt = time.Now()

	oldKey, hadKey := periodKey(p)
	newKey, _ := periodKey(updated)
	if owner, taken := m.periodIndex[newKey]; taken && owner != id {
		return &billing.StoreConflictError{HouseholdID: newKey.HouseholdID, FeeID: newKey.FeeID, Period: newKey.Period}
	}
	if hadKey {
		delete(m.periodIndex, oldKey)
	}
	m.periodIndex[newKey] = id
	m.payments[id] = updated
	return nil
}

// SettlePayment records a received payment onto an existing record.
func (m *Memory) SettlePayment(_ context.Context, id string, s billing.Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[id]
	if !ok {
		return billing.ErrPaymentNotFound
	}
	p.Amount = s.Amount
	p.Status = s.Status
	p.PaymentDate = s.PaymentDate
	if s.Description != "" {
		p.Description = s.Description
	}
	p.PayerName = s.PayerName
	p.PayerNote = s.PayerNote
	p.UpdatedAt = time.Now()
	m.payments[id] = p
	return nil
}

// Payments returns every stored payment ordered by id.
func (m *Memory) Payments() []billing.Payment {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]billing.Payment, 0, len(m.payments))
	for _, p := range m.payments {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}
