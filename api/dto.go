/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the billing domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts, rates and areas are decimal.Decimal and serialize as JSON strings
  ("400000"), never floats.

DATES:
  Periods are rendered as "YYYY-MM-DD" in the engine's time zone; instants as
  RFC 3339.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/fee-engine/billing"
	"github.com/warp/fee-engine/factory"
	"github.com/warp/fee-engine/store/sqlite"
)

// =============================================================================
// ROSTER
// =============================================================================

type HouseholdDTO struct {
	ID     string           `json:"id"`
	Code   string           `json:"code"`
	Owner  string           `json:"owner,omitempty"`
	Area   *decimal.Decimal `json:"area"`
	Active bool             `json:"active"`
}

// HouseholdDetailDTO adds the active roster to a household.
type HouseholdDetailDTO struct {
	HouseholdDTO
	Residents []ResidentDTO `json:"residents"`
	Vehicles  []VehicleDTO  `json:"vehicles"`
}

type ResidentDTO struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type VehicleDTO struct {
	ID       string `json:"id"`
	Plate    string `json:"plate"`
	Category string `json:"category"`
	Status   string `json:"status"`
	Active   bool   `json:"active"`
}

// SaveHouseholdRequest creates or updates a household. A null area is valid.
type SaveHouseholdRequest struct {
	ID     string           `json:"id"`
	Code   string           `json:"code"`
	Owner  string           `json:"owner"`
	Area   *decimal.Decimal `json:"area"`
	Active *bool            `json:"active"` // default true
}

type AddResidentRequest struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active *bool  `json:"active"`
}

type AddVehicleRequest struct {
	ID       string `json:"id"`
	Plate    string `json:"plate"`
	Category string `json:"category"` // motorbike, car, bicycle, electric_bike
	Status   string `json:"status"`   // default in_use
	Active   *bool  `json:"active"`
}

// PolicyDTO represents a fee policy in API responses.
type PolicyDTO struct {
	ID             string          `json:"id"`
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	Category       string          `json:"category"`
	Rate           decimal.Decimal `json:"rate"`
	UnitRate       decimal.Decimal `json:"unit_rate"`
	Active         bool            `json:"active"`
	EffectiveStart string          `json:"effective_start,omitempty"`
}

// SavePolicyRequest uses the registry JSON fee schema.
type SavePolicyRequest = factory.FeeJSON

// =============================================================================
// OBLIGATIONS
// =============================================================================

type LineItemDTO struct {
	FeeID       string          `json:"fee_id"`
	FeeCode     string          `json:"fee_code"`
	FeeName     string          `json:"fee_name"`
	Quantity    decimal.Decimal `json:"quantity"`
	Rate        decimal.Decimal `json:"rate"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type VehicleCountDTO struct {
	Category string          `json:"category"`
	FeeCode  string          `json:"fee_code"`
	Count    int             `json:"count"`
	Rate     decimal.Decimal `json:"rate"`
	Amount   decimal.Decimal `json:"amount"`
}

type ObligationDTO struct {
	HouseholdID   string            `json:"household_id"`
	Category      string            `json:"category"`
	TotalQuantity decimal.Decimal   `json:"total_quantity"`
	TotalAmount   decimal.Decimal   `json:"total_amount"`
	LineItems     []LineItemDTO     `json:"line_items"`
	TotalVehicles int               `json:"total_vehicles,omitempty"`
	ByCategory    []VehicleCountDTO `json:"by_category,omitempty"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

type PaymentDTO struct {
	ID          string          `json:"id"`
	FeeID       string          `json:"fee_id"`
	HouseholdID string          `json:"household_id"`
	Amount      decimal.Decimal `json:"amount"`
	Period      *string         `json:"period"`
	Status      string          `json:"status"`
	PaymentDate string          `json:"payment_date"`
	Description string          `json:"description,omitempty"`
	PayerName   string          `json:"payer_name,omitempty"`
	PayerNote   string          `json:"payer_note,omitempty"`
	CreatedAt   string          `json:"created_at,omitempty"`
}

// RecordPaymentRequest records money received. Without a period the payment
// is matched by its payment date, like imported historical records.
type RecordPaymentRequest struct {
	ID          string          `json:"id"`
	HouseholdID string          `json:"household_id"`
	FeeID       string          `json:"fee_id"`
	Amount      decimal.Decimal `json:"amount"`
	Period      string          `json:"period"`       // optional, YYYY-MM or YYYY
	Status      string          `json:"status"`       // default paid
	PaymentDate string          `json:"payment_date"` // RFC 3339 or YYYY-MM-DD, default now
	Description string          `json:"description"`
	PayerName   string          `json:"payer_name"`
	PayerNote   string          `json:"payer_note"`
}

// GenerateRequest is the body of both generation endpoints.
type GenerateRequest struct {
	Period     string   `json:"period"` // YYYY-MM, YYYY-MM-DD or YYYY
	Overwrite  bool     `json:"overwrite"`
	Categories []string `json:"categories,omitempty"`
}

type GenerationLineDTO struct {
	HouseholdID string          `json:"household_id"`
	Category    string          `json:"category"`
	FeeID       string          `json:"fee_id,omitempty"`
	FeeCode     string          `json:"fee_code,omitempty"`
	PaymentID   string          `json:"payment_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
	Action      string          `json:"action"`
	Reason      string          `json:"reason,omitempty"`
}

type GenerationReportDTO struct {
	Period          string              `json:"period"`
	Granularity     string              `json:"granularity"`
	Overwrite       bool                `json:"overwrite"`
	Categories      []string            `json:"categories"`
	TotalHouseholds int                 `json:"total_households"`
	TotalLineItems  int                 `json:"total_line_items"`
	Created         int                 `json:"created"`
	Skipped         int                 `json:"skipped"`
	Errors          int                 `json:"errors"`
	Overwritten     int                 `json:"overwritten"`
	TotalAmount     decimal.Decimal     `json:"total_amount"`
	CreatedPayments []GenerationLineDTO `json:"created_payments"`
	SkippedPayments []GenerationLineDTO `json:"skipped_payments"`
	ErrorLines      []GenerationLineDTO `json:"error_lines"`
}

type GenerationRunDTO struct {
	ID              string          `json:"id"`
	PeriodStart     string          `json:"period_start"`
	PeriodEnd       string          `json:"period_end"`
	Granularity     string          `json:"granularity"`
	Overwrite       bool            `json:"overwrite"`
	Categories      []string        `json:"categories"`
	TotalHouseholds int             `json:"total_households"`
	Created         int             `json:"created"`
	Skipped         int             `json:"skipped"`
	Errors          int             `json:"errors"`
	Overwritten     int             `json:"overwritten"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	CompletedAt     string          `json:"completed_at"`
}

// =============================================================================
// FEE STATUS
// =============================================================================

type FeeStatusEntryDTO struct {
	ID             string          `json:"id"`
	Kind           string          `json:"kind"`
	FeeID          string          `json:"fee_id,omitempty"`
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	Category       string          `json:"category"`
	Amount         decimal.Decimal `json:"amount"`
	CurrentPeriod  string          `json:"current_period"`
	PreviousPeriod string          `json:"previous_period"`
	CurrentStatus  string          `json:"current_status"`
	PreviousStatus string          `json:"previous_status"`
	CurrentPaid    decimal.Decimal `json:"current_paid"`
	PreviousPaid   decimal.Decimal `json:"previous_paid"`
	Codes          []string        `json:"codes,omitempty"`
	Obligation     *ObligationDTO  `json:"obligation,omitempty"`
}

type FeeStatusDTO struct {
	HouseholdID string              `json:"household_id"`
	AsOf        string              `json:"as_of"`
	Entries     []FeeStatusEntryDTO `json:"entries"`
}

// =============================================================================
// MISC
// =============================================================================

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toHouseholdDTO(h billing.Household) HouseholdDTO {
	dto := HouseholdDTO{ID: h.ID, Code: h.Code, Owner: h.Owner, Active: h.Active}
	if h.Area.Valid {
		area := h.Area.Decimal
		dto.Area = &area
	}
	return dto
}

func toResidentDTO(r billing.Resident) ResidentDTO {
	return ResidentDTO{ID: r.ID, Name: r.Name, Active: r.Active}
}

func toVehicleDTO(v billing.Vehicle) VehicleDTO {
	return VehicleDTO{ID: v.ID, Plate: v.Plate, Category: string(v.Category), Status: string(v.Status), Active: v.Active}
}

func toPolicyDTO(p billing.FeePolicy, registry *billing.Registry, loc *time.Location) PolicyDTO {
	dto := PolicyDTO{
		ID:       p.ID,
		Code:     p.Code,
		Name:     p.Name,
		Category: string(p.Category),
		Rate:     p.Rate,
		UnitRate: registry.UnitRate(p),
		Active:   p.Active,
	}
	if !p.EffectiveStart.IsZero() {
		dto.EffectiveStart = p.EffectiveStart.In(loc).Format(time.DateOnly)
	}
	return dto
}

func toObligationDTO(o billing.Obligation) ObligationDTO {
	dto := ObligationDTO{
		HouseholdID:   o.HouseholdID,
		Category:      string(o.Category),
		TotalQuantity: o.TotalQuantity,
		TotalAmount:   o.TotalAmount,
		LineItems:     make([]LineItemDTO, len(o.LineItems)),
		TotalVehicles: o.TotalVehicles,
	}
	for i, item := range o.LineItems {
		dto.LineItems[i] = LineItemDTO{
			FeeID:       item.FeeID,
			FeeCode:     item.FeeCode,
			FeeName:     item.FeeName,
			Quantity:    item.Quantity,
			Rate:        item.Rate,
			Amount:      item.Amount,
			Description: item.Description,
		}
	}
	for _, c := range o.ByCategory {
		dto.ByCategory = append(dto.ByCategory, VehicleCountDTO{
			Category: string(c.Category),
			FeeCode:  c.FeeCode,
			Count:    c.Count,
			Rate:     c.Rate,
			Amount:   c.Amount,
		})
	}
	return dto
}

func toPaymentDTO(p billing.Payment, loc *time.Location) PaymentDTO {
	dto := PaymentDTO{
		ID:          p.ID,
		FeeID:       p.FeeID,
		HouseholdID: p.HouseholdID,
		Amount:      p.Amount,
		Status:      string(p.Status),
		PaymentDate: p.PaymentDate.In(loc).Format(time.RFC3339),
		Description: p.Description,
		PayerName:   p.PayerName,
		PayerNote:   p.PayerNote,
	}
	if p.Period != nil {
		s := p.Period.In(loc).Format(time.DateOnly)
		dto.Period = &s
	}
	if !p.CreatedAt.IsZero() {
		dto.CreatedAt = p.CreatedAt.In(loc).Format(time.RFC3339)
	}
	return dto
}

func toGenerationReportDTO(r *billing.GenerationReport) GenerationReportDTO {
	cats := make([]string, len(r.Categories))
	for i, c := range r.Categories {
		cats[i] = string(c)
	}
	return GenerationReportDTO{
		Period:          r.Period.Key(),
		Granularity:     string(r.Period.Granularity),
		Overwrite:       r.Overwrite,
		Categories:      cats,
		TotalHouseholds: r.TotalHouseholds,
		TotalLineItems:  r.TotalLineItems,
		Created:         r.Created,
		Skipped:         r.Skipped,
		Errors:          r.Errors,
		Overwritten:     r.Overwritten,
		TotalAmount:     r.TotalAmount,
		CreatedPayments: toLineDTOs(r.CreatedPayments),
		SkippedPayments: toLineDTOs(r.SkippedPayments),
		ErrorLines:      toLineDTOs(r.ErrorLines),
	}
}

func toLineDTOs(lines []billing.GenerationLine) []GenerationLineDTO {
	dtos := make([]GenerationLineDTO, len(lines))
	for i, l := range lines {
		dtos[i] = GenerationLineDTO{
			HouseholdID: l.HouseholdID,
			Category:    string(l.Category),
			FeeID:       l.FeeID,
			FeeCode:     l.FeeCode,
			PaymentID:   l.PaymentID,
			Amount:      l.Amount,
			Description: l.Description,
			Action:      string(l.Action),
			Reason:      l.Reason,
		}
	}
	return dtos
}

func toGenerationRunDTO(run sqlite.GenerationRun, loc *time.Location) GenerationRunDTO {
	cats := make([]string, len(run.Categories))
	for i, c := range run.Categories {
		cats[i] = string(c)
	}
	return GenerationRunDTO{
		ID:              run.ID,
		PeriodStart:     run.PeriodStart.In(loc).Format(time.DateOnly),
		PeriodEnd:       run.PeriodEnd.In(loc).Format(time.DateOnly),
		Granularity:     string(run.Granularity),
		Overwrite:       run.Overwrite,
		Categories:      cats,
		TotalHouseholds: run.TotalHouseholds,
		Created:         run.Created,
		Skipped:         run.Skipped,
		Errors:          run.Errors,
		Overwritten:     run.Overwritten,
		TotalAmount:     run.TotalAmount,
		CompletedAt:     run.CompletedAt.In(loc).Format(time.RFC3339),
	}
}

func toFeeStatusDTO(s *billing.HouseholdFeeStatus, loc *time.Location) FeeStatusDTO {
	dto := FeeStatusDTO{
		HouseholdID: s.HouseholdID,
		AsOf:        s.AsOf.In(loc).Format(time.RFC3339),
		Entries:     make([]FeeStatusEntryDTO, len(s.Entries)),
	}
	for i, e := range s.Entries {
		entry := FeeStatusEntryDTO{
			ID:             e.ID,
			Kind:           string(e.Ref.Kind),
			FeeID:          e.Ref.FeeID,
			Code:           e.Code,
			Name:           e.Name,
			Category:       string(e.Category),
			Amount:         e.Amount,
			CurrentPeriod:  e.CurrentPeriod.Key(),
			PreviousPeriod: e.PreviousPeriod.Key(),
			CurrentStatus:  string(e.CurrentStatus),
			PreviousStatus: string(e.PreviousStatus),
			CurrentPaid:    e.CurrentPaid,
			PreviousPaid:   e.PreviousPaid,
			Codes:          e.Codes,
		}
		if e.Obligation != nil {
			o := toObligationDTO(*e.Obligation)
			entry.Obligation = &o
		}
		dto.Entries[i] = entry
	}
	return dto
}
