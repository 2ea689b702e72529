package events

import (
	"encoding/json"
	"time"

	"github.com/warp/fee-engine/billing"
)

// GenerationEvent is the message published after every generation batch.
// It carries the summary only; consumers read payments from the API.
type GenerationEvent struct {
	Period          string    `json:"period"`
	PeriodStart     time.Time `json:"period_start"`
	PeriodEnd       time.Time `json:"period_end"`
	Granularity     string    `json:"granularity"`
	Overwrite       bool      `json:"overwrite"`
	Categories      []string  `json:"categories"`
	TotalHouseholds int       `json:"total_households"`
	Created         int       `json:"created"`
	Skipped         int       `json:"skipped"`
	Errors          int       `json:"errors"`
	Overwritten     int       `json:"overwritten"`
	TotalAmount     string    `json:"total_amount"`
	PaymentIDs      []string  `json:"payment_ids"`
	Timestamp       time.Time `json:"timestamp"`
}

// NewGenerationEvent summarizes a report.
func NewGenerationEvent(r *billing.GenerationReport, now time.Time) *GenerationEvent {
	cats := make([]string, len(r.Categories))
	for i, c := range r.Categories {
		cats[i] = string(c)
	}
	ids := make([]string, 0, len(r.CreatedPayments))
	for _, line := range r.CreatedPayments {
		ids = append(ids, line.PaymentID)
	}
	return &GenerationEvent{
		Period:          r.Period.Key(),
		PeriodStart:     r.Period.Start,
		PeriodEnd:       r.Period.End,
		Granularity:     string(r.Period.Granularity),
		Overwrite:       r.Overwrite,
		Categories:      cats,
		TotalHouseholds: r.TotalHouseholds,
		Created:         r.Created,
		Skipped:         r.Skipped,
		Errors:          r.Errors,
		Overwritten:     r.Overwritten,
		TotalAmount:     r.TotalAmount.String(),
		PaymentIDs:      ids,
		Timestamp:       now,
	}
}

// ToJSON converts the message to JSON bytes
func (m *GenerationEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// GenerationEventFromJSON creates a message from JSON bytes
func GenerationEventFromJSON(data []byte) (*GenerationEvent, error) {
	var msg GenerationEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
