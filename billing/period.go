package billing

import (
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// PERIOD - Half-open billing interval
// =============================================================================

// Granularity is the natural billing cycle of a fee category.
type Granularity string

const (
	Monthly Granularity = "monthly"
	Yearly  Granularity = "yearly"
)

// Period is the half-open interval [Start, End) of one billing cycle.
// Start is always day 1 of the month (or January 1) at local midnight.
type Period struct {
	Start       time.Time
	End         time.Time
	Granularity Granularity
}

// Contains returns true if t falls in [Start, End).
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Next returns the period following this one.
func (p Period) Next() Period {
	return Period{Start: p.End, End: advance(p.End, p.Granularity, 1), Granularity: p.Granularity}
}

// Previous returns the period before this one.
func (p Period) Previous() Period {
	return Period{Start: advance(p.Start, p.Granularity, -1), End: p.Start, Granularity: p.Granularity}
}

// Key is the canonical date string stored on payments ("2006-01-02").
func (p Period) Key() string {
	return p.Start.Format(time.DateOnly)
}

// Label is the human form used in descriptions: "06/2024" or "2024".
func (p Period) Label() string {
	if p.Granularity == Yearly {
		return strconv.Itoa(p.Start.Year())
	}
	return p.Start.Format("01/2006")
}

func (p Period) String() string {
	return "[" + p.Start.Format(time.DateOnly) + ", " + p.End.Format(time.DateOnly) + ")"
}

func advance(t time.Time, g Granularity, n int) time.Time {
	if g == Yearly {
		return t.AddDate(n, 0, 0)
	}
	return t.AddDate(0, n, 0)
}

// =============================================================================
// NORMALIZER
// =============================================================================

// Normalizer canonicalizes dates to billing periods in one time zone.
type Normalizer struct {
	Location *time.Location
}

// NewNormalizer returns a normalizer for loc (nil means time.Local).
func NewNormalizer(loc *time.Location) Normalizer {
	if loc == nil {
		loc = time.Local
	}
	return Normalizer{Location: loc}
}

func (n Normalizer) location() *time.Location {
	if n.Location == nil {
		return time.Local
	}
	return n.Location
}

// Canonicalize returns the first day of the month, or January 1, containing t
// at local midnight.
func (n Normalizer) Canonicalize(t time.Time, g Granularity) time.Time {
	t = t.In(n.location())
	if g == Yearly {
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, n.location())
	}
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, n.location())
}

// PeriodFor returns the period of granularity g that contains t.
func (n Normalizer) PeriodFor(t time.Time, g Granularity) Period {
	start := n.Canonicalize(t, g)
	return Period{Start: start, End: advance(start, g, 1), Granularity: g}
}

// ParsePeriod accepts "2006-01", "2006-01-02" or "2006" and returns the
// containing period of granularity g. Malformed input is a validation error.
func (n Normalizer) ParsePeriod(s string, g Granularity) (Period, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.DateOnly, "2006-01", "2006"} {
		if t, err := time.ParseInLocation(layout, s, n.location()); err == nil {
			return n.PeriodFor(t, g), nil
		}
	}
	return Period{}, &ValidationError{Field: "period", Value: s, Reason: "expected YYYY, YYYY-MM or YYYY-MM-DD", Err: ErrInvalidPeriod}
}

// PaymentInPeriod reports whether a payment belongs to p. A payment carrying a
// period is compared by that period; a legacy payment without one is compared
// by its payment date against the same half-open interval.
func (n Normalizer) PaymentInPeriod(p Payment, period Period) bool {
	if p.Period != nil {
		return period.Contains(*p.Period)
	}
	return period.Contains(p.PaymentDate)
}
