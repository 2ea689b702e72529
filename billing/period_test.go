package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-engine/billing"
)

func TestNormalizer_Canonicalize(t *testing.T) {
	n := billing.NewNormalizer(ict)

	tests := []struct {
		name string
		in   time.Time
		g    billing.Granularity
		want time.Time
	}{
		{"mid month", time.Date(2024, 6, 15, 10, 0, 0, 0, ict), billing.Monthly, date(2024, 6, 1)},
		{"last instant of month", time.Date(2024, 6, 30, 23, 59, 59, 0, ict), billing.Monthly, date(2024, 6, 1)},
		{"leap day", time.Date(2024, 2, 29, 12, 0, 0, 0, ict), billing.Monthly, date(2024, 2, 1)},
		{"yearly", time.Date(2024, 11, 3, 0, 0, 0, 0, ict), billing.Yearly, date(2024, 1, 1)},
		// 2024-05-31 20:00 UTC is already June 1 in ICT
		{"utc input converted", time.Date(2024, 5, 31, 20, 0, 0, 0, time.UTC), billing.Monthly, date(2024, 6, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Canonicalize(tt.in, tt.g)
			assert.True(t, got.Equal(tt.want), "got %s want %s", got, tt.want)
		})
	}
}

func TestPeriod_HalfOpenBoundaries(t *testing.T) {
	// GIVEN: June 2024
	// THEN: June 1 00:00 is inside, July 1 00:00 is not, June 30 23:59:59 is inside

	june := billing.NewNormalizer(ict).PeriodFor(june15, billing.Monthly)

	assert.True(t, june.Contains(date(2024, 6, 1)))
	assert.True(t, june.Contains(time.Date(2024, 6, 30, 23, 59, 59, 999, ict)))
	assert.False(t, june.Contains(date(2024, 7, 1)))
	assert.False(t, june.Contains(time.Date(2024, 5, 31, 23, 59, 59, 0, ict)))
}

func TestPeriod_NextPrevious(t *testing.T) {
	n := billing.NewNormalizer(ict)

	jan := n.PeriodFor(date(2024, 1, 10), billing.Monthly)
	assert.True(t, jan.Previous().Start.Equal(date(2023, 12, 1)))
	assert.True(t, jan.Previous().End.Equal(jan.Start))
	assert.True(t, jan.Next().Start.Equal(date(2024, 2, 1)))
	assert.True(t, jan.Next().End.Equal(date(2024, 3, 1)))

	y := n.PeriodFor(date(2024, 8, 1), billing.Yearly)
	assert.Equal(t, "2024", y.Label())
	assert.Equal(t, "2023", y.Previous().Label())
	assert.Equal(t, "06/2024", n.PeriodFor(june15, billing.Monthly).Label())
	assert.Equal(t, "2024-06-01", n.PeriodFor(june15, billing.Monthly).Key())
}

func TestNormalizer_ParsePeriod(t *testing.T) {
	n := billing.NewNormalizer(ict)

	for _, in := range []string{"2024-06", "2024-06-01", "2024-06-17", " 2024-06 "} {
		p, err := n.ParsePeriod(in, billing.Monthly)
		require.NoError(t, err, in)
		assert.True(t, p.Start.Equal(date(2024, 6, 1)), in)
	}

	y, err := n.ParsePeriod("2024", billing.Yearly)
	require.NoError(t, err)
	assert.True(t, y.End.Equal(date(2025, 1, 1)))

	for _, in := range []string{"", "June", "2024-13", "2024/06"} {
		_, err := n.ParsePeriod(in, billing.Monthly)
		assert.ErrorIs(t, err, billing.ErrInvalidPeriod, in)
		assert.True(t, billing.IsClientError(err))
	}
}

func TestNormalizer_PaymentInPeriod_LegacyUsesPaymentDate(t *testing.T) {
	n := billing.NewNormalizer(ict)
	june := n.PeriodFor(june15, billing.Monthly)

	legacy := billing.Payment{PaymentDate: time.Date(2024, 6, 30, 22, 0, 0, 0, ict)}
	assert.True(t, n.PaymentInPeriod(legacy, june))

	legacy.PaymentDate = date(2024, 7, 1)
	assert.False(t, n.PaymentInPeriod(legacy, june))

	// An explicit period wins over the payment date
	start := date(2024, 6, 1)
	tagged := billing.Payment{Period: &start, PaymentDate: date(2024, 8, 2)}
	assert.True(t, n.PaymentInPeriod(tagged, june))
}
