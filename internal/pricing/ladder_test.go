package pricing

import (
	"testing"

	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestMinNextBid(t *testing.T) {
	tests := []struct {
		name     string
		current  string
		expected string
	}{
		{"zero", "0", "2"},
		{"below first boundary", "49.99", "51.99"},
		{"first boundary", "50", "55"},
		{"inside second tier", "99", "104"},
		{"second boundary", "100", "110"},
		{"inside third tier", "249.50", "259.50"},
		{"third boundary", "250", "275"},
		{"inside fourth tier", "999", "1024"},
		{"fourth boundary", "1000", "1050"},
		{"far above top boundary", "25000", "25050"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MinNextBid(d(tt.current))
			check.Equal(t, d(tt.expected).StringFixed(2), got.StringFixed(2))
		})
	}
}

func TestMinimumAcceptable_NoBidsUsesBasePrice(t *testing.T) {
	got := MinimumAcceptable(d("40"), decimal.NullDecimal{})
	check.Equal(t, "40.00", got.StringFixed(2))
}

func TestMinimumAcceptable_WithStandingBid(t *testing.T) {
	got := MinimumAcceptable(d("40"), decimal.NewNullDecimal(d("40")))
	check.Equal(t, "42.00", got.StringFixed(2))

	got = MinimumAcceptable(d("40"), decimal.NewNullDecimal(d("44")))
	check.Equal(t, "46.00", got.StringFixed(2))
}

func TestValidAmount(t *testing.T) {
	tests := []struct {
		amount   string
		expected bool
	}{
		{"42", true},
		{"42.5", true},
		{"42.55", true},
		{"42.555", false},
		{"0", false},
		{"-5", false},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			check.Equal(t, tt.expected, ValidAmount(d(tt.amount)))
		})
	}
}
