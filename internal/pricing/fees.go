package pricing

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Round2 rounds to the currency's minor unit, half away from zero.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Percent returns pct% of amount without rounding.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred)
}

// LineFees is the buyer-side breakdown of a single won lot.
type LineFees struct {
	Hammer    decimal.Decimal
	Premium   decimal.Decimal
	Tax       decimal.Decimal
	LineTotal decimal.Decimal
}

// ComputeLineFees applies the buyer's premium and tax to a hammer price.
//
//	premium   = hammer × premium%
//	tax       = (hammer + premium) × tax%
//	lineTotal = round2(hammer + premium + tax)
//
// Premium and tax are reported rounded, but the line total is rounded once
// from the exact components.
func ComputeLineFees(hammer, premiumPct, taxPct decimal.Decimal) LineFees {
	premium := Percent(hammer, premiumPct)
	tax := Percent(hammer.Add(premium), taxPct)

	return LineFees{
		Hammer:    Round2(hammer),
		Premium:   Round2(premium),
		Tax:       Round2(tax),
		LineTotal: Round2(hammer.Add(premium).Add(tax)),
	}
}

// Commission returns rate% of totalSales rounded to the minor unit.
func Commission(totalSales, rate decimal.Decimal) decimal.Decimal {
	return Round2(Percent(totalSales, rate))
}
