// Package pricing holds the pure money rules of the auction house: the bid
// increment ladder and the buyer fee formula.
package pricing

import (
	"github.com/shopspring/decimal"
)

// step is one rung of the increment ladder: prices below Below move by Increment.
type step struct {
	Below     decimal.Decimal
	Increment decimal.Decimal
}

var (
	ladder = []step{
		{Below: decimal.NewFromInt(50), Increment: decimal.NewFromInt(2)},
		{Below: decimal.NewFromInt(100), Increment: decimal.NewFromInt(5)},
		{Below: decimal.NewFromInt(250), Increment: decimal.NewFromInt(10)},
		{Below: decimal.NewFromInt(1000), Increment: decimal.NewFromInt(25)},
	}
	topIncrement = decimal.NewFromInt(50)
)

// Increment returns the ladder step that applies at currentPrice.
func Increment(currentPrice decimal.Decimal) decimal.Decimal {
	for _, s := range ladder {
		if currentPrice.LessThan(s.Below) {
			return s.Increment
		}
	}
	return topIncrement
}

// MinNextBid returns the lowest legal bid once currentPrice is the standing bid.
func MinNextBid(currentPrice decimal.Decimal) decimal.Decimal {
	return currentPrice.Add(Increment(currentPrice))
}

// MinimumAcceptable returns the lowest bid an item accepts. With no standing
// bid the base price itself is the minimum and no increment is applied.
func MinimumAcceptable(basePrice decimal.Decimal, currentBid decimal.NullDecimal) decimal.Decimal {
	if !currentBid.Valid {
		return basePrice
	}
	return MinNextBid(currentBid.Decimal)
}

// ValidAmount reports whether amount is a positive currency value with at most
// two decimal places.
func ValidAmount(amount decimal.Decimal) bool {
	if !amount.IsPositive() {
		return false
	}
	return amount.Equal(amount.Truncate(2))
}
