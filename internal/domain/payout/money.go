package payout

import "github.com/shopspring/decimal"

// MoneyScale is the number of decimal places every stored amount carries.
const MoneyScale int32 = 2

// PriceScale is the number of decimal places a stored unit price carries.
const PriceScale int32 = 4

// RateScale is the number of decimal places a stored commission rate
// (a fraction) carries. Percentages therefore allow RateScale-2 places.
const RateScale int32 = 6

// DefaultAmountTolerance is the largest difference accepted between a
// reported transfer amount and the computed net total.
var DefaultAmountTolerance = decimal.New(5, -3)

// RoundMoney rounds to MoneyScale places using banker's rounding.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(MoneyScale)
}

// WithinTolerance reports whether |a - b| <= tolerance.
func WithinTolerance(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}

// FitsScale reports whether d has at most places decimal places, ignoring
// trailing zeros.
func FitsScale(d decimal.Decimal, places int32) bool {
	return d.Equal(d.Truncate(places))
}
