package payout

import (
	"fmt"

	"github.com/marketplace/payouts/internal/domain/shared"
	"github.com/shopspring/decimal"
)

var (
	rateMin     = decimal.Zero
	rateMax     = decimal.NewFromInt(1)
	percentBase = decimal.NewFromInt(100)
)

// CommissionPolicy decides the commission rate (a fraction in [0, 1]) for an order.
// Implementations must be safe for concurrent use and must not change their
// answer while a batch is being computed.
type CommissionPolicy interface {
	RateFor(order *Order) decimal.Decimal
}

// ValidateRate checks that a fractional rate lies within [0, 1]
func ValidateRate(rate decimal.Decimal) error {
	if rate.LessThan(rateMin) || rate.GreaterThan(rateMax) {
		return shared.NewDomainError(CodeInvalidRate, fmt.Sprintf("commission rate %s must be between 0 and 1", rate.String()))
	}
	if !FitsScale(rate, RateScale) {
		return shared.NewDomainError(CodeInvalidRate, fmt.Sprintf("commission rate %s has more than %d decimal places", rate.String(), RateScale))
	}
	return nil
}

// RateFromPercent converts a percentage in [0, 100] to a fraction
func RateFromPercent(percent decimal.Decimal) (decimal.Decimal, error) {
	if percent.LessThan(decimal.Zero) || percent.GreaterThan(percentBase) {
		return decimal.Zero, shared.NewDomainError(CodeInvalidRate, fmt.Sprintf("commission rate %s%% must be between 0 and 100", percent.String()))
	}
	if !FitsScale(percent, RateScale-2) {
		return decimal.Zero, shared.NewDomainError(CodeInvalidRate, fmt.Sprintf("commission rate %s%% has more than %d decimal places", percent.String(), RateScale-2))
	}
	return percent.Div(percentBase), nil
}

// RateToPercent converts a fraction to a percentage
func RateToPercent(rate decimal.Decimal) decimal.Decimal {
	return rate.Mul(percentBase)
}

// FlatRatePolicy applies the same rate to every order
type FlatRatePolicy struct {
	Rate decimal.Decimal
}

// NewFlatRatePolicy creates a validated flat rate policy
func NewFlatRatePolicy(rate decimal.Decimal) (FlatRatePolicy, error) {
	if err := ValidateRate(rate); err != nil {
		return FlatRatePolicy{}, err
	}
	return FlatRatePolicy{Rate: rate}, nil
}

// RateFor implements CommissionPolicy
func (p FlatRatePolicy) RateFor(*Order) decimal.Decimal {
	return p.Rate
}

// SellerOverridePolicy applies negotiated per-seller rates, falling back to Base
type SellerOverridePolicy struct {
	Base      CommissionPolicy
	Overrides map[string]decimal.Decimal
}

// RateFor implements CommissionPolicy
func (p SellerOverridePolicy) RateFor(order *Order) decimal.Decimal {
	if order != nil {
		if rate, ok := p.Overrides[order.SellerID]; ok {
			return rate
		}
	}
	return p.Base.RateFor(order)
}

// CapturedRatePolicy returns the rate pinned on the order at intake and
// consults Fallback only for orders recorded without one.
type CapturedRatePolicy struct {
	Fallback CommissionPolicy
}

// RateFor implements CommissionPolicy
func (p CapturedRatePolicy) RateFor(order *Order) decimal.Decimal {
	if order != nil && order.CommissionRate != nil {
		return *order.CommissionRate
	}
	return p.Fallback.RateFor(order)
}
