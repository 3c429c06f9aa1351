package payout

import (
	"maps"
	"strings"
	"time"

	"github.com/marketplace/payouts/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Defaults applied when no settings have been stored yet
const (
	DefaultCurrency              = "EUR"
	DefaultCommissionDescription = "Platform commission on marketplace sales"
)

// DefaultCommissionRate is 10%
var DefaultCommissionRate = decimal.New(10, -2)

// CommissionSettings is the persisted commission configuration
type CommissionSettings struct {
	shared.BaseAggregateRoot
	Rate            decimal.Decimal
	Currency        string
	Active          bool
	Description     string
	SellerOverrides map[string]decimal.Decimal
	UpdatedBy       string
}

// NewCommissionSettings creates active settings with the given flat rate
func NewCommissionSettings(rate decimal.Decimal, currency string) (*CommissionSettings, error) {
	if err := ValidateRate(rate); err != nil {
		return nil, err
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	return &CommissionSettings{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		Rate:              rate,
		Currency:          strings.ToUpper(currency),
		Active:            true,
		Description:       DefaultCommissionDescription,
		SellerOverrides:   make(map[string]decimal.Decimal),
		UpdatedBy:         "system",
	}, nil
}

// EffectiveRate returns the flat rate, or zero when commission is switched off
func (s *CommissionSettings) EffectiveRate() decimal.Decimal {
	if !s.Active {
		return decimal.Zero
	}
	return s.Rate
}

// Policy returns an immutable policy snapshot of the current settings
func (s *CommissionSettings) Policy() CommissionPolicy {
	var base CommissionPolicy = FlatRatePolicy{Rate: s.EffectiveRate()}
	if s.Active && len(s.SellerOverrides) > 0 {
		base = SellerOverridePolicy{Base: base, Overrides: maps.Clone(s.SellerOverrides)}
	}
	return CapturedRatePolicy{Fallback: base}
}

// Update replaces the flat rate, active flag and description
func (s *CommissionSettings) Update(rate decimal.Decimal, active bool, description, actor string) error {
	if err := ValidateRate(rate); err != nil {
		return err
	}
	previous := s.EffectiveRate()
	s.Rate = rate
	s.Active = active
	if description != "" {
		s.Description = description
	}
	s.touch(actor)

	s.AddDomainEvent(NewCommissionRateChangedEvent(s, previous))
	return nil
}

// SetSellerOverrides replaces all per-seller rates
func (s *CommissionSettings) SetSellerOverrides(overrides map[string]decimal.Decimal, actor string) error {
	for _, rate := range overrides {
		if err := ValidateRate(rate); err != nil {
			return err
		}
	}
	previous := s.EffectiveRate()
	s.SellerOverrides = maps.Clone(overrides)
	if s.SellerOverrides == nil {
		s.SellerOverrides = make(map[string]decimal.Decimal)
	}
	s.touch(actor)

	s.AddDomainEvent(NewCommissionRateChangedEvent(s, previous))
	return nil
}

func (s *CommissionSettings) touch(actor string) {
	s.UpdatedBy = actor
	s.UpdatedAt = time.Now()
	s.IncrementVersion()
}
