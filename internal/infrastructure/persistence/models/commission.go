package models

import (
	"github.com/marketplace/payouts/internal/domain/payout"
	"github.com/shopspring/decimal"
)

// CommissionScopeGlobal is the scope of the only settings row
const CommissionScopeGlobal = "global"

// CommissionSettingsModel is the persistence model for CommissionSettings.
type CommissionSettingsModel struct {
	AggregateModel
	Scope           string                     `gorm:"type:varchar(20);not null;uniqueIndex;default:'global'"`
	Rate            decimal.Decimal            `gorm:"type:decimal(7,6);not null"`
	Currency        string                     `gorm:"type:varchar(3);not null"`
	Active          bool                       `gorm:"not null"`
	Description     string                     `gorm:"type:varchar(500)"`
	SellerOverrides map[string]decimal.Decimal `gorm:"type:text;serializer:json"`
	UpdatedBy       string                     `gorm:"type:varchar(100)"`
}

// TableName returns the table name for GORM
func (CommissionSettingsModel) TableName() string {
	return "commission_settings"
}

// ToDomain converts the persistence model to domain CommissionSettings.
func (m *CommissionSettingsModel) ToDomain() *payout.CommissionSettings {
	overrides := m.SellerOverrides
	if overrides == nil {
		overrides = make(map[string]decimal.Decimal)
	}
	return &payout.CommissionSettings{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		Rate:              m.Rate,
		Currency:          m.Currency,
		Active:            m.Active,
		Description:       m.Description,
		SellerOverrides:   overrides,
		UpdatedBy:         m.UpdatedBy,
	}
}

// CommissionSettingsModelFromDomain creates a new persistence model from domain settings.
func CommissionSettingsModelFromDomain(s *payout.CommissionSettings) *CommissionSettingsModel {
	m := &CommissionSettingsModel{
		Scope:           CommissionScopeGlobal,
		Rate:            s.Rate,
		Currency:        s.Currency,
		Active:          s.Active,
		Description:     s.Description,
		SellerOverrides: s.SellerOverrides,
		UpdatedBy:       s.UpdatedBy,
	}
	m.FromDomainAggregateRoot(s.BaseAggregateRoot)
	return m
}
