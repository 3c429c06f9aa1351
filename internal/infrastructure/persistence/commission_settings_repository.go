package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/marketplace/payouts/internal/domain/payout"
	"github.com/marketplace/payouts/internal/domain/shared"
	"github.com/marketplace/payouts/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormCommissionSettingsRepository implements payout.CommissionSettingsRepository
type GormCommissionSettingsRepository struct {
	db *gorm.DB
}

// NewGormCommissionSettingsRepository creates a new GormCommissionSettingsRepository
func NewGormCommissionSettingsRepository(db *gorm.DB) *GormCommissionSettingsRepository {
	return &GormCommissionSettingsRepository{db: db}
}

// Get returns the global settings, or nil if none have been stored
func (r *GormCommissionSettingsRepository) Get(ctx context.Context) (*payout.CommissionSettings, error) {
	var model models.CommissionSettingsModel
	err := r.db.WithContext(ctx).
		Where("scope = ?", models.CommissionScopeGlobal).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Create stores the first settings row
func (r *GormCommissionSettingsRepository) Create(ctx context.Context, settings *payout.CommissionSettings) error {
	model := models.CommissionSettingsModelFromDomain(settings)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKey(err) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// SaveWithLock updates the settings when the stored version is settings.Version-1
func (r *GormCommissionSettingsRepository) SaveWithLock(ctx context.Context, settings *payout.CommissionSettings) error {
	model := models.CommissionSettingsModelFromDomain(settings)
	// map updates bypass the json serializer on the model
	overrides, err := json.Marshal(model.SellerOverrides)
	if err != nil {
		return fmt.Errorf("encode seller overrides: %w", err)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return casUpdate(tx, &models.CommissionSettingsModel{}, settings.ID, settings.Version-1, map[string]any{
			"rate":             model.Rate,
			"currency":         model.Currency,
			"active":           model.Active,
			"description":      model.Description,
			"seller_overrides": string(overrides),
			"updated_by":       model.UpdatedBy,
			"updated_at":       time.Now().UTC(),
			"version":          model.Version,
		})
	})
}
