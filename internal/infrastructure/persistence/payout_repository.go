package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/marketplace/payouts/internal/domain/payout"
	"github.com/marketplace/payouts/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormPayoutRepository implements payout.PayoutRepository using GORM
type GormPayoutRepository struct {
	db *gorm.DB
}

// NewGormPayoutRepository creates a new GormPayoutRepository
func NewGormPayoutRepository(db *gorm.DB) *GormPayoutRepository {
	return &GormPayoutRepository{db: db}
}

func orderedTransitions(db *gorm.DB) *gorm.DB {
	return db.Order("sequence ASC")
}

// FindByKey returns the record for a seller period, or nil if none exists
func (r *GormPayoutRepository) FindByKey(ctx context.Context, key payout.LedgerKey) (*payout.PayoutRecord, error) {
	var model models.PayoutRecordModel
	err := r.db.WithContext(ctx).
		Preload("Transitions", orderedTransitions).
		Where("seller_id = ? AND period_key = ?", key.SellerID, key.PeriodKey).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByPeriod lists all records for a period key, ordered by seller
func (r *GormPayoutRepository) FindByPeriod(ctx context.Context, periodKey string) ([]*payout.PayoutRecord, error) {
	var rows []models.PayoutRecordModel
	if err := r.db.WithContext(ctx).
		Preload("Transitions", orderedTransitions).
		Where("period_key = ?", periodKey).
		Order("seller_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]*payout.PayoutRecord, len(rows))
	for i := range rows {
		records[i] = rows[i].ToDomain()
	}
	return records, nil
}

// FindBySeller lists all records of a seller, ordered by period key descending
func (r *GormPayoutRepository) FindBySeller(ctx context.Context, sellerID string) ([]*payout.PayoutRecord, error) {
	var rows []models.PayoutRecordModel
	if err := r.db.WithContext(ctx).
		Preload("Transitions", orderedTransitions).
		Where("seller_id = ?", sellerID).
		Order("period_key DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]*payout.PayoutRecord, len(rows))
	for i := range rows {
		records[i] = rows[i].ToDomain()
	}
	return records, nil
}

// Create inserts a record and its initial history. The unique
// (seller_id, period_key) index turns a concurrent create into ErrPayoutExists.
func (r *GormPayoutRepository) Create(ctx context.Context, record *payout.PayoutRecord) error {
	model := models.PayoutRecordModelFromDomain(record)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(model).Error
	})
	if err != nil {
		if isDuplicateKey(err) {
			return payout.ErrPayoutExists
		}
		return err
	}
	return nil
}

// SaveWithLock updates the record when the stored version is record.Version-1
// and appends history entries not yet stored.
func (r *GormPayoutRepository) SaveWithLock(ctx context.Context, record *payout.PayoutRecord) error {
	model := models.PayoutRecordModelFromDomain(record)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := casUpdate(tx, &models.PayoutRecordModel{}, record.ID, record.Version-1, map[string]any{
			"status":             model.Status,
			"amount":             model.Amount,
			"transfer_reference": model.TransferReference,
			"processing_at":      model.ProcessingAt,
			"transferred_at":     model.TransferredAt,
			"last_actor":         model.LastActor,
			"updated_at":         time.Now().UTC(),
			"version":            model.Version,
		}); err != nil {
			return err
		}

		var stored int
		if err := tx.Model(&models.PayoutTransitionModel{}).
			Where("payout_id = ?", record.ID).
			Select("COALESCE(MAX(sequence), 0)").
			Scan(&stored).Error; err != nil {
			return err
		}

		pending := make([]models.PayoutTransitionModel, 0, len(model.Transitions))
		for _, t := range model.Transitions {
			if t.Sequence > stored {
				pending = append(pending, t)
			}
		}
		if len(pending) == 0 {
			return nil
		}
		return tx.Create(&pending).Error
	})
}
