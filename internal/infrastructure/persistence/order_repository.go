package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace/payouts/internal/domain/payout"
	"github.com/marketplace/payouts/internal/domain/shared"
	"github.com/marketplace/payouts/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormOrderRepository implements payout.OrderRepository using GORM
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository creates a new GormOrderRepository
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func preloadItems(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

// FindByID finds an order by ID
func (r *GormOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*payout.Order, error) {
	var model models.OrderModel
	err := r.db.WithContext(ctx).
		Preload("Items", preloadItems).
		Where("id = ?", id).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindBySellerAndPeriod lists a seller's orders placed within period
func (r *GormOrderRepository) FindBySellerAndPeriod(ctx context.Context, sellerID string, period payout.Period) ([]*payout.Order, error) {
	query := r.db.WithContext(ctx).Where("seller_id = ?", sellerID)
	return r.find(withinPeriod(query, period))
}

// FindByPeriod lists every order placed within period
func (r *GormOrderRepository) FindByPeriod(ctx context.Context, period payout.Period) ([]*payout.Order, error) {
	return r.find(withinPeriod(r.db.WithContext(ctx), period))
}

func withinPeriod(query *gorm.DB, period payout.Period) *gorm.DB {
	if period.IsAllTime() {
		return query
	}
	return query.Where("placed_at >= ? AND placed_at < ?", period.Start.UTC(), period.End.UTC())
}

func (r *GormOrderRepository) find(query *gorm.DB) ([]*payout.Order, error) {
	var rows []models.OrderModel
	if err := query.
		Preload("Items", preloadItems).
		Order("placed_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	orders := make([]*payout.Order, len(rows))
	for i := range rows {
		orders[i] = rows[i].ToDomain()
	}
	return orders, nil
}

// Save inserts a new order together with its line items
func (r *GormOrderRepository) Save(ctx context.Context, order *payout.Order) error {
	model := models.OrderModelFromDomain(order)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKey(err) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// SaveWithLock persists status and captured rate changes. Line items are
// immutable once recorded. order.Version must already be incremented.
func (r *GormOrderRepository) SaveWithLock(ctx context.Context, order *payout.Order) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return casUpdate(tx, &models.OrderModel{}, order.ID, order.Version-1, map[string]any{
			"status":          order.Status,
			"commission_rate": order.CommissionRate,
			"updated_at":      time.Now().UTC(),
			"version":         order.Version,
		})
	})
}
