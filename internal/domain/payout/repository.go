package payout

import (
	"context"

	"github.com/google/uuid"
)

// OrderSource lists orders for ledger computation
type OrderSource interface {
	// FindByID returns nil, nil when the order does not exist
	FindByID(ctx context.Context, id uuid.UUID) (*Order, error)
	FindBySellerAndPeriod(ctx context.Context, sellerID string, period Period) ([]*Order, error)
	FindByPeriod(ctx context.Context, period Period) ([]*Order, error)
}

// OrderRepository extends OrderSource with intake writes
type OrderRepository interface {
	OrderSource
	Save(ctx context.Context, order *Order) error
	// SaveWithLock updates an existing order, failing with
	// shared.ErrConcurrencyConflict when the stored version moved on.
	SaveWithLock(ctx context.Context, order *Order) error
}

// PayoutRepository stores payout records keyed by (seller, period)
type PayoutRepository interface {
	// FindByKey returns nil, nil when no record exists
	FindByKey(ctx context.Context, key LedgerKey) (*PayoutRecord, error)
	FindByPeriod(ctx context.Context, periodKey string) ([]*PayoutRecord, error)
	// FindBySeller lists every record of a seller, newest period first
	FindBySeller(ctx context.Context, sellerID string) ([]*PayoutRecord, error)
	// Create inserts a new record with its history, failing with
	// ErrPayoutExists if one is already stored for the same key.
	Create(ctx context.Context, record *PayoutRecord) error
	// SaveWithLock persists record only if the stored version is
	// record.Version-1, appending any new history entries. Fails with
	// shared.ErrConcurrencyConflict otherwise.
	SaveWithLock(ctx context.Context, record *PayoutRecord) error
}

// CommissionSettingsRepository stores the single commission configuration
type CommissionSettingsRepository interface {
	// Get returns nil, nil when no settings have been stored
	Get(ctx context.Context) (*CommissionSettings, error)
	Create(ctx context.Context, settings *CommissionSettings) error
	SaveWithLock(ctx context.Context, settings *CommissionSettings) error
}

// CommissionConfigAccessor hands out a policy snapshot. Callers read it once
// per computation batch.
type CommissionConfigAccessor interface {
	CurrentPolicy(ctx context.Context) (CommissionPolicy, error)
}
