package payout

import (
	"context"
	"fmt"
	"time"

	"github.com/marketplace/payouts/internal/domain/payout"
	"github.com/marketplace/payouts/internal/domain/shared"
	"github.com/marketplace/payouts/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// LedgerCacheInvalidator handles order and commission events and evicts the
// cached ledgers they make stale
type LedgerCacheInvalidator struct {
	cache    payout.LedgerCache
	location *time.Location
	logger   *zap.Logger
}

// NewLedgerCacheInvalidator creates a new invalidation handler
func NewLedgerCacheInvalidator(cache payout.LedgerCache, loc *time.Location, logger *zap.Logger) *LedgerCacheInvalidator {
	if loc == nil {
		loc = time.UTC
	}
	return &LedgerCacheInvalidator{
		cache:    cache,
		location: loc,
		logger:   logger,
	}
}

// EventTypes returns the event types this handler is interested in
func (h *LedgerCacheInvalidator) EventTypes() []string {
	return []string{
		payout.EventTypeOrderRecorded,
		payout.EventTypeOrderStatusChanged,
		payout.EventTypeCommissionRateChanged,
	}
}

// Handle evicts every ledger containing the order, or flushes the whole cache
// when commission settings changed
func (h *LedgerCacheInvalidator) Handle(ctx context.Context, evt shared.DomainEvent) error {
	log := logger.Enrich(ctx, h.logger).With(
		zap.String("event_type", evt.EventType()),
		zap.String("event_id", evt.EventID().String()),
	)

	switch e := evt.(type) {
	case *payout.OrderRecordedEvent:
		return h.evict(ctx, log, e.SellerID, e.PlacedAt)
	case *payout.OrderStatusChangedEvent:
		return h.evict(ctx, log, e.SellerID, e.PlacedAt)
	case *payout.CommissionRateChangedEvent:
		if err := h.cache.Flush(ctx); err != nil {
			return fmt.Errorf("flush ledger cache: %w", err)
		}
		log.Info("ledger cache flushed", zap.String("rate", e.Rate.String()), zap.Bool("active", e.Active))
		return nil
	default:
		return fmt.Errorf("unexpected event type: %s", evt.EventType())
	}
}

func (h *LedgerCacheInvalidator) evict(ctx context.Context, log *zap.Logger, sellerID string, placedAt time.Time) error {
	keys := payout.AffectedLedgerKeys(sellerID, placedAt, h.location)
	if err := h.cache.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("evict ledgers of seller %s: %w", sellerID, err)
	}
	log.Debug("ledger cache entries evicted", zap.String("seller_id", sellerID), zap.Int("keys", len(keys)))
	return nil
}

var _ shared.EventHandler = (*LedgerCacheInvalidator)(nil)
