package payout

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace/payouts/internal/domain/payout"
	"github.com/marketplace/payouts/internal/domain/shared"
	"github.com/marketplace/payouts/internal/infrastructure/logger"
	"github.com/marketplace/payouts/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// OrderService handles order intake and fulfilment status changes
type OrderService struct {
	repo           payout.OrderRepository
	commission     payout.CommissionConfigAccessor
	location       *time.Location
	retry          RetryPolicy
	eventPublisher shared.EventPublisher
	logger         *zap.Logger
}

// NewOrderService creates a new OrderService
func NewOrderService(repo payout.OrderRepository, commission payout.CommissionConfigAccessor, loc *time.Location, logger *zap.Logger) *OrderService {
	if loc == nil {
		loc = time.UTC
	}
	return &OrderService{
		repo:       repo,
		commission: commission,
		location:   loc,
		retry:      DefaultRetryPolicy(),
		logger:     logger,
	}
}

// SetEventPublisher sets the event publisher for cross-context integration
func (s *OrderService) SetEventPublisher(publisher shared.EventPublisher) {
	s.eventPublisher = publisher
}

// SetRetryPolicy overrides the backoff used for store access
func (s *OrderService) SetRetryPolicy(p RetryPolicy) {
	s.retry = p
}

// RecordOrder validates and stores a new order, pinning the commission rate
// in effect now so later rate changes leave its ledger entry untouched
func (s *OrderService) RecordOrder(ctx context.Context, req RecordOrderRequest) (*OrderResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "OrderService", "RecordOrder",
		telemetry.WithAttribute("seller_id", req.SellerID),
		telemetry.WithAttribute("items", len(req.Items)),
	)
	defer span.End()

	items := make([]payout.LineItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = payout.LineItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
		}
	}
	currency := req.Currency
	if currency == "" {
		currency = payout.DefaultCurrency
	}
	var placedAt time.Time
	if req.PlacedAt != nil {
		placedAt = *req.PlacedAt
	}

	order, err := payout.NewOrder(req.SellerID, req.BuyerID, currency, items, placedAt)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	policy, err := s.commission.CurrentPolicy(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if err := order.CaptureCommissionRate(policy.RateFor(order)); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	entry, err := s.builder(policy).Build(order)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	if err := s.save(ctx, order); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	s.publish(ctx, order)

	logger.Enrich(ctx, s.logger).Info("order recorded",
		zap.String("order_id", order.ID.String()),
		zap.String("order_number", order.OrderNumber),
		zap.String("seller_id", order.SellerID),
		zap.String("gross", money(entry.GrossAmount)),
	)
	resp := ToOrderResponse(order, entry)
	return &resp, nil
}

// UpdateOrderStatus changes the fulfilment status. Ledger amounts do not change.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, req UpdateOrderStatusRequest) (*OrderResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "OrderService", "UpdateOrderStatus",
		telemetry.WithAttribute("order_id", orderID.String()),
		telemetry.WithAttribute("status", req.Status),
	)
	defer span.End()

	var unconfirmed *payout.Order
	order, err := retryOnConflict(ctx, s.retry, func() (*payout.Order, error) {
		order, err := s.repo.FindByID(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if order == nil {
			return nil, shared.ErrNotFound
		}
		if unconfirmed != nil && order.Version == unconfirmed.Version && order.Status == unconfirmed.Status {
			return unconfirmed, nil
		}
		previousVersion := order.Version
		if err := order.UpdateStatus(payout.OrderStatus(req.Status)); err != nil {
			return nil, err
		}
		if order.Version == previousVersion {
			return order, nil
		}
		if err := s.repo.SaveWithLock(ctx, order); err != nil {
			if isTransient(err) {
				unconfirmed = order
			}
			return nil, err
		}
		return order, nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	s.publish(ctx, order)

	policy, err := s.commission.CurrentPolicy(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	entry, err := s.builder(policy).Build(order)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	resp := ToOrderResponse(order, entry)
	return &resp, nil
}

// save inserts order. After a transient failure the insert may still have
// committed, so each retry first looks the order up by its ID.
func (s *OrderService) save(ctx context.Context, order *payout.Order) error {
	attempted := false
	return retryWrite(ctx, s.retry, func() error {
		if attempted {
			stored, err := s.repo.FindByID(ctx, order.ID)
			if err != nil {
				return err
			}
			if stored != nil {
				logger.Enrich(ctx, s.logger).Info("order insert had committed before the error",
					zap.String("order_id", order.ID.String()),
				)
				return nil
			}
		}
		attempted = true
		return s.repo.Save(ctx, order)
	})
}

func (s *OrderService) builder(policy payout.CommissionPolicy) payout.LedgerBuilder {
	return payout.LedgerBuilder{Policy: policy, Granularity: payout.GranularityMonth, Location: s.location}
}

func (s *OrderService) publish(ctx context.Context, order *payout.Order) {
	events := order.GetDomainEvents()
	order.ClearDomainEvents()
	if s.eventPublisher == nil || len(events) == 0 {
		return
	}
	if err := s.eventPublisher.Publish(ctx, events...); err != nil {
		logger.Enrich(ctx, s.logger).Warn("failed to publish order events",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
	}
}
