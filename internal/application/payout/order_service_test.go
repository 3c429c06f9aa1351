package payout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace/payouts/internal/domain/payout"
	"github.com/marketplace/payouts/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newOrderService(repo payout.OrderRepository, rate string) (*OrderService, *MockEventPublisher) {
	publisher := new(MockEventPublisher)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)
	svc := NewOrderService(repo, flatRate(rate), time.UTC, zap.NewNop())
	svc.SetRetryPolicy(fastRetry())
	svc.SetEventPublisher(publisher)
	return svc, publisher
}

func TestOrderService_RecordOrder(t *testing.T) {
	ctx := context.Background()
	placedAt := juneTime

	t.Run("computes the split and captures the rate", func(t *testing.T) {
		repo := new(MockOrderRepository)
		repo.On("Save", mock.Anything, mock.AnythingOfType("*payout.Order")).Return(nil)
		svc, publisher := newOrderService(repo, "0.10")

		resp, err := svc.RecordOrder(ctx, RecordOrderRequest{
			SellerID: "seller-1",
			BuyerID:  "buyer-1",
			Items: []LineItemInput{
				{ProductID: "p-1", UnitPrice: d("19.99"), Quantity: 1},
				{ProductID: "p-2", UnitPrice: d("5.00"), Quantity: 2},
			},
			PlacedAt: &placedAt,
		})
		require.NoError(t, err)

		assert.Equal(t, "confirmed", resp.Status)
		assert.Equal(t, "EUR", resp.Currency)
		assert.Regexp(t, `^ORD-\d+-[0-9A-Z]{9}$`, resp.OrderNumber)
		assert.Equal(t, "10.00", resp.CapturedRatePercent)
		assert.Equal(t, "29.99", resp.Ledger.GrossAmount)
		assert.Equal(t, "3.00", resp.Ledger.CommissionAmount)
		assert.Equal(t, "26.99", resp.Ledger.NetAmount)
		assert.Equal(t, "2024-06", resp.Ledger.Period)
		assert.Equal(t, "10.00", resp.Items[1].Subtotal)

		saved := repo.Calls[0].Arguments.Get(1).(*payout.Order)
		require.NotNil(t, saved.CommissionRate)
		assert.True(t, saved.CommissionRate.Equal(d("0.10")))

		events := publisher.Calls[0].Arguments.Get(1).([]shared.DomainEvent)
		require.Len(t, events, 1)
		assert.Equal(t, payout.EventTypeOrderRecorded, events[0].EventType())
		assert.Empty(t, saved.GetDomainEvents())
	})

	t.Run("invalid order is not stored", func(t *testing.T) {
		repo := new(MockOrderRepository)
		svc, _ := newOrderService(repo, "0.10")

		_, err := svc.RecordOrder(ctx, RecordOrderRequest{
			SellerID: "seller-1",
			Items:    []LineItemInput{{ProductID: "p-1", UnitPrice: d("-1.00"), Quantity: 1}},
		})

		var invalid *payout.InvalidOrderError
		require.ErrorAs(t, err, &invalid)
		assert.Contains(t, invalid.Reason, "negative unit price")
		repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("transient save failure is retried", func(t *testing.T) {
		repo := new(MockOrderRepository)
		repo.On("Save", mock.Anything, mock.Anything).Return(errors.New("broken pipe")).Once()
		repo.On("FindByID", mock.Anything, mock.Anything).Return(nil, nil).Once()
		repo.On("Save", mock.Anything, mock.Anything).Return(nil).Once()
		svc, _ := newOrderService(repo, "0.10")

		_, err := svc.RecordOrder(ctx, RecordOrderRequest{
			SellerID: "seller-1",
			Items:    []LineItemInput{{ProductID: "p-1", UnitPrice: d("10.00"), Quantity: 1}},
		})
		require.NoError(t, err)
		repo.AssertNumberOfCalls(t, "Save", 2)
	})

	t.Run("insert committed before a transient error is not repeated", func(t *testing.T) {
		repo := new(MockOrderRepository)
		repo.On("Save", mock.Anything, mock.Anything).Return(errors.New("i/o timeout")).Once()
		repo.On("FindByID", mock.Anything, mock.Anything).Return(testOrder(t, "seller-1", item("10.00", 1)), nil).Once()
		svc, publisher := newOrderService(repo, "0.10")

		resp, err := svc.RecordOrder(ctx, RecordOrderRequest{
			SellerID: "seller-1",
			Items:    []LineItemInput{{ProductID: "p-1", UnitPrice: d("10.00"), Quantity: 1}},
		})
		require.NoError(t, err)
		assert.Equal(t, "9.00", resp.Ledger.NetAmount)
		repo.AssertNumberOfCalls(t, "Save", 1)

		saved := repo.Calls[0].Arguments.Get(1).(*payout.Order)
		lookedUp := repo.Calls[1].Arguments.Get(1).(uuid.UUID)
		assert.Equal(t, saved.ID, lookedUp)
		publisher.AssertNumberOfCalls(t, "Publish", 1)
	})

	t.Run("storage failure surfaces after the attempt cap", func(t *testing.T) {
		repo := new(MockOrderRepository)
		repo.On("Save", mock.Anything, mock.Anything).Return(errors.New("connection refused"))
		repo.On("FindByID", mock.Anything, mock.Anything).Return(nil, nil)
		svc, publisher := newOrderService(repo, "0.10")

		_, err := svc.RecordOrder(ctx, RecordOrderRequest{
			SellerID: "seller-1",
			Items:    []LineItemInput{{ProductID: "p-1", UnitPrice: d("10.00"), Quantity: 1}},
		})
		require.Error(t, err)
		assert.NotErrorIs(t, err, shared.ErrAlreadyExists)
		repo.AssertNumberOfCalls(t, "Save", 4)
		publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	})
}

func TestOrderService_UpdateOrderStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("changes status without touching amounts", func(t *testing.T) {
		o := testOrder(t, "seller-1", item("100.00", 1))
		require.NoError(t, o.CaptureCommissionRate(d("0.10")))
		repo := new(MockOrderRepository)
		repo.On("FindByID", mock.Anything, o.ID).Return(o, nil)
		repo.On("SaveWithLock", mock.Anything, o).Return(nil)
		svc, publisher := newOrderService(repo, "0.25")

		resp, err := svc.UpdateOrderStatus(ctx, o.ID, UpdateOrderStatusRequest{Status: "cancelled"})
		require.NoError(t, err)

		assert.Equal(t, "cancelled", resp.Status)
		assert.Equal(t, "cancelled", resp.Ledger.OrderStatus)
		assert.Equal(t, "90.00", resp.Ledger.NetAmount)
		assert.Equal(t, 2, resp.Version)

		events := publisher.Calls[0].Arguments.Get(1).([]shared.DomainEvent)
		require.Len(t, events, 1)
		changed := events[0].(*payout.OrderStatusChangedEvent)
		assert.Equal(t, payout.OrderStatusConfirmed, changed.PreviousStatus)
		assert.Equal(t, o.PlacedAt, changed.PlacedAt)
	})

	t.Run("same status is a no-op", func(t *testing.T) {
		o := testOrder(t, "seller-1", item("100.00", 1))
		repo := new(MockOrderRepository)
		repo.On("FindByID", mock.Anything, o.ID).Return(o, nil)
		svc, publisher := newOrderService(repo, "0.10")

		_, err := svc.UpdateOrderStatus(ctx, o.ID, UpdateOrderStatusRequest{Status: "confirmed"})
		require.NoError(t, err)
		repo.AssertNotCalled(t, "SaveWithLock", mock.Anything, mock.Anything)
		publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	})

	t.Run("unknown order", func(t *testing.T) {
		id := uuid.New()
		repo := new(MockOrderRepository)
		repo.On("FindByID", mock.Anything, id).Return(nil, nil)
		svc, _ := newOrderService(repo, "0.10")

		_, err := svc.UpdateOrderStatus(ctx, id, UpdateOrderStatusRequest{Status: "shipped"})
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("lost compare-and-set reloads", func(t *testing.T) {
		stale := testOrder(t, "seller-1", item("100.00", 1))
		fresh := *stale
		fresh.Status = payout.OrderStatusPreparing
		fresh.Version = 2

		repo := new(MockOrderRepository)
		repo.On("FindByID", mock.Anything, stale.ID).Return(stale, nil).Once()
		repo.On("FindByID", mock.Anything, stale.ID).Return(&fresh, nil).Once()
		repo.On("SaveWithLock", mock.Anything, mock.Anything).Return(shared.ErrConcurrencyConflict).Once()
		repo.On("SaveWithLock", mock.Anything, mock.Anything).Return(nil).Once()
		svc, _ := newOrderService(repo, "0.10")

		resp, err := svc.UpdateOrderStatus(ctx, stale.ID, UpdateOrderStatusRequest{Status: "shipped"})
		require.NoError(t, err)
		assert.Equal(t, "shipped", resp.Status)
		assert.Equal(t, 3, resp.Version)
	})

	t.Run("status write committed before a transient error", func(t *testing.T) {
		o := testOrder(t, "seller-1", item("100.00", 1))
		committed := *o
		committed.Status = payout.OrderStatusShipped
		committed.Version = 2

		repo := new(MockOrderRepository)
		repo.On("FindByID", mock.Anything, o.ID).Return(o, nil).Once()
		repo.On("FindByID", mock.Anything, o.ID).Return(&committed, nil).Once()
		repo.On("SaveWithLock", mock.Anything, mock.Anything).Return(errors.New("i/o timeout")).Once()
		svc, publisher := newOrderService(repo, "0.10")

		resp, err := svc.UpdateOrderStatus(ctx, o.ID, UpdateOrderStatusRequest{Status: "shipped"})
		require.NoError(t, err)
		assert.Equal(t, "shipped", resp.Status)
		assert.Equal(t, 2, resp.Version)
		repo.AssertNumberOfCalls(t, "SaveWithLock", 1)

		events := publisher.Calls[0].Arguments.Get(1).([]shared.DomainEvent)
		require.Len(t, events, 1)
		assert.Equal(t, payout.EventTypeOrderStatusChanged, events[0].EventType())
	})
}
