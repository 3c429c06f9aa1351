package payout

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace/payouts/internal/domain/payout"
	"github.com/marketplace/payouts/internal/domain/shared"
	"github.com/marketplace/payouts/internal/infrastructure/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLedgerService_SellerLedger(t *testing.T) {
	ctx := context.Background()

	t.Run("two line items at ten percent", func(t *testing.T) {
		orders := new(MockOrderRepository)
		o := testOrder(t, "seller-1", item("19.99", 1), item("5.00", 2))
		orders.On("FindBySellerAndPeriod", mock.Anything, "seller-1", june(t)).Return([]*payout.Order{o}, nil)

		svc := newTestLedger(orders, flatRate("0.10"))
		summary, entries, err := svc.SellerLedger(ctx, "seller-1", june(t))
		require.NoError(t, err)

		require.Len(t, entries, 1)
		assert.Equal(t, "29.99", money(entries[0].GrossAmount))
		assert.Equal(t, "3.00", money(entries[0].CommissionAmount))
		assert.Equal(t, "26.99", money(entries[0].NetAmount))
		assert.Equal(t, "2024-06", entries[0].Period.Key)
		assert.Equal(t, 1, summary.OrderCount)
	})

	t.Run("three orders of one seller", func(t *testing.T) {
		orders := new(MockOrderRepository)
		orders.On("FindBySellerAndPeriod", mock.Anything, "seller-1", june(t)).Return(scenarioOrders(t), nil)

		svc := newTestLedger(orders, flatRate("0.10"))
		summary, _, err := svc.SellerLedger(ctx, "seller-1", june(t))
		require.NoError(t, err)

		assert.Equal(t, 3, summary.OrderCount)
		assert.Equal(t, "175.50", money(summary.TotalGross))
		assert.Equal(t, "17.55", money(summary.TotalCommission))
		assert.Equal(t, "157.95", money(summary.TotalNet))
	})

	t.Run("seller without orders has an empty summary", func(t *testing.T) {
		orders := new(MockOrderRepository)
		orders.On("FindBySellerAndPeriod", mock.Anything, "seller-9", june(t)).Return([]*payout.Order{}, nil)

		svc := newTestLedger(orders, flatRate("0.10"))
		summary, entries, err := svc.SellerLedger(ctx, "seller-9", june(t))
		require.NoError(t, err)
		assert.Empty(t, entries)
		assert.Equal(t, 0, summary.OrderCount)
		assert.True(t, summary.TotalNet.IsZero())
	})

	t.Run("order returned twice with different items is inconsistent", func(t *testing.T) {
		orders := new(MockOrderRepository)
		first := testOrder(t, "seller-1", item("10.00", 1))
		second := testOrder(t, "seller-1", item("12.00", 1))
		second.ID = first.ID
		orders.On("FindBySellerAndPeriod", mock.Anything, "seller-1", june(t)).Return([]*payout.Order{first, second}, nil)

		svc := newTestLedger(orders, flatRate("0.10"))
		_, _, err := svc.SellerLedger(ctx, "seller-1", june(t))

		var inconsistent *payout.InconsistentLedgerError
		require.ErrorAs(t, err, &inconsistent)
		assert.Equal(t, first.ID, inconsistent.OrderID)
	})

	t.Run("invalid order fails the computation", func(t *testing.T) {
		orders := new(MockOrderRepository)
		broken := testOrder(t, "seller-1", item("10.00", 1))
		broken.LineItems = nil
		orders.On("FindBySellerAndPeriod", mock.Anything, "seller-1", june(t)).Return([]*payout.Order{broken}, nil)

		svc := newTestLedger(orders, flatRate("0.10"))
		_, _, err := svc.SellerLedger(ctx, "seller-1", june(t))

		var invalid *payout.InvalidOrderError
		assert.ErrorAs(t, err, &invalid)
	})
}

func TestLedgerService_ReadsPolicyOncePerBatch(t *testing.T) {
	orders := new(MockOrderRepository)
	orders.On("FindByPeriod", mock.Anything, june(t)).Return(scenarioOrders(t), nil)
	policy := flatRate("0.10")

	svc := newTestLedger(orders, policy)
	summaries, err := svc.PeriodLedgers(context.Background(), june(t))
	require.NoError(t, err)

	require.Len(t, summaries, 1)
	assert.Equal(t, 1, policy.Reads())
}

func TestLedgerService_CapturedRateWins(t *testing.T) {
	orders := new(MockOrderRepository)
	captured := testOrder(t, "seller-1", item("100.00", 1))
	require.NoError(t, captured.CaptureCommissionRate(d("0.20")))
	uncaptured := testOrder(t, "seller-1", item("100.00", 1))
	orders.On("FindBySellerAndPeriod", mock.Anything, "seller-1", june(t)).Return([]*payout.Order{captured, uncaptured}, nil)

	svc := newTestLedger(orders, flatRate("0.10"))
	summary, _, err := svc.SellerLedger(context.Background(), "seller-1", june(t))
	require.NoError(t, err)
	assert.Equal(t, "30.00", money(summary.TotalCommission))
}

func TestLedgerService_Retry(t *testing.T) {
	ctx := context.Background()

	t.Run("transient source failure is retried", func(t *testing.T) {
		orders := new(MockOrderRepository)
		orders.On("FindBySellerAndPeriod", mock.Anything, "seller-1", june(t)).Return(nil, errors.New("connection reset")).Once()
		orders.On("FindBySellerAndPeriod", mock.Anything, "seller-1", june(t)).Return(scenarioOrders(t), nil).Once()

		svc := newTestLedger(orders, flatRate("0.10"))
		summary, _, err := svc.SellerLedger(ctx, "seller-1", june(t))
		require.NoError(t, err)
		assert.Equal(t, "157.95", money(summary.TotalNet))
		orders.AssertNumberOfCalls(t, "FindBySellerAndPeriod", 2)
	})

	t.Run("gives up after the attempt cap", func(t *testing.T) {
		orders := new(MockOrderRepository)
		orders.On("FindBySellerAndPeriod", mock.Anything, "seller-1", june(t)).Return(nil, errors.New("connection refused"))

		svc := newTestLedger(orders, flatRate("0.10"))
		_, _, err := svc.SellerLedger(ctx, "seller-1", june(t))
		require.Error(t, err)
		orders.AssertNumberOfCalls(t, "FindBySellerAndPeriod", 4)
	})

	t.Run("domain errors are not retried", func(t *testing.T) {
		orders := new(MockOrderRepository)
		orders.On("FindBySellerAndPeriod", mock.Anything, "seller-1", june(t)).Return(nil, shared.ErrForbidden)

		svc := newTestLedger(orders, flatRate("0.10"))
		_, _, err := svc.SellerLedger(ctx, "seller-1", june(t))
		assert.ErrorIs(t, err, shared.ErrForbidden)
		orders.AssertNumberOfCalls(t, "FindBySellerAndPeriod", 1)
	})
}

func TestLedgerService_Cache(t *testing.T) {
	ctx := context.Background()
	orders := new(MockOrderRepository)
	orders.On("FindBySellerAndPeriod", mock.Anything, "seller-1", june(t)).Return(scenarioOrders(t), nil)
	ledgerCache := cache.NewInMemoryLedgerCache(time.Minute)

	svc := newTestLedger(orders, flatRate("0.10"), WithLedgerCache(ledgerCache, time.Minute))

	first, _, err := svc.SellerLedger(ctx, "seller-1", june(t))
	require.NoError(t, err)
	second, _, err := svc.SellerLedger(ctx, "seller-1", june(t))
	require.NoError(t, err)

	assert.True(t, first.TotalNet.Equal(second.TotalNet))
	orders.AssertNumberOfCalls(t, "FindBySellerAndPeriod", 1)

	t.Run("fresh ledger bypasses the cache", func(t *testing.T) {
		_, err := svc.FreshSellerLedger(ctx, "seller-1", june(t))
		require.NoError(t, err)
		orders.AssertNumberOfCalls(t, "FindBySellerAndPeriod", 2)
	})

	t.Run("eviction forces a rebuild", func(t *testing.T) {
		invalidator := NewLedgerCacheInvalidator(ledgerCache, time.UTC, zap.NewNop())
		o := testOrder(t, "seller-1", item("1.00", 1))
		require.NoError(t, invalidator.Handle(ctx, payout.NewOrderRecordedEvent(o)))

		_, _, err := svc.SellerLedger(ctx, "seller-1", june(t))
		require.NoError(t, err)
		orders.AssertNumberOfCalls(t, "FindBySellerAndPeriod", 3)
	})
}

func TestLedgerService_ConcurrentBuildsShareOneLoad(t *testing.T) {
	release := make(chan time.Time)
	orders := new(MockOrderRepository)
	orders.On("FindByPeriod", mock.Anything, june(t)).
		WaitUntil(release).
		Return(scenarioOrders(t), nil)

	svc := newTestLedger(orders, flatRate("0.10"))

	var wg sync.WaitGroup
	results := make([][]payout.LedgerEntry, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entries, err := svc.Entries(context.Background(), payout.AllSellers, june(t))
			assert.NoError(t, err)
			results[i] = entries
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, entries := range results {
		assert.Len(t, entries, 3)
	}
	calls := 0
	for _, c := range orders.Calls {
		if c.Method == "FindByPeriod" {
			calls++
		}
	}
	assert.Less(t, calls, 5)
}

func TestLedgerService_EvictionDuringBuildIsNotCached(t *testing.T) {
	ctx := context.Background()
	ledgerCache := cache.NewInMemoryLedgerCache(time.Minute)
	invalidator := NewLedgerCacheInvalidator(ledgerCache, time.UTC, zap.NewNop())

	before := scenarioOrders(t)
	late := testOrder(t, "seller-1", item("10.00", 1))
	after := append(slices.Clone(before), late)

	started := make(chan struct{})
	release := make(chan struct{})
	orders := new(MockOrderRepository)
	orders.On("FindBySellerAndPeriod", mock.Anything, "seller-1", june(t)).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(before, nil).Once()
	orders.On("FindBySellerAndPeriod", mock.Anything, "seller-1", june(t)).Return(after, nil)

	svc := newTestLedger(orders, flatRate("0.10"), WithLedgerCache(ledgerCache, time.Minute))

	done := make(chan *payout.SellerLedgerSummary)
	go func() {
		summary, _, err := svc.SellerLedger(ctx, "seller-1", june(t))
		assert.NoError(t, err)
		done <- summary
	}()

	<-started
	require.NoError(t, invalidator.Handle(ctx, payout.NewOrderRecordedEvent(late)))
	close(release)
	assert.Equal(t, 3, (<-done).OrderCount, "the in-flight build still answers its caller")

	summary, _, err := svc.SellerLedger(ctx, "seller-1", june(t))
	require.NoError(t, err)
	assert.Equal(t, 4, summary.OrderCount)
	assert.Equal(t, "185.50", money(summary.TotalGross))
	orders.AssertNumberOfCalls(t, "FindBySellerAndPeriod", 2)
}

func TestLedgerService_CancelledCallerDoesNotFailSharedBuild(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	orders := new(MockOrderRepository)
	orders.On("FindBySellerAndPeriod", mock.Anything, "seller-1", june(t)).
		Run(func(args mock.Arguments) {
			close(started)
			<-release
			assert.NoError(t, args.Get(0).(context.Context).Err())
		}).
		Return(scenarioOrders(t), nil).Once()
	orders.On("FindBySellerAndPeriod", mock.Anything, "seller-1", june(t)).Return(scenarioOrders(t), nil)

	svc := newTestLedger(orders, flatRate("0.10"))

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error)
	go func() {
		_, err := svc.Entries(firstCtx, "seller-1", june(t))
		firstErr <- err
	}()
	<-started

	secondDone := make(chan []payout.LedgerEntry)
	go func() {
		entries, err := svc.Entries(context.Background(), "seller-1", june(t))
		assert.NoError(t, err)
		secondDone <- entries
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	assert.Len(t, <-secondDone, 3)
}

func TestLedgerService_OrderEntry(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		orders := new(MockOrderRepository)
		o := testOrder(t, "seller-1", item("19.99", 1), item("5.00", 2))
		orders.On("FindByID", mock.Anything, o.ID).Return(o, nil)

		svc := newTestLedger(orders, flatRate("0.10"))
		got, entry, err := svc.OrderEntry(ctx, o.ID)
		require.NoError(t, err)
		assert.Same(t, o, got)
		assert.Equal(t, "26.99", money(entry.NetAmount))
		assert.Equal(t, "2024-06", entry.Period.Key)
	})

	t.Run("unknown order", func(t *testing.T) {
		orders := new(MockOrderRepository)
		id := uuid.New()
		orders.On("FindByID", mock.Anything, id).Return(nil, nil)

		svc := newTestLedger(orders, flatRate("0.10"))
		_, _, err := svc.OrderEntry(ctx, id)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}
