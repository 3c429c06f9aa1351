package payout

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace/payouts/internal/domain/payout"
	"github.com/marketplace/payouts/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockOrderRepository is a mock implementation of payout.OrderRepository
type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*payout.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payout.Order), args.Error(1)
}

func (m *MockOrderRepository) FindBySellerAndPeriod(ctx context.Context, sellerID string, period payout.Period) ([]*payout.Order, error) {
	args := m.Called(ctx, sellerID, period)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*payout.Order), args.Error(1)
}

func (m *MockOrderRepository) FindByPeriod(ctx context.Context, period payout.Period) ([]*payout.Order, error) {
	args := m.Called(ctx, period)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*payout.Order), args.Error(1)
}

func (m *MockOrderRepository) Save(ctx context.Context, order *payout.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

func (m *MockOrderRepository) SaveWithLock(ctx context.Context, order *payout.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

// MockPayoutRepository is a mock implementation of payout.PayoutRepository
type MockPayoutRepository struct {
	mock.Mock
}

func (m *MockPayoutRepository) FindByKey(ctx context.Context, key payout.LedgerKey) (*payout.PayoutRecord, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payout.PayoutRecord), args.Error(1)
}

func (m *MockPayoutRepository) FindByPeriod(ctx context.Context, periodKey string) ([]*payout.PayoutRecord, error) {
	args := m.Called(ctx, periodKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*payout.PayoutRecord), args.Error(1)
}

func (m *MockPayoutRepository) FindBySeller(ctx context.Context, sellerID string) ([]*payout.PayoutRecord, error) {
	args := m.Called(ctx, sellerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*payout.PayoutRecord), args.Error(1)
}

func (m *MockPayoutRepository) Create(ctx context.Context, record *payout.PayoutRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockPayoutRepository) SaveWithLock(ctx context.Context, record *payout.PayoutRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

// MockCommissionSettingsRepository is a mock implementation of payout.CommissionSettingsRepository
type MockCommissionSettingsRepository struct {
	mock.Mock
}

func (m *MockCommissionSettingsRepository) Get(ctx context.Context) (*payout.CommissionSettings, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payout.CommissionSettings), args.Error(1)
}

func (m *MockCommissionSettingsRepository) Create(ctx context.Context, settings *payout.CommissionSettings) error {
	args := m.Called(ctx, settings)
	return args.Error(0)
}

func (m *MockCommissionSettingsRepository) SaveWithLock(ctx context.Context, settings *payout.CommissionSettings) error {
	args := m.Called(ctx, settings)
	return args.Error(0)
}

// MockEventPublisher records published events
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

// MockReportStorage is a mock implementation of ReportStorage
type MockReportStorage struct {
	mock.Mock
}

func (m *MockReportStorage) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	args := m.Called(ctx, key, data, contentType)
	return args.Error(0)
}

func (m *MockReportStorage) GenerateDownloadURL(ctx context.Context, key string, expiresIn time.Duration) (string, time.Time, error) {
	args := m.Called(ctx, key, expiresIn)
	return args.String(0), args.Get(1).(time.Time), args.Error(2)
}

// staticPolicy is a CommissionConfigAccessor returning a fixed policy and
// counting how often it was consulted
type staticPolicy struct {
	mu     sync.Mutex
	policy payout.CommissionPolicy
	reads  int
}

func flatRate(rate string) *staticPolicy {
	return &staticPolicy{policy: payout.CapturedRatePolicy{Fallback: payout.FlatRatePolicy{Rate: d(rate)}}}
}

func (p *staticPolicy) CurrentPolicy(context.Context) (payout.CommissionPolicy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads++
	return p.policy, nil
}

func (p *staticPolicy) Reads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reads
}

// memoryPayoutRepository stores copies of payout records and enforces the
// same create-if-absent and version compare-and-set rules as the database
type memoryPayoutRepository struct {
	mu      sync.Mutex
	records map[payout.LedgerKey]*payout.PayoutRecord
	saves   int
}

func newMemoryPayoutRepository() *memoryPayoutRepository {
	return &memoryPayoutRepository{records: make(map[payout.LedgerKey]*payout.PayoutRecord)}
}

func clonePayout(r *payout.PayoutRecord) *payout.PayoutRecord {
	c := *r
	c.History = append([]payout.PayoutTransition(nil), r.History...)
	c.ClearDomainEvents()
	return &c
}

func (r *memoryPayoutRepository) FindByKey(_ context.Context, key payout.LedgerKey) (*payout.PayoutRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.records[key]
	if !ok {
		return nil, nil
	}
	return clonePayout(stored), nil
}

func (r *memoryPayoutRepository) FindByPeriod(_ context.Context, periodKey string) ([]*payout.PayoutRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*payout.PayoutRecord
	for key, stored := range r.records {
		if key.PeriodKey == periodKey {
			out = append(out, clonePayout(stored))
		}
	}
	return out, nil
}

func (r *memoryPayoutRepository) FindBySeller(_ context.Context, sellerID string) ([]*payout.PayoutRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*payout.PayoutRecord
	for key, stored := range r.records {
		if key.SellerID == sellerID {
			out = append(out, clonePayout(stored))
		}
	}
	slices.SortFunc(out, func(a, b *payout.PayoutRecord) int {
		return strings.Compare(b.PeriodKey, a.PeriodKey)
	})
	return out, nil
}

func (r *memoryPayoutRepository) Create(_ context.Context, record *payout.PayoutRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[record.Key()]; ok {
		return payout.ErrPayoutExists
	}
	r.records[record.Key()] = clonePayout(record)
	r.saves++
	return nil
}

func (r *memoryPayoutRepository) SaveWithLock(_ context.Context, record *payout.PayoutRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.records[record.Key()]
	if !ok || stored.Version != record.Version-1 {
		return shared.ErrConcurrencyConflict
	}
	r.records[record.Key()] = clonePayout(record)
	r.saves++
	return nil
}

func (r *memoryPayoutRepository) Saves() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func item(price string, qty int) payout.LineItem {
	return payout.LineItem{ProductID: uuid.NewString(), ProductName: "Item", UnitPrice: d(price), Quantity: qty}
}

var juneTime = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

func testOrder(t *testing.T, sellerID string, items ...payout.LineItem) *payout.Order {
	t.Helper()
	o, err := payout.NewOrder(sellerID, "buyer-1", payout.DefaultCurrency, items, juneTime)
	require.NoError(t, err)
	o.ClearDomainEvents()
	return o
}

// scenarioOrders are three orders of seller-1 in June 2024 grossing 175.50
func scenarioOrders(t *testing.T) []*payout.Order {
	return []*payout.Order{
		testOrder(t, "seller-1", item("100.00", 1)),
		testOrder(t, "seller-1", item("50.00", 1)),
		testOrder(t, "seller-1", item("25.50", 1)),
	}
}

func fastRetry() RetryPolicy {
	return RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, MaxAttempts: 4}
}

func june(t *testing.T) payout.Period {
	t.Helper()
	p, err := payout.ParsePeriod("2024-06", time.UTC)
	require.NoError(t, err)
	return p
}

func newTestLedger(orders payout.OrderSource, policy payout.CommissionConfigAccessor, opts ...LedgerServiceOption) *LedgerService {
	opts = append([]LedgerServiceOption{WithRetryPolicy(fastRetry())}, opts...)
	return NewLedgerService(orders, policy, zap.NewNop(), opts...)
}

// lostReplyPayoutRepository commits writes to the embedded repository and
// then reports a transport error for the first lostCreates creates and
// lostSaves saves, like a database whose reply was lost after commit
type lostReplyPayoutRepository struct {
	*memoryPayoutRepository
	lostCreates int
	lostSaves   int
}

var errReplyLost = errors.New("read tcp 10.0.0.5:5432: i/o timeout")

func (r *lostReplyPayoutRepository) Create(ctx context.Context, record *payout.PayoutRecord) error {
	if err := r.memoryPayoutRepository.Create(ctx, record); err != nil {
		return err
	}
	if r.lostCreates > 0 {
		r.lostCreates--
		return errReplyLost
	}
	return nil
}

func (r *lostReplyPayoutRepository) SaveWithLock(ctx context.Context, record *payout.PayoutRecord) error {
	if err := r.memoryPayoutRepository.SaveWithLock(ctx, record); err != nil {
		return err
	}
	if r.lostSaves > 0 {
		r.lostSaves--
		return errReplyLost
	}
	return nil
}
