package payout

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace/payouts/internal/domain/payout"
	"github.com/marketplace/payouts/internal/domain/shared"
	"github.com/marketplace/payouts/internal/infrastructure/logger"
	"github.com/marketplace/payouts/internal/infrastructure/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// LedgerService computes ledger entries and seller summaries from the order
// source. Each computation reads the commission policy once and applies that
// snapshot to every order in the batch.
type LedgerService struct {
	orders     payout.OrderSource
	commission payout.CommissionConfigAccessor
	cache      payout.LedgerCache
	cacheTTL   time.Duration
	location   *time.Location
	retry      RetryPolicy
	metrics    *telemetry.PayoutMetrics
	logger     *zap.Logger
	flight     singleflight.Group

	// buildTimeout bounds a shared build, which outlives any single caller
	buildTimeout time.Duration
}

// DefaultLedgerBuildTimeout bounds one ledger build
const DefaultLedgerBuildTimeout = 30 * time.Second

// LedgerServiceOption configures a LedgerService
type LedgerServiceOption func(*LedgerService)

// WithLedgerCache caches computed entries for ttl
func WithLedgerCache(cache payout.LedgerCache, ttl time.Duration) LedgerServiceOption {
	return func(s *LedgerService) {
		s.cache = cache
		s.cacheTTL = ttl
	}
}

// WithLocation sets the time zone used for period boundaries
func WithLocation(loc *time.Location) LedgerServiceOption {
	return func(s *LedgerService) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithRetryPolicy overrides the backoff used for order source reads
func WithRetryPolicy(p RetryPolicy) LedgerServiceOption {
	return func(s *LedgerService) {
		s.retry = p
	}
}

// WithMetrics records cache and build metrics
func WithMetrics(m *telemetry.PayoutMetrics) LedgerServiceOption {
	return func(s *LedgerService) {
		s.metrics = m
	}
}

// WithBuildTimeout bounds each ledger build
func WithBuildTimeout(d time.Duration) LedgerServiceOption {
	return func(s *LedgerService) {
		if d > 0 {
			s.buildTimeout = d
		}
	}
}

// NewLedgerService creates a LedgerService
func NewLedgerService(orders payout.OrderSource, commission payout.CommissionConfigAccessor, logger *zap.Logger, opts ...LedgerServiceOption) *LedgerService {
	s := &LedgerService{
		orders:     orders,
		commission: commission,
		location:   time.UTC,
		retry:      DefaultRetryPolicy(),
		logger:     logger,

		buildTimeout: DefaultLedgerBuildTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location returns the time zone used for period boundaries
func (s *LedgerService) Location() *time.Location {
	return s.location
}

// ParsePeriod resolves a period key in the service's time zone
func (s *LedgerService) ParsePeriod(key string) (payout.Period, error) {
	return payout.ParsePeriod(key, s.location)
}

// Entries returns the ledger entries of sellerID for period, or of every
// seller when sellerID is payout.AllSellers. Results may come from the cache.
//
// Concurrent callers share one build. The build runs detached from the
// callers' cancellation, so one caller giving up does not fail the others.
func (s *LedgerService) Entries(ctx context.Context, sellerID string, period payout.Period) ([]payout.LedgerEntry, error) {
	key := payout.LedgerCacheKey(sellerID, period)
	if entries, ok := s.cached(ctx, key); ok {
		return entries, nil
	}

	// builds started after an eviction must not join one started before it
	token, cacheable := s.cacheToken(ctx, key)
	flightKey := key
	if cacheable {
		flightKey = fmt.Sprintf("%s@%d.%d", key, token.Generation, token.Version)
	}

	ch := s.flight.DoChan(flightKey, func() (any, error) {
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.buildTimeout)
		defer cancel()

		entries, err := s.build(buildCtx, sellerID, period)
		if err != nil {
			return nil, err
		}
		if cacheable {
			stored, err := s.cache.Set(buildCtx, key, token, entries, s.cacheTTL)
			switch {
			case err != nil:
				logger.Enrich(ctx, s.logger).Warn("ledger cache write failed", zap.String("key", key), zap.Error(err))
			case !stored:
				logger.Enrich(ctx, s.logger).Debug("ledger cache write skipped, key invalidated during build", zap.String("key", key))
			}
		}
		return entries, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			logger.Enrich(ctx, s.logger).Debug("ledger build shared with concurrent caller", zap.String("key", key))
		}
		return res.Val.([]payout.LedgerEntry), nil
	}
}

// FreshEntries computes entries straight from the order source, bypassing the cache
func (s *LedgerService) FreshEntries(ctx context.Context, sellerID string, period payout.Period) ([]payout.LedgerEntry, error) {
	return s.build(ctx, sellerID, period)
}

// SellerLedger returns the seller's summary for period. A seller without
// orders gets an empty summary.
func (s *LedgerService) SellerLedger(ctx context.Context, sellerID string, period payout.Period) (*payout.SellerLedgerSummary, []payout.LedgerEntry, error) {
	entries, err := s.Entries(ctx, sellerID, period)
	if err != nil {
		return nil, nil, err
	}
	summary, err := summarize(ctx, s.logger, sellerID, period, entries)
	return summary, entries, err
}

// FreshSellerLedger is SellerLedger computed without the cache. Payout
// transitions verify amounts against it.
func (s *LedgerService) FreshSellerLedger(ctx context.Context, sellerID string, period payout.Period) (*payout.SellerLedgerSummary, error) {
	entries, err := s.FreshEntries(ctx, sellerID, period)
	if err != nil {
		return nil, err
	}
	return summarize(ctx, s.logger, sellerID, period, entries)
}

// PeriodLedgers returns one summary per seller with orders in period, sorted by seller
func (s *LedgerService) PeriodLedgers(ctx context.Context, period payout.Period) ([]*payout.SellerLedgerSummary, error) {
	entries, err := s.Entries(ctx, payout.AllSellers, period)
	if err != nil {
		return nil, err
	}
	summaries, err := payout.Aggregate(entries)
	if err != nil {
		logInconsistency(ctx, s.logger, err)
		return nil, err
	}
	return payout.SortedSummaries(summaries), nil
}

// OrderEntry loads one order and computes its entry for the month it was placed in
func (s *LedgerService) OrderEntry(ctx context.Context, orderID uuid.UUID) (*payout.Order, payout.LedgerEntry, error) {
	order, err := retryRead(ctx, s.retry, func() (*payout.Order, error) {
		return s.orders.FindByID(ctx, orderID)
	})
	if err != nil {
		return nil, payout.LedgerEntry{}, err
	}
	if order == nil {
		return nil, payout.LedgerEntry{}, shared.ErrNotFound
	}

	policy, err := s.commission.CurrentPolicy(ctx)
	if err != nil {
		return nil, payout.LedgerEntry{}, err
	}
	builder := payout.LedgerBuilder{Policy: policy, Granularity: payout.GranularityMonth, Location: s.location}
	entry, err := builder.Build(order)
	if err != nil {
		return nil, payout.LedgerEntry{}, err
	}
	return order, entry, nil
}

func (s *LedgerService) cached(ctx context.Context, key string) ([]payout.LedgerEntry, bool) {
	if s.cache == nil {
		return nil, false
	}
	entries, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		logger.Enrich(ctx, s.logger).Warn("ledger cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	s.metrics.RecordCacheLookup(ctx, ok)
	return entries, ok
}

func (s *LedgerService) cacheToken(ctx context.Context, key string) (payout.LedgerCacheToken, bool) {
	if s.cache == nil {
		return payout.LedgerCacheToken{}, false
	}
	token, err := s.cache.Token(ctx, key)
	if err != nil {
		logger.Enrich(ctx, s.logger).Warn("ledger cache token read failed", zap.String("key", key), zap.Error(err))
		return payout.LedgerCacheToken{}, false
	}
	return token, true
}

func (s *LedgerService) build(ctx context.Context, sellerID string, period payout.Period) ([]payout.LedgerEntry, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "LedgerService", "build",
		telemetry.WithAttribute("seller_id", sellerID),
		telemetry.WithAttribute("period", period.Key),
	)
	defer span.End()
	started := time.Now()

	orders, err := retryRead(ctx, s.retry, func() ([]*payout.Order, error) {
		if sellerID == payout.AllSellers {
			return s.orders.FindByPeriod(ctx, period)
		}
		return s.orders.FindBySellerAndPeriod(ctx, sellerID, period)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	policy, err := s.commission.CurrentPolicy(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	granularity := period.Granularity
	if !granularity.IsValid() {
		granularity = payout.GranularityAll
	}
	builder := payout.LedgerBuilder{Policy: policy, Granularity: granularity, Location: s.location}
	entries, err := builder.BuildAll(orders)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	slices.SortFunc(entries, func(a, b payout.LedgerEntry) int {
		return a.PlacedAt.Compare(b.PlacedAt)
	})

	s.metrics.RecordLedgerBuild(ctx, time.Since(started), len(orders))
	telemetry.SetAttributes(span, "orders", len(orders))
	return entries, nil
}

func summarize(ctx context.Context, log *zap.Logger, sellerID string, period payout.Period, entries []payout.LedgerEntry) (*payout.SellerLedgerSummary, error) {
	summary := payout.NewSellerLedgerSummary(sellerID, period)
	for _, entry := range entries {
		var err error
		if summary, err = payout.FoldEntry(summary, entry); err != nil {
			logInconsistency(ctx, log, err)
			return nil, err
		}
	}
	return summary, nil
}

func logInconsistency(ctx context.Context, log *zap.Logger, err error) {
	var inconsistent *payout.InconsistentLedgerError
	if errors.As(err, &inconsistent) {
		logger.Enrich(ctx, log).Error("inconsistent ledger",
			zap.String("seller_id", inconsistent.SellerID),
			zap.String("period", inconsistent.PeriodKey),
			zap.String("order_id", inconsistent.OrderID.String()),
			zap.String("existing_gross", inconsistent.ExistingGross.String()),
			zap.String("conflicting_gross", inconsistent.ConflictingGross.String()),
			zap.String("reason", inconsistent.Reason),
		)
	}
}
