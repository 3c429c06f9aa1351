package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/marketplace/payouts/internal/domain/payout"
	"github.com/marketplace/payouts/internal/domain/shared"
	"github.com/marketplace/payouts/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Factory builds the Redis-backed stores when Redis is enabled and reachable,
// and in-memory ones otherwise.
type Factory struct {
	client                *redis.Client
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// FactoryOption is a functional option for configuring the factory
type FactoryOption func(*Factory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable Redis falls back to
// in-memory stores. Default is true.
func WithInMemoryFallback(allow bool) FactoryOption {
	return func(f *Factory) {
		f.allowInMemoryFallback = allow
	}
}

// NewFactory connects to Redis when cfg.Enabled is set
func NewFactory(ctx context.Context, cfg config.RedisConfig, opts ...FactoryOption) (*Factory, error) {
	f := &Factory{
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}

	if !cfg.Enabled {
		f.logger.Info("Redis disabled, using in-memory caches")
		return f, nil
	}

	client, err := NewRedisClient(ctx, cfg)
	if err != nil {
		if !f.allowInMemoryFallback {
			return nil, fmt.Errorf("redis required but unavailable: %w", err)
		}
		f.logger.Warn("Redis unavailable, falling back to in-memory caches. "+
			"Instances will not share ledger caches or event idempotency.",
			zap.String("addr", cfg.Addr()),
			zap.Error(err),
		)
		return f, nil
	}

	f.logger.Info("Connected to Redis", zap.String("addr", cfg.Addr()))
	f.client = client
	return f, nil
}

// UsesRedis reports whether the factory hands out Redis-backed stores
func (f *Factory) UsesRedis() bool {
	return f.client != nil
}

// Client returns the Redis client, or nil
func (f *Factory) Client() *redis.Client {
	return f.client
}

// IdempotencyStore returns the store used by idempotent event handlers
func (f *Factory) IdempotencyStore() shared.IdempotencyStore {
	if f.client != nil {
		return NewRedisIdempotencyStore(f.client, "")
	}
	return NewInMemoryIdempotencyStore()
}

// LedgerCache returns the ledger entry cache
func (f *Factory) LedgerCache(ttl time.Duration) payout.LedgerCache {
	if f.client != nil {
		return NewRedisLedgerCache(f.client, "", ttl)
	}
	return NewInMemoryLedgerCache(ttl)
}

// Ping checks the Redis connection; it always succeeds without Redis
func (f *Factory) Ping(ctx context.Context) error {
	if f.client == nil {
		return nil
	}
	return f.client.Ping(ctx).Err()
}

// Close closes the Redis client if one was opened
func (f *Factory) Close() error {
	if f.client == nil {
		return nil
	}
	return f.client.Close()
}
