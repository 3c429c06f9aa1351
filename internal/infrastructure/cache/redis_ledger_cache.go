package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/marketplace/payouts/internal/domain/payout"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLedgerPrefix = "payouts:"
	// versionTTL keeps per-key versions well past any ledger build
	versionTTL = 24 * time.Hour
)

// setIfCurrent writes ARGV[3] to KEYS[3] when the generation (KEYS[1]) and
// the key version (KEYS[2]) still equal ARGV[1] and ARGV[2].
var setIfCurrent = redis.NewScript(`
local gen = redis.call('GET', KEYS[1]) or '0'
local ver = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] or ver ~= ARGV[2] then
  return 0
end
redis.call('SET', KEYS[3], ARGV[3], 'PX', ARGV[4])
return 1
`)

// RedisLedgerCache is a payout.LedgerCache shared by all instances.
// Flush bumps a generation counter that is part of every key, so stale
// generations simply age out through their TTL. Delete bumps a per-key
// version. Every key carries the {ledger} hash tag so the compare-and-set
// script stays within one cluster slot.
type RedisLedgerCache struct {
	client     redis.UniversalClient
	prefix     string
	defaultTTL time.Duration
}

// NewRedisLedgerCache wraps an existing client. The client is not closed by Close.
func NewRedisLedgerCache(client redis.UniversalClient, prefix string, defaultTTL time.Duration) *RedisLedgerCache {
	if prefix == "" {
		prefix = defaultLedgerPrefix
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &RedisLedgerCache{client: client, prefix: prefix, defaultTTL: defaultTTL}
}

func (c *RedisLedgerCache) generationKey() string {
	return c.prefix + "{ledger}:generation"
}

func (c *RedisLedgerCache) versionKey(key string) string {
	return c.prefix + "{ledger}:version:" + key
}

func (c *RedisLedgerCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.generationKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read ledger cache generation: %w", err)
	}
	return gen, nil
}

func (c *RedisLedgerCache) fullKey(gen int64, key string) string {
	return c.prefix + "{ledger}:g" + strconv.FormatInt(gen, 10) + ":" + key
}

// Get returns the cached entries for the current generation
func (c *RedisLedgerCache) Get(ctx context.Context, key string) ([]payout.LedgerEntry, bool, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		return nil, false, err
	}
	raw, err := c.client.Get(ctx, c.fullKey(gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read ledger cache: %w", err)
	}

	var entries []payout.LedgerEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		// an undecodable value is treated as a miss and overwritten by the caller
		return nil, false, nil
	}
	return entries, true, nil
}

// Token reads the generation and the version of key
func (c *RedisLedgerCache) Token(ctx context.Context, key string) (payout.LedgerCacheToken, error) {
	vals, err := c.client.MGet(ctx, c.generationKey(), c.versionKey(key)).Result()
	if err != nil {
		return payout.LedgerCacheToken{}, fmt.Errorf("read ledger cache token: %w", err)
	}
	var token payout.LedgerCacheToken
	if token.Generation, err = counterValue(vals[0]); err != nil {
		return payout.LedgerCacheToken{}, err
	}
	if token.Version, err = counterValue(vals[1]); err != nil {
		return payout.LedgerCacheToken{}, err
	}
	return token, nil
}

func counterValue(v any) (int64, error) {
	if v == nil {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected ledger cache counter %T", v)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse ledger cache counter: %w", err)
	}
	return n, nil
}

// Set stores entries under the token's generation unless key moved on
func (c *RedisLedgerCache) Set(ctx context.Context, key string, token payout.LedgerCacheToken, entries []payout.LedgerEntry, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return false, fmt.Errorf("encode ledger entries: %w", err)
	}
	stored, err := setIfCurrent.Run(ctx, c.client,
		[]string{c.generationKey(), c.versionKey(key), c.fullKey(token.Generation, key)},
		strconv.FormatInt(token.Generation, 10),
		strconv.FormatInt(token.Version, 10),
		raw,
		ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("write ledger cache: %w", err)
	}
	return stored == 1, nil
}

// Delete drops the keys in the current generation and bumps their versions
func (c *RedisLedgerCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	gen, err := c.generation(ctx)
	if err != nil {
		return err
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		full := make([]string, len(keys))
		for i, k := range keys {
			full[i] = c.fullKey(gen, k)
			pipe.Incr(ctx, c.versionKey(k))
			pipe.Expire(ctx, c.versionKey(k), versionTTL)
		}
		pipe.Del(ctx, full...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete ledger cache keys: %w", err)
	}
	return nil
}

// Flush starts a new generation
func (c *RedisLedgerCache) Flush(ctx context.Context) error {
	if err := c.client.Incr(ctx, c.generationKey()).Err(); err != nil {
		return fmt.Errorf("flush ledger cache: %w", err)
	}
	return nil
}

// Close is a no-op; the shared client is closed by its owner
func (c *RedisLedgerCache) Close() error {
	return nil
}

var _ payout.LedgerCache = (*RedisLedgerCache)(nil)
