package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/marketplace/payouts/internal/domain/payout"
)

type ledgerItem struct {
	entries   []payout.LedgerEntry
	expiresAt time.Time
}

// InMemoryLedgerCache is a process-local payout.LedgerCache
type InMemoryLedgerCache struct {
	mu         sync.RWMutex
	items      map[string]ledgerItem
	versions   map[string]int64
	generation int64
	defaultTTL time.Duration
	now        func() time.Time
}

// NewInMemoryLedgerCache creates a cache whose entries expire after defaultTTL
func NewInMemoryLedgerCache(defaultTTL time.Duration) *InMemoryLedgerCache {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &InMemoryLedgerCache{
		items:      make(map[string]ledgerItem),
		versions:   make(map[string]int64),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Get returns a copy of the cached entries
func (c *InMemoryLedgerCache) Get(_ context.Context, key string) ([]payout.LedgerEntry, bool, error) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()

	if !ok || !c.now().Before(item.expiresAt) {
		return nil, false, nil
	}
	return slices.Clone(item.entries), true, nil
}

// Token returns the current generation and version of key
func (c *InMemoryLedgerCache) Token(_ context.Context, key string) (payout.LedgerCacheToken, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return payout.LedgerCacheToken{Generation: c.generation, Version: c.versions[key]}, nil
}

// Set stores a copy of entries unless key moved past token
func (c *InMemoryLedgerCache) Set(_ context.Context, key string, token payout.LedgerCacheToken, entries []payout.LedgerEntry, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if token.Generation != c.generation || token.Version != c.versions[key] {
		return false, nil
	}
	c.items[key] = ledgerItem{entries: slices.Clone(entries), expiresAt: c.now().Add(ttl)}
	return true, nil
}

// Delete drops the given keys and bumps their versions
func (c *InMemoryLedgerCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.items, k)
		c.versions[k]++
	}
	c.mu.Unlock()
	return nil
}

// Flush drops everything and starts a new generation
func (c *InMemoryLedgerCache) Flush(_ context.Context) error {
	c.mu.Lock()
	clear(c.items)
	clear(c.versions)
	c.generation++
	c.mu.Unlock()
	return nil
}

// Close is a no-op
func (c *InMemoryLedgerCache) Close() error {
	return nil
}

var _ payout.LedgerCache = (*InMemoryLedgerCache)(nil)
