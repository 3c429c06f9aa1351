package payout

import (
	"context"
	"strings"
	"time"
)

// AllSellers scopes a cache key to every seller of a period
const AllSellers = "*"

// LedgerCacheToken identifies the state of one cache key. Delete of the key
// and Flush both move it on.
type LedgerCacheToken struct {
	Generation int64
	Version    int64
}

// LedgerCache holds computed ledger entries so repeated report reads skip the
// order source. Summaries are always re-aggregated from cached entries.
//
// Keys follow ledger:{granularity}:{period_key}:{seller_id|*}.
//
// Writers take a Token before reading the order source and hand it to Set,
// so a build that overlapped an eviction never repopulates the key.
type LedgerCache interface {
	// Get returns the cached entries and true on a hit.
	Get(ctx context.Context, key string) ([]LedgerEntry, bool, error)

	// Token returns the current state of key.
	Token(ctx context.Context, key string) (LedgerCacheToken, error)

	// Set stores entries when key is still at token and reports whether it
	// did. A ttl of 0 uses the implementation default.
	Set(ctx context.Context, key string, token LedgerCacheToken, entries []LedgerEntry, ttl time.Duration) (bool, error)

	// Delete drops the given keys.
	Delete(ctx context.Context, keys ...string) error

	// Flush invalidates every cached ledger.
	Flush(ctx context.Context) error

	Close() error
}

// LedgerCacheKey builds the key for one seller (or AllSellers) and period
func LedgerCacheKey(sellerID string, period Period) string {
	var sb strings.Builder
	sb.WriteString("ledger:")
	sb.WriteString(string(period.Granularity))
	sb.WriteByte(':')
	sb.WriteString(period.Key)
	sb.WriteByte(':')
	sb.WriteString(sellerID)
	return sb.String()
}

// AffectedLedgerKeys lists every cache key whose ledger includes an order of
// sellerID placed at placedAt, for each granularity.
func AffectedLedgerKeys(sellerID string, placedAt time.Time, loc *time.Location) []string {
	granularities := AllGranularities()
	keys := make([]string, 0, 2*len(granularities))
	for _, g := range granularities {
		p := PeriodOf(g, placedAt, loc)
		keys = append(keys, LedgerCacheKey(sellerID, p), LedgerCacheKey(AllSellers, p))
	}
	return keys
}
