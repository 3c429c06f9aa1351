package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrMeterNil is returned when a metrics constructor receives no meter
var ErrMeterNil = errors.New("telemetry: meter is nil")

// PayoutMetrics records payout lifecycle and ledger computation metrics.
// A nil *PayoutMetrics is valid and records nothing.
type PayoutMetrics struct {
	transitions    metric.Int64Counter
	mismatches     metric.Int64Counter
	conflicts      metric.Int64Counter
	cacheRequests  metric.Int64Counter
	ledgerDuration metric.Float64Histogram
	ledgerOrders   metric.Int64Histogram
}

// NewPayoutMetrics registers the payout instruments on meter
func NewPayoutMetrics(meter metric.Meter) (*PayoutMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	var (
		m   PayoutMetrics
		err error
	)
	if m.transitions, err = meter.Int64Counter("payout_transitions_total",
		metric.WithDescription("Payout status transitions applied"),
		metric.WithUnit("{transition}")); err != nil {
		return nil, err
	}
	if m.mismatches, err = meter.Int64Counter("payout_amount_mismatch_total",
		metric.WithDescription("Transfers rejected because the amount did not match the net total"),
		metric.WithUnit("{transfer}")); err != nil {
		return nil, err
	}
	if m.conflicts, err = meter.Int64Counter("payout_transition_conflicts_total",
		metric.WithDescription("Concurrent updates detected on a payout record"),
		metric.WithUnit("{conflict}")); err != nil {
		return nil, err
	}
	if m.cacheRequests, err = meter.Int64Counter("ledger_cache_requests_total",
		metric.WithDescription("Ledger cache lookups by result"),
		metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	if m.ledgerDuration, err = meter.Float64Histogram("ledger_build_duration",
		metric.WithDescription("Time spent loading orders and building a ledger"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.ledgerOrders, err = meter.Int64Histogram("ledger_build_orders",
		metric.WithDescription("Orders folded into one ledger computation"),
		metric.WithUnit("{order}")); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordTransition counts a transition into status `to`
func (m *PayoutMetrics) RecordTransition(ctx context.Context, to string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", to)))
}

// RecordAmountMismatch counts a rejected transfer
func (m *PayoutMetrics) RecordAmountMismatch(ctx context.Context) {
	if m == nil {
		return
	}
	m.mismatches.Add(ctx, 1)
}

// RecordConflict counts a lost compare-and-set on a payout record
func (m *PayoutMetrics) RecordConflict(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// RecordCacheLookup counts a ledger cache hit or miss
func (m *PayoutMetrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordLedgerBuild records how long a ledger took to build and how many orders it covered
func (m *PayoutMetrics) RecordLedgerBuild(ctx context.Context, elapsed time.Duration, orders int) {
	if m == nil {
		return
	}
	m.ledgerDuration.Record(ctx, elapsed.Seconds())
	m.ledgerOrders.Record(ctx, int64(orders))
}
