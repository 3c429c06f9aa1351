package payout

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/marketplace/payouts/internal/domain/payout"
	"github.com/marketplace/payouts/internal/domain/shared"
)

// RetryPolicy bounds the exponential backoff applied to transient I/O
// against the order source and the payout store.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	// MaxAttempts caps the attempts regardless of elapsed time; 0 means no cap
	MaxAttempts uint64
}

// DefaultRetryPolicy retries for up to five seconds
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
		MaxElapsedTime:  5 * time.Second,
	}
}

// NoRetry runs every operation exactly once
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	eb.MaxElapsedTime = p.MaxElapsedTime

	var b backoff.BackOff = eb
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, p.MaxAttempts-1)
	}
	return backoff.WithContext(b, ctx)
}

// isTransient reports whether err may succeed on a later attempt.
// Business decisions and cancellations are final.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !shared.IsDomainError(err)
}

// isConflict reports whether err is a lost compare-and-set or create race.
// The caller reloads and re-evaluates on the next attempt.
func isConflict(err error) bool {
	return errors.Is(err, shared.ErrConcurrencyConflict) || errors.Is(err, payout.ErrPayoutExists)
}

func retryIf[T any](ctx context.Context, p RetryPolicy, retryable func(error) bool, op func() (T, error)) (T, error) {
	return backoff.RetryWithData(func() (T, error) {
		v, err := op()
		if err != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, p.backOff(ctx))
}

// retryRead runs op with backoff, retrying only transient failures
func retryRead[T any](ctx context.Context, p RetryPolicy, op func() (T, error)) (T, error) {
	return retryIf(ctx, p, isTransient, op)
}

// retryOnConflict runs a load-mutate-save op, retrying transient failures
// and lost races
func retryOnConflict[T any](ctx context.Context, p RetryPolicy, op func() (T, error)) (T, error) {
	return retryIf(ctx, p, func(err error) bool {
		return isTransient(err) || isConflict(err)
	}, op)
}

// retryWrite runs op with backoff, retrying only transient failures
func retryWrite(ctx context.Context, p RetryPolicy, op func() error) error {
	_, err := retryRead(ctx, p, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}
