package payout

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/marketplace/payouts/internal/domain/payout"
	"github.com/marketplace/payouts/internal/domain/shared"
	"github.com/marketplace/payouts/internal/infrastructure/logger"
	"github.com/marketplace/payouts/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PayoutLifecycleService moves seller payouts through OWED, PROCESSING and
// TRANSFERRED. Every transition is re-evaluated against the freshly stored
// record and a freshly computed ledger, and persisted with a version check.
type PayoutLifecycleService struct {
	ledger         *LedgerService
	payouts        payout.PayoutRepository
	tolerance      decimal.Decimal
	retry          RetryPolicy
	metrics        *telemetry.PayoutMetrics
	eventPublisher shared.EventPublisher
	logger         *zap.Logger
	now            func() time.Time
}

// NewPayoutLifecycleService creates a new PayoutLifecycleService. A zero
// tolerance requires transfers to match the ledger exactly; a negative one
// falls back to payout.DefaultAmountTolerance.
func NewPayoutLifecycleService(ledger *LedgerService, payouts payout.PayoutRepository, tolerance decimal.Decimal, logger *zap.Logger) *PayoutLifecycleService {
	if tolerance.IsNegative() {
		tolerance = payout.DefaultAmountTolerance
	}
	return &PayoutLifecycleService{
		ledger:    ledger,
		payouts:   payouts,
		tolerance: tolerance,
		retry:     DefaultRetryPolicy(),
		logger:    logger,
		now:       time.Now,
	}
}

// SetEventPublisher sets the event publisher for cross-context integration
func (s *PayoutLifecycleService) SetEventPublisher(publisher shared.EventPublisher) {
	s.eventPublisher = publisher
}

// SetRetryPolicy overrides the backoff used for conflicts and store access
func (s *PayoutLifecycleService) SetRetryPolicy(p RetryPolicy) {
	s.retry = p
}

// SetMetrics records transition, mismatch and conflict metrics
func (s *PayoutLifecycleService) SetMetrics(m *telemetry.PayoutMetrics) {
	s.metrics = m
}

// MarkProcessing moves an owed payout to PROCESSING
func (s *PayoutLifecycleService) MarkProcessing(ctx context.Context, sellerID, periodKey, actor string) (*PayoutResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "PayoutLifecycleService", "MarkProcessing",
		telemetry.WithAttribute("seller_id", sellerID),
		telemetry.WithAttribute("period", periodKey),
	)
	defer span.End()

	period, err := s.resolve(sellerID, periodKey)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	key := payout.LedgerKey{SellerID: strings.TrimSpace(sellerID), PeriodKey: period.Key}

	var unconfirmed *payout.PayoutRecord
	record, err := retryOnConflict(ctx, s.retry, func() (*payout.PayoutRecord, error) {
		existing, summary, err := s.load(ctx, key, period)
		if err != nil {
			return nil, err
		}
		if committed(existing, unconfirmed) {
			return unconfirmed, nil
		}
		record, err := payout.StartProcessing(existing, payout.ProcessingRequest{
			Key:      key,
			TotalNet: summary.TotalNet,
			Actor:    actor,
			Now:      s.now(),
		})
		if err != nil {
			return nil, err
		}
		if err := s.payouts.Create(ctx, record); err != nil {
			unconfirmed = s.writeFailed(ctx, "processing", key, record, err)
			return nil, err
		}
		return record, nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.transitioned(ctx, record)
	resp := ToPayoutResponse(record)
	return &resp, nil
}

// MarkTransferred records a completed transfer of amount under reference.
// Replaying a recorded transfer with the same reference returns the stored
// record without a new history entry.
func (s *PayoutLifecycleService) MarkTransferred(ctx context.Context, sellerID, periodKey string, req MarkTransferredRequest, actor string) (*PayoutResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "PayoutLifecycleService", "MarkTransferred",
		telemetry.WithAttribute("seller_id", sellerID),
		telemetry.WithAttribute("period", periodKey),
		telemetry.WithAttribute("reference", req.TransferReference),
	)
	defer span.End()

	period, err := s.resolve(sellerID, periodKey)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	key := payout.LedgerKey{SellerID: strings.TrimSpace(sellerID), PeriodKey: period.Key}

	var (
		changed     bool
		unconfirmed *payout.PayoutRecord
	)
	record, err := retryOnConflict(ctx, s.retry, func() (*payout.PayoutRecord, error) {
		existing, summary, err := s.load(ctx, key, period)
		if err != nil {
			return nil, err
		}
		if committed(existing, unconfirmed) {
			changed = true
			return unconfirmed, nil
		}
		var record *payout.PayoutRecord
		record, changed, err = payout.Transfer(existing, payout.TransferRequest{
			Key:       key,
			TotalNet:  summary.TotalNet,
			Amount:    req.Amount,
			Reference: req.TransferReference,
			Actor:     actor,
			Tolerance: s.tolerance,
			Now:       s.now(),
		})
		if err != nil {
			return nil, err
		}
		if !changed {
			return record, nil
		}

		if existing == nil {
			err = s.payouts.Create(ctx, record)
		} else {
			err = s.payouts.SaveWithLock(ctx, record)
		}
		if err != nil {
			unconfirmed = s.writeFailed(ctx, "transfer", key, record, err)
			return nil, err
		}
		return record, nil
	})
	if err != nil {
		var mismatch *payout.AmountMismatchError
		if errors.As(err, &mismatch) {
			s.metrics.RecordAmountMismatch(ctx)
			logger.Enrich(ctx, s.logger).Warn("transfer amount does not match ledger",
				zap.String("seller_id", mismatch.SellerID),
				zap.String("period", mismatch.PeriodKey),
				zap.String("expected", money(mismatch.Expected)),
				zap.String("actual", money(mismatch.Actual)),
			)
		}
		telemetry.RecordError(span, err)
		return nil, err
	}

	if changed {
		s.transitioned(ctx, record)
	} else {
		logger.Enrich(ctx, s.logger).Info("transfer replay ignored",
			zap.String("seller_id", key.SellerID),
			zap.String("period", key.PeriodKey),
			zap.String("reference", record.TransferReference),
		)
	}
	resp := ToPayoutResponse(record)
	return &resp, nil
}

// GetPayout returns the stored record, or nil when the payout was never touched
func (s *PayoutLifecycleService) GetPayout(ctx context.Context, sellerID, periodKey string) (*payout.PayoutRecord, error) {
	period, err := s.resolve(sellerID, periodKey)
	if err != nil {
		return nil, err
	}
	return retryRead(ctx, s.retry, func() (*payout.PayoutRecord, error) {
		return s.payouts.FindByKey(ctx, payout.LedgerKey{SellerID: strings.TrimSpace(sellerID), PeriodKey: period.Key})
	})
}

// resolve canonicalizes the period so each (seller, period) maps to one record
func (s *PayoutLifecycleService) resolve(sellerID, periodKey string) (payout.Period, error) {
	if strings.TrimSpace(sellerID) == "" {
		return payout.Period{}, shared.NewDomainError("INVALID_INPUT", "seller id is required")
	}
	return s.ledger.ParsePeriod(periodKey)
}

func (s *PayoutLifecycleService) load(ctx context.Context, key payout.LedgerKey, period payout.Period) (*payout.PayoutRecord, *payout.SellerLedgerSummary, error) {
	existing, err := retryRead(ctx, s.retry, func() (*payout.PayoutRecord, error) {
		return s.payouts.FindByKey(ctx, key)
	})
	if err != nil {
		return nil, nil, err
	}
	summary, err := s.ledger.FreshSellerLedger(ctx, key.SellerID, period)
	if err != nil {
		return nil, nil, err
	}
	return existing, summary, nil
}

// writeFailed handles a failed Create or SaveWithLock. It returns record when
// the outcome is unknown: the write may have committed before the error, and
// the next attempt checks the reloaded record for it.
func (s *PayoutLifecycleService) writeFailed(ctx context.Context, operation string, key payout.LedgerKey, record *payout.PayoutRecord, err error) *payout.PayoutRecord {
	if isConflict(err) {
		s.metrics.RecordConflict(ctx, operation)
		logger.Enrich(ctx, s.logger).Info("payout record changed concurrently, re-evaluating",
			zap.String("operation", operation),
			zap.String("seller_id", key.SellerID),
			zap.String("period", key.PeriodKey),
		)
		return nil
	}
	if !isTransient(err) {
		return nil
	}
	logger.Enrich(ctx, s.logger).Warn("payout write outcome unknown, verifying before retry",
		zap.String("operation", operation),
		zap.String("seller_id", key.SellerID),
		zap.String("period", key.PeriodKey),
		zap.Error(err),
	)
	return record
}

// committed reports whether stored already carries the last transition of
// the unconfirmed write
func committed(stored, unconfirmed *payout.PayoutRecord) bool {
	if stored == nil || unconfirmed == nil {
		return false
	}
	last := unconfirmed.LastTransition()
	return last != nil && stored.HasTransition(last.ID)
}

func (s *PayoutLifecycleService) transitioned(ctx context.Context, record *payout.PayoutRecord) {
	s.metrics.RecordTransition(ctx, string(record.Status))
	log := logger.Enrich(ctx, s.logger)
	log.Info("payout transitioned",
		zap.String("seller_id", record.SellerID),
		zap.String("period", record.PeriodKey),
		zap.String("status", string(record.Status)),
		zap.String("amount", money(record.Amount)),
		zap.Int("version", record.Version),
	)

	events := record.GetDomainEvents()
	record.ClearDomainEvents()
	if s.eventPublisher == nil || len(events) == 0 {
		return
	}
	if err := s.eventPublisher.Publish(ctx, events...); err != nil {
		log.Warn("failed to publish payout events", zap.String("seller_id", record.SellerID), zap.Error(err))
	}
}
