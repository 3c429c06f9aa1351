package payout

import (
	"context"
	"errors"
	"strings"

	"github.com/marketplace/payouts/internal/domain/payout"
	"github.com/marketplace/payouts/internal/domain/shared"
	"github.com/marketplace/payouts/internal/infrastructure/logger"
	"github.com/marketplace/payouts/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CommissionService manages the commission configuration and hands out
// policy snapshots for ledger computation
type CommissionService struct {
	repo           payout.CommissionSettingsRepository
	defaultRate    decimal.Decimal
	currency       string
	retry          RetryPolicy
	eventPublisher shared.EventPublisher
	logger         *zap.Logger
}

// NewCommissionService creates a new CommissionService. defaultRate is a
// fraction used until settings are stored.
func NewCommissionService(repo payout.CommissionSettingsRepository, defaultRate decimal.Decimal, currency string, logger *zap.Logger) *CommissionService {
	if payout.ValidateRate(defaultRate) != nil {
		defaultRate = payout.DefaultCommissionRate
	}
	if currency == "" {
		currency = payout.DefaultCurrency
	}
	return &CommissionService{
		repo:        repo,
		defaultRate: defaultRate,
		currency:    strings.ToUpper(currency),
		retry:       DefaultRetryPolicy(),
		logger:      logger,
	}
}

// SetEventPublisher sets the event publisher for cross-context integration
func (s *CommissionService) SetEventPublisher(publisher shared.EventPublisher) {
	s.eventPublisher = publisher
}

// SetRetryPolicy overrides the backoff used for store access
func (s *CommissionService) SetRetryPolicy(p RetryPolicy) {
	s.retry = p
}

// CurrentPolicy implements payout.CommissionConfigAccessor. Without stored
// settings the default rate applies; nothing is persisted on read.
func (s *CommissionService) CurrentPolicy(ctx context.Context) (payout.CommissionPolicy, error) {
	settings, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return settings.Policy(), nil
}

// GetConfig returns the stored configuration, creating the default one on first access
func (s *CommissionService) GetConfig(ctx context.Context) (*CommissionConfigResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "CommissionService", "GetConfig")
	defer span.End()

	settings, err := s.loadOrCreate(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	resp := ToCommissionConfigResponse(settings)
	return &resp, nil
}

// UpdateConfig replaces the flat rate. The rate is given in percent.
func (s *CommissionService) UpdateConfig(ctx context.Context, req UpdateCommissionConfigRequest, actor string) (*CommissionConfigResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "CommissionService", "UpdateConfig",
		telemetry.WithAttribute("rate_percent", req.RatePercent.String()),
	)
	defer span.End()

	rate, err := payout.RateFromPercent(req.RatePercent)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	settings, err := s.mutate(ctx, func(settings *payout.CommissionSettings) error {
		active := settings.Active
		if req.Active != nil {
			active = *req.Active
		}
		return settings.Update(rate, active, strings.TrimSpace(req.Description), actor)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	logger.Enrich(ctx, s.logger).Info("commission rate updated",
		zap.String("rate", settings.Rate.String()),
		zap.Bool("active", settings.Active),
		zap.String("updated_by", settings.UpdatedBy),
	)
	resp := ToCommissionConfigResponse(settings)
	return &resp, nil
}

// SetSellerOverrides replaces every per-seller rate. Rates are given in percent.
func (s *CommissionService) SetSellerOverrides(ctx context.Context, req UpdateSellerOverridesRequest, actor string) (*CommissionConfigResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "CommissionService", "SetSellerOverrides",
		telemetry.WithAttribute("overrides", len(req.Overrides)),
	)
	defer span.End()

	overrides := make(map[string]decimal.Decimal, len(req.Overrides))
	for sellerID, pct := range req.Overrides {
		sellerID = strings.TrimSpace(sellerID)
		if sellerID == "" {
			return nil, shared.NewDomainError("INVALID_INPUT", "seller id is required for a commission override")
		}
		rate, err := payout.RateFromPercent(pct)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		overrides[sellerID] = rate
	}

	settings, err := s.mutate(ctx, func(settings *payout.CommissionSettings) error {
		return settings.SetSellerOverrides(overrides, actor)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	resp := ToCommissionConfigResponse(settings)
	return &resp, nil
}

// current returns the stored settings or unsaved defaults
func (s *CommissionService) current(ctx context.Context) (*payout.CommissionSettings, error) {
	settings, err := retryRead(ctx, s.retry, func() (*payout.CommissionSettings, error) {
		return s.repo.Get(ctx)
	})
	if err != nil {
		return nil, err
	}
	if settings == nil {
		return payout.NewCommissionSettings(s.defaultRate, s.currency)
	}
	return settings, nil
}

func (s *CommissionService) loadOrCreate(ctx context.Context) (*payout.CommissionSettings, error) {
	settings, err := retryRead(ctx, s.retry, func() (*payout.CommissionSettings, error) {
		return s.repo.Get(ctx)
	})
	if err != nil || settings != nil {
		return settings, err
	}

	settings, err = payout.NewCommissionSettings(s.defaultRate, s.currency)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, settings); err != nil {
		if !errors.Is(err, shared.ErrAlreadyExists) {
			return nil, err
		}
		// another instance seeded the row first
		return s.repo.Get(ctx)
	}
	return settings, nil
}

// mutate loads the settings, applies change and saves with the version check,
// reloading on a lost race
func (s *CommissionService) mutate(ctx context.Context, change func(*payout.CommissionSettings) error) (*payout.CommissionSettings, error) {
	settings, err := retryOnConflict(ctx, s.retry, func() (*payout.CommissionSettings, error) {
		settings, err := s.loadOrCreate(ctx)
		if err != nil {
			return nil, err
		}
		if err := change(settings); err != nil {
			return nil, err
		}
		if err := s.repo.SaveWithLock(ctx, settings); err != nil {
			return nil, err
		}
		return settings, nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, settings)
	return settings, nil
}

func (s *CommissionService) publish(ctx context.Context, settings *payout.CommissionSettings) {
	events := settings.GetDomainEvents()
	settings.ClearDomainEvents()
	if s.eventPublisher == nil || len(events) == 0 {
		return
	}
	if err := s.eventPublisher.Publish(ctx, events...); err != nil {
		logger.Enrich(ctx, s.logger).Warn("failed to publish commission events", zap.Error(err))
	}
}

var _ payout.CommissionConfigAccessor = (*CommissionService)(nil)
