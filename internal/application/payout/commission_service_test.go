package payout

import (
	"context"
	"errors"
	"testing"

	"github.com/marketplace/payouts/internal/domain/payout"
	"github.com/marketplace/payouts/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newCommissionService(repo payout.CommissionSettingsRepository) *CommissionService {
	svc := NewCommissionService(repo, payout.DefaultCommissionRate, "eur", zap.NewNop())
	svc.SetRetryPolicy(fastRetry())
	return svc
}

func storedSettings(t *testing.T, rate string) *payout.CommissionSettings {
	t.Helper()
	s, err := payout.NewCommissionSettings(d(rate), "EUR")
	require.NoError(t, err)
	return s
}

func TestCommissionService_CurrentPolicy(t *testing.T) {
	ctx := context.Background()
	o := testOrder(t, "seller-1", item("100.00", 1))

	t.Run("defaults without persisting", func(t *testing.T) {
		repo := new(MockCommissionSettingsRepository)
		repo.On("Get", mock.Anything).Return(nil, nil)

		policy, err := newCommissionService(repo).CurrentPolicy(ctx)
		require.NoError(t, err)
		assert.True(t, policy.RateFor(o).Equal(d("0.10")))
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("stored settings with overrides", func(t *testing.T) {
		settings := storedSettings(t, "0.12")
		settings.SellerOverrides["seller-1"] = d("0.05")
		repo := new(MockCommissionSettingsRepository)
		repo.On("Get", mock.Anything).Return(settings, nil)

		policy, err := newCommissionService(repo).CurrentPolicy(ctx)
		require.NoError(t, err)
		assert.True(t, policy.RateFor(o).Equal(d("0.05")))
		other := testOrder(t, "seller-2", item("100.00", 1))
		assert.True(t, policy.RateFor(other).Equal(d("0.12")))
	})

	t.Run("inactive settings charge nothing", func(t *testing.T) {
		settings := storedSettings(t, "0.12")
		settings.Active = false
		repo := new(MockCommissionSettingsRepository)
		repo.On("Get", mock.Anything).Return(settings, nil)

		policy, err := newCommissionService(repo).CurrentPolicy(ctx)
		require.NoError(t, err)
		assert.True(t, policy.RateFor(o).IsZero())
	})

	t.Run("store failure is retried", func(t *testing.T) {
		repo := new(MockCommissionSettingsRepository)
		repo.On("Get", mock.Anything).Return(nil, errors.New("timeout")).Once()
		repo.On("Get", mock.Anything).Return(storedSettings(t, "0.10"), nil).Once()

		_, err := newCommissionService(repo).CurrentPolicy(ctx)
		require.NoError(t, err)
		repo.AssertNumberOfCalls(t, "Get", 2)
	})
}

func TestCommissionService_GetConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("seeds defaults on first access", func(t *testing.T) {
		repo := new(MockCommissionSettingsRepository)
		repo.On("Get", mock.Anything).Return(nil, nil)
		repo.On("Create", mock.Anything, mock.AnythingOfType("*payout.CommissionSettings")).Return(nil)

		resp, err := newCommissionService(repo).GetConfig(ctx)
		require.NoError(t, err)
		assert.Equal(t, "10.00", resp.RatePercent)
		assert.Equal(t, "EUR", resp.Currency)
		assert.True(t, resp.Active)
		repo.AssertNumberOfCalls(t, "Create", 1)
	})

	t.Run("lost seeding race reads the winner", func(t *testing.T) {
		winner := storedSettings(t, "0.15")
		repo := new(MockCommissionSettingsRepository)
		repo.On("Get", mock.Anything).Return(nil, nil).Once()
		repo.On("Create", mock.Anything, mock.Anything).Return(shared.ErrAlreadyExists)
		repo.On("Get", mock.Anything).Return(winner, nil).Once()

		resp, err := newCommissionService(repo).GetConfig(ctx)
		require.NoError(t, err)
		assert.Equal(t, "15.00", resp.RatePercent)
	})
}

func TestCommissionService_UpdateConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("stores the fraction and publishes", func(t *testing.T) {
		settings := storedSettings(t, "0.10")
		repo := new(MockCommissionSettingsRepository)
		repo.On("Get", mock.Anything).Return(settings, nil)
		repo.On("SaveWithLock", mock.Anything, settings).Return(nil)
		publisher := new(MockEventPublisher)
		publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)

		svc := newCommissionService(repo)
		svc.SetEventPublisher(publisher)
		inactive := false
		resp, err := svc.UpdateConfig(ctx, UpdateCommissionConfigRequest{
			RatePercent: d("12.5"),
			Active:      &inactive,
			Description: "summer promotion",
		}, "ops@example.com")
		require.NoError(t, err)

		assert.Equal(t, "12.50", resp.RatePercent)
		assert.Equal(t, "0.00", resp.EffectiveRatePercent)
		assert.False(t, resp.Active)
		assert.Equal(t, "summer promotion", resp.Description)
		assert.Equal(t, "ops@example.com", resp.UpdatedBy)
		assert.Equal(t, 2, resp.Version)
		assert.True(t, settings.Rate.Equal(d("0.125")))

		publisher.AssertNumberOfCalls(t, "Publish", 1)
		events := publisher.Calls[0].Arguments.Get(1).([]shared.DomainEvent)
		require.Len(t, events, 1)
		assert.Equal(t, payout.EventTypeCommissionRateChanged, events[0].EventType())
	})

	t.Run("keeps the active flag when omitted", func(t *testing.T) {
		settings := storedSettings(t, "0.10")
		repo := new(MockCommissionSettingsRepository)
		repo.On("Get", mock.Anything).Return(settings, nil)
		repo.On("SaveWithLock", mock.Anything, settings).Return(nil)

		resp, err := newCommissionService(repo).UpdateConfig(ctx, UpdateCommissionConfigRequest{RatePercent: d("8")}, "ops")
		require.NoError(t, err)
		assert.True(t, resp.Active)
		assert.Equal(t, payout.DefaultCommissionDescription, resp.Description)
	})

	t.Run("rejects a percentage above 100", func(t *testing.T) {
		repo := new(MockCommissionSettingsRepository)
		_, err := newCommissionService(repo).UpdateConfig(ctx, UpdateCommissionConfigRequest{RatePercent: d("101")}, "ops")
		assert.ErrorIs(t, err, shared.NewDomainError(payout.CodeInvalidRate, ""))
		repo.AssertNotCalled(t, "Get", mock.Anything)
	})

	t.Run("reloads after a lost compare-and-set", func(t *testing.T) {
		repo := new(MockCommissionSettingsRepository)
		repo.On("Get", mock.Anything).Return(storedSettings(t, "0.10"), nil).Once()
		repo.On("Get", mock.Anything).Return(storedSettings(t, "0.20"), nil).Once()
		repo.On("SaveWithLock", mock.Anything, mock.Anything).Return(shared.ErrConcurrencyConflict).Once()
		repo.On("SaveWithLock", mock.Anything, mock.Anything).Return(nil).Once()

		resp, err := newCommissionService(repo).UpdateConfig(ctx, UpdateCommissionConfigRequest{RatePercent: d("11")}, "ops")
		require.NoError(t, err)
		assert.Equal(t, "11.00", resp.RatePercent)
		repo.AssertNumberOfCalls(t, "SaveWithLock", 2)
	})
}

func TestCommissionService_SetSellerOverrides(t *testing.T) {
	ctx := context.Background()

	t.Run("replaces overrides", func(t *testing.T) {
		settings := storedSettings(t, "0.10")
		settings.SellerOverrides["old-seller"] = d("0.01")
		repo := new(MockCommissionSettingsRepository)
		repo.On("Get", mock.Anything).Return(settings, nil)
		repo.On("SaveWithLock", mock.Anything, settings).Return(nil)

		resp, err := newCommissionService(repo).SetSellerOverrides(ctx, UpdateSellerOverridesRequest{
			Overrides: map[string]decimal.Decimal{"seller-1": d("7.5")},
		}, "ops")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"seller-1": "7.50"}, resp.SellerOverrides)
	})

	t.Run("rejects an out of range override", func(t *testing.T) {
		repo := new(MockCommissionSettingsRepository)
		_, err := newCommissionService(repo).SetSellerOverrides(ctx, UpdateSellerOverridesRequest{
			Overrides: map[string]decimal.Decimal{"seller-1": d("-1")},
		}, "ops")
		assert.ErrorIs(t, err, shared.NewDomainError(payout.CodeInvalidRate, ""))
	})
}
