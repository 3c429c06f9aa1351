package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/marketplace/payouts/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJWTService() *JWTService {
	return NewJWTService(config.JWTConfig{
		Secret:     "test-secret-key-at-least-32-chars",
		Issuer:     "payouts-test",
		Expiration: 15 * time.Minute,
	})
}

func TestNewJWTService_DefaultExpiration(t *testing.T) {
	svc := NewJWTService(config.JWTConfig{Secret: "s"})
	assert.Equal(t, time.Hour, svc.Expiration())
}

func TestGenerateAndValidateToken(t *testing.T) {
	svc := newTestJWTService()

	issued, err := svc.GenerateToken("ops@example.com", "Ops", RolePayoutWrite)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", issued.TokenType)
	assert.True(t, issued.ExpiresAt.After(time.Now()))

	claims, err := svc.ValidateToken(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Actor())
	assert.Equal(t, "Ops", claims.Name)
	assert.Equal(t, "payouts-test", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
	assert.InDelta(t, (15 * time.Minute).Seconds(), claims.GetRemainingTTL().Seconds(), 5)
}

func TestGenerateToken_RequiresSubject(t *testing.T) {
	_, err := newTestJWTService().GenerateToken("  ", "")
	assert.ErrorIs(t, err, ErrMissingSubject)
}

func TestValidateToken_Failures(t *testing.T) {
	svc := newTestJWTService()

	t.Run("expired", func(t *testing.T) {
		issued, err := svc.GenerateToken("ops", "")
		require.NoError(t, err)

		later := *svc
		later.now = func() time.Time { return time.Now().Add(time.Hour) }
		_, err = later.ValidateToken(issued.Token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewJWTService(config.JWTConfig{Secret: "another-secret", Issuer: "payouts-test"})
		issued, err := other.GenerateToken("ops", "")
		require.NoError(t, err)

		_, err = svc.ValidateToken(issued.Token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewJWTService(config.JWTConfig{Secret: "test-secret-key-at-least-32-chars", Issuer: "someone-else"})
		issued, err := other.GenerateToken("ops", "")
		require.NoError(t, err)

		_, err = svc.ValidateToken(issued.Token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unsigned", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "ops", Issuer: "payouts-test"},
		})
		raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = svc.ValidateToken(raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.ValidateToken("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestClaims_HasRole(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		role  string
		want  bool
	}{
		{name: "exact", roles: []string{RolePayoutRead}, role: RolePayoutRead, want: true},
		{name: "write implies read", roles: []string{RolePayoutWrite}, role: RolePayoutRead, want: true},
		{name: "read does not imply write", roles: []string{RolePayoutRead}, role: RolePayoutWrite, want: false},
		{name: "no roles", roles: nil, role: RolePayoutRead, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Claims{Roles: tt.roles}
			assert.Equal(t, tt.want, c.HasRole(tt.role))
		})
	}
}
