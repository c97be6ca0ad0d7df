package auth

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"salonbook/backend/internal/failure"
)

func newTestService(t *testing.T, now func() time.Time) *Service {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret-pass"), bcrypt.MinCost)
	require.NoError(t, err)
	return NewService(Config{
		Secret:       "jwt-secret",
		TokenTTL:     time.Hour,
		AdminEmail:   "Owner@Example.com",
		PasswordHash: string(hash),
		Now:          now,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLoginAndVerify(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	svc := newTestService(t, func() time.Time { return now })

	tok, err := svc.Login(context.Background(), LoginInput{Email: "owner@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Equal(t, now.Add(time.Hour), tok.ExpiresAt)

	claims, err := svc.Verify(tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", claims.Email)
	assert.Equal(t, "admin", claims.Role)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := newTestService(t, nil)

	_, err := svc.Login(context.Background(), LoginInput{Email: "owner@example.com", Password: "wrong"})
	assert.Equal(t, failure.KindAuth, failure.KindOf(err))

	_, err = svc.Login(context.Background(), LoginInput{Email: "intruder@example.com", Password: "s3cret-pass"})
	assert.Equal(t, failure.KindAuth, failure.KindOf(err))

	_, err = svc.Login(context.Background(), LoginInput{Email: "not-an-email", Password: "x"})
	assert.Equal(t, failure.KindValidation, failure.KindOf(err))
}

func TestLoginDisabledWithoutConfig(t *testing.T) {
	svc := NewService(Config{}, nil)
	assert.False(t, svc.Enabled())

	_, err := svc.Login(context.Background(), LoginInput{Email: "owner@example.com", Password: "x"})
	assert.Equal(t, failure.KindAuth, failure.KindOf(err))
}

func TestVerifyExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	clock := now
	svc := newTestService(t, func() time.Time { return clock })

	tok, err := svc.Login(context.Background(), LoginInput{Email: "owner@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)

	clock = now.Add(2 * time.Hour)
	_, err = svc.Verify(tok.AccessToken)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	svc := newTestService(t, nil)

	other, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email: "owner@example.com",
		Role:  "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("another-secret"))
	require.NoError(t, err)

	_, err = svc.Verify(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Verify("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("pw")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("pw")))
}
