package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerifyFullSession(t *testing.T) {
	iss := NewIssuer("test-secret")
	signed, err := iss.Sign(Claims{
		UserID:    "user-1",
		Email:     "user@example.com",
		Name:      "Ana Silva",
		Verified:  true,
		ExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	claims, err := iss.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.Equal(t, "Ana Silva", claims.Name)
	assert.True(t, claims.Verified)
	assert.False(t, claims.Requires2FA)
}

func TestVerifiedDefaultsTrueWhenClaimAbsent(t *testing.T) {
	// A full session token carries no verified claim at all; absence
	// must read back as verified.
	iss := NewIssuer("test-secret")
	signed, err := iss.Sign(Claims{
		UserID:    "user-1",
		Verified:  true,
		ExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	claims, err := iss.Verify(signed)
	require.NoError(t, err)
	assert.True(t, claims.Verified)
}

func TestUnverifiedAndPendingClaims(t *testing.T) {
	iss := NewIssuer("test-secret")
	signed, err := iss.Sign(Claims{
		UserID:      "user-1",
		Verified:    false,
		Requires2FA: true,
		ExpiresAt:   time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	claims, err := iss.Verify(signed)
	require.NoError(t, err)
	assert.False(t, claims.Verified)
	assert.True(t, claims.Requires2FA)
}

func TestVerifyExpired(t *testing.T) {
	iss := NewIssuer("test-secret")
	signed, err := iss.Sign(Claims{
		UserID:    "user-1",
		Verified:  true,
		ExpiresAt: time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)

	_, err = iss.Verify(signed)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerifyWrongSecret(t *testing.T) {
	signed, err := NewIssuer("secret-a").Sign(Claims{
		UserID:    "user-1",
		Verified:  true,
		ExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	_, err = NewIssuer("secret-b").Verify(signed)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestVerifyGarbage(t *testing.T) {
	_, err := NewIssuer("test-secret").Verify("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalid)
}
