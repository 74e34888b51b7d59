package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epistola/epistola-auth/internal/model"
	"github.com/epistola/epistola-auth/internal/store"
)

func seedUser(t *testing.T, s *Store, u model.User) model.User {
	t.Helper()
	if u.ID == "" {
		u.ID = "user-" + u.Email
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, model.User{ID: "u1", Email: "a@example.com"}))
	err := s.CreateUser(ctx, model.User{ID: "u2", Email: "a@example.com"})
	assert.ErrorIs(t, err, store.ErrEmailExists)

	_, err = s.GetUserByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConsumeVerificationTokenSingleUse(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now().UTC()
	expires := now.Add(time.Hour)

	seedUser(t, s, model.User{
		ID:                  "u1",
		Email:               "a@example.com",
		VerificationToken:   "tok-1",
		VerificationExpires: &expires,
	})

	u, err := s.ConsumeVerificationToken(ctx, "tok-1", now)
	require.NoError(t, err)
	assert.True(t, u.EmailVerified)
	assert.Empty(t, u.VerificationToken)

	// Second redemption of the same token must fail.
	_, err = s.ConsumeVerificationToken(ctx, "tok-1", now)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConsumeVerificationTokenExpired(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now().UTC()
	expired := now.Add(-time.Minute)

	seedUser(t, s, model.User{
		ID:                  "u1",
		Email:               "a@example.com",
		VerificationToken:   "tok-1",
		VerificationExpires: &expired,
	})

	_, err := s.ConsumeVerificationToken(ctx, "tok-1", now)
	assert.ErrorIs(t, err, store.ErrExpired)

	u, err := s.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, u.EmailVerified)
}

func TestConsumeEmailChangeToken(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now().UTC()
	expires := now.Add(time.Hour)

	seedUser(t, s, model.User{
		ID:                  "u1",
		Email:               "old@example.com",
		PendingEmail:        "new@example.com",
		PendingEmailToken:   "chg-1",
		PendingEmailExpires: &expires,
	})

	u, err := s.ConsumeEmailChangeToken(ctx, "chg-1", now)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", u.Email)
	assert.Empty(t, u.PendingEmail)

	// Index follows the change.
	_, err = s.GetUserByEmail(ctx, "old@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
	got, err := s.GetUserByEmail(ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	_, err = s.ConsumeEmailChangeToken(ctx, "chg-1", now)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConsumeEmailChangeTokenTakenAddress(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now().UTC()
	expires := now.Add(time.Hour)

	seedUser(t, s, model.User{ID: "u1", Email: "taken@example.com"})
	seedUser(t, s, model.User{
		ID:                  "u2",
		Email:               "old@example.com",
		PendingEmail:        "taken@example.com",
		PendingEmailToken:   "chg-1",
		PendingEmailExpires: &expires,
	})

	_, err := s.ConsumeEmailChangeToken(ctx, "chg-1", now)
	assert.ErrorIs(t, err, store.ErrEmailExists)
}

func TestConsumeBackupCodeCAS(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	seedUser(t, s, model.User{ID: "u1", Email: "a@example.com", BackupCodes: `["AAAA","BBBB"]`})

	require.NoError(t, s.ConsumeBackupCode(ctx, "u1", `["AAAA","BBBB"]`, `["BBBB"]`))

	// A consumer still holding the old document loses the race.
	err := s.ConsumeBackupCode(ctx, "u1", `["AAAA","BBBB"]`, `["AAAA"]`)
	assert.ErrorIs(t, err, store.ErrConflict)

	u, err := s.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, `["BBBB"]`, u.BackupCodes)
}

func TestConsumeTwoFactorCode(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.CreateTwoFactorCode(ctx, model.TwoFactorCode{
		ID: "c1", UserID: "u1", Code: "ABC123",
		Purpose: model.CodePurposeLogin, ExpiresAt: now.Add(10 * time.Minute),
	}))

	// Wrong purpose never matches.
	err := s.ConsumeTwoFactorCode(ctx, "u1", "ABC123", model.CodePurposeEnableTOTP, now)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.ConsumeTwoFactorCode(ctx, "u1", "ABC123", model.CodePurposeLogin, now))

	// Single use.
	err = s.ConsumeTwoFactorCode(ctx, "u1", "ABC123", model.CodePurposeLogin, now)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCheckTwoFactorCodeDoesNotConsume(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.CreateTwoFactorCode(ctx, model.TwoFactorCode{
		ID: "c1", UserID: "u1", Code: "ABC123",
		Purpose: model.CodePurposeEnableTOTP, ExpiresAt: now.Add(10 * time.Minute),
	}))

	// Checking any number of times leaves the code spendable.
	require.NoError(t, s.CheckTwoFactorCode(ctx, "u1", "ABC123", model.CodePurposeEnableTOTP, now))
	require.NoError(t, s.CheckTwoFactorCode(ctx, "u1", "ABC123", model.CodePurposeEnableTOTP, now))
	require.NoError(t, s.ConsumeTwoFactorCode(ctx, "u1", "ABC123", model.CodePurposeEnableTOTP, now))

	err := s.CheckTwoFactorCode(ctx, "u1", "ABC123", model.CodePurposeEnableTOTP, now)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConsumeTwoFactorCodeExpired(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.CreateTwoFactorCode(ctx, model.TwoFactorCode{
		ID: "c1", UserID: "u1", Code: "ABC123",
		Purpose: model.CodePurposeLogin, ExpiresAt: now.Add(-time.Minute),
	}))

	err := s.ConsumeTwoFactorCode(ctx, "u1", "ABC123", model.CodePurposeLogin, now)
	assert.ErrorIs(t, err, store.ErrExpired)
}

func TestDeleteUnverifiedBefore(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now().UTC()

	seedUser(t, s, model.User{ID: "old-unverified", Email: "a@example.com", CreatedAt: now.Add(-48 * time.Hour)})
	seedUser(t, s, model.User{ID: "old-verified", Email: "b@example.com", EmailVerified: true, CreatedAt: now.Add(-48 * time.Hour)})
	seedUser(t, s, model.User{ID: "fresh", Email: "c@example.com", CreatedAt: now.Add(-time.Hour)})

	n, err := s.DeleteUnverifiedBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetUserByID(ctx, "old-unverified")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetUserByID(ctx, "old-verified")
	assert.NoError(t, err)
	_, err = s.GetUserByID(ctx, "fresh")
	assert.NoError(t, err)
}

func TestEpistolaryOwnerScoping(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.CreateEpistolary(ctx, model.Epistolary{
		ID: "e1", UserID: "owner", Name: "App", ClientID: "cid", ClientSecret: "sec", Active: true,
	}))

	_, err := s.GetEpistolary(ctx, "e1", "intruder")
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = s.DeleteEpistolary(ctx, "e1", "intruder")
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = s.RotateEpistolarySecret(ctx, "e1", "owner", "sec2")
	require.NoError(t, err)
	e, err := s.GetEpistolary(ctx, "e1", "owner")
	require.NoError(t, err)
	assert.Equal(t, "sec2", e.ClientSecret)
}

func TestCredentialLookupsRequireActive(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.CreateEpistolary(ctx, model.Epistolary{
		ID: "e1", UserID: "owner", ClientID: "cid", ClientSecret: "sec", Active: false,
	}))

	_, err := s.GetEpistolaryByClientID(ctx, "cid")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetEpistolaryByCredentials(ctx, "cid", "sec")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestOAuthSessionStatusMonotonic(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.CreateOAuthSession(ctx, model.OAuthSession{
		ID: "s1", SessionToken: "tok", Status: model.OAuthStatusPending,
	}))

	require.NoError(t, s.CompleteOAuthSession(ctx, "s1", "u1", "access"))

	// Terminal states never transition again.
	err := s.ResolveOAuthSession(ctx, "s1", model.OAuthStatusCancelled, model.OAuthErrUserCancelled)
	assert.ErrorIs(t, err, store.ErrConflict)
	err = s.CompleteOAuthSession(ctx, "s1", "u2", "other")
	assert.ErrorIs(t, err, store.ErrConflict)

	sess, err := s.GetOAuthSession(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, model.OAuthStatusCompleted, sess.Status)
	assert.Equal(t, "access", sess.AccessToken)
}

func TestConsumeAuthCode(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.CreateAuthCode(ctx, model.AuthCode{
		Code: "code-1", EpistolaryID: "e1", UserID: "u1",
		RedirectURI: "https://app.example/cb", Scopes: "email name",
		ExpiresAt: now.Add(10 * time.Minute),
	}))

	// Redemption is bound to client and redirect URI.
	_, err := s.ConsumeAuthCode(ctx, "code-1", "e2", "https://app.example/cb", now)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.ConsumeAuthCode(ctx, "code-1", "e1", "https://evil.example/cb", now)
	assert.ErrorIs(t, err, store.ErrNotFound)

	ac, err := s.ConsumeAuthCode(ctx, "code-1", "e1", "https://app.example/cb", now)
	require.NoError(t, err)
	assert.Equal(t, "u1", ac.UserID)
	assert.Equal(t, "email name", ac.Scopes)

	_, err = s.ConsumeAuthCode(ctx, "code-1", "e1", "https://app.example/cb", now)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestConsumeAuthCodeExpired(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.CreateAuthCode(ctx, model.AuthCode{
		Code: "code-1", EpistolaryID: "e1", RedirectURI: "https://app.example/cb",
		ExpiresAt: now.Add(-time.Minute),
	}))

	_, err := s.ConsumeAuthCode(ctx, "code-1", "e1", "https://app.example/cb", now)
	assert.ErrorIs(t, err, store.ErrExpired)
}

func TestRefreshTokenRepointAndDeleteByAccess(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.CreateRefreshToken(ctx, model.RefreshToken{
		Token: "r1", EpistolaryID: "e1", AccessToken: "a1",
	}))

	require.NoError(t, s.RepointRefreshToken(ctx, "r1", "a2"))
	rt, err := s.GetRefreshToken(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "a2", rt.AccessToken)

	require.NoError(t, s.DeleteRefreshTokenByAccess(ctx, "a2"))
	_, err = s.GetRefreshToken(ctx, "r1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteRequestSingleConsume(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.CreateDeleteRequest(ctx, model.EpistolaryDeleteRequest{
		Token: "d1", EpistolaryID: "e1", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour),
	}))

	require.NoError(t, s.ConsumeDeleteRequest(ctx, "d1"))
	assert.ErrorIs(t, s.ConsumeDeleteRequest(ctx, "d1"), store.ErrNotFound)
}
