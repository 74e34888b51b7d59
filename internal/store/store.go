// Package store defines the persistence interface consumed by the HTTP
// handlers, together with the sentinel errors shared by its
// implementations. Two implementations exist: store/mysql for production
// and store/memory for tests.
//
// Single-use artifacts (verification tokens, emailed codes, backup codes,
// authorization codes, delete-confirmation tokens) are consumed through
// conditional writes so that two racing redemptions can never both
// succeed. A read-modify-write without such a guard is a correctness bug
// here, not a performance concern.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/epistola/epistola-auth/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional write touched no rows
	// because the guarded state had already changed (already used,
	// already resolved, concurrently modified).
	ErrConflict = errors.New("conflict")
	// ErrEmailExists is returned when an insert violates the unique
	// email constraint.
	ErrEmailExists = errors.New("email already exists")
	// ErrExpired is returned when the artifact exists but its expiry has
	// passed.
	ErrExpired = errors.New("expired")
)

// EpistolaryUpdate carries the full mutable column set of an epistolary.
// Handlers load the current record, overlay the requested changes and
// hand the merged result here, so the statement underneath is fixed and
// no SQL is assembled dynamically.
type EpistolaryUpdate struct {
	Name         string
	Description  string
	RedirectURIs string
	LogoURL      string
	WebsiteURL   string
	Active       bool
}

// Store is the full persistence surface of the service.
type Store interface {
	// Users.
	CreateUser(ctx context.Context, u model.User) error
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	// ConsumeVerificationToken atomically flips email_verified and clears
	// the token. ErrExpired when the token exists but is past its expiry.
	ConsumeVerificationToken(ctx context.Context, token string, now time.Time) (*model.User, error)
	SetVerificationToken(ctx context.Context, userID, token string, expires, sentAt time.Time, count int) error
	MarkTwoFACodeSent(ctx context.Context, userID string, at time.Time, count int) error
	SetUserProfile(ctx context.Context, userID, name, avatarURL string) error
	SetUserName(ctx context.Context, userID, name string) error
	SetUserPassword(ctx context.Context, userID, hash string) error
	SetPendingEmail(ctx context.Context, userID, email, token string, expires time.Time) error
	// ConsumeEmailChangeToken applies the pending address and clears the
	// pending fields in one conditional write.
	ConsumeEmailChangeToken(ctx context.Context, token string, now time.Time) (*model.User, error)
	SetTOTPSecret(ctx context.Context, userID, secret string) error
	EnableTOTP(ctx context.Context, userID, backupCodes string) error
	DisableTOTP(ctx context.Context, userID string) error
	// ConsumeBackupCode swaps the stored backup-code set, guarded on the
	// previous value so concurrent consumers cannot both succeed.
	ConsumeBackupCode(ctx context.Context, userID, oldCodes, newCodes string) error
	DeleteUnverifiedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Sessions.
	CreateSession(ctx context.Context, s model.Session) error
	DeleteUserSessions(ctx context.Context, userID string) error

	// One-time emailed codes.
	CreateTwoFactorCode(ctx context.Context, c model.TwoFactorCode) error
	// CheckTwoFactorCode reports whether a matching unused, unexpired code
	// exists without spending it, for flows that verify further factors
	// before committing. ErrExpired when the code matches but is stale.
	CheckTwoFactorCode(ctx context.Context, userID, code, purpose string, now time.Time) error
	// ConsumeTwoFactorCode marks the matching unused, unexpired code as
	// used. ErrExpired when the code matches but is stale.
	ConsumeTwoFactorCode(ctx context.Context, userID, code, purpose string, now time.Time) error

	// Epistolaries.
	CreateEpistolary(ctx context.Context, e model.Epistolary) error
	ListEpistolaries(ctx context.Context, ownerID string) ([]model.Epistolary, error)
	GetEpistolary(ctx context.Context, id, ownerID string) (*model.Epistolary, error)
	GetEpistolaryByID(ctx context.Context, id string) (*model.Epistolary, error)
	// Credential lookups only match active epistolaries.
	GetEpistolaryByClientID(ctx context.Context, clientID string) (*model.Epistolary, error)
	GetEpistolaryByCredentials(ctx context.Context, clientID, clientSecret string) (*model.Epistolary, error)
	UpdateEpistolary(ctx context.Context, id, ownerID string, u EpistolaryUpdate) error
	RotateEpistolarySecret(ctx context.Context, id, ownerID, newSecret string) error
	DeleteEpistolary(ctx context.Context, id, ownerID string) error
	CreateDeleteRequest(ctx context.Context, r model.EpistolaryDeleteRequest) error
	GetDeleteRequest(ctx context.Context, token string) (*model.EpistolaryDeleteRequest, error)
	// ConsumeDeleteRequest removes the request row; ErrNotFound when it
	// was already consumed.
	ConsumeDeleteRequest(ctx context.Context, token string) error

	// Broker sessions and their tokens.
	CreateOAuthSession(ctx context.Context, s model.OAuthSession) error
	GetOAuthSession(ctx context.Context, sessionToken string) (*model.OAuthSession, error)
	// CompleteOAuthSession and ResolveOAuthSession only transition rows
	// still in the pending state; ErrConflict otherwise.
	CompleteOAuthSession(ctx context.Context, id, userID, accessToken string) error
	ResolveOAuthSession(ctx context.Context, id, status, errorCode string) error
	CreateUserToken(ctx context.Context, t model.OAuthUserToken) error
	GetUserToken(ctx context.Context, token string) (*model.OAuthUserToken, error)

	// Authorization-code grant.
	CreateAuthCode(ctx context.Context, c model.AuthCode) error
	// ConsumeAuthCode marks the code used iff it is unused, unexpired and
	// bound to the given client and redirect URI.
	ConsumeAuthCode(ctx context.Context, code, epistolaryID, redirectURI string, now time.Time) (*model.AuthCode, error)
	CreateAccessToken(ctx context.Context, t model.AccessToken) error
	GetAccessToken(ctx context.Context, token string) (*model.AccessToken, error)
	DeleteAccessToken(ctx context.Context, token string) error
	CreateRefreshToken(ctx context.Context, t model.RefreshToken) error
	GetRefreshToken(ctx context.Context, token string) (*model.RefreshToken, error)
	// RepointRefreshToken attaches the refresh record to a freshly minted
	// access token. No new refresh token is issued on rotation.
	RepointRefreshToken(ctx context.Context, token, newAccessToken string) error
	DeleteRefreshToken(ctx context.Context, token string) error
	DeleteRefreshTokenByAccess(ctx context.Context, accessToken string) error

	// Permission catalog (read-only to the core).
	GetPermissions(ctx context.Context, codes []string) ([]model.Permission, error)
}
