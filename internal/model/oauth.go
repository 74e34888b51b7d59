package model

import "time"

// Broker session statuses. A session is created pending and moves to
// exactly one terminal state; "expired" is derived from the expiry
// timestamp at read time and never written back.
const (
	OAuthStatusPending   = "pending"
	OAuthStatusCompleted = "completed"
	OAuthStatusFailed    = "failed"
	OAuthStatusCancelled = "cancelled"
	OAuthStatusExpired   = "expired"
)

// Error codes attached to failed/cancelled broker sessions.
const (
	OAuthErrUserMismatch  = "user_mismatch"
	OAuthErrUserCancelled = "user_cancelled"
)

// OAuthSession is a pending or resolved delegated-access request in the
// `oauth_sessions` table (session-broker flow).
//
// Fields:
//  ID              – primary key (UUID).
//  EpistolaryID    – requesting client.
//  SessionToken    – opaque token carried by the end user's browser.
//  ExternalID      – optional client-side correlation id (alnum, ≤10).
//  TargetUser      – "all" or the email the approval is restricted to.
//  RequestedScopes – JSON array of scope codes as literally requested.
//  CallbackURL     – where the outcome redirect is sent.
//  Status          – one of the OAuthStatus* constants (pending at creation).
//  UserID          – resolving user, set on completion.
//  AccessToken     – minted bearer token, set on completion.
//  ErrorCode       – set on failure/cancellation.
//  ExpiresAt       – fixed at creation (10 minutes).
type OAuthSession struct {
	ID              string    // oauth_sessions.id
	EpistolaryID    string    // oauth_sessions.epistolary_id
	SessionToken    string    // oauth_sessions.session_token
	ExternalID      string    // oauth_sessions.external_id
	TargetUser      string    // oauth_sessions.target_user
	RequestedScopes string    // oauth_sessions.requested_scopes (JSON array)
	CallbackURL     string    // oauth_sessions.callback_url
	Status          string    // oauth_sessions.status
	UserID          string    // oauth_sessions.user_id (set on completion)
	AccessToken     string    // oauth_sessions.access_token (set on completion)
	ErrorCode       string    // oauth_sessions.error_code
	ExpiresAt       time.Time // oauth_sessions.expires_at
	CreatedAt       time.Time // oauth_sessions.created_at
	UpdatedAt       time.Time // oauth_sessions.updated_at
}

// OAuthUserToken is a bearer token minted by the broker flow on approval.
// GrantedScopes holds the expanded scope set, not the literal request.
type OAuthUserToken struct {
	ID            string    // oauth_user_tokens.id
	Token         string    // oauth_user_tokens.token
	EpistolaryID  string    // oauth_user_tokens.epistolary_id
	UserID        string    // oauth_user_tokens.user_id
	SessionID     string    // oauth_user_tokens.session_id
	GrantedScopes string    // oauth_user_tokens.granted_scopes (JSON array)
	ExpiresAt     time.Time // oauth_user_tokens.expires_at
	CreatedAt     time.Time // oauth_user_tokens.created_at
}

// AuthCode is the authorization-code-grant intermediate in the
// `oauth_auth_codes` table. Single redemption; the redirect URI presented
// at redemption must equal the one bound at issuance.
type AuthCode struct {
	Code         string    // oauth_auth_codes.code
	EpistolaryID string    // oauth_auth_codes.epistolary_id
	UserID       string    // oauth_auth_codes.user_id
	RedirectURI  string    // oauth_auth_codes.redirect_uri
	Scopes       string    // oauth_auth_codes.scopes (space-separated, as requested)
	ExpiresAt    time.Time // oauth_auth_codes.expires_at
	Used         bool      // oauth_auth_codes.used
	CreatedAt    time.Time // oauth_auth_codes.created_at
}

// AccessToken is a short-lived bearer token minted at code exchange or
// refresh in the `oauth_access_tokens` table.
type AccessToken struct {
	Token        string    // oauth_access_tokens.token
	EpistolaryID string    // oauth_access_tokens.epistolary_id
	UserID       string    // oauth_access_tokens.user_id
	Scopes       string    // oauth_access_tokens.scopes (space-separated, expanded)
	ExpiresAt    time.Time // oauth_access_tokens.expires_at
	CreatedAt    time.Time // oauth_access_tokens.created_at
}

// RefreshToken is the long-lived companion of an access token in the
// `oauth_refresh_tokens` table. Refresh rotates the access token and
// repoints this record; no new refresh token is issued on rotation.
type RefreshToken struct {
	Token        string    // oauth_refresh_tokens.token
	EpistolaryID string    // oauth_refresh_tokens.epistolary_id
	UserID       string    // oauth_refresh_tokens.user_id
	AccessToken  string    // oauth_refresh_tokens.access_token (paired token)
	Scopes       string    // oauth_refresh_tokens.scopes
	ExpiresAt    time.Time // oauth_refresh_tokens.expires_at
	CreatedAt    time.Time // oauth_refresh_tokens.created_at
}
