package model

import "time"

// Epistolary is a registered third-party OAuth client application in the
// `epistolaries` table. The client secret is only ever shown to the owner
// at creation and regeneration.
//
// Fields:
//  ID           – primary key (UUID).
//  UserID       – owning account.
//  Name         – display name shown on consent screens.
//  Description  – optional description.
//  RedirectURIs – JSON array of registered redirect URIs; all HTTPS.
//  ClientID     – public client identifier.
//  ClientSecret – confidential credential for server-to-server calls.
//  LogoURL      – optional logo shown on consent screens.
//  WebsiteURL   – optional homepage link.
//  IsVerified   – trust flag unlocking scopes that require a verified client.
//  IsOfficial   – trust flag unlocking scopes reserved for official clients.
//  Active       – inactive epistolaries cannot authenticate.
type Epistolary struct {
	ID           string    // epistolaries.id
	UserID       string    // epistolaries.user_id
	Name         string    // epistolaries.name
	Description  string    // epistolaries.description
	RedirectURIs string    // epistolaries.redirect_uris (JSON array)
	ClientID     string    // epistolaries.client_id
	ClientSecret string    // epistolaries.client_secret
	LogoURL      string    // epistolaries.logo_url
	WebsiteURL   string    // epistolaries.website_url
	IsVerified   bool      // epistolaries.is_verified
	IsOfficial   bool      // epistolaries.is_official
	Active       bool      // epistolaries.active
	CreatedAt    time.Time // epistolaries.created_at
	UpdatedAt    time.Time // epistolaries.updated_at
}

// EpistolaryDeleteRequest is a pending two-step deletion in the
// `epistolary_delete_requests` table. The token is single-use and
// expires one hour after creation.
type EpistolaryDeleteRequest struct {
	Token        string    // epistolary_delete_requests.token
	EpistolaryID string    // epistolary_delete_requests.epistolary_id
	UserID       string    // epistolary_delete_requests.user_id
	ExpiresAt    time.Time // epistolary_delete_requests.expires_at
}
