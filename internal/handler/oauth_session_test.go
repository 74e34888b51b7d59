package handler_test

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epistola/epistola-auth/internal/model"
	"github.com/epistola/epistola-auth/internal/store"
	"github.com/epistola/epistola-auth/internal/store/memory"
)

func seedClient(t *testing.T, v *env, e model.Epistolary) model.Epistolary {
	t.Helper()
	if e.ID == "" {
		e.ID = "ep-1"
	}
	if e.ClientID == "" {
		e.ClientID = "cid-1"
	}
	if e.ClientSecret == "" {
		e.ClientSecret = "secret-1"
	}
	if e.Name == "" {
		e.Name = "Letters App"
	}
	if e.RedirectURIs == "" {
		e.RedirectURIs = `["https://letters.example/cb"]`
	}
	e.Active = true
	require.NoError(t, v.st.CreateEpistolary(context.Background(), e))
	v.st.SeedPermissions(
		model.Permission{Code: "auth", Name: "Full identity", Active: true},
		model.Permission{Code: "email", Name: "Email address", Active: true},
		model.Permission{Code: "name", Name: "Display name", Active: true},
		model.Permission{Code: "avatar", Name: "Avatar", Active: true},
		model.Permission{Code: "letters.read", Name: "Read letters", RequiresVerified: true, IsCritical: true, Active: true},
	)
	return e
}

func createBrokerSession(t *testing.T, v *env, body map[string]any) map[string]any {
	t.Helper()
	req := map[string]any{
		"client_id":     "cid-1",
		"client_secret": "secret-1",
		"scopes":        []string{"auth"},
	}
	for k, val := range body {
		req[k] = val
	}
	rec := v.do(http.MethodPost, "/api/oauth/session", req, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode(t, rec)
}

func TestCreateSession(t *testing.T) {
	v := newEnv(t)
	seedClient(t, v, model.Epistolary{})

	body := createBrokerSession(t, v, nil)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(600), body["expires_in"])
	tokenStr := body["session_token"].(string)
	assert.NotEmpty(t, tokenStr)
	assert.Contains(t, body["auth_url"], "/oauth/authorize?session="+tokenStr)
}

func TestCreateSessionRejectsBadRequests(t *testing.T) {
	v := newEnv(t)
	seedClient(t, v, model.Epistolary{})

	rec := v.do(http.MethodPost, "/api/oauth/session", map[string]any{
		"client_id": "cid-1", "client_secret": "wrong", "scopes": []string{"auth"},
	}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid client credentials", decode(t, rec)["error"])

	rec = v.do(http.MethodPost, "/api/oauth/session", map[string]any{
		"client_id": "cid-1", "client_secret": "secret-1", "scopes": []string{"nope"},
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid scopes: nope", decode(t, rec)["error"])

	rec = v.do(http.MethodPost, "/api/oauth/session", map[string]any{
		"client_id": "cid-1", "client_secret": "secret-1", "scopes": []string{"letters.read"},
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid scopes: letters.read (requires verified epistolary)", decode(t, rec)["error"])

	rec = v.do(http.MethodPost, "/api/oauth/session", map[string]any{
		"client_id": "cid-1", "client_secret": "secret-1", "scopes": []string{"auth"},
		"external_id": "has spaces!",
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = v.do(http.MethodPost, "/api/oauth/session", map[string]any{
		"client_id": "cid-1", "client_secret": "secret-1", "scopes": []string{"auth"},
		"callback_url": "https://evil.example/cb",
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "callback_url is not in the allowed list", decode(t, rec)["error"])
}

func TestGetAuthorizeConsentPayload(t *testing.T) {
	v := newEnv(t)
	seedClient(t, v, model.Epistolary{WebsiteURL: "https://letters.example"})
	tokenStr := createBrokerSession(t, v, nil)["session_token"].(string)

	rec := v.do(http.MethodGet, "/api/oauth/authorize?session="+tokenStr, nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)

	assert.Equal(t, false, body["is_logged_in"])
	assert.Nil(t, body["user"])
	ep := body["epistolary"].(map[string]any)
	assert.Equal(t, "Letters App", ep["name"])
	assert.Equal(t, "https://letters.example", ep["website_url"])

	// "auth" expands to its implied permissions on the consent page.
	perms := body["permissions"].([]any)
	codes := make([]string, 0, len(perms))
	for _, p := range perms {
		codes = append(codes, p.(map[string]any)["code"].(string))
	}
	assert.ElementsMatch(t, []string{"auth", "email", "name", "avatar"}, codes)

	// A logged-in visitor sees their own identity.
	u := v.seedUser(t, model.User{ID: "u1", Email: "ana@example.com", Name: "Ana", EmailVerified: true}, "Abcdef12")
	sess := v.signIn(t, u, false)
	rec = v.do(http.MethodGet, "/api/oauth/authorize?session="+tokenStr, nil, sess)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, true, body["is_logged_in"])
	assert.Equal(t, "ana@example.com", body["user"].(map[string]any)["email"])
}

func TestApproveFlow(t *testing.T) {
	v := newEnv(t)
	seedClient(t, v, model.Epistolary{})
	tokenStr := createBrokerSession(t, v, map[string]any{"external_id": "ord42"})["session_token"].(string)

	u := v.seedUser(t, model.User{
		ID: "u1", Email: "ana@example.com", Name: "Ana", AvatarURL: "https://cdn.example/a.png", EmailVerified: true,
	}, "Abcdef12")
	sess := v.signIn(t, u, false)

	rec := v.do(http.MethodPost, "/api/oauth/approve", map[string]any{"session_token": tokenStr}, sess)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	redirect, err := url.Parse(decode(t, rec)["redirect_url"].(string))
	require.NoError(t, err)
	q := redirect.Query()
	assert.Equal(t, "success", q.Get("status"))
	assert.Equal(t, "ord42", q.Get("external_id"))
	accessToken := q.Get("token")
	require.NotEmpty(t, accessToken)

	// Approving twice is refused.
	rec = v.do(http.MethodPost, "/api/oauth/approve", map[string]any{"session_token": tokenStr}, sess)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "session already processed", decode(t, rec)["error"])

	// The polling endpoint reports completion with the token.
	rec = v.do(http.MethodGet, "/api/oauth/session/"+tokenStr, nil, "secret-1")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, accessToken, body["access_token"])
	assert.Equal(t, "ord42", body["external_id"])

	// The user endpoint projects through the expanded auth scope.
	rec = v.do(http.MethodGet, "/api/oauth/user/"+accessToken, nil, "secret-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	user := decode(t, rec)["user"].(map[string]any)
	assert.Equal(t, "u1", user["user_id"])
	assert.Equal(t, "ana@example.com", user["email"])
	assert.Equal(t, "Ana", user["name"])
	assert.Equal(t, "https://cdn.example/a.png", user["avatar_url"])
	assert.ElementsMatch(t, []any{"auth", "email", "name", "avatar"}, user["scopes"].([]any))
}

func TestApproveScopeProjection(t *testing.T) {
	v := newEnv(t)
	seedClient(t, v, model.Epistolary{})
	tokenStr := createBrokerSession(t, v, map[string]any{"scopes": []string{"email"}})["session_token"].(string)

	u := v.seedUser(t, model.User{ID: "u1", Email: "ana@example.com", Name: "Ana", EmailVerified: true}, "Abcdef12")
	sess := v.signIn(t, u, false)

	rec := v.do(http.MethodPost, "/api/oauth/approve", map[string]any{"session_token": tokenStr}, sess)
	require.Equal(t, http.StatusOK, rec.Code)
	redirect, err := url.Parse(decode(t, rec)["redirect_url"].(string))
	require.NoError(t, err)
	accessToken := redirect.Query().Get("token")

	rec = v.do(http.MethodGet, "/api/oauth/user/"+accessToken, nil, "secret-1")
	require.Equal(t, http.StatusOK, rec.Code)
	user := decode(t, rec)["user"].(map[string]any)
	assert.Equal(t, "ana@example.com", user["email"])
	_, hasName := user["name"]
	assert.False(t, hasName)
	_, hasAvatar := user["avatar_url"]
	assert.False(t, hasAvatar)
}

func TestApproveRequiresVerifiedUser(t *testing.T) {
	v := newEnv(t)
	seedClient(t, v, model.Epistolary{})
	tokenStr := createBrokerSession(t, v, nil)["session_token"].(string)

	u := v.seedUser(t, model.User{ID: "u1", Email: "ana@example.com"}, "Abcdef12")
	sess := v.signIn(t, u, false)

	rec := v.do(http.MethodPost, "/api/oauth/approve", map[string]any{"session_token": tokenStr}, sess)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "user not verified", decode(t, rec)["error"])
}

func TestApproveTargetMismatch(t *testing.T) {
	v := newEnv(t)
	seedClient(t, v, model.Epistolary{})
	tokenStr := createBrokerSession(t, v, map[string]any{"target_user": "someone.else@example.com"})["session_token"].(string)

	u := v.seedUser(t, model.User{ID: "u1", Email: "ana@example.com", EmailVerified: true}, "Abcdef12")
	sess := v.signIn(t, u, false)

	rec := v.do(http.MethodPost, "/api/oauth/approve", map[string]any{"session_token": tokenStr}, sess)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	redirect, err := url.Parse(decode(t, rec)["redirect_url"].(string))
	require.NoError(t, err)
	assert.Equal(t, "failed", redirect.Query().Get("status"))
	assert.Equal(t, "user_mismatch", redirect.Query().Get("error"))

	rec = v.do(http.MethodGet, "/api/oauth/session/"+tokenStr, nil, "secret-1")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "user_mismatch", body["error_code"])
}

func TestCancelSession(t *testing.T) {
	v := newEnv(t)
	seedClient(t, v, model.Epistolary{})
	tokenStr := createBrokerSession(t, v, nil)["session_token"].(string)

	// Declining needs no login.
	rec := v.do(http.MethodPost, "/api/oauth/cancel", map[string]any{"session_token": tokenStr}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	redirect, err := url.Parse(decode(t, rec)["redirect_url"].(string))
	require.NoError(t, err)
	assert.Equal(t, "cancelled", redirect.Query().Get("status"))
	assert.Equal(t, "user_cancelled", redirect.Query().Get("error"))

	rec = v.do(http.MethodGet, "/api/oauth/session/"+tokenStr, nil, "secret-1")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "cancelled", body["status"])
	assert.Equal(t, "user_cancelled", body["error_code"])

	// The consent page refuses the resolved session.
	rec = v.do(http.MethodGet, "/api/oauth/authorize?session="+tokenStr, nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "session already processed", decode(t, rec)["error"])
}

func TestSessionStatusAuthentication(t *testing.T) {
	v := newEnv(t)
	seedClient(t, v, model.Epistolary{})
	tokenStr := createBrokerSession(t, v, nil)["session_token"].(string)

	rec := v.do(http.MethodGet, "/api/oauth/session/"+tokenStr, nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = v.do(http.MethodGet, "/api/oauth/session/"+tokenStr, nil, "wrong-secret")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not authorized", decode(t, rec)["error"])
}

func TestSessionExpiry(t *testing.T) {
	v := newEnv(t)
	seedClient(t, v, model.Epistolary{})

	now := time.Now().UTC()
	require.NoError(t, v.st.CreateOAuthSession(context.Background(), model.OAuthSession{
		ID: "sess-1", EpistolaryID: "ep-1", SessionToken: "stale-token",
		TargetUser: "all", RequestedScopes: `["auth"]`,
		CallbackURL: "https://letters.example/cb", Status: model.OAuthStatusPending,
		ExpiresAt: now.Add(-time.Minute), CreatedAt: now.Add(-11 * time.Minute),
	}))

	rec := v.do(http.MethodGet, "/api/oauth/authorize?session=stale-token", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "session expired", decode(t, rec)["error"])

	// The polling endpoint derives the expired state.
	rec = v.do(http.MethodGet, "/api/oauth/session/stale-token", nil, "secret-1")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "expired", body["status"])
	assert.Equal(t, "session expired", body["message"])
}

func TestSessionStatusExpiryAfterCompletion(t *testing.T) {
	v := newEnv(t)
	seedClient(t, v, model.Epistolary{})

	now := time.Now().UTC()
	require.NoError(t, v.st.CreateOAuthSession(context.Background(), model.OAuthSession{
		ID: "sess-done", EpistolaryID: "ep-1", SessionToken: "done-token",
		TargetUser: "all", RequestedScopes: `["auth"]`,
		CallbackURL: "https://letters.example/cb", Status: model.OAuthStatusCompleted,
		UserID: "u1", AccessToken: "minted-token",
		ExpiresAt: now.Add(-time.Minute), CreatedAt: now.Add(-11 * time.Minute),
	}))

	// Past the window even a completed session reads as expired and the
	// token is withheld.
	rec := v.do(http.MethodGet, "/api/oauth/session/done-token", nil, "secret-1")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "expired", body["status"])
	_, hasToken := body["access_token"]
	assert.False(t, hasToken)
}

// approveRaceStore makes the approval lose the pending transition to a
// concurrent cancellation.
type approveRaceStore struct {
	*memory.Store
	minted int
}

func (s *approveRaceStore) CompleteOAuthSession(ctx context.Context, id, userID, accessToken string) error {
	if err := s.Store.ResolveOAuthSession(ctx, id, model.OAuthStatusCancelled, model.OAuthErrUserCancelled); err != nil {
		return err
	}
	return s.Store.CompleteOAuthSession(ctx, id, userID, accessToken)
}

func (s *approveRaceStore) CreateUserToken(ctx context.Context, tok model.OAuthUserToken) error {
	s.minted++
	return s.Store.CreateUserToken(ctx, tok)
}

func TestApproveConflictMintsNoToken(t *testing.T) {
	var rs *approveRaceStore
	v := newEnvWith(t, func(st store.Store) store.Store {
		rs = &approveRaceStore{Store: st.(*memory.Store)}
		return rs
	})
	seedClient(t, v, model.Epistolary{})
	tokenStr := createBrokerSession(t, v, nil)["session_token"].(string)

	u := v.seedUser(t, model.User{ID: "u1", Email: "ana@example.com", EmailVerified: true}, "Abcdef12")
	sess := v.signIn(t, u, false)

	rec := v.do(http.MethodPost, "/api/oauth/approve", map[string]any{"session_token": tokenStr}, sess)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "session already processed", decode(t, rec)["error"])
	assert.Equal(t, 0, rs.minted)
}

func TestGetUserByTokenExpired(t *testing.T) {
	v := newEnv(t)
	seedClient(t, v, model.Epistolary{})
	v.seedUser(t, model.User{ID: "u1", Email: "ana@example.com", EmailVerified: true}, "Abcdef12")

	now := time.Now().UTC()
	require.NoError(t, v.st.CreateUserToken(context.Background(), model.OAuthUserToken{
		ID: "ut-1", Token: "stale-access", EpistolaryID: "ep-1", UserID: "u1",
		GrantedScopes: `["auth"]`, ExpiresAt: now.Add(-time.Minute), CreatedAt: now.Add(-2 * time.Hour),
	}))

	rec := v.do(http.MethodGet, "/api/oauth/user/stale-access", nil, "secret-1")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token expired", decode(t, rec)["error"])
}
