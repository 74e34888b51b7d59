package handler

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/epistola/epistola-auth/internal/config"
	"github.com/epistola/epistola-auth/internal/model"
	"github.com/epistola/epistola-auth/internal/scope"
	"github.com/epistola/epistola-auth/internal/store"
	"github.com/epistola/epistola-auth/internal/token"
	"github.com/epistola/epistola-auth/internal/utils"
)

// OAuthServerHandler implements the classic authorization-code grant
// with refresh-token rotation, alongside the broker flow.
type OAuthServerHandler struct {
	Cfg    config.Config
	Store  store.Store
	Issuer *token.Issuer
	Scopes *scope.Validator
}

func NewOAuthServerHandler(cfg config.Config, st store.Store, iss *token.Issuer, v *scope.Validator) *OAuthServerHandler {
	return &OAuthServerHandler{Cfg: cfg, Store: st, Issuer: iss, Scopes: v}
}

func (h *OAuthServerHandler) authCodeTTL() time.Duration {
	return time.Duration(h.Cfg.AuthCodeTTLMin) * time.Minute
}

func (h *OAuthServerHandler) accessTTL() time.Duration {
	return time.Duration(h.Cfg.AccessTTLMin) * time.Minute
}

func (h *OAuthServerHandler) refreshTTL() time.Duration {
	return time.Duration(h.Cfg.RefreshTTLDays) * 24 * time.Hour
}

// sessionClaims resolves the browser's full login session. The grant
// endpoint reports the outcome itself instead of using the session
// middleware, so clients get a structured login_required.
func (h *OAuthServerHandler) sessionClaims(c echo.Context) *token.Claims {
	var raw string
	if cookie, err := c.Cookie("session_token"); err == nil && cookie.Value != "" {
		raw = cookie.Value
	} else if auth := c.Request().Header.Get(echo.HeaderAuthorization); strings.HasPrefix(auth, "Bearer ") {
		raw = strings.TrimPrefix(auth, "Bearer ")
	}
	if raw == "" {
		return nil
	}
	claims, err := h.Issuer.Verify(raw)
	if err != nil || claims.Requires2FA {
		return nil
	}
	return claims
}

// Authorize issues a single-use authorization code for the logged-in
// user and hands back the redirect URL carrying code and state.
func (h *OAuthServerHandler) Authorize(c echo.Context) error {
	claims := h.sessionClaims(c)
	if claims == nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "login_required"})
	}

	clientID := c.QueryParam("client_id")
	redirectURI := c.QueryParam("redirect_uri")
	scopeParam := c.QueryParam("scope")
	state := c.QueryParam("state")
	if rt := c.QueryParam("response_type"); rt != "" && rt != "code" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unsupported response_type"})
	}
	if clientID == "" || redirectURI == "" || scopeParam == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "client_id, redirect_uri and scope are required"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	e, err := h.Store.GetEpistolaryByClientID(ctx, clientID)
	if err != nil {
		if err == store.ErrNotFound {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown client"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	var registered []string
	if err := json.Unmarshal([]byte(e.RedirectURIs), &registered); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	allowed := false
	for _, uri := range registered {
		if uri == redirectURI {
			allowed = true
			break
		}
	}
	if !allowed {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "redirect_uri is not registered"})
	}

	scopes := strings.Fields(scopeParam)
	if err := h.Scopes.Validate(ctx, scopes, e); err != nil {
		if inv, ok := err.(*scope.InvalidScopesError); ok {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": inv.Error()})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "scope validation failed"})
	}

	now := time.Now().UTC()
	code := utils.RandomToken(32)
	if err := h.Store.CreateAuthCode(ctx, model.AuthCode{
		Code:         code,
		EpistolaryID: e.ID,
		UserID:       claims.UserID,
		RedirectURI:  redirectURI,
		Scopes:       strings.Join(scopes, " "),
		ExpiresAt:    now.Add(h.authCodeTTL()),
		CreatedAt:    now,
	}); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "authorize failed"})
	}

	loc, err := url.Parse(redirectURI)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "redirect_uri is not registered"})
	}
	q := loc.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	loc.RawQuery = q.Encode()

	return c.JSON(http.StatusOK, echo.Map{"redirect_url": loc.String()})
}

type tokenReq struct {
	GrantType    string `json:"grant_type" form:"grant_type"`
	Code         string `json:"code" form:"code"`
	RedirectURI  string `json:"redirect_uri" form:"redirect_uri"`
	RefreshToken string `json:"refresh_token" form:"refresh_token"`
	ClientID     string `json:"client_id" form:"client_id"`
	ClientSecret string `json:"client_secret" form:"client_secret"`
}

func tokenResponse(c echo.Context, access string, refresh string, scopes string, expiresIn time.Duration) error {
	resp := echo.Map{
		"access_token": access,
		"token_type":   "Bearer",
		"expires_in":   int(expiresIn.Seconds()),
		"scope":        scopes,
	}
	if refresh != "" {
		resp["refresh_token"] = refresh
	}
	return c.JSON(http.StatusOK, resp)
}

// Token exchanges an authorization code or a refresh token for an
// access token. Accepts form-encoded and JSON bodies.
func (h *OAuthServerHandler) Token(c echo.Context) error {
	var req tokenReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.ClientID == "" || req.ClientSecret == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "client_id and client_secret are required"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	e, err := h.Store.GetEpistolaryByCredentials(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		if err == store.ErrNotFound {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid client credentials"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	switch req.GrantType {
	case "authorization_code":
		return h.exchangeCode(c, e, req)
	case "refresh_token":
		return h.refreshGrant(c, e, req)
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unsupported grant_type"})
	}
}

func (h *OAuthServerHandler) exchangeCode(c echo.Context, e *model.Epistolary, req tokenReq) error {
	if req.Code == "" || req.RedirectURI == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code and redirect_uri are required"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	now := time.Now().UTC()
	ac, err := h.Store.ConsumeAuthCode(ctx, req.Code, e.ID, req.RedirectURI, now)
	switch err {
	case nil:
	case store.ErrNotFound, store.ErrConflict:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid authorization code"})
	case store.ErrExpired:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "authorization code expired"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token exchange failed"})
	}

	granted := strings.Join(scope.Expand(strings.Fields(ac.Scopes)), " ")
	access := utils.RandomToken(32)
	refresh := utils.RandomToken(32)

	if err := h.Store.CreateAccessToken(ctx, model.AccessToken{
		Token:        access,
		EpistolaryID: e.ID,
		UserID:       ac.UserID,
		Scopes:       granted,
		ExpiresAt:    now.Add(h.accessTTL()),
		CreatedAt:    now,
	}); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token exchange failed"})
	}
	if err := h.Store.CreateRefreshToken(ctx, model.RefreshToken{
		Token:        refresh,
		EpistolaryID: e.ID,
		UserID:       ac.UserID,
		AccessToken:  access,
		Scopes:       granted,
		ExpiresAt:    now.Add(h.refreshTTL()),
		CreatedAt:    now,
	}); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token exchange failed"})
	}

	return tokenResponse(c, access, refresh, granted, h.accessTTL())
}

// refreshGrant rotates the access token under an existing refresh
// token. The refresh token itself is repointed, never reissued.
func (h *OAuthServerHandler) refreshGrant(c echo.Context, e *model.Epistolary, req tokenReq) error {
	if req.RefreshToken == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token is required"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	rt, err := h.Store.GetRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if err == store.ErrNotFound {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid refresh token"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	now := time.Now().UTC()
	if rt.EpistolaryID != e.ID {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid refresh token"})
	}
	if now.After(rt.ExpiresAt) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh token expired"})
	}

	if err := h.Store.DeleteAccessToken(ctx, rt.AccessToken); err != nil && err != store.ErrNotFound {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token refresh failed"})
	}

	access := utils.RandomToken(32)
	if err := h.Store.CreateAccessToken(ctx, model.AccessToken{
		Token:        access,
		EpistolaryID: e.ID,
		UserID:       rt.UserID,
		Scopes:       rt.Scopes,
		ExpiresAt:    now.Add(h.accessTTL()),
		CreatedAt:    now,
	}); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token refresh failed"})
	}
	if err := h.Store.RepointRefreshToken(ctx, rt.Token, access); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token refresh failed"})
	}

	return tokenResponse(c, access, "", rt.Scopes, h.accessTTL())
}

// Userinfo returns the token owner's profile projected through the
// granted scopes.
func (h *OAuthServerHandler) Userinfo(c echo.Context) error {
	raw := bearerSecret(c)
	if raw == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	at, err := h.Store.GetAccessToken(ctx, raw)
	if err != nil {
		if err == store.ErrNotFound {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if time.Now().UTC().After(at.ExpiresAt) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token expired"})
	}

	u, err := h.Store.GetUserByID(ctx, at.UserID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	granted := strings.Fields(at.Scopes)
	has := make(map[string]bool, len(granted))
	for _, sc := range granted {
		has[sc] = true
	}
	auth := has[scope.Auth]

	info := echo.Map{"sub": u.ID}
	if auth || has["basic"] || has["profile"] || has["name"] {
		info["name"] = u.Name
	}
	if auth || has["basic"] || has["profile"] || has["avatar"] {
		info["avatar_url"] = u.AvatarURL
	}
	if auth || has["email"] {
		info["email"] = u.Email
		info["email_verified"] = u.EmailVerified
	}
	return c.JSON(http.StatusOK, info)
}

type revokeReq struct {
	Token         string `json:"token" form:"token"`
	TokenTypeHint string `json:"token_type_hint" form:"token_type_hint"`
	ClientID      string `json:"client_id" form:"client_id"`
	ClientSecret  string `json:"client_secret" form:"client_secret"`
}

// Revoke invalidates an access or refresh token. Revoking an access
// token also severs the refresh token that references it.
func (h *OAuthServerHandler) Revoke(c echo.Context) error {
	var req revokeReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Token == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token is required"})
	}
	if req.ClientID == "" || req.ClientSecret == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "client_id and client_secret are required"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	if _, err := h.Store.GetEpistolaryByCredentials(ctx, req.ClientID, req.ClientSecret); err != nil {
		if err == store.ErrNotFound {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid client credentials"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	switch req.TokenTypeHint {
	case "refresh_token":
		if err := h.Store.DeleteRefreshToken(ctx, req.Token); err != nil && err != store.ErrNotFound {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "revoke failed"})
		}
	default:
		if err := h.Store.DeleteAccessToken(ctx, req.Token); err != nil && err != store.ErrNotFound {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "revoke failed"})
		}
		if err := h.Store.DeleteRefreshTokenByAccess(ctx, req.Token); err != nil && err != store.ErrNotFound {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "revoke failed"})
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}
