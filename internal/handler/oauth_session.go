package handler

import (
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/epistola/epistola-auth/internal/config"
	"github.com/epistola/epistola-auth/internal/middleware"
	"github.com/epistola/epistola-auth/internal/model"
	"github.com/epistola/epistola-auth/internal/scope"
	"github.com/epistola/epistola-auth/internal/store"
	"github.com/epistola/epistola-auth/internal/token"
	"github.com/epistola/epistola-auth/internal/utils"
)

const (
	// brokerSessionTTL bounds the window between session creation and
	// the user's decision.
	brokerSessionTTL = 10 * time.Minute
	// brokerTokenTTL is the lifetime of tokens minted on approval.
	brokerTokenTTL = time.Hour
)

var externalIDRe = regexp.MustCompile(`^[a-zA-Z0-9]{1,10}$`)

// OAuthSessionHandler implements the session-broker flow: a client
// creates a short-lived session server-to-server, sends the user to the
// consent page, and polls for the outcome.
type OAuthSessionHandler struct {
	Cfg    config.Config
	Store  store.Store
	Issuer *token.Issuer
	Scopes *scope.Validator
}

func NewOAuthSessionHandler(cfg config.Config, st store.Store, iss *token.Issuer, v *scope.Validator) *OAuthSessionHandler {
	return &OAuthSessionHandler{Cfg: cfg, Store: st, Issuer: iss, Scopes: v}
}

// bearerSecret extracts the client secret from the Authorization header
// of server-to-server polling calls.
func bearerSecret(c echo.Context) string {
	h := c.Request().Header.Get(echo.HeaderAuthorization)
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}

// callbackRedirect appends the outcome parameters to the registered
// callback URL.
func callbackRedirect(rawURL string, params map[string]string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

type createSessionReq struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Scopes       []string `json:"scopes"`
	CallbackURL  string   `json:"callback_url"`
	TargetUser   string   `json:"target_user"`
	ExternalID   string   `json:"external_id"`
}

// CreateSession opens a pending broker session for an authenticated
// client. Scopes are validated literally against the catalog and the
// client's trust tier before anything is stored.
func (h *OAuthSessionHandler) CreateSession(c echo.Context) error {
	var req createSessionReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.ClientID == "" || req.ClientSecret == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "client_id and client_secret are required"})
	}
	if len(req.Scopes) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "scopes must contain at least one permission"})
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

	targetUser := req.TargetUser
	if targetUser == "" {
		targetUser = "all"
	}
	if targetUser != "all" {
		if err := utils.ValidateEmail(utils.NormalizeEmail(targetUser)); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "target_user must be 'all' or a valid email"})
		}
		targetUser = utils.NormalizeEmail(targetUser)
	}
	if req.ExternalID != "" && !externalIDRe.MatchString(req.ExternalID) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "external_id must be up to 10 alphanumeric characters"})
	}

	if err := h.Scopes.Validate(ctx, req.Scopes, e); err != nil {
		if inv, ok := err.(*scope.InvalidScopesError); ok {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": inv.Error()})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "scope validation failed"})
	}

	var registered []string
	if err := json.Unmarshal([]byte(e.RedirectURIs), &registered); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	callbackURL := req.CallbackURL
	if callbackURL == "" {
		if len(registered) == 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "no callback URL configured"})
		}
		callbackURL = registered[0]
	} else {
		allowed := false
		for _, uri := range registered {
			if uri == callbackURL {
				allowed = true
				break
			}
		}
		if !allowed {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "callback_url is not in the allowed list"})
		}
	}

	scopesJSON, err := json.Marshal(req.Scopes)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid scopes"})
	}

	now := time.Now().UTC()
	sess := model.OAuthSession{
		ID:              uuid.NewString(),
		EpistolaryID:    e.ID,
		SessionToken:    uuid.NewString(),
		ExternalID:      req.ExternalID,
		TargetUser:      targetUser,
		RequestedScopes: string(scopesJSON),
		CallbackURL:     callbackURL,
		Status:          model.OAuthStatusPending,
		ExpiresAt:       now.Add(brokerSessionTTL),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := h.Store.CreateOAuthSession(ctx, sess); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create session failed"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success":       true,
		"auth_url":      h.Cfg.PublicBaseURL + "/oauth/authorize?session=" + sess.SessionToken,
		"session_token": sess.SessionToken,
		"expires_in":    int(brokerSessionTTL.Seconds()),
	})
}

// currentUser resolves the browser's own login, if any. Consent pages
// render for anonymous visitors too, so token problems are not errors
// here.
func (h *OAuthSessionHandler) currentUser(c echo.Context) *model.User {
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

	ctx, cancel := reqCtx(c)
	defer cancel()

	u, err := h.Store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil
	}
	return u
}

// GetAuthorize returns everything the consent page needs: the
// requesting client, the requested permissions with their descriptions,
// and the visitor's own login state.
func (h *OAuthSessionHandler) GetAuthorize(c echo.Context) error {
	sessionToken := c.QueryParam("session")
	if sessionToken == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "session token is required"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	sess, err := h.Store.GetOAuthSession(ctx, sessionToken)
	if err != nil {
		if err == store.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "session not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if time.Now().UTC().After(sess.ExpiresAt) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "session expired"})
	}
	if sess.Status != model.OAuthStatusPending {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "session already processed"})
	}

	e, err := h.Store.GetEpistolaryByID(ctx, sess.EpistolaryID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	var requested []string
	_ = json.Unmarshal([]byte(sess.RequestedScopes), &requested)
	expanded := scope.Expand(requested)

	perms, err := h.Store.GetPermissions(ctx, expanded)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	permList := make([]echo.Map, 0, len(perms))
	for _, p := range perms {
		permList = append(permList, echo.Map{
			"code":        p.Code,
			"name":        p.Name,
			"description": p.Description,
			"is_critical": p.IsCritical,
		})
	}

	var userInfo echo.Map
	u := h.currentUser(c)
	if u != nil {
		userInfo = echo.Map{"email": u.Email, "name": u.Name}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"session_token": sessionToken,
		"is_logged_in":  u != nil,
		"user":          userInfo,
		"epistolary": echo.Map{
			"name":        e.Name,
			"logo_url":    e.LogoURL,
			"website_url": e.WebsiteURL,
			"is_verified": e.IsVerified,
			"is_official": e.IsOfficial,
		},
		"target_user": sess.TargetUser,
		"external_id": sess.ExternalID,
		"permissions": permList,
	})
}

type sessionTokenReq struct {
	SessionToken string `json:"session_token"`
}

// Approve resolves a pending session for the logged-in user. A target
// mismatch fails the session and still hands back the redirect URL so
// the client learns the outcome.
func (h *OAuthSessionHandler) Approve(c echo.Context) error {
	var req sessionTokenReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.SessionToken == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "session_token is required"})
	}
	claims := middleware.CurrentClaims(c)

	ctx, cancel := reqCtx(c)
	defer cancel()

	sess, err := h.Store.GetOAuthSession(ctx, req.SessionToken)
	if err != nil {
		if err == store.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "session not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	now := time.Now().UTC()
	if now.After(sess.ExpiresAt) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "session expired"})
	}
	if sess.Status != model.OAuthStatusPending {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "session already processed"})
	}

	u, err := h.Store.GetUserByID(ctx, claims.UserID)
	if err != nil || !u.EmailVerified {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "user not verified"})
	}

	if sess.TargetUser != "all" && sess.TargetUser != u.Email {
		if err := h.Store.ResolveOAuthSession(ctx, sess.ID, model.OAuthStatusFailed, model.OAuthErrUserMismatch); err != nil {
			if err == store.ErrConflict {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "session already processed"})
			}
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "approve failed"})
		}
		params := map[string]string{"status": model.OAuthStatusFailed, "error": model.OAuthErrUserMismatch}
		if sess.ExternalID != "" {
			params["external_id"] = sess.ExternalID
		}
		return c.JSON(http.StatusOK, echo.Map{
			"success":      true,
			"redirect_url": callbackRedirect(sess.CallbackURL, params),
		})
	}

	var requested []string
	_ = json.Unmarshal([]byte(sess.RequestedScopes), &requested)
	granted, err := json.Marshal(scope.Expand(requested))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "approve failed"})
	}

	// Win the pending transition first; minting before it could leave a
	// live token behind when another decision lands concurrently.
	accessToken := uuid.NewString()
	if err := h.Store.CompleteOAuthSession(ctx, sess.ID, u.ID, accessToken); err != nil {
		if err == store.ErrConflict {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "session already processed"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "approve failed"})
	}
	if err := h.Store.CreateUserToken(ctx, model.OAuthUserToken{
		ID:            uuid.NewString(),
		Token:         accessToken,
		EpistolaryID:  sess.EpistolaryID,
		UserID:        u.ID,
		SessionID:     sess.ID,
		GrantedScopes: string(granted),
		ExpiresAt:     now.Add(brokerTokenTTL),
		CreatedAt:     now,
	}); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "approve failed"})
	}

	params := map[string]string{"status": "success", "token": accessToken}
	if sess.ExternalID != "" {
		params["external_id"] = sess.ExternalID
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":      true,
		"redirect_url": callbackRedirect(sess.CallbackURL, params),
	})
}

// Cancel resolves a pending session as declined by the user. The
// consent page calls this without requiring a login.
func (h *OAuthSessionHandler) Cancel(c echo.Context) error {
	var req sessionTokenReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.SessionToken == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "session_token is required"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	sess, err := h.Store.GetOAuthSession(ctx, req.SessionToken)
	if err != nil {
		if err == store.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "session not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	if err := h.Store.ResolveOAuthSession(ctx, sess.ID, model.OAuthStatusCancelled, model.OAuthErrUserCancelled); err != nil {
		if err == store.ErrConflict {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "session already processed"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "cancel failed"})
	}

	params := map[string]string{"status": model.OAuthStatusCancelled, "error": model.OAuthErrUserCancelled}
	if sess.ExternalID != "" {
		params["external_id"] = sess.ExternalID
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":      true,
		"redirect_url": callbackRedirect(sess.CallbackURL, params),
	})
}

// GetSessionStatus is the client's polling endpoint, authenticated by
// its secret. Expiry is derived from the timestamp, never written back.
func (h *OAuthSessionHandler) GetSessionStatus(c echo.Context) error {
	secret := bearerSecret(c)
	if secret == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	sess, err := h.Store.GetOAuthSession(ctx, c.Param("token"))
	if err != nil {
		if err == store.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "session not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	e, err := h.Store.GetEpistolaryByID(ctx, sess.EpistolaryID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if e.ClientSecret != secret {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not authorized"})
	}

	// Expiry wins over any stored status once the window has passed.
	if time.Now().UTC().After(sess.ExpiresAt) {
		return c.JSON(http.StatusOK, echo.Map{
			"success": true,
			"status":  model.OAuthStatusExpired,
			"message": "session expired",
		})
	}

	resp := echo.Map{
		"success":     true,
		"status":      sess.Status,
		"external_id": sess.ExternalID,
		"created_at":  sess.CreatedAt.Unix(),
	}
	switch sess.Status {
	case model.OAuthStatusCompleted:
		resp["access_token"] = sess.AccessToken
	case model.OAuthStatusFailed, model.OAuthStatusCancelled:
		resp["error_code"] = sess.ErrorCode
	}
	return c.JSON(http.StatusOK, resp)
}

// GetUserByToken returns the approved user's data projected through the
// granted scopes. Authenticated by the client secret.
func (h *OAuthSessionHandler) GetUserByToken(c echo.Context) error {
	secret := bearerSecret(c)
	if secret == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	t, err := h.Store.GetUserToken(ctx, c.Param("token"))
	if err != nil {
		if err == store.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "invalid token"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	e, err := h.Store.GetEpistolaryByID(ctx, t.EpistolaryID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if e.ClientSecret != secret {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not authorized"})
	}
	if time.Now().UTC().After(t.ExpiresAt) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token expired"})
	}

	u, err := h.Store.GetUserByID(ctx, t.UserID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	var granted []string
	_ = json.Unmarshal([]byte(t.GrantedScopes), &granted)
	has := make(map[string]bool, len(granted))
	for _, sc := range granted {
		has[sc] = true
	}

	user := echo.Map{"user_id": u.ID, "scopes": granted}
	if has[scope.Auth] || has["email"] {
		user["email"] = u.Email
	}
	if has[scope.Auth] || has["name"] {
		user["name"] = u.Name
	}
	if has[scope.Auth] || has["avatar"] || has["profile"] {
		user["avatar_url"] = u.AvatarURL
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "user": user})
}
