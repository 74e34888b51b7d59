package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/epistola/epistola-auth/internal/config"
	"github.com/epistola/epistola-auth/internal/mailer"
	"github.com/epistola/epistola-auth/internal/middleware"
	"github.com/epistola/epistola-auth/internal/model"
	"github.com/epistola/epistola-auth/internal/store"
	"github.com/epistola/epistola-auth/internal/totp"
	"github.com/epistola/epistola-auth/internal/utils"
)

// deleteRequestTTL bounds the window for confirming a two-step
// deletion.
const deleteRequestTTL = time.Hour

// EpistolaryHandler manages third-party client registrations.
type EpistolaryHandler struct {
	Cfg    config.Config
	Store  store.Store
	Mailer mailer.Mailer
}

func NewEpistolaryHandler(cfg config.Config, st store.Store, m mailer.Mailer) *EpistolaryHandler {
	return &EpistolaryHandler{Cfg: cfg, Store: st, Mailer: m}
}

// requireVerifiedUser loads the authenticated account and enforces a
// confirmed email address, which every epistolary operation needs.
func (h *EpistolaryHandler) requireVerifiedUser(c echo.Context) (*model.User, error) {
	claims := middleware.CurrentClaims(c)

	ctx, cancel := reqCtx(c)
	defer cancel()

	u, err := h.Store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		return nil, c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if !u.EmailVerified {
		return nil, c.JSON(http.StatusForbidden, echo.Map{"error": "email not verified"})
	}
	return u, nil
}

func validateRedirectURIs(uris []string) string {
	if len(uris) == 0 {
		return "at least one redirect_uri is required"
	}
	for _, uri := range uris {
		if !strings.HasPrefix(uri, "https://") {
			return "all redirect_uris must use HTTPS"
		}
	}
	return ""
}

// epistolaryPayload omits the client secret; it is only ever shown at
// creation and regeneration.
func epistolaryPayload(e *model.Epistolary) echo.Map {
	var uris []string
	_ = json.Unmarshal([]byte(e.RedirectURIs), &uris)
	return echo.Map{
		"id":            e.ID,
		"name":          e.Name,
		"description":   e.Description,
		"redirect_uris": uris,
		"client_id":     e.ClientID,
		"logo_url":      e.LogoURL,
		"website_url":   e.WebsiteURL,
		"is_verified":   e.IsVerified,
		"is_official":   e.IsOfficial,
		"active":        e.Active,
		"created_at":    e.CreatedAt.Unix(),
	}
}

type createEpistolaryReq struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	RedirectURIs []string `json:"redirect_uris"`
	LogoURL      string   `json:"logo_url"`
	WebsiteURL   string   `json:"website_url"`
}

// Create registers a new epistolary and returns the generated
// credentials, including the secret's single appearance.
func (h *EpistolaryHandler) Create(c echo.Context) error {
	u, errResp := h.requireVerifiedUser(c)
	if u == nil {
		return errResp
	}

	var req createEpistolaryReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Name == "" || len(req.RedirectURIs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name and redirect_uris are required"})
	}
	if msg := validateRedirectURIs(req.RedirectURIs); msg != "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
	}

	uris, err := json.Marshal(req.RedirectURIs)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid redirect_uris"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	now := time.Now().UTC()
	e := model.Epistolary{
		ID:           uuid.NewString(),
		UserID:       u.ID,
		Name:         req.Name,
		Description:  req.Description,
		RedirectURIs: string(uris),
		ClientID:     uuid.NewString(),
		ClientSecret: utils.RandomToken(32),
		LogoURL:      req.LogoURL,
		WebsiteURL:   req.WebsiteURL,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.Store.CreateEpistolary(ctx, e); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create epistolary failed"})
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"success": true,
		"epistolary": echo.Map{
			"id":            e.ID,
			"name":          e.Name,
			"description":   e.Description,
			"redirect_uris": req.RedirectURIs,
			"client_id":     e.ClientID,
			"client_secret": e.ClientSecret,
			"logo_url":      e.LogoURL,
			"website_url":   e.WebsiteURL,
			"is_verified":   false,
			"is_official":   false,
		},
	})
}

// List returns the caller's epistolaries without secrets.
func (h *EpistolaryHandler) List(c echo.Context) error {
	u, errResp := h.requireVerifiedUser(c)
	if u == nil {
		return errResp
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	list, err := h.Store.ListEpistolaries(ctx, u.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "list epistolaries failed"})
	}

	out := make([]echo.Map, 0, len(list))
	for i := range list {
		out = append(out, epistolaryPayload(&list[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "epistolaries": out})
}

// Get returns one owner-scoped epistolary without its secret.
func (h *EpistolaryHandler) Get(c echo.Context) error {
	u, errResp := h.requireVerifiedUser(c)
	if u == nil {
		return errResp
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	e, err := h.Store.GetEpistolary(ctx, c.Param("id"), u.ID)
	if err != nil {
		if err == store.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "epistolary not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "epistolary": epistolaryPayload(e)})
}

type updateEpistolaryReq struct {
	Name         *string  `json:"name"`
	Description  *string  `json:"description"`
	RedirectURIs []string `json:"redirect_uris"`
	LogoURL      *string  `json:"logo_url"`
	WebsiteURL   *string  `json:"website_url"`
	Active       *bool    `json:"active"`
}

// Update overlays the requested changes on the stored record and writes
// the full mutable column set back in one fixed statement.
func (h *EpistolaryHandler) Update(c echo.Context) error {
	u, errResp := h.requireVerifiedUser(c)
	if u == nil {
		return errResp
	}

	var req updateEpistolaryReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Name == nil && req.Description == nil && req.RedirectURIs == nil &&
		req.LogoURL == nil && req.WebsiteURL == nil && req.Active == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "no fields to update"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	e, err := h.Store.GetEpistolary(ctx, c.Param("id"), u.ID)
	if err != nil {
		if err == store.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "epistolary not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	upd := store.EpistolaryUpdate{
		Name:         e.Name,
		Description:  e.Description,
		RedirectURIs: e.RedirectURIs,
		LogoURL:      e.LogoURL,
		WebsiteURL:   e.WebsiteURL,
		Active:       e.Active,
	}
	if req.Name != nil {
		if *req.Name == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "name cannot be empty"})
		}
		upd.Name = *req.Name
	}
	if req.Description != nil {
		upd.Description = *req.Description
	}
	if req.RedirectURIs != nil {
		if msg := validateRedirectURIs(req.RedirectURIs); msg != "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
		}
		uris, err := json.Marshal(req.RedirectURIs)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid redirect_uris"})
		}
		upd.RedirectURIs = string(uris)
	}
	if req.LogoURL != nil {
		upd.LogoURL = *req.LogoURL
	}
	if req.WebsiteURL != nil {
		upd.WebsiteURL = *req.WebsiteURL
	}
	if req.Active != nil {
		upd.Active = *req.Active
	}

	if err := h.Store.UpdateEpistolary(ctx, e.ID, u.ID, upd); err != nil {
		if err == store.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "epistolary not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update epistolary failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "epistolary updated"})
}

// Delete removes an epistolary directly, for owners acting from an
// authenticated dashboard session.
func (h *EpistolaryHandler) Delete(c echo.Context) error {
	u, errResp := h.requireVerifiedUser(c)
	if u == nil {
		return errResp
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := h.Store.DeleteEpistolary(ctx, c.Param("id"), u.ID); err != nil {
		if err == store.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "epistolary not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete epistolary failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "epistolary removed"})
}

// RegenerateSecret rotates the client secret and returns its only
// appearance.
func (h *EpistolaryHandler) RegenerateSecret(c echo.Context) error {
	u, errResp := h.requireVerifiedUser(c)
	if u == nil {
		return errResp
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	newSecret := utils.RandomToken(32)
	if err := h.Store.RotateEpistolarySecret(ctx, c.Param("id"), u.ID, newSecret); err != nil {
		if err == store.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "epistolary not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "regenerate secret failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "client_secret": newSecret})
}

type requestDeleteReq struct {
	Password  string `json:"password"`
	TwoFACode string `json:"twofa_code"`
}

// RequestDelete starts the two-step deletion: the owner re-proves
// password (and TOTP when enrolled), then receives a one-hour
// confirmation link by mail.
func (h *EpistolaryHandler) RequestDelete(c echo.Context) error {
	u, errResp := h.requireVerifiedUser(c)
	if u == nil {
		return errResp
	}

	var req requestDeleteReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "password is required"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	e, err := h.Store.GetEpistolary(ctx, c.Param("id"), u.ID)
	if err != nil {
		if err == store.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "epistolary not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	if !utils.VerifyPassword(u.PasswordHash, req.Password) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "incorrect password"})
	}
	if u.TOTPEnabled && u.TOTPSecret != "" {
		if req.TwoFACode == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "2FA code is required"})
		}
		if !totp.Verify(req.TwoFACode, u.TOTPSecret) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid 2FA code"})
		}
	}

	deleteToken := utils.RandomToken(32)
	if err := h.Store.CreateDeleteRequest(ctx, model.EpistolaryDeleteRequest{
		Token:        deleteToken,
		EpistolaryID: e.ID,
		UserID:       u.ID,
		ExpiresAt:    time.Now().UTC().Add(deleteRequestTTL),
	}); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "request delete failed"})
	}

	confirmURL := h.Cfg.PublicBaseURL + "/confirm-delete-epistolary?token=" + deleteToken
	if err := h.Mailer.SendEpistolaryDeleteConfirmation(ctx, u.Email, u.Name, e.Name, confirmURL); err != nil {
		c.Logger().Errorf("send delete confirmation mail: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "confirmation link sent to your email"})
}

// ConfirmDelete resolves a mailed deletion link. GET describes the
// pending request; POST with confirm=true executes it. An expired token
// is discarded on sight.
func (h *EpistolaryHandler) ConfirmDelete(c echo.Context) error {
	deleteToken := c.QueryParam("token")
	if deleteToken == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token required"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	req, err := h.Store.GetDeleteRequest(ctx, deleteToken)
	if err != nil {
		if err == store.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "invalid or already used link"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if time.Now().UTC().After(req.ExpiresAt) {
		_ = h.Store.ConsumeDeleteRequest(ctx, deleteToken)
		return c.JSON(http.StatusGone, echo.Map{"error": "link expired"})
	}

	e, err := h.Store.GetEpistolaryByID(ctx, req.EpistolaryID)
	if err != nil && err != store.ErrNotFound {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	if c.Request().Method == http.MethodPost && c.QueryParam("confirm") == "true" {
		if err := h.Store.DeleteEpistolary(ctx, req.EpistolaryID, req.UserID); err != nil && err != store.ErrNotFound {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete epistolary failed"})
		}
		if err := h.Store.ConsumeDeleteRequest(ctx, deleteToken); err != nil && err != store.ErrNotFound {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete epistolary failed"})
		}
		return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "epistolary deleted"})
	}

	name := ""
	if e != nil {
		name = e.Name
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":    true,
		"epistolary": echo.Map{"name": name},
		"expires_at": req.ExpiresAt.Unix(),
		"message":    "POST with confirm=true to delete permanently",
	})
}
