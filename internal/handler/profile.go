package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/epistola/epistola-auth/internal/config"
	"github.com/epistola/epistola-auth/internal/mailer"
	"github.com/epistola/epistola-auth/internal/middleware"
	"github.com/epistola/epistola-auth/internal/store"
	"github.com/epistola/epistola-auth/internal/utils"
)

// emailChangeTokenTTL bounds the window for confirming a new address.
const emailChangeTokenTTL = time.Hour

// ProfileHandler covers account self-service: name, password and email
// changes.
type ProfileHandler struct {
	Cfg    config.Config
	Store  store.Store
	Mailer mailer.Mailer
}

func NewProfileHandler(cfg config.Config, st store.Store, m mailer.Mailer) *ProfileHandler {
	return &ProfileHandler{Cfg: cfg, Store: st, Mailer: m}
}

type updateNameReq struct {
	Name string `json:"name"`
}

func (h *ProfileHandler) UpdateName(c echo.Context) error {
	var req updateNameReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := utils.ValidateName(req.Name); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	claims := middleware.CurrentClaims(c)

	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := h.Store.SetUserName(ctx, claims.UserID, req.Name); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update name failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "name updated"})
}

type changePasswordReq struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword requires the current password and validates the new
// one like registration does.
func (h *ProfileHandler) ChangePassword(c echo.Context) error {
	var req changePasswordReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := utils.ValidatePassword(req.NewPassword); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	claims := middleware.CurrentClaims(c)

	ctx, cancel := reqCtx(c)
	defer cancel()

	u, err := h.Store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if err == store.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if !utils.VerifyPassword(u.PasswordHash, req.CurrentPassword) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "current password is incorrect"})
	}

	hash, err := utils.HashPassword(req.NewPassword, h.Cfg.BcryptCost)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "change password failed"})
	}
	if err := h.Store.SetUserPassword(ctx, u.ID, hash); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "change password failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "password changed"})
}

type emailChangeReq struct {
	NewEmail string `json:"new_email"`
}

// RequestEmailChange stores the pending address and mails a
// confirmation link to it. The current address stays active until the
// link is used.
func (h *ProfileHandler) RequestEmailChange(c echo.Context) error {
	var req emailChangeReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	newEmail := utils.NormalizeEmail(req.NewEmail)
	if err := utils.ValidateEmail(newEmail); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	claims := middleware.CurrentClaims(c)

	ctx, cancel := reqCtx(c)
	defer cancel()

	if _, err := h.Store.GetUserByEmail(ctx, newEmail); err == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email already in use"})
	} else if err != store.ErrNotFound {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	u, err := h.Store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if err == store.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	changeToken := utils.RandomToken(32)
	expires := time.Now().UTC().Add(emailChangeTokenTTL)
	if err := h.Store.SetPendingEmail(ctx, u.ID, newEmail, changeToken, expires); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "request email change failed"})
	}

	confirmURL := h.Cfg.PublicBaseURL + "/confirm-email-change?token=" + changeToken
	if err := h.Mailer.SendEmailChangeConfirmation(ctx, newEmail, u.Name, confirmURL); err != nil {
		c.Logger().Errorf("send email change mail: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "confirmation link sent to the new email"})
}

// ConfirmEmailChange consumes the mailed token and applies the pending
// address.
func (h *ProfileHandler) ConfirmEmailChange(c echo.Context) error {
	changeToken := c.QueryParam("token")
	if changeToken == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token required"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	_, err := h.Store.ConsumeEmailChangeToken(ctx, changeToken, time.Now().UTC())
	switch err {
	case nil:
	case store.ErrNotFound:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid token"})
	case store.ErrExpired:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token expired"})
	case store.ErrEmailExists:
		return c.JSON(http.StatusConflict, echo.Map{"error": "email already in use"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "confirm email change failed"})
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "email changed"})
}
