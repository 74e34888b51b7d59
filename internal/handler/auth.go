package handler

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/epistola/epistola-auth/internal/botcheck"
	"github.com/epistola/epistola-auth/internal/config"
	"github.com/epistola/epistola-auth/internal/mailer"
	"github.com/epistola/epistola-auth/internal/middleware"
	"github.com/epistola/epistola-auth/internal/model"
	"github.com/epistola/epistola-auth/internal/store"
	"github.com/epistola/epistola-auth/internal/token"
	"github.com/epistola/epistola-auth/internal/utils"
)

// verificationTokenTTL is how long an email-verification link stays
// valid.
const verificationTokenTTL = 24 * time.Hour

// AuthHandler bundles dependencies for registration, login and session
// endpoints.
type AuthHandler struct {
	Cfg    config.Config
	Store  store.Store
	Issuer *token.Issuer
	Mailer mailer.Mailer
	Bot    botcheck.Verifier
}

func NewAuthHandler(cfg config.Config, st store.Store, issuer *token.Issuer, m mailer.Mailer, bot botcheck.Verifier) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Store: st, Issuer: issuer, Mailer: m, Bot: bot}
}

func (h *AuthHandler) sessionTTL() time.Duration {
	return time.Duration(h.Cfg.SessionTTLHours) * time.Hour
}

func (h *AuthHandler) cookieMaxAge() int {
	return h.Cfg.SessionTTLHours * 3600
}

// checkBot validates the anti-bot token of a request. A nil return
// means the caller already received the error response.
func checkBot(c echo.Context, bot botcheck.Verifier, botToken string) error {
	if botToken == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "security verification required"})
	}
	if !bot.Verify(c.Request().Context(), botToken, c.RealIP()) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "security verification failed"})
	}
	return nil
}

// ----- DTOs -----

type registerReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	BotToken string `json:"bot_token"`
}
type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	BotToken string `json:"bot_token"`
}

// Register creates an unverified account, mails the verification link
// and starts a limited session.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := checkBot(c, h.Bot, req.BotToken); err != nil {
		return err
	}

	req.Email = utils.NormalizeEmail(req.Email)
	if err := utils.ValidateEmail(req.Email); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if err := utils.ValidateName(req.Name); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if err := utils.ValidatePassword(req.Password); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	hash, err := utils.HashPassword(req.Password, h.Cfg.BcryptCost)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create user failed"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	now := time.Now().UTC()
	verifyExpires := now.Add(verificationTokenTTL)
	u := model.User{
		ID:                  uuid.NewString(),
		Email:               req.Email,
		PasswordHash:        hash,
		Name:                req.Name,
		VerificationToken:   utils.RandomToken(32),
		VerificationExpires: &verifyExpires,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := h.Store.CreateUser(ctx, u); err != nil {
		if err == store.ErrEmailExists {
			return c.JSON(http.StatusConflict, echo.Map{"error": "email already registered"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create user failed"})
	}

	verifyURL := h.Cfg.PublicBaseURL + "/api/auth/verify-email/" + u.VerificationToken
	if err := h.Mailer.SendVerification(ctx, u.Email, u.Name, verifyURL); err != nil {
		c.Logger().Errorf("send verification mail: %v", err)
	}

	signed, _, err := startSession(ctx, h.Store, h.Issuer, &u, h.sessionTTL(), false)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create session failed"})
	}
	setSessionCookie(c, signed, h.cookieMaxAge())

	return c.JSON(http.StatusCreated, echo.Map{
		"success": true,
		"message": "account created, check your email to activate it",
		"user":    echo.Map{"id": u.ID, "email": u.Email, "name": u.Name},
	})
}

// Login runs the login state machine: credential check, then either an
// unverified limited session, a pending two-factor session or a full
// session.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := checkBot(c, h.Bot, req.BotToken); err != nil {
		return err
	}
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email and password required"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	u, err := h.Store.GetUserByEmail(ctx, utils.NormalizeEmail(req.Email))
	if err != nil {
		if err == store.ErrNotFound {
			// Same body as a wrong password so the response does not
			// reveal which accounts exist.
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid email or password"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if !utils.VerifyPassword(u.PasswordHash, req.Password) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid email or password"})
	}

	if !u.EmailVerified {
		signed, _, err := startSession(ctx, h.Store, h.Issuer, u, h.sessionTTL(), false)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create session failed"})
		}
		setSessionCookie(c, signed, h.cookieMaxAge())
		return c.JSON(http.StatusForbidden, echo.Map{"error": "email not verified, check your inbox"})
	}

	if u.TwoFAEnabled() {
		signed, _, err := startSession(ctx, h.Store, h.Issuer, u, h.sessionTTL(), true)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create session failed"})
		}
		setSessionCookie(c, signed, h.cookieMaxAge())
		return c.JSON(http.StatusOK, echo.Map{
			"success":     true,
			"requires2fa": true,
			"methods": echo.Map{
				"app":   u.TOTPEnabled,
				"email": u.Email2FAEnabled,
			},
		})
	}

	signed, expiresAt, err := startSession(ctx, h.Store, h.Issuer, u, h.sessionTTL(), false)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create session failed"})
	}
	setSessionCookie(c, signed, h.cookieMaxAge())

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"user":    userPayload(u),
		"session": echo.Map{"expires_at": expiresAt.Unix()},
	})
}

// VerifyEmail consumes the mailed token, marks the address confirmed
// and logs the user straight in.
func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	u, err := h.Store.ConsumeVerificationToken(ctx, c.Param("token"), time.Now().UTC())
	if err != nil {
		switch err {
		case store.ErrNotFound, store.ErrExpired:
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid or expired token"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "verify email failed"})
		}
	}

	if err := h.Mailer.SendWelcome(ctx, u.Email, u.Name); err != nil {
		c.Logger().Errorf("send welcome mail: %v", err)
	}

	signed, expiresAt, err := startSession(ctx, h.Store, h.Issuer, u, h.sessionTTL(), false)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create session failed"})
	}
	setSessionCookie(c, signed, h.cookieMaxAge())

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"message": "email verified",
		"user":    userPayload(u),
		"session": echo.Map{"expires_at": expiresAt.Unix()},
	})
}

type resendReq struct {
	BotToken string `json:"bot_token"`
}

// ResendVerification issues a fresh verification token under the
// exponential resend backoff.
func (h *AuthHandler) ResendVerification(c echo.Context) error {
	var req resendReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := checkBot(c, h.Bot, req.BotToken); err != nil {
		return err
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
	if u.EmailVerified {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email already verified"})
	}

	now := time.Now().UTC()
	if remaining := utils.ResendRemaining(u.VerificationSentAt, u.VerificationSendCount, now); remaining > 0 {
		return c.JSON(http.StatusTooManyRequests, echo.Map{
			"error": fmt.Sprintf("wait %d minute(s) before requesting another email",
				int(math.Ceil(remaining.Minutes()))),
		})
	}

	newToken := utils.RandomToken(32)
	if err := h.Store.SetVerificationToken(ctx, u.ID, newToken,
		now.Add(verificationTokenTTL), now, u.VerificationSendCount+1); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "resend failed"})
	}

	verifyURL := h.Cfg.PublicBaseURL + "/api/auth/verify-email/" + newToken
	if err := h.Mailer.SendVerification(ctx, u.Email, u.Name, verifyURL); err != nil {
		c.Logger().Errorf("send verification mail: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "verification email sent"})
}

// Logout removes every session row of the subject and clears the
// cookie.
func (h *AuthHandler) Logout(c echo.Context) error {
	claims := middleware.CurrentClaims(c)

	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := h.Store.DeleteUserSessions(ctx, claims.UserID); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "logout failed"})
	}
	clearSessionCookie(c)
	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "logged out"})
}

// Profile returns the account fields shown in the dashboard.
func (h *AuthHandler) Profile(c echo.Context) error {
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

	return c.JSON(http.StatusOK, echo.Map{
		"id":                       u.ID,
		"email":                    u.Email,
		"name":                     u.Name,
		"avatar_url":               u.AvatarURL,
		"email_verified":           u.EmailVerified,
		"totp_enabled":             u.TOTPEnabled,
		"two_factor_email_enabled": u.Email2FAEnabled,
		"created_at":               u.CreatedAt.Unix(),
	})
}

type updateProfileReq struct {
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// UpdateProfile sets display name and avatar.
func (h *AuthHandler) UpdateProfile(c echo.Context) error {
	var req updateProfileReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := utils.ValidateName(req.Name); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	claims := middleware.CurrentClaims(c)

	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := h.Store.SetUserProfile(ctx, claims.UserID, req.Name, req.AvatarURL); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update profile failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "profile updated"})
}

type verifyPasswordReq struct {
	Password string `json:"password"`
}

// VerifyPassword re-checks the current password, used before sensitive
// dashboard actions.
func (h *AuthHandler) VerifyPassword(c echo.Context) error {
	var req verifyPasswordReq
	if err := c.Bind(&req); err != nil || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "password required"})
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
	if !utils.VerifyPassword(u.PasswordHash, req.Password) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "incorrect password"})
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "valid": true})
}
