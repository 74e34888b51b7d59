package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
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
	"github.com/epistola/epistola-auth/internal/totp"
	"github.com/epistola/epistola-auth/internal/utils"
)

// emailCodeTTL is the lifetime of a one-time emailed code.
const emailCodeTTL = 10 * time.Minute

// TwoFactorHandler covers login-time second-factor verification and
// authenticator enrollment.
type TwoFactorHandler struct {
	Cfg    config.Config
	Store  store.Store
	Issuer *token.Issuer
	Mailer mailer.Mailer
	Bot    botcheck.Verifier
}

func NewTwoFactorHandler(cfg config.Config, st store.Store, issuer *token.Issuer, m mailer.Mailer, bot botcheck.Verifier) *TwoFactorHandler {
	return &TwoFactorHandler{Cfg: cfg, Store: st, Issuer: issuer, Mailer: m, Bot: bot}
}

func (h *TwoFactorHandler) sessionTTL() time.Duration {
	return time.Duration(h.Cfg.SessionTTLHours) * time.Hour
}

// consumeBackupCode removes the given code from the stored set with a
// compare-and-swap on the whole JSON document, so two racing logins can
// never both spend the same code.
func consumeBackupCode(ctx context.Context, st store.Store, u *model.User, code string) bool {
	if u.BackupCodes == "" {
		return false
	}
	var codes []string
	if err := json.Unmarshal([]byte(u.BackupCodes), &codes); err != nil {
		return false
	}
	idx := -1
	for i, c := range codes {
		if c == code {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	remaining, err := json.Marshal(append(codes[:idx], codes[idx+1:]...))
	if err != nil {
		return false
	}
	return st.ConsumeBackupCode(ctx, u.ID, u.BackupCodes, string(remaining)) == nil
}

type verifyLoginReq struct {
	Code   string `json:"code"`
	Method string `json:"method"` // "app" or "email"
}

// VerifyLogin completes a pending two-factor login. The app method
// accepts a TOTP code with backup codes as fallback; the email method
// consumes the outstanding login code. Every failure gets the same
// body.
func (h *TwoFactorHandler) VerifyLogin(c echo.Context) error {
	var req verifyLoginReq
	if err := c.Bind(&req); err != nil || req.Code == "" || req.Method == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code and method required"})
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

	valid := false
	switch req.Method {
	case "app":
		if u.TOTPEnabled && u.TOTPSecret != "" {
			valid = totp.Verify(req.Code, u.TOTPSecret)
			if !valid {
				valid = consumeBackupCode(ctx, h.Store, u, req.Code)
			}
		}
	case "email":
		if u.Email2FAEnabled {
			valid = h.Store.ConsumeTwoFactorCode(ctx, u.ID, req.Code, model.CodePurposeLogin, time.Now().UTC()) == nil
		}
	}
	if !valid {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid or expired code"})
	}

	signed, expiresAt, err := startSession(ctx, h.Store, h.Issuer, u, h.sessionTTL(), false)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create session failed"})
	}
	setSessionCookie(c, signed, h.Cfg.SessionTTLHours*3600)

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"user":    userPayload(u),
		"session": echo.Map{"expires_at": expiresAt.Unix()},
	})
}

// SendLoginCode mails a login code to a user mid two-factor login,
// under the same exponential backoff as verification resends.
func (h *TwoFactorHandler) SendLoginCode(c echo.Context) error {
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
	if !u.Email2FAEnabled {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email 2FA is not enabled"})
	}

	now := time.Now().UTC()
	if remaining := utils.ResendRemaining(u.TwoFACodeSentAt, u.TwoFACodeSendCount, now); remaining > 0 {
		return c.JSON(http.StatusTooManyRequests, echo.Map{
			"error": fmt.Sprintf("wait %d minute(s) before requesting another code",
				int(math.Ceil(remaining.Minutes()))),
		})
	}

	code := utils.EmailCode()
	if err := h.Store.CreateTwoFactorCode(ctx, model.TwoFactorCode{
		ID:        uuid.NewString(),
		UserID:    u.ID,
		Code:      code,
		Purpose:   model.CodePurposeLogin,
		ExpiresAt: now.Add(emailCodeTTL),
		CreatedAt: now,
	}); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "send code failed"})
	}
	if err := h.Store.MarkTwoFACodeSent(ctx, u.ID, now, u.TwoFACodeSendCount+1); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "send code failed"})
	}
	if err := h.Mailer.SendTwoFactorCode(ctx, u.Email, u.Name, code); err != nil {
		c.Logger().Errorf("send 2fa code mail: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "code sent to your email"})
}

type sendCodeReq struct {
	Purpose string `json:"purpose"`
}

// SendCode mails a one-time code for an enrollment or account-change
// action.
func (h *TwoFactorHandler) SendCode(c echo.Context) error {
	var req sendCodeReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	switch req.Purpose {
	case model.CodePurposeEnableTOTP, model.CodePurposeDisableTOTP, model.CodePurposeChangeEmail:
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid code purpose"})
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

	now := time.Now().UTC()
	code := utils.EmailCode()
	if err := h.Store.CreateTwoFactorCode(ctx, model.TwoFactorCode{
		ID:        uuid.NewString(),
		UserID:    u.ID,
		Code:      code,
		Purpose:   req.Purpose,
		ExpiresAt: now.Add(emailCodeTTL),
		CreatedAt: now,
	}); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "send code failed"})
	}
	if err := h.Mailer.SendTwoFactorCode(ctx, u.Email, u.Name, code); err != nil {
		c.Logger().Errorf("send 2fa code mail: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "code sent to your email"})
}

// Setup generates a fresh TOTP secret plus recovery codes and stores
// the secret pending confirmation. Enabling only happens in Enable once
// the user proves possession of mailbox and authenticator.
func (h *TwoFactorHandler) Setup(c echo.Context) error {
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

	secret, otpauthURL, err := totp.GenerateSecret(u.Email)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "generate 2FA setup failed"})
	}
	if err := h.Store.SetTOTPSecret(ctx, u.ID, secret); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "generate 2FA setup failed"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success":      true,
		"secret":       secret,
		"otpauth_url":  otpauthURL,
		"backup_codes": utils.BackupCodes(),
		"qr_code": "https://api.qrserver.com/v1/create-qr-code/?size=200x200&data=" +
			url.QueryEscape(otpauthURL),
	})
}

type enableReq struct {
	EmailCode   string   `json:"email_code"`
	TOTPCode    string   `json:"totp_code"`
	BackupCodes []string `json:"backup_codes"`
	BotToken    string   `json:"bot_token"`
}

// Enable turns on app-based 2FA after checking the mailed code, a live
// TOTP code and the acknowledged backup-code set.
func (h *TwoFactorHandler) Enable(c echo.Context) error {
	var req enableReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := checkBot(c, h.Bot, req.BotToken); err != nil {
		return err
	}
	if len(req.BackupCodes) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "backup codes required"})
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
	if u.TOTPSecret == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "2FA setup not found"})
	}

	// The email code is only spent once every factor has passed, so a
	// mistyped app code does not burn it.
	now := time.Now().UTC()
	switch err := h.Store.CheckTwoFactorCode(ctx, u.ID, req.EmailCode, model.CodePurposeEnableTOTP, now); err {
	case nil:
	case store.ErrExpired:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email code expired"})
	case store.ErrNotFound:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid email code"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "enable 2FA failed"})
	}
	if !totp.Verify(req.TOTPCode, u.TOTPSecret) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid app code"})
	}
	if err := h.Store.ConsumeTwoFactorCode(ctx, u.ID, req.EmailCode, model.CodePurposeEnableTOTP, now); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid email code"})
	}

	codes, err := json.Marshal(req.BackupCodes)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid backup codes"})
	}
	if err := h.Store.EnableTOTP(ctx, u.ID, string(codes)); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "enable 2FA failed"})
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "app 2FA enabled"})
}

type disableReq struct {
	EmailCode string `json:"email_code"`
	AppCode   string `json:"app_code"`
}

// Disable wipes the TOTP secret and backup codes after checking the
// mailed code and a current app or backup code.
func (h *TwoFactorHandler) Disable(c echo.Context) error {
	var req disableReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
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
	if !u.TOTPEnabled {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "app 2FA is not enabled"})
	}

	now := time.Now().UTC()
	switch err := h.Store.CheckTwoFactorCode(ctx, u.ID, req.EmailCode, model.CodePurposeDisableTOTP, now); err {
	case nil:
	case store.ErrExpired:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email code expired"})
	case store.ErrNotFound:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid email code"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "disable 2FA failed"})
	}

	if !totp.Verify(req.AppCode, u.TOTPSecret) && !consumeBackupCode(ctx, h.Store, u, req.AppCode) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid app code"})
	}
	if err := h.Store.ConsumeTwoFactorCode(ctx, u.ID, req.EmailCode, model.CodePurposeDisableTOTP, now); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid email code"})
	}

	if err := h.Store.DisableTOTP(ctx, u.ID); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "disable 2FA failed"})
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "app 2FA disabled"})
}
