// Package handler contains the HTTP handlers. Each handler struct
// bundles its dependencies and is registered by internal/router.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/epistola/epistola-auth/internal/model"
	"github.com/epistola/epistola-auth/internal/store"
	"github.com/epistola/epistola-auth/internal/token"
)

// dbTimeout bounds every database round trip made from a handler.
const dbTimeout = 5 * time.Second

func reqCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), dbTimeout)
}

func setSessionCookie(c echo.Context, value string, maxAge int) {
	c.SetCookie(&http.Cookie{
		Name:     "session_token",
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func clearSessionCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     "session_token",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// startSession records a session row and signs the matching JWT. The
// claims mirror the user's state: unverified accounts get a limited
// token, requires2FA marks the intermediate token of a half-finished
// login.
func startSession(ctx context.Context, st store.Store, issuer *token.Issuer, u *model.User, ttl time.Duration, requires2FA bool) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	sess := model.Session{
		ID:        uuid.NewString(),
		UserID:    u.ID,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	if err := st.CreateSession(ctx, sess); err != nil {
		return "", time.Time{}, err
	}
	signed, err := issuer.Sign(token.Claims{
		UserID:      u.ID,
		Email:       u.Email,
		Name:        u.Name,
		Verified:    u.EmailVerified,
		Requires2FA: requires2FA,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// userPayload is the public projection of an account used in auth
// responses.
func userPayload(u *model.User) echo.Map {
	return echo.Map{
		"id":         u.ID,
		"email":      u.Email,
		"name":       u.Name,
		"avatar_url": u.AvatarURL,
	}
}
