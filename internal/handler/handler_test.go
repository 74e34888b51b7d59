package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/epistola/epistola-auth/internal/botcheck"
	"github.com/epistola/epistola-auth/internal/config"
	"github.com/epistola/epistola-auth/internal/handler"
	"github.com/epistola/epistola-auth/internal/mailer"
	"github.com/epistola/epistola-auth/internal/model"
	"github.com/epistola/epistola-auth/internal/router"
	"github.com/epistola/epistola-auth/internal/scope"
	"github.com/epistola/epistola-auth/internal/store"
	"github.com/epistola/epistola-auth/internal/store/memory"
	"github.com/epistola/epistola-auth/internal/token"
	"github.com/epistola/epistola-auth/internal/utils"
)

// env wires the full route table onto an in-memory store, recording
// mailer and a pass-through rate limiter.
type env struct {
	e      *echo.Echo
	st     *memory.Store
	mail   *mailer.LogMailer
	issuer *token.Issuer
	cfg    config.Config
}

func newEnv(t *testing.T) *env {
	return newEnvWith(t, nil)
}

// newEnvWith lets a test interpose on the store handed to the handlers
// while keeping the backing memory store reachable for seeding.
func newEnvWith(t *testing.T, wrap func(store.Store) store.Store) *env {
	t.Helper()
	cfg := config.Config{
		Env:             "test",
		JWTSecret:       "test-secret",
		PublicBaseURL:   "https://id.example.com",
		SessionTTLHours: 24,
		AccessTTLMin:    30,
		RefreshTTLDays:  30,
		AuthCodeTTLMin:  10,
		BcryptCost:      4,
	}
	mem := memory.NewStore()
	var st store.Store = mem
	if wrap != nil {
		st = wrap(mem)
	}
	mail := mailer.NewLogMailer()
	issuer := token.NewIssuer(cfg.JWTSecret)
	scopes := scope.NewValidator(st)
	bot := botcheck.Static(true)

	e := echo.New()
	passthrough := func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	router.RegisterRoutes(e, router.Handlers{
		Auth:       handler.NewAuthHandler(cfg, st, issuer, mail, bot),
		TwoFactor:  handler.NewTwoFactorHandler(cfg, st, issuer, mail, bot),
		Profile:    handler.NewProfileHandler(cfg, st, mail),
		Epistolary: handler.NewEpistolaryHandler(cfg, st, mail),
		Broker:     handler.NewOAuthSessionHandler(cfg, st, issuer, scopes),
		OAuth:      handler.NewOAuthServerHandler(cfg, st, issuer, scopes),
	}, issuer, passthrough)

	return &env{e: e, st: mem, mail: mail, issuer: issuer, cfg: cfg}
}

// do performs a JSON request. An empty bearer leaves the request
// unauthenticated.
func (v *env) do(method, path string, body any, bearer string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			panic(err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	v.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// seedUser inserts an account with the given password already hashed.
func (v *env) seedUser(t *testing.T, u model.User, password string) model.User {
	t.Helper()
	hash, err := utils.HashPassword(password, v.cfg.BcryptCost)
	require.NoError(t, err)
	u.PasswordHash = hash
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	require.NoError(t, v.st.CreateUser(context.Background(), u))
	return u
}

// signIn mints a session token directly, bypassing the login endpoint.
func (v *env) signIn(t *testing.T, u model.User, requires2FA bool) string {
	t.Helper()
	signed, err := v.issuer.Sign(token.Claims{
		UserID:      u.ID,
		Email:       u.Email,
		Name:        u.Name,
		Verified:    u.EmailVerified,
		Requires2FA: requires2FA,
		ExpiresAt:   time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	return signed
}

// sessionCookie extracts the session JWT set by a handler response.
func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == "session_token" {
			require.True(t, ck.HttpOnly)
			require.Equal(t, http.SameSiteStrictMode, ck.SameSite)
			return ck.Value
		}
	}
	t.Fatal("no session_token cookie in response")
	return ""
}
