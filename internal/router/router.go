// Package router maps the HTTP surface onto the handlers. Route groups
// mirror the three audiences: first-party account endpoints under /api,
// the broker endpoints under /api/oauth, and the standard grant
// endpoints under /oauth.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/epistola/epistola-auth/internal/handler"
	"github.com/epistola/epistola-auth/internal/middleware"
	"github.com/epistola/epistola-auth/internal/token"
)

// Handlers bundles every handler the router wires up.
type Handlers struct {
	Auth       *handler.AuthHandler
	TwoFactor  *handler.TwoFactorHandler
	Profile    *handler.ProfileHandler
	Epistolary *handler.EpistolaryHandler
	Broker     *handler.OAuthSessionHandler
	OAuth      *handler.OAuthServerHandler
}

// RegisterRoutes registers the whole API on the provided Echo instance.
// rl is the rate-limit middleware; pass a pass-through when disabled.
func RegisterRoutes(e *echo.Echo, h Handlers, issuer *token.Issuer, rl echo.MiddlewareFunc) {
	e.GET("/healthz", handler.Health)

	session := middleware.Session(issuer)
	pending := middleware.TwoFactorPending(issuer)

	// Account lifecycle. Registration and login are unauthenticated;
	// everything else needs at least an unverified session.
	auth := e.Group("/api/auth", rl)
	auth.POST("/register", h.Auth.Register)
	auth.POST("/login", h.Auth.Login)
	auth.GET("/verify-email/:token", h.Auth.VerifyEmail)
	auth.POST("/resend-verification", h.Auth.ResendVerification, session)
	auth.POST("/logout", h.Auth.Logout, session)
	auth.GET("/profile", h.Auth.Profile, session)
	auth.PUT("/profile", h.Auth.UpdateProfile, session)
	auth.POST("/verify-password", h.Auth.VerifyPassword, session)

	// Second factor at login. These accept only the intermediate token
	// minted after the password check.
	twofa := e.Group("/api/auth/2fa", rl, pending)
	twofa.POST("/verify-login", h.TwoFactor.VerifyLogin)
	twofa.POST("/send-login-code", h.TwoFactor.SendLoginCode)

	profile := e.Group("/api/profile", rl, session)
	profile.PUT("/name", h.Profile.UpdateName)
	profile.PUT("/password", h.Profile.ChangePassword)
	profile.POST("/email/change", h.Profile.RequestEmailChange)
	// Second-factor enrollment lives with the other account settings.
	profile.POST("/2fa/setup", h.TwoFactor.Setup)
	profile.POST("/2fa/enable", h.TwoFactor.Enable)
	profile.POST("/2fa/disable", h.TwoFactor.Disable)
	profile.POST("/2fa/send-code", h.TwoFactor.SendCode)
	// Confirmation links arrive from mail clients without a session.
	e.GET("/confirm-email-change", h.Profile.ConfirmEmailChange, rl)

	ep := e.Group("/api/epistolaries", rl, session)
	ep.POST("", h.Epistolary.Create)
	ep.GET("", h.Epistolary.List)
	ep.GET("/:id", h.Epistolary.Get)
	ep.PUT("/:id", h.Epistolary.Update)
	ep.DELETE("/:id", h.Epistolary.Delete)
	ep.POST("/:id/regenerate", h.Epistolary.RegenerateSecret)
	ep.POST("/:id/request-delete", h.Epistolary.RequestDelete)
	e.GET("/confirm-delete-epistolary", h.Epistolary.ConfirmDelete, rl)
	e.POST("/confirm-delete-epistolary", h.Epistolary.ConfirmDelete, rl)

	// Broker flow. Clients authenticate with their credentials in the
	// body or a Bearer client secret; only approval needs a user login.
	broker := e.Group("/api/oauth", rl)
	broker.POST("/session", h.Broker.CreateSession)
	broker.GET("/authorize", h.Broker.GetAuthorize)
	broker.POST("/approve", h.Broker.Approve, session)
	broker.POST("/cancel", h.Broker.Cancel)
	broker.GET("/session/:token", h.Broker.GetSessionStatus)
	broker.GET("/user/:token", h.Broker.GetUserByToken)

	// Standard authorization-code grant. Authorize resolves the user
	// session itself so it can answer with login_required.
	oauth := e.Group("/oauth", rl)
	oauth.GET("/authorize", h.OAuth.Authorize)
	oauth.POST("/token", h.OAuth.Token)
	oauth.GET("/userinfo", h.OAuth.Userinfo)
	oauth.POST("/revoke", h.OAuth.Revoke)
}
