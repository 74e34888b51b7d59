// Package token signs and verifies the first-party session JWTs carried
// in the session cookie. Delegated third-party access uses opaque tokens
// handled by the store, not JWTs.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrExpired means the token was well-formed and correctly signed
	// but its exp claim has passed.
	ErrExpired = errors.New("token expired")
	// ErrInvalid covers every other verification failure.
	ErrInvalid = errors.New("token invalid")
)

// Claims is the session payload. Verified false marks the limited token
// handed out after registering with an unconfirmed address; Requires2FA
// true marks the intermediate token issued between password check and
// second-factor completion.
type Claims struct {
	UserID      string
	Email       string
	Name        string
	Verified    bool
	Requires2FA bool
	ExpiresAt   time.Time
}

// Issuer signs and verifies HS256 session tokens with a shared secret.
type Issuer struct {
	secret []byte
}

func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret)}
}

// Sign serializes the claims into a signed JWT. The verified and
// requires2fa claims are only emitted in their restrictive form, so a
// fully authenticated token carries just sub, email, name, exp and iat.
func (i *Issuer) Sign(c Claims) (string, error) {
	claims := jwt.MapClaims{
		"sub":   c.UserID,
		"email": c.Email,
		"name":  c.Name,
		"exp":   c.ExpiresAt.Unix(),
		"iat":   time.Now().UTC().Unix(),
	}
	if !c.Verified {
		claims["verified"] = false
	}
	if c.Requires2FA {
		claims["requires2fa"] = true
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(i.secret)
}

// Verify parses and validates a token string. Expiry is reported as
// ErrExpired so callers can distinguish it from tampering; every other
// failure collapses into ErrInvalid.
func (i *Issuer) Verify(raw string) (*Claims, error) {
	parsed, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalid
		}
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalid
	}

	c := Claims{Verified: true}
	if c.UserID, ok = mc["sub"].(string); !ok || c.UserID == "" {
		return nil, ErrInvalid
	}
	c.Email, _ = mc["email"].(string)
	c.Name, _ = mc["name"].(string)
	if v, present := mc["verified"]; present {
		c.Verified, _ = v.(bool)
	}
	if v, present := mc["requires2fa"]; present {
		c.Requires2FA, _ = v.(bool)
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return &c, nil
}
