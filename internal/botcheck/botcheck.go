// Package botcheck verifies the anti-bot challenge token submitted with
// registration and login requests against the Turnstile siteverify API.
package botcheck

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const siteverifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

// Verifier checks a challenge token. Implementations must treat any
// upstream failure as a failed check rather than an open gate.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) bool
}

// Turnstile calls the Cloudflare siteverify endpoint.
type Turnstile struct {
	Secret   string
	Endpoint string
	Client   *http.Client
}

func NewTurnstile(secret string) *Turnstile {
	return &Turnstile{
		Secret:   secret,
		Endpoint: siteverifyURL,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *Turnstile) Verify(ctx context.Context, token, remoteIP string) bool {
	form := url.Values{}
	form.Set("secret", t.Secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.Client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	var out struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false
	}
	return out.Success
}

// Static always answers with a fixed result. Tests use Static(true);
// deployments without a configured secret use Static(true) as well,
// which disables the check.
type Static bool

func (s Static) Verify(context.Context, string, string) bool { return bool(s) }
