// Package scope implements scope-code expansion and validation against
// the permission catalog and the requesting client's trust tier.
package scope

import (
	"context"
	"fmt"
	"strings"

	"github.com/epistola/epistola-auth/internal/model"
	"github.com/epistola/epistola-auth/internal/store"
)

// Auth is the umbrella scope. Requesting it implies the basic identity
// scopes below.
const Auth = "auth"

// authImplies lists the scopes folded into an "auth" request.
var authImplies = []string{"email", "name", "avatar"}

// Expand returns the scope set with the umbrella scope unfolded.
// Expansion is idempotent and preserves the order of the input; implied
// scopes already present are not duplicated. Validation always runs on
// the literal requested set, never on the expanded one.
func Expand(scopes []string) []string {
	hasAuth := false
	seen := make(map[string]bool, len(scopes))
	for _, sc := range scopes {
		seen[sc] = true
		if sc == Auth {
			hasAuth = true
		}
	}
	if !hasAuth {
		return scopes
	}
	out := make([]string, 0, len(scopes)+len(authImplies))
	out = append(out, scopes...)
	for _, sc := range authImplies {
		if !seen[sc] {
			out = append(out, sc)
		}
	}
	return out
}

// InvalidScopesError reports every rejected scope code of a request,
// whether unknown, inactive or above the client's trust tier.
type InvalidScopesError struct {
	Scopes []string
}

func (e *InvalidScopesError) Error() string {
	return fmt.Sprintf("invalid scopes: %s", strings.Join(e.Scopes, ", "))
}

// Validator checks requested scope codes against the permission catalog.
type Validator struct {
	store store.Store
}

func NewValidator(st store.Store) *Validator {
	return &Validator{store: st}
}

// Validate checks every literal code of the request. A code is rejected
// when it has no active catalog entry or when its trust requirements
// exceed what the epistolary holds. All rejections are collected so the
// client sees the full list at once.
func (v *Validator) Validate(ctx context.Context, scopes []string, e *model.Epistolary) error {
	if len(scopes) == 0 {
		return &InvalidScopesError{Scopes: []string{"(none)"}}
	}
	perms, err := v.store.GetPermissions(ctx, scopes)
	if err != nil {
		return err
	}
	byCode := make(map[string]model.Permission, len(perms))
	for _, p := range perms {
		byCode[p.Code] = p
	}

	var invalid []string
	for _, sc := range scopes {
		p, ok := byCode[sc]
		if !ok {
			invalid = append(invalid, sc)
			continue
		}
		if p.RequiresOfficial && !e.IsOfficial {
			invalid = append(invalid, sc+" (requires official epistolary)")
			continue
		}
		if p.RequiresVerified && !e.IsVerified {
			invalid = append(invalid, sc+" (requires verified epistolary)")
		}
	}
	if len(invalid) > 0 {
		return &InvalidScopesError{Scopes: invalid}
	}
	return nil
}
