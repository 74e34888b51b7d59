// Package memory is a mutex-guarded in-memory implementation of
// store.Store. It backs the handler and store tests; production uses
// store/mysql.
package memory

import (
	"context"
	"sync"

	"github.com/epistola/epistola-auth/internal/model"
)

type Store struct {
	mu sync.Mutex

	users        map[string]model.User // keyed by id
	usersByEmail map[string]string     // email -> id

	sessions map[string]model.Session
	codes    map[string]model.TwoFactorCode // keyed by id

	epistolaries   map[string]model.Epistolary
	deleteRequests map[string]model.EpistolaryDeleteRequest

	oauthSessions  map[string]model.OAuthSession // keyed by id
	sessionByToken map[string]string             // session_token -> id
	userTokens     map[string]model.OAuthUserToken

	authCodes     map[string]model.AuthCode
	accessTokens  map[string]model.AccessToken
	refreshTokens map[string]model.RefreshToken

	permissions map[string]model.Permission
}

func NewStore() *Store {
	return &Store{
		users:          make(map[string]model.User),
		usersByEmail:   make(map[string]string),
		sessions:       make(map[string]model.Session),
		codes:          make(map[string]model.TwoFactorCode),
		epistolaries:   make(map[string]model.Epistolary),
		deleteRequests: make(map[string]model.EpistolaryDeleteRequest),
		oauthSessions:  make(map[string]model.OAuthSession),
		sessionByToken: make(map[string]string),
		userTokens:     make(map[string]model.OAuthUserToken),
		authCodes:      make(map[string]model.AuthCode),
		accessTokens:   make(map[string]model.AccessToken),
		refreshTokens:  make(map[string]model.RefreshToken),
		permissions:    make(map[string]model.Permission),
	}
}

// SeedPermissions loads catalog entries. The permission catalog is
// provisioned out-of-band in production, so the memory store exposes a
// seeding hook for tests.
func (s *Store) SeedPermissions(perms ...model.Permission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range perms {
		s.permissions[p.Code] = p
	}
}

func (s *Store) GetPermissions(_ context.Context, codes []string) ([]model.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Permission, 0, len(codes))
	for _, code := range codes {
		if p, ok := s.permissions[code]; ok && p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}
