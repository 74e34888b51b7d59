package memory

import (
	"context"
	"time"

	"github.com/epistola/epistola-auth/internal/model"
	"github.com/epistola/epistola-auth/internal/store"
)

func (s *Store) CreateOAuthSession(_ context.Context, sess model.OAuthSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.oauthSessions[sess.ID] = sess
	s.sessionByToken[sess.SessionToken] = sess.ID
	return nil
}

func (s *Store) GetOAuthSession(_ context.Context, sessionToken string) (*model.OAuthSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.sessionByToken[sessionToken]
	if !ok {
		return nil, store.ErrNotFound
	}
	sess := s.oauthSessions[id]
	return &sess, nil
}

func (s *Store) CompleteOAuthSession(_ context.Context, id, userID, accessToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.oauthSessions[id]
	if !ok {
		return store.ErrNotFound
	}
	if sess.Status != model.OAuthStatusPending {
		return store.ErrConflict
	}
	sess.Status = model.OAuthStatusCompleted
	sess.UserID = userID
	sess.AccessToken = accessToken
	sess.UpdatedAt = time.Now()
	s.oauthSessions[id] = sess
	return nil
}

func (s *Store) ResolveOAuthSession(_ context.Context, id, status, errorCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.oauthSessions[id]
	if !ok {
		return store.ErrNotFound
	}
	if sess.Status != model.OAuthStatusPending {
		return store.ErrConflict
	}
	sess.Status = status
	sess.ErrorCode = errorCode
	sess.UpdatedAt = time.Now()
	s.oauthSessions[id] = sess
	return nil
}

func (s *Store) CreateUserToken(_ context.Context, t model.OAuthUserToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.userTokens[t.Token] = t
	return nil
}

func (s *Store) GetUserToken(_ context.Context, token string) (*model.OAuthUserToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.userTokens[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (s *Store) CreateAuthCode(_ context.Context, c model.AuthCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.authCodes[c.Code] = c
	return nil
}

func (s *Store) ConsumeAuthCode(_ context.Context, code, epistolaryID, redirectURI string, now time.Time) (*model.AuthCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.authCodes[code]
	if !ok || c.EpistolaryID != epistolaryID || c.RedirectURI != redirectURI {
		return nil, store.ErrNotFound
	}
	if c.Used {
		return nil, store.ErrConflict
	}
	if !c.ExpiresAt.After(now) {
		return nil, store.ErrExpired
	}
	c.Used = true
	s.authCodes[code] = c
	return &c, nil
}

func (s *Store) CreateAccessToken(_ context.Context, t model.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accessTokens[t.Token] = t
	return nil
}

func (s *Store) GetAccessToken(_ context.Context, token string) (*model.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.accessTokens[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (s *Store) DeleteAccessToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.accessTokens, token)
	return nil
}

func (s *Store) CreateRefreshToken(_ context.Context, t model.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refreshTokens[t.Token] = t
	return nil
}

func (s *Store) GetRefreshToken(_ context.Context, token string) (*model.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.refreshTokens[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (s *Store) RepointRefreshToken(_ context.Context, token, newAccessToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.refreshTokens[token]
	if !ok {
		return store.ErrNotFound
	}
	t.AccessToken = newAccessToken
	s.refreshTokens[token] = t
	return nil
}

func (s *Store) DeleteRefreshToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.refreshTokens, token)
	return nil
}

func (s *Store) DeleteRefreshTokenByAccess(_ context.Context, accessToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for token, t := range s.refreshTokens {
		if t.AccessToken == accessToken {
			delete(s.refreshTokens, token)
		}
	}
	return nil
}
