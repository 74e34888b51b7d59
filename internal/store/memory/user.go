package memory

import (
	"context"
	"time"

	"github.com/epistola/epistola-auth/internal/model"
	"github.com/epistola/epistola-auth/internal/store"
)

func (s *Store) CreateUser(_ context.Context, u model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.usersByEmail[u.Email]; ok {
		return store.ErrEmailExists
	}
	s.users[u.ID] = u
	s.usersByEmail[u.Email] = u.ID
	return nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.usersByEmail[email]
	if !ok {
		return nil, store.ErrNotFound
	}
	u := s.users[id]
	return &u, nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *Store) ConsumeVerificationToken(_ context.Context, token string, now time.Time) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, u := range s.users {
		if u.VerificationToken != token || token == "" {
			continue
		}
		if u.VerificationExpires == nil || !u.VerificationExpires.After(now) {
			return nil, store.ErrExpired
		}
		u.EmailVerified = true
		u.VerificationToken = ""
		u.VerificationExpires = nil
		u.UpdatedAt = now
		s.users[id] = u
		return &u, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) SetVerificationToken(_ context.Context, userID, token string, expires, sentAt time.Time, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.VerificationToken = token
	u.VerificationExpires = &expires
	u.VerificationSentAt = &sentAt
	u.VerificationSendCount = count
	s.users[userID] = u
	return nil
}

func (s *Store) MarkTwoFACodeSent(_ context.Context, userID string, at time.Time, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.TwoFACodeSentAt = &at
	u.TwoFACodeSendCount = count
	s.users[userID] = u
	return nil
}

func (s *Store) SetUserProfile(_ context.Context, userID, name, avatarURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.Name = name
	u.AvatarURL = avatarURL
	s.users[userID] = u
	return nil
}

func (s *Store) SetUserName(_ context.Context, userID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.Name = name
	s.users[userID] = u
	return nil
}

func (s *Store) SetUserPassword(_ context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.PasswordHash = hash
	s.users[userID] = u
	return nil
}

func (s *Store) SetPendingEmail(_ context.Context, userID, email, token string, expires time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.PendingEmail = email
	u.PendingEmailToken = token
	u.PendingEmailExpires = &expires
	s.users[userID] = u
	return nil
}

func (s *Store) ConsumeEmailChangeToken(_ context.Context, token string, now time.Time) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, u := range s.users {
		if u.PendingEmailToken != token || token == "" {
			continue
		}
		if u.PendingEmailExpires == nil || !u.PendingEmailExpires.After(now) {
			return nil, store.ErrExpired
		}
		if other, ok := s.usersByEmail[u.PendingEmail]; ok && other != id {
			return nil, store.ErrEmailExists
		}
		delete(s.usersByEmail, u.Email)
		u.Email = u.PendingEmail
		u.PendingEmail = ""
		u.PendingEmailToken = ""
		u.PendingEmailExpires = nil
		u.UpdatedAt = now
		s.users[id] = u
		s.usersByEmail[u.Email] = id
		return &u, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) SetTOTPSecret(_ context.Context, userID, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.TOTPSecret = secret
	s.users[userID] = u
	return nil
}

func (s *Store) EnableTOTP(_ context.Context, userID, backupCodes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.TOTPEnabled = true
	u.BackupCodes = backupCodes
	s.users[userID] = u
	return nil
}

func (s *Store) DisableTOTP(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.TOTPEnabled = false
	u.TOTPSecret = ""
	u.BackupCodes = ""
	s.users[userID] = u
	return nil
}

func (s *Store) ConsumeBackupCode(_ context.Context, userID, oldCodes, newCodes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	if u.BackupCodes != oldCodes {
		return store.ErrConflict
	}
	u.BackupCodes = newCodes
	s.users[userID] = u
	return nil
}

func (s *Store) DeleteUnverifiedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, u := range s.users {
		if !u.EmailVerified && u.CreatedAt.Before(cutoff) {
			delete(s.users, id)
			delete(s.usersByEmail, u.Email)
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateSession(_ context.Context, sess model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.ID] = sess
	return nil
}

func (s *Store) DeleteUserSessions(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, id)
		}
	}
	return nil
}

func (s *Store) CreateTwoFactorCode(_ context.Context, c model.TwoFactorCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.codes[c.ID] = c
	return nil
}

func (s *Store) CheckTwoFactorCode(_ context.Context, userID, code, purpose string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.codes {
		if c.UserID != userID || c.Code != code || c.Purpose != purpose || c.Used {
			continue
		}
		if !c.ExpiresAt.After(now) {
			return store.ErrExpired
		}
		return nil
	}
	return store.ErrNotFound
}

func (s *Store) ConsumeTwoFactorCode(_ context.Context, userID, code, purpose string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, c := range s.codes {
		if c.UserID != userID || c.Code != code || c.Purpose != purpose || c.Used {
			continue
		}
		if !c.ExpiresAt.After(now) {
			return store.ErrExpired
		}
		c.Used = true
		s.codes[id] = c
		return nil
	}
	return store.ErrNotFound
}
