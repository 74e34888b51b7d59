package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/epistola/epistola-auth/internal/model"
	"github.com/epistola/epistola-auth/internal/store"
)

const userColumns = "id,email,password_hash,name,avatar_url,email_verified," +
	"email_verification_token,email_verification_expires,last_verification_email_sent,verification_email_count," +
	"totp_secret,totp_enabled,two_factor_email_enabled,backup_codes," +
	"last_2fa_code_sent,twofa_code_count," +
	"pending_email,pending_email_token,pending_email_expires,created_at,updated_at"

func scanUser(row *sql.Row) (*model.User, error) {
	var (
		u                            model.User
		verifExp, verifSent, twofaAt sql.NullTime
		pendingExp                   sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.AvatarURL, &u.EmailVerified,
		&u.VerificationToken, &verifExp, &verifSent, &u.VerificationSendCount,
		&u.TOTPSecret, &u.TOTPEnabled, &u.Email2FAEnabled, &u.BackupCodes,
		&twofaAt, &u.TwoFACodeSendCount,
		&u.PendingEmail, &u.PendingEmailToken, &pendingExp, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.VerificationExpires = timePtr(verifExp)
	u.VerificationSentAt = timePtr(verifSent)
	u.TwoFACodeSentAt = timePtr(twofaAt)
	u.PendingEmailExpires = timePtr(pendingExp)
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u model.User) error {
	_, err := s.DB.ExecContext(ctx,
		"INSERT INTO users (id,email,password_hash,name,avatar_url,email_verified,"+
			"email_verification_token,email_verification_expires,last_verification_email_sent,verification_email_count,"+
			"created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)",
		u.ID, u.Email, u.PasswordHash, u.Name, u.AvatarURL, u.EmailVerified,
		u.VerificationToken, nullTime(u.VerificationExpires), nullTime(u.VerificationSentAt), u.VerificationSendCount,
		u.CreatedAt, u.UpdatedAt)
	if isDuplicate(err) {
		return store.ErrEmailExists
	}
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanUser(s.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email))
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return scanUser(s.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
}

func (s *Store) ConsumeVerificationToken(ctx context.Context, token string, now time.Time) (*model.User, error) {
	if token == "" {
		return nil, store.ErrNotFound
	}
	var (
		id  string
		exp sql.NullTime
	)
	err := s.DB.QueryRowContext(ctx,
		"SELECT id, email_verification_expires FROM users WHERE email_verification_token=? LIMIT 1",
		token).Scan(&id, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !exp.Valid || !exp.Time.After(now) {
		return nil, store.ErrExpired
	}
	res, err := s.DB.ExecContext(ctx,
		"UPDATE users SET email_verified=1, email_verification_token='', email_verification_expires=NULL, updated_at=? "+
			"WHERE id=? AND email_verification_token=?",
		now, id, token)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetUserByID(ctx, id)
}

func (s *Store) SetVerificationToken(ctx context.Context, userID, token string, expires, sentAt time.Time, count int) error {
	res, err := s.DB.ExecContext(ctx,
		"UPDATE users SET email_verification_token=?, email_verification_expires=?, "+
			"last_verification_email_sent=?, verification_email_count=? WHERE id=?",
		token, expires, sentAt, count, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) MarkTwoFACodeSent(ctx context.Context, userID string, at time.Time, count int) error {
	res, err := s.DB.ExecContext(ctx,
		"UPDATE users SET last_2fa_code_sent=?, twofa_code_count=? WHERE id=?",
		at, count, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetUserProfile(ctx context.Context, userID, name, avatarURL string) error {
	return s.updateUser(ctx,
		"UPDATE users SET name=?, avatar_url=? WHERE id=?", name, avatarURL, userID)
}

func (s *Store) SetUserName(ctx context.Context, userID, name string) error {
	return s.updateUser(ctx, "UPDATE users SET name=? WHERE id=?", name, userID)
}

func (s *Store) SetUserPassword(ctx context.Context, userID, hash string) error {
	return s.updateUser(ctx, "UPDATE users SET password_hash=? WHERE id=?", hash, userID)
}

func (s *Store) SetPendingEmail(ctx context.Context, userID, email, token string, expires time.Time) error {
	return s.updateUser(ctx,
		"UPDATE users SET pending_email=?, pending_email_token=?, pending_email_expires=? WHERE id=?",
		email, token, expires, userID)
}

func (s *Store) ConsumeEmailChangeToken(ctx context.Context, token string, now time.Time) (*model.User, error) {
	if token == "" {
		return nil, store.ErrNotFound
	}
	var (
		id  string
		exp sql.NullTime
	)
	err := s.DB.QueryRowContext(ctx,
		"SELECT id, pending_email_expires FROM users WHERE pending_email_token=? LIMIT 1",
		token).Scan(&id, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !exp.Valid || !exp.Time.After(now) {
		return nil, store.ErrExpired
	}
	res, err := s.DB.ExecContext(ctx,
		"UPDATE users SET email=pending_email, pending_email='', pending_email_token='', "+
			"pending_email_expires=NULL, updated_at=? WHERE id=? AND pending_email_token=?",
		now, id, token)
	if isDuplicate(err) {
		return nil, store.ErrEmailExists
	}
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetUserByID(ctx, id)
}

func (s *Store) SetTOTPSecret(ctx context.Context, userID, secret string) error {
	return s.updateUser(ctx, "UPDATE users SET totp_secret=? WHERE id=?", secret, userID)
}

func (s *Store) EnableTOTP(ctx context.Context, userID, backupCodes string) error {
	return s.updateUser(ctx,
		"UPDATE users SET totp_enabled=1, backup_codes=? WHERE id=?", backupCodes, userID)
}

func (s *Store) DisableTOTP(ctx context.Context, userID string) error {
	return s.updateUser(ctx,
		"UPDATE users SET totp_enabled=0, totp_secret='', backup_codes='' WHERE id=?", userID)
}

func (s *Store) ConsumeBackupCode(ctx context.Context, userID, oldCodes, newCodes string) error {
	res, err := s.DB.ExecContext(ctx,
		"UPDATE users SET backup_codes=? WHERE id=? AND backup_codes=?",
		newCodes, userID, oldCodes)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var one int
		err := s.DB.QueryRowContext(ctx, "SELECT 1 FROM users WHERE id=? LIMIT 1", userID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		return store.ErrConflict
	}
	return nil
}

func (s *Store) DeleteUnverifiedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		"DELETE FROM users WHERE email_verified=0 AND created_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) updateUser(ctx context.Context, query string, args ...any) error {
	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, sess model.Session) error {
	_, err := s.DB.ExecContext(ctx,
		"INSERT INTO sessions (id, user_id, expires_at, created_at) VALUES (?,?,?,?)",
		sess.ID, sess.UserID, sess.ExpiresAt, sess.CreatedAt)
	return err
}

func (s *Store) DeleteUserSessions(ctx context.Context, userID string) error {
	_, err := s.DB.ExecContext(ctx, "DELETE FROM sessions WHERE user_id=?", userID)
	return err
}

func (s *Store) CreateTwoFactorCode(ctx context.Context, c model.TwoFactorCode) error {
	_, err := s.DB.ExecContext(ctx,
		"INSERT INTO two_factor_codes (id, user_id, code, purpose, expires_at, used, created_at) VALUES (?,?,?,?,?,?,?)",
		c.ID, c.UserID, c.Code, c.Purpose, c.ExpiresAt, c.Used, c.CreatedAt)
	return err
}

func (s *Store) CheckTwoFactorCode(ctx context.Context, userID, code, purpose string, now time.Time) error {
	var exp time.Time
	err := s.DB.QueryRowContext(ctx,
		"SELECT expires_at FROM two_factor_codes WHERE user_id=? AND code=? AND purpose=? AND used=0 LIMIT 1",
		userID, code, purpose).Scan(&exp)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	if !exp.After(now) {
		return store.ErrExpired
	}
	return nil
}

func (s *Store) ConsumeTwoFactorCode(ctx context.Context, userID, code, purpose string, now time.Time) error {
	var (
		id  string
		exp time.Time
	)
	err := s.DB.QueryRowContext(ctx,
		"SELECT id, expires_at FROM two_factor_codes WHERE user_id=? AND code=? AND purpose=? AND used=0 LIMIT 1",
		userID, code, purpose).Scan(&id, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	if !exp.After(now) {
		return store.ErrExpired
	}
	res, err := s.DB.ExecContext(ctx,
		"UPDATE two_factor_codes SET used=1 WHERE id=? AND used=0", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
