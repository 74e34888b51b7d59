package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/epistola/epistola-auth/internal/model"
	"github.com/epistola/epistola-auth/internal/store"
)

func (s *Store) CreateOAuthSession(ctx context.Context, sess model.OAuthSession) error {
	_, err := s.DB.ExecContext(ctx,
		"INSERT INTO oauth_sessions (id,epistolary_id,session_token,external_id,target_user,"+
			"requested_scopes,callback_url,status,user_id,access_token,error_code,expires_at,created_at,updated_at) "+
			"VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)",
		sess.ID, sess.EpistolaryID, sess.SessionToken, sess.ExternalID, sess.TargetUser,
		sess.RequestedScopes, sess.CallbackURL, sess.Status, sess.UserID, sess.AccessToken, sess.ErrorCode,
		sess.ExpiresAt, sess.CreatedAt, sess.UpdatedAt)
	return err
}

func (s *Store) GetOAuthSession(ctx context.Context, sessionToken string) (*model.OAuthSession, error) {
	var sess model.OAuthSession
	err := s.DB.QueryRowContext(ctx,
		"SELECT id,epistolary_id,session_token,external_id,target_user,requested_scopes,callback_url,"+
			"status,user_id,access_token,error_code,expires_at,created_at,updated_at "+
			"FROM oauth_sessions WHERE session_token=? LIMIT 1",
		sessionToken).Scan(&sess.ID, &sess.EpistolaryID, &sess.SessionToken, &sess.ExternalID, &sess.TargetUser,
		&sess.RequestedScopes, &sess.CallbackURL, &sess.Status, &sess.UserID, &sess.AccessToken, &sess.ErrorCode,
		&sess.ExpiresAt, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) CompleteOAuthSession(ctx context.Context, id, userID, accessToken string) error {
	res, err := s.DB.ExecContext(ctx,
		"UPDATE oauth_sessions SET status=?, user_id=?, access_token=?, updated_at=NOW() "+
			"WHERE id=? AND status=?",
		model.OAuthStatusCompleted, userID, accessToken, id, model.OAuthStatusPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.sessionNotPending(ctx, id)
	}
	return nil
}

func (s *Store) ResolveOAuthSession(ctx context.Context, id, status, errorCode string) error {
	res, err := s.DB.ExecContext(ctx,
		"UPDATE oauth_sessions SET status=?, error_code=?, updated_at=NOW() WHERE id=? AND status=?",
		status, errorCode, id, model.OAuthStatusPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.sessionNotPending(ctx, id)
	}
	return nil
}

func (s *Store) sessionNotPending(ctx context.Context, id string) error {
	var one int
	err := s.DB.QueryRowContext(ctx,
		"SELECT 1 FROM oauth_sessions WHERE id=? LIMIT 1", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return store.ErrConflict
}

func (s *Store) CreateUserToken(ctx context.Context, t model.OAuthUserToken) error {
	_, err := s.DB.ExecContext(ctx,
		"INSERT INTO oauth_user_tokens (id,token,epistolary_id,user_id,session_id,granted_scopes,expires_at,created_at) "+
			"VALUES (?,?,?,?,?,?,?,?)",
		t.ID, t.Token, t.EpistolaryID, t.UserID, t.SessionID, t.GrantedScopes, t.ExpiresAt, t.CreatedAt)
	return err
}

func (s *Store) GetUserToken(ctx context.Context, token string) (*model.OAuthUserToken, error) {
	var t model.OAuthUserToken
	err := s.DB.QueryRowContext(ctx,
		"SELECT id,token,epistolary_id,user_id,session_id,granted_scopes,expires_at,created_at "+
			"FROM oauth_user_tokens WHERE token=? LIMIT 1",
		token).Scan(&t.ID, &t.Token, &t.EpistolaryID, &t.UserID, &t.SessionID, &t.GrantedScopes, &t.ExpiresAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) CreateAuthCode(ctx context.Context, c model.AuthCode) error {
	_, err := s.DB.ExecContext(ctx,
		"INSERT INTO oauth_auth_codes (code,epistolary_id,user_id,redirect_uri,scopes,expires_at,used,created_at) "+
			"VALUES (?,?,?,?,?,?,?,?)",
		c.Code, c.EpistolaryID, c.UserID, c.RedirectURI, c.Scopes, c.ExpiresAt, c.Used, c.CreatedAt)
	return err
}

func (s *Store) ConsumeAuthCode(ctx context.Context, code, epistolaryID, redirectURI string, now time.Time) (*model.AuthCode, error) {
	var c model.AuthCode
	err := s.DB.QueryRowContext(ctx,
		"SELECT code,epistolary_id,user_id,redirect_uri,scopes,expires_at,used,created_at "+
			"FROM oauth_auth_codes WHERE code=? AND epistolary_id=? AND redirect_uri=? LIMIT 1",
		code, epistolaryID, redirectURI).Scan(&c.Code, &c.EpistolaryID, &c.UserID, &c.RedirectURI,
		&c.Scopes, &c.ExpiresAt, &c.Used, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.Used {
		return nil, store.ErrConflict
	}
	if !c.ExpiresAt.After(now) {
		return nil, store.ErrExpired
	}
	res, err := s.DB.ExecContext(ctx,
		"UPDATE oauth_auth_codes SET used=1 WHERE code=? AND used=0", code)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.ErrConflict
	}
	c.Used = true
	return &c, nil
}

func (s *Store) CreateAccessToken(ctx context.Context, t model.AccessToken) error {
	_, err := s.DB.ExecContext(ctx,
		"INSERT INTO oauth_access_tokens (token,epistolary_id,user_id,scopes,expires_at,created_at) VALUES (?,?,?,?,?,?)",
		t.Token, t.EpistolaryID, t.UserID, t.Scopes, t.ExpiresAt, t.CreatedAt)
	return err
}

func (s *Store) GetAccessToken(ctx context.Context, token string) (*model.AccessToken, error) {
	var t model.AccessToken
	err := s.DB.QueryRowContext(ctx,
		"SELECT token,epistolary_id,user_id,scopes,expires_at,created_at FROM oauth_access_tokens WHERE token=? LIMIT 1",
		token).Scan(&t.Token, &t.EpistolaryID, &t.UserID, &t.Scopes, &t.ExpiresAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) DeleteAccessToken(ctx context.Context, token string) error {
	_, err := s.DB.ExecContext(ctx, "DELETE FROM oauth_access_tokens WHERE token=?", token)
	return err
}

func (s *Store) CreateRefreshToken(ctx context.Context, t model.RefreshToken) error {
	_, err := s.DB.ExecContext(ctx,
		"INSERT INTO oauth_refresh_tokens (token,epistolary_id,user_id,access_token,scopes,expires_at,created_at) "+
			"VALUES (?,?,?,?,?,?,?)",
		t.Token, t.EpistolaryID, t.UserID, t.AccessToken, t.Scopes, t.ExpiresAt, t.CreatedAt)
	return err
}

func (s *Store) GetRefreshToken(ctx context.Context, token string) (*model.RefreshToken, error) {
	var t model.RefreshToken
	err := s.DB.QueryRowContext(ctx,
		"SELECT token,epistolary_id,user_id,access_token,scopes,expires_at,created_at "+
			"FROM oauth_refresh_tokens WHERE token=? LIMIT 1",
		token).Scan(&t.Token, &t.EpistolaryID, &t.UserID, &t.AccessToken, &t.Scopes, &t.ExpiresAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) RepointRefreshToken(ctx context.Context, token, newAccessToken string) error {
	res, err := s.DB.ExecContext(ctx,
		"UPDATE oauth_refresh_tokens SET access_token=? WHERE token=?", newAccessToken, token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteRefreshToken(ctx context.Context, token string) error {
	_, err := s.DB.ExecContext(ctx, "DELETE FROM oauth_refresh_tokens WHERE token=?", token)
	return err
}

func (s *Store) DeleteRefreshTokenByAccess(ctx context.Context, accessToken string) error {
	_, err := s.DB.ExecContext(ctx, "DELETE FROM oauth_refresh_tokens WHERE access_token=?", accessToken)
	return err
}

func (s *Store) GetPermissions(ctx context.Context, codes []string) ([]model.Permission, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	placeholders := "?"
	args := []any{codes[0]}
	for _, c := range codes[1:] {
		placeholders += ",?"
		args = append(args, c)
	}
	rows, err := s.DB.QueryContext(ctx,
		"SELECT code,name,description,requires_verified,requires_official,is_critical,active "+
			"FROM permissions WHERE code IN ("+placeholders+") AND active=1", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Permission
	for rows.Next() {
		var p model.Permission
		if err := rows.Scan(&p.Code, &p.Name, &p.Description, &p.RequiresVerified, &p.RequiresOfficial,
			&p.IsCritical, &p.Active); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
