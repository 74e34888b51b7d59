package mysql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/epistola/epistola-auth/internal/model"
	"github.com/epistola/epistola-auth/internal/store"
)

const epistolaryColumns = "id,user_id,name,description,redirect_uris,client_id,client_secret," +
	"logo_url,website_url,is_verified,is_official,active,created_at,updated_at"

func scanEpistolary(row *sql.Row) (*model.Epistolary, error) {
	var e model.Epistolary
	err := row.Scan(&e.ID, &e.UserID, &e.Name, &e.Description, &e.RedirectURIs, &e.ClientID, &e.ClientSecret,
		&e.LogoURL, &e.WebsiteURL, &e.IsVerified, &e.IsOfficial, &e.Active, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) CreateEpistolary(ctx context.Context, e model.Epistolary) error {
	_, err := s.DB.ExecContext(ctx,
		"INSERT INTO epistolaries (id,user_id,name,description,redirect_uris,client_id,client_secret,"+
			"logo_url,website_url,is_verified,is_official,active,created_at,updated_at) "+
			"VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)",
		e.ID, e.UserID, e.Name, e.Description, e.RedirectURIs, e.ClientID, e.ClientSecret,
		e.LogoURL, e.WebsiteURL, e.IsVerified, e.IsOfficial, e.Active, e.CreatedAt, e.UpdatedAt)
	return err
}

func (s *Store) ListEpistolaries(ctx context.Context, ownerID string) ([]model.Epistolary, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT "+epistolaryColumns+" FROM epistolaries WHERE user_id=? ORDER BY created_at", ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Epistolary
	for rows.Next() {
		var e model.Epistolary
		if err := rows.Scan(&e.ID, &e.UserID, &e.Name, &e.Description, &e.RedirectURIs, &e.ClientID, &e.ClientSecret,
			&e.LogoURL, &e.WebsiteURL, &e.IsVerified, &e.IsOfficial, &e.Active, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) GetEpistolary(ctx context.Context, id, ownerID string) (*model.Epistolary, error) {
	return scanEpistolary(s.DB.QueryRowContext(ctx,
		"SELECT "+epistolaryColumns+" FROM epistolaries WHERE id=? AND user_id=? LIMIT 1", id, ownerID))
}

func (s *Store) GetEpistolaryByID(ctx context.Context, id string) (*model.Epistolary, error) {
	return scanEpistolary(s.DB.QueryRowContext(ctx,
		"SELECT "+epistolaryColumns+" FROM epistolaries WHERE id=? LIMIT 1", id))
}

func (s *Store) GetEpistolaryByClientID(ctx context.Context, clientID string) (*model.Epistolary, error) {
	return scanEpistolary(s.DB.QueryRowContext(ctx,
		"SELECT "+epistolaryColumns+" FROM epistolaries WHERE client_id=? AND active=1 LIMIT 1", clientID))
}

func (s *Store) GetEpistolaryByCredentials(ctx context.Context, clientID, clientSecret string) (*model.Epistolary, error) {
	return scanEpistolary(s.DB.QueryRowContext(ctx,
		"SELECT "+epistolaryColumns+" FROM epistolaries WHERE client_id=? AND client_secret=? AND active=1 LIMIT 1",
		clientID, clientSecret))
}

func (s *Store) UpdateEpistolary(ctx context.Context, id, ownerID string, u store.EpistolaryUpdate) error {
	res, err := s.DB.ExecContext(ctx,
		"UPDATE epistolaries SET name=?, description=?, redirect_uris=?, logo_url=?, website_url=?, active=? "+
			"WHERE id=? AND user_id=?",
		u.Name, u.Description, u.RedirectURIs, u.LogoURL, u.WebsiteURL, u.Active, id, ownerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.epistolaryMissing(ctx, id, ownerID)
	}
	return nil
}

func (s *Store) RotateEpistolarySecret(ctx context.Context, id, ownerID, newSecret string) error {
	res, err := s.DB.ExecContext(ctx,
		"UPDATE epistolaries SET client_secret=? WHERE id=? AND user_id=?", newSecret, id, ownerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteEpistolary(ctx context.Context, id, ownerID string) error {
	res, err := s.DB.ExecContext(ctx,
		"DELETE FROM epistolaries WHERE id=? AND user_id=?", id, ownerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// epistolaryMissing distinguishes a no-op full-column update (row exists
// with identical values) from a genuinely absent row.
func (s *Store) epistolaryMissing(ctx context.Context, id, ownerID string) error {
	var one int
	err := s.DB.QueryRowContext(ctx,
		"SELECT 1 FROM epistolaries WHERE id=? AND user_id=? LIMIT 1", id, ownerID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func (s *Store) CreateDeleteRequest(ctx context.Context, r model.EpistolaryDeleteRequest) error {
	_, err := s.DB.ExecContext(ctx,
		"INSERT INTO epistolary_delete_requests (token, epistolary_id, user_id, expires_at) VALUES (?,?,?,?)",
		r.Token, r.EpistolaryID, r.UserID, r.ExpiresAt)
	return err
}

func (s *Store) GetDeleteRequest(ctx context.Context, token string) (*model.EpistolaryDeleteRequest, error) {
	var r model.EpistolaryDeleteRequest
	err := s.DB.QueryRowContext(ctx,
		"SELECT token, epistolary_id, user_id, expires_at FROM epistolary_delete_requests WHERE token=? LIMIT 1",
		token).Scan(&r.Token, &r.EpistolaryID, &r.UserID, &r.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ConsumeDeleteRequest(ctx context.Context, token string) error {
	res, err := s.DB.ExecContext(ctx,
		"DELETE FROM epistolary_delete_requests WHERE token=?", token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
