package model

import "time"

// Session is a first-party login record in the `sessions` table. One row
// is created per login event; logout deletes every row for the subject.
// Superseded rows are not implicitly invalidated.
type Session struct {
	ID        string    // sessions.id
	UserID    string    // sessions.user_id
	ExpiresAt time.Time // sessions.expires_at
	CreatedAt time.Time // sessions.created_at
}
