// Package identity persists the mapping from session id to the local
// participant id, so a rejoin after an app restart resumes the same identity
// without going through approval again.
package identity

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS session_identities (
    session_id     TEXT PRIMARY KEY,
    participant_id TEXT NOT NULL,
    guest_name     TEXT NOT NULL DEFAULT '',
    updated_at     INTEGER NOT NULL
);
`

// Association is the locally persisted identity for one session.
type Association struct {
	SessionID     string
	ParticipantID string
	GuestName     string
}

// Store is a SQLite-backed association store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the store at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create identity store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open identity store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate identity store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts the association for a session.
func (s *Store) Save(ctx context.Context, a Association) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_identities (session_id, participant_id, guest_name, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			participant_id = excluded.participant_id,
			guest_name = excluded.guest_name,
			updated_at = excluded.updated_at`,
		a.SessionID, a.ParticipantID, a.GuestName, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save association for session %s: %w", a.SessionID, err)
	}
	return nil
}

// Lookup returns the association for a session. The second return value
// reports whether one exists.
func (s *Store) Lookup(ctx context.Context, sessionID string) (Association, bool, error) {
	var a Association
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, participant_id, guest_name
		FROM session_identities WHERE session_id = ?`, sessionID).
		Scan(&a.SessionID, &a.ParticipantID, &a.GuestName)
	if err == sql.ErrNoRows {
		return Association{}, false, nil
	}
	if err != nil {
		return Association{}, false, fmt.Errorf("lookup association for session %s: %w", sessionID, err)
	}
	return a, true, nil
}

// Forget removes the association for a session. Missing rows are not an
// error.
func (s *Store) Forget(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM session_identities WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("forget association for session %s: %w", sessionID, err)
	}
	return nil
}
