package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists table sessions, participants, cart items and order status.
// Every state-changing call appends the matching event row to the outbox
// inside the same transaction.
type Store struct {
	pool *pgxpool.Pool
}

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrItemNotFound        = errors.New("item not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrNotHost             = errors.New("participant is not the session host")
	ErrSessionArchived     = errors.New("session is archived")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrSessionLocked       = errors.New("session is locked")
	ErrShareCodeTaken      = errors.New("share code already in use")
)

// New creates a store backed by a pgx connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS table_sessions (
	id            TEXT PRIMARY KEY,
	restaurant_id TEXT NOT NULL,
	table_id      TEXT NOT NULL,
	share_code    TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'active',
	host_id       TEXT NOT NULL,
	total_amount  NUMERIC(10,2) NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS table_sessions_share_code_idx
	ON table_sessions (share_code) WHERE status IN ('active', 'locked');
CREATE INDEX IF NOT EXISTS table_sessions_table_idx
	ON table_sessions (restaurant_id, table_id) WHERE status IN ('active', 'locked');

CREATE TABLE IF NOT EXISTS table_participants (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL REFERENCES table_sessions(id) ON DELETE CASCADE,
	display_name TEXT NOT NULL,
	is_host      BOOLEAN NOT NULL DEFAULT false,
	status       TEXT NOT NULL DEFAULT 'pending',
	joined_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS table_participants_session_idx ON table_participants (session_id);

CREATE TABLE IF NOT EXISTS table_items (
	id             TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL REFERENCES table_sessions(id) ON DELETE CASCADE,
	participant_id TEXT NOT NULL,
	menu_item_id   TEXT NOT NULL,
	name           TEXT NOT NULL,
	quantity       INTEGER NOT NULL,
	note           TEXT NOT NULL DEFAULT '',
	unit_price     NUMERIC(10,2) NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS table_items_session_idx ON table_items (session_id);

CREATE TABLE IF NOT EXISTS table_orders (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL REFERENCES table_sessions(id) ON DELETE CASCADE,
	status       TEXT NOT NULL DEFAULT 'pending',
	wait_minutes INTEGER,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS table_orders_session_idx ON table_orders (session_id);
`

// EnsureSchema creates the session tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create session schema: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction, committing on nil error.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
