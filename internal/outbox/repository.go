package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// ErrEventNotFound is returned when an outbox row does not exist.
var ErrEventNotFound = errors.New("outbox event not found")

const outboxSchema = `
CREATE TABLE IF NOT EXISTS table_outbox (
	id         UUID PRIMARY KEY,
	session_id TEXT NOT NULL,
	order_id   TEXT,
	event_type TEXT NOT NULL,
	payload    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	sent_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS table_outbox_unsent_idx ON table_outbox (created_at) WHERE sent_at IS NULL;
`

// Repository reads and writes outbox rows. Inserts normally happen inside the
// store's transactions; this repository serves the listener side.
type Repository struct {
	db *sql.DB
}

// NewRepository creates an outbox repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the outbox table and notify trigger.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, outboxSchema); err != nil {
		return fmt.Errorf("failed to create outbox schema: %w", err)
	}
	const trigger = `
CREATE OR REPLACE FUNCTION notify_table_outbox() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('table_outbox_events', NEW.id::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS table_outbox_notify ON table_outbox;
CREATE TRIGGER table_outbox_notify AFTER INSERT ON table_outbox
FOR EACH ROW EXECUTE FUNCTION notify_table_outbox();
`
	if _, err := r.db.ExecContext(ctx, trigger); err != nil {
		return fmt.Errorf("failed to create outbox trigger: %w", err)
	}
	return nil
}

// Insert appends an event row. Callers inside a transaction should use
// InsertTx instead.
func (r *Repository) Insert(ctx context.Context, event Event) error {
	return insertEvent(ctx, r.db, event)
}

// InsertTx appends an event row within an existing transaction so the event
// commits atomically with the state change that produced it.
func (r *Repository) InsertTx(ctx context.Context, tx *sql.Tx, event Event) error {
	return insertEvent(ctx, tx, event)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEvent(ctx context.Context, db execer, event Event) error {
	payload := pqtype.NullRawMessage{RawMessage: event.Payload, Valid: len(event.Payload) > 0}
	orderID := sql.NullString{String: event.OrderID, Valid: event.OrderID != ""}

	_, err := db.ExecContext(ctx, `
		INSERT INTO table_outbox (id, session_id, order_id, event_type, payload)
		VALUES ($1, $2, $3, $4, $5)`,
		event.ID, event.SessionID, orderID, event.EventType, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s outbox event: %w", event.EventType, err)
	}
	return nil
}

// FetchByID loads a single outbox row.
func (r *Repository) FetchByID(ctx context.Context, id uuid.UUID) (Event, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, order_id, event_type, payload, created_at, sent_at
		FROM table_outbox WHERE id = $1`, id)
	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, ErrEventNotFound
	}
	if err != nil {
		return Event{}, fmt.Errorf("failed to fetch outbox event: %w", err)
	}
	return event, nil
}

// FetchUnsent returns up to limit unpublished events, oldest first.
func (r *Repository) FetchUnsent(ctx context.Context, limit int32) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, order_id, event_type, payload, created_at, sent_at
		FROM table_outbox WHERE sent_at IS NULL
		ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// MarkSent stamps an event as published.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE table_outbox SET sent_at = $1 WHERE id = $2 AND sent_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event sent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEventNotFound
	}
	return nil
}

// DeleteSentBefore prunes delivered rows older than cutoff.
func (r *Repository) DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM table_outbox WHERE sent_at IS NOT NULL AND sent_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune outbox: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (Event, error) {
	var (
		event   Event
		orderID sql.NullString
		payload pqtype.NullRawMessage
		sentAt  sql.NullTime
	)
	if err := row.Scan(&event.ID, &event.SessionID, &orderID, &event.EventType, &payload, &event.CreatedAt, &sentAt); err != nil {
		return Event{}, err
	}
	if orderID.Valid {
		event.OrderID = orderID.String
	}
	if payload.Valid {
		event.Payload = payload.RawMessage
	}
	if sentAt.Valid {
		t := sentAt.Time
		event.SentAt = &t
	}
	return event, nil
}
