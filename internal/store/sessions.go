package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/Fingerliing/payquick-sub007/internal/cart"
	"github.com/Fingerliing/payquick-sub007/internal/realtime"
	"github.com/Fingerliing/payquick-sub007/internal/session"
)

// CreateSessionRequest holds everything needed to open a table session.
type CreateSessionRequest struct {
	RestaurantID string `json:"restaurant_id"`
	TableID      string `json:"table_id"`
	ShareCode    string `json:"share_code"`
	HostID       string `json:"host_id"`
	HostName     string `json:"host_name"`
}

// CreateSession opens a new session with the creator as active host.
func (s *Store) CreateSession(ctx context.Context, req CreateSessionRequest) (*session.Session, error) {
	id := uuid.New().String()
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO table_sessions (id, restaurant_id, table_id, share_code, host_id)
			VALUES ($1, $2, $3, $4, $5)`,
			id, req.RestaurantID, req.TableID, req.ShareCode, req.HostID)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrShareCodeTaken
			}
			return fmt.Errorf("failed to create session: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO table_participants (id, session_id, display_name, is_host, status)
			VALUES ($1, $2, $3, true, 'active')`,
			req.HostID, id, req.HostName)
		if err != nil {
			return fmt.Errorf("failed to create host participant: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("session_id", id).
		Str("restaurant_id", req.RestaurantID).
		Str("table_id", req.TableID).
		Msg("session created")

	return s.GetSession(ctx, id)
}

// GetSession loads a full session snapshot with participants and cart items.
func (s *Store) GetSession(ctx context.Context, id string) (*session.Session, error) {
	return s.loadSession(ctx, s.pool, id)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) loadSession(ctx context.Context, q querier, id string) (*session.Session, error) {
	sess := &session.Session{ID: id}
	err := q.QueryRow(ctx, `
		SELECT status, share_code, host_id, total_amount
		FROM table_sessions WHERE id = $1`, id).
		Scan(&sess.Status, &sess.ShareCode, &sess.HostID, &sess.TotalAmount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT id, display_name, is_host, status
		FROM table_participants
		WHERE session_id = $1 AND status != 'removed'
		ORDER BY joined_at`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load participants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p session.Participant
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.IsHost, &p.Status); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		sess.Participants = append(sess.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	itemRows, err := q.Query(ctx, `
		SELECT id, participant_id, menu_item_id, name, quantity, note, unit_price
		FROM table_items WHERE session_id = $1 ORDER BY created_at`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load items: %w", err)
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var it cart.Item
		if err := itemRows.Scan(&it.ID, &it.ParticipantID, &it.MenuItemID, &it.Name, &it.Quantity, &it.Note, &it.UnitPrice); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		it.TotalPrice = it.UnitPrice * float64(it.Quantity)
		sess.Items = append(sess.Items, it)
	}
	return sess, itemRows.Err()
}

// FindActiveSession returns the open session for a table, or nil when there
// is none.
func (s *Store) FindActiveSession(ctx context.Context, restaurantID, tableID string) (*session.Session, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM table_sessions
		WHERE restaurant_id = $1 AND table_id = $2 AND status IN ('active', 'locked')
		ORDER BY created_at DESC LIMIT 1`, restaurantID, tableID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active session: %w", err)
	}
	return s.GetSession(ctx, id)
}

// JoinSession adds a guest to the session named by shareCode. Guests join as
// pending until the host approves them.
func (s *Store) JoinSession(ctx context.Context, shareCode, displayName string) (*session.Session, string, error) {
	var sessionID, status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, status FROM table_sessions
		WHERE share_code = $1 AND status IN ('active', 'locked')`, shareCode).
		Scan(&sessionID, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", ErrSessionNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to look up share code: %w", err)
	}
	if session.Status(status) == session.StatusLocked {
		return nil, "", ErrSessionLocked
	}

	participantID := uuid.New().String()
	err = s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO table_participants (id, session_id, display_name, status)
			VALUES ($1, $2, $3, 'pending')`,
			participantID, sessionID, displayName)
		if err != nil {
			return fmt.Errorf("failed to add participant: %w", err)
		}
		payload, _ := json.Marshal(map[string]any{
			"participant": session.Participant{
				ID:          participantID,
				DisplayName: displayName,
				Status:      session.ParticipantPending,
			},
		})
		return appendEvent(ctx, tx, sessionID, "", realtime.EventParticipantJoined, payload)
	})
	if err != nil {
		return nil, "", err
	}

	sess, err := s.GetSession(ctx, sessionID)
	return sess, participantID, err
}

// SessionAction applies a host-level status action: lock, unlock, complete.
func (s *Store) SessionAction(ctx context.Context, sessionID, actorID, action string) error {
	target, event, err := actionTransition(action)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		var status, hostID string
		err := tx.QueryRow(ctx, `
			SELECT status, host_id FROM table_sessions WHERE id = $1 FOR UPDATE`, sessionID).
			Scan(&status, &hostID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock session row: %w", err)
		}
		if session.Status(status) == session.StatusArchived {
			return ErrSessionArchived
		}
		if hostID != actorID {
			return ErrNotHost
		}
		if !session.CanTransition(session.Status(status), target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, target)
		}

		_, err = tx.Exec(ctx, `
			UPDATE table_sessions SET status = $1, updated_at = now() WHERE id = $2`,
			target, sessionID)
		if err != nil {
			return fmt.Errorf("failed to update session status: %w", err)
		}

		payload, _ := json.Marshal(map[string]any{"status": target})
		return appendEvent(ctx, tx, sessionID, "", event, payload)
	})
}

// ArchiveSession moves a completed session to archived and releases the
// table.
func (s *Store) ArchiveSession(ctx context.Context, sessionID string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `
			SELECT status FROM table_sessions WHERE id = $1 FOR UPDATE`, sessionID).
			Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock session row: %w", err)
		}
		if !session.CanTransition(session.Status(status), session.StatusArchived) {
			return fmt.Errorf("%w: %s -> archived", ErrInvalidTransition, status)
		}
		_, err = tx.Exec(ctx, `
			UPDATE table_sessions SET status = 'archived', updated_at = now() WHERE id = $1`,
			sessionID)
		if err != nil {
			return fmt.Errorf("failed to archive session: %w", err)
		}

		payload, _ := json.Marshal(map[string]any{"redirect_to": "/tables"})
		if err := appendEvent(ctx, tx, sessionID, "", realtime.EventSessionArchived, payload); err != nil {
			return err
		}
		return appendEvent(ctx, tx, sessionID, "", realtime.EventTableReleased, []byte(`{}`))
	})
}

// ParticipantAction applies a host-level participant action: approve, reject,
// remove, make_host. Actions on other participants require the actor to be
// the host; leave is handled by LeaveSession.
func (s *Store) ParticipantAction(ctx context.Context, participantID, actorID, action string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var sessionID, hostID, sessionStatus string
		err := tx.QueryRow(ctx, `
			SELECT p.session_id, s.host_id, s.status
			FROM table_participants p
			JOIN table_sessions s ON s.id = p.session_id
			WHERE p.id = $1 FOR UPDATE OF s`, participantID).
			Scan(&sessionID, &hostID, &sessionStatus)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrParticipantNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load participant: %w", err)
		}
		if session.Status(sessionStatus) == session.StatusArchived {
			return ErrSessionArchived
		}
		if hostID != actorID {
			return ErrNotHost
		}

		switch action {
		case "approve":
			_, err = tx.Exec(ctx, `
				UPDATE table_participants SET status = 'active' WHERE id = $1`, participantID)
			if err != nil {
				return fmt.Errorf("failed to approve participant: %w", err)
			}
			payload, _ := json.Marshal(map[string]any{"participant_id": participantID})
			return appendEvent(ctx, tx, sessionID, "", realtime.EventParticipantApproved, payload)

		case "reject", "remove":
			_, err = tx.Exec(ctx, `
				UPDATE table_participants SET status = 'removed' WHERE id = $1`, participantID)
			if err != nil {
				return fmt.Errorf("failed to remove participant: %w", err)
			}
			payload, _ := json.Marshal(map[string]any{"participant_id": participantID})
			return appendEvent(ctx, tx, sessionID, "", realtime.EventParticipantLeft, payload)

		case "make_host":
			return s.transferHost(ctx, tx, sessionID, hostID, participantID)

		default:
			return fmt.Errorf("unknown participant action %q", action)
		}
	})
}

// transferHost swaps the host flag and broadcasts the whole session so every
// device applies the swap atomically.
func (s *Store) transferHost(ctx context.Context, tx pgx.Tx, sessionID, oldHostID, newHostID string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE table_participants SET is_host = (id = $1), status = 'active'
		WHERE session_id = $2 AND id IN ($1, $3)`,
		newHostID, sessionID, oldHostID); err != nil {
		return fmt.Errorf("failed to swap host flag: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE table_sessions SET host_id = $1, updated_at = now() WHERE id = $2`,
		newHostID, sessionID); err != nil {
		return fmt.Errorf("failed to update session host: %w", err)
	}

	sess, err := s.loadSession(ctx, tx, sessionID)
	if err != nil {
		return err
	}
	payload, _ := json.Marshal(map[string]any{"session": sess})
	return appendEvent(ctx, tx, sessionID, "", realtime.EventSessionUpdate, payload)
}

// LeaveSession voluntarily removes a participant from their session.
func (s *Store) LeaveSession(ctx context.Context, sessionID, participantID string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE table_participants SET status = 'removed'
			WHERE id = $1 AND session_id = $2 AND status != 'removed'`,
			participantID, sessionID)
		if err != nil {
			return fmt.Errorf("failed to remove participant: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrParticipantNotFound
		}
		payload, _ := json.Marshal(map[string]any{"participant_id": participantID})
		return appendEvent(ctx, tx, sessionID, "", realtime.EventParticipantLeft, payload)
	})
}

func actionTransition(action string) (session.Status, string, error) {
	switch action {
	case "lock":
		return session.StatusLocked, realtime.EventSessionLocked, nil
	case "unlock":
		return session.StatusActive, realtime.EventSessionUnlocked, nil
	case "complete":
		return session.StatusCompleted, realtime.EventSessionCompleted, nil
	default:
		return "", "", fmt.Errorf("unknown session action %q", action)
	}
}

// appendEvent writes an outbox row inside the caller's transaction.
func appendEvent(ctx context.Context, tx pgx.Tx, sessionID, orderID, eventType string, payload []byte) error {
	var order any
	if orderID != "" {
		order = orderID
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO table_outbox (id, session_id, order_id, event_type, payload)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), sessionID, order, eventType, payload)
	if err != nil {
		return fmt.Errorf("failed to insert %s outbox event: %w", eventType, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}

// touchSession bumps updated_at and recomputes the session total from its
// items.
func touchSession(ctx context.Context, tx pgx.Tx, sessionID string) (float64, error) {
	var total float64
	err := tx.QueryRow(ctx, `
		UPDATE table_sessions SET
			total_amount = COALESCE((
				SELECT SUM(quantity * unit_price) FROM table_items WHERE session_id = $1
			), 0),
			updated_at = now()
		WHERE id = $1
		RETURNING total_amount`, sessionID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to update session total: %w", err)
	}
	return total, nil
}
