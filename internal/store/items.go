package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Fingerliing/payquick-sub007/internal/cart"
	"github.com/Fingerliing/payquick-sub007/internal/realtime"
)

// AddItemRequest adds a menu item to the shared cart on behalf of a
// participant.
type AddItemRequest struct {
	SessionID     string  `json:"-"`
	ParticipantID string  `json:"participant_id"`
	MenuItemID    string  `json:"menu_item_id"`
	Name          string  `json:"name"`
	Quantity      int     `json:"quantity"`
	Note          string  `json:"note"`
	UnitPrice     float64 `json:"unit_price"`
}

// AddItem appends an item to the session cart and broadcasts the new cart
// state.
func (s *Store) AddItem(ctx context.Context, req AddItemRequest) (*cart.Item, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d", req.Quantity)
	}

	item := &cart.Item{
		ID:            uuid.New().String(),
		ParticipantID: req.ParticipantID,
		MenuItemID:    req.MenuItemID,
		Name:          req.Name,
		Quantity:      req.Quantity,
		Note:          req.Note,
		UnitPrice:     req.UnitPrice,
		TotalPrice:    req.UnitPrice * float64(req.Quantity),
	}

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if err := s.requireOpenSession(ctx, tx, req.SessionID); err != nil {
			return err
		}
		if err := s.requireActiveParticipant(ctx, tx, req.SessionID, req.ParticipantID); err != nil {
			return err
		}
		var existing int
		if err := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM table_items WHERE session_id = $1`, req.SessionID).Scan(&existing); err != nil {
			return fmt.Errorf("failed to count items: %w", err)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO table_items (id, session_id, participant_id, menu_item_id, name, quantity, note, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			item.ID, req.SessionID, req.ParticipantID, req.MenuItemID, req.Name, req.Quantity, req.Note, req.UnitPrice)
		if err != nil {
			return fmt.Errorf("failed to insert item: %w", err)
		}
		event := realtime.EventOrderUpdated
		if existing == 0 {
			event = realtime.EventOrderCreated
		}
		return s.broadcastCart(ctx, tx, req.SessionID, event)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// UpdateItemQuantity changes an item's quantity. Only the participant who
// added the item may change it.
func (s *Store) UpdateItemQuantity(ctx context.Context, sessionID, itemID, participantID string, quantity int) error {
	if quantity <= 0 {
		return s.RemoveItem(ctx, sessionID, itemID, participantID)
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := s.requireOpenSession(ctx, tx, sessionID); err != nil {
			return err
		}
		if err := s.requireItemOwner(ctx, tx, sessionID, itemID, participantID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE table_items SET quantity = $1 WHERE id = $2`, quantity, itemID)
		if err != nil {
			return fmt.Errorf("failed to update item quantity: %w", err)
		}
		return s.broadcastCart(ctx, tx, sessionID, realtime.EventOrderUpdated)
	})
}

// RemoveItem deletes an item from the cart. Only the owner may remove it.
func (s *Store) RemoveItem(ctx context.Context, sessionID, itemID, participantID string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := s.requireOpenSession(ctx, tx, sessionID); err != nil {
			return err
		}
		if err := s.requireItemOwner(ctx, tx, sessionID, itemID, participantID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM table_items WHERE id = $1`, itemID); err != nil {
			return fmt.Errorf("failed to delete item: %w", err)
		}
		return s.broadcastCart(ctx, tx, sessionID, realtime.EventOrderUpdated)
	})
}

// ErrNotItemOwner is returned when a participant mutates someone else's
// item.
var ErrNotItemOwner = errors.New("item belongs to another participant")

func (s *Store) requireOpenSession(ctx context.Context, tx pgx.Tx, sessionID string) error {
	var status string
	err := tx.QueryRow(ctx, `
		SELECT status FROM table_sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load session status: %w", err)
	}
	switch status {
	case "active":
		return nil
	case "locked":
		return ErrSessionLocked
	case "archived":
		return ErrSessionArchived
	default:
		return fmt.Errorf("%w: session is %s", ErrInvalidTransition, status)
	}
}

func (s *Store) requireActiveParticipant(ctx context.Context, tx pgx.Tx, sessionID, participantID string) error {
	var status string
	err := tx.QueryRow(ctx, `
		SELECT status FROM table_participants WHERE id = $1 AND session_id = $2`,
		participantID, sessionID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrParticipantNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load participant: %w", err)
	}
	if status != "active" {
		return fmt.Errorf("participant %s is %s, not active", participantID, status)
	}
	return nil
}

func (s *Store) requireItemOwner(ctx context.Context, tx pgx.Tx, sessionID, itemID, participantID string) error {
	var owner string
	err := tx.QueryRow(ctx, `
		SELECT participant_id FROM table_items WHERE id = $1 AND session_id = $2`,
		itemID, sessionID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrItemNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load item: %w", err)
	}
	if owner != participantID {
		return ErrNotItemOwner
	}
	return nil
}

// broadcastCart emits the full item list and recomputed total so every device
// converges on the same cart.
func (s *Store) broadcastCart(ctx context.Context, tx pgx.Tx, sessionID, eventType string) error {
	total, err := touchSession(ctx, tx, sessionID)
	if err != nil {
		return err
	}
	sess, err := s.loadSession(ctx, tx, sessionID)
	if err != nil {
		return err
	}
	items := sess.Items
	if items == nil {
		items = []cart.Item{}
	}
	payload, _ := json.Marshal(map[string]any{
		"items":        items,
		"total_amount": total,
	})
	return appendEvent(ctx, tx, sessionID, "", eventType, payload)
}
