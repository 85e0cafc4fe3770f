package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Fingerliing/payquick-sub007/internal/realtime"
	"github.com/Fingerliing/payquick-sub007/internal/session"
)

// OrderStatus is one kitchen order's current state.
type OrderStatus struct {
	OrderID     string    `json:"order_id"`
	SessionID   string    `json:"session_id"`
	Status      string    `json:"status"`
	WaitMinutes *int      `json:"wait_minutes,omitempty"`
	UpdatedAt   time.Time `json:"timestamp"`
}

// CreateOrder registers a kitchen order for a session.
func (s *Store) CreateOrder(ctx context.Context, sessionID, orderID string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO table_orders (id, session_id) VALUES ($1, $2)`, orderID, sessionID)
		if err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
		return nil
	})
}

// UpdateOrderStatus moves an order through the kitchen pipeline and
// broadcasts the change to subscribed devices.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID, status string, waitMinutes *int) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var sessionID string
		var updatedAt time.Time
		err := tx.QueryRow(ctx, `
			UPDATE table_orders SET status = $1, wait_minutes = $2, updated_at = now()
			WHERE id = $3
			RETURNING session_id, updated_at`,
			status, waitMinutes, orderID).Scan(&sessionID, &updatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}

		payload, _ := json.Marshal(OrderStatus{
			OrderID:     orderID,
			SessionID:   sessionID,
			Status:      status,
			WaitMinutes: waitMinutes,
			UpdatedAt:   updatedAt,
		})
		return appendEvent(ctx, tx, sessionID, orderID, realtime.EventOrderUpdate, payload)
	})
}

// SessionState implements the gateway state provider.
func (s *Store) SessionState(ctx context.Context, sessionID string) (*session.Session, error) {
	return s.GetSession(ctx, sessionID)
}

// InitialOrderStatus returns the initial_status payload for a set of orders.
// Unknown order ids are silently omitted.
func (s *Store) InitialOrderStatus(ctx context.Context, orderIDs []string) (json.RawMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, status, wait_minutes, updated_at
		FROM table_orders WHERE id = ANY($1)`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load order statuses: %w", err)
	}
	defer rows.Close()

	statuses := make([]OrderStatus, 0, len(orderIDs))
	for rows.Next() {
		var st OrderStatus
		if err := rows.Scan(&st.OrderID, &st.SessionID, &st.Status, &st.WaitMinutes, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order status: %w", err)
		}
		statuses = append(statuses, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"orders": statuses})
}
