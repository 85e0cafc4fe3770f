package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is a pending table event awaiting publication.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	SessionID string          `json:"session_id"`
	OrderID   string          `json:"order_id,omitempty"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at,omitempty"`
}
