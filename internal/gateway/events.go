package gateway

import (
	"encoding/json"
	"time"
)

// TableEvent is the websocket event pushed to connected devices. Data is
// merged flat into the outgoing frame next to the type discriminator.
type TableEvent struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"-"`
}

// Frame renders the event as the flat wire envelope {type, ...payload}
// expected by the client router.
func (e *TableEvent) Frame() ([]byte, error) {
	merged := map[string]json.RawMessage{}
	if len(e.Data) > 0 {
		if err := json.Unmarshal(e.Data, &merged); err != nil {
			return nil, err
		}
	}

	quote := func(s string) json.RawMessage {
		b, _ := json.Marshal(s)
		return b
	}
	merged["type"] = quote(e.Type)
	merged["id"] = quote(e.ID)
	merged["session_id"] = quote(e.SessionID)
	ts, _ := json.Marshal(e.Timestamp)
	merged["timestamp"] = ts

	return json.Marshal(merged)
}
