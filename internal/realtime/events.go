package realtime

// Wire event types carried in the envelope's "type" field.
const (
	// Session channel events.
	EventSessionState        = "session_state"
	EventSessionUpdate       = "session_update"
	EventParticipantJoined   = "participant_joined"
	EventParticipantLeft     = "participant_left"
	EventParticipantApproved = "participant_approved"
	EventOrderCreated        = "order_created"
	EventOrderUpdated        = "order_updated"
	EventSessionLocked       = "session_locked"
	EventSessionUnlocked     = "session_unlocked"
	EventSessionCompleted    = "session_completed"
	EventSessionArchived     = "session_archived"
	EventTableReleased       = "table_released"

	// Order-status channel events.
	EventInitialStatus = "initial_status"
	EventOrderUpdate   = "order_update"

	// Heartbeat acknowledgment; always a no-op.
	EventPong = "pong"
)

// Meta events emitted by the channel itself, never received off the wire.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventError        = "error"
)

// Client messages sent over the socket.
const (
	MessagePing          = "ping"
	MessageRequestUpdate = "request_update"
)

// Message is the outbound envelope for client-originated socket messages.
type Message struct {
	Type string `json:"type"`
}
