package realtime

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
)

// Handler receives the raw envelope of a dispatched event. For meta events
// (connected, disconnected, error) the payload is nil.
type Handler func(data []byte)

// Router decodes raw wire envelopes of the form {"type": ..., ...payload} and
// fans them out to the handlers subscribed to that type. It isolates
// wire-format parsing from the components that react to events: the channel
// feeds it raw frames, subscribers never see malformed input.
type Router struct {
	mu       sync.Mutex
	handlers map[string]map[int]Handler
	nextID   int
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]map[int]Handler)}
}

// Subscribe registers a handler for an event type and returns a function that
// removes it again.
func (r *Router) Subscribe(eventType string, h Handler) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	if r.handlers[eventType] == nil {
		r.handlers[eventType] = make(map[int]Handler)
	}
	r.handlers[eventType][id] = h

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.handlers[eventType], id)
	}
}

// Dispatch decodes a raw frame and invokes the handlers for its type.
// Malformed frames and unknown types are logged and dropped; pong is always a
// no-op.
func (r *Router) Dispatch(raw []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		log.Warn().Err(err).Msg("dropping malformed frame")
		return
	}
	if envelope.Type == EventPong {
		return
	}

	if !r.Emit(envelope.Type, raw) {
		log.Warn().Str("event_type", envelope.Type).Msg("dropping unhandled event type")
	}
}

// Emit invokes the handlers subscribed to eventType directly, bypassing
// envelope decoding. The channel uses it for its own lifecycle events. It
// reports whether any handler was invoked.
func (r *Router) Emit(eventType string, data []byte) bool {
	r.mu.Lock()
	subs := r.handlers[eventType]
	snapshot := make([]Handler, 0, len(subs))
	for _, h := range subs {
		snapshot = append(snapshot, h)
	}
	r.mu.Unlock()

	for _, h := range snapshot {
		h(data)
	}
	return len(snapshot) > 0
}
