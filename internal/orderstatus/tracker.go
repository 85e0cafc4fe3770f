// Package orderstatus follows kitchen progress for a set of orders over a
// dedicated websocket channel, independent from the session channel. The
// connection is only rebuilt when the subscribed order set actually changes,
// never because a consumer re-rendered, so unrelated state updates cannot
// cause reconnect loops.
package orderstatus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Fingerliing/payquick-sub007/internal/realtime"
)

// OrderUpdate is an ephemeral status notification for one order. It is not
// persisted; the tracker keeps only the latest update per order.
type OrderUpdate struct {
	OrderID     string          `json:"order_id"`
	Status      *string         `json:"status,omitempty"`
	WaitMinutes *int            `json:"wait_minutes,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

type initialStatusPayload struct {
	Orders []OrderUpdate `json:"orders"`
}

// UpdateFunc receives accepted order updates.
type UpdateFunc func(OrderUpdate)

// Tracker owns the order-status channel for one screen.
type Tracker struct {
	baseURL string
	token   string

	mu        sync.Mutex
	channel   *realtime.Channel
	lastKey   string
	updates   map[string]OrderUpdate
	listeners map[int]UpdateFunc
	nextID    int
}

// NewTracker creates a tracker connecting to baseURL (ws:// or wss://) with
// the given auth token.
func NewTracker(baseURL, token string) *Tracker {
	return &Tracker{
		baseURL:   baseURL,
		token:     token,
		updates:   make(map[string]OrderUpdate),
		listeners: make(map[int]UpdateFunc),
	}
}

// OnUpdate registers a listener for accepted updates and returns its
// unsubscribe function.
func (t *Tracker) OnUpdate(fn UpdateFunc) (unsubscribe func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.listeners, id)
	}
}

// SetOrders updates the subscribed order set. The set's identity is its
// sorted, comma-joined key: a call with the same set in any order is a no-op,
// a changed set tears the connection down and rebuilds it. An empty set just
// disconnects.
func (t *Tracker) SetOrders(ctx context.Context, orderIDs []string) error {
	key := realtime.SubscriptionKey(orderIDs)

	t.mu.Lock()
	if key == t.lastKey {
		t.mu.Unlock()
		return nil
	}
	t.lastKey = key
	old := t.channel
	t.channel = nil
	t.mu.Unlock()

	if old != nil {
		old.Disconnect()
	}
	if key == "" {
		return nil
	}

	log.Debug().Str("orders", key).Msg("rebuilding order-status channel")
	ch := realtime.NewChannel(realtime.OrderChannelConfig(
		realtime.OrdersURL(t.baseURL, t.token, orderIDs)))
	ch.On(realtime.EventOrderUpdate, t.applyUpdate)
	ch.On(realtime.EventInitialStatus, t.applyInitial)

	t.mu.Lock()
	t.channel = ch
	t.mu.Unlock()

	return ch.Connect(ctx)
}

// Update returns the latest accepted update for an order.
func (t *Tracker) Update(orderID string) (OrderUpdate, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.updates[orderID]
	return u, ok
}

// State returns the connection state of the underlying channel.
func (t *Tracker) State() realtime.State {
	t.mu.Lock()
	ch := t.channel
	t.mu.Unlock()
	if ch == nil {
		return realtime.StateDisconnected
	}
	return ch.State()
}

// Close tears down the channel and cancels any pending reconnect.
func (t *Tracker) Close() {
	t.mu.Lock()
	ch := t.channel
	t.channel = nil
	t.lastKey = ""
	t.mu.Unlock()
	if ch != nil {
		ch.Disconnect()
	}
}

func (t *Tracker) applyInitial(raw []byte) {
	var payload initialStatusPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Warn().Err(err).Msg("dropping initial_status payload")
		return
	}
	for _, u := range payload.Orders {
		t.accept(u)
	}
}

func (t *Tracker) applyUpdate(raw []byte) {
	var u OrderUpdate
	if err := json.Unmarshal(raw, &u); err != nil || u.OrderID == "" {
		log.Warn().Err(err).Msg("dropping order_update payload")
		return
	}
	t.accept(u)
}

// accept applies an update idempotently: a duplicate or stale delivery
// (timestamp not newer than the one already held) is discarded and listeners
// are not invoked again.
func (t *Tracker) accept(u OrderUpdate) {
	t.mu.Lock()
	if existing, ok := t.updates[u.OrderID]; ok && !u.Timestamp.After(existing.Timestamp) {
		t.mu.Unlock()
		return
	}
	t.updates[u.OrderID] = u
	listeners := make([]UpdateFunc, 0, len(t.listeners))
	for _, fn := range t.listeners {
		listeners = append(listeners, fn)
	}
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(u)
	}
}
