package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// State is the connection state of a Channel.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	// StateError means reconnect attempts are exhausted. The channel stays
	// idle until the caller invokes Connect again.
	StateError State = "error"
)

// BackoffFunc maps a reconnect attempt number (starting at 1) to a delay.
type BackoffFunc func(attempt int) time.Duration

// LinearBackoff waits attempt × base before each reconnect.
func LinearBackoff(base time.Duration) BackoffFunc {
	return func(attempt int) time.Duration { return time.Duration(attempt) * base }
}

// FixedBackoff waits the same delay before every reconnect.
func FixedBackoff(delay time.Duration) BackoffFunc {
	return func(int) time.Duration { return delay }
}

// Config holds the tunables for a Channel.
type Config struct {
	URL               string
	MaxAttempts       int
	Backoff           BackoffFunc
	HeartbeatInterval time.Duration
	Dialer            *websocket.Dialer
}

// SessionChannelConfig is the configuration used for session event channels:
// linear 1s backoff capped at 5 attempts, 30s heartbeat.
func SessionChannelConfig(url string) Config {
	return Config{
		URL:               url,
		MaxAttempts:       5,
		Backoff:           LinearBackoff(time.Second),
		HeartbeatInterval: 30 * time.Second,
		Dialer:            websocket.DefaultDialer,
	}
}

// OrderChannelConfig is the configuration used for order-status channels:
// fixed 5s retry capped at 3 attempts.
func OrderChannelConfig(url string) Config {
	return Config{
		URL:               url,
		MaxAttempts:       3,
		Backoff:           FixedBackoff(5 * time.Second),
		HeartbeatInterval: 30 * time.Second,
		Dialer:            websocket.DefaultDialer,
	}
}

// Channel is a reconnecting, heart-beating duplex message channel over one
// websocket endpoint. It knows nothing about session semantics: decoded frames
// are handed to the router, and lifecycle transitions are surfaced as the
// connected/disconnected/error meta events.
//
// Handlers are invoked from the read goroutine of the current connection, one
// frame at a time. They must tolerate duplicate deliveries.
type Channel struct {
	cfg    Config
	router *Router
	clock  clockwork.Clock

	// writeMu serializes socket writes (heartbeat vs. callers).
	writeMu sync.Mutex

	mu            sync.Mutex
	conn          *websocket.Conn
	state         State
	attempts      int
	requested     bool // caller asked for the current/last disconnect
	reconnect     clockwork.Timer
	heartbeatStop chan struct{}
	gen           int // connection generation, guards stale pump callbacks
}

// NewChannel creates a channel for cfg. Missing config fields get the session
// channel defaults.
func NewChannel(cfg Config) *Channel {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff == nil {
		cfg.Backoff = LinearBackoff(time.Second)
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Channel{
		cfg:    cfg,
		router: NewRouter(),
		clock:  clockwork.NewRealClock(),
		state:  StateDisconnected,
	}
}

// WithClock overrides the channel's clock. Intended for tests.
func (c *Channel) WithClock(clock clockwork.Clock) *Channel {
	c.clock = clock
	return c
}

// Router returns the channel's dispatch router.
func (c *Channel) Router() *Router {
	return c.router
}

// On subscribes a handler to an event type and returns its unsubscribe
// function.
func (c *Channel) On(eventType string, h Handler) (unsubscribe func()) {
	return c.router.Subscribe(eventType, h)
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the channel. Calling Connect on an open or connecting channel
// is a no-op. After reconnect attempts are exhausted (StateError) this is the
// only way to resume.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.requested = false
	c.attempts = 0
	c.state = StateConnecting
	c.mu.Unlock()

	return c.dial(ctx)
}

// Disconnect closes the channel without triggering reconnection and cancels
// any pending reconnect timer. Safe to call at any time; component teardown
// must call it to avoid leaking a reconnect loop.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.requested = true
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	c.stopHeartbeatLocked()
	conn := c.conn
	if conn == nil {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
		// The read pump observes the close and emits disconnected.
	}
}

// Send marshals v as JSON and writes it to the socket. Sending while the
// channel is not open is a no-op, not an error: callers must not assume
// delivery.
func (c *Channel) Send(v any) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateConnected && conn != nil
	c.mu.Unlock()
	if !open {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// RequestUpdate asks the server for a fresh state snapshot.
func (c *Channel) RequestUpdate() error {
	return c.Send(Message{Type: MessageRequestUpdate})
}

func (c *Channel) dial(ctx context.Context) error {
	conn, resp, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		log.Warn().Err(err).Str("url", c.cfg.URL).Msg("websocket dial failed")
		c.scheduleReconnect()
		return err
	}

	c.mu.Lock()
	if c.requested {
		// Disconnect raced the dial; drop the fresh connection.
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	c.gen++
	gen := c.gen
	stop := make(chan struct{})
	c.heartbeatStop = stop
	c.mu.Unlock()

	log.Info().Str("url", c.cfg.URL).Msg("channel connected")
	c.router.Emit(EventConnected, nil)

	go c.heartbeat(stop)
	go c.readPump(conn, gen)
	return nil
}

func (c *Channel) readPump(conn *websocket.Conn, gen int) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.onClose(gen, err)
			return
		}
		c.router.Dispatch(raw)
	}
}

func (c *Channel) onClose(gen int, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.stopHeartbeatLocked()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	requested := c.requested
	c.state = StateDisconnected
	c.mu.Unlock()

	c.router.Emit(EventDisconnected, nil)

	if requested {
		return
	}
	log.Warn().Err(err).Str("url", c.cfg.URL).Msg("abnormal closure")
	c.scheduleReconnect()
}

func (c *Channel) scheduleReconnect() {
	c.mu.Lock()
	if c.requested {
		c.mu.Unlock()
		return
	}
	c.attempts++
	if c.attempts >= c.cfg.MaxAttempts {
		c.state = StateError
		attempts := c.attempts
		c.mu.Unlock()
		log.Error().Int("attempts", attempts).Str("url", c.cfg.URL).
			Msg("reconnect attempts exhausted")
		c.router.Emit(EventError, nil)
		return
	}
	delay := c.cfg.Backoff(c.attempts)
	c.state = StateConnecting
	c.reconnect = c.clock.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnect = nil
		requested := c.requested
		c.mu.Unlock()
		if requested {
			return
		}
		_ = c.dial(context.Background())
	})
	attempt := c.attempts
	c.mu.Unlock()

	log.Info().Int("attempt", attempt).Dur("delay", delay).Str("url", c.cfg.URL).
		Msg("reconnect scheduled")
}

func (c *Channel) heartbeat(stop chan struct{}) {
	ticker := c.clock.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			if err := c.Send(Message{Type: MessagePing}); err != nil {
				log.Warn().Err(err).Msg("heartbeat send failed")
			}
		}
	}
}

func (c *Channel) stopHeartbeatLocked() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
}
