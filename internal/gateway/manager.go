package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Fingerliing/payquick-sub007/internal/realtime"
	"github.com/Fingerliing/payquick-sub007/internal/session"
)

// StateProvider supplies current state snapshots for newly connected or
// resyncing devices.
type StateProvider interface {
	// SessionState returns the full session state broadcast as
	// session_state.
	SessionState(ctx context.Context, sessionID string) (*session.Session, error)

	// InitialOrderStatus returns the initial_status payload for a set of
	// orders.
	InitialOrderStatus(ctx context.Context, orderIDs []string) (json.RawMessage, error)
}

// ConnectionManager manages websocket connections for table sessions and
// order-status subscriptions. The two pools are independent: a failure on one
// never affects the other.
type ConnectionManager struct {
	mu           sync.RWMutex
	sessionConns map[string]map[*Connection]bool
	orderConns   map[*Connection]map[string]bool

	upgrader    websocket.Upgrader
	config      ConnectionConfig
	states      StateProvider
	broadcastCh chan BroadcastMessage
}

// Connection represents one device's websocket connection.
type Connection struct {
	ID        string
	UserID    string
	SessionID string          // empty for order-status connections
	Orders    map[string]bool // nil for session connections
	Conn      *websocket.Conn
	Send      chan []byte
	Manager   *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for websocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage routes an event to a session pool or an order
// subscription.
type BroadcastMessage struct {
	SessionID string
	OrderID   string
	Event     *TableEvent
}

// DefaultConnectionConfig returns default websocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     90 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a websocket connection manager.
func NewConnectionManager(config ConnectionConfig, states StateProvider) *ConnectionManager {
	return &ConnectionManager{
		sessionConns: make(map[string]map[*Connection]bool),
		orderConns:   make(map[*Connection]map[string]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		states:      states,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// Start begins processing broadcast messages until ctx is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeSessionConnection upgrades an HTTP request into a session-channel
// connection and immediately pushes the current session state.
func (cm *ConnectionManager) UpgradeSessionConnection(w http.ResponseWriter, r *http.Request, userID, sessionID string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		SessionID:   sessionID,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	cm.mu.Lock()
	if cm.sessionConns[sessionID] == nil {
		cm.sessionConns[sessionID] = make(map[*Connection]bool)
	}
	cm.sessionConns[sessionID][connection] = true
	cm.mu.Unlock()

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", userID).
		Str("session_id", sessionID).
		Msg("session channel connected")

	cm.sendSessionState(connection)
	return nil
}

// UpgradeOrdersConnection upgrades an HTTP request into an order-status
// connection subscribed to orderIDs.
func (cm *ConnectionManager) UpgradeOrdersConnection(w http.ResponseWriter, r *http.Request, userID string, orderIDs []string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	orders := make(map[string]bool, len(orderIDs))
	for _, id := range orderIDs {
		orders[id] = true
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		Orders:      orders,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	cm.mu.Lock()
	cm.orderConns[connection] = orders
	cm.mu.Unlock()

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", userID).
		Int("orders", len(orderIDs)).
		Msg("order-status channel connected")

	connection.enqueue([]byte(`{"type":"connected"}`))
	cm.sendInitialOrderStatus(connection, orderIDs)
	return nil
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if conn.SessionID != "" {
		if pool, exists := cm.sessionConns[conn.SessionID]; exists {
			if _, exists := pool[conn]; exists {
				delete(pool, conn)
				close(conn.Send)
				if len(pool) == 0 {
					delete(cm.sessionConns, conn.SessionID)
				}
			}
		}
		return
	}

	if _, exists := cm.orderConns[conn]; exists {
		delete(cm.orderConns, conn)
		close(conn.Send)
	}
}

// BroadcastToSession queues an event for every device in a session.
func (cm *ConnectionManager) BroadcastToSession(sessionID string, event *TableEvent) {
	select {
	case cm.broadcastCh <- BroadcastMessage{SessionID: sessionID, Event: event}:
	default:
		log.Warn().Str("session_id", sessionID).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastOrderUpdate queues an event for every connection subscribed to an
// order.
func (cm *ConnectionManager) BroadcastOrderUpdate(orderID string, event *TableEvent) {
	select {
	case cm.broadcastCh <- BroadcastMessage{OrderID: orderID, Event: event}:
	default:
		log.Warn().Str("order_id", orderID).Msg("broadcast channel full, dropping message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	var targets []*Connection
	if message.SessionID != "" {
		for conn := range cm.sessionConns[message.SessionID] {
			targets = append(targets, conn)
		}
	} else if message.OrderID != "" {
		for conn, orders := range cm.orderConns {
			if orders[message.OrderID] {
				targets = append(targets, conn)
			}
		}
	}
	cm.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	frame, err := message.Event.Frame()
	if err != nil {
		log.Error().Err(err).Msg("failed to render event frame")
		return
	}

	for _, conn := range targets {
		if !conn.enqueue(frame) {
			// Connection is slow/dead, drop it rather than stall the
			// broadcast.
			log.Warn().
				Str("connection_id", conn.ID).
				Str("user_id", conn.UserID).
				Msg("send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("event_type", message.Event.Type).
		Str("session_id", message.SessionID).
		Int("connections", len(targets)).
		Msg("event broadcast")
}

// Stats returns counts of active connections.
func (cm *ConnectionManager) Stats() (sessions, sessionConns, orderConns int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for _, pool := range cm.sessionConns {
		sessionConns += len(pool)
	}
	return len(cm.sessionConns), sessionConns, len(cm.orderConns)
}

func (cm *ConnectionManager) sendSessionState(conn *Connection) {
	state, err := cm.states.SessionState(context.Background(), conn.SessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", conn.SessionID).Msg("failed to load session state")
		return
	}
	payload, err := json.Marshal(map[string]any{"session": state})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal session state")
		return
	}
	event := &TableEvent{
		ID:        uuid.New().String(),
		SessionID: conn.SessionID,
		Type:      realtime.EventSessionState,
		Timestamp: time.Now(),
		Data:      payload,
	}
	frame, err := event.Frame()
	if err != nil {
		log.Error().Err(err).Msg("failed to render session state frame")
		return
	}
	conn.enqueue(frame)
}

func (cm *ConnectionManager) sendInitialOrderStatus(conn *Connection, orderIDs []string) {
	payload, err := cm.states.InitialOrderStatus(context.Background(), orderIDs)
	if err != nil {
		log.Error().Err(err).Msg("failed to load initial order status")
		return
	}
	frame, err := (&TableEvent{
		ID:        uuid.New().String(),
		Type:      realtime.EventInitialStatus,
		Timestamp: time.Now(),
		Data:      payload,
	}).Frame()
	if err != nil {
		log.Error().Err(err).Msg("failed to render initial status frame")
		return
	}
	conn.enqueue(frame)
}

// enqueue places a frame on the connection's send queue, reporting false when
// the queue is full.
func (c *Connection) enqueue(frame []byte) bool {
	defer func() {
		// Send may already be closed by unregisterConnection.
		recover()
	}()
	select {
	case c.Send <- frame:
		return true
	default:
		return false
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("write failed")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("unexpected close")
			}
			return
		}
		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage processes inbound frames. The socket accepts only the
// heartbeat and resync messages; everything else goes through the REST action
// endpoints.
func (c *Connection) handleClientMessage(message []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil {
		log.Warn().Str("connection_id", c.ID).Msg("dropping malformed client frame")
		return
	}

	switch envelope.Type {
	case realtime.MessagePing:
		c.LastPing = time.Now()
		c.enqueue([]byte(`{"type":"pong"}`))
	case realtime.MessageRequestUpdate:
		if c.SessionID != "" {
			c.Manager.sendSessionState(c)
		}
	default:
		log.Warn().
			Str("connection_id", c.ID).
			Str("message_type", envelope.Type).
			Msg("dropping unsupported client message")
	}
}
