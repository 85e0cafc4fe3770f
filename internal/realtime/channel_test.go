package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

// newWSServer starts a test websocket server; every upgraded connection is
// handed to handler on its own goroutine.
func newWSServer(t *testing.T, handler func(conn *websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitEvent(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("got event %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q event", want)
	}
}

func TestChannelConnectAndReceive(t *testing.T) {
	_, url := newWSServer(t, func(conn *websocket.Conn) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session_update","total":"42.00"}`)); err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ch := NewChannel(SessionChannelConfig(url))
	events := make(chan string, 8)
	ch.On(EventConnected, func([]byte) { events <- EventConnected })
	ch.On(EventSessionUpdate, func(data []byte) { events <- string(data) })
	defer ch.Disconnect()

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitEvent(t, events, EventConnected)
	waitEvent(t, events, `{"type":"session_update","total":"42.00"}`)

	if got := ch.State(); got != StateConnected {
		t.Errorf("State = %v, want %v", got, StateConnected)
	}
}

func TestChannelSendWhileClosedIsNoOp(t *testing.T) {
	ch := NewChannel(SessionChannelConfig("ws://127.0.0.1:0/ws/session/x/"))
	if err := ch.Send(Message{Type: MessagePing}); err != nil {
		t.Fatalf("Send on closed channel = %v, want nil", err)
	}
}

func TestChannelSurvivesMalformedFrame(t *testing.T) {
	_, url := newWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`this is not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session_locked"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ch := NewChannel(SessionChannelConfig(url))
	events := make(chan string, 8)
	ch.On(EventSessionLocked, func([]byte) { events <- EventSessionLocked })
	defer ch.Disconnect()

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// The frame after the malformed one still arrives.
	waitEvent(t, events, EventSessionLocked)
}

func TestChannelHeartbeat(t *testing.T) {
	pings := make(chan string, 4)
	_, url := newWSServer(t, func(conn *websocket.Conn) {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			pings <- string(raw)
		}
	})

	clock := clockwork.NewFakeClock()
	ch := NewChannel(SessionChannelConfig(url)).WithClock(clock)
	events := make(chan string, 4)
	ch.On(EventConnected, func([]byte) { events <- EventConnected })
	defer ch.Disconnect()

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitEvent(t, events, EventConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("heartbeat ticker never started: %v", err)
	}
	clock.Advance(30 * time.Second)

	select {
	case got := <-pings:
		if got != `{"type":"ping"}` {
			t.Errorf("heartbeat sent %q, want ping message", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no ping sent after heartbeat interval")
	}
}

func TestChannelReconnectsAfterAbnormalClose(t *testing.T) {
	var conns atomic.Int32
	_, url := newWSServer(t, func(conn *websocket.Conn) {
		n := conns.Add(1)
		if n == 1 {
			// Abnormal closure: no close frame.
			conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	cfg := SessionChannelConfig(url)
	cfg.Backoff = LinearBackoff(time.Millisecond)
	ch := NewChannel(cfg)
	events := make(chan string, 8)
	ch.On(EventConnected, func([]byte) { events <- EventConnected })
	ch.On(EventDisconnected, func([]byte) { events <- EventDisconnected })
	defer ch.Disconnect()

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitEvent(t, events, EventConnected)
	waitEvent(t, events, EventDisconnected)
	waitEvent(t, events, EventConnected)

	if got := conns.Load(); got != 2 {
		t.Errorf("server saw %d connections, want 2", got)
	}
	if got := ch.State(); got != StateConnected {
		t.Errorf("State = %v, want %v", got, StateConnected)
	}
}

func TestChannelGivesUpAfterMaxAttempts(t *testing.T) {
	var conns atomic.Int32
	_, url := newWSServer(t, func(conn *websocket.Conn) {
		conns.Add(1)
		conn.Close()
	})

	cfg := SessionChannelConfig(url)
	cfg.Backoff = LinearBackoff(time.Millisecond)
	ch := NewChannel(cfg)
	errored := make(chan struct{})
	ch.On(EventError, func([]byte) { close(errored) })
	defer ch.Disconnect()

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case <-errored:
	case <-time.After(2 * time.Second):
		t.Fatal("error event never emitted")
	}

	if got := ch.State(); got != StateError {
		t.Fatalf("State = %v, want %v", got, StateError)
	}
	// Five abnormal closes exhaust the budget: the initial connection plus
	// four reconnects, and no further attempt after the fifth close.
	time.Sleep(20 * time.Millisecond)
	if got := conns.Load(); got != 5 {
		t.Errorf("server saw %d connections, want 5", got)
	}
}

func TestChannelErrorStateRequiresExplicitConnect(t *testing.T) {
	var conns atomic.Int32
	_, url := newWSServer(t, func(conn *websocket.Conn) {
		n := conns.Add(1)
		if n <= 5 {
			conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	cfg := SessionChannelConfig(url)
	cfg.Backoff = LinearBackoff(time.Millisecond)
	ch := NewChannel(cfg)
	events := make(chan string, 16)
	ch.On(EventConnected, func([]byte) { events <- EventConnected })
	errored := make(chan struct{})
	ch.On(EventError, func([]byte) { close(errored) })
	defer ch.Disconnect()

	ch.Connect(context.Background())
	<-errored

	// Caller-initiated reconnection resumes from a clean attempt counter.
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect after error: %v", err)
	}
	for {
		select {
		case got := <-events:
			if got == EventConnected && ch.State() == StateConnected {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatal("channel never reconnected after explicit Connect")
		}
	}
}

func TestChannelDisconnectCancelsPendingReconnect(t *testing.T) {
	var conns atomic.Int32
	_, url := newWSServer(t, func(conn *websocket.Conn) {
		conns.Add(1)
		conn.Close()
	})

	cfg := SessionChannelConfig(url)
	cfg.Backoff = FixedBackoff(time.Hour)
	ch := NewChannel(cfg)
	disconnected := make(chan struct{}, 4)
	ch.On(EventDisconnected, func([]byte) { disconnected <- struct{}{} })

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnected event never emitted")
	}

	// Wait for the reconnect to be scheduled, then tear down.
	deadline := time.Now().Add(2 * time.Second)
	for ch.State() != StateConnecting {
		if time.Now().After(deadline) {
			t.Fatal("reconnect never scheduled")
		}
		time.Sleep(time.Millisecond)
	}
	ch.Disconnect()

	if got := ch.State(); got != StateDisconnected {
		t.Errorf("State = %v, want %v", got, StateDisconnected)
	}
	time.Sleep(20 * time.Millisecond)
	if got := conns.Load(); got != 1 {
		t.Errorf("server saw %d connections after teardown, want 1", got)
	}
}
