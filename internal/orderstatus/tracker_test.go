package orderstatus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newOrdersServer records every upgrade and its requested order set, then
// keeps the connection open until the client goes away.
func newOrdersServer(t *testing.T, conns *atomic.Int32, frames <-chan string) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns.Add(1)
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
		for frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSetOrdersReconnectsOnlyWhenSetChanges(t *testing.T) {
	var conns atomic.Int32
	frames := make(chan string)
	defer close(frames)
	url := newOrdersServer(t, &conns, frames)

	tracker := NewTracker(url, "tok")
	defer tracker.Close()
	ctx := context.Background()

	if err := tracker.SetOrders(ctx, []string{"1", "2"}); err != nil {
		t.Fatalf("SetOrders: %v", err)
	}
	if got := conns.Load(); got != 1 {
		t.Fatalf("connections = %d, want 1", got)
	}

	// Same set, different element order: identical key, no reconnect.
	if err := tracker.SetOrders(ctx, []string{"2", "1"}); err != nil {
		t.Fatalf("SetOrders: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := conns.Load(); got != 1 {
		t.Errorf("connections after re-render = %d, want 1", got)
	}

	// Genuinely changed set: teardown and rebuild.
	if err := tracker.SetOrders(ctx, []string{"1", "2", "3"}); err != nil {
		t.Fatalf("SetOrders: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for conns.Load() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("connections = %d, want 2 after set change", conns.Load())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDuplicateOrderUpdateIsAppliedOnce(t *testing.T) {
	var conns atomic.Int32
	frames := make(chan string, 4)
	url := newOrdersServer(t, &conns, frames)

	tracker := NewTracker(url, "tok")
	defer tracker.Close()

	var applied atomic.Int32
	tracker.OnUpdate(func(OrderUpdate) { applied.Add(1) })

	if err := tracker.SetOrders(context.Background(), []string{"7"}); err != nil {
		t.Fatalf("SetOrders: %v", err)
	}

	frame := `{"type":"order_update","order_id":"7","status":"preparing","timestamp":"2026-09-01T12:00:00Z"}`
	frames <- frame
	frames <- frame
	close(frames)

	deadline := time.Now().Add(2 * time.Second)
	for applied.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("update never applied")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if got := applied.Load(); got != 1 {
		t.Errorf("update applied %d times, want 1", got)
	}

	u, ok := tracker.Update("7")
	if !ok || u.Status == nil || *u.Status != "preparing" {
		t.Errorf("Update(7) = %+v, %v", u, ok)
	}
}

func TestNewerUpdateReplacesOlder(t *testing.T) {
	var conns atomic.Int32
	frames := make(chan string, 4)
	url := newOrdersServer(t, &conns, frames)

	tracker := NewTracker(url, "tok")
	defer tracker.Close()

	if err := tracker.SetOrders(context.Background(), []string{"7"}); err != nil {
		t.Fatalf("SetOrders: %v", err)
	}

	frames <- `{"type":"order_update","order_id":"7","status":"preparing","timestamp":"2026-09-01T12:00:00Z"}`
	frames <- `{"type":"order_update","order_id":"7","status":"ready","timestamp":"2026-09-01T12:05:00Z"}`
	// Stale delivery arriving late must not roll the status back.
	frames <- `{"type":"order_update","order_id":"7","status":"preparing","timestamp":"2026-09-01T12:00:00Z"}`
	close(frames)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if u, ok := tracker.Update("7"); ok && u.Status != nil && *u.Status == "ready" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("newer update never applied")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	u, _ := tracker.Update("7")
	if *u.Status != "ready" {
		t.Errorf("status = %q, want ready (stale update rolled back)", *u.Status)
	}
}

func TestInitialStatusSeedsUpdates(t *testing.T) {
	var conns atomic.Int32
	frames := make(chan string, 2)
	url := newOrdersServer(t, &conns, frames)

	tracker := NewTracker(url, "tok")
	defer tracker.Close()

	if err := tracker.SetOrders(context.Background(), []string{"1", "2"}); err != nil {
		t.Fatalf("SetOrders: %v", err)
	}

	frames <- `{"type":"initial_status","orders":[
		{"order_id":"1","status":"preparing","timestamp":"2026-09-01T12:00:00Z"},
		{"order_id":"2","status":"ready","timestamp":"2026-09-01T12:01:00Z"}
	]}`
	close(frames)

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, ok1 := tracker.Update("1")
		_, ok2 := tracker.Update("2")
		if ok1 && ok2 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("initial status never applied")
		}
		time.Sleep(time.Millisecond)
	}
}
