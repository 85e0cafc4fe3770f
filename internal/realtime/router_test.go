package realtime

import "testing"

func TestRouterDispatch(t *testing.T) {
	r := NewRouter()

	var got []string
	r.Subscribe(EventSessionLocked, func(data []byte) {
		got = append(got, "locked:"+string(data))
	})

	r.Dispatch([]byte(`{"type":"session_locked","locked_by":"p1"}`))
	if len(got) != 1 {
		t.Fatalf("handler invoked %d times, want 1", len(got))
	}
	if got[0] != `locked:{"type":"session_locked","locked_by":"p1"}` {
		t.Errorf("handler received %q", got[0])
	}
}

func TestRouterDropsMalformedAndUnknown(t *testing.T) {
	r := NewRouter()

	invoked := 0
	r.Subscribe(EventSessionUpdate, func([]byte) { invoked++ })

	// None of these may panic or reach the handler.
	r.Dispatch([]byte(`not json`))
	r.Dispatch([]byte(`{"type":"no_such_event"}`))
	r.Dispatch([]byte(`{}`))

	if invoked != 0 {
		t.Errorf("handler invoked %d times for dropped frames", invoked)
	}
}

func TestRouterPongIsNoOp(t *testing.T) {
	r := NewRouter()

	invoked := 0
	r.Subscribe(EventPong, func([]byte) { invoked++ })

	r.Dispatch([]byte(`{"type":"pong"}`))
	if invoked != 0 {
		t.Errorf("pong dispatched to handler %d times, want 0", invoked)
	}
}

func TestRouterUnsubscribe(t *testing.T) {
	r := NewRouter()

	invoked := 0
	unsubscribe := r.Subscribe(EventParticipantJoined, func([]byte) { invoked++ })

	r.Dispatch([]byte(`{"type":"participant_joined"}`))
	unsubscribe()
	r.Dispatch([]byte(`{"type":"participant_joined"}`))

	if invoked != 1 {
		t.Errorf("handler invoked %d times, want 1", invoked)
	}
}

func TestSubscriptionKey(t *testing.T) {
	tests := []struct {
		name string
		ids  []string
		want string
	}{
		{name: "empty", ids: nil, want: ""},
		{name: "single", ids: []string{"7"}, want: "7"},
		{name: "sorted", ids: []string{"1", "2"}, want: "1,2"},
		{name: "order does not matter", ids: []string{"2", "1"}, want: "1,2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SubscriptionKey(tt.ids); got != tt.want {
				t.Errorf("SubscriptionKey(%v) = %q, want %q", tt.ids, got, tt.want)
			}
		})
	}
}
