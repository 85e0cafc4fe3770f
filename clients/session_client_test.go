package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSessionClientEndpoints(t *testing.T) {
	type seen struct {
		method, path string
		body         map[string]string
	}
	var requests []seen

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		var body map[string]string
		if r.Body != nil {
			json.NewDecoder(r.Body).Decode(&body)
		}
		requests = append(requests, seen{method: r.Method, path: r.URL.Path, body: body})

		switch r.URL.Path {
		case "/api/sessions/join/":
			json.NewEncoder(w).Encode(map[string]any{
				"participant_id": "p9",
				"session":        map[string]any{"id": "s1", "status": "active"},
			})
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	c := NewSessionClient(srv.URL, "tok")
	ctx := context.Background()

	result, err := c.JoinSession(ctx, JoinSessionRequest{ShareCode: "TBL42X", GuestName: "Dana"})
	if err != nil {
		t.Fatalf("JoinSession: %v", err)
	}
	if result.ParticipantID != "p9" || result.Session == nil || result.Session.ID != "s1" {
		t.Errorf("JoinSession result = %+v", result)
	}

	if err := c.SessionAction(ctx, "s1", "lock"); err != nil {
		t.Fatalf("SessionAction: %v", err)
	}
	if err := c.ParticipantAction(ctx, "p9", "approve"); err != nil {
		t.Fatalf("ParticipantAction: %v", err)
	}
	if err := c.LeaveSession(ctx, "s1", "p9"); err != nil {
		t.Fatalf("LeaveSession: %v", err)
	}

	want := []seen{
		{method: http.MethodPost, path: "/api/sessions/join/", body: map[string]string{"share_code": "TBL42X", "guest_name": "Dana"}},
		{method: http.MethodPost, path: "/api/sessions/s1/action/", body: map[string]string{"action": "lock"}},
		{method: http.MethodPost, path: "/api/participants/p9/action/", body: map[string]string{"action": "approve"}},
		{method: http.MethodPost, path: "/api/sessions/s1/leave/", body: map[string]string{"participant_id": "p9"}},
	}
	if len(requests) != len(want) {
		t.Fatalf("saw %d requests, want %d", len(requests), len(want))
	}
	for i, w := range want {
		got := requests[i]
		if got.method != w.method || got.path != w.path {
			t.Errorf("request %d = %s %s, want %s %s", i, got.method, got.path, w.method, w.path)
		}
		for k, v := range w.body {
			if got.body[k] != v {
				t.Errorf("request %d body[%s] = %q, want %q", i, k, got.body[k], v)
			}
		}
	}
}

func TestCheckActiveSessionNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewSessionClient(srv.URL, "")
	s, err := c.CheckActiveSession(context.Background(), "r1", "4")
	if err != nil {
		t.Fatalf("CheckActiveSession: %v", err)
	}
	if s != nil {
		t.Errorf("session = %+v, want nil for a free table", s)
	}
}

func TestAPIErrorCarriesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"session is locked"}`))
	}))
	defer srv.Close()

	c := NewSessionClient(srv.URL, "")
	err := c.SessionAction(context.Background(), "s1", "lock")
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("error type = %T, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusConflict {
		t.Errorf("StatusCode = %d, want 409", apiErr.StatusCode)
	}
}
