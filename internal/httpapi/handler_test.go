package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Fingerliing/payquick-sub007/internal/cart"
	"github.com/Fingerliing/payquick-sub007/internal/gateway"
	"github.com/Fingerliing/payquick-sub007/internal/session"
	"github.com/Fingerliing/payquick-sub007/internal/store"
)

type fakeStore struct {
	sessions map[string]*session.Session
	calls    []string
	fail     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*session.Session)}
}

func (f *fakeStore) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeStore) CreateSession(ctx context.Context, req store.CreateSessionRequest) (*session.Session, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	sess := &session.Session{
		ID:        "s1",
		Status:    session.StatusActive,
		ShareCode: req.ShareCode,
		HostID:    req.HostID,
		Participants: []session.Participant{
			{ID: req.HostID, DisplayName: req.HostName, IsHost: true, Status: session.ParticipantActive},
		},
	}
	f.sessions[sess.ID] = sess
	return sess, nil
}

func (f *fakeStore) GetSession(ctx context.Context, id string) (*session.Session, error) {
	sess, ok := f.sessions[id]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	return sess, nil
}

func (f *fakeStore) FindActiveSession(ctx context.Context, restaurantID, tableID string) (*session.Session, error) {
	return f.sessions["s1"], nil
}

func (f *fakeStore) JoinSession(ctx context.Context, shareCode, displayName string) (*session.Session, string, error) {
	if f.fail != nil {
		return nil, "", f.fail
	}
	f.record("join:%s:%s", shareCode, displayName)
	return f.sessions["s1"], "p2", nil
}

func (f *fakeStore) SessionAction(ctx context.Context, sessionID, actorID, action string) error {
	if f.fail != nil {
		return f.fail
	}
	f.record("session:%s:%s:%s", sessionID, actorID, action)
	return nil
}

func (f *fakeStore) ParticipantAction(ctx context.Context, participantID, actorID, action string) error {
	if f.fail != nil {
		return f.fail
	}
	f.record("participant:%s:%s:%s", participantID, actorID, action)
	return nil
}

func (f *fakeStore) LeaveSession(ctx context.Context, sessionID, participantID string) error {
	f.record("leave:%s:%s", sessionID, participantID)
	return nil
}

func (f *fakeStore) AddItem(ctx context.Context, req store.AddItemRequest) (*cart.Item, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.record("add:%s:%s:%d", req.SessionID, req.ParticipantID, req.Quantity)
	return &cart.Item{ID: "i1", ParticipantID: req.ParticipantID, Quantity: req.Quantity}, nil
}

func (f *fakeStore) UpdateItemQuantity(ctx context.Context, sessionID, itemID, participantID string, quantity int) error {
	if f.fail != nil {
		return f.fail
	}
	f.record("update:%s:%s:%d", itemID, participantID, quantity)
	return nil
}

func (f *fakeStore) RemoveItem(ctx context.Context, sessionID, itemID, participantID string) error {
	if f.fail != nil {
		return f.fail
	}
	f.record("remove:%s:%s", itemID, participantID)
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeStore, *gateway.TokenVerifier) {
	t.Helper()
	fs := newFakeStore()
	tokens := gateway.NewTokenVerifier("test-secret")
	handler := NewHandler(fs, tokens, time.Hour)
	mux := http.NewServeMux()
	handler.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, fs, tokens
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestCreateSessionMintsHostToken(t *testing.T) {
	srv, _, tokens := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/sessions/", "", map[string]string{
		"restaurant_id": "r1",
		"table_number":  "12",
		"guest_name":    "Alice",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var result struct {
		Session       *session.Session `json:"session"`
		ParticipantID string           `json:"participant_id"`
		Token         string           `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Session == nil || result.Session.HostID != result.ParticipantID {
		t.Fatalf("expected caller to be host, got %+v", result)
	}

	claims, err := tokens.Verify(result.Token)
	if err != nil {
		t.Fatalf("minted token does not verify: %v", err)
	}
	if claims.UserID != result.ParticipantID {
		t.Errorf("token subject %q != participant %q", claims.UserID, result.ParticipantID)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/sessions/", "", map[string]string{
		"restaurant_id": "r1",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestJoinSessionUppercasesShareCode(t *testing.T) {
	srv, fs, _ := newTestServer(t)
	fs.sessions["s1"] = &session.Session{ID: "s1", Status: session.StatusActive}

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/sessions/join/", "", map[string]string{
		"share_code": "abc123",
		"guest_name": "Bob",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(fs.calls) != 1 || fs.calls[0] != "join:ABC123:Bob" {
		t.Fatalf("unexpected store calls %v", fs.calls)
	}
}

func TestActionEndpointsRequireAuth(t *testing.T) {
	srv, fs, _ := newTestServer(t)

	endpoints := []struct {
		method, path string
	}{
		{http.MethodPost, "/api/sessions/s1/action/"},
		{http.MethodPost, "/api/sessions/s1/leave/"},
		{http.MethodPost, "/api/participants/p1/action/"},
		{http.MethodPost, "/api/sessions/s1/items/"},
		{http.MethodPatch, "/api/sessions/s1/items/i1/"},
		{http.MethodDelete, "/api/sessions/s1/items/i1/"},
	}
	for _, ep := range endpoints {
		resp := doJSON(t, ep.method, srv.URL+ep.path, "", map[string]string{"action": "lock"})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", ep.method, ep.path, resp.StatusCode)
		}
	}
	if len(fs.calls) != 0 {
		t.Errorf("unauthenticated requests reached the store: %v", fs.calls)
	}
}

func TestSessionActionUsesTokenIdentity(t *testing.T) {
	srv, fs, tokens := newTestServer(t)
	token, _ := tokens.Sign("alice", time.Hour)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/sessions/s1/action/", token, map[string]string{"action": "lock"})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if len(fs.calls) != 1 || fs.calls[0] != "session:s1:alice:lock" {
		t.Fatalf("unexpected store calls %v", fs.calls)
	}
}

func TestStoreErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not host", store.ErrNotHost, http.StatusForbidden},
		{"not owner", store.ErrNotItemOwner, http.StatusForbidden},
		{"archived", store.ErrSessionArchived, http.StatusConflict},
		{"locked", store.ErrSessionLocked, http.StatusConflict},
		{"missing", store.ErrSessionNotFound, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, fs, tokens := newTestServer(t)
			fs.fail = tt.err
			token, _ := tokens.Sign("bob", time.Hour)

			resp := doJSON(t, http.MethodPost, srv.URL+"/api/sessions/s1/action/", token, map[string]string{"action": "lock"})
			if resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestAddItemUsesTokenParticipant(t *testing.T) {
	srv, fs, tokens := newTestServer(t)
	token, _ := tokens.Sign("bob", time.Hour)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/sessions/s1/items/", token, cart.Item{
		MenuItemID: "m1",
		Name:       "Burger",
		Quantity:   2,
		UnitPrice:  9.5,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if len(fs.calls) != 1 || fs.calls[0] != "add:s1:bob:2" {
		t.Fatalf("unexpected store calls %v", fs.calls)
	}
}
