package clients

import (
	"context"
	"net/http"
	"net/url"

	"github.com/Fingerliing/payquick-sub007/internal/session"
)

// SessionClient talks to the table-session REST collaborators. Session and
// participant management commands go through the action endpoints here, not
// over the websocket.
type SessionClient struct {
	*BaseClient
}

// NewSessionClient creates a client for baseURL authenticating with token.
func NewSessionClient(baseURL, token string) *SessionClient {
	c := &SessionClient{BaseClient: NewBaseClient(baseURL)}
	if token != "" {
		c.SetHeader("Authorization", "Bearer "+token)
	}
	return c
}

// CreateSessionRequest starts a new table session.
type CreateSessionRequest struct {
	RestaurantID string `json:"restaurant_id"`
	TableNumber  string `json:"table_number"`
	GuestName    string `json:"guest_name,omitempty"`
	GuestPhone   string `json:"guest_phone,omitempty"`
}

// JoinSessionRequest joins an existing session by share code.
type JoinSessionRequest struct {
	ShareCode  string `json:"share_code"`
	GuestName  string `json:"guest_name,omitempty"`
	GuestPhone string `json:"guest_phone,omitempty"`
}

// JoinResult is the server's answer to create/join: the session state plus
// the participant id assigned to this device.
type JoinResult struct {
	Session       *session.Session `json:"session"`
	ParticipantID string           `json:"participant_id"`
}

// CreateSession starts a session for a restaurant table.
func (c *SessionClient) CreateSession(ctx context.Context, req CreateSessionRequest) (*JoinResult, error) {
	var result JoinResult
	if err := c.DoJSON(ctx, http.MethodPost, "/api/sessions/", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// JoinSession joins a session by share code.
func (c *SessionClient) JoinSession(ctx context.Context, req JoinSessionRequest) (*JoinResult, error) {
	var result JoinResult
	if err := c.DoJSON(ctx, http.MethodPost, "/api/sessions/join/", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// LeaveSession withdraws a participant from a session.
func (c *SessionClient) LeaveSession(ctx context.Context, sessionID, participantID string) error {
	body := map[string]string{"participant_id": participantID}
	return c.DoJSON(ctx, http.MethodPost, "/api/sessions/"+sessionID+"/leave/", body, nil)
}

// SessionAction performs a session management action: lock, unlock or
// complete.
func (c *SessionClient) SessionAction(ctx context.Context, sessionID, action string) error {
	body := map[string]string{"action": action}
	return c.DoJSON(ctx, http.MethodPost, "/api/sessions/"+sessionID+"/action/", body, nil)
}

// ParticipantAction performs a participant management action: approve,
// reject, remove or make_host.
func (c *SessionClient) ParticipantAction(ctx context.Context, participantID, action string) error {
	body := map[string]string{"action": action}
	return c.DoJSON(ctx, http.MethodPost, "/api/participants/"+participantID+"/action/", body, nil)
}

// CheckActiveSession returns the active session for a restaurant table, or
// nil when the table is free.
func (c *SessionClient) CheckActiveSession(ctx context.Context, restaurantID, tableNumber string) (*session.Session, error) {
	q := url.Values{}
	q.Set("restaurant", restaurantID)
	q.Set("table", tableNumber)

	var result struct {
		Session *session.Session `json:"session"`
	}
	err := c.DoJSON(ctx, http.MethodGet, "/api/sessions/active/?"+q.Encode(), nil, &result)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result.Session, nil
}
