package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Fingerliing/payquick-sub007/internal/cart"
	"github.com/Fingerliing/payquick-sub007/internal/gateway"
	"github.com/Fingerliing/payquick-sub007/internal/session"
	"github.com/Fingerliing/payquick-sub007/internal/store"
)

// SessionStore is the persistence surface the REST API needs.
type SessionStore interface {
	CreateSession(ctx context.Context, req store.CreateSessionRequest) (*session.Session, error)
	FindActiveSession(ctx context.Context, restaurantID, tableID string) (*session.Session, error)
	JoinSession(ctx context.Context, shareCode, displayName string) (*session.Session, string, error)
	SessionAction(ctx context.Context, sessionID, actorID, action string) error
	ParticipantAction(ctx context.Context, participantID, actorID, action string) error
	LeaveSession(ctx context.Context, sessionID, participantID string) error
	AddItem(ctx context.Context, req store.AddItemRequest) (*cart.Item, error)
	UpdateItemQuantity(ctx context.Context, sessionID, itemID, participantID string, quantity int) error
	RemoveItem(ctx context.Context, sessionID, itemID, participantID string) error
}

// Handler serves the session REST API.
type Handler struct {
	store    SessionStore
	tokens   *gateway.TokenVerifier
	tokenTTL time.Duration
}

// NewHandler creates the REST handler. Tokens minted on create/join expire
// after tokenTTL.
func NewHandler(store SessionStore, tokens *gateway.TokenVerifier, tokenTTL time.Duration) *Handler {
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}
	return &Handler{store: store, tokens: tokens, tokenTTL: tokenTTL}
}

// Register mounts the REST routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions/{$}", h.createSession)
	mux.HandleFunc("POST /api/sessions/join/{$}", h.joinSession)
	mux.HandleFunc("GET /api/sessions/active/{$}", h.activeSession)
	mux.HandleFunc("POST /api/sessions/{sessionID}/leave/{$}", h.leaveSession)
	mux.HandleFunc("POST /api/sessions/{sessionID}/action/{$}", h.sessionAction)
	mux.HandleFunc("POST /api/participants/{participantID}/action/{$}", h.participantAction)
	mux.HandleFunc("POST /api/sessions/{sessionID}/items/{$}", h.addItem)
	mux.HandleFunc("PATCH /api/sessions/{sessionID}/items/{itemID}/{$}", h.updateItem)
	mux.HandleFunc("DELETE /api/sessions/{sessionID}/items/{itemID}/{$}", h.removeItem)
}

type joinResponse struct {
	Session       *session.Session `json:"session"`
	ParticipantID string           `json:"participant_id"`
	Token         string           `json:"token"`
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RestaurantID string `json:"restaurant_id"`
		TableNumber  string `json:"table_number"`
		GuestName    string `json:"guest_name"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.RestaurantID == "" || req.TableNumber == "" {
		writeError(w, http.StatusBadRequest, errors.New("restaurant_id and table_number are required"))
		return
	}
	if req.GuestName == "" {
		req.GuestName = "Guest"
	}

	hostID := newID()
	sess, err := h.store.CreateSession(r.Context(), store.CreateSessionRequest{
		RestaurantID: req.RestaurantID,
		TableID:      req.TableNumber,
		ShareCode:    newShareCode(),
		HostID:       hostID,
		HostName:     req.GuestName,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}

	h.writeJoinResponse(w, http.StatusCreated, sess, hostID)
}

func (h *Handler) joinSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ShareCode string `json:"share_code"`
		GuestName string `json:"guest_name"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ShareCode == "" {
		writeError(w, http.StatusBadRequest, errors.New("share_code is required"))
		return
	}
	if req.GuestName == "" {
		req.GuestName = "Guest"
	}

	sess, participantID, err := h.store.JoinSession(r.Context(), strings.ToUpper(req.ShareCode), req.GuestName)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	h.writeJoinResponse(w, http.StatusOK, sess, participantID)
}

func (h *Handler) writeJoinResponse(w http.ResponseWriter, status int, sess *session.Session, participantID string) {
	token, err := h.tokens.Sign(participantID, h.tokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, status, joinResponse{
		Session:       sess,
		ParticipantID: participantID,
		Token:         token,
	})
}

func (h *Handler) activeSession(w http.ResponseWriter, r *http.Request) {
	restaurantID := r.URL.Query().Get("restaurant")
	tableID := r.URL.Query().Get("table")
	if restaurantID == "" || tableID == "" {
		writeError(w, http.StatusBadRequest, errors.New("restaurant and table are required"))
		return
	}

	sess, err := h.store.FindActiveSession(r.Context(), restaurantID, tableID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, errors.New("no active session for table"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

func (h *Handler) leaveSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if err := h.store.LeaveSession(r.Context(), r.PathValue("sessionID"), actor); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) sessionAction(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var req struct {
		Action string `json:"action"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.store.SessionAction(r.Context(), r.PathValue("sessionID"), actor, req.Action); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) participantAction(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var req struct {
		Action string `json:"action"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.store.ParticipantAction(r.Context(), r.PathValue("participantID"), actor, req.Action); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var item cart.Item
	if err := decodeBody(r, &item); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	created, err := h.store.AddItem(r.Context(), store.AddItemRequest{
		SessionID:     r.PathValue("sessionID"),
		ParticipantID: actor,
		MenuItemID:    item.MenuItemID,
		Name:          item.Name,
		Quantity:      item.Quantity,
		Note:          item.Note,
		UnitPrice:     item.UnitPrice,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := h.store.UpdateItemQuantity(r.Context(), r.PathValue("sessionID"), r.PathValue("itemID"), actor, req.Quantity)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	err := h.store.RemoveItem(r.Context(), r.PathValue("sessionID"), r.PathValue("itemID"), actor)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// authenticate resolves the acting participant from the bearer token.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
		return "", false
	}
	claims, err := h.tokens.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, errors.New("invalid token"))
		return "", false
	}
	return claims.UserID, true
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeStoreError maps store errors to HTTP status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrSessionNotFound),
		errors.Is(err, store.ErrParticipantNotFound),
		errors.Is(err, store.ErrItemNotFound),
		errors.Is(err, store.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrNotHost),
		errors.Is(err, store.ErrNotItemOwner):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, store.ErrSessionArchived),
		errors.Is(err, store.ErrSessionLocked),
		errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrShareCodeTaken):
		writeError(w, http.StatusConflict, err)
	default:
		log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

func newID() string {
	return uuid.New().String()
}

// newShareCode returns a short join code guests can type from the table
// display.
func newShareCode() string {
	return newRandomString("ABCDEFGHJKLMNPQRSTUVWXYZ23456789", 6)
}

func newRandomString(alphabet string, n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(buf)
}
