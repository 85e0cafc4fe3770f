package gateway

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// Handler serves the websocket endpoints.
type Handler struct {
	manager *ConnectionManager
	tokens  *TokenVerifier
}

// NewHandler creates a websocket HTTP handler.
func NewHandler(manager *ConnectionManager, tokens *TokenVerifier) *Handler {
	return &Handler{manager: manager, tokens: tokens}
}

// Register mounts the websocket routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/session/{sessionID}/{$}", h.handleSession)
	mux.HandleFunc("GET /ws/orders/{$}", h.handleOrders)
}

// handleSession serves GET /ws/session/{sessionID}/?token=...
func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	claims, err := h.tokens.Verify(r.URL.Query().Get("token"))
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("rejected session channel connection")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	if err := h.manager.UpgradeSessionConnection(w, r, claims.UserID, sessionID); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to upgrade session connection")
	}
}

// handleOrders serves GET /ws/orders/?token=...&orders=id1,id2
func (h *Handler) handleOrders(w http.ResponseWriter, r *http.Request) {
	claims, err := h.tokens.Verify(r.URL.Query().Get("token"))
	if err != nil {
		log.Warn().Err(err).Msg("rejected order-status connection")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	var orderIDs []string
	if raw := r.URL.Query().Get("orders"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				orderIDs = append(orderIDs, id)
			}
		}
	}
	if len(orderIDs) == 0 {
		http.Error(w, "no orders requested", http.StatusBadRequest)
		return
	}

	if err := h.manager.UpgradeOrdersConnection(w, r, claims.UserID, orderIDs); err != nil {
		log.Error().Err(err).Msg("failed to upgrade order-status connection")
	}
}
