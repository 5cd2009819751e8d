package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/mcdev12/typingblocks/go/internal/typing/realtime"
	"github.com/rs/zerolog/log"
)

// TokenVerifier defines what the gateway needs from the token issuer
type TokenVerifier interface {
	Verify(token string) (*realtime.Claims, error)
}

// WebSocketHandler handles WebSocket upgrade requests for room channels
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	verifier          TokenVerifier
}

func NewWebSocketHandler(cm *ConnectionManager, verifier TokenVerifier) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		verifier:          verifier,
	}
}

// HandleRealtime authenticates the token and upgrades the connection.
// Browsers pass the token as access_token; other clients may use a bearer
// header.
func (h *WebSocketHandler) HandleRealtime(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("access_token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		http.Error(w, "access_token is required", http.StatusUnauthorized)
		return
	}

	claims, err := h.verifier.Verify(token)
	if err != nil {
		log.Debug().Err(err).Msg("rejected realtime token")
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	if _, ok := roomOf(claims.Capability); !ok {
		http.Error(w, "token grants no room channel", http.StatusUnauthorized)
		return
	}

	if err := h.connectionManager.UpgradeConnection(w, r, claims); err != nil {
		log.Error().
			Err(err).
			Str("client_id", claims.ClientID).
			Msg("failed to upgrade WebSocket connection")
		// The upgrader has already replied when the handshake itself failed.
		return
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.GetConnectionStats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers WebSocket routes on r
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/realtime", h.HandleRealtime)
	r.Get("/ws/stats", h.HandleConnectionStats)
}
