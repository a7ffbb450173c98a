package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for lobby connections
type WebSocketHandler struct {
	connectionManager *ConnectionManager
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
	}
}

// HandleLobbyConnection upgrades a browser connection for one session in one lobby
func (h *WebSocketHandler) HandleLobbyConnection(w http.ResponseWriter, r *http.Request) {
	lobbyID := r.URL.Query().Get("lobby_id")
	if lobbyID == "" {
		http.Error(w, "lobby_id is required", http.StatusBadRequest)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	// The upgrader has already replied on failure.
	if err := h.connectionManager.UpgradeConnection(w, r, sessionID, lobbyID); err != nil {
		log.Error().
			Err(err).
			Str("lobby_id", lobbyID).
			Str("session_id", sessionID).
			Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.GetConnectionStats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/lobby", h.HandleLobbyConnection)
	r.Get("/ws/stats", h.HandleConnectionStats)
}
