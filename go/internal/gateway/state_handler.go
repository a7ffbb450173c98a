package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mcdev12/tablematch/go/internal/lobby"
	"github.com/mcdev12/tablematch/go/internal/models"
	"github.com/rs/zerolog/log"
)

// StateProvider reads lobby state for the REST endpoints
type StateProvider interface {
	GetLobby(ctx context.Context, lobbyID string) (*models.Lobby, error)
	RankedCandidates(ctx context.Context, lobbyID string) ([]models.RankedVenue, error)
}

// ResultsResponse is the body of GET /api/lobbies/{id}/results
type ResultsResponse struct {
	LobbyID    string               `json:"lobby_id"`
	Phase      models.Phase         `json:"phase"`
	Candidates []models.RankedVenue `json:"candidates"`
}

// StateHandler serves lobby snapshots over plain HTTP
type StateHandler struct {
	stateProvider StateProvider
}

// NewStateHandler creates a new state handler
func NewStateHandler(stateProvider StateProvider) *StateHandler {
	return &StateHandler{stateProvider: stateProvider}
}

// HandleGetLobbyState handles GET /api/lobbies/{id}/state
func (h *StateHandler) HandleGetLobbyState(w http.ResponseWriter, r *http.Request) {
	lobbyID := chi.URLParam(r, "id")
	l, err := h.stateProvider.GetLobby(r.Context(), lobbyID)
	if err != nil {
		writeLookupError(w, lobbyID, err)
		return
	}
	writeJSON(w, l)
}

// HandleGetResults handles GET /api/lobbies/{id}/results
func (h *StateHandler) HandleGetResults(w http.ResponseWriter, r *http.Request) {
	lobbyID := chi.URLParam(r, "id")
	l, err := h.stateProvider.GetLobby(r.Context(), lobbyID)
	if err != nil {
		writeLookupError(w, lobbyID, err)
		return
	}
	if l.Phase != models.PhaseResults {
		http.Error(w, "lobby has no results yet", http.StatusConflict)
		return
	}
	ranked, err := h.stateProvider.RankedCandidates(r.Context(), lobbyID)
	if err != nil {
		writeLookupError(w, lobbyID, err)
		return
	}
	writeJSON(w, ResultsResponse{LobbyID: lobbyID, Phase: l.Phase, Candidates: ranked})
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(r chi.Router) {
	r.Get("/api/lobbies/{id}/state", h.HandleGetLobbyState)
	r.Get("/api/lobbies/{id}/results", h.HandleGetResults)
}

func writeLookupError(w http.ResponseWriter, lobbyID string, err error) {
	if errors.Is(err, lobby.ErrLobbyNotFound) {
		http.Error(w, "lobby not found", http.StatusNotFound)
		return
	}
	log.Error().Err(err).Str("lobby_id", lobbyID).Msg("failed to read lobby state")
	http.Error(w, "failed to read lobby state", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
