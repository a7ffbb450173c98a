package categories

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const defaultQueryLimit = 10

// Handler serves category completions over HTTP.
type Handler struct {
	index         *Index
	defaultRegion string
}

func NewHandler(index *Index, defaultRegion string) *Handler {
	return &Handler{index: index, defaultRegion: defaultRegion}
}

// RegisterRoutes mounts GET /api/categories and GET /api/categories/regions.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/categories", h.HandleQuery)
	r.Get("/api/categories/regions", h.HandleRegions)
}

// HandleQuery answers ?region=US&prefix=pi&limit=5. limit=0 returns every match.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	region := q.Get("region")
	if region == "" {
		region = h.defaultRegion
	}

	limit := defaultQueryLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	matches := h.index.Query(region, q.Get("prefix"))
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	writeJSON(w, matches)
}

func (h *Handler) HandleRegions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.index.Regions())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode categories response")
	}
}
