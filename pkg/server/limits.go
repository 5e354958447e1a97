package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mercator-hq/arbiter/pkg/limits/ratelimit"
	"mercator-hq/arbiter/pkg/server/middleware"
)

// RateLimitsResponse lists rate limit configs.
type RateLimitsResponse struct {
	RateLimits []ratelimit.Config `json:"rate_limits"`
	Count      int                `json:"count"`
}

func (s *Server) handleListRateLimits(w http.ResponseWriter, r *http.Request) {
	list := s.engine.ListRateLimitConfigs()
	middleware.WriteJSON(w, http.StatusOK, RateLimitsResponse{RateLimits: list, Count: len(list)})
}

// handleCreateRateLimit registers a config, replacing one with the same id.
func (s *Server) handleCreateRateLimit(w http.ResponseWriter, r *http.Request) {
	var cfg ratelimit.Config
	if err := decodeJSON(r, &cfg); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.RegisterRateLimitConfig(cfg); err != nil {
		s.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, cfg)
}

func (s *Server) handleDeleteRateLimit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.engine.RemoveRateLimitConfig(id) {
		middleware.WriteError(w, http.StatusNotFound, "not_found", fmt.Sprintf("rate limit not found: %s", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
