package server

import (
	"fmt"
	"net/http"
	"time"

	"mercator-hq/arbiter/pkg/policy/engine"
	"mercator-hq/arbiter/pkg/server/middleware"
)

// CacheResponse reports decision cache statistics.
type CacheResponse struct {
	Enabled bool `json:"enabled"`
	engine.CacheStats
	HitRate float64 `json:"hit_rate"`
	TTLText string  `json:"ttl_text"`
}

// CacheTTLRequest is the body of PUT /v1/cache/ttl. TTL is a Go duration
// string such as "45s".
type CacheTTLRequest struct {
	TTL string `json:"ttl"`
}

func (s *Server) cacheResponse() CacheResponse {
	stats := s.engine.CacheStats()
	return CacheResponse{
		Enabled:    s.engine.Config().CacheEnabled,
		CacheStats: stats,
		HitRate:    stats.HitRate(),
		TTLText:    stats.TTL.String(),
	}
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, s.cacheResponse())
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	s.engine.ClearCache()
	w.WriteHeader(http.StatusNoContent)
}

// handleSetCacheTTL changes the TTL and reports the effective value, which
// may be clamped.
func (s *Server) handleSetCacheTTL(w http.ResponseWriter, r *http.Request) {
	var req CacheTTLRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ttl, err := time.ParseDuration(req.TTL)
	if err != nil || ttl <= 0 {
		s.writeError(w, r, fmt.Errorf("%w: ttl must be a positive duration such as \"30s\"", errBadRequest))
		return
	}
	if !s.engine.Config().CacheEnabled {
		middleware.WriteError(w, http.StatusConflict, "conflict", "decision cache is disabled")
		return
	}
	s.engine.SetCacheTTL(ttl)
	middleware.WriteJSON(w, http.StatusOK, s.cacheResponse())
}
