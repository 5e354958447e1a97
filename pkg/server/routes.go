package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"mercator-hq/arbiter/pkg/server/middleware"
	"mercator-hq/arbiter/pkg/telemetry/health"
	"mercator-hq/arbiter/pkg/telemetry/metrics"
)

func (s *Server) setupRoutes() http.Handler {
	var httpMetrics *metrics.HTTPMetrics
	if s.opts.Metrics != nil {
		httpMetrics = s.opts.Metrics.HTTP()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recovery(s.logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(s.tracer))
	r.Use(middleware.Logging(s.logger))
	r.Use(middleware.Metrics(httpMetrics))
	r.Use(middleware.BodyLimit(s.config.MaxBodyBytes))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "not_found", "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" not allowed on "+r.URL.Path)
	})

	r.Get("/health", s.health.Handler())
	r.Get("/health/live", s.health.LivenessHandler())
	r.Get("/version", health.VersionHandler(s.opts.Version, s.opts.Commit, s.opts.BuildTime))
	if s.opts.Metrics != nil {
		r.Handle(s.opts.MetricsPath, s.opts.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(s.apiKeys, s.logger))
		r.Use(middleware.InFlight(s.gate, httpMetrics))

		r.Post("/evaluate", s.handleEvaluate)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)
			r.Get("/active", s.handleActiveRules)
			r.Get("/order", s.handleExecutionOrder)
			r.Get("/{id}", s.handleGetRule)
			r.Put("/{id}", s.handleUpdateRule)
			r.Delete("/{id}", s.handleDeleteRule)
			r.Post("/{id}/enable", s.handleSetRuleEnabled(true))
			r.Post("/{id}/disable", s.handleSetRuleEnabled(false))
			r.Get("/{id}/dependencies", s.handleRuleDependencies)
		})

		r.Get("/dependencies/validate", s.handleValidateDependencies)
		r.Put("/dependencies/ordering", s.handleSetOrdering)

		r.Route("/rate-limits", func(r chi.Router) {
			r.Get("/", s.handleListRateLimits)
			r.Post("/", s.handleCreateRateLimit)
			r.Delete("/{id}", s.handleDeleteRateLimit)
		})

		r.Route("/cache", func(r chi.Router) {
			r.Get("/", s.handleCacheStats)
			r.Delete("/", s.handleClearCache)
			r.Put("/ttl", s.handleSetCacheTTL)
		})

		r.Route("/approvals", func(r chi.Router) {
			r.Get("/{id}", s.handleGetApproval)
			r.Post("/{id}/resolve", s.handleResolveApproval)
		})
	})

	return r
}
