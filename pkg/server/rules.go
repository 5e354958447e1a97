package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"mercator-hq/arbiter/pkg/policy/deps"
	"mercator-hq/arbiter/pkg/policy/engine"
	"mercator-hq/arbiter/pkg/rules"
	"mercator-hq/arbiter/pkg/server/middleware"
)

// RulesResponse lists rules.
type RulesResponse struct {
	Rules []*rules.Rule `json:"rules"`
	Count int           `json:"count"`
}

// OrderResponse is the active execution order.
type OrderResponse struct {
	Order           []string `json:"order"`
	DependencyAware bool     `json:"dependency_aware"`
}

// DependencyReport is the dependency validation result.
type DependencyReport struct {
	Valid bool `json:"valid"`
	deps.Report
}

// OrderingRequest is the body of PUT /v1/dependencies/ordering.
type OrderingRequest struct {
	DependencyAware *bool `json:"dependency_aware"`
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	list := s.engine.ListRules()
	middleware.WriteJSON(w, http.StatusOK, RulesResponse{Rules: list, Count: len(list)})
}

// handleActiveRules lists the rules that take part in evaluation. The
// strict query parameter overrides the engine's strict mode.
func (s *Server) handleActiveRules(w http.ResponseWriter, r *http.Request) {
	strict := s.engine.Config().StrictMode
	if raw := r.URL.Query().Get("strict"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: strict must be a boolean", errBadRequest))
			return
		}
		strict = v
	}
	list := s.engine.ListActiveRules(strict)
	middleware.WriteJSON(w, http.StatusOK, RulesResponse{Rules: list, Count: len(list)})
}

func (s *Server) handleExecutionOrder(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, OrderResponse{
		Order:           s.engine.ExecutionOrder(),
		DependencyAware: s.engine.DependencyAwareOrdering(),
	})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule rules.Rule
	if err := decodeJSON(r, &rule); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.RegisterRule(&rule); err != nil {
		s.writeError(w, r, err)
		return
	}
	created, _ := s.engine.GetRule(rule.ID)
	middleware.WriteJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rule, ok := s.engine.GetRule(id)
	if !ok {
		s.writeError(w, r, fmt.Errorf("%w: %s", engine.ErrRuleNotFound, id))
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rule)
}

// handleUpdateRule replaces a rule. The id in the path wins over the body.
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule rules.Rule
	if err := decodeJSON(r, &rule); err != nil {
		s.writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	if rule.ID != "" && rule.ID != id {
		s.writeError(w, r, fmt.Errorf("%w: body id %q does not match path id %q", errBadRequest, rule.ID, id))
		return
	}
	rule.ID = id
	if err := s.engine.UpdateRule(&rule); err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, _ := s.engine.GetRule(id)
	middleware.WriteJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.engine.UnregisterRule(id) {
		s.writeError(w, r, fmt.Errorf("%w: %s", engine.ErrRuleNotFound, id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetRuleEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := s.engine.SetRuleEnabled(id, enabled); err != nil {
			s.writeError(w, r, err)
			return
		}
		rule, _ := s.engine.GetRule(id)
		middleware.WriteJSON(w, http.StatusOK, rule)
	}
}

func (s *Server) handleRuleDependencies(w http.ResponseWriter, r *http.Request) {
	info, err := s.engine.DependencyInfo(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, info)
}

// handleValidateDependencies reports the dependency graph's health. An
// invalid graph is still a 200; validity is in the body.
func (s *Server) handleValidateDependencies(w http.ResponseWriter, r *http.Request) {
	report := s.engine.ValidateDependencies()
	middleware.WriteJSON(w, http.StatusOK, DependencyReport{Valid: report.Valid(), Report: report})
}

func (s *Server) handleSetOrdering(w http.ResponseWriter, r *http.Request) {
	var req OrderingRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.DependencyAware == nil {
		s.writeError(w, r, fmt.Errorf("%w: dependency_aware is required", errBadRequest))
		return
	}
	s.engine.SetDependencyAwareOrdering(*req.DependencyAware)
	s.handleExecutionOrder(w, r)
}
