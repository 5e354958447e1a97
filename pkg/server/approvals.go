package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"mercator-hq/arbiter/pkg/server/middleware"
)

// ResolveRequest is the body of POST /v1/approvals/{id}/resolve.
type ResolveRequest struct {
	Approved *bool  `json:"approved"`
	Reviewer string `json:"reviewer"`
	Comment  string `json:"comment,omitempty"`
}

func (s *Server) approvalsAvailable(w http.ResponseWriter) bool {
	if s.approvals == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "unavailable", "approval workflow is not configured")
		return false
	}
	return true
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	if !s.approvalsAvailable(w) {
		return
	}
	req, err := s.approvals.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, req)
}

func (s *Server) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	if !s.approvalsAvailable(w) {
		return
	}
	var body ResolveRequest
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.Approved == nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid_request", "approved is required")
		return
	}
	req, err := s.approvals.Resolve(r.Context(), chi.URLParam(r, "id"), *body.Approved, body.Reviewer, body.Comment)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, req)
}
