package server

import (
	"fmt"
	"net/http"
	"strconv"

	"mercator-hq/arbiter/pkg/approval"
	"mercator-hq/arbiter/pkg/policy/engine"
	"mercator-hq/arbiter/pkg/server/middleware"
	"mercator-hq/arbiter/pkg/telemetry/logging"
	"mercator-hq/arbiter/pkg/telemetry/tracing"
)

// EvaluateRequest is the body of POST /v1/evaluate.
type EvaluateRequest struct {
	Action  *engine.ActionRequest  `json:"action"`
	Context *engine.RequestContext `json:"context,omitempty"`
}

// EvaluateResponse is the verdict plus the approval request opened for it,
// if any.
type EvaluateResponse struct {
	*engine.Verdict
	ApprovalID string `json:"approval_id,omitempty"`
}

// handleEvaluate runs one evaluation. Every verdict, including denials and
// rate limiting, is a 200; the outcome is in the body. Rate-limited
// verdicts also carry X-RateLimit-* and Retry-After headers.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Action == nil || req.Action.Name == "" {
		s.writeError(w, r, fmt.Errorf("%w: action.name is required", errBadRequest))
		return
	}

	ctx := r.Context()
	agentID, sessionID := engine.Subject(req.Action, req.Context)
	ctx = logging.WithAgent(ctx, agentID, sessionID)

	ctx, span := s.tracer.Start(ctx, "arbiter.evaluate")
	defer span.End()
	tracing.SetActionAttributes(span, req.Action, req.Context)

	verdict := s.engine.Evaluate(ctx, req.Action, req.Context)
	tracing.SetVerdictAttributes(span, verdict)

	resp := EvaluateResponse{Verdict: verdict}
	if verdict.RequiresApproval && s.approvals != nil {
		id, err := s.approvals.Submit(ctx, approval.RequestFromVerdict(verdict, req.Action, req.Context))
		if err != nil {
			// The verdict stands; the caller can still hold the action.
			logging.FromContext(ctx, s.logger).Warn("failed to open approval request",
				"evaluation_id", verdict.EvaluationID, "error", err)
			tracing.SetError(span, err)
		} else {
			resp.ApprovalID = id
		}
	}

	if info := verdict.RateLimitInfo; info != nil {
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.FormatInt(info.Limit, 10))
		h.Set("X-RateLimit-Remaining", strconv.FormatInt(info.Remaining, 10))
		if !info.Reset.IsZero() {
			h.Set("X-RateLimit-Reset", strconv.FormatInt(info.Reset.Unix(), 10))
		}
		if info.RetryAfter > 0 {
			secs := int64(info.RetryAfter.Seconds())
			if secs < 1 {
				secs = 1
			}
			h.Set("Retry-After", strconv.FormatInt(secs, 10))
		}
	}

	middleware.WriteJSON(w, http.StatusOK, resp)
}
