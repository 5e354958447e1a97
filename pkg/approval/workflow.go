package approval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mercator-hq/arbiter/pkg/policy/engine"
)

// Config configures a Workflow.
type Config struct {
	// Timeout is how long a request stays open. Default: 24 hours
	Timeout time.Duration `yaml:"timeout"`

	// Retention is how long a request is kept after its deadline so its
	// outcome can still be read. Default: 7 days
	Retention time.Duration `yaml:"retention"`
}

// Workflow tracks approval requests raised by pending verdicts.
type Workflow struct {
	store  Store
	config Config
	logger *slog.Logger
	now    func() time.Time
}

// NewWorkflow creates a workflow over store. A nil logger uses slog.Default.
func NewWorkflow(store Store, config Config, logger *slog.Logger) *Workflow {
	if config.Timeout <= 0 {
		config.Timeout = 24 * time.Hour
	}
	if config.Retention <= 0 {
		config.Retention = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{
		store:  store,
		config: config,
		logger: logger.With("component", "approval"),
		now:    time.Now,
	}
}

// Submit opens a request and returns its id. The id, status and timestamps
// are assigned here.
func (w *Workflow) Submit(ctx context.Context, req Request) (string, error) {
	if req.ActionName == "" {
		return "", fmt.Errorf("%w: action name is required", ErrInvalidRequest)
	}

	now := w.now().UTC()
	r := req.Clone()
	r.ID = uuid.New().String()
	r.Status = StatusPending
	r.CreatedAt = now
	r.ExpiresAt = now.Add(w.config.Timeout)
	r.Reviewer, r.Comment, r.ResolvedAt = "", "", nil

	if err := w.store.Create(ctx, r, w.config.Timeout+w.config.Retention); err != nil {
		return "", err
	}

	w.logger.Info("approval requested",
		"approval_id", r.ID,
		"evaluation_id", r.EvaluationID,
		"action", r.ActionName,
		"agent_id", r.AgentID,
		"reason", r.Reason)
	return r.ID, nil
}

// Get returns the request. A pending request past its deadline is reported
// as expired.
func (w *Workflow) Get(ctx context.Context, id string) (*Request, error) {
	r, err := w.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	r.Status = r.effectiveStatus(w.now())
	return r, nil
}

// Resolve records a reviewer's decision on a pending request.
func (w *Workflow) Resolve(ctx context.Context, id string, approved bool, reviewer, comment string) (*Request, error) {
	if reviewer == "" {
		return nil, fmt.Errorf("%w: reviewer is required", ErrInvalidRequest)
	}

	now := w.now().UTC()
	r, err := w.store.Update(ctx, id, func(r *Request) error {
		switch r.effectiveStatus(now) {
		case StatusPending:
		case StatusExpired:
			return ErrExpired
		default:
			return ErrAlreadyResolved
		}
		r.Status = StatusRejected
		if approved {
			r.Status = StatusApproved
		}
		r.Reviewer = reviewer
		r.Comment = comment
		r.ResolvedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.logger.Info("approval resolved",
		"approval_id", id,
		"status", r.Status,
		"reviewer", reviewer)
	return r, nil
}

// RequestFromVerdict builds the request for a verdict that requires approval.
func RequestFromVerdict(v *engine.Verdict, action *engine.ActionRequest, reqCtx *engine.RequestContext) Request {
	req := Request{
		EvaluationID: v.EvaluationID,
		Reason:       v.ApprovalReason,
		RiskScore:    v.RiskScore,
		RuleIDs:      append([]string(nil), v.AppliedRuleIDs...),
	}
	if action != nil {
		req.ActionName = action.Name
		req.ActionCategory = action.Category
		req.Parameters = action.Parameters
	}
	if reqCtx != nil {
		req.UserID = reqCtx.UserID
	}
	req.AgentID, req.SessionID = engine.Subject(action, reqCtx)
	return req
}
