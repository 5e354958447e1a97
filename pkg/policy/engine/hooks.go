package engine

import (
	"context"
	"time"
)

// AuditSink receives one event per evaluation. Implementations must not
// block; the engine calls Record on the evaluation path.
type AuditSink interface {
	Record(ctx context.Context, event *AuditEvent)
}

// RateLimitNotifier is told about every request rejected by the rate
// limiter. Implementations must not block.
type RateLimitNotifier interface {
	NotifyRateLimitHit(ctx context.Context, event *RateLimitEvent)
}

// Observer receives evaluation measurements, typically for metrics.
type Observer interface {
	ObserveEvaluation(status Status, cached bool, duration time.Duration)
	ObserveRuleMatch(ruleID string)
	ObserveCacheLookup(hit bool)
	ObserveCacheSize(entries int)
	ObserveRateLimitHit(limitID string)
	ObserveFault(kind FaultKind)
}

// AuditEvent describes one completed evaluation.
type AuditEvent struct {
	EvaluationID     string        `json:"evaluation_id"`
	Timestamp        time.Time     `json:"timestamp"`
	ActionName       string        `json:"action_name"`
	ActionCategory   string        `json:"action_category,omitempty"`
	AgentID          string        `json:"agent_id,omitempty"`
	SessionID        string        `json:"session_id,omitempty"`
	UserID           string        `json:"user_id,omitempty"`
	Environment      string        `json:"environment,omitempty"`
	Status           Status        `json:"status"`
	Allowed          bool          `json:"allowed"`
	RiskScore        float64       `json:"risk_score"`
	AppliedRuleIDs   []string      `json:"applied_rule_ids,omitempty"`
	Violations       []Violation   `json:"violations,omitempty"`
	RequiresApproval bool          `json:"requires_approval"`
	Cached           bool          `json:"cached"`
	Faults           []string      `json:"faults,omitempty"`
	Duration         time.Duration `json:"duration"`
}

// RateLimitEvent describes a rate limiter rejection.
type RateLimitEvent struct {
	EvaluationID   string        `json:"evaluation_id"`
	Timestamp      time.Time     `json:"timestamp"`
	LimitID        string        `json:"limit_id"`
	ScopeKey       string        `json:"scope_key"`
	ActionName     string        `json:"action_name"`
	ActionCategory string        `json:"action_category,omitempty"`
	AgentID        string        `json:"agent_id,omitempty"`
	Count          int64         `json:"count"`
	Limit          int64         `json:"limit"`
	RetryAfter     time.Duration `json:"retry_after"`
}

func newAuditEvent(v *Verdict, action *ActionRequest, reqCtx *RequestContext, faults []*Fault) *AuditEvent {
	ev := &AuditEvent{
		EvaluationID:     v.EvaluationID,
		Timestamp:        v.EvaluatedAt,
		ActionName:       action.Name,
		ActionCategory:   action.Category,
		AgentID:          agentID(action, reqCtx),
		SessionID:        sessionID(action, reqCtx),
		UserID:           reqCtx.UserID,
		Environment:      reqCtx.Environment,
		Status:           v.Status,
		Allowed:          v.Allowed,
		RiskScore:        v.RiskScore,
		AppliedRuleIDs:   append([]string(nil), v.AppliedRuleIDs...),
		Violations:       append([]Violation(nil), v.Violations...),
		RequiresApproval: v.RequiresApproval,
		Cached:           v.Cached,
		Duration:         v.Duration,
	}
	for _, f := range faults {
		ev.Faults = append(ev.Faults, f.Error())
	}
	return ev
}

// nopObserver discards every measurement.
type nopObserver struct{}

func (nopObserver) ObserveEvaluation(Status, bool, time.Duration) {}
func (nopObserver) ObserveRuleMatch(string)                       {}
func (nopObserver) ObserveCacheLookup(bool)                       {}
func (nopObserver) ObserveCacheSize(int)                          {}
func (nopObserver) ObserveRateLimitHit(string)                    {}
func (nopObserver) ObserveFault(FaultKind)                        {}
