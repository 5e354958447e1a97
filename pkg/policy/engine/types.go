package engine

import (
	"time"

	"mercator-hq/arbiter/pkg/limits/ratelimit"
	"mercator-hq/arbiter/pkg/policy/risk"
)

// ActionRequest is a proposed agent action submitted for a decision.
type ActionRequest struct {
	// Name is the action identifier (e.g. "file_write").
	Name string `json:"name"`

	// Category groups actions for rate limiting and rules (e.g. "filesystem").
	Category string `json:"category,omitempty"`

	Description string `json:"description,omitempty"`

	// Parameters are the action arguments. Keys are merged into the
	// evaluation context and also reachable as "parameters.<key>".
	Parameters map[string]interface{} `json:"parameters,omitempty"`

	AgentID   string `json:"agent_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// RequestContext is the business context an action is evaluated in.
type RequestContext struct {
	Environment        string                 `json:"environment,omitempty"`
	UserRole           string                 `json:"user_role,omitempty"`
	UserID             string                 `json:"user_id,omitempty"`
	DataClassification string                 `json:"data_classification,omitempty"`
	AgentID            string                 `json:"agent_id,omitempty"`
	SessionID          string                 `json:"session_id,omitempty"`
	CustomAttributes   map[string]interface{} `json:"custom_attributes,omitempty"`
}

// Status is the outcome of an evaluation.
type Status string

const (
	StatusApproved        Status = "approved"
	StatusDenied          Status = "denied"
	StatusPendingApproval Status = "pending_approval"
	StatusRequiresReview  Status = "requires_review"
	StatusRateLimited     Status = "rate_limited"
)

// Violation is a deny produced by a matched rule.
type Violation struct {
	RuleID   string     `json:"rule_id"`
	RuleName string     `json:"rule_name"`
	Message  string     `json:"message"`
	Severity risk.Level `json:"severity"`
}

// RateLimitInfo describes why a request was rate limited.
type RateLimitInfo struct {
	LimitID    string        `json:"limit_id,omitempty"`
	ScopeKey   string        `json:"scope_key,omitempty"`
	Reason     string        `json:"reason"`
	Limit      int64         `json:"limit,omitempty"`
	Count      int64         `json:"count,omitempty"`
	Remaining  int64         `json:"remaining"`
	Reset      time.Time     `json:"reset,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Verdict is the decision returned for one evaluation.
type Verdict struct {
	EvaluationID string     `json:"evaluation_id"`
	Status       Status     `json:"status"`
	RiskScore    float64    `json:"risk_score"`
	RiskLevel    risk.Level `json:"risk_level"`

	// Allowed is true unless the action was denied or rate limited.
	Allowed bool `json:"allowed"`

	Violations []Violation `json:"violations,omitempty"`
	Warnings   []string    `json:"warnings,omitempty"`

	// Notices carries deprecation messages for matched rules. Notices never
	// affect the status.
	Notices []string `json:"notices,omitempty"`

	AppliedRuleIDs []string `json:"applied_rule_ids,omitempty"`

	RequiresApproval bool   `json:"requires_approval"`
	ApprovalReason   string `json:"approval_reason,omitempty"`

	RateLimitInfo *RateLimitInfo `json:"rate_limit_info,omitempty"`

	// Cached is true when the verdict was served from the decision cache.
	Cached bool `json:"cached"`

	EvaluatedAt time.Time     `json:"evaluated_at"`
	Duration    time.Duration `json:"duration"`
}

// Clone returns a deep copy of the verdict.
func (v *Verdict) Clone() *Verdict {
	if v == nil {
		return nil
	}
	c := *v
	if v.Violations != nil {
		c.Violations = append([]Violation(nil), v.Violations...)
	}
	if v.Warnings != nil {
		c.Warnings = append([]string(nil), v.Warnings...)
	}
	if v.Notices != nil {
		c.Notices = append([]string(nil), v.Notices...)
	}
	if v.AppliedRuleIDs != nil {
		c.AppliedRuleIDs = append([]string(nil), v.AppliedRuleIDs...)
	}
	if v.RateLimitInfo != nil {
		info := *v.RateLimitInfo
		c.RateLimitInfo = &info
	}
	return &c
}

func rateLimitInfoFrom(res *ratelimit.CheckResult) *RateLimitInfo {
	return &RateLimitInfo{
		LimitID:    res.LimitID,
		ScopeKey:   res.ScopeKey,
		Reason:     res.Reason,
		Limit:      res.Limit,
		Count:      res.Count,
		Remaining:  res.Remaining,
		Reset:      res.Reset,
		RetryAfter: res.RetryAfter,
	}
}

// DependencyInfo describes one rule's place in the dependency graph of all
// registered rules.
type DependencyInfo struct {
	RuleID string `json:"rule_id"`

	// DependsOn is the rule's declared dependency list.
	DependsOn []string `json:"depends_on"`

	// Dependencies are the declared dependencies that are registered.
	Dependencies []string `json:"dependencies"`

	// Dependents are the rules that directly depend on this rule.
	Dependents []string `json:"dependents"`

	// AffectedByDisable lists every rule that transitively depends on this
	// rule.
	AffectedByDisable []string `json:"affected_by_disable"`

	// Position is the rule's index in the current execution order, or -1
	// when the rule is not active.
	Position int `json:"position"`
}
