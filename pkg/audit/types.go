package audit

import (
	"context"
	"fmt"
	"slices"
	"time"
)

const (
	// DefaultLimit is used when a query does not set one.
	DefaultLimit = 100

	// MaxLimit caps the records returned by a single query.
	MaxLimit = 10000
)

// Record is the stored form of one policy evaluation.
type Record struct {
	// Identity
	ID           string `json:"id"`            // UUID v4
	EvaluationID string `json:"evaluation_id"` // From the verdict

	// Timestamps
	Timestamp  time.Time `json:"timestamp"`   // When the action was evaluated
	RecordedAt time.Time `json:"recorded_at"` // When the record was written

	// Request
	ActionName     string `json:"action_name"`
	ActionCategory string `json:"action_category,omitempty"`
	AgentID        string `json:"agent_id,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	Environment    string `json:"environment,omitempty"`

	// Outcome
	Status           string            `json:"status"`
	Allowed          bool              `json:"allowed"`
	RiskScore        float64           `json:"risk_score"`
	AppliedRuleIDs   []string          `json:"applied_rule_ids,omitempty"`
	Violations       []ViolationRecord `json:"violations,omitempty"`
	RequiresApproval bool              `json:"requires_approval"`
	Cached           bool              `json:"cached"`
	Faults           []string          `json:"faults,omitempty"`
	Duration         time.Duration     `json:"duration"`
}

// ViolationRecord captures one deny rule that matched.
type ViolationRecord struct {
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Query filters audit records. Zero-valued fields do not filter.
type Query struct {
	// Time range, both inclusive.
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	AgentID    string `json:"agent_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	ActionName string `json:"action_name,omitempty"`
	Status     string `json:"status,omitempty"`
	RuleID     string `json:"rule_id,omitempty"` // Matches AppliedRuleIDs
	Allowed    *bool  `json:"allowed,omitempty"`

	MinRiskScore *float64 `json:"min_risk_score,omitempty"`

	// Pagination
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`

	// SortOrder is "asc" or "desc" by timestamp. Default: desc
	SortOrder string `json:"sort_order,omitempty"`
}

// Validate rejects queries storage backends cannot run.
func (q *Query) Validate() error {
	if q.Limit < 0 {
		return NewQueryError(q, fmt.Errorf("limit must be >= 0, got %d", q.Limit))
	}
	if q.Limit > MaxLimit {
		return NewQueryError(q, fmt.Errorf("limit must be <= %d, got %d", MaxLimit, q.Limit))
	}
	if q.Offset < 0 {
		return NewQueryError(q, fmt.Errorf("offset must be >= 0, got %d", q.Offset))
	}
	if q.SortOrder != "" && q.SortOrder != "asc" && q.SortOrder != "desc" {
		return NewQueryError(q, fmt.Errorf("invalid sort order: %s (must be 'asc' or 'desc')", q.SortOrder))
	}
	if q.StartTime != nil && q.EndTime != nil && q.StartTime.After(*q.EndTime) {
		return NewQueryError(q, fmt.Errorf("start_time must be before end_time"))
	}
	return nil
}

// ApplyDefaults fills in the limit and sort order.
func (q *Query) ApplyDefaults() {
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	if q.SortOrder == "" {
		q.SortOrder = "desc"
	}
}

// Matches reports whether r passes every filter in q. Pagination is ignored.
func (q *Query) Matches(r *Record) bool {
	if q.StartTime != nil && r.Timestamp.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && r.Timestamp.After(*q.EndTime) {
		return false
	}
	if q.AgentID != "" && r.AgentID != q.AgentID {
		return false
	}
	if q.SessionID != "" && r.SessionID != q.SessionID {
		return false
	}
	if q.UserID != "" && r.UserID != q.UserID {
		return false
	}
	if q.ActionName != "" && r.ActionName != q.ActionName {
		return false
	}
	if q.Status != "" && r.Status != q.Status {
		return false
	}
	if q.RuleID != "" && !slices.Contains(r.AppliedRuleIDs, q.RuleID) {
		return false
	}
	if q.Allowed != nil && r.Allowed != *q.Allowed {
		return false
	}
	if q.MinRiskScore != nil && r.RiskScore < *q.MinRiskScore {
		return false
	}
	return true
}

// Storage persists audit records. Implementations must be safe for
// concurrent use.
type Storage interface {
	// Store persists a record.
	Store(ctx context.Context, record *Record) error

	// Query returns matching records, newest first unless the query asks
	// otherwise. An empty slice means nothing matched.
	Query(ctx context.Context, query *Query) ([]*Record, error)

	// Count returns the number of matching records.
	Count(ctx context.Context, query *Query) (int64, error)

	// Delete removes matching records and returns how many were removed.
	Delete(ctx context.Context, query *Query) (int64, error)

	Close() error
}
