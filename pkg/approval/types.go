package approval

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for unknown or expired-and-evicted requests.
	ErrNotFound = errors.New("approval request not found")

	// ErrAlreadyResolved is returned when resolving a request twice.
	ErrAlreadyResolved = errors.New("approval request already resolved")

	// ErrExpired is returned when resolving a request past its deadline.
	ErrExpired = errors.New("approval request expired")

	// ErrInvalidRequest is returned by Submit for malformed requests.
	ErrInvalidRequest = errors.New("invalid approval request")
)

// Status is the lifecycle state of an approval request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Request is an action waiting on a human decision.
type Request struct {
	ID           string `json:"id"`
	EvaluationID string `json:"evaluation_id"`

	ActionName     string                 `json:"action_name"`
	ActionCategory string                 `json:"action_category,omitempty"`
	Parameters     map[string]interface{} `json:"parameters,omitempty"`
	AgentID        string                 `json:"agent_id,omitempty"`
	SessionID      string                 `json:"session_id,omitempty"`
	UserID         string                 `json:"user_id,omitempty"`

	Reason    string   `json:"reason"`
	RiskScore float64  `json:"risk_score"`
	RuleIDs   []string `json:"rule_ids,omitempty"`

	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	Reviewer   string     `json:"reviewer,omitempty"`
	Comment    string     `json:"comment,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Clone returns a copy that shares no slices or maps with r.
func (r *Request) Clone() *Request {
	cp := *r
	cp.RuleIDs = append([]string(nil), r.RuleIDs...)
	if r.Parameters != nil {
		cp.Parameters = make(map[string]interface{}, len(r.Parameters))
		for k, v := range r.Parameters {
			cp.Parameters[k] = v
		}
	}
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

// effectiveStatus reports expired for a pending request past its deadline.
func (r *Request) effectiveStatus(now time.Time) Status {
	if r.Status == StatusPending && !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt) {
		return StatusExpired
	}
	return r.Status
}
