package engine

import (
	"errors"
	"fmt"

	"mercator-hq/arbiter/pkg/limits/ratelimit"
	"mercator-hq/arbiter/pkg/policy/deps"
	"mercator-hq/arbiter/pkg/rules"
)

// Common sentinel errors
var (
	// ErrRuleNotFound indicates no rule with the given ID is registered.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrDuplicateRule indicates a rule with the same ID is already registered.
	ErrDuplicateRule = errors.New("duplicate rule id")

	// ErrInvalidRule indicates a rule failed validation. The concrete error
	// is a *rules.ValidationError.
	ErrInvalidRule = rules.ErrInvalidRule

	// ErrDependencyCycle indicates a mutation would create a cycle among
	// enabled rules. The concrete error is a *deps.CycleError.
	ErrDependencyCycle = deps.ErrDependencyCycle

	// ErrInvalidRateLimit indicates a rate limit config failed validation.
	ErrInvalidRateLimit = ratelimit.ErrInvalidConfig

	// ErrInvalidConfig indicates invalid engine configuration.
	ErrInvalidConfig = errors.New("invalid engine configuration")
)

// FaultKind classifies an evaluation-time fault.
type FaultKind string

const (
	// FaultRegex is a matches_regex pattern that failed to compile.
	FaultRegex FaultKind = "regex"

	// FaultCustom is a custom evaluator that is missing, returned an error
	// or panicked.
	FaultCustom FaultKind = "custom"
)

// Fault records a condition that could not be evaluated. The condition is
// treated as false and evaluation continues; faults are logged and handed
// to the audit sink, never returned to the caller as errors.
type Fault struct {
	Kind      FaultKind      `json:"kind"`
	RuleID    string         `json:"rule_id,omitempty"`
	Field     string         `json:"field,omitempty"`
	Operator  rules.Operator `json:"operator"`
	Evaluator string         `json:"evaluator,omitempty"`
	Cause     error          `json:"-"`
}

// Error returns the error message.
func (f *Fault) Error() string {
	subject := f.Field
	if f.Evaluator != "" {
		subject = f.Evaluator
	}
	if f.RuleID != "" {
		return fmt.Sprintf("rule %s: %s condition on %q failed: %v", f.RuleID, f.Operator, subject, f.Cause)
	}
	return fmt.Sprintf("%s condition on %q failed: %v", f.Operator, subject, f.Cause)
}

// Unwrap returns the underlying cause.
func (f *Fault) Unwrap() error {
	return f.Cause
}
