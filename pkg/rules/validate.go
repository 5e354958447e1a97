package rules

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// ErrInvalidRule is wrapped by every ValidationError.
var ErrInvalidRule = errors.New("invalid rule")

// FieldError is a single validation failure on a rule field.
type FieldError struct {
	// Field is the dotted path of the offending field (e.g. "conditions[1].operator").
	Field string

	// Message is a human-readable description of the problem.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every configuration error found on one rule.
type ValidationError struct {
	RuleID string
	Errors []FieldError
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("rule %q: %s", e.RuleID, e.Errors[0].Error())
	}
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Error()
	}
	return fmt.Sprintf("rule %q: %d validation errors: %s", e.RuleID, len(e.Errors), strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidRule so callers can use errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidRule
}

// Validate checks a rule for configuration errors.
// It returns nil or a *ValidationError listing every problem found.
func Validate(rule *Rule) error {
	if rule == nil {
		return &ValidationError{Errors: []FieldError{{Field: "rule", Message: "rule cannot be nil"}}}
	}

	var errs []FieldError
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(rule.ID) == "" {
		add("id", "id is required")
	}
	if rule.Type != "" && !IsValidType(rule.Type) {
		add("type", "unknown rule type %q", rule.Type)
	}
	if rule.Priority < MinPriority || rule.Priority > MaxPriority {
		add("priority", "priority %d out of range [%d, %d]", rule.Priority, MinPriority, MaxPriority)
	}
	if rule.RiskWeight < MinRiskWeight || rule.RiskWeight > MaxRiskWeight {
		add("risk_weight", "risk weight %d out of range [%d, %d]", rule.RiskWeight, MinRiskWeight, MaxRiskWeight)
	}
	switch rule.ConditionLogic {
	case "", LogicAll, LogicAny:
	default:
		add("condition_logic", "unknown condition logic %q (expected all or any)", rule.ConditionLogic)
	}

	for i, cond := range rule.Conditions {
		prefix := fmt.Sprintf("conditions[%d]", i)
		if strings.TrimSpace(cond.Field) == "" && cond.Operator != OperatorCustom {
			add(prefix+".field", "field is required")
		}
		if !IsValidOperator(cond.Operator) {
			add(prefix+".operator", "unknown operator %q", cond.Operator)
			continue
		}
		switch cond.Operator {
		case OperatorIn, OperatorNotIn:
			if !isArray(cond.Value) {
				add(prefix+".value", "operator %s requires an array value", cond.Operator)
			}
		case OperatorMatchRegex:
			pattern, ok := cond.Value.(string)
			if !ok {
				add(prefix+".value", "operator %s requires a string pattern", cond.Operator)
			} else if _, err := regexp.Compile(pattern); err != nil {
				add(prefix+".value", "invalid regex pattern %q: %v", pattern, err)
			}
		case OperatorCustom:
			if strings.TrimSpace(cond.CustomEvaluator) == "" {
				add(prefix+".custom_evaluator", "custom operator requires an evaluator name")
			}
		}
	}

	for i, action := range rule.Actions {
		if !IsValidActionType(action.Type) {
			add(fmt.Sprintf("actions[%d].type", i), "unknown action type %q", action.Type)
		}
	}

	for i, dep := range rule.DependsOn {
		if strings.TrimSpace(dep) == "" {
			add(fmt.Sprintf("depends_on[%d]", i), "dependency id cannot be empty")
		} else if dep == rule.ID {
			add(fmt.Sprintf("depends_on[%d]", i), "rule cannot depend on itself")
		}
	}

	if len(errs) > 0 {
		return &ValidationError{RuleID: rule.ID, Errors: errs}
	}
	return nil
}

// ValidateSet validates each rule and checks ID uniqueness across the set.
// Dependency cycles are checked separately by package deps.
func ValidateSet(set []*Rule) error {
	var all []error
	seen := make(map[string]bool, len(set))
	for _, rule := range set {
		if err := Validate(rule); err != nil {
			all = append(all, err)
			continue
		}
		if seen[rule.ID] {
			all = append(all, &ValidationError{
				RuleID: rule.ID,
				Errors: []FieldError{{Field: "id", Message: "duplicate rule id"}},
			})
		}
		seen[rule.ID] = true
	}
	return errors.Join(all...)
}

func isArray(v interface{}) bool {
	if v == nil {
		return false
	}
	kind := reflect.ValueOf(v).Kind()
	return kind == reflect.Slice || kind == reflect.Array
}
