package engine

import (
	"sort"

	"mercator-hq/arbiter/pkg/rules"
)

// Estimated condition costs. Cheaper conditions run first so that
// short-circuiting skips the expensive ones.
const (
	costExists     = 1
	costEquals     = 2
	costComparison = 3
	costContains   = 4
	costRegex      = 8
	costCustom     = 10
)

// ConditionCost returns the estimated cost of evaluating a condition.
func ConditionCost(cond rules.Condition) int {
	switch cond.Operator {
	case rules.OperatorExists, rules.OperatorNotExists:
		return costExists
	case rules.OperatorEquals, rules.OperatorNotEquals:
		return costEquals
	case rules.OperatorIn, rules.OperatorNotIn,
		rules.OperatorGreaterThan, rules.OperatorLessThan:
		return costComparison
	case rules.OperatorContains, rules.OperatorNotContains:
		return costContains
	case rules.OperatorMatchRegex:
		return costRegex
	default:
		return costCustom
	}
}

// OrderConditions returns the conditions sorted by ascending cost. Ties keep
// their declared order.
func OrderConditions(conds []rules.Condition) []rules.Condition {
	ordered := append([]rules.Condition(nil), conds...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ConditionCost(ordered[i]) < ConditionCost(ordered[j])
	})
	return ordered
}

// compiledRule is a rule prepared for evaluation: an immutable copy plus its
// conditions in cost order.
type compiledRule struct {
	rule       *rules.Rule
	conditions []rules.Condition
}

func compileRule(rule *rules.Rule) *compiledRule {
	return &compiledRule{rule: rule, conditions: OrderConditions(rule.Conditions)}
}

// Matcher decides whether a rule matches a context.
type Matcher struct {
	evaluator *Evaluator
}

// NewMatcher creates a matcher backed by the given evaluator.
func NewMatcher(evaluator *Evaluator) *Matcher {
	if evaluator == nil {
		evaluator = NewEvaluator(nil)
	}
	return &Matcher{evaluator: evaluator}
}

// Matches reports whether rule matches ctx. A rule without conditions
// always matches. Faults from conditions that could not be evaluated are
// returned alongside the result; those conditions count as false.
func (m *Matcher) Matches(rule *rules.Rule, ctx map[string]interface{}) (bool, []*Fault) {
	if rule == nil {
		return false, nil
	}
	return m.match(compileRule(rule), ctx)
}

func (m *Matcher) match(cr *compiledRule, ctx map[string]interface{}) (bool, []*Fault) {
	if len(cr.conditions) == 0 {
		return true, nil
	}

	var faults []*Fault
	anyOf := cr.rule.Logic() == rules.LogicAny

	for _, cond := range cr.conditions {
		ok, fault := m.evaluator.Evaluate(cond, ctx)
		if fault != nil {
			fault.RuleID = cr.rule.ID
			faults = append(faults, fault)
		}
		if anyOf && ok {
			return true, faults
		}
		if !anyOf && !ok {
			return false, faults
		}
	}

	// all: every condition held; any: none did.
	return !anyOf, faults
}
