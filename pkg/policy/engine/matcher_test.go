package engine

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"mercator-hq/arbiter/pkg/rules"
)

func TestOrderConditions(t *testing.T) {
	conds := []rules.Condition{
		{Field: "a", Operator: rules.OperatorCustom, CustomEvaluator: "x"},
		{Field: "b", Operator: rules.OperatorMatchRegex, Value: "."},
		{Field: "c", Operator: rules.OperatorContains, Value: "x"},
		{Field: "d", Operator: rules.OperatorIn, Value: []interface{}{"x"}},
		{Field: "e", Operator: rules.OperatorEquals, Value: "x"},
		{Field: "f", Operator: rules.OperatorExists},
		{Field: "g", Operator: rules.OperatorGreaterThan, Value: 1},
		{Field: "h", Operator: rules.OperatorNotEquals, Value: "x"},
	}

	var got []string
	for _, c := range OrderConditions(conds) {
		got = append(got, c.Field)
	}
	want := []string{"f", "e", "h", "d", "g", "c", "b", "a"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("OrderConditions() mismatch (-want +got):\n%s", diff)
	}

	if conds[0].Field != "a" {
		t.Error("OrderConditions() modified its input")
	}
}

func TestMatcher_Logic(t *testing.T) {
	ctx := testContext()
	match := rules.Condition{Field: "environment", Operator: rules.OperatorEquals, Value: "production"}
	miss := rules.Condition{Field: "environment", Operator: rules.OperatorEquals, Value: "staging"}

	tests := []struct {
		name  string
		logic rules.ConditionLogic
		conds []rules.Condition
		want  bool
	}{
		{"no conditions", rules.LogicAll, nil, true},
		{"all match", rules.LogicAll, []rules.Condition{match, match}, true},
		{"all one miss", rules.LogicAll, []rules.Condition{match, miss}, false},
		{"default logic is all", "", []rules.Condition{match, miss}, false},
		{"any one match", rules.LogicAny, []rules.Condition{miss, match}, true},
		{"any none", rules.LogicAny, []rules.Condition{miss, miss}, false},
	}

	m := NewMatcher(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := &rules.Rule{ID: "r", ConditionLogic: tt.logic, Conditions: tt.conds}
			got, faults := m.Matches(rule, ctx)
			if len(faults) != 0 {
				t.Fatalf("faults = %v", faults)
			}
			if got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatcher_ShortCircuitsExpensiveConditions(t *testing.T) {
	calls := 0
	reg := NewCustomRegistry()
	reg.Register("counted", func(rules.Condition, map[string]interface{}) (bool, error) {
		calls++
		return true, nil
	})
	m := NewMatcher(NewEvaluator(reg))

	rule := &rules.Rule{
		ID: "r",
		Conditions: []rules.Condition{
			{Operator: rules.OperatorCustom, CustomEvaluator: "counted"},
			{Field: "environment", Operator: rules.OperatorEquals, Value: "staging"},
		},
	}
	if ok, _ := m.Matches(rule, testContext()); ok {
		t.Fatal("rule matched")
	}
	if calls != 0 {
		t.Errorf("custom evaluator called %d times, want 0", calls)
	}
}

func TestMatcher_FaultsCarryRuleID(t *testing.T) {
	m := NewMatcher(nil)
	rule := &rules.Rule{
		ID:             "needs-custom",
		ConditionLogic: rules.LogicAny,
		Conditions: []rules.Condition{
			{Operator: rules.OperatorCustom, CustomEvaluator: "absent"},
			{Field: "environment", Operator: rules.OperatorEquals, Value: "staging"},
		},
	}
	ok, faults := m.Matches(rule, testContext())
	if ok {
		t.Error("rule matched")
	}
	if len(faults) != 1 || faults[0].RuleID != "needs-custom" {
		t.Fatalf("faults = %v", faults)
	}
}

// naiveMatch evaluates conditions in declared order without short-circuiting.
func naiveMatch(ev *Evaluator, rule *rules.Rule, ctx map[string]interface{}) bool {
	if len(rule.Conditions) == 0 {
		return true
	}
	results := make([]bool, len(rule.Conditions))
	for i, c := range rule.Conditions {
		results[i], _ = ev.Evaluate(c, ctx)
	}
	if rule.Logic() == rules.LogicAny {
		for _, r := range results {
			if r {
				return true
			}
		}
		return false
	}
	for _, r := range results {
		if !r {
			return false
		}
	}
	return true
}

func TestMatcher_OrderingPreservesResult(t *testing.T) {
	pool := []rules.Condition{
		{Field: "environment", Operator: rules.OperatorEquals, Value: "production"},
		{Field: "environment", Operator: rules.OperatorEquals, Value: "staging"},
		{Field: "path", Operator: rules.OperatorMatchRegex, Value: "^/etc"},
		{Field: "path", Operator: rules.OperatorMatchRegex, Value: "^/tmp"},
		{Field: "tags", Operator: rules.OperatorContains, Value: "pii"},
		{Field: "size", Operator: rules.OperatorGreaterThan, Value: 5000},
		{Field: "region", Operator: rules.OperatorExists},
		{Field: "nope", Operator: rules.OperatorExists},
		{Field: "userRole", Operator: rules.OperatorIn, Value: []interface{}{"admin"}},
	}

	ev := NewEvaluator(nil)
	m := NewMatcher(ev)
	ctx := testContext()
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		n := rng.Intn(5)
		conds := make([]rules.Condition, n)
		for j := range conds {
			conds[j] = pool[rng.Intn(len(pool))]
		}
		logic := rules.LogicAll
		if rng.Intn(2) == 0 {
			logic = rules.LogicAny
		}
		rule := &rules.Rule{ID: "r", ConditionLogic: logic, Conditions: conds}

		got, _ := m.Matches(rule, ctx)
		if want := naiveMatch(ev, rule, ctx); got != want {
			t.Fatalf("Matches(%v %+v) = %v, naive = %v", logic, conds, got, want)
		}
	}
}
