package rules

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func validRule() *Rule {
	return &Rule{
		ID:         "pii-deny",
		Type:       TypeDataGovernance,
		Enabled:    true,
		Priority:   950,
		RiskWeight: 45,
		Conditions: []Condition{
			{Field: "actionCategory", Operator: OperatorEquals, Value: "pii_access"},
		},
		Actions: []Action{{Type: ActionDeny, Message: "PII access denied"}},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(r *Rule)
		wantField string
	}{
		{name: "valid rule"},
		{name: "missing id", mutate: func(r *Rule) { r.ID = "" }, wantField: "id"},
		{name: "unknown type", mutate: func(r *Rule) { r.Type = "weird" }, wantField: "type"},
		{name: "priority too high", mutate: func(r *Rule) { r.Priority = 1001 }, wantField: "priority"},
		{name: "negative priority", mutate: func(r *Rule) { r.Priority = -1 }, wantField: "priority"},
		{name: "risk weight too high", mutate: func(r *Rule) { r.RiskWeight = 101 }, wantField: "risk_weight"},
		{name: "bad logic", mutate: func(r *Rule) { r.ConditionLogic = "xor" }, wantField: "condition_logic"},
		{
			name:      "unknown operator",
			mutate:    func(r *Rule) { r.Conditions[0].Operator = "like" },
			wantField: "conditions[0].operator",
		},
		{
			name: "in requires array",
			mutate: func(r *Rule) {
				r.Conditions[0].Operator = OperatorIn
				r.Conditions[0].Value = "prod"
			},
			wantField: "conditions[0].value",
		},
		{
			name: "bad regex",
			mutate: func(r *Rule) {
				r.Conditions[0].Operator = OperatorMatchRegex
				r.Conditions[0].Value = "([a-z"
			},
			wantField: "conditions[0].value",
		},
		{
			name: "custom without evaluator",
			mutate: func(r *Rule) {
				r.Conditions[0].Operator = OperatorCustom
			},
			wantField: "conditions[0].custom_evaluator",
		},
		{
			name:      "unknown action",
			mutate:    func(r *Rule) { r.Actions[0].Type = "explode" },
			wantField: "actions[0].type",
		},
		{
			name:      "self dependency",
			mutate:    func(r *Rule) { r.DependsOn = []string{"pii-deny"} },
			wantField: "depends_on[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := validRule()
			if tt.mutate != nil {
				tt.mutate(rule)
			}
			err := Validate(rule)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidRule) {
				t.Fatalf("Validate() error = %v, want ErrInvalidRule", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error type = %T, want *ValidationError", err)
			}
			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("Validate() errors = %v, want field %q", verr.Errors, tt.wantField)
			}
		})
	}
}

func TestValidateSet_DuplicateID(t *testing.T) {
	err := ValidateSet([]*Rule{validRule(), validRule()})
	if err == nil || !strings.Contains(err.Error(), "duplicate rule id") {
		t.Fatalf("ValidateSet() error = %v, want duplicate id error", err)
	}
}

func TestLint(t *testing.T) {
	rule := validRule()
	rule.Conditions = nil
	rule.Deprecated = true
	rule.DeprecatedMessage = "use pii-deny-v2"
	rule.ReplacedBy = "pii-deny-v2"
	rule.MinVersion = "2.1.0"
	rule.DependsOn = []string{"a", "a"}

	warnings := Lint(rule, "2.0.9")
	joined := strings.Join(warnings, "\n")
	for _, want := range []string{"no conditions", "deprecated: use pii-deny-v2", "replaced by", "requires engine version 2.1.0", "more than once"} {
		if !strings.Contains(joined, want) {
			t.Errorf("Lint() warnings missing %q:\n%s", want, joined)
		}
	}

	if got := Lint(validRule(), "1.0.0"); len(got) != 0 {
		t.Errorf("Lint() on clean rule = %v, want none", got)
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.2", "1.10", -1},
		{"v2.0.1", "2.0.0", 1},
		{"1.0.0-beta", "1.0.0", 0},
		{"1", "1.0.1", -1},
	}
	for _, tt := range tests {
		if got := CompareVersions(tt.a, tt.b); got != tt.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestRule_EnabledDefaultsToTrue(t *testing.T) {
	var fromYAML Rule
	if err := yaml.Unmarshal([]byte("id: a\ntype: security\n"), &fromYAML); err != nil {
		t.Fatalf("yaml.Unmarshal() error = %v", err)
	}
	if !fromYAML.Enabled {
		t.Error("YAML rule without enabled field should default to enabled")
	}

	var disabled Rule
	if err := yaml.Unmarshal([]byte("id: a\nenabled: false\n"), &disabled); err != nil {
		t.Fatalf("yaml.Unmarshal() error = %v", err)
	}
	if disabled.Enabled {
		t.Error("explicit enabled: false should be honored")
	}

	var fromJSON Rule
	if err := json.Unmarshal([]byte(`{"id":"a"}`), &fromJSON); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if !fromJSON.Enabled {
		t.Error("JSON rule without enabled field should default to enabled")
	}
}

func TestRule_CloneIsDeep(t *testing.T) {
	rule := validRule()
	rule.Conditions = append(rule.Conditions, Condition{
		Field: "environment", Operator: OperatorIn, Value: []interface{}{"prod", "staging"},
	})
	rule.Actions[0].Params = map[string]interface{}{"ticket": "SEC-1"}
	rule.DependsOn = []string{"base"}

	c := rule.Clone()
	c.Conditions[1].Value.([]interface{})[0] = "dev"
	c.Actions[0].Params["ticket"] = "changed"
	c.DependsOn[0] = "other"

	if rule.Conditions[1].Value.([]interface{})[0] != "prod" {
		t.Error("Clone() shares condition values")
	}
	if rule.Actions[0].Params["ticket"] != "SEC-1" {
		t.Error("Clone() shares action params")
	}
	if rule.DependsOn[0] != "base" {
		t.Error("Clone() shares dependencies")
	}
}

func TestRule_IsActive(t *testing.T) {
	rule := validRule()
	rule.Deprecated = true
	if !rule.IsActive(false) {
		t.Error("deprecated rule should be active outside strict mode")
	}
	if rule.IsActive(true) {
		t.Error("deprecated rule should be inactive in strict mode")
	}
	rule.Enabled = false
	if rule.IsActive(false) {
		t.Error("disabled rule should never be active")
	}
}
