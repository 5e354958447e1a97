package rules

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// RuleType classifies a rule by the business concern it governs.
type RuleType string

const (
	TypeCompliance     RuleType = "compliance"
	TypeSecurity       RuleType = "security"
	TypeOperational    RuleType = "operational"
	TypeFinancial      RuleType = "financial"
	TypeUX             RuleType = "ux"
	TypeArchitecture   RuleType = "architecture"
	TypeDataGovernance RuleType = "data_governance"
	TypeRateLimit      RuleType = "rate_limit"
	TypeCustom         RuleType = "custom"
)

// Operator is a condition comparison operator.
type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "not_equals"
	OperatorContains    Operator = "contains"
	OperatorNotContains Operator = "not_contains"
	OperatorGreaterThan Operator = "greater_than"
	OperatorLessThan    Operator = "less_than"
	OperatorIn          Operator = "in"
	OperatorNotIn       Operator = "not_in"
	OperatorMatchRegex  Operator = "matches_regex"
	OperatorExists      Operator = "exists"
	OperatorNotExists   Operator = "not_exists"
	OperatorCustom      Operator = "custom"
)

// ConditionLogic determines how a rule combines its conditions.
type ConditionLogic string

const (
	// LogicAll requires every condition to match (AND).
	LogicAll ConditionLogic = "all"

	// LogicAny requires at least one condition to match (OR).
	LogicAny ConditionLogic = "any"
)

// ActionType is the kind of effect a matched rule has on the verdict.
type ActionType string

const (
	ActionAllow           ActionType = "allow"
	ActionDeny            ActionType = "deny"
	ActionRequireApproval ActionType = "require_approval"
	ActionWarn            ActionType = "warn"
	ActionLog             ActionType = "log"
	ActionRateLimit       ActionType = "rate_limit"
	ActionTransform       ActionType = "transform"
	ActionEscalate        ActionType = "escalate"
	ActionNotify          ActionType = "notify"
)

// Bounds for numeric rule attributes.
const (
	MinPriority   = 0
	MaxPriority   = 1000
	MinRiskWeight = 0
	MaxRiskWeight = 100
)

// Condition is a single field test against the evaluation context.
type Condition struct {
	// Field is a dot path into the flattened evaluation context
	// (e.g. "actionCategory", "parameters.amount").
	Field string `yaml:"field" json:"field"`

	// Operator is the comparison to perform.
	Operator Operator `yaml:"operator" json:"operator"`

	// Value is the expected value. Its shape depends on the operator:
	// an array for in/not_in, a pattern string for matches_regex.
	Value interface{} `yaml:"value,omitempty" json:"value,omitempty"`

	// CustomEvaluator names a registered predicate for the custom operator.
	CustomEvaluator string `yaml:"custom_evaluator,omitempty" json:"custom_evaluator,omitempty"`
}

// Action is an effect applied when a rule matches.
type Action struct {
	Type    ActionType             `yaml:"type" json:"type"`
	Message string                 `yaml:"message,omitempty" json:"message,omitempty"`
	Params  map[string]interface{} `yaml:"params,omitempty" json:"params,omitempty"`
}

// Rule is a declarative policy unit.
type Rule struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name,omitempty" json:"name,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Type        RuleType `yaml:"type" json:"type"`

	// Enabled defaults to true when omitted from a YAML or JSON document.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Priority ranges from 0 to 1000. Higher priority rules weigh more in the
	// risk score and run earlier when dependency order leaves a tie.
	Priority int `yaml:"priority" json:"priority"`

	Conditions     []Condition    `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	ConditionLogic ConditionLogic `yaml:"condition_logic,omitempty" json:"condition_logic,omitempty"`
	Actions        []Action       `yaml:"actions,omitempty" json:"actions,omitempty"`

	// RiskWeight ranges from 0 to 100 and only counts when the rule matches.
	RiskWeight int `yaml:"risk_weight" json:"risk_weight"`

	// DependsOn lists rule IDs that are evaluated before this rule.
	// Dependencies affect ordering only; they never gate evaluation.
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`

	Deprecated        bool   `yaml:"deprecated,omitempty" json:"deprecated,omitempty"`
	DeprecatedMessage string `yaml:"deprecated_message,omitempty" json:"deprecated_message,omitempty"`
	ReplacedBy        string `yaml:"replaced_by,omitempty" json:"replaced_by,omitempty"`
	MinVersion        string `yaml:"min_version,omitempty" json:"min_version,omitempty"`
}

// UnmarshalYAML decodes a rule, defaulting Enabled to true.
func (r *Rule) UnmarshalYAML(value *yaml.Node) error {
	type plain Rule
	p := plain{Enabled: true}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*r = Rule(p)
	return nil
}

// UnmarshalJSON decodes a rule, defaulting Enabled to true.
func (r *Rule) UnmarshalJSON(data []byte) error {
	type plain Rule
	p := plain{Enabled: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Rule(p)
	return nil
}

// DisplayName returns the rule name, falling back to its ID.
func (r *Rule) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// Logic returns the effective condition logic (all when unset).
func (r *Rule) Logic() ConditionLogic {
	if r.ConditionLogic == "" {
		return LogicAll
	}
	return r.ConditionLogic
}

// HasConditions returns true if the rule has at least one condition.
func (r *Rule) HasConditions() bool {
	return len(r.Conditions) > 0
}

// HasActionType returns true if the rule has at least one action of the given type.
func (r *Rule) HasActionType(actionType ActionType) bool {
	for _, action := range r.Actions {
		if action.Type == actionType {
			return true
		}
	}
	return false
}

// UsesOperator returns true if any condition uses the given operator.
func (r *Rule) UsesOperator(op Operator) bool {
	for _, cond := range r.Conditions {
		if cond.Operator == op {
			return true
		}
	}
	return false
}

// IsActive reports whether the rule takes part in evaluation.
// In strict mode deprecated rules are excluded.
func (r *Rule) IsActive(strict bool) bool {
	if !r.Enabled {
		return false
	}
	return !(strict && r.Deprecated)
}

// Clone returns a deep copy of the rule.
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	c := *r
	if r.Conditions != nil {
		c.Conditions = make([]Condition, len(r.Conditions))
		for i, cond := range r.Conditions {
			cond.Value = cloneValue(cond.Value)
			c.Conditions[i] = cond
		}
	}
	if r.Actions != nil {
		c.Actions = make([]Action, len(r.Actions))
		for i, action := range r.Actions {
			if action.Params != nil {
				action.Params = cloneValue(action.Params).(map[string]interface{})
			}
			c.Actions[i] = action
		}
	}
	if r.DependsOn != nil {
		c.DependsOn = append([]string(nil), r.DependsOn...)
	}
	return &c
}

// cloneValue deep-copies the container types produced by YAML and JSON decoding.
func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}

// IsValidType reports whether t is one of the closed set of rule types.
func IsValidType(t RuleType) bool {
	switch t {
	case TypeCompliance, TypeSecurity, TypeOperational, TypeFinancial, TypeUX,
		TypeArchitecture, TypeDataGovernance, TypeRateLimit, TypeCustom:
		return true
	}
	return false
}

// IsValidOperator reports whether op is a known condition operator.
func IsValidOperator(op Operator) bool {
	switch op {
	case OperatorEquals, OperatorNotEquals, OperatorContains, OperatorNotContains,
		OperatorGreaterThan, OperatorLessThan, OperatorIn, OperatorNotIn,
		OperatorMatchRegex, OperatorExists, OperatorNotExists, OperatorCustom:
		return true
	}
	return false
}

// IsValidActionType reports whether t is a known action type.
func IsValidActionType(t ActionType) bool {
	switch t {
	case ActionAllow, ActionDeny, ActionRequireApproval, ActionWarn, ActionLog,
		ActionRateLimit, ActionTransform, ActionEscalate, ActionNotify:
		return true
	}
	return false
}
