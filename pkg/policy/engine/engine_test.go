package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"mercator-hq/arbiter/pkg/limits/ratelimit"
	"mercator-hq/arbiter/pkg/policy/risk"
	"mercator-hq/arbiter/pkg/rules"
)

// recorder collects everything the engine reports to its collaborators.
type recorder struct {
	mu         sync.Mutex
	events     []*AuditEvent
	limitHits  []*RateLimitEvent
	ruleHits   map[string]int
	cacheHits  int
	evaluated  []Status
	faultKinds []FaultKind
}

func newRecorder() *recorder {
	return &recorder{ruleHits: make(map[string]int)}
}

func (r *recorder) Record(_ context.Context, ev *AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) NotifyRateLimitHit(_ context.Context, ev *RateLimitEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limitHits = append(r.limitHits, ev)
}

func (r *recorder) ObserveEvaluation(status Status, _ bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluated = append(r.evaluated, status)
}

func (r *recorder) ObserveRuleMatch(ruleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ruleHits[ruleID]++
}

func (r *recorder) ObserveCacheLookup(hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hit {
		r.cacheHits++
	}
}

func (r *recorder) ObserveCacheSize(int) {}

func (r *recorder) ObserveRateLimitHit(string) {}

func (r *recorder) ObserveFault(kind FaultKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faultKinds = append(r.faultKinds, kind)
}

func newTestEngine(t *testing.T, cfg *EngineConfig) (*Engine, *recorder) {
	t.Helper()
	rec := newRecorder()
	e, err := New(cfg, Options{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Audit:    rec,
		Notifier: rec,
		Observer: rec,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e, rec
}

func mustRegister(t *testing.T, e *Engine, rs ...*rules.Rule) {
	t.Helper()
	for _, r := range rs {
		if err := e.RegisterRule(r); err != nil {
			t.Fatalf("RegisterRule(%s) error = %v", r.ID, err)
		}
	}
}

func piiRule() *rules.Rule {
	return &rules.Rule{
		ID:             "block-pii",
		Name:           "Block PII access",
		Type:           rules.TypeCompliance,
		Enabled:        true,
		Priority:       950,
		RiskWeight:     45,
		ConditionLogic: rules.LogicAll,
		Conditions: []rules.Condition{
			{Field: "actionCategory", Operator: rules.OperatorEquals, Value: "pii_access"},
		},
		Actions: []rules.Action{{Type: rules.ActionDeny}},
	}
}

func rule(id string, priority, weight int, action rules.ActionType, conds ...rules.Condition) *rules.Rule {
	return &rules.Rule{
		ID:         id,
		Type:       rules.TypeOperational,
		Enabled:    true,
		Priority:   priority,
		RiskWeight: weight,
		Conditions: conds,
		Actions:    []rules.Action{{Type: action, Message: id + " fired"}},
	}
}

// decision strips the per-call fields from a verdict.
var decision = cmpopts.IgnoreFields(Verdict{}, "EvaluationID", "Cached", "EvaluatedAt", "Duration")

func TestEvaluate_DeniesPIIAccess(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	mustRegister(t, e, piiRule())

	got := e.Evaluate(context.Background(), &ActionRequest{Name: "read-ssn", Category: "pii_access"}, nil)

	want := &Verdict{
		Status:    StatusDenied,
		RiskScore: 45,
		RiskLevel: risk.LevelMedium,
		Allowed:   false,
		Violations: []Violation{{
			RuleID:   "block-pii",
			RuleName: "Block PII access",
			Message:  "denied by rule Block PII access",
			Severity: risk.LevelMedium,
		}},
		AppliedRuleIDs: []string{"block-pii"},
	}
	if diff := cmp.Diff(want, got, decision); diff != "" {
		t.Errorf("Evaluate() mismatch (-want +got):\n%s", diff)
	}
	if got.EvaluationID == "" || got.EvaluatedAt.IsZero() {
		t.Errorf("verdict missing id or timestamp: %+v", got)
	}
}

func TestEvaluate_NonMatchingRuleApproves(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	mustRegister(t, e, piiRule())

	got := e.Evaluate(context.Background(), &ActionRequest{Name: "read-logs", Category: "data_access"}, nil)

	want := &Verdict{Status: StatusApproved, RiskScore: 0, RiskLevel: risk.LevelMinimal, Allowed: true}
	if diff := cmp.Diff(want, got, decision); diff != "" {
		t.Errorf("Evaluate() mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluate_RateLimitShortCircuits(t *testing.T) {
	e, rec := newTestEngine(t, nil)
	mustRegister(t, e, rule("always", 100, 10, rules.ActionAllow))
	if err := e.RegisterRateLimitConfig(ratelimit.Config{
		ID:          "one-per-minute",
		Window:      time.Minute,
		MaxRequests: 1,
		Scope:       ratelimit.ScopeAgent,
		Enabled:     true,
	}); err != nil {
		t.Fatalf("RegisterRateLimitConfig() error = %v", err)
	}

	action := &ActionRequest{Name: "deploy", AgentID: "agent-7"}
	first := e.Evaluate(context.Background(), action, nil)
	if first.Status != StatusApproved {
		t.Fatalf("first Evaluate() status = %s", first.Status)
	}

	second := e.Evaluate(context.Background(), action, nil)
	if second.Status != StatusRateLimited || second.Allowed {
		t.Fatalf("second Evaluate() = %+v, want rate_limited", second)
	}
	if second.RiskScore != 0 || len(second.AppliedRuleIDs) != 0 {
		t.Errorf("rate limited verdict evaluated rules: %+v", second)
	}
	if second.RateLimitInfo == nil || second.RateLimitInfo.LimitID != "one-per-minute" {
		t.Errorf("RateLimitInfo = %+v", second.RateLimitInfo)
	}
	if rec.ruleHits["always"] != 1 {
		t.Errorf("rule matched %d times, want 1", rec.ruleHits["always"])
	}
	if len(rec.limitHits) != 1 || rec.limitHits[0].AgentID != "agent-7" {
		t.Errorf("notifier events = %+v", rec.limitHits)
	}

	other := e.Evaluate(context.Background(), &ActionRequest{Name: "deploy", AgentID: "agent-8"}, nil)
	if other.Status != StatusApproved {
		t.Errorf("other agent status = %s", other.Status)
	}
}

func TestEvaluate_DeniedRequestsAreNotCharged(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	mustRegister(t, e, piiRule())
	e.RegisterRateLimitConfig(ratelimit.Config{
		ID: "global", Window: time.Minute, MaxRequests: 1, Scope: ratelimit.ScopeGlobal, Enabled: true,
	})

	for i := 0; i < 3; i++ {
		v := e.Evaluate(context.Background(), &ActionRequest{Name: "read-ssn", Category: "pii_access"}, nil)
		if v.Status != StatusDenied {
			t.Fatalf("call %d status = %s, want denied", i, v.Status)
		}
	}
	if v := e.Evaluate(context.Background(), &ActionRequest{Name: "ok"}, nil); v.Status != StatusApproved {
		t.Errorf("allowed call status = %s", v.Status)
	}
	if v := e.Evaluate(context.Background(), &ActionRequest{Name: "ok"}, nil); v.Status != StatusRateLimited {
		t.Errorf("second allowed call status = %s, want rate_limited", v.Status)
	}
}

func TestEvaluate_StatusPrecedence(t *testing.T) {
	env := rules.Condition{Field: "environment", Operator: rules.OperatorEquals, Value: "production"}

	tests := []struct {
		name        string
		rules       []*rules.Rule
		wantStatus  Status
		wantAllowed bool
	}{
		{"no rules", nil, StatusApproved, true},
		{"allow only", []*rules.Rule{rule("a", 1, 5, rules.ActionAllow, env)}, StatusApproved, true},
		{"log and notify", []*rules.Rule{rule("l", 1, 5, rules.ActionLog, env), rule("n", 1, 5, rules.ActionNotify, env)}, StatusApproved, true},
		{"warn", []*rules.Rule{rule("w", 1, 5, rules.ActionWarn, env)}, StatusRequiresReview, true},
		{"approval beats warn", []*rules.Rule{
			rule("w", 1, 5, rules.ActionWarn, env),
			rule("p", 1, 5, rules.ActionRequireApproval, env),
		}, StatusPendingApproval, true},
		{"escalate", []*rules.Rule{rule("x", 1, 5, rules.ActionEscalate, env)}, StatusPendingApproval, true},
		{"rate_limit beats approval", []*rules.Rule{
			rule("p", 1, 5, rules.ActionRequireApproval, env),
			rule("r", 1, 5, rules.ActionRateLimit, env),
		}, StatusRateLimited, false},
		{"deny beats everything", []*rules.Rule{
			rule("w", 1, 5, rules.ActionWarn, env),
			rule("p", 1, 5, rules.ActionRequireApproval, env),
			rule("r", 1, 5, rules.ActionRateLimit, env),
			rule("d", 1, 5, rules.ActionDeny, env),
		}, StatusDenied, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(t, nil)
			mustRegister(t, e, tt.rules...)

			v := e.Evaluate(context.Background(), &ActionRequest{Name: "act"}, &RequestContext{Environment: "production"})
			if v.Status != tt.wantStatus || v.Allowed != tt.wantAllowed {
				t.Errorf("status = %s allowed = %v, want %s %v", v.Status, v.Allowed, tt.wantStatus, tt.wantAllowed)
			}
			if v.RequiresApproval != (tt.wantStatus == StatusPendingApproval) {
				t.Errorf("RequiresApproval = %v", v.RequiresApproval)
			}
			if len(v.AppliedRuleIDs) != len(tt.rules) {
				t.Errorf("AppliedRuleIDs = %v", v.AppliedRuleIDs)
			}
		})
	}
}

func TestEvaluate_ApprovalReasonAndWarnings(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	mustRegister(t, e,
		rule("big-transfer", 500, 70, rules.ActionRequireApproval),
		rule("weekend", 100, 20, rules.ActionWarn),
	)

	v := e.Evaluate(context.Background(), &ActionRequest{Name: "transfer"}, nil)
	if v.ApprovalReason != "big-transfer fired" {
		t.Errorf("ApprovalReason = %q", v.ApprovalReason)
	}
	if diff := cmp.Diff([]string{"weekend fired"}, v.Warnings); diff != "" {
		t.Errorf("Warnings mismatch (-want +got):\n%s", diff)
	}
	// (70*6 + 20*2) / 8 = 57.5
	if v.RiskScore != 57.5 || v.RiskLevel != risk.LevelMedium {
		t.Errorf("risk = %v %s, want 57.5 medium", v.RiskScore, v.RiskLevel)
	}
}

func TestEvaluate_CachedVerdictIsIdentical(t *testing.T) {
	e, rec := newTestEngine(t, nil)
	mustRegister(t, e, piiRule(), rule("warn-prod", 10, 30, rules.ActionWarn,
		rules.Condition{Field: "environment", Operator: rules.OperatorEquals, Value: "production"}))

	action := &ActionRequest{Name: "read-ssn", Category: "pii_access", Parameters: map[string]interface{}{"rows": 10}}
	reqCtx := &RequestContext{Environment: "production"}

	first := e.Evaluate(context.Background(), action, reqCtx)
	second := e.Evaluate(context.Background(), action, reqCtx)

	if first.Cached || !second.Cached {
		t.Fatalf("Cached flags = %v, %v", first.Cached, second.Cached)
	}
	if first.EvaluationID == second.EvaluationID {
		t.Error("cached verdict reused the evaluation id")
	}
	if diff := cmp.Diff(first, second, decision); diff != "" {
		t.Errorf("cached verdict differs (-first +second):\n%s", diff)
	}
	if rec.ruleHits["block-pii"] != 1 || rec.ruleHits["warn-prod"] != 1 {
		t.Errorf("rules matched again on cache hit: %v", rec.ruleHits)
	}
	if stats := e.CacheStats(); stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("CacheStats() = %+v", stats)
	}

	// Mutating the returned verdict must not leak into the cache.
	second.Violations[0].Message = "tampered"
	third := e.Evaluate(context.Background(), action, reqCtx)
	if third.Violations[0].Message == "tampered" {
		t.Error("cache shares memory with returned verdicts")
	}
}

func TestEvaluate_FingerprintCoversReferencedFields(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	mustRegister(t, e, rule("admins-only", 10, 50, rules.ActionDeny,
		rules.Condition{Field: "userRole", Operator: rules.OperatorNotEquals, Value: "admin"}))

	action := &ActionRequest{Name: "drop_table"}
	if v := e.Evaluate(context.Background(), action, &RequestContext{UserRole: "admin"}); v.Status != StatusApproved {
		t.Fatalf("admin status = %s", v.Status)
	}
	v := e.Evaluate(context.Background(), action, &RequestContext{UserRole: "intern"})
	if v.Cached || v.Status != StatusDenied {
		t.Errorf("intern verdict = %s cached=%v, want fresh denial", v.Status, v.Cached)
	}
}

func TestEvaluate_MutationInvalidatesCache(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	action := &ActionRequest{Name: "read-ssn", Category: "pii_access"}

	if v := e.Evaluate(context.Background(), action, nil); v.Status != StatusApproved {
		t.Fatalf("status = %s", v.Status)
	}

	mustRegister(t, e, piiRule())
	v := e.Evaluate(context.Background(), action, nil)
	if v.Cached || v.Status != StatusDenied {
		t.Fatalf("after RegisterRule() verdict = %s cached=%v", v.Status, v.Cached)
	}

	if !e.UnregisterRule("block-pii") {
		t.Fatal("UnregisterRule() = false")
	}
	v = e.Evaluate(context.Background(), action, nil)
	if v.Cached || v.Status != StatusApproved {
		t.Fatalf("after UnregisterRule() verdict = %s cached=%v", v.Status, v.Cached)
	}

	if e.UnregisterRule("block-pii") {
		t.Error("second UnregisterRule() = true")
	}
}

func TestEvaluate_FaultIsolation(t *testing.T) {
	e, rec := newTestEngine(t, nil)
	if err := e.RegisterCustomEvaluator("explodes", func(rules.Condition, map[string]interface{}) (bool, error) {
		panic("boom")
	}); err != nil {
		t.Fatalf("RegisterCustomEvaluator() error = %v", err)
	}
	mustRegister(t, e,
		rule("bad", 900, 90, rules.ActionDeny, rules.Condition{Operator: rules.OperatorCustom, CustomEvaluator: "explodes"}),
		rule("good", 10, 20, rules.ActionWarn),
	)

	v := e.Evaluate(context.Background(), &ActionRequest{Name: "x"}, nil)
	if v.Status != StatusRequiresReview {
		t.Errorf("status = %s, want requires_review", v.Status)
	}
	if diff := cmp.Diff([]string{"good"}, v.AppliedRuleIDs); diff != "" {
		t.Errorf("AppliedRuleIDs mismatch (-want +got):\n%s", diff)
	}
	if len(rec.faultKinds) != 1 || rec.faultKinds[0] != FaultCustom {
		t.Errorf("faults = %v", rec.faultKinds)
	}
	if len(rec.events) != 1 || len(rec.events[0].Faults) != 1 {
		t.Errorf("audit events = %+v", rec.events)
	}
}

func TestEvaluate_CustomEvaluatorSeesWholeContext(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	e.RegisterCustomEvaluator("night", func(_ rules.Condition, ctx map[string]interface{}) (bool, error) {
		return ctx["shift"] == "night", nil
	})
	mustRegister(t, e, rule("night-shift", 10, 60, rules.ActionDeny,
		rules.Condition{Operator: rules.OperatorCustom, CustomEvaluator: "night"}))

	action := &ActionRequest{Name: "deploy"}
	day := e.Evaluate(context.Background(), action, &RequestContext{CustomAttributes: map[string]interface{}{"shift": "day"}})
	night := e.Evaluate(context.Background(), action, &RequestContext{CustomAttributes: map[string]interface{}{"shift": "night"}})

	if day.Status != StatusApproved || night.Status != StatusDenied || night.Cached {
		t.Errorf("day = %s, night = %s (cached %v)", day.Status, night.Status, night.Cached)
	}
}

func TestEvaluate_DeprecatedRules(t *testing.T) {
	old := rule("legacy", 10, 30, rules.ActionWarn)
	old.Deprecated = true
	old.ReplacedBy = "modern"

	t.Run("lenient", func(t *testing.T) {
		e, _ := newTestEngine(t, nil)
		mustRegister(t, e, old)
		v := e.Evaluate(context.Background(), &ActionRequest{Name: "x"}, nil)
		want := []string{`rule "legacy" is deprecated (replaced by "modern")`}
		if diff := cmp.Diff(want, v.Notices); diff != "" {
			t.Errorf("Notices mismatch (-want +got):\n%s", diff)
		}
		if v.Status != StatusRequiresReview {
			t.Errorf("status = %s", v.Status)
		}
	})

	t.Run("strict", func(t *testing.T) {
		e, _ := newTestEngine(t, DefaultEngineConfig().WithStrictMode(true))
		mustRegister(t, e, old)
		v := e.Evaluate(context.Background(), &ActionRequest{Name: "x"}, nil)
		if v.Status != StatusApproved || len(v.Notices) != 0 {
			t.Errorf("strict verdict = %+v", v)
		}
		if got := e.ListActiveRules(true); len(got) != 0 {
			t.Errorf("ListActiveRules(true) = %d rules", len(got))
		}
		if got := e.ListActiveRules(false); len(got) != 1 {
			t.Errorf("ListActiveRules(false) = %d rules", len(got))
		}
	})
}

func TestEvaluate_NilInputs(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	mustRegister(t, e, piiRule())
	v := e.Evaluate(context.Background(), nil, nil)
	if v == nil || v.Status != StatusApproved {
		t.Fatalf("Evaluate(nil, nil) = %+v", v)
	}
}

func TestRegisterRule_Errors(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	mustRegister(t, e, piiRule())

	if err := e.RegisterRule(piiRule()); !errors.Is(err, ErrDuplicateRule) {
		t.Errorf("duplicate error = %v", err)
	}

	bad := piiRule()
	bad.ID = "bad"
	bad.Priority = 5000
	err := e.RegisterRule(bad)
	var ve *rules.ValidationError
	if !errors.As(err, &ve) || !errors.Is(err, ErrInvalidRule) {
		t.Errorf("invalid rule error = %v", err)
	}

	if err := e.SetRuleEnabled("missing", true); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("SetRuleEnabled(missing) error = %v", err)
	}
	if _, err := e.DependencyInfo("missing"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("DependencyInfo(missing) error = %v", err)
	}
	if err := e.UpdateRule(rule("missing", 1, 1, rules.ActionAllow)); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("UpdateRule(missing) error = %v", err)
	}
	if err := e.RegisterRateLimitConfig(ratelimit.Config{ID: "x"}); !errors.Is(err, ErrInvalidRateLimit) {
		t.Errorf("invalid rate limit error = %v", err)
	}
}

func TestRegisterRule_RejectsEnabledCycle(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	a := rule("a", 10, 10, rules.ActionAllow)
	a.DependsOn = []string{"b"}
	b := rule("b", 10, 10, rules.ActionAllow)
	b.DependsOn = []string{"a"}

	mustRegister(t, e, a)
	err := e.RegisterRule(b)
	if !errors.Is(err, ErrDependencyCycle) || !IsCycle(err) {
		t.Fatalf("RegisterRule() error = %v, want cycle", err)
	}
	if _, ok := e.GetRule("b"); ok {
		t.Error("rejected rule was registered")
	}

	// A disabled participant is accepted; enabling it is not.
	b.Enabled = false
	mustRegister(t, e, b)
	if err := e.SetRuleEnabled("b", true); !errors.Is(err, ErrDependencyCycle) {
		t.Errorf("SetRuleEnabled() error = %v, want cycle", err)
	}

	report := e.ValidateDependencies()
	if !report.Valid() || len(report.Warnings) == 0 {
		t.Errorf("ValidateDependencies() = %+v, want warnings only", report)
	}
}

func TestReplaceRules_IsAtomic(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	mustRegister(t, e, piiRule())

	bad := rule("bad", 10, 10, rules.ActionAllow)
	bad.RiskWeight = -1
	if err := e.ReplaceRules([]*rules.Rule{rule("new", 1, 1, rules.ActionAllow), bad}); err == nil {
		t.Fatal("ReplaceRules() accepted an invalid rule")
	}
	if _, ok := e.GetRule("block-pii"); !ok {
		t.Error("failed ReplaceRules() changed the rule set")
	}

	x := rule("x", 10, 10, rules.ActionAllow)
	x.DependsOn = []string{"x"}
	if err := e.ReplaceRules([]*rules.Rule{x}); err == nil {
		t.Error("ReplaceRules() accepted a self dependency")
	}

	if err := e.ReplaceRules([]*rules.Rule{rule("new", 1, 1, rules.ActionAllow)}); err != nil {
		t.Fatalf("ReplaceRules() error = %v", err)
	}
	ids := []string{}
	for _, r := range e.ListRules() {
		ids = append(ids, r.ID)
	}
	if diff := cmp.Diff([]string{"new"}, ids); diff != "" {
		t.Errorf("ListRules() mismatch (-want +got):\n%s", diff)
	}
}

func TestExecutionOrder(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	audit := rule("audit", 10, 10, rules.ActionLog)
	audit.DependsOn = []string{"classify"}
	mustRegister(t, e,
		audit,
		rule("classify", 5, 10, rules.ActionAllow),
		rule("gate", 100, 10, rules.ActionAllow),
	)

	if diff := cmp.Diff([]string{"gate", "classify", "audit"}, e.ExecutionOrder()); diff != "" {
		t.Errorf("dependency-aware order mismatch (-want +got):\n%s", diff)
	}

	e.SetDependencyAwareOrdering(false)
	if e.DependencyAwareOrdering() {
		t.Error("DependencyAwareOrdering() = true")
	}
	if diff := cmp.Diff([]string{"gate", "audit", "classify"}, e.ExecutionOrder()); diff != "" {
		t.Errorf("priority order mismatch (-want +got):\n%s", diff)
	}

	info, err := e.DependencyInfo("classify")
	if err != nil {
		t.Fatalf("DependencyInfo() error = %v", err)
	}
	want := &DependencyInfo{
		RuleID:            "classify",
		DependsOn:         []string{},
		Dependencies:      []string{},
		Dependents:        []string{"audit"},
		AffectedByDisable: []string{"audit"},
		Position:          2,
	}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Errorf("DependencyInfo() mismatch (-want +got):\n%s", diff)
	}
}

func TestRateLimitConfigManagement(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	cfg := ratelimit.Config{ID: "g", Window: time.Second, MaxRequests: 5, Scope: ratelimit.ScopeGlobal, Enabled: true}
	if err := e.RegisterRateLimitConfig(cfg); err != nil {
		t.Fatalf("RegisterRateLimitConfig() error = %v", err)
	}
	if got := e.ListRateLimitConfigs(); len(got) != 1 || got[0].ID != "g" {
		t.Errorf("ListRateLimitConfigs() = %+v", got)
	}
	if !e.RemoveRateLimitConfig("g") || e.RemoveRateLimitConfig("g") {
		t.Error("RemoveRateLimitConfig() results wrong")
	}
}

func TestCacheControls(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	action := &ActionRequest{Name: "x"}
	e.Evaluate(context.Background(), action, nil)

	if got := e.CacheStats().Entries; got != 1 {
		t.Fatalf("Entries = %d, want 1", got)
	}
	e.ClearCache()
	if v := e.Evaluate(context.Background(), action, nil); v.Cached {
		t.Error("verdict served from cleared cache")
	}
	if got := e.SetCacheTTL(time.Millisecond); got != time.Second {
		t.Errorf("SetCacheTTL(1ms) = %v", got)
	}
	if got := e.CacheStats().TTL; got != time.Second {
		t.Errorf("TTL = %v", got)
	}

	disabled, _ := newTestEngine(t, DefaultEngineConfig().WithCache(false, 0, 0))
	disabled.Evaluate(context.Background(), action, nil)
	if v := disabled.Evaluate(context.Background(), action, nil); v.Cached {
		t.Error("disabled cache served a verdict")
	}
}

func TestEngine_ConcurrentEvaluateAndMutate(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	action := &ActionRequest{Name: "read-ssn", Category: "pii_access"}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					e.Evaluate(context.Background(), action, nil)
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		r := rule(fmt.Sprintf("r-%d", i), i, 10, rules.ActionWarn)
		if err := e.RegisterRule(r); err != nil {
			t.Errorf("RegisterRule() error = %v", err)
		}
	}
	mustRegister(t, e, piiRule())
	close(stop)
	wg.Wait()

	// No evaluation may have cached a verdict from before the last mutation.
	v := e.Evaluate(context.Background(), action, nil)
	if v.Status != StatusDenied || len(v.AppliedRuleIDs) != 51 {
		t.Errorf("final verdict = %s with %d rules", v.Status, len(v.AppliedRuleIDs))
	}
}

func TestEngine_Reload(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	src := staticSource{
		rules:  []*rules.Rule{piiRule()},
		limits: []ratelimit.Config{{ID: "g", Window: time.Minute, MaxRequests: 10, Scope: ratelimit.ScopeGlobal, Enabled: true}},
	}
	if err := e.Reload(context.Background(), src); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if len(e.ListRules()) != 1 || len(e.ListRateLimitConfigs()) != 1 {
		t.Errorf("Reload() loaded %d rules, %d limits", len(e.ListRules()), len(e.ListRateLimitConfigs()))
	}

	if err := e.Reload(context.Background(), staticSource{err: errors.New("disk gone")}); err == nil {
		t.Error("Reload() ignored source error")
	}
}

func TestEngine_ReloadKeepsRateLimitCounters(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	src := staticSource{
		rules: []*rules.Rule{rule("always", 100, 10, rules.ActionAllow)},
		limits: []ratelimit.Config{{
			ID: "agent-per-minute", Window: time.Minute, MaxRequests: 1,
			Scope: ratelimit.ScopeAgent, Enabled: true,
		}},
	}
	if err := e.Reload(context.Background(), src); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	action := &ActionRequest{Name: "deploy", AgentID: "agent-7"}
	var got []Status
	for i := 0; i < 2; i++ {
		got = append(got, e.Evaluate(context.Background(), action, nil).Status)
	}

	if err := e.Reload(context.Background(), src); err != nil {
		t.Fatalf("second Reload() error = %v", err)
	}
	got = append(got, e.Evaluate(context.Background(), action, nil).Status)

	want := []Status{StatusApproved, StatusRateLimited, StatusRateLimited}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("statuses across reload mismatch (-want +got):\n%s", diff)
	}
}

func TestEngine_ReloadRetiresSourceLimits(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	fromSource := ratelimit.Config{ID: "from-file", Window: time.Minute, MaxRequests: 10, Scope: ratelimit.ScopeGlobal, Enabled: true}
	fromAPI := ratelimit.Config{ID: "from-api", Window: time.Minute, MaxRequests: 5, Scope: ratelimit.ScopeUser, Enabled: true}

	if err := e.Reload(context.Background(), staticSource{rules: []*rules.Rule{piiRule()}, limits: []ratelimit.Config{fromSource}}); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if err := e.Reload(context.Background(), staticSource{rules: []*rules.Rule{piiRule()}}); err != nil {
		t.Fatalf("Reload() without limits error = %v", err)
	}
	if got := e.ListRateLimitConfigs(); len(got) != 0 {
		t.Fatalf("ListRateLimitConfigs() = %v, want empty", got)
	}

	// Limits registered outside the source survive reloads.
	if err := e.RegisterRateLimitConfig(fromAPI); err != nil {
		t.Fatalf("RegisterRateLimitConfig() error = %v", err)
	}
	if err := e.Reload(context.Background(), staticSource{rules: []*rules.Rule{piiRule()}}); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if got := e.ListRateLimitConfigs(); len(got) != 1 || got[0].ID != "from-api" {
		t.Errorf("ListRateLimitConfigs() = %v, want only from-api", got)
	}
}

func TestEngine_ReloadIsAtomic(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	good := ratelimit.Config{ID: "g", Window: time.Minute, MaxRequests: 10, Scope: ratelimit.ScopeGlobal, Enabled: true}
	if err := e.Reload(context.Background(), staticSource{rules: []*rules.Rule{piiRule()}, limits: []ratelimit.Config{good}}); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	bad := good
	bad.ID = "bad"
	bad.MaxRequests = 0
	err := e.Reload(context.Background(), staticSource{
		rules:  []*rules.Rule{rule("other", 10, 10, rules.ActionWarn)},
		limits: []ratelimit.Config{bad},
	})
	if !errors.Is(err, ratelimit.ErrInvalidConfig) {
		t.Fatalf("Reload() error = %v, want ErrInvalidConfig", err)
	}
	if _, ok := e.GetRule(piiRule().ID); !ok || len(e.ListRules()) != 1 {
		t.Errorf("rules changed by failed reload: %v", e.ListRules())
	}
	if got := e.ListRateLimitConfigs(); len(got) != 1 || got[0].ID != "g" {
		t.Errorf("limits changed by failed reload: %v", got)
	}
}

type staticSource struct {
	rules  []*rules.Rule
	limits []ratelimit.Config
	err    error
}

func (s staticSource) LoadRules(context.Context) ([]*rules.Rule, []ratelimit.Config, error) {
	return s.rules, s.limits, s.err
}
