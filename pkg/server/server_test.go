package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mercator-hq/arbiter/pkg/approval"
	"mercator-hq/arbiter/pkg/config"
	"mercator-hq/arbiter/pkg/limits/ratelimit"
	"mercator-hq/arbiter/pkg/policy/engine"
	"mercator-hq/arbiter/pkg/rules"
	"mercator-hq/arbiter/pkg/server/middleware"
	"mercator-hq/arbiter/pkg/telemetry/metrics"
)

type testEnv struct {
	server    *Server
	engine    *engine.Engine
	approvals *approval.Workflow
	collector *metrics.Collector
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	collector := metrics.NewCollector(metrics.Config{Namespace: "test"}, nil)

	eng, err := engine.New(engine.DefaultEngineConfig(), engine.Options{
		Logger:   logger,
		Observer: collector.Engine(),
	})
	if err != nil {
		t.Fatalf("engine.New() error = %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	workflow := approval.NewWorkflow(approval.NewMemoryStore(), approval.Config{}, logger)

	cfg := config.Default().Server
	srv, err := NewServer(&cfg, Options{
		Engine:    eng,
		Approvals: workflow,
		Metrics:   collector,
		Logger:    logger,
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return &testEnv{server: srv, engine: eng, approvals: workflow, collector: collector}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func productionDeleteRule() *rules.Rule {
	return &rules.Rule{
		ID:         "no-prod-deletes",
		Type:       rules.TypeSecurity,
		Enabled:    true,
		Priority:   900,
		RiskWeight: 90,
		Conditions: []rules.Condition{
			{Field: engine.FieldActionCategory, Operator: rules.OperatorEquals, Value: "database"},
			{Field: engine.FieldEnvironment, Operator: rules.OperatorEquals, Value: "production"},
		},
		Actions: []rules.Action{{Type: rules.ActionDeny, Message: "deletes in production are blocked"}},
	}
}

func paymentApprovalRule() *rules.Rule {
	return &rules.Rule{
		ID:         "payments-need-approval",
		Type:       rules.TypeFinancial,
		Enabled:    true,
		Priority:   500,
		RiskWeight: 40,
		Conditions: []rules.Condition{
			{Field: engine.FieldActionCategory, Operator: rules.OperatorEquals, Value: "payment"},
		},
		Actions: []rules.Action{{Type: rules.ActionRequireApproval, Message: "payments need a reviewer"}},
	}
}

func TestNewServer_Errors(t *testing.T) {
	cfg := config.Default().Server
	if _, err := NewServer(nil, Options{}); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewServer(&cfg, Options{}); err == nil {
		t.Error("expected error for missing engine")
	}
}

func TestEvaluate(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.RegisterRule(productionDeleteRule()); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		body       EvaluateRequest
		wantStatus engine.Status
		wantRules  []string
	}{
		{
			name: "denied in production",
			body: EvaluateRequest{
				Action:  &engine.ActionRequest{Name: "drop_table", Category: "database"},
				Context: &engine.RequestContext{Environment: "production"},
			},
			wantStatus: engine.StatusDenied,
			wantRules:  []string{"no-prod-deletes"},
		},
		{
			name: "approved in staging",
			body: EvaluateRequest{
				Action:  &engine.ActionRequest{Name: "drop_table", Category: "database"},
				Context: &engine.RequestContext{Environment: "staging"},
			},
			wantStatus: engine.StatusApproved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/v1/evaluate", tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("code = %d, body %s", rec.Code, rec.Body.String())
			}
			resp := decode[EvaluateResponse](t, rec)
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if diff := cmp.Diff(tt.wantRules, resp.AppliedRuleIDs); diff != "" {
				t.Errorf("applied rules mismatch (-want +got):\n%s", diff)
			}
			if resp.ApprovalID != "" {
				t.Errorf("unexpected approval id %q", resp.ApprovalID)
			}
		})
	}

	if got, err := testutil.GatherAndCount(env.collector.Registry(), "test_evaluations_total"); err != nil || got == 0 {
		t.Error("evaluations were not observed by the engine metrics")
	}
}

func TestEvaluate_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"empty body", nil, http.StatusBadRequest},
		{"malformed json", "{", http.StatusBadRequest},
		{"unknown field", `{"action":{"name":"x"},"bogus":1}`, http.StatusBadRequest},
		{"missing action name", `{"action":{"category":"database"}}`, http.StatusBadRequest},
		{"trailing data", `{"action":{"name":"x"}} {}`, http.StatusBadRequest},
		{"too large", `{"action":{"name":"` + strings.Repeat("a", int(config.DefaultMaxBodyBytes)) + `"}}`, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/v1/evaluate", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("code = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
			body := decode[middleware.ErrorBody](t, rec)
			if body.Error.Message == "" {
				t.Error("error message is empty")
			}
		})
	}
}

func TestEvaluate_OpensApprovalRequest(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.RegisterRule(paymentApprovalRule()); err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodPost, "/v1/evaluate", EvaluateRequest{
		Action: &engine.ActionRequest{Name: "wire_transfer", Category: "payment", AgentID: "agent-7"},
	})
	resp := decode[EvaluateResponse](t, rec)
	if resp.Status != engine.StatusPendingApproval || !resp.RequiresApproval {
		t.Fatalf("verdict = %+v, want pending approval", resp.Verdict)
	}
	if resp.ApprovalID == "" {
		t.Fatal("approval id missing")
	}

	rec = env.do(t, http.MethodGet, "/v1/approvals/"+resp.ApprovalID, nil)
	pending := decode[approval.Request](t, rec)
	if pending.Status != approval.StatusPending || pending.AgentID != "agent-7" || pending.EvaluationID != resp.EvaluationID {
		t.Errorf("unexpected approval request %+v", pending)
	}

	approved := true
	rec = env.do(t, http.MethodPost, "/v1/approvals/"+resp.ApprovalID+"/resolve",
		ResolveRequest{Approved: &approved, Reviewer: "alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve code = %d (%s)", rec.Code, rec.Body.String())
	}
	if got := decode[approval.Request](t, rec); got.Status != approval.StatusApproved {
		t.Errorf("status = %q, want approved", got.Status)
	}

	rec = env.do(t, http.MethodPost, "/v1/approvals/"+resp.ApprovalID+"/resolve",
		ResolveRequest{Approved: &approved, Reviewer: "bob"})
	if rec.Code != http.StatusConflict {
		t.Errorf("second resolve code = %d, want 409", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/v1/approvals/unknown", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown approval code = %d, want 404", rec.Code)
	}
}

func TestEvaluate_RateLimitHeaders(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.RegisterRateLimitConfig(ratelimit.Config{
		ID:          "one-per-minute",
		Window:      time.Minute,
		MaxRequests: 1,
		Scope:       ratelimit.ScopeGlobal,
		Enabled:     true,
	}); err != nil {
		t.Fatal(err)
	}

	body := EvaluateRequest{Action: &engine.ActionRequest{Name: "send_email", Category: "email"}}
	first := env.do(t, http.MethodPost, "/v1/evaluate", body)
	if got := decode[EvaluateResponse](t, first); got.Status == engine.StatusRateLimited {
		t.Fatal("first request should be admitted")
	}

	second := env.do(t, http.MethodPost, "/v1/evaluate", body)
	resp := decode[EvaluateResponse](t, second)
	if resp.Status != engine.StatusRateLimited {
		t.Fatalf("status = %q, want rate_limited", resp.Status)
	}
	if second.Header().Get("X-RateLimit-Limit") != "1" || second.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("rate limit headers = %v", second.Header())
	}
	if second.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing")
	}
}

func TestRules_CRUD(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/rules", productionDeleteRule())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create code = %d (%s)", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/v1/rules", productionDeleteRule())
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate create code = %d, want 409", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/v1/rules", `{"id":"bad","type":"security","priority":5000}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid rule code = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/v1/rules", nil)
	if list := decode[RulesResponse](t, rec); list.Count != 1 || list.Rules[0].ID != "no-prod-deletes" {
		t.Errorf("list = %+v", list)
	}

	updated := productionDeleteRule()
	updated.Priority = 100
	rec = env.do(t, http.MethodPut, "/v1/rules/no-prod-deletes", updated)
	if got := decode[rules.Rule](t, rec); got.Priority != 100 {
		t.Errorf("updated priority = %d, want 100", got.Priority)
	}

	rec = env.do(t, http.MethodPost, "/v1/rules/no-prod-deletes/disable", nil)
	if got := decode[rules.Rule](t, rec); got.Enabled {
		t.Error("rule still enabled after disable")
	}
	rec = env.do(t, http.MethodGet, "/v1/rules/active", nil)
	if got := decode[RulesResponse](t, rec); got.Count != 0 {
		t.Errorf("active count = %d, want 0", got.Count)
	}
	env.do(t, http.MethodPost, "/v1/rules/no-prod-deletes/enable", nil)

	rec = env.do(t, http.MethodDelete, "/v1/rules/no-prod-deletes", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete code = %d, want 204", rec.Code)
	}
	for _, path := range []string{"/v1/rules/no-prod-deletes", "/v1/rules/no-prod-deletes/dependencies"} {
		if rec := env.do(t, http.MethodGet, path, nil); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s code = %d, want 404", path, rec.Code)
		}
	}
	if rec := env.do(t, http.MethodDelete, "/v1/rules/no-prod-deletes", nil); rec.Code != http.StatusNotFound {
		t.Errorf("second delete code = %d, want 404", rec.Code)
	}
}

func TestRules_Dependencies(t *testing.T) {
	env := newTestEnv(t)
	base := productionDeleteRule()
	dependent := paymentApprovalRule()
	dependent.DependsOn = []string{base.ID}
	for _, r := range []*rules.Rule{base, dependent} {
		if err := env.engine.RegisterRule(r); err != nil {
			t.Fatal(err)
		}
	}

	rec := env.do(t, http.MethodGet, "/v1/rules/"+base.ID+"/dependencies", nil)
	info := decode[engine.DependencyInfo](t, rec)
	if diff := cmp.Diff([]string{dependent.ID}, info.Dependents); diff != "" {
		t.Errorf("dependents mismatch (-want +got):\n%s", diff)
	}

	rec = env.do(t, http.MethodGet, "/v1/dependencies/validate", nil)
	if report := decode[DependencyReport](t, rec); !report.Valid {
		t.Errorf("report = %+v, want valid", report)
	}

	rec = env.do(t, http.MethodPut, "/v1/dependencies/ordering", `{"dependency_aware": false}`)
	order := decode[OrderResponse](t, rec)
	if order.DependencyAware {
		t.Error("dependency-aware ordering still on")
	}
	if diff := cmp.Diff([]string{base.ID, dependent.ID}, order.Order); diff != "" {
		t.Errorf("priority order mismatch (-want +got):\n%s", diff)
	}

	if rec := env.do(t, http.MethodPut, "/v1/dependencies/ordering", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing flag code = %d, want 400", rec.Code)
	}
}

func TestRateLimits(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/rate-limits", `{"id":"agent-minute","window":"1m","max_requests":10,"scope":"agent"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create code = %d (%s)", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/v1/rate-limits", `{"id":"broken","window":"1m","max_requests":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid config code = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/v1/rate-limits", nil)
	list := decode[RateLimitsResponse](t, rec)
	if list.Count != 1 || list.RateLimits[0].Window != time.Minute || list.RateLimits[0].Scope != ratelimit.ScopeAgent {
		t.Errorf("list = %+v", list)
	}

	if rec := env.do(t, http.MethodDelete, "/v1/rate-limits/agent-minute", nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete code = %d, want 204", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/v1/rate-limits/agent-minute", nil); rec.Code != http.StatusNotFound {
		t.Errorf("second delete code = %d, want 404", rec.Code)
	}
}

func TestCache(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.RegisterRule(productionDeleteRule()); err != nil {
		t.Fatal(err)
	}

	body := EvaluateRequest{Action: &engine.ActionRequest{Name: "select", Category: "database"}}
	env.do(t, http.MethodPost, "/v1/evaluate", body)
	rec := env.do(t, http.MethodPost, "/v1/evaluate", body)
	if got := decode[EvaluateResponse](t, rec); !got.Cached {
		t.Error("second identical evaluation should be served from cache")
	}

	stats := decode[CacheResponse](t, env.do(t, http.MethodGet, "/v1/cache", nil))
	if !stats.Enabled || stats.Hits != 1 || stats.Entries != 1 {
		t.Errorf("stats = %+v", stats)
	}

	rec = env.do(t, http.MethodPut, "/v1/cache/ttl", CacheTTLRequest{TTL: "45s"})
	if got := decode[CacheResponse](t, rec); got.TTL != 45*time.Second {
		t.Errorf("ttl = %v, want 45s", got.TTL)
	}
	if rec := env.do(t, http.MethodPut, "/v1/cache/ttl", CacheTTLRequest{TTL: "soon"}); rec.Code != http.StatusBadRequest {
		t.Errorf("bad ttl code = %d, want 400", rec.Code)
	}

	if rec := env.do(t, http.MethodDelete, "/v1/cache", nil); rec.Code != http.StatusNoContent {
		t.Errorf("clear code = %d, want 204", rec.Code)
	}
	if got := decode[CacheResponse](t, env.do(t, http.MethodGet, "/v1/cache", nil)); got.Entries != 0 {
		t.Errorf("entries after clear = %d", got.Entries)
	}
}

func TestApprovals_NotConfigured(t *testing.T) {
	eng, err := engine.New(nil, engine.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Close()

	cfg := config.Default().Server
	srv, err := NewServer(&cfg, Options{Engine: eng, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/approvals/x", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", rec.Code)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	eng, err := engine.New(nil, engine.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Close()

	cfg := config.Default().Server
	cfg.Auth = config.AuthConfig{
		Enabled: true,
		Keys:    []config.APIKeyConfig{{ID: "ci", Key: "0123456789abcdef"}},
	}
	srv, err := NewServer(&cfg, Options{Engine: eng, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/rules", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("without key code = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/rules", nil)
	req.Header.Set("Authorization", "Bearer 0123456789abcdef")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with key code = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("liveness without key code = %d, want 200", rec.Code)
	}
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do(t, http.MethodGet, "/health", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("health without rules code = %d, want 503", rec.Code)
	}
	if err := env.engine.RegisterRule(productionDeleteRule()); err != nil {
		t.Fatal(err)
	}
	if rec := env.do(t, http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Errorf("health with rules code = %d, want 200", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/health/live", nil); rec.Code != http.StatusOK {
		t.Errorf("liveness code = %d", rec.Code)
	}

	env.do(t, http.MethodGet, "/v1/rules/missing", nil)
	rec := env.do(t, http.MethodGet, config.DefaultPrometheusPath, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics code = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `test_http_requests_total{code="404",method="GET",route="/v1/rules/{id}"} 1`) {
		t.Errorf("route metric missing from scrape:\n%s", rec.Body.String())
	}

	if rec := env.do(t, http.MethodGet, "/nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown route code = %d", rec.Code)
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	env := newTestEnv(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/health/live"
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not come up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !env.server.IsRunning() {
		t.Error("IsRunning() = false while serving")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	if env.server.IsRunning() {
		t.Error("IsRunning() = true after shutdown")
	}
}
