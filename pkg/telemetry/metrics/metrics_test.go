package metrics

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"mercator-hq/arbiter/pkg/policy/engine"
)

func newTestCollector() *Collector {
	return NewCollector(Config{Namespace: "test", MaxRuleLabels: 2}, nil)
}

func TestEngineMetrics_ObserveEvaluation(t *testing.T) {
	c := newTestCollector()
	m := c.Engine()

	m.ObserveEvaluation(engine.StatusApproved, false, 2*time.Millisecond)
	m.ObserveEvaluation(engine.StatusApproved, true, 10*time.Microsecond)
	m.ObserveEvaluation(engine.StatusDenied, false, time.Millisecond)

	tests := []struct {
		status engine.Status
		cached string
		want   float64
	}{
		{engine.StatusApproved, "false", 1},
		{engine.StatusApproved, "true", 1},
		{engine.StatusDenied, "false", 1},
		{engine.StatusRateLimited, "false", 0},
	}
	for _, tt := range tests {
		got := testutil.ToFloat64(m.evaluations.WithLabelValues(string(tt.status), tt.cached))
		if got != tt.want {
			t.Errorf("evaluations{%s,%s} = %v, want %v", tt.status, tt.cached, got, tt.want)
		}
	}

	if n := testutil.CollectAndCount(m.duration); n != 2 {
		t.Errorf("duration series = %d, want 2", n)
	}
}

func TestEngineMetrics_CacheAndFaults(t *testing.T) {
	m := newTestCollector().Engine()

	m.ObserveCacheLookup(true)
	m.ObserveCacheLookup(false)
	m.ObserveCacheLookup(false)
	m.ObserveCacheSize(42)
	m.ObserveFault(engine.FaultRegex)

	if got := testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")); got != 1 {
		t.Errorf("hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")); got != 2 {
		t.Errorf("misses = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.cacheEntries); got != 42 {
		t.Errorf("entries = %v, want 42", got)
	}
	if got := testutil.ToFloat64(m.faults.WithLabelValues(string(engine.FaultRegex))); got != 1 {
		t.Errorf("regex faults = %v, want 1", got)
	}
}

func TestEngineMetrics_RuleLabelCardinality(t *testing.T) {
	m := newTestCollector().Engine()

	for i := 0; i < 4; i++ {
		m.ObserveRuleMatch(fmt.Sprintf("rule-%d", i))
	}
	m.ObserveRuleMatch("rule-0")
	m.ObserveRateLimitHit("agent-per-minute")

	if got := testutil.ToFloat64(m.ruleMatches.WithLabelValues("rule-0")); got != 2 {
		t.Errorf("rule-0 = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ruleMatches.WithLabelValues("other")); got != 2 {
		t.Errorf("other = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.rateLimitHits.WithLabelValues("agent-per-minute")); got != 1 {
		t.Errorf("rate limit hits = %v, want 1", got)
	}
}

func TestEngineMetrics_WithEngine(t *testing.T) {
	c := newTestCollector()
	eng, err := engine.New(engine.DefaultEngineConfig(), engine.Options{Observer: c.Engine()})
	if err != nil {
		t.Fatalf("engine.New() error = %v", err)
	}
	defer eng.Close()

	eng.Evaluate(t.Context(), &engine.ActionRequest{Name: "deploy"}, &engine.RequestContext{})

	if got := testutil.ToFloat64(c.Engine().evaluations.WithLabelValues(string(engine.StatusApproved), "false")); got != 1 {
		t.Errorf("approved evaluations = %v, want 1", got)
	}
}

func TestHTTPMetrics(t *testing.T) {
	m := newTestCollector().HTTP()

	m.RequestStarted()
	m.ObserveRequest("/v1/evaluate", http.MethodPost, http.StatusOK, 3*time.Millisecond)
	m.RequestFinished()
	m.ObserveRejected("in_flight")

	if got := testutil.ToFloat64(m.requests.WithLabelValues("/v1/evaluate", "POST", "200")); got != 1 {
		t.Errorf("requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.inFlight); got != 0 {
		t.Errorf("in flight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.rejected.WithLabelValues("in_flight")); got != 1 {
		t.Errorf("rejected = %v, want 1", got)
	}
}

func TestStatusRecorder(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := NewStatusRecorder(rec)
	if sr.Status != http.StatusOK {
		t.Errorf("default status = %d", sr.Status)
	}
	sr.WriteHeader(http.StatusTeapot)
	if sr.Status != http.StatusTeapot || rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, recorder = %d", sr.Status, rec.Code)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := newTestCollector()
	c.Engine().ObserveCacheSize(7)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "test_decision_cache_entries 7") {
		t.Errorf("scrape output missing cache gauge:\n%s", body)
	}
}

func TestCardinalityLimiter(t *testing.T) {
	cl := NewCardinalityLimiter(1)
	if cl.Label("a") != "a" || cl.Label("a") != "a" {
		t.Error("tracked value not returned")
	}
	if cl.Label("b") != "other" {
		t.Error("value beyond the limit not folded into other")
	}
	if cl.Count() != 1 {
		t.Errorf("Count() = %d, want 1", cl.Count())
	}
}
