package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/arbiter/pkg/policy/engine"
)

var _ engine.Observer = (*EngineMetrics)(nil)

// EngineMetrics records policy engine activity. It implements
// engine.Observer.
//
// Metrics:
//   - arbiter_evaluations_total{status,cached}
//   - arbiter_evaluation_duration_seconds{cached}
//   - arbiter_rule_matches_total{rule_id}
//   - arbiter_decision_cache_lookups_total{result}
//   - arbiter_decision_cache_entries
//   - arbiter_rate_limit_hits_total{limit_id}
//   - arbiter_evaluation_faults_total{kind}
type EngineMetrics struct {
	evaluations   *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	ruleMatches   *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	cacheEntries  prometheus.Gauge
	rateLimitHits *prometheus.CounterVec
	faults        *prometheus.CounterVec

	ruleLabels  *CardinalityLimiter
	limitLabels *CardinalityLimiter
}

// NewEngineMetrics creates and registers engine metrics.
func NewEngineMetrics(cfg Config, registry prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "evaluations_total",
				Help:      "Total number of evaluations by verdict status",
			},
			[]string{"status", "cached"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of evaluations in seconds",
				Buckets:   cfg.DurationBuckets,
			},
			[]string{"cached"},
		),
		ruleMatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "rule_matches_total",
				Help:      "Number of times a rule matched an action",
			},
			[]string{"rule_id"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "decision_cache_lookups_total",
				Help:      "Decision cache lookups by result",
			},
			[]string{"result"},
		),
		cacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "decision_cache_entries",
				Help:      "Current number of cached verdicts",
			},
		),
		rateLimitHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Evaluations rejected by a rate limit",
			},
			[]string{"limit_id"},
		),
		faults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "evaluation_faults_total",
				Help:      "Conditions that failed to evaluate, by fault kind",
			},
			[]string{"kind"},
		),
		ruleLabels:  NewCardinalityLimiter(cfg.MaxRuleLabels),
		limitLabels: NewCardinalityLimiter(cfg.MaxRuleLabels),
	}

	registry.MustRegister(
		m.evaluations,
		m.duration,
		m.ruleMatches,
		m.cacheLookups,
		m.cacheEntries,
		m.rateLimitHits,
		m.faults,
	)

	return m
}

// ObserveEvaluation implements engine.Observer.
func (m *EngineMetrics) ObserveEvaluation(status engine.Status, cached bool, duration time.Duration) {
	c := strconv.FormatBool(cached)
	m.evaluations.WithLabelValues(string(status), c).Inc()
	m.duration.WithLabelValues(c).Observe(duration.Seconds())
}

// ObserveRuleMatch implements engine.Observer.
func (m *EngineMetrics) ObserveRuleMatch(ruleID string) {
	m.ruleMatches.WithLabelValues(m.ruleLabels.Label(ruleID)).Inc()
}

// ObserveCacheLookup implements engine.Observer.
func (m *EngineMetrics) ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveCacheSize implements engine.Observer.
func (m *EngineMetrics) ObserveCacheSize(entries int) {
	m.cacheEntries.Set(float64(entries))
}

// ObserveRateLimitHit implements engine.Observer.
func (m *EngineMetrics) ObserveRateLimitHit(limitID string) {
	m.rateLimitHits.WithLabelValues(m.limitLabels.Label(limitID)).Inc()
}

// ObserveFault implements engine.Observer.
func (m *EngineMetrics) ObserveFault(kind engine.FaultKind) {
	m.faults.WithLabelValues(string(kind)).Inc()
}
