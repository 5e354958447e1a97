package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Config configures a Collector.
type Config struct {
	// Namespace prefixes every metric name. Default: "arbiter"
	Namespace string

	// DurationBuckets are the evaluation latency buckets in seconds.
	// Default: 50µs to roughly 400ms, doubling.
	DurationBuckets []float64

	// MaxRuleLabels caps distinct rule_id and limit_id label values. Further
	// ids are reported as "other". Default: 1000
	MaxRuleLabels int

	// ProcessMetrics registers the Go runtime and process collectors.
	ProcessMetrics bool
}

// Collector owns a Prometheus registry and the metric groups registered on
// it.
type Collector struct {
	config   Config
	registry *prometheus.Registry

	engine *EngineMetrics
	http   *HTTPMetrics
}

// NewCollector creates a collector. A nil registry creates a fresh one.
func NewCollector(cfg Config, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "arbiter"
	}
	if len(cfg.DurationBuckets) == 0 {
		// Evaluations are in-memory; most finish well under a millisecond.
		cfg.DurationBuckets = prometheus.ExponentialBuckets(0.00005, 2, 14)
	}
	if cfg.MaxRuleLabels <= 0 {
		cfg.MaxRuleLabels = 1000
	}

	if cfg.ProcessMetrics {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return &Collector{
		config:   cfg,
		registry: registry,
		engine:   NewEngineMetrics(cfg, registry),
		http:     NewHTTPMetrics(cfg, registry),
	}
}

// Engine returns the engine observer.
func (c *Collector) Engine() *EngineMetrics {
	return c.engine
}

// HTTP returns the API request metrics.
func (c *Collector) HTTP() *HTTPMetrics {
	return c.http
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter bounds the number of distinct label values recorded
// for one label.
type CardinalityLimiter struct {
	max     int
	mu      sync.RWMutex
	current map[string]struct{}
}

// NewCardinalityLimiter creates a limiter admitting up to max values.
func NewCardinalityLimiter(max int) *CardinalityLimiter {
	return &CardinalityLimiter{
		max:     max,
		current: make(map[string]struct{}),
	}
}

// Label returns value if it is already tracked or fits under the limit,
// and "other" otherwise.
func (cl *CardinalityLimiter) Label(value string) string {
	cl.mu.RLock()
	_, ok := cl.current[value]
	cl.mu.RUnlock()
	if ok {
		return value
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, ok := cl.current[value]; ok {
		return value
	}
	if len(cl.current) >= cl.max {
		return "other"
	}
	cl.current[value] = struct{}{}
	return value
}

// Count returns the number of tracked values.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
