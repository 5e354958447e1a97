package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics records API request metrics.
//
// Metrics:
//   - arbiter_http_requests_total{route,method,code}
//   - arbiter_http_request_duration_seconds{route,method}
//   - arbiter_http_requests_in_flight
//   - arbiter_http_requests_rejected_total{reason}
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
	rejected *prometheus.CounterVec
}

// NewHTTPMetrics creates and registers API request metrics.
func NewHTTPMetrics(cfg Config, registry prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total API requests by route and status code",
			},
			[]string{"route", "method", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "API requests currently being served",
			},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "http",
				Name:      "requests_rejected_total",
				Help:      "API requests rejected before reaching a handler",
			},
			[]string{"reason"},
		),
	}

	registry.MustRegister(m.requests, m.duration, m.inFlight, m.rejected)
	return m
}

// ObserveRequest records one completed request. route should be the route
// pattern, not the raw path, to keep cardinality bounded.
func (m *HTTPMetrics) ObserveRequest(route, method string, code int, duration time.Duration) {
	m.requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RequestStarted increments the in-flight gauge.
func (m *HTTPMetrics) RequestStarted() { m.inFlight.Inc() }

// RequestFinished decrements the in-flight gauge.
func (m *HTTPMetrics) RequestFinished() { m.inFlight.Dec() }

// ObserveRejected counts a request turned away, e.g. by the in-flight limit.
func (m *HTTPMetrics) ObserveRejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

// StatusRecorder captures the status code written by a handler.
type StatusRecorder struct {
	http.ResponseWriter
	Status int
}

// NewStatusRecorder wraps w. The status defaults to 200.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w, Status: http.StatusOK}
}

// WriteHeader implements http.ResponseWriter.
func (r *StatusRecorder) WriteHeader(code int) {
	r.Status = code
	r.ResponseWriter.WriteHeader(code)
}
