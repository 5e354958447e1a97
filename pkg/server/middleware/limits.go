package middleware

import (
	"net/http"

	"mercator-hq/arbiter/pkg/limits/ratelimit"
	"mercator-hq/arbiter/pkg/telemetry/metrics"
)

// InFlight sheds load once gate is full. Rejected requests get 503 with a
// one second Retry-After. A nil gate admits everything.
func InFlight(gate *ratelimit.ConcurrentLimiter, m *metrics.HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if gate == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !gate.Acquire() {
				if m != nil {
					m.ObserveRejected("in_flight")
				}
				w.Header().Set("Retry-After", "1")
				WriteError(w, http.StatusServiceUnavailable, "overloaded", "too many requests in flight")
				return
			}
			defer gate.Release()

			next.ServeHTTP(w, r)
		})
	}
}

// BodyLimit caps request bodies at max bytes. Reads past the cap fail with
// *http.MaxBytesError.
func BodyLimit(max int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if max <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, max)
			}
			next.ServeHTTP(w, r)
		})
	}
}
