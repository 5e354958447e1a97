// Package middleware provides the HTTP middleware chain of the Arbiter API
// server: request ids, panic recovery, request logging, load shedding, body
// limits, Prometheus instrumentation and OpenTelemetry spans.
//
// The server installs them outermost first:
//
//	r.Use(middleware.Recovery(logger))
//	r.Use(middleware.RequestID)
//	r.Use(middleware.Tracing(tracer))
//	r.Use(middleware.Logging(logger))
//	r.Use(middleware.Metrics(httpMetrics))
//	r.Use(middleware.BodyLimit(maxBody))
//
// InFlight wraps only the /v1 routes so health probes are answered while
// the server sheds load.
package middleware
