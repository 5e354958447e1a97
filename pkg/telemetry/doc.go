// Package telemetry groups Arbiter's observability packages.
//
//   - logging: slog construction, secret redaction, request-scoped loggers
//   - metrics: Prometheus collectors for evaluations, the decision cache,
//     rate limits and the HTTP API
//   - tracing: OpenTelemetry spans around API requests and evaluations
//   - health: component checks behind GET /health
//
// The engine itself depends on none of these. It reports through the
// engine.Observer interface, which metrics.EngineMetrics implements, and
// logs through the *slog.Logger it is given.
package telemetry
