package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/arbiter/pkg/telemetry/logging"
	"mercator-hq/arbiter/pkg/telemetry/metrics"
	"mercator-hq/arbiter/pkg/telemetry/tracing"
)

// routePattern returns the chi pattern that served r, e.g.
// "/v1/rules/{id}". Unmatched requests report "unmatched" so raw paths never
// become label values.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// Metrics records request counts, latency and in-flight gauge by route.
// It must be installed on the chi router so the route pattern is known
// once the handler returns.
func Metrics(m *metrics.HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := metrics.NewStatusRecorder(w)

			m.RequestStarted()
			defer m.RequestFinished()

			next.ServeHTTP(rec, r)

			m.ObserveRequest(routePattern(r), r.Method, rec.Status, time.Since(start))
		})
	}
}

// Tracing continues the caller's W3C trace context and opens a server span
// per request. The trace id is echoed in X-Trace-ID when the span is
// sampled.
func Tracing(tracer *tracing.Tracer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if tracer == nil || !tracer.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := tracing.Extract(r.Context(), r.Header)
			ctx, span := tracer.Start(ctx, "HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", r.Method),
					attribute.String("url.path", r.URL.Path),
					attribute.String(tracing.AttrRequestID, logging.GetRequestID(r.Context())),
				),
			)
			defer span.End()

			if span.SpanContext().IsSampled() {
				w.Header().Set("X-Trace-ID", span.SpanContext().TraceID().String())
			}

			rec := metrics.NewStatusRecorder(w)
			next.ServeHTTP(rec, r.WithContext(ctx))

			route := routePattern(r)
			span.SetName(r.Method + " " + route)
			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.Int("http.response.status_code", rec.Status),
			)
			if rec.Status >= 500 {
				span.SetStatus(codes.Error, http.StatusText(rec.Status))
			}
		})
	}
}
