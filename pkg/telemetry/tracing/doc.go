// Package tracing provides OpenTelemetry tracing for Arbiter.
//
// The API server opens a span per request, continuing any W3C traceparent
// sent by the caller, and a child span around each evaluation carrying the
// action and verdict attributes. Spans are batched to an OTLP gRPC
// collector.
//
// # Sampling
//
//   - always: sample every trace
//   - never: sample nothing
//   - ratio: sample a fraction of traces by trace ID
//
// Samplers respect the parent's decision when a traceparent is present.
//
// # Usage
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	ctx, span := tracer.Start(ctx, "arbiter.evaluate")
//	tracing.SetActionAttributes(span, action, reqCtx)
//	verdict := eng.Evaluate(ctx, action, reqCtx)
//	tracing.SetVerdictAttributes(span, verdict)
//	span.End()
//
// When tracing is disabled a noop tracer is returned and Start costs almost
// nothing.
package tracing
