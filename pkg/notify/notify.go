// Package notify delivers rate-limit-hit events outside the engine.
//
// Both notifiers implement engine.RateLimitNotifier and return without
// waiting on I/O. LogNotifier writes a structured log line. RedisNotifier
// publishes the event as JSON on a Redis channel from a background worker,
// dropping events when its buffer is full.
package notify

import (
	"context"
	"log/slog"

	"mercator-hq/arbiter/pkg/policy/engine"
)

var (
	_ engine.RateLimitNotifier = (*LogNotifier)(nil)
	_ engine.RateLimitNotifier = (*RedisNotifier)(nil)
	_ engine.RateLimitNotifier = Multi(nil)
)

// LogNotifier logs each rate limit hit at warn level.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notify")}
}

func (n *LogNotifier) NotifyRateLimitHit(ctx context.Context, ev *engine.RateLimitEvent) {
	n.logger.LogAttrs(ctx, slog.LevelWarn, "rate limit exceeded",
		slog.String("evaluation_id", ev.EvaluationID),
		slog.String("limit_id", ev.LimitID),
		slog.String("scope_key", ev.ScopeKey),
		slog.String("action", ev.ActionName),
		slog.String("agent_id", ev.AgentID),
		slog.Int64("count", ev.Count),
		slog.Int64("limit", ev.Limit),
		slog.Duration("retry_after", ev.RetryAfter))
}

// Multi fans an event out to several notifiers in order.
type Multi []engine.RateLimitNotifier

func (m Multi) NotifyRateLimitHit(ctx context.Context, ev *engine.RateLimitEvent) {
	for _, n := range m {
		n.NotifyRateLimitHit(ctx, ev)
	}
}
