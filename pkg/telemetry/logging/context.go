package logging

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// AgentIDKey is the context key for the acting agent.
	AgentIDKey contextKey = "agent_id"

	// SessionIDKey is the context key for the agent session.
	SessionIDKey contextKey = "session_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithAgent adds agent and session identifiers to the context. Empty values
// are not stored.
func WithAgent(ctx context.Context, agentID, sessionID string) context.Context {
	if agentID != "" {
		ctx = context.WithValue(ctx, AgentIDKey, agentID)
	}
	if sessionID != "" {
		ctx = context.WithValue(ctx, SessionIDKey, sessionID)
	}
	return ctx
}

// GetAgentID retrieves the agent ID from the context.
func GetAgentID(ctx context.Context) string {
	if id, ok := ctx.Value(AgentIDKey).(string); ok {
		return id
	}
	return ""
}

// GetSessionID retrieves the session ID from the context.
func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(SessionIDKey).(string); ok {
		return id
	}
	return ""
}

// FromContext returns logger with the identifiers stored in ctx attached.
// A nil logger uses slog.Default.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	var fields []any
	if id := GetRequestID(ctx); id != "" {
		fields = append(fields, "request_id", id)
	}
	if id := GetAgentID(ctx); id != "" {
		fields = append(fields, "agent_id", id)
	}
	if id := GetSessionID(ctx); id != "" {
		fields = append(fields, "session_id", id)
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
