package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/arbiter/pkg/policy/engine"
)

// Attribute keys live under the "arbiter." namespace.
const (
	AttrRequestID      = "arbiter.request_id"
	AttrAgentID        = "arbiter.agent_id"
	AttrSessionID      = "arbiter.session_id"
	AttrActionName     = "arbiter.action.name"
	AttrActionCategory = "arbiter.action.category"
	AttrEnvironment    = "arbiter.context.environment"

	AttrEvaluationID = "arbiter.verdict.evaluation_id"
	AttrStatus       = "arbiter.verdict.status"
	AttrRiskScore    = "arbiter.verdict.risk_score"
	AttrRiskLevel    = "arbiter.verdict.risk_level"
	AttrAppliedRules = "arbiter.verdict.applied_rules"
	AttrViolations   = "arbiter.verdict.violations"
	AttrCached       = "arbiter.verdict.cached"
	AttrRateLimitID  = "arbiter.rate_limit.id"
)

// SetActionAttributes records what is being evaluated. Parameters are never
// attached since they may hold secrets.
func SetActionAttributes(span trace.Span, action *engine.ActionRequest, reqCtx *engine.RequestContext) {
	if action == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String(AttrActionName, action.Name),
	}
	if action.Category != "" {
		attrs = append(attrs, attribute.String(AttrActionCategory, action.Category))
	}
	agentID, sessionID := engine.Subject(action, reqCtx)
	if reqCtx != nil && reqCtx.Environment != "" {
		attrs = append(attrs, attribute.String(AttrEnvironment, reqCtx.Environment))
	}
	if agentID != "" {
		attrs = append(attrs, attribute.String(AttrAgentID, agentID))
	}
	if sessionID != "" {
		attrs = append(attrs, attribute.String(AttrSessionID, sessionID))
	}
	span.SetAttributes(attrs...)
}

// SetVerdictAttributes records the outcome of an evaluation.
func SetVerdictAttributes(span trace.Span, v *engine.Verdict) {
	if v == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String(AttrEvaluationID, v.EvaluationID),
		attribute.String(AttrStatus, string(v.Status)),
		attribute.Float64(AttrRiskScore, v.RiskScore),
		attribute.String(AttrRiskLevel, string(v.RiskLevel)),
		attribute.Bool(AttrCached, v.Cached),
		attribute.Int(AttrViolations, len(v.Violations)),
	}
	if len(v.AppliedRuleIDs) > 0 {
		attrs = append(attrs, attribute.StringSlice(AttrAppliedRules, v.AppliedRuleIDs))
	}
	if v.RateLimitInfo != nil && v.RateLimitInfo.LimitID != "" {
		attrs = append(attrs, attribute.String(AttrRateLimitID, v.RateLimitInfo.LimitID))
	}
	span.SetAttributes(attrs...)
}
