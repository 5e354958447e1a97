package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"mercator-hq/arbiter/pkg/limits/ratelimit"
	"mercator-hq/arbiter/pkg/policy/risk"
	"mercator-hq/arbiter/pkg/rules"
)

// Evaluate decides whether an action may proceed. It always returns a
// complete verdict; malformed or missing input is evaluated as empty.
//
// The rate limiter is consulted first and a rejection short-circuits rule
// evaluation. Otherwise the decision cache is checked, then every active
// rule runs in snapshot order. Allowed verdicts count against the rate
// limits.
func (e *Engine) Evaluate(ctx context.Context, action *ActionRequest, reqCtx *RequestContext) *Verdict {
	start := e.now()
	if action == nil {
		action = &ActionRequest{}
	}
	if reqCtx == nil {
		reqCtx = &RequestContext{}
	}

	key := ratelimit.Key{
		AgentID:        agentID(action, reqCtx),
		SessionID:      sessionID(action, reqCtx),
		UserID:         reqCtx.UserID,
		ActionCategory: action.Category,
		ActionName:     action.Name,
	}

	if res := e.limiter.Check(key); !res.Allowed {
		return e.rateLimited(ctx, action, reqCtx, res, start)
	}

	snap := e.snap.Load()
	flat := BuildContext(action, reqCtx)

	fp, cacheable := "", false
	if e.cache != nil {
		fp, cacheable = fingerprint(snap, action, reqCtx, flat)
	}

	if cacheable {
		cached, hit := e.cache.Get(fp)
		e.observer.ObserveCacheLookup(hit)
		if hit {
			cached.EvaluationID = uuid.NewString()
			cached.Cached = true
			cached.EvaluatedAt = start
			cached.Duration = e.now().Sub(start)
			if cached.Allowed {
				e.limiter.Record(key)
			}
			e.finish(ctx, cached, action, reqCtx, nil)
			return cached
		}
	}

	verdict, faults := e.evaluateRules(ctx, snap, flat)
	verdict.EvaluationID = uuid.NewString()
	verdict.EvaluatedAt = start

	if verdict.Allowed {
		e.limiter.Record(key)
	}
	if cacheable && e.cache.Put(fp, verdict, snap.generation) {
		e.observer.ObserveCacheSize(e.cache.Size())
	}

	verdict.Duration = e.now().Sub(start)
	e.finish(ctx, verdict, action, reqCtx, faults)
	return verdict
}

// rateLimited builds the verdict for a request rejected by the limiter.
func (e *Engine) rateLimited(ctx context.Context, action *ActionRequest, reqCtx *RequestContext, res *ratelimit.CheckResult, start time.Time) *Verdict {
	v := &Verdict{
		EvaluationID:  uuid.NewString(),
		Status:        StatusRateLimited,
		RiskScore:     0,
		RiskLevel:     risk.LevelMinimal,
		Allowed:       false,
		RateLimitInfo: rateLimitInfoFrom(res),
		EvaluatedAt:   start,
		Duration:      e.now().Sub(start),
	}

	e.observer.ObserveRateLimitHit(res.LimitID)
	e.logger.InfoContext(ctx, "rate limit exceeded",
		"limit_id", res.LimitID,
		"scope_key", res.ScopeKey,
		"action", action.Name,
		"count", res.Count,
		"limit", res.Limit,
	)

	if e.notifier != nil {
		e.notifier.NotifyRateLimitHit(ctx, &RateLimitEvent{
			EvaluationID:   v.EvaluationID,
			Timestamp:      start,
			LimitID:        res.LimitID,
			ScopeKey:       res.ScopeKey,
			ActionName:     action.Name,
			ActionCategory: action.Category,
			AgentID:        agentID(action, reqCtx),
			Count:          res.Count,
			Limit:          res.Limit,
			RetryAfter:     res.RetryAfter,
		})
	}

	e.finish(ctx, v, action, reqCtx, nil)
	return v
}

// evaluateRules runs every active rule of snap against flat and assembles
// the decision content of a verdict.
func (e *Engine) evaluateRules(ctx context.Context, snap *snapshot, flat map[string]interface{}) (*Verdict, []*Fault) {
	v := &Verdict{}
	var (
		faults        []*Fault
		contributions []risk.Contribution
		approvals     []string
		denied        bool
		pending       bool
		limited       bool
		limitReason   string
	)

	for _, cr := range snap.ordered {
		matched, ruleFaults := e.matcher.match(cr, flat)
		for _, f := range ruleFaults {
			e.observer.ObserveFault(f.Kind)
			e.logger.WarnContext(ctx, "condition evaluation fault",
				"rule_id", f.RuleID,
				"kind", f.Kind,
				"error", f.Cause,
			)
		}
		faults = append(faults, ruleFaults...)
		if !matched {
			continue
		}

		rule := cr.rule
		e.observer.ObserveRuleMatch(rule.ID)
		v.AppliedRuleIDs = append(v.AppliedRuleIDs, rule.ID)
		contributions = append(contributions, risk.Contribution{
			RuleID:     rule.ID,
			Priority:   rule.Priority,
			RiskWeight: rule.RiskWeight,
		})
		if rule.Deprecated {
			v.Notices = append(v.Notices, rules.DeprecationNotice(rule))
		}

		for _, action := range rule.Actions {
			switch action.Type {
			case rules.ActionDeny:
				denied = true
				v.Violations = append(v.Violations, Violation{
					RuleID:   rule.ID,
					RuleName: rule.DisplayName(),
					Message:  messageOr(action, fmt.Sprintf("denied by rule %s", rule.DisplayName())),
					Severity: risk.LevelFor(float64(rule.RiskWeight)),
				})
			case rules.ActionRequireApproval, rules.ActionEscalate:
				pending = true
				approvals = append(approvals, messageOr(action, fmt.Sprintf("approval required by rule %s", rule.DisplayName())))
			case rules.ActionWarn:
				v.Warnings = append(v.Warnings, messageOr(action, fmt.Sprintf("warning from rule %s", rule.DisplayName())))
			case rules.ActionRateLimit:
				if !limited {
					limitReason = messageOr(action, fmt.Sprintf("rate limited by rule %s", rule.DisplayName()))
				}
				limited = true
			case rules.ActionLog:
				e.logger.LogAttrs(ctx, slog.LevelInfo, "rule log action",
					slog.String("rule_id", rule.ID),
					slog.String("message", action.Message),
					slog.Any("action", flat[FieldActionName]),
				)
			}
		}
	}

	assessment := risk.Assess(contributions)
	v.RiskScore = assessment.Score
	v.RiskLevel = assessment.Level

	switch {
	case denied:
		v.Status = StatusDenied
	case limited:
		v.Status = StatusRateLimited
		v.RateLimitInfo = &RateLimitInfo{Reason: limitReason}
	case pending:
		v.Status = StatusPendingApproval
		v.RequiresApproval = true
		v.ApprovalReason = strings.Join(approvals, "; ")
	case len(v.Warnings) > 0:
		v.Status = StatusRequiresReview
	default:
		v.Status = StatusApproved
	}
	v.Allowed = v.Status != StatusDenied && v.Status != StatusRateLimited

	return v, faults
}

// finish reports a completed evaluation to the observer and audit sink.
func (e *Engine) finish(ctx context.Context, v *Verdict, action *ActionRequest, reqCtx *RequestContext, faults []*Fault) {
	e.observer.ObserveEvaluation(v.Status, v.Cached, v.Duration)
	if e.audit != nil {
		e.audit.Record(ctx, newAuditEvent(v, action, reqCtx, faults))
	}
	e.logger.DebugContext(ctx, "action evaluated",
		"evaluation_id", v.EvaluationID,
		"action", action.Name,
		"status", v.Status,
		"risk_score", v.RiskScore,
		"cached", v.Cached,
		"duration", v.Duration,
	)
}

func messageOr(action rules.Action, fallback string) string {
	if action.Message != "" {
		return action.Message
	}
	return fallback
}
