// Package engine decides whether an autonomous agent's proposed action may
// proceed. It evaluates declarative rules against the action and its
// business context and returns a verdict with a 0-100 risk score.
//
// # Architecture
//
// The engine combines five parts:
//
//  1. Evaluator - tests one condition (equals, in, matches_regex, custom, ...)
//  2. Matcher - applies a rule's conditions in ascending cost order
//  3. Rate limiter - sliding-window limits consulted before any rule runs
//  4. Risk scorer - priority-weighted average of matched rule risk weights
//  5. Decision cache - verdicts keyed by a fingerprint of the context
//
// # Evaluation Flow
//
//	ActionRequest + RequestContext
//	       ↓
//	Rate limiter check ── rejected ──→ rate_limited verdict (never cached)
//	       ↓
//	Decision cache lookup ── hit ──→ copy of cached verdict
//	       ↓
//	For each active rule in execution order:
//	  Conditions match? → apply actions (deny, require_approval, warn, ...)
//	       ↓
//	Risk score, status precedence
//	       ↓
//	Record against rate limits, cache, audit
//
// Status precedence is denied > rate_limited > pending_approval >
// requires_review > approved.
//
// # Basic Usage
//
//	eng, err := engine.New(engine.DefaultEngineConfig(), engine.Options{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	if err := eng.RegisterRule(rule); err != nil {
//	    return err
//	}
//
//	verdict := eng.Evaluate(ctx, &engine.ActionRequest{
//	    Name:     "file_delete",
//	    Category: "filesystem",
//	}, &engine.RequestContext{Environment: "production"})
//
//	if !verdict.Allowed {
//	    return fmt.Errorf("action %s: %s", verdict.Status, verdict.Violations[0].Message)
//	}
//
// # Thread Safety
//
// The engine is safe for concurrent use. Evaluations read an immutable
// snapshot of the rule set without locking. Mutations (rule and rate limit
// registration, enable/disable, ordering changes) are serialized, drop every
// derived cache and then publish a new snapshot.
package engine
