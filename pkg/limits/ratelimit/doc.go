// Package ratelimit tracks per-scope request counts over rolling windows and
// decides whether an agent action may proceed.
//
// # Overview
//
// A Limiter holds a set of Config values. Each config counts requests over
// its window for one scope:
//
//   - global: one shared counter
//   - agent, session, user: one counter per id
//   - action_type: one counter per action name
//
// Requests with an empty id for the scope are counted under "anonymous".
//
// # Check and Record
//
// Check is a pure read. It reports whether the next request fits under every
// matching config without counting it. Record commits the request once the
// caller has decided it proceeds:
//
//	result := limiter.Check(key)
//	if !result.Allowed {
//	    return result // rate limited
//	}
//	// ... rule evaluation ...
//	if verdict.Allowed {
//	    limiter.Record(key)
//	}
//
// A config admits requests while the window count is below
// MaxRequests+BurstLimit.
//
// # Sliding Window
//
// Counts live in a bucketed circular buffer with a granularity of 1/60th of
// the window (1ms minimum). Expired buckets are reused as time advances.
//
// # Thread Safety
//
// The config set and window index are guarded by a RWMutex. Each window has
// its own mutex, so increments on different keys never contend and no update
// is lost.
package ratelimit
