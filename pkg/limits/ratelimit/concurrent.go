package ratelimit

import (
	"sync/atomic"
)

// ConcurrentLimiter caps the number of evaluations in flight at once.
// It is a lock-free counting semaphore; the HTTP server uses it to shed load
// before the engine is reached.
//
//	if !gate.Acquire() {
//	    // reject with 503
//	}
//	defer gate.Release()
type ConcurrentLimiter struct {
	limit   int64
	current atomic.Int64
}

// NewConcurrentLimiter creates a limiter admitting at most limit callers.
// A limit of zero or less admits everyone.
func NewConcurrentLimiter(limit int) *ConcurrentLimiter {
	return &ConcurrentLimiter{limit: int64(limit)}
}

// Acquire takes a slot. It returns false when the limit is reached; callers
// that get true must call Release.
func (cl *ConcurrentLimiter) Acquire() bool {
	if cl.limit <= 0 {
		cl.current.Add(1)
		return true
	}
	if cl.current.Add(1) > cl.limit {
		cl.current.Add(-1)
		return false
	}
	return true
}

// Release returns a slot taken by Acquire.
func (cl *ConcurrentLimiter) Release() {
	cl.current.Add(-1)
}

// Current returns the number of callers holding a slot.
func (cl *ConcurrentLimiter) Current() int64 {
	return cl.current.Load()
}

// Limit returns the configured limit.
func (cl *ConcurrentLimiter) Limit() int64 {
	return cl.limit
}

// Remaining returns the number of free slots, or -1 when unlimited.
func (cl *ConcurrentLimiter) Remaining() int64 {
	if cl.limit <= 0 {
		return -1
	}
	remaining := cl.limit - cl.current.Load()
	if remaining < 0 {
		return 0
	}
	return remaining
}
