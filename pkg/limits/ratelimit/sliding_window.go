package ratelimit

import (
	"sort"
	"sync"
	"time"
)

// SlidingWindow implements a sliding window counter for rate limiting.
//
// The sliding window tracks requests over a rolling time period. Buckets
// older than the window are reused for new time slots, which avoids the
// "reset spike" problem of fixed windows.
//
// # Algorithm
//
//  1. Add value to the bucket for the current time slot
//  2. Ignore buckets older than the window duration
//  3. Sum all remaining buckets to get current usage
//
// # Memory Efficiency
//
// Uses a circular buffer with fixed granularity to limit memory usage.
// A 1-minute window with 1-second buckets uses 61 buckets (one extra to
// cover a window that straddles slot boundaries).
//
// All methods take the current time explicitly so callers control the clock.
type SlidingWindow struct {
	window     time.Duration
	bucketSize time.Duration
	buckets    []bucket
	head       int
	lastAdd    time.Time
	mu         sync.Mutex
}

// bucket represents a single time-stamped counter bucket.
type bucket struct {
	timestamp time.Time
	value     int64
}

// NewSlidingWindow creates a new sliding window counter.
//
// The number of buckets is window/bucketSize+1. Smaller bucket sizes provide
// more accuracy but use more memory.
func NewSlidingWindow(window time.Duration, bucketSize time.Duration) *SlidingWindow {
	if bucketSize <= 0 {
		bucketSize = window
	}
	numBuckets := int(window/bucketSize) + 1

	return &SlidingWindow{
		window:     window,
		bucketSize: bucketSize,
		buckets:    make([]bucket, numBuckets),
	}
}

// Add increments the counter in the time slot containing now.
func (sw *SlidingWindow) Add(now time.Time, value int64) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.pruneLocked(now)
	b := sw.findOrCreateBucketLocked(now)
	b.value += value
	sw.lastAdd = now
}

// Count returns the total within the window ending at now and the start of
// the oldest counted slot (zero when the count is zero). It never modifies
// the window.
func (sw *SlidingWindow) Count(now time.Time) (int64, time.Time) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	cutoff := now.Add(-sw.window)
	var (
		sum    int64
		oldest time.Time
	)
	for i := range sw.buckets {
		b := sw.buckets[i]
		if b.timestamp.IsZero() || b.timestamp.Before(cutoff) || b.value == 0 {
			continue
		}
		sum += b.value
		if oldest.IsZero() || b.timestamp.Before(oldest) {
			oldest = b.timestamp
		}
	}
	return sum, oldest
}

// LastAdd returns when the window was last incremented.
func (sw *SlidingWindow) LastAdd() time.Time {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.lastAdd
}

// Reset clears all buckets.
func (sw *SlidingWindow) Reset() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	for i := range sw.buckets {
		sw.buckets[i] = bucket{}
	}
	sw.head = 0
}

// Buckets returns the non-empty buckets in timestamp order.
func (sw *SlidingWindow) Buckets() []Bucket {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	out := make([]Bucket, 0, len(sw.buckets))
	for _, b := range sw.buckets {
		if !b.timestamp.IsZero() && b.value != 0 {
			out = append(out, Bucket{Timestamp: b.timestamp, Value: b.value})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// load replaces the window content with previously exported buckets.
// Buckets already outside the window at now are skipped.
func (sw *SlidingWindow) load(now time.Time, buckets []Bucket) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	for i := range sw.buckets {
		sw.buckets[i] = bucket{}
	}
	sw.head = 0
	for _, b := range buckets {
		if b.Value == 0 || b.Timestamp.Before(now.Add(-sw.window)) {
			continue
		}
		target := sw.findOrCreateBucketLocked(b.Timestamp)
		target.value += b.Value
		if b.Timestamp.After(sw.lastAdd) {
			sw.lastAdd = b.Timestamp
		}
	}
}

// pruneLocked clears buckets older than the window.
// Caller must hold the lock.
func (sw *SlidingWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-sw.window)

	for i := range sw.buckets {
		if !sw.buckets[i].timestamp.IsZero() && sw.buckets[i].timestamp.Before(cutoff) {
			sw.buckets[i] = bucket{}
		}
	}
}

// findOrCreateBucketLocked finds the bucket for the slot containing t or
// claims a free (or the oldest) slot for it.
// Caller must hold the lock.
func (sw *SlidingWindow) findOrCreateBucketLocked(t time.Time) *bucket {
	bucketTime := t.Truncate(sw.bucketSize)

	if sw.buckets[sw.head].timestamp.Equal(bucketTime) {
		return &sw.buckets[sw.head]
	}

	for i := range sw.buckets {
		if sw.buckets[i].timestamp.Equal(bucketTime) {
			return &sw.buckets[i]
		}
	}

	targetIdx := -1
	for i := range sw.buckets {
		if sw.buckets[i].timestamp.IsZero() {
			targetIdx = i
			break
		}
	}

	if targetIdx == -1 {
		oldestIdx := 0
		oldestTime := sw.buckets[0].timestamp
		for i := 1; i < len(sw.buckets); i++ {
			if sw.buckets[i].timestamp.Before(oldestTime) {
				oldestIdx = i
				oldestTime = sw.buckets[i].timestamp
			}
		}
		targetIdx = oldestIdx
	}

	sw.buckets[targetIdx] = bucket{timestamp: bucketTime}
	sw.head = targetIdx

	return &sw.buckets[targetIdx]
}
