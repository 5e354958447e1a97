package storage

import (
	"context"
	"time"
)

// Backend persists rate limit window state so counters survive a restart.
// Implementations must be thread-safe.
type Backend interface {
	// Save persists the state of one window, replacing any previous state
	// for the same limit and scope key.
	Save(ctx context.Context, state *WindowState) error

	// Load retrieves the state for a limit and scope key.
	// Returns nil if no state exists.
	Load(ctx context.Context, limitID string, scopeKey string) (*WindowState, error)

	// Delete removes the state for a limit and scope key.
	// No-op if the state doesn't exist.
	Delete(ctx context.Context, limitID string, scopeKey string) error

	// List returns the states of one limit, or of every limit when limitID
	// is empty.
	List(ctx context.Context, limitID string) ([]*WindowState, error)

	// Cleanup removes states not updated since olderThan.
	// Returns the number of entries deleted.
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)

	// Close releases any resources held by the backend.
	Close() error
}

// WindowState is the persisted form of one sliding window counter.
type WindowState struct {
	// LimitID is the rate limit config the window belongs to.
	LimitID string

	// ScopeKey is the bucket key (agent id, session id, "global", ...).
	ScopeKey string

	// Window is the config window the buckets were recorded under.
	Window time.Duration

	// BucketSize is the granularity of each bucket.
	BucketSize time.Duration

	// Buckets contains time-stamped request counts.
	Buckets []WindowBucket

	// LastUpdated is when this state was last saved.
	LastUpdated time.Time

	// CreatedAt is when this state was first saved.
	CreatedAt time.Time
}

// WindowBucket represents a single bucket in a sliding window.
type WindowBucket struct {
	// Timestamp is when this bucket started.
	Timestamp time.Time

	// Value is the request count for this bucket.
	Value int64
}

// Total returns the sum of all bucket values.
func (s *WindowState) Total() int64 {
	var total int64
	for _, b := range s.Buckets {
		total += b.Value
	}
	return total
}

func validateKey(limitID, scopeKey string) error {
	if limitID == "" {
		return errEmptyLimitID
	}
	if scopeKey == "" {
		return errEmptyScopeKey
	}
	return nil
}
