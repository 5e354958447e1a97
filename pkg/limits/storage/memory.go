package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	errNilState      = errors.New("state cannot be nil")
	errEmptyLimitID  = errors.New("limit id cannot be empty")
	errEmptyScopeKey = errors.New("scope key cannot be empty")
)

// MemoryBackend implements Backend using in-memory storage.
// All data is lost when the process exits; it is the default when no
// database path is configured.
type MemoryBackend struct {
	// states maps limitID\x00scopeKey to window state.
	states map[string]*WindowState

	mu sync.RWMutex

	// maxEntries is the maximum number of entries before the oldest is evicted.
	maxEntries int

	cleanupInterval time.Duration
	done            chan struct{}
	closeOnce       sync.Once
}

// MemoryBackendConfig configures the memory backend.
type MemoryBackendConfig struct {
	// MaxEntries is the maximum number of windows to store.
	// Default: 100,000
	MaxEntries int

	// CleanupInterval is how often to drop stale entries.
	// Default: 1 minute
	CleanupInterval time.Duration

	// RetentionPeriod is how long to keep entries that are not updated.
	// Default: 24 hours
	RetentionPeriod time.Duration
}

// NewMemoryBackend creates a new in-memory storage backend with default settings.
func NewMemoryBackend() *MemoryBackend {
	return NewMemoryBackendWithConfig(MemoryBackendConfig{})
}

// NewMemoryBackendWithConfig creates a new in-memory backend with custom configuration.
func NewMemoryBackendWithConfig(cfg MemoryBackendConfig) *MemoryBackend {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 100000
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.RetentionPeriod <= 0 {
		cfg.RetentionPeriod = 24 * time.Hour
	}

	backend := &MemoryBackend{
		states:          make(map[string]*WindowState),
		maxEntries:      cfg.MaxEntries,
		cleanupInterval: cfg.CleanupInterval,
		done:            make(chan struct{}),
	}

	go backend.cleanupLoop(cfg.RetentionPeriod)

	return backend
}

// Save persists the state of one window.
func (m *MemoryBackend) Save(ctx context.Context, state *WindowState) error {
	if state == nil {
		return errNilState
	}
	if err := validateKey(state.LimitID, state.ScopeKey); err != nil {
		return err
	}

	key := makeKey(state.LimitID, state.ScopeKey)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	stored := copyState(state)
	if existing, ok := m.states[key]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if len(m.states) >= m.maxEntries {
		m.evictOldestLocked()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.LastUpdated.IsZero() {
		stored.LastUpdated = now
	}

	m.states[key] = stored
	return nil
}

// Load retrieves the state for a limit and scope key.
func (m *MemoryBackend) Load(ctx context.Context, limitID string, scopeKey string) (*WindowState, error) {
	if err := validateKey(limitID, scopeKey); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.states[makeKey(limitID, scopeKey)]
	if !ok {
		return nil, nil
	}
	return copyState(state), nil
}

// Delete removes the state for a limit and scope key.
func (m *MemoryBackend) Delete(ctx context.Context, limitID string, scopeKey string) error {
	if err := validateKey(limitID, scopeKey); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, makeKey(limitID, scopeKey))
	return nil
}

// List returns the states of one limit, or all states when limitID is empty.
// Results are sorted by limit id and scope key.
func (m *MemoryBackend) List(ctx context.Context, limitID string) ([]*WindowState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var states []*WindowState
	for _, state := range m.states {
		if limitID == "" || state.LimitID == limitID {
			states = append(states, copyState(state))
		}
	}
	sortStates(states)
	return states, nil
}

// Cleanup removes states not updated since olderThan.
func (m *MemoryBackend) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for key, state := range m.states {
		if state.LastUpdated.Before(olderThan) {
			delete(m.states, key)
			deleted++
		}
	}
	return deleted, nil
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (m *MemoryBackend) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

// Size returns the current number of stored states.
func (m *MemoryBackend) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}

func makeKey(limitID, scopeKey string) string {
	return fmt.Sprintf("%s\x00%s", limitID, scopeKey)
}

// evictOldestLocked evicts the least recently updated entry.
// Caller must hold write lock.
func (m *MemoryBackend) evictOldestLocked() {
	var (
		oldestKey  string
		oldestTime time.Time
		found      bool
	)
	for key, state := range m.states {
		if !found || state.LastUpdated.Before(oldestTime) {
			oldestKey = key
			oldestTime = state.LastUpdated
			found = true
		}
	}
	if found {
		delete(m.states, oldestKey)
	}
}

func (m *MemoryBackend) cleanupLoop(retentionPeriod time.Duration) {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = m.Cleanup(context.Background(), time.Now().Add(-retentionPeriod))
		case <-m.done:
			return
		}
	}
}

func copyState(s *WindowState) *WindowState {
	c := *s
	c.Buckets = append([]WindowBucket(nil), s.Buckets...)
	return &c
}

func sortStates(states []*WindowState) {
	sort.Slice(states, func(i, j int) bool {
		if states[i].LimitID != states[j].LimitID {
			return states[i].LimitID < states[j].LimitID
		}
		return states[i].ScopeKey < states[j].ScopeKey
	})
}
