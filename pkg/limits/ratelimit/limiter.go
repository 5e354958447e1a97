package ratelimit

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Limiter evaluates a set of rate limit configs against incoming requests.
//
// Every enabled config whose action categories match the request is
// checked. The request is rejected by the first config (in ID order) whose
// window is full; the result names that config.
type Limiter struct {
	mu      sync.RWMutex
	configs []Config // sorted by ID
	windows map[windowKey]*SlidingWindow

	now func() time.Time
}

type windowKey struct {
	limitID  string
	scopeKey string
}

// NewLimiter creates a limiter with the given configs.
func NewLimiter(configs ...Config) (*Limiter, error) {
	l := &Limiter{
		windows: make(map[windowKey]*SlidingWindow),
		now:     time.Now,
	}
	for _, cfg := range configs {
		if err := l.SetConfig(cfg); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// SetConfig adds a config or replaces the config with the same ID.
// Counters survive a replacement that keeps the window and scope; any other
// change discards them.
func (l *Limiter) SetConfig(cfg Config) error {
	return l.SwapConfigs([]Config{cfg}, nil)
}

// SwapConfigs sets every config in set and removes the configs named in
// remove that set does not redefine, as one step. All configs are validated
// first; on error nothing changes.
func (l *Limiter) SwapConfigs(set []Config, remove []string) error {
	if err := ValidateConfigs(set); err != nil {
		return err
	}

	incoming := make(map[string]Config, len(set))
	for _, cfg := range set {
		incoming[cfg.ID] = cfg.Clone()
	}
	retire := make(map[string]bool, len(remove))
	for _, id := range remove {
		if _, redefined := incoming[id]; !redefined {
			retire[id] = true
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	next := make([]Config, 0, len(l.configs)+len(incoming))
	for _, existing := range l.configs {
		if retire[existing.ID] {
			l.dropWindowsLocked(existing.ID)
			continue
		}
		if cfg, ok := incoming[existing.ID]; ok {
			if !sameCounters(existing, cfg) {
				l.dropWindowsLocked(existing.ID)
			}
			continue
		}
		next = append(next, existing)
	}
	for _, cfg := range incoming {
		next = append(next, cfg)
	}
	sort.Slice(next, func(i, j int) bool { return next[i].ID < next[j].ID })
	l.configs = next
	return nil
}

// ValidateConfigs validates each config and rejects duplicate IDs.
func ValidateConfigs(set []Config) error {
	seen := make(map[string]bool, len(set))
	for _, cfg := range set {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if seen[cfg.ID] {
			return fmt.Errorf("%w %q: duplicate id", ErrInvalidConfig, cfg.ID)
		}
		seen[cfg.ID] = true
	}
	return nil
}

// sameCounters reports whether windows built for a can keep counting for b.
func sameCounters(a, b Config) bool {
	return a.Window == b.Window && a.BucketSize() == b.BucketSize() && a.Scope == b.Scope
}

// RemoveConfig removes a config and its counters. It returns false when no
// config has that ID.
func (l *Limiter) RemoveConfig(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, cfg := range l.configs {
		if cfg.ID == id {
			next := make([]Config, 0, len(l.configs)-1)
			next = append(next, l.configs[:i]...)
			next = append(next, l.configs[i+1:]...)
			l.configs = next
			l.dropWindowsLocked(id)
			return true
		}
	}
	return false
}

// Config returns the config with the given ID.
func (l *Limiter) Config(id string) (Config, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, cfg := range l.configs {
		if cfg.ID == id {
			return cfg.Clone(), true
		}
	}
	return Config{}, false
}

// Configs returns all configs sorted by ID.
func (l *Limiter) Configs() []Config {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Config, len(l.configs))
	for i, cfg := range l.configs {
		out[i] = cfg.Clone()
	}
	return out
}

// Check reports whether a request with this key may proceed. It does not
// count the request.
//
// An allowed result carries the tightest matching config (fewest remaining
// requests). With no matching config the result is allowed with no limit.
func (l *Limiter) Check(key Key) *CheckResult {
	now := l.now()

	l.mu.RLock()
	defer l.mu.RUnlock()

	var tightest *CheckResult
	for _, cfg := range l.configs {
		if !cfg.Enabled || !cfg.AppliesTo(key.ActionCategory) {
			continue
		}

		scopeKey := cfg.Scope.KeyFor(key)
		var (
			count  int64
			oldest time.Time
		)
		if w := l.windows[windowKey{cfg.ID, scopeKey}]; w != nil {
			count, oldest = w.Count(now)
		}

		allowance := cfg.Allowance()
		result := &CheckResult{
			Allowed:   count < allowance,
			LimitID:   cfg.ID,
			ScopeKey:  scopeKey,
			Limit:     allowance,
			Count:     count,
			Remaining: allowance - count,
		}
		if result.Remaining < 0 {
			result.Remaining = 0
		}
		if !oldest.IsZero() {
			result.Reset = oldest.Add(cfg.Window)
		} else {
			result.Reset = now.Add(cfg.Window)
		}

		if !result.Allowed {
			result.Reason = fmt.Sprintf("rate limit %q exceeded for %s %q: %d requests in %s (limit %d)",
				cfg.ID, cfg.Scope, scopeKey, count, cfg.Window, allowance)
			result.RetryAfter = result.Reset.Sub(now)
			if result.RetryAfter < 0 {
				result.RetryAfter = 0
			}
			return result
		}

		if tightest == nil || result.Remaining < tightest.Remaining {
			tightest = result
		}
	}

	if tightest == nil {
		return &CheckResult{Allowed: true}
	}
	return tightest
}

// Record counts one request against every matching config.
func (l *Limiter) Record(key Key) {
	now := l.now()

	l.mu.RLock()
	var targets []windowKey
	for _, cfg := range l.configs {
		if cfg.Enabled && cfg.AppliesTo(key.ActionCategory) {
			targets = append(targets, windowKey{cfg.ID, cfg.Scope.KeyFor(key)})
		}
	}
	l.mu.RUnlock()

	for _, wk := range targets {
		if w := l.window(wk); w != nil {
			w.Add(now, 1)
		}
	}
}

// window returns the counter for a key, creating it on first use. It
// returns nil when the config was removed concurrently.
func (l *Limiter) window(wk windowKey) *SlidingWindow {
	l.mu.RLock()
	w := l.windows[wk]
	l.mu.RUnlock()
	if w != nil {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if w = l.windows[wk]; w != nil {
		return w
	}
	cfg, ok := l.configLocked(wk.limitID)
	if !ok {
		return nil
	}
	w = NewSlidingWindow(cfg.Window, cfg.BucketSize())
	l.windows[wk] = w
	return w
}

func (l *Limiter) configLocked(id string) (Config, bool) {
	for _, cfg := range l.configs {
		if cfg.ID == id {
			return cfg, true
		}
	}
	return Config{}, false
}

func (l *Limiter) dropWindowsLocked(limitID string) {
	for wk := range l.windows {
		if wk.limitID == limitID {
			delete(l.windows, wk)
		}
	}
}

// Reset clears all counters but keeps the configs.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows = make(map[windowKey]*SlidingWindow)
}

// Snapshot exports every non-empty counter.
func (l *Limiter) Snapshot() []WindowState {
	now := l.now()

	l.mu.RLock()
	defer l.mu.RUnlock()

	states := make([]WindowState, 0, len(l.windows))
	for wk, w := range l.windows {
		if count, _ := w.Count(now); count == 0 {
			continue
		}
		states = append(states, WindowState{
			LimitID:    wk.limitID,
			ScopeKey:   wk.scopeKey,
			Window:     w.window,
			BucketSize: w.bucketSize,
			Buckets:    w.Buckets(),
		})
	}
	sort.Slice(states, func(i, j int) bool {
		if states[i].LimitID != states[j].LimitID {
			return states[i].LimitID < states[j].LimitID
		}
		return states[i].ScopeKey < states[j].ScopeKey
	})
	return states
}

// Restore loads counters exported by Snapshot. States for unknown configs or
// for configs whose window changed are skipped. It returns the number of
// counters restored.
func (l *Limiter) Restore(states []WindowState) int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	restored := 0
	for _, st := range states {
		cfg, ok := l.configLocked(st.LimitID)
		if !ok || cfg.Window != st.Window {
			continue
		}
		w := NewSlidingWindow(cfg.Window, cfg.BucketSize())
		w.load(now, st.Buckets)
		if count, _ := w.Count(now); count == 0 {
			continue
		}
		l.windows[windowKey{st.LimitID, st.ScopeKey}] = w
		restored++
	}
	return restored
}

// Cleanup drops counters with nothing left in their window and returns how
// many were removed.
func (l *Limiter) Cleanup() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for wk, w := range l.windows {
		if count, _ := w.Count(now); count == 0 {
			delete(l.windows, wk)
			removed++
		}
	}
	return removed
}

// Len returns the number of live counters.
func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.windows)
}
