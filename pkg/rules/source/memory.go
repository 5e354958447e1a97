package source

import (
	"context"
	"sync"

	"mercator-hq/arbiter/pkg/limits/ratelimit"
	"mercator-hq/arbiter/pkg/rules"
)

// MemorySource is an in-memory rule source, useful for tests and for
// embedding a fixed rule set.
type MemorySource struct {
	mu     sync.RWMutex
	rules  []*rules.Rule
	limits []ratelimit.Config
}

// NewMemorySource creates a source holding the given rules.
func NewMemorySource(rs ...*rules.Rule) *MemorySource {
	return &MemorySource{rules: rs}
}

// LoadRules returns copies of the stored rules and configs.
func (s *MemorySource) LoadRules(ctx context.Context) ([]*rules.Rule, []ratelimit.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rs := make([]*rules.Rule, len(s.rules))
	for i, r := range s.rules {
		rs[i] = r.Clone()
	}
	limits := make([]ratelimit.Config, len(s.limits))
	for i, l := range s.limits {
		limits[i] = l.Clone()
	}
	return rs, limits, nil
}

// Set replaces the stored rules and configs.
func (s *MemorySource) Set(rs []*rules.Rule, limits []ratelimit.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = rs
	s.limits = limits
}
