package engine

import (
	"fmt"
	"time"
)

// Cache TTL bounds.
const (
	DefaultCacheTTL = 30 * time.Second
	MinCacheTTL     = time.Second
)

// EngineConfig contains configuration for the policy evaluation engine.
type EngineConfig struct {
	// StrictMode excludes deprecated rules from evaluation.
	// Default: false.
	StrictMode bool

	// DependencyAware orders rules so that every rule runs after the rules
	// it depends on. When false rules run in priority order.
	// Default: true.
	DependencyAware bool

	// CacheEnabled turns the decision cache on.
	// Default: true.
	CacheEnabled bool

	// CacheTTL is how long a cached verdict stays valid. Values below one
	// second are raised to one second.
	// Default: 30s.
	CacheTTL time.Duration

	// CacheMaxEntries bounds the decision cache. The oldest entry is evicted
	// when the cache is full. 0 means unlimited.
	// Default: 10000.
	CacheMaxEntries int

	// CacheCleanupInterval is how often expired verdicts are swept.
	// Default: 1m.
	CacheCleanupInterval time.Duration

	// EngineVersion is compared against a rule's MinVersion when linting.
	EngineVersion string
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		StrictMode:           false,
		DependencyAware:      true,
		CacheEnabled:         true,
		CacheTTL:             DefaultCacheTTL,
		CacheMaxEntries:      10000,
		CacheCleanupInterval: time.Minute,
	}
}

// Validate validates the engine configuration.
func (c *EngineConfig) Validate() error {
	if c.CacheTTL < 0 {
		return fmt.Errorf("%w: cache ttl must not be negative", ErrInvalidConfig)
	}
	if c.CacheMaxEntries < 0 {
		return fmt.Errorf("%w: cache max entries must not be negative", ErrInvalidConfig)
	}
	if c.CacheCleanupInterval < 0 {
		return fmt.Errorf("%w: cache cleanup interval must not be negative", ErrInvalidConfig)
	}
	return nil
}

// WithStrictMode enables or disables strict mode.
func (c *EngineConfig) WithStrictMode(strict bool) *EngineConfig {
	c.StrictMode = strict
	return c
}

// WithDependencyAware enables or disables dependency-aware ordering.
func (c *EngineConfig) WithDependencyAware(enabled bool) *EngineConfig {
	c.DependencyAware = enabled
	return c
}

// WithCache configures the decision cache.
func (c *EngineConfig) WithCache(enabled bool, ttl time.Duration, maxEntries int) *EngineConfig {
	c.CacheEnabled = enabled
	c.CacheTTL = ttl
	c.CacheMaxEntries = maxEntries
	return c
}

// WithEngineVersion sets the version reported to rule linting.
func (c *EngineConfig) WithEngineVersion(version string) *EngineConfig {
	c.EngineVersion = version
	return c
}
