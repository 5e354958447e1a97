package config

import (
	"testing"
	"time"
)

func boolPtr(b bool) *bool { return &b }

func TestEffectiveBooleans(t *testing.T) {
	tests := []struct {
		name string
		got  func(*Config) bool
		set  func(*Config)
	}{
		{
			name: "dependency aware",
			got:  func(c *Config) bool { return c.Engine.IsDependencyAware() },
			set:  func(c *Config) { c.Engine.DependencyAware = boolPtr(false) },
		},
		{
			name: "cache enabled",
			got:  func(c *Config) bool { return c.Cache.IsEnabled() },
			set:  func(c *Config) { c.Cache.Enabled = boolPtr(false) },
		},
		{
			name: "audit enabled",
			got:  func(c *Config) bool { return c.Audit.IsEnabled() },
			set:  func(c *Config) { c.Audit.Enabled = boolPtr(false) },
		},
		{
			name: "audit wal mode",
			got:  func(c *Config) bool { return c.Audit.SQLite.IsWALMode() },
			set:  func(c *Config) { c.Audit.SQLite.WALMode = boolPtr(false) },
		},
		{
			name: "metrics enabled",
			got:  func(c *Config) bool { return c.Telemetry.Metrics.IsEnabled() },
			set:  func(c *Config) { c.Telemetry.Metrics.Enabled = boolPtr(false) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			if !tt.got(cfg) {
				t.Fatal("expected default to be true")
			}

			tt.set(cfg)
			ApplyDefaults(cfg)
			if tt.got(cfg) {
				t.Error("explicit false was overwritten by defaults")
			}
		})
	}
}

func TestParse_RateLimits(t *testing.T) {
	cfg, err := Parse([]byte(`
rate_limits:
  - id: agent-per-minute
    window: 1m
    max_requests: 60
    scope: agent
  - id: global
    window_ms: 1000
    max_requests: 5
    enabled: false
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if len(cfg.RateLimits) != 2 {
		t.Fatalf("expected 2 rate limits, got %d", len(cfg.RateLimits))
	}

	agent := cfg.RateLimits[0]
	if agent.Window != time.Minute || agent.MaxRequests != 60 || !agent.Enabled {
		t.Errorf("unexpected agent limit: %+v", agent)
	}

	global := cfg.RateLimits[1]
	if global.Window != time.Second || global.Enabled {
		t.Errorf("unexpected global limit: %+v", global)
	}
	if global.Scope != "global" {
		t.Errorf("expected scope to default to global, got %q", global.Scope)
	}

	if err := Validate(cfg); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("server: [not, a, map")); err == nil {
		t.Error("expected parse error")
	}
}
