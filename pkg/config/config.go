package config

import (
	"time"

	"mercator-hq/arbiter/pkg/audit/retention"
	"mercator-hq/arbiter/pkg/limits/ratelimit"
	"mercator-hq/arbiter/pkg/rules/git"
)

// Config is the root configuration structure for Arbiter.
// It contains all configuration sections for the decision API server, the
// policy engine, rule sources, and the collaborators around the engine.
type Config struct {
	// Server contains HTTP API server configuration including listen address,
	// timeouts, and the in-flight request limit.
	Server ServerConfig `yaml:"server"`

	// Engine contains policy engine evaluation settings.
	Engine EngineConfig `yaml:"engine"`

	// Rules selects where rules are loaded from and whether they reload.
	Rules RulesConfig `yaml:"rules"`

	// RateLimits are registered with the engine at startup in addition to
	// any limits declared in rule files.
	RateLimits []ratelimit.Config `yaml:"rate_limits"`

	// Cache contains decision cache configuration.
	Cache CacheConfig `yaml:"cache"`

	// Audit contains configuration for the audit trail including backend
	// selection, recorder buffering, and retention.
	Audit AuditConfig `yaml:"audit"`

	// Approval contains configuration for the approval workflow that
	// pending verdicts are submitted to.
	Approval ApprovalConfig `yaml:"approval"`

	// Notify selects where rate limit hits are reported.
	Notify NotifyConfig `yaml:"notify"`

	// Limits contains configuration for rate limit window persistence.
	Limits LimitsConfig `yaml:"limits"`

	// Telemetry contains configuration for logging and metrics.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP API server.
type ServerConfig struct {
	// ListenAddress is the address and port for the server to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response.
	// Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for in-flight requests
	// during graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits request header size.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxBodyBytes limits request body size.
	// Default: 1048576 (1MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// MaxInFlight bounds concurrent evaluation requests. Requests beyond the
	// limit are rejected with 503. Zero means unlimited.
	// Default: 256
	MaxInFlight int `yaml:"max_in_flight"`

	// Auth protects the /v1 routes with API keys.
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig configures API key authentication. Health, version and metrics
// routes stay open.
type AuthConfig struct {
	// Enabled turns authentication on. At least one key is required.
	// Default: false
	Enabled bool `yaml:"enabled"`

	Keys []APIKeyConfig `yaml:"keys"`
}

// APIKeyConfig is one accepted key.
type APIKeyConfig struct {
	// ID names the key in logs.
	ID string `yaml:"id"`

	// Key is the secret value presented as a bearer token or X-API-Key.
	Key string `yaml:"key"`

	Disabled bool `yaml:"disabled"`
}

// EngineConfig contains policy engine settings.
type EngineConfig struct {
	// StrictMode excludes deprecated rules from evaluation.
	// Default: false
	StrictMode bool `yaml:"strict_mode"`

	// DependencyAware orders rules so dependencies run first.
	// Default: true
	DependencyAware *bool `yaml:"dependency_aware"`

	// Version is compared against rule min_version when linting. Empty uses
	// the build version.
	Version string `yaml:"version"`
}

// IsDependencyAware reports the effective dependency ordering setting.
func (c EngineConfig) IsDependencyAware() bool {
	return c.DependencyAware == nil || *c.DependencyAware
}

// RulesConfig selects the rule source.
type RulesConfig struct {
	// Mode is "file" or "git".
	// Default: "file"
	Mode string `yaml:"mode"`

	// File configures file mode.
	File FileRulesConfig `yaml:"file"`

	// Git configures git mode.
	Git GitRulesConfig `yaml:"git"`
}

// FileRulesConfig configures loading rules from the local filesystem.
type FileRulesConfig struct {
	// Path is a rule file or a directory of rule files.
	// Default: "./rules"
	Path string `yaml:"path"`

	// Watch reloads rules when files under Path change.
	// Default: false
	Watch bool `yaml:"watch"`

	// Debounce is the quiet period before a reload after a change.
	// Default: 200ms
	Debounce time.Duration `yaml:"debounce"`

	// MaxFileSize rejects larger rule files.
	// Default: 1048576 (1MB)
	MaxFileSize int64 `yaml:"max_file_size"`
}

// GitRulesConfig configures loading rules from a git repository.
type GitRulesConfig struct {
	Repository git.Config       `yaml:"repository"`
	Poll       git.PollerConfig `yaml:"poll"`
}

// CacheConfig contains decision cache configuration.
type CacheConfig struct {
	// Enabled turns the decision cache on.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// TTL is how long a cached verdict is served. Values below one second
	// are raised to one second by the engine.
	// Default: 30s
	TTL time.Duration `yaml:"ttl"`

	// MaxEntries bounds the cache.
	// Default: 10000
	MaxEntries int `yaml:"max_entries"`

	// CleanupInterval is how often expired entries are swept.
	// Default: 1m
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// IsEnabled reports the effective cache setting.
func (c CacheConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// AuditConfig contains configuration for the audit trail.
type AuditConfig struct {
	// Enabled turns audit recording on.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Backend is "memory" or "sqlite".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	SQLite AuditSQLiteConfig `yaml:"sqlite"`

	Recorder AuditRecorderConfig `yaml:"recorder"`

	Retention retention.Config `yaml:"retention"`
}

// IsEnabled reports the effective audit setting.
func (c AuditConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// AuditSQLiteConfig configures the SQLite audit backend.
type AuditSQLiteConfig struct {
	// Path is the database file.
	// Default: "data/audit.db"
	Path string `yaml:"path"`

	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// WALMode enables write-ahead logging.
	// Default: true
	WALMode *bool `yaml:"wal_mode"`

	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// IsWALMode reports the effective WAL setting.
func (c AuditSQLiteConfig) IsWALMode() bool {
	return c.WALMode == nil || *c.WALMode
}

// AuditRecorderConfig configures asynchronous audit writes.
type AuditRecorderConfig struct {
	// AsyncBuffer is the queue capacity. Events are dropped while it is full.
	// Default: 1000
	AsyncBuffer int `yaml:"async_buffer"`

	// WriteTimeout bounds each storage write.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ApprovalConfig configures the approval workflow.
type ApprovalConfig struct {
	// Backend is "memory" or "redis".
	// Default: "memory"
	Backend string `yaml:"backend"`

	// Timeout is how long a request waits for a reviewer.
	// Default: 24h
	Timeout time.Duration `yaml:"timeout"`

	// Retention keeps resolved or expired requests readable.
	// Default: 168h
	Retention time.Duration `yaml:"retention"`

	Redis RedisConfig `yaml:"redis"`
}

// NotifyConfig selects the rate limit hit notifier.
type NotifyConfig struct {
	// Backend is "log" or "redis".
	// Default: "log"
	Backend string `yaml:"backend"`

	// Channel is the Redis channel events are published on.
	// Default: "arbiter:rate_limit_hits"
	Channel string `yaml:"channel"`

	// Buffer is the publish queue capacity.
	// Default: 256
	Buffer int `yaml:"buffer"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig addresses a Redis server.
type RedisConfig struct {
	// Address is "host:port".
	// Default: "127.0.0.1:6379"
	Address string `yaml:"address"`

	Password string `yaml:"password"`

	DB int `yaml:"db"`

	// KeyPrefix namespaces approval keys.
	// Default: "arbiter:approval:"
	KeyPrefix string `yaml:"key_prefix"`
}

// LimitsConfig contains rate limit persistence configuration.
type LimitsConfig struct {
	// Storage is "memory" or "sqlite". Memory windows are lost on restart.
	// Default: "memory"
	Storage string `yaml:"storage"`

	// SQLitePath is the window database file.
	// Default: "data/limits.db"
	SQLitePath string `yaml:"sqlite_path"`

	// PersistInterval is how often windows are flushed.
	// Default: 30s
	PersistInterval time.Duration `yaml:"persist_interval"`

	// Retention drops windows that stopped changing.
	// Default: 24h
	Retention time.Duration `yaml:"retention"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	// Default: "info"
	Level string `yaml:"level"`

	// Format is json or text.
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line in each record.
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled exposes metrics on the API server.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Path is the scrape path.
	// Default: "/metrics"
	Path string `yaml:"path"`
}

// IsEnabled reports the effective metrics setting.
func (c MetricsConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// TracingConfig contains OpenTelemetry tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Only used when Sampler is "ratio".
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector address.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is reported as the service.name resource attribute.
	// Default: "arbiter"
	ServiceName string `yaml:"service_name"`

	// Insecure disables TLS towards the collector.
	Insecure bool `yaml:"insecure"`

	// Timeout bounds each export call.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}
