package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB
	DefaultMaxBodyBytes    = int64(1048576)
	DefaultMaxInFlight     = 256

	// Rules defaults
	DefaultRulesMode         = "file"
	DefaultRulesFilePath     = "./rules"
	DefaultRulesDebounce     = 200 * time.Millisecond
	DefaultRulesMaxFileSize  = int64(1 << 20)
	DefaultRulesGitBranch    = "main"
	DefaultRulesGitTimeout   = 30 * time.Second
	DefaultRulesGitSchedule  = "@every 30s"
	DefaultRulesGitLocalPath = "data/rules-repo"

	// Cache defaults
	DefaultCacheTTL             = 30 * time.Second
	DefaultCacheMaxEntries      = 10000
	DefaultCacheCleanupInterval = time.Minute

	// Audit defaults
	DefaultAuditBackend              = "sqlite"
	DefaultAuditSQLitePath           = "data/audit.db"
	DefaultAuditSQLiteMaxOpenConns   = 10
	DefaultAuditSQLiteMaxIdleConns   = 5
	DefaultAuditSQLiteBusyTimeout    = 5 * time.Second
	DefaultAuditRecorderAsyncBuffer  = 1000
	DefaultAuditRecorderWriteTimeout = 5 * time.Second
	DefaultAuditRetentionDays        = 90
	DefaultAuditRetentionSchedule    = "0 3 * * *"
	DefaultAuditRetentionArchivePath = "data/audit-archive/"

	// Approval defaults
	DefaultApprovalBackend   = "memory"
	DefaultApprovalTimeout   = 24 * time.Hour
	DefaultApprovalRetention = 7 * 24 * time.Hour
	DefaultRedisAddress      = "127.0.0.1:6379"
	DefaultApprovalKeyPrefix = "arbiter:approval:"

	// Notify defaults
	DefaultNotifyBackend = "log"
	DefaultNotifyChannel = "arbiter:rate_limit_hits"
	DefaultNotifyBuffer  = 256

	// Limits defaults
	DefaultLimitsStorage         = "memory"
	DefaultLimitsSQLitePath      = "data/limits.db"
	DefaultLimitsPersistInterval = 30 * time.Second
	DefaultLimitsRetention       = 24 * time.Hour

	// Telemetry defaults
	DefaultLoggingLevel   = "info"
	DefaultLoggingFormat  = "json"
	DefaultPrometheusPath = "/metrics"
	DefaultTracingSampler = "ratio"
	DefaultTracingRatio   = 0.1
	DefaultTracingAddress = "localhost:4317"
	DefaultServiceName    = "arbiter"
	DefaultTracingTimeout = 10 * time.Second
)

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values. Boolean settings
// that default to true are pointers, so an explicit false survives.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyRulesDefaults(&cfg.Rules)

	// Cache defaults
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = DefaultCacheTTL
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = DefaultCacheMaxEntries
	}
	if cfg.Cache.CleanupInterval == 0 {
		cfg.Cache.CleanupInterval = DefaultCacheCleanupInterval
	}

	applyAuditDefaults(&cfg.Audit)

	// Approval defaults
	if cfg.Approval.Backend == "" {
		cfg.Approval.Backend = DefaultApprovalBackend
	}
	if cfg.Approval.Timeout == 0 {
		cfg.Approval.Timeout = DefaultApprovalTimeout
	}
	if cfg.Approval.Retention == 0 {
		cfg.Approval.Retention = DefaultApprovalRetention
	}
	if cfg.Approval.Redis.Address == "" {
		cfg.Approval.Redis.Address = DefaultRedisAddress
	}
	if cfg.Approval.Redis.KeyPrefix == "" {
		cfg.Approval.Redis.KeyPrefix = DefaultApprovalKeyPrefix
	}

	// Notify defaults
	if cfg.Notify.Backend == "" {
		cfg.Notify.Backend = DefaultNotifyBackend
	}
	if cfg.Notify.Channel == "" {
		cfg.Notify.Channel = DefaultNotifyChannel
	}
	if cfg.Notify.Buffer == 0 {
		cfg.Notify.Buffer = DefaultNotifyBuffer
	}
	if cfg.Notify.Redis.Address == "" {
		cfg.Notify.Redis.Address = DefaultRedisAddress
	}

	// Limits defaults
	if cfg.Limits.Storage == "" {
		cfg.Limits.Storage = DefaultLimitsStorage
	}
	if cfg.Limits.SQLitePath == "" {
		cfg.Limits.SQLitePath = DefaultLimitsSQLitePath
	}
	if cfg.Limits.PersistInterval == 0 {
		cfg.Limits.PersistInterval = DefaultLimitsPersistInterval
	}
	if cfg.Limits.Retention == 0 {
		cfg.Limits.Retention = DefaultLimitsRetention
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultPrometheusPath
	}
	applyTracingDefaults(&cfg.Telemetry.Tracing)
}

func applyTracingDefaults(t *TracingConfig) {
	if t.Sampler == "" {
		t.Sampler = DefaultTracingSampler
		if t.SampleRatio == 0 {
			t.SampleRatio = DefaultTracingRatio
		}
	}
	if t.Endpoint == "" {
		t.Endpoint = DefaultTracingAddress
	}
	if t.ServiceName == "" {
		t.ServiceName = DefaultServiceName
	}
	if t.Timeout == 0 {
		t.Timeout = DefaultTracingTimeout
	}
}

func applyServerDefaults(s *ServerConfig) {
	if s.ListenAddress == "" {
		s.ListenAddress = DefaultListenAddress
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}
	if s.MaxHeaderBytes == 0 {
		s.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if s.MaxBodyBytes == 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if s.MaxInFlight == 0 {
		s.MaxInFlight = DefaultMaxInFlight
	}
}

func applyRulesDefaults(r *RulesConfig) {
	if r.Mode == "" {
		r.Mode = DefaultRulesMode
	}
	if r.File.Path == "" {
		r.File.Path = DefaultRulesFilePath
	}
	if r.File.Debounce == 0 {
		r.File.Debounce = DefaultRulesDebounce
	}
	if r.File.MaxFileSize == 0 {
		r.File.MaxFileSize = DefaultRulesMaxFileSize
	}

	repo := &r.Git.Repository
	if repo.Branch == "" {
		repo.Branch = DefaultRulesGitBranch
	}
	if repo.Timeout == 0 {
		repo.Timeout = DefaultRulesGitTimeout
	}
	if repo.LocalPath == "" {
		repo.LocalPath = DefaultRulesGitLocalPath
	}
	if r.Git.Poll.Schedule == "" {
		r.Git.Poll.Schedule = DefaultRulesGitSchedule
	}
}

func applyAuditDefaults(a *AuditConfig) {
	if a.Backend == "" {
		a.Backend = DefaultAuditBackend
	}
	if a.SQLite.Path == "" {
		a.SQLite.Path = DefaultAuditSQLitePath
	}
	if a.SQLite.MaxOpenConns == 0 {
		a.SQLite.MaxOpenConns = DefaultAuditSQLiteMaxOpenConns
	}
	if a.SQLite.MaxIdleConns == 0 {
		a.SQLite.MaxIdleConns = DefaultAuditSQLiteMaxIdleConns
	}
	if a.SQLite.BusyTimeout == 0 {
		a.SQLite.BusyTimeout = DefaultAuditSQLiteBusyTimeout
	}
	if a.Recorder.AsyncBuffer == 0 {
		a.Recorder.AsyncBuffer = DefaultAuditRecorderAsyncBuffer
	}
	if a.Recorder.WriteTimeout == 0 {
		a.Recorder.WriteTimeout = DefaultAuditRecorderWriteTimeout
	}
	if a.Retention.RetentionDays == 0 {
		a.Retention.RetentionDays = DefaultAuditRetentionDays
	}
	if a.Retention.PruneSchedule == "" {
		a.Retention.PruneSchedule = DefaultAuditRetentionSchedule
	}
	if a.Retention.ArchivePath == "" {
		a.Retention.ArchivePath = DefaultAuditRetentionArchivePath
	}
}
