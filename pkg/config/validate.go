package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/robfig/cron/v3"

	"mercator-hq/arbiter/pkg/limits/ratelimit"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// HasField reports whether any error refers to field.
func (e ValidationError) HasField(field string) bool {
	for _, fe := range e.Errors {
		if fe.Field == field {
			return true
		}
	}
	return false
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateRules(&cfg.Rules)...)
	errs = append(errs, validateRateLimits(cfg.RateLimits)...)
	errs = append(errs, validateCache(&cfg.Cache)...)
	errs = append(errs, validateAudit(&cfg.Audit)...)
	errs = append(errs, validateApproval(&cfg.Approval)...)
	errs = append(errs, validateNotify(&cfg.Notify)...)
	errs = append(errs, validateLimits(&cfg.Limits)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid listen address %q: %v", cfg.ListenAddress, err),
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "read timeout must be positive"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.write_timeout", Message: "write timeout must be positive"})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.idle_timeout", Message: "idle timeout must be positive"})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.shutdown_timeout", Message: "shutdown timeout must be positive"})
	}

	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "server.max_header_bytes",
			Message: "max header bytes must be non-negative",
		})
	}
	if cfg.MaxHeaderBytes > 10*1024*1024 { // 10MB is excessive
		errs = append(errs, FieldError{
			Field:   "server.max_header_bytes",
			Message: "max header bytes exceeds reasonable limit (10MB)",
		})
	}
	if cfg.MaxBodyBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "server.max_body_bytes",
			Message: "max body bytes must be non-negative",
		})
	}
	if cfg.MaxInFlight < 0 {
		errs = append(errs, FieldError{
			Field:   "server.max_in_flight",
			Message: "max in-flight requests must be non-negative",
		})
	}

	if cfg.Auth.Enabled {
		if len(cfg.Auth.Keys) == 0 {
			errs = append(errs, FieldError{
				Field:   "server.auth.keys",
				Message: "at least one key is required when auth is enabled",
			})
		}
		seen := make(map[string]bool, len(cfg.Auth.Keys))
		for i, k := range cfg.Auth.Keys {
			field := fmt.Sprintf("server.auth.keys[%d]", i)
			if k.ID == "" {
				errs = append(errs, FieldError{Field: field + ".id", Message: "key id is required"})
			} else if seen[k.ID] {
				errs = append(errs, FieldError{Field: field + ".id", Message: fmt.Sprintf("duplicate key id %q", k.ID)})
			}
			seen[k.ID] = true
			if len(k.Key) < 16 {
				errs = append(errs, FieldError{Field: field + ".key", Message: "key must be at least 16 characters"})
			}
		}
	}

	return errs
}

func validateRules(cfg *RulesConfig) []FieldError {
	var errs []FieldError

	switch cfg.Mode {
	case "file":
		if cfg.File.Path == "" {
			errs = append(errs, FieldError{
				Field:   "rules.file.path",
				Message: "rules path is required in file mode",
			})
		}
		if cfg.File.Debounce < 0 {
			errs = append(errs, FieldError{
				Field:   "rules.file.debounce",
				Message: "debounce must be non-negative",
			})
		}
	case "git":
		if err := cfg.Git.Repository.Validate(); err != nil {
			errs = append(errs, FieldError{
				Field:   "rules.git.repository",
				Message: err.Error(),
			})
		}
		if _, err := cron.ParseStandard(cfg.Git.Poll.Schedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "rules.git.poll.schedule",
				Message: fmt.Sprintf("invalid schedule %q: %v", cfg.Git.Poll.Schedule, err),
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "rules.mode",
			Message: fmt.Sprintf("invalid rules mode %q: must be 'file' or 'git'", cfg.Mode),
		})
	}

	return errs
}

func validateRateLimits(limits []ratelimit.Config) []FieldError {
	var errs []FieldError
	seen := make(map[string]bool, len(limits))

	for i, l := range limits {
		field := fmt.Sprintf("rate_limits[%d]", i)
		if err := l.Validate(); err != nil {
			errs = append(errs, FieldError{Field: field, Message: err.Error()})
			continue
		}
		if seen[l.ID] {
			errs = append(errs, FieldError{
				Field:   field + ".id",
				Message: fmt.Sprintf("duplicate rate limit id %q", l.ID),
			})
		}
		seen[l.ID] = true
	}

	return errs
}

func validateCache(cfg *CacheConfig) []FieldError {
	var errs []FieldError

	if cfg.TTL < 0 {
		errs = append(errs, FieldError{Field: "cache.ttl", Message: "ttl must be non-negative"})
	}
	if cfg.MaxEntries < 0 {
		errs = append(errs, FieldError{Field: "cache.max_entries", Message: "max entries must be non-negative"})
	}
	if cfg.CleanupInterval < 0 {
		errs = append(errs, FieldError{Field: "cache.cleanup_interval", Message: "cleanup interval must be non-negative"})
	}

	return errs
}

func validateAudit(cfg *AuditConfig) []FieldError {
	var errs []FieldError

	if !cfg.IsEnabled() {
		return nil
	}

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{
				Field:   "audit.sqlite.path",
				Message: "sqlite path is required when backend is 'sqlite'",
			})
		}
		if cfg.SQLite.MaxOpenConns < 0 {
			errs = append(errs, FieldError{
				Field:   "audit.sqlite.max_open_conns",
				Message: "max open connections must be non-negative",
			})
		}
		if cfg.SQLite.MaxIdleConns > cfg.SQLite.MaxOpenConns {
			errs = append(errs, FieldError{
				Field:   "audit.sqlite.max_idle_conns",
				Message: "max idle connections cannot exceed max open connections",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "audit.backend",
			Message: fmt.Sprintf("invalid audit backend %q: must be 'memory' or 'sqlite'", cfg.Backend),
		})
	}

	if cfg.Recorder.AsyncBuffer < 0 {
		errs = append(errs, FieldError{
			Field:   "audit.recorder.async_buffer",
			Message: "async buffer must be non-negative",
		})
	}

	if cfg.Retention.RetentionDays < 0 {
		errs = append(errs, FieldError{
			Field:   "audit.retention.retention_days",
			Message: "retention days must be non-negative",
		})
	}
	if cfg.Retention.MaxRecords < 0 {
		errs = append(errs, FieldError{
			Field:   "audit.retention.max_records",
			Message: "max records must be non-negative",
		})
	}
	if cfg.Retention.PruneSchedule != "" {
		if _, err := cron.ParseStandard(cfg.Retention.PruneSchedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "audit.retention.prune_schedule",
				Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.Retention.PruneSchedule, err),
			})
		}
	}
	if cfg.Retention.ArchiveBeforeDelete && cfg.Retention.ArchivePath == "" {
		errs = append(errs, FieldError{
			Field:   "audit.retention.archive_path",
			Message: "archive path is required when archive_before_delete is enabled",
		})
	}

	return errs
}

func validateApproval(cfg *ApprovalConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "redis":
		errs = append(errs, validateRedis("approval.redis", &cfg.Redis)...)
	default:
		errs = append(errs, FieldError{
			Field:   "approval.backend",
			Message: fmt.Sprintf("invalid approval backend %q: must be 'memory' or 'redis'", cfg.Backend),
		})
	}

	if cfg.Timeout < 0 {
		errs = append(errs, FieldError{Field: "approval.timeout", Message: "timeout must be positive"})
	}
	if cfg.Retention < 0 {
		errs = append(errs, FieldError{Field: "approval.retention", Message: "retention must be non-negative"})
	}

	return errs
}

func validateNotify(cfg *NotifyConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "log":
	case "redis":
		errs = append(errs, validateRedis("notify.redis", &cfg.Redis)...)
		if cfg.Channel == "" {
			errs = append(errs, FieldError{
				Field:   "notify.channel",
				Message: "channel is required when backend is 'redis'",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "notify.backend",
			Message: fmt.Sprintf("invalid notify backend %q: must be 'log' or 'redis'", cfg.Backend),
		})
	}

	if cfg.Buffer < 0 {
		errs = append(errs, FieldError{Field: "notify.buffer", Message: "buffer must be non-negative"})
	}

	return errs
}

func validateRedis(prefix string, cfg *RedisConfig) []FieldError {
	var errs []FieldError

	if cfg.Address == "" {
		errs = append(errs, FieldError{Field: prefix + ".address", Message: "redis address is required"})
	} else if _, _, err := net.SplitHostPort(cfg.Address); err != nil {
		errs = append(errs, FieldError{
			Field:   prefix + ".address",
			Message: fmt.Sprintf("invalid redis address %q: %v", cfg.Address, err),
		})
	}
	if cfg.DB < 0 {
		errs = append(errs, FieldError{Field: prefix + ".db", Message: "db must be non-negative"})
	}

	return errs
}

func validateLimits(cfg *LimitsConfig) []FieldError {
	var errs []FieldError

	switch cfg.Storage {
	case "memory":
	case "sqlite":
		if cfg.SQLitePath == "" {
			errs = append(errs, FieldError{
				Field:   "limits.sqlite_path",
				Message: "sqlite path is required when storage is 'sqlite'",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "limits.storage",
			Message: fmt.Sprintf("invalid limits storage %q: must be 'memory' or 'sqlite'", cfg.Storage),
		})
	}

	if cfg.PersistInterval < 0 {
		errs = append(errs, FieldError{Field: "limits.persist_interval", Message: "persist interval must be positive"})
	}
	if cfg.Retention < 0 {
		errs = append(errs, FieldError{Field: "limits.retention", Message: "retention must be non-negative"})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if cfg.Logging.Level == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: "logging level is required",
		})
	} else if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if cfg.Logging.Format == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: "logging format is required",
		})
	} else if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json' or 'text'", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.IsEnabled() && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with '/' when metrics are enabled",
		})
	}

	if cfg.Tracing.Enabled {
		switch cfg.Tracing.Sampler {
		case "always", "never":
		case "ratio":
			if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
				errs = append(errs, FieldError{
					Field:   "telemetry.tracing.sample_ratio",
					Message: fmt.Sprintf("sample ratio must be between 0.0 and 1.0, got %g", cfg.Tracing.SampleRatio),
				})
			}
		default:
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sampler",
				Message: fmt.Sprintf("invalid sampler %q: must be 'always', 'never', or 'ratio'", cfg.Tracing.Sampler),
			})
		}
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.endpoint",
				Message: "endpoint is required when tracing is enabled",
			})
		}
	}

	return errs
}
