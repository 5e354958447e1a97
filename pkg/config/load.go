package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"mercator-hq/arbiter/pkg/rules/git"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ARBITER_"

// DotEnvFile is loaded into the environment before overrides are applied,
// when it exists. Variables already set in the environment win.
var DotEnvFile = ".env"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML and applies defaults without validating.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention ARBITER_SECTION_FIELD (e.g., ARBITER_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file and apply defaults
// 2. Load DotEnvFile into the environment if present
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

func loadDotEnv() error {
	if DotEnvFile == "" {
		return nil
	}
	if err := godotenv.Load(DotEnvFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", DotEnvFile, err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Unparseable values are ignored.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	envString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("SERVER_IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	envDuration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	envInt("SERVER_MAX_IN_FLIGHT", &cfg.Server.MaxInFlight)
	if key := os.Getenv(EnvPrefix + "SERVER_API_KEY"); key != "" {
		cfg.Server.Auth.Enabled = true
		cfg.Server.Auth.Keys = append(cfg.Server.Auth.Keys, APIKeyConfig{ID: "env", Key: key})
	}

	// Engine overrides
	envBool("ENGINE_STRICT_MODE", &cfg.Engine.StrictMode)
	envBoolPtr("ENGINE_DEPENDENCY_AWARE", &cfg.Engine.DependencyAware)

	// Rules overrides
	envString("RULES_MODE", &cfg.Rules.Mode)
	envString("RULES_FILE_PATH", &cfg.Rules.File.Path)
	envBool("RULES_FILE_WATCH", &cfg.Rules.File.Watch)
	envString("RULES_GIT_URL", &cfg.Rules.Git.Repository.URL)
	envString("RULES_GIT_BRANCH", &cfg.Rules.Git.Repository.Branch)
	envString("RULES_GIT_PATH", &cfg.Rules.Git.Repository.Path)
	envString("RULES_GIT_TOKEN", &cfg.Rules.Git.Repository.Auth.Token)
	envString("RULES_GIT_SCHEDULE", &cfg.Rules.Git.Poll.Schedule)
	if cfg.Rules.Git.Repository.Auth.Token != "" && cfg.Rules.Git.Repository.Auth.Type == "" {
		cfg.Rules.Git.Repository.Auth.Type = git.AuthToken
	}

	// Cache overrides
	envBoolPtr("CACHE_ENABLED", &cfg.Cache.Enabled)
	envDuration("CACHE_TTL", &cfg.Cache.TTL)
	envInt("CACHE_MAX_ENTRIES", &cfg.Cache.MaxEntries)

	// Audit overrides
	envBoolPtr("AUDIT_ENABLED", &cfg.Audit.Enabled)
	envString("AUDIT_BACKEND", &cfg.Audit.Backend)
	envString("AUDIT_SQLITE_PATH", &cfg.Audit.SQLite.Path)
	envInt("AUDIT_RETENTION_DAYS", &cfg.Audit.Retention.RetentionDays)

	// Approval overrides
	envString("APPROVAL_BACKEND", &cfg.Approval.Backend)
	envDuration("APPROVAL_TIMEOUT", &cfg.Approval.Timeout)
	envString("APPROVAL_REDIS_ADDRESS", &cfg.Approval.Redis.Address)
	envString("APPROVAL_REDIS_PASSWORD", &cfg.Approval.Redis.Password)

	// Notify overrides
	envString("NOTIFY_BACKEND", &cfg.Notify.Backend)
	envString("NOTIFY_CHANNEL", &cfg.Notify.Channel)
	envString("NOTIFY_REDIS_ADDRESS", &cfg.Notify.Redis.Address)
	envString("NOTIFY_REDIS_PASSWORD", &cfg.Notify.Redis.Password)

	// Limits overrides
	envString("LIMITS_STORAGE", &cfg.Limits.Storage)
	envString("LIMITS_SQLITE_PATH", &cfg.Limits.SQLitePath)
	envDuration("LIMITS_PERSIST_INTERVAL", &cfg.Limits.PersistInterval)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBoolPtr("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
}

func envString(name string, dst *string) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		*dst = val
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envBoolPtr(name string, dst **bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = &b
		}
	}
}
