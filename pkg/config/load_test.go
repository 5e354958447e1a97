package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arbiter.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

// withoutDotEnv keeps a stray .env in the package directory out of the test.
func withoutDotEnv(t *testing.T) {
	t.Helper()
	prev := DotEnvFile
	DotEnvFile = filepath.Join(t.TempDir(), "missing.env")
	t.Cleanup(func() { DotEnvFile = prev })
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: "0.0.0.0:8080"
  read_timeout: "60s"
  max_in_flight: 32

engine:
  strict_mode: true
  dependency_aware: false

rules:
  mode: file
  file:
    path: ./rules
    watch: true

cache:
  ttl: 45s

audit:
  backend: memory

approval:
  backend: redis
  redis:
    address: "redis:6379"

telemetry:
  logging:
    level: debug
    format: text
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:8080" {
		t.Errorf("expected listen address %q, got %q", "0.0.0.0:8080", cfg.Server.ListenAddress)
	}
	if cfg.Server.ReadTimeout != 60*time.Second {
		t.Errorf("expected read timeout 60s, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Server.WriteTimeout != DefaultWriteTimeout {
		t.Errorf("expected default write timeout, got %v", cfg.Server.WriteTimeout)
	}
	if cfg.Server.MaxInFlight != 32 {
		t.Errorf("expected max in flight 32, got %d", cfg.Server.MaxInFlight)
	}
	if !cfg.Engine.StrictMode || cfg.Engine.IsDependencyAware() {
		t.Errorf("unexpected engine config: %+v", cfg.Engine)
	}
	if !cfg.Rules.File.Watch {
		t.Error("expected rules watch to be enabled")
	}
	if cfg.Cache.TTL != 45*time.Second {
		t.Errorf("expected cache ttl 45s, got %v", cfg.Cache.TTL)
	}
	if cfg.Approval.Redis.Address != "redis:6379" {
		t.Errorf("expected redis address, got %q", cfg.Approval.Redis.Address)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("expected logging level debug, got %q", cfg.Telemetry.Logging.Level)
	}
}

func TestLoadConfig_GitMode(t *testing.T) {
	path := writeConfig(t, `
rules:
  mode: git
  git:
    repository:
      url: https://example.com/rules.git
      path: policies
      auth:
        type: token
        token: secret
    poll:
      schedule: "*/5 * * * *"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	repo := cfg.Rules.Git.Repository
	if repo.URL != "https://example.com/rules.git" || repo.Path != "policies" {
		t.Errorf("unexpected repository: %+v", repo)
	}
	if repo.Branch != DefaultRulesGitBranch {
		t.Errorf("expected default branch, got %q", repo.Branch)
	}
	if repo.Auth.Token != "secret" {
		t.Errorf("expected token to be loaded")
	}
	if cfg.Rules.Git.Poll.Schedule != "*/5 * * * *" {
		t.Errorf("unexpected schedule %q", cfg.Rules.Git.Poll.Schedule)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "invalid yaml",
			content: "server: [",
			wantErr: "failed to parse",
		},
		{
			name:    "invalid rules mode",
			content: "rules:\n  mode: s3\n",
			wantErr: "rules.mode",
		},
		{
			name:    "git mode without url",
			content: "rules:\n  mode: git\n",
			wantErr: "rules.git.repository",
		},
		{
			name:    "invalid rate limit",
			content: "rate_limits:\n  - id: x\n    window: 1m\n",
			wantErr: "rate_limits[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestLoadConfig_ValidationErrorUnwraps(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "limits:\n  storage: etcd\n"))

	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
	if !verr.HasField("limits.storage") {
		t.Errorf("expected limits.storage error, got %v", verr.Errors)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	withoutDotEnv(t)
	path := writeConfig(t, `
server:
  listen_address: "127.0.0.1:8080"
telemetry:
  logging:
    level: info
`)

	t.Setenv("ARBITER_SERVER_LISTEN_ADDRESS", "0.0.0.0:9090")
	t.Setenv("ARBITER_SERVER_READ_TIMEOUT", "120s")
	t.Setenv("ARBITER_SERVER_MAX_IN_FLIGHT", "8")
	t.Setenv("ARBITER_CACHE_ENABLED", "false")
	t.Setenv("ARBITER_ENGINE_STRICT_MODE", "true")
	t.Setenv("ARBITER_TELEMETRY_LOGGING_LEVEL", "debug")
	t.Setenv("ARBITER_AUDIT_RETENTION_DAYS", "30")
	t.Setenv("ARBITER_SERVER_API_KEY", "0123456789abcdef")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:9090" {
		t.Errorf("listen address not overridden: %q", cfg.Server.ListenAddress)
	}
	if cfg.Server.ReadTimeout != 120*time.Second {
		t.Errorf("read timeout not overridden: %v", cfg.Server.ReadTimeout)
	}
	if cfg.Server.MaxInFlight != 8 {
		t.Errorf("max in flight not overridden: %d", cfg.Server.MaxInFlight)
	}
	if cfg.Cache.IsEnabled() {
		t.Error("cache not disabled by override")
	}
	if !cfg.Engine.StrictMode {
		t.Error("strict mode not enabled by override")
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("logging level not overridden: %q", cfg.Telemetry.Logging.Level)
	}
	if cfg.Audit.Retention.RetentionDays != 30 {
		t.Errorf("retention days not overridden: %d", cfg.Audit.Retention.RetentionDays)
	}
	if !cfg.Server.Auth.Enabled || len(cfg.Server.Auth.Keys) != 1 || cfg.Server.Auth.Keys[0].ID != "env" {
		t.Errorf("api key override not applied: %+v", cfg.Server.Auth)
	}
}

func TestLoadConfigWithEnvOverrides_InvalidValuesIgnored(t *testing.T) {
	withoutDotEnv(t)
	path := writeConfig(t, "server:\n  read_timeout: 10s\n")

	t.Setenv("ARBITER_SERVER_READ_TIMEOUT", "soon")
	t.Setenv("ARBITER_CACHE_ENABLED", "maybe")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("expected file value to survive, got %v", cfg.Server.ReadTimeout)
	}
	if !cfg.Cache.IsEnabled() {
		t.Error("expected cache to stay enabled")
	}
}

func TestLoadConfigWithEnvOverrides_OverrideFailsValidation(t *testing.T) {
	withoutDotEnv(t)
	path := writeConfig(t, "{}\n")
	t.Setenv("ARBITER_TELEMETRY_LOGGING_FORMAT", "xml")

	_, err := LoadConfigWithEnvOverrides(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "after environment overrides") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadConfigWithEnvOverrides_DotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := "ARBITER_NOTIFY_BACKEND=redis\nARBITER_NOTIFY_CHANNEL=from-dotenv\nARBITER_RULES_GIT_TOKEN=tok\n"
	if err := os.WriteFile(envPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	prev := DotEnvFile
	DotEnvFile = envPath
	t.Cleanup(func() { DotEnvFile = prev })

	// Exported variables win over the file. t.Setenv also restores the
	// variables godotenv sets once the test ends.
	t.Setenv("ARBITER_NOTIFY_CHANNEL", "from-env")
	t.Setenv("ARBITER_NOTIFY_BACKEND", "")
	t.Setenv("ARBITER_RULES_GIT_TOKEN", "")
	os.Unsetenv("ARBITER_NOTIFY_BACKEND")
	os.Unsetenv("ARBITER_RULES_GIT_TOKEN")

	cfg, err := LoadConfigWithEnvOverrides(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Notify.Backend != "redis" {
		t.Errorf("expected backend from .env, got %q", cfg.Notify.Backend)
	}
	if cfg.Notify.Channel != "from-env" {
		t.Errorf("expected exported channel to win, got %q", cfg.Notify.Channel)
	}
	if cfg.Rules.Git.Repository.Auth.Type != "token" {
		t.Errorf("expected token auth to be implied, got %q", cfg.Rules.Git.Repository.Auth.Type)
	}
}
