// Package config provides configuration management for Arbiter.
//
// Configuration is loaded from a YAML file, completed with defaults,
// optionally overridden from the environment, and validated. Validation
// collects every problem into a single ValidationError.
//
// # Configuration Loading
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("arbiter.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("arbiter.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention ARBITER_SECTION_FIELD:
//
//   - ARBITER_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - ARBITER_RULES_GIT_TOKEN overrides rules.git.repository.auth.token
//   - ARBITER_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//   - ARBITER_SERVER_API_KEY enables server.auth and adds a key with id "env"
//
// A .env file in the working directory is loaded first when present.
// Variables already exported in the environment are not replaced by it.
//
// # Configuration Precedence
//
//  1. Default values (defaults.go)
//  2. Values from the YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Example
//
//	server:
//	  listen_address: "0.0.0.0:8080"
//	  max_in_flight: 512
//	rules:
//	  mode: git
//	  git:
//	    repository:
//	      url: https://github.com/acme/agent-rules.git
//	      branch: main
//	      path: rules
//	    poll:
//	      schedule: "@every 1m"
//	rate_limits:
//	  - id: agent-per-minute
//	    window: 1m
//	    max_requests: 60
//	    scope: agent
//	cache:
//	  ttl: 30s
//	audit:
//	  backend: sqlite
//	  sqlite:
//	    path: data/audit.db
//	  retention:
//	    retention_days: 30
//	approval:
//	  backend: redis
//	  redis:
//	    address: 127.0.0.1:6379
//	telemetry:
//	  logging:
//	    level: info
//	    format: json
//
// # Singleton Pattern
//
//	if err := config.Initialize("arbiter.yaml"); err != nil {
//	    log.Fatal(err)
//	}
//	cfg := config.GetConfig()
//
// For testing, prefer dependency injection with explicit Config instances.
package config
