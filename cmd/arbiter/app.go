package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"mercator-hq/arbiter/pkg/approval"
	"mercator-hq/arbiter/pkg/audit"
	"mercator-hq/arbiter/pkg/audit/recorder"
	"mercator-hq/arbiter/pkg/audit/retention"
	auditstorage "mercator-hq/arbiter/pkg/audit/storage"
	"mercator-hq/arbiter/pkg/config"
	"mercator-hq/arbiter/pkg/limits"
	"mercator-hq/arbiter/pkg/limits/ratelimit"
	limitstorage "mercator-hq/arbiter/pkg/limits/storage"
	"mercator-hq/arbiter/pkg/notify"
	"mercator-hq/arbiter/pkg/policy/engine"
	"mercator-hq/arbiter/pkg/rules/git"
	"mercator-hq/arbiter/pkg/rules/source"
	"mercator-hq/arbiter/pkg/server"
	"mercator-hq/arbiter/pkg/telemetry/health"
	"mercator-hq/arbiter/pkg/telemetry/metrics"
	"mercator-hq/arbiter/pkg/telemetry/tracing"
)

// closeTimeout bounds each component's shutdown.
const closeTimeout = 10 * time.Second

// app holds the components started by serve. Close releases them in reverse
// start order so the engine stops before the sinks it writes to.
type app struct {
	logger  *slog.Logger
	engine  *engine.Engine
	server  *server.Server
	health  *health.Checker
	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func(ctx context.Context) error
}

func (a *app) onClose(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Close stops every component. Errors are logged, not returned.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if err := c.close(ctx); err != nil {
			a.logger.Warn("failed to close component", "component", c.name, "error", err)
		}
		cancel()
	}
	a.closers = nil
}

// newApp builds every component named by cfg. On error, whatever was
// already started is closed.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger, health: health.New(0)}
	if err := a.build(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context, cfg *config.Config) error {
	logger := a.logger

	tracer, err := tracing.New(&cfg.Telemetry.Tracing, Version)
	if err != nil {
		return fmt.Errorf("failed to create tracer: %w", err)
	}
	a.onClose("tracer", tracer.Shutdown)

	var collector *metrics.Collector
	var observer engine.Observer
	if cfg.Telemetry.Metrics.IsEnabled() {
		collector = metrics.NewCollector(metrics.Config{}, nil)
		observer = collector.Engine()
	}

	auditSink, err := a.startAudit(ctx, cfg.Audit)
	if err != nil {
		return err
	}

	notifier, err := a.startNotifier(cfg.Notify)
	if err != nil {
		return err
	}

	workflow, err := a.startApprovals(cfg.Approval)
	if err != nil {
		return err
	}

	limiter, err := ratelimit.NewLimiter()
	if err != nil {
		return err
	}

	eng, err := engine.New(engineConfig(cfg), engine.Options{
		Logger:   logger,
		Limiter:  limiter,
		Audit:    auditSink,
		Notifier: notifier,
		Observer: observer,
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	a.engine = eng
	a.onClose("engine", func(context.Context) error { return eng.Close() })

	for _, rl := range cfg.RateLimits {
		if err := eng.RegisterRateLimitConfig(rl); err != nil {
			return fmt.Errorf("rate limit %q: %w", rl.ID, err)
		}
	}

	if err := a.startRules(ctx, cfg.Rules); err != nil {
		return err
	}

	// Windows are restored after every config is registered; saved windows
	// for unknown configs are skipped.
	if err := a.startPersister(ctx, cfg.Limits, limiter); err != nil {
		return err
	}

	srv, err := server.NewServer(&cfg.Server, server.Options{
		Engine:      eng,
		Approvals:   workflow,
		Health:      a.health,
		Metrics:     collector,
		MetricsPath: cfg.Telemetry.Metrics.Path,
		Tracer:      tracer,
		Logger:      logger,
		Version:     Version,
		Commit:      GitCommit,
		BuildTime:   BuildDate,
	})
	if err != nil {
		return err
	}
	a.server = srv
	return nil
}

func engineConfig(cfg *config.Config) *engine.EngineConfig {
	version := cfg.Engine.Version
	if version == "" {
		version = Version
	}
	return &engine.EngineConfig{
		StrictMode:           cfg.Engine.StrictMode,
		DependencyAware:      cfg.Engine.IsDependencyAware(),
		CacheEnabled:         cfg.Cache.IsEnabled(),
		CacheTTL:             cfg.Cache.TTL,
		CacheMaxEntries:      cfg.Cache.MaxEntries,
		CacheCleanupInterval: cfg.Cache.CleanupInterval,
		EngineVersion:        version,
	}
}

// startAudit opens the audit store and recorder. It returns a nil sink when
// auditing is disabled.
func (a *app) startAudit(ctx context.Context, cfg config.AuditConfig) (engine.AuditSink, error) {
	if !cfg.IsEnabled() {
		a.logger.Info("audit trail disabled")
		return nil, nil
	}

	var store audit.Storage
	switch cfg.Backend {
	case "sqlite":
		s, err := auditstorage.NewSQLiteStorage(&auditstorage.SQLiteConfig{
			Path:         cfg.SQLite.Path,
			MaxOpenConns: cfg.SQLite.MaxOpenConns,
			MaxIdleConns: cfg.SQLite.MaxIdleConns,
			WALMode:      cfg.SQLite.IsWALMode(),
			BusyTimeout:  cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open audit database: %w", err)
		}
		store = s
	case "memory":
		store = auditstorage.NewMemoryStorage()
	default:
		return nil, fmt.Errorf("unsupported audit backend: %s", cfg.Backend)
	}
	a.onClose("audit.storage", func(context.Context) error { return store.Close() })

	rec := recorder.New(store, &recorder.Config{
		Enabled:      true,
		AsyncBuffer:  cfg.Recorder.AsyncBuffer,
		WriteTimeout: cfg.Recorder.WriteTimeout,
	}, a.logger)
	a.onClose("audit.recorder", func(context.Context) error { return rec.Close() })

	a.health.RegisterOptionalCheck("audit", func(ctx context.Context) error {
		_, err := store.Count(ctx, &audit.Query{Limit: 1})
		return err
	})

	if cfg.Retention.PruneSchedule != "" {
		retentionCfg := cfg.Retention
		scheduler := retention.NewScheduler(retention.NewPruner(store, &retentionCfg, a.logger))
		if err := scheduler.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start audit retention: %w", err)
		}
		a.onClose("audit.retention", func(context.Context) error {
			scheduler.Stop()
			return nil
		})
		if next := scheduler.NextRun(); next != nil {
			a.logger.Debug("audit retention scheduled", "next_run", next)
		}
	}

	a.logger.Info("audit trail enabled", "backend", cfg.Backend)
	return rec, nil
}

func (a *app) startNotifier(cfg config.NotifyConfig) (engine.RateLimitNotifier, error) {
	switch cfg.Backend {
	case "log":
		return notify.NewLogNotifier(a.logger), nil
	case "redis":
		client := a.redisClient("notify", cfg.Redis)
		n := notify.NewRedisNotifier(client, notify.RedisConfig{
			Channel: cfg.Channel,
			Buffer:  cfg.Buffer,
		}, a.logger)
		a.onClose("notify", func(context.Context) error { return n.Close() })
		return n, nil
	default:
		return nil, fmt.Errorf("unsupported notify backend: %s", cfg.Backend)
	}
}

func (a *app) startApprovals(cfg config.ApprovalConfig) (*approval.Workflow, error) {
	var store approval.Store
	switch cfg.Backend {
	case "memory":
		store = approval.NewMemoryStore()
	case "redis":
		store = approval.NewRedisStore(a.redisClient("approval", cfg.Redis), cfg.Redis.KeyPrefix)
	default:
		return nil, fmt.Errorf("unsupported approval backend: %s", cfg.Backend)
	}
	return approval.NewWorkflow(store, approval.Config{
		Timeout:   cfg.Timeout,
		Retention: cfg.Retention,
	}, a.logger), nil
}

// redisClient creates a client and registers its health check and closer.
// The connection is made lazily so an unreachable server degrades health
// instead of blocking startup.
func (a *app) redisClient(name string, cfg config.RedisConfig) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	a.health.RegisterOptionalCheck(name+"_redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	a.onClose(name+".redis", func(context.Context) error { return client.Close() })
	return client
}

func fileSourceConfig(cfg config.FileRulesConfig) *source.FileSourceConfig {
	fc := source.DefaultFileSourceConfig()
	fc.MaxFileSize = cfg.MaxFileSize
	return fc
}

// startRules performs the initial load and starts watching or polling.
func (a *app) startRules(ctx context.Context, cfg config.RulesConfig) error {
	switch cfg.Mode {
	case "file":
		src := source.NewFileSource(cfg.File.Path, fileSourceConfig(cfg.File), a.logger)
		if err := a.engine.Reload(ctx, src); err != nil {
			return err
		}
		if !cfg.File.Watch {
			return nil
		}

		wc := source.DefaultWatcherConfig(cfg.File.Path)
		wc.Debounce = cfg.File.Debounce
		watcher, err := source.NewWatcher(wc, a.logger)
		if err != nil {
			return fmt.Errorf("failed to watch rules: %w", err)
		}
		go func() {
			err := watcher.Watch(ctx, func() error { return a.engine.Reload(ctx, src) })
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("rules watcher stopped", "error", err)
			}
		}()
		a.onClose("rules.watcher", func(context.Context) error { return watcher.Stop() })
		return nil

	case "git":
		repo, err := git.NewRepository(cfg.Git.Repository, a.logger)
		if err != nil {
			return err
		}
		if err := repo.Clone(ctx); err != nil {
			return fmt.Errorf("failed to clone rules repository: %w", err)
		}
		reload := func(ctx context.Context, rulesPath string) error {
			return a.engine.Reload(ctx, source.NewFileSource(rulesPath, fileSourceConfig(cfg.File), a.logger))
		}
		poller, err := git.NewPoller(repo, cfg.Git.Poll, reload, a.logger)
		if err != nil {
			return err
		}
		if err := poller.Sync(ctx); err != nil {
			return err
		}
		if err := poller.Start(ctx); err != nil {
			return err
		}
		a.onClose("rules.poller", func(context.Context) error {
			poller.Stop()
			return nil
		})
		return nil

	default:
		return fmt.Errorf("unsupported rules mode: %s", cfg.Mode)
	}
}

func (a *app) startPersister(ctx context.Context, cfg config.LimitsConfig, limiter *ratelimit.Limiter) error {
	var backend limitstorage.Backend
	switch cfg.Storage {
	case "memory":
		backend = limitstorage.NewMemoryBackend()
	case "sqlite":
		b, err := limitstorage.NewSQLiteBackend(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to open limits database: %w", err)
		}
		backend = b
	default:
		return fmt.Errorf("unsupported limits storage: %s", cfg.Storage)
	}
	a.onClose("limits.storage", func(context.Context) error { return backend.Close() })

	persister := limits.NewPersister(limiter, backend, limits.PersisterConfig{
		Interval:  cfg.PersistInterval,
		Retention: cfg.Retention,
	}, a.logger)
	if _, err := persister.Restore(ctx); err != nil {
		a.logger.Warn("failed to restore rate limit windows", "error", err)
	}
	persister.Start()
	a.onClose("limits.persister", persister.Stop)
	return nil
}
