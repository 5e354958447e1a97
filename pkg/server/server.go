// Package server provides the Arbiter HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"mercator-hq/arbiter/pkg/approval"
	"mercator-hq/arbiter/pkg/config"
	"mercator-hq/arbiter/pkg/limits/ratelimit"
	"mercator-hq/arbiter/pkg/policy/engine"
	"mercator-hq/arbiter/pkg/server/middleware"
	"mercator-hq/arbiter/pkg/telemetry/health"
	"mercator-hq/arbiter/pkg/telemetry/metrics"
	"mercator-hq/arbiter/pkg/telemetry/tracing"
)

// Options carries the server's collaborators. Only Engine is required.
type Options struct {
	Engine *engine.Engine

	// Approvals receives a request for every pending_approval verdict.
	// Without it the approval routes answer 503.
	Approvals *approval.Workflow

	Health  *health.Checker
	Metrics *metrics.Collector

	// MetricsPath is where Metrics is exposed. Default: "/metrics"
	MetricsPath string

	Tracer *tracing.Tracer
	Logger *slog.Logger

	Version   string
	Commit    string
	BuildTime string
}

// Server is the Arbiter HTTP API server.
type Server struct {
	config     config.ServerConfig
	opts       Options
	engine     *engine.Engine
	approvals  *approval.Workflow
	health     *health.Checker
	tracer     *tracing.Tracer
	gate       *ratelimit.ConcurrentLimiter
	apiKeys    *middleware.APIKeys
	logger     *slog.Logger
	handler    http.Handler
	httpServer *http.Server

	mu           sync.RWMutex
	isRunning    bool
	shutdownOnce sync.Once
}

// NewServer creates an API server. The routes are built once here.
func NewServer(cfg *config.ServerConfig, opts Options) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config is nil")
	}
	if opts.Engine == nil {
		return nil, errors.New("engine is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = config.DefaultPrometheusPath
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = tracing.Noop()
	}
	checker := opts.Health
	if checker == nil {
		checker = health.New(0)
	}

	s := &Server{
		config:    *cfg,
		opts:      opts,
		engine:    opts.Engine,
		approvals: opts.Approvals,
		health:    checker,
		tracer:    tracer,
		gate:      ratelimit.NewConcurrentLimiter(cfg.MaxInFlight),
		logger:    logger.With("component", "server"),
	}
	if cfg.Auth.Enabled {
		keys := make([]middleware.APIKey, 0, len(cfg.Auth.Keys))
		for _, k := range cfg.Auth.Keys {
			keys = append(keys, middleware.APIKey{ID: k.ID, Key: k.Key, Disabled: k.Disabled})
		}
		s.apiKeys = middleware.NewAPIKeys(keys)
	}
	s.registerDefaultChecks()
	s.handler = s.setupRoutes()
	return s, nil
}

// registerDefaultChecks adds the rule set check. An engine without rules
// approves every action, so the server reports itself unhealthy until rules
// are loaded.
func (s *Server) registerDefaultChecks() {
	s.health.RegisterCheck("rules", func(ctx context.Context) error {
		if len(s.engine.ListRules()) == 0 {
			return errors.New("no rules loaded")
		}
		return nil
	})
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and blocks until ctx is canceled
// or the listener fails. Canceling ctx shuts the server down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		_ = ln.Close()
		return errors.New("server is already running")
	}
	s.isRunning = true
	s.httpServer = &http.Server{
		Handler:        s.handler,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
		BaseContext:    func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	srv := s.httpServer
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting api server", "address", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err, ok := <-errChan:
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		if !ok {
			return nil
		}
		return err
	}
}

// Shutdown stops accepting connections and waits for in-flight requests up
// to the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		srv := s.httpServer
		running := s.isRunning
		s.mu.Unlock()
		if !running || srv == nil {
			return
		}

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx := ctx
		if s.config.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
			defer cancel()
		}

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("api server stopped")
	})

	return shutdownErr
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
