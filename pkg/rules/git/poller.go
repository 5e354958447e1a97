package git

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule polls every thirty seconds.
const DefaultSchedule = "@every 30s"

// ReloadFunc loads the rules found under rulesPath. An error leaves the
// previously loaded rules in effect.
type ReloadFunc func(ctx context.Context, rulesPath string) error

// PollerConfig configures a Poller.
type PollerConfig struct {
	// Schedule is a standard cron expression or descriptor such as
	// "@every 1m". Default: DefaultSchedule
	Schedule string `yaml:"schedule"`

	// Extensions are the file types that trigger a reload.
	// Default: .yaml, .yml, .json
	Extensions []string `yaml:"extensions"`
}

// Poller pulls a Repository on a cron schedule and reloads rules when a
// new commit touches a rule file.
type Poller struct {
	repo   *Repository
	config PollerConfig
	reload ReloadFunc
	logger *slog.Logger

	// checkMu serializes polls so a slow pull is never overlapped.
	checkMu sync.Mutex

	mu         sync.Mutex
	cron       *cron.Cron
	running    bool
	lastCommit string
	metrics    PollerMetrics
}

// NewPoller creates a poller. The schedule is validated here so a typo
// fails at startup.
func NewPoller(repo *Repository, cfg PollerConfig, reload ReloadFunc, logger *slog.Logger) (*Poller, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if reload == nil {
		return nil, fmt.Errorf("reload function is required")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid poll schedule %q: %w", cfg.Schedule, err)
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = []string{".yaml", ".yml", ".json"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Poller{
		repo:   repo,
		config: cfg,
		reload: reload,
		logger: logger.With("component", "rules.git.poller"),
	}, nil
}

// Sync performs the initial load from the current clone.
func (p *Poller) Sync(ctx context.Context) error {
	p.checkMu.Lock()
	defer p.checkMu.Unlock()

	commit, err := p.repo.CurrentCommit()
	if err != nil {
		return err
	}
	if err := p.apply(ctx, commit.SHA); err != nil {
		return err
	}
	p.logger.Info("rules loaded from repository", "commit", commit.ShortSHA())
	return nil
}

// Start schedules polling. It stops when ctx is cancelled or Stop is called.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("poller already running")
	}

	c := cron.New()
	if _, err := c.AddFunc(p.config.Schedule, func() {
		if _, err := p.Poll(ctx); err != nil {
			p.logger.Error("rules poll failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule polling: %w", err)
	}
	c.Start()
	p.cron = c
	p.running = true

	p.logger.Info("rules poller started", "schedule", p.config.Schedule)

	go func() {
		<-ctx.Done()
		p.Stop()
	}()
	return nil
}

// Stop halts polling and waits for an in-progress poll to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	c := p.cron
	p.running = false
	p.mu.Unlock()

	<-c.Stop().Done()
	p.logger.Info("rules poller stopped")
}

// IsRunning reports whether polling is scheduled.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Poll pulls once and reloads if a rule file changed. It reports whether a
// reload happened.
func (p *Poller) Poll(ctx context.Context) (bool, error) {
	p.checkMu.Lock()
	defer p.checkMu.Unlock()

	p.mu.Lock()
	p.metrics.Polls++
	p.mu.Unlock()

	result, err := p.repo.Pull(ctx)
	if err != nil {
		return false, err
	}
	if !result.HadChanges {
		return false, nil
	}

	p.logger.Info("detected new commits",
		"from", shortSHA(result.FromSHA),
		"to", shortSHA(result.ToSHA),
		"changed_files", len(result.ChangedFiles))

	if !p.touchesRules(result.ChangedFiles) {
		p.mu.Lock()
		p.metrics.SkippedChanges++
		p.lastCommit = result.ToSHA
		p.mu.Unlock()
		p.logger.Debug("no rule files changed, skipping reload", "files", result.ChangedFiles)
		return false, nil
	}

	if err := p.apply(ctx, result.ToSHA); err != nil {
		return false, err
	}
	return true, nil
}

// LastCommit is the commit the active rules were loaded from.
func (p *Poller) LastCommit() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastCommit
}

// Metrics returns a copy of the poller metrics.
func (p *Poller) Metrics() PollerMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

func (p *Poller) apply(ctx context.Context, sha string) error {
	start := time.Now()
	err := p.reload(ctx, p.repo.RulesPath())
	dur := time.Since(start)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics.LastReloadTime = time.Now()
	p.metrics.LastReloadDur = dur

	if err != nil {
		p.metrics.FailedReloads++
		p.logger.Error("rules reload failed, keeping previous rules",
			"commit", shortSHA(sha),
			"active_commit", shortSHA(p.lastCommit),
			"error", err)
		return fmt.Errorf("reload at commit %s: %w", shortSHA(sha), err)
	}

	p.metrics.SuccessfulReloads++
	p.lastCommit = sha
	p.logger.Info("rules reloaded", "commit", shortSHA(sha), "duration", dur)
	return nil
}

func (p *Poller) touchesRules(files []string) bool {
	prefix := filepath.ToSlash(filepath.Clean(p.repo.config.Path))
	for _, f := range files {
		if prefix != "." && f != prefix && !strings.HasPrefix(f, prefix+"/") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(f))
		for _, want := range p.config.Extensions {
			if ext == want {
				return true
			}
		}
	}
	return false
}
