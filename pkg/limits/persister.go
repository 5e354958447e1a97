package limits

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/arbiter/pkg/limits/ratelimit"
	"mercator-hq/arbiter/pkg/limits/storage"
)

// PersisterConfig configures a Persister.
type PersisterConfig struct {
	// Interval is how often windows are flushed to the backend.
	// Default: 30 seconds
	Interval time.Duration

	// Retention is how long a window that stopped changing is kept in the
	// backend. Default: 24 hours
	Retention time.Duration
}

// Persister periodically saves limiter windows to a storage backend and
// restores them on startup.
type Persister struct {
	limiter *ratelimit.Limiter
	backend storage.Backend
	config  PersisterConfig
	logger  *slog.Logger

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// NewPersister creates a persister. A nil logger uses slog.Default.
func NewPersister(limiter *ratelimit.Limiter, backend storage.Backend, cfg PersisterConfig, logger *slog.Logger) *Persister {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{
		limiter: limiter,
		backend: backend,
		config:  cfg,
		logger:  logger.With("component", "limits.persister"),
	}
}

// Restore loads every saved window into the limiter. Windows for configs
// that no longer exist, or whose window changed, are skipped. It returns the
// number of windows restored.
func (p *Persister) Restore(ctx context.Context) (int, error) {
	saved, err := p.backend.List(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("failed to list saved windows: %w", err)
	}

	states := make([]ratelimit.WindowState, 0, len(saved))
	for _, s := range saved {
		states = append(states, fromStorage(s))
	}

	restored := p.limiter.Restore(states)
	p.logger.Info("restored rate limit windows", "saved", len(saved), "restored", restored)
	return restored, nil
}

// Flush saves every live window, prunes idle windows from the limiter and
// removes backend entries past the retention period.
func (p *Persister) Flush(ctx context.Context) error {
	now := time.Now()
	states := p.limiter.Snapshot()

	var firstErr error
	saved := 0
	for _, st := range states {
		ws := toStorage(st)
		ws.LastUpdated = now
		if err := p.backend.Save(ctx, ws); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to save window %s/%s: %w", st.LimitID, st.ScopeKey, err)
			}
			continue
		}
		saved++
	}

	pruned := p.limiter.Cleanup()
	deleted, err := p.backend.Cleanup(ctx, now.Add(-p.config.Retention))
	if err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to clean up backend: %w", err)
	}

	p.logger.Debug("flushed rate limit windows", "saved", saved, "pruned", pruned, "expired", deleted)
	return firstErr
}

// Start begins flushing on the configured interval. Calling Start twice has
// no effect.
func (p *Persister) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}
	p.started = true
	p.stop = make(chan struct{})
	p.done = make(chan struct{})

	go p.loop(p.stop, p.done)
}

// Stop halts the flush loop and performs a final flush.
func (p *Persister) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return p.Flush(ctx)
	}
	p.started = false
	close(p.stop)
	done := p.done
	p.mu.Unlock()

	<-done
	return p.Flush(ctx)
}

func (p *Persister) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.Flush(context.Background()); err != nil {
				p.logger.Warn("rate limit flush failed", "error", err)
			}
		case <-stop:
			return
		}
	}
}

func toStorage(st ratelimit.WindowState) *storage.WindowState {
	ws := &storage.WindowState{
		LimitID:    st.LimitID,
		ScopeKey:   st.ScopeKey,
		Window:     st.Window,
		BucketSize: st.BucketSize,
		Buckets:    make([]storage.WindowBucket, len(st.Buckets)),
	}
	for i, b := range st.Buckets {
		ws.Buckets[i] = storage.WindowBucket{Timestamp: b.Timestamp, Value: b.Value}
	}
	return ws
}

func fromStorage(ws *storage.WindowState) ratelimit.WindowState {
	st := ratelimit.WindowState{
		LimitID:    ws.LimitID,
		ScopeKey:   ws.ScopeKey,
		Window:     ws.Window,
		BucketSize: ws.BucketSize,
		Buckets:    make([]ratelimit.Bucket, len(ws.Buckets)),
	}
	for i, b := range ws.Buckets {
		st.Buckets[i] = ratelimit.Bucket{Timestamp: b.Timestamp, Value: b.Value}
	}
	return st
}
