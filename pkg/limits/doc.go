// Package limits keeps rate limit counters durable across restarts.
//
// # Overview
//
// The ratelimit sub-package holds counters in memory; the storage
// sub-package persists them. A Persister connects the two:
//
//   - Restore loads saved windows into the limiter at startup
//   - Flush saves every live window and prunes idle ones
//   - Start runs Flush on an interval until Stop (which flushes once more)
//
// # Usage
//
//	backend, _ := storage.NewSQLiteBackend(cfg.Limits.Storage.SQLitePath)
//	p := limits.NewPersister(limiter, backend, limits.PersisterConfig{
//	    Interval: 30 * time.Second,
//	}, logger)
//	if _, err := p.Restore(ctx); err != nil {
//	    logger.Warn("rate limit state not restored", "error", err)
//	}
//	p.Start()
//	defer p.Stop(context.Background())
package limits
