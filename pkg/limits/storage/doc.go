// Package storage persists rate limit window state.
//
// # Overview
//
// A Backend stores one WindowState per (limit id, scope key) pair:
//
//   - Memory: in-process map, no persistence (default)
//   - SQLite: file-based persistence (modernc.org/sqlite, pure Go)
//
// # Usage
//
//	backend, err := storage.NewSQLiteBackend("/var/lib/arbiter/limits.db")
//	if err != nil {
//	    return err
//	}
//	defer backend.Close()
//
//	err = backend.Save(ctx, &storage.WindowState{
//	    LimitID:  "agent-per-minute",
//	    ScopeKey: "agent-7",
//	    Window:   time.Minute,
//	    Buckets:  buckets,
//	})
//
//	states, err := backend.List(ctx, "") // every limit
//
// # Thread Safety
//
// All storage backends are thread-safe. Locking is handled internally by
// each backend.
package storage
