// Package audit records every policy evaluation for later review.
//
// # Components
//
//   - recorder: implements engine.AuditSink; queues events and writes them
//     from a background worker so evaluation never waits on storage
//   - storage: Storage backends (in-memory and SQLite)
//   - retention: age and count based pruning on a cron schedule
//
// # Usage
//
//	store, err := storage.NewSQLiteStorage(&storage.SQLiteConfig{Path: "data/audit.db"})
//	if err != nil {
//	    return err
//	}
//	rec := recorder.New(store, recorder.DefaultConfig(), logger)
//	defer rec.Close()
//
//	eng, err := engine.New(cfg, engine.Options{Audit: rec})
//
//	denied, err := store.Query(ctx, &audit.Query{Status: "denied", Limit: 50})
//
// Records are append-only. Deletion happens only through retention.
package audit
