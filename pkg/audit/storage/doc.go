// Package storage provides audit.Storage backends.
//
//   - MemoryStorage: map-backed, for tests and single-process development
//   - SQLiteStorage: mattn/go-sqlite3 with WAL mode and a versioned schema
//
// Both validate queries with audit.Query.Validate and apply the default
// limit and sort order before running them.
package storage
