package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteBackend implements Backend using SQLite for persistence.
// It suits single-instance deployments that need rate limit counters to
// survive a restart.
//
// The database runs in WAL mode with a background checkpoint loop.
type SQLiteBackend struct {
	db               *sql.DB
	dbPath           string
	snapshotInterval time.Duration
	done             chan struct{}
	mu               sync.RWMutex
	closeOnce        sync.Once

	saveStmt    *sql.Stmt
	loadStmt    *sql.Stmt
	deleteStmt  *sql.Stmt
	listStmt    *sql.Stmt
	listAllStmt *sql.Stmt
	cleanupStmt *sql.Stmt
}

// SQLiteBackendConfig configures the SQLite backend.
type SQLiteBackendConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// SnapshotInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	SnapshotInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteBackend creates a new SQLite storage backend with default settings.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	return NewSQLiteBackendWithConfig(SQLiteBackendConfig{DBPath: dbPath})
}

// NewSQLiteBackendWithConfig creates a new SQLite backend with custom configuration.
func NewSQLiteBackendWithConfig(cfg SQLiteBackendConfig) (*SQLiteBackend, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.DBPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	backend := &SQLiteBackend{
		db:               db,
		dbPath:           cfg.DBPath,
		snapshotInterval: cfg.SnapshotInterval,
		done:             make(chan struct{}),
	}

	if err := backend.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := backend.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go backend.checkpointLoop()

	return backend, nil
}

func (s *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rate_limit_windows (
		limit_id TEXT NOT NULL,
		scope_key TEXT NOT NULL,
		window_ms INTEGER NOT NULL,
		bucket_ms INTEGER NOT NULL,
		buckets TEXT NOT NULL,
		last_updated INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (limit_id, scope_key)
	);

	CREATE INDEX IF NOT EXISTS idx_windows_last_updated ON rate_limit_windows(last_updated);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteBackend) prepareStatements() error {
	var err error

	s.saveStmt, err = s.db.Prepare(`
		INSERT INTO rate_limit_windows (limit_id, scope_key, window_ms, bucket_ms, buckets, last_updated, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (limit_id, scope_key) DO UPDATE SET
			window_ms = excluded.window_ms,
			bucket_ms = excluded.bucket_ms,
			buckets = excluded.buckets,
			last_updated = excluded.last_updated
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare save statement: %w", err)
	}

	const columns = `limit_id, scope_key, window_ms, bucket_ms, buckets, last_updated, created_at`

	s.loadStmt, err = s.db.Prepare(`SELECT ` + columns + ` FROM rate_limit_windows WHERE limit_id = ? AND scope_key = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare load statement: %w", err)
	}

	s.deleteStmt, err = s.db.Prepare(`DELETE FROM rate_limit_windows WHERE limit_id = ? AND scope_key = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	s.listStmt, err = s.db.Prepare(`SELECT ` + columns + ` FROM rate_limit_windows WHERE limit_id = ? ORDER BY scope_key`)
	if err != nil {
		return fmt.Errorf("failed to prepare list statement: %w", err)
	}

	s.listAllStmt, err = s.db.Prepare(`SELECT ` + columns + ` FROM rate_limit_windows ORDER BY limit_id, scope_key`)
	if err != nil {
		return fmt.Errorf("failed to prepare list-all statement: %w", err)
	}

	s.cleanupStmt, err = s.db.Prepare(`DELETE FROM rate_limit_windows WHERE last_updated < ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare cleanup statement: %w", err)
	}

	return nil
}

// Save persists the state of one window.
func (s *SQLiteBackend) Save(ctx context.Context, state *WindowState) error {
	if state == nil {
		return errNilState
	}
	if err := validateKey(state.LimitID, state.ScopeKey); err != nil {
		return err
	}

	buckets, err := json.Marshal(state.Buckets)
	if err != nil {
		return fmt.Errorf("failed to marshal buckets: %w", err)
	}

	now := time.Now()
	createdAt := state.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	lastUpdated := state.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.saveStmt.ExecContext(ctx,
		state.LimitID,
		state.ScopeKey,
		state.Window.Milliseconds(),
		state.BucketSize.Milliseconds(),
		string(buckets),
		lastUpdated.UnixMilli(),
		createdAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// Load retrieves the state for a limit and scope key.
func (s *SQLiteBackend) Load(ctx context.Context, limitID string, scopeKey string) (*WindowState, error) {
	if err := validateKey(limitID, scopeKey); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	state, err := scanState(s.loadStmt.QueryRowContext(ctx, limitID, scopeKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	return state, nil
}

// Delete removes the state for a limit and scope key.
func (s *SQLiteBackend) Delete(ctx context.Context, limitID string, scopeKey string) error {
	if err := validateKey(limitID, scopeKey); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.deleteStmt.ExecContext(ctx, limitID, scopeKey); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

// List returns the states of one limit, or all states when limitID is empty.
func (s *SQLiteBackend) List(ctx context.Context, limitID string) ([]*WindowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		rows *sql.Rows
		err  error
	)
	if limitID == "" {
		rows, err = s.listAllStmt.QueryContext(ctx)
	} else {
		rows, err = s.listStmt.QueryContext(ctx, limitID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list states: %w", err)
	}
	defer rows.Close()

	var states []*WindowState
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return states, nil
}

// Cleanup removes states not updated since olderThan.
func (s *SQLiteBackend) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.cleanupStmt.ExecContext(ctx, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(deleted), nil
}

// Close releases any resources held by the backend.
// Close is idempotent and safe to call multiple times.
func (s *SQLiteBackend) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		for _, stmt := range []*sql.Stmt{s.saveStmt, s.loadStmt, s.deleteStmt, s.listStmt, s.listAllStmt, s.cleanupStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}

		if s.db != nil {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

func (s *SQLiteBackend) checkpointLoop() {
	ticker := time.NewTicker(s.snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanState(row rowScanner) (*WindowState, error) {
	var (
		state       WindowState
		windowMs    int64
		bucketMs    int64
		buckets     string
		lastUpdated int64
		createdAt   int64
	)
	if err := row.Scan(&state.LimitID, &state.ScopeKey, &windowMs, &bucketMs, &buckets, &lastUpdated, &createdAt); err != nil {
		return nil, err
	}

	state.Window = time.Duration(windowMs) * time.Millisecond
	state.BucketSize = time.Duration(bucketMs) * time.Millisecond
	state.LastUpdated = time.UnixMilli(lastUpdated)
	state.CreatedAt = time.UnixMilli(createdAt)
	if buckets != "" {
		if err := json.Unmarshal([]byte(buckets), &state.Buckets); err != nil {
			return nil, fmt.Errorf("failed to unmarshal buckets: %w", err)
		}
	}
	return &state, nil
}
