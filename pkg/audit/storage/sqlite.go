package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mercator-hq/arbiter/pkg/audit"
)

// SQLiteConfig configures SQLiteStorage.
type SQLiteConfig struct {
	// Path is the database file. ":memory:" is accepted for tests.
	Path string

	// MaxOpenConns bounds the connection pool. Default: 10
	MaxOpenConns int

	// MaxIdleConns bounds idle connections. Default: 5
	MaxIdleConns int

	// WALMode enables write-ahead logging. Default: true
	WALMode bool

	// BusyTimeout is how long a writer waits on a locked database.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/audit.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStorage stores audit records in SQLite via mattn/go-sqlite3.
type SQLiteStorage struct {
	db        *sql.DB
	config    *SQLiteConfig
	logger    *slog.Logger
	closeOnce sync.Once
}

// NewSQLiteStorage opens the database and creates the schema.
func NewSQLiteStorage(config *SQLiteConfig) (*SQLiteStorage, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.Path == "" {
		return nil, audit.NewStorageError("sqlite", "open", errors.New("database path is required"))
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = 10
	}
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = 5
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5 * time.Second
	}

	logger := slog.Default().With("component", "audit.storage.sqlite")

	db, err := sql.Open("sqlite3", dsn(config))
	if err != nil {
		return nil, audit.NewStorageError("sqlite", "open", err)
	}
	if config.Path == ":memory:" {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(config.MaxOpenConns)
		db.SetMaxIdleConns(config.MaxIdleConns)
	}

	s := &SQLiteStorage{db: db, config: config, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite audit storage initialized", "path", config.Path, "wal_mode", config.WALMode)
	return s, nil
}

// dsn carries the pragmas as connection parameters so every pooled
// connection gets them, not only the first.
func dsn(config *SQLiteConfig) string {
	params := fmt.Sprintf("_busy_timeout=%d", config.BusyTimeout.Milliseconds())
	if config.WALMode && config.Path != ":memory:" {
		params += "&_journal_mode=WAL"
	}
	return config.Path + "?" + params
}

func (s *SQLiteStorage) initialize() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return audit.NewStorageError("sqlite", "create_schema", err)
	}
	if _, err := s.db.Exec(insertSchemaVersion, SchemaVersion); err != nil {
		return audit.NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	if err := s.db.QueryRow(getSchemaVersion).Scan(&version); err != nil {
		return audit.NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return audit.NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}
	return nil
}

// Store inserts record. Storing the same id twice fails.
func (s *SQLiteStorage) Store(ctx context.Context, record *audit.Record) error {
	if record == nil || record.ID == "" {
		return audit.NewStorageError("sqlite", "store", errMissingID)
	}

	ruleIDs, _ := json.Marshal(record.AppliedRuleIDs)
	violations, _ := json.Marshal(record.Violations)
	faults, _ := json.Marshal(record.Faults)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_records (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.EvaluationID,
		record.Timestamp.UnixNano(), record.RecordedAt.UnixNano(),
		record.ActionName, record.ActionCategory, record.AgentID, record.SessionID, record.UserID, record.Environment,
		record.Status, record.Allowed, record.RiskScore, string(ruleIDs), string(violations),
		record.RequiresApproval, record.Cached, string(faults), int64(record.Duration),
	)
	if err != nil {
		return audit.NewStorageError("sqlite", "store", err)
	}
	return nil
}

// Query returns matching records.
func (s *SQLiteStorage) Query(ctx context.Context, query *audit.Query) ([]*audit.Record, error) {
	q, err := prepare(query)
	if err != nil {
		return nil, err
	}

	where, args := buildWhereClause(q)
	stmt := "SELECT " + selectColumns + " FROM audit_records"
	if where != "" {
		stmt += " WHERE " + where
	}
	order := "DESC"
	if q.SortOrder == "asc" {
		order = "ASC"
	}
	stmt += fmt.Sprintf(" ORDER BY timestamp %s, id ASC LIMIT %d OFFSET %d", order, q.Limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, audit.NewStorageError("sqlite", "query", err)
	}
	defer rows.Close()

	records := []*audit.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, audit.NewStorageError("sqlite", "scan", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, audit.NewStorageError("sqlite", "query", err)
	}
	return records, nil
}

// Count returns the number of matching records.
func (s *SQLiteStorage) Count(ctx context.Context, query *audit.Query) (int64, error) {
	where, args := buildWhereClause(filterOnly(query))
	stmt := "SELECT COUNT(*) FROM audit_records"
	if where != "" {
		stmt += " WHERE " + where
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, audit.NewStorageError("sqlite", "count", err)
	}
	return n, nil
}

// Delete removes matching records.
func (s *SQLiteStorage) Delete(ctx context.Context, query *audit.Query) (int64, error) {
	where, args := buildWhereClause(filterOnly(query))
	stmt := "DELETE FROM audit_records"
	if where != "" {
		stmt += " WHERE " + where
	}

	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, audit.NewStorageError("sqlite", "delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, audit.NewStorageError("sqlite", "delete", err)
	}
	return n, nil
}

// Close closes the database. Further calls return nil.
func (s *SQLiteStorage) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if cerr := s.db.Close(); cerr != nil {
			err = audit.NewStorageError("sqlite", "close", cerr)
			return
		}
		s.logger.Info("SQLite audit storage closed")
	})
	return err
}

func buildWhereClause(q *audit.Query) (string, []interface{}) {
	var conds []string
	var args []interface{}

	add := func(cond string, arg interface{}) {
		conds = append(conds, cond)
		args = append(args, arg)
	}

	if q.StartTime != nil {
		add("timestamp >= ?", q.StartTime.UnixNano())
	}
	if q.EndTime != nil {
		add("timestamp <= ?", q.EndTime.UnixNano())
	}
	if q.AgentID != "" {
		add("agent_id = ?", q.AgentID)
	}
	if q.SessionID != "" {
		add("session_id = ?", q.SessionID)
	}
	if q.UserID != "" {
		add("user_id = ?", q.UserID)
	}
	if q.ActionName != "" {
		add("action_name = ?", q.ActionName)
	}
	if q.Status != "" {
		add("status = ?", q.Status)
	}
	if q.RuleID != "" {
		// Rule ids are stored as a JSON array; match the quoted element.
		quoted, _ := json.Marshal(q.RuleID)
		add("instr(applied_rule_ids, ?) > 0", string(quoted))
	}
	if q.Allowed != nil {
		add("allowed = ?", *q.Allowed)
	}
	if q.MinRiskScore != nil {
		add("risk_score >= ?", *q.MinRiskScore)
	}

	return strings.Join(conds, " AND "), args
}

func scanRecord(rows *sql.Rows) (*audit.Record, error) {
	var (
		r                           audit.Record
		ts, recordedAt, durNs       int64
		category, agent, session    sql.NullString
		user, env                   sql.NullString
		ruleIDs, violations, faults sql.NullString
	)

	err := rows.Scan(
		&r.ID, &r.EvaluationID, &ts, &recordedAt,
		&r.ActionName, &category, &agent, &session, &user, &env,
		&r.Status, &r.Allowed, &r.RiskScore, &ruleIDs, &violations,
		&r.RequiresApproval, &r.Cached, &faults, &durNs,
	)
	if err != nil {
		return nil, err
	}

	r.Timestamp = time.Unix(0, ts).UTC()
	r.RecordedAt = time.Unix(0, recordedAt).UTC()
	r.Duration = time.Duration(durNs)
	r.ActionCategory = category.String
	r.AgentID = agent.String
	r.SessionID = session.String
	r.UserID = user.String
	r.Environment = env.String

	if err := unmarshalColumn(ruleIDs, &r.AppliedRuleIDs); err != nil {
		return nil, fmt.Errorf("applied_rule_ids: %w", err)
	}
	if err := unmarshalColumn(violations, &r.Violations); err != nil {
		return nil, fmt.Errorf("violations: %w", err)
	}
	if err := unmarshalColumn(faults, &r.Faults); err != nil {
		return nil, fmt.Errorf("faults: %w", err)
	}
	return &r, nil
}

func unmarshalColumn(col sql.NullString, dst interface{}) error {
	if !col.Valid || col.String == "" || col.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dst)
}
