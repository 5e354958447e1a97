package storage

// SchemaVersion is the current audit database schema version.
const SchemaVersion = 1

// Schema creates the audit tables. Timestamps are unix nanoseconds so range
// filters compare numerically.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_records (
    id TEXT PRIMARY KEY,
    evaluation_id TEXT NOT NULL,

    timestamp INTEGER NOT NULL,
    recorded_at INTEGER NOT NULL,

    action_name TEXT NOT NULL,
    action_category TEXT,
    agent_id TEXT,
    session_id TEXT,
    user_id TEXT,
    environment TEXT,

    status TEXT NOT NULL,
    allowed BOOLEAN NOT NULL,
    risk_score REAL NOT NULL,
    applied_rule_ids TEXT,
    violations TEXT,
    requires_approval BOOLEAN NOT NULL,
    cached BOOLEAN NOT NULL,
    faults TEXT,
    duration_ns INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_records(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_agent_id ON audit_records(agent_id);
CREATE INDEX IF NOT EXISTS idx_audit_status ON audit_records(status);
CREATE INDEX IF NOT EXISTS idx_audit_evaluation_id ON audit_records(evaluation_id);
`

const insertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

const getSchemaVersion = `SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;`

const selectColumns = `id, evaluation_id, timestamp, recorded_at,
    action_name, action_category, agent_id, session_id, user_id, environment,
    status, allowed, risk_score, applied_rule_ids, violations,
    requires_approval, cached, faults, duration_ns`
