package orchestrator

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jllopis/telos/pkg/errors"
)

// SQLiteAuditStore persists workflow audit events in SQLite.
type SQLiteAuditStore struct {
	db *sql.DB
}

// OpenSQLiteAuditStore opens (or creates) the database at path and ensures
// the audit schema. Pass ":memory:" for an ephemeral store.
func OpenSQLiteAuditStore(path string) (*SQLiteAuditStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store, err := NewSQLiteAuditStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteAuditStore wraps an existing connection and ensures schema.
func NewSQLiteAuditStore(db *sql.DB) (*SQLiteAuditStore, error) {
	if db == nil {
		return nil, stderrors.New("db is nil")
	}
	if err := ensureAuditSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteAuditStore{db: db}, nil
}

// Record stores a single audit event.
func (s *SQLiteAuditStore) Record(ctx context.Context, ev AuditEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_audit_events (
			plan_id, run_id, step_id, agent_id, status, error_kind, output, retry_attempts, latency_ms, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.PlanID,
		ev.RunID,
		ev.StepID,
		ev.AgentID,
		ev.Status,
		string(ev.ErrorKind),
		ev.Output,
		ev.RetryAttempts,
		ev.LatencyMs,
		normalizeAuditTime(ev.StartedAt),
		normalizeAuditTime(ev.FinishedAt),
	)
	return err
}

// Query returns audit events matching the filter, oldest first.
func (s *SQLiteAuditStore) Query(ctx context.Context, f AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT plan_id, run_id, step_id, agent_id, status, error_kind, output, retry_attempts, latency_ms, started_at, finished_at
		FROM workflow_audit_events
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if f.PlanID != "" {
		addFilter("plan_id = ?", f.PlanID)
	}
	if f.RunID != "" {
		addFilter("run_id = ?", f.RunID)
	}
	if f.StepID != "" {
		addFilter("step_id = ?", f.StepID)
	}
	query += where + " ORDER BY started_at ASC, rowid ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var (
			ev       AuditEvent
			kind     string
			started  sql.NullTime
			finished sql.NullTime
		)
		if err := rows.Scan(
			&ev.PlanID,
			&ev.RunID,
			&ev.StepID,
			&ev.AgentID,
			&ev.Status,
			&kind,
			&ev.Output,
			&ev.RetryAttempts,
			&ev.LatencyMs,
			&started,
			&finished,
		); err != nil {
			return nil, err
		}
		ev.ErrorKind = errors.Kind(kind)
		if started.Valid {
			ev.StartedAt = started.Time
		}
		if finished.Valid {
			ev.FinishedAt = finished.Time
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// Close releases the underlying connection.
func (s *SQLiteAuditStore) Close() error {
	return s.db.Close()
}

func ensureAuditSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS workflow_audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			plan_id TEXT NOT NULL,
			run_id TEXT,
			step_id TEXT NOT NULL,
			agent_id TEXT,
			status TEXT NOT NULL,
			error_kind TEXT,
			output TEXT,
			retry_attempts INTEGER NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_workflow_audit_plan ON workflow_audit_events(plan_id);
		CREATE INDEX IF NOT EXISTS idx_workflow_audit_run ON workflow_audit_events(run_id);
		CREATE INDEX IF NOT EXISTS idx_workflow_audit_step ON workflow_audit_events(step_id);
	`)
	return err
}

func normalizeAuditTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
