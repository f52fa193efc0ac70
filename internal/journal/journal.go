// Package journal persists task lifecycle events to SQLite for offline
// reporting. It is strictly write-behind: the scheduler never reads the
// journal, so losing it cannot affect dispatch decisions.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"dispatchd/internal/taskmgr"
	"dispatchd/pkg/models"
)

// Journal wraps an SQLite database holding the event log.
type Journal struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultPath returns the journal location under the project directory.
func DefaultPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".dispatchd", "journal.db")
}

// Open opens (creating if needed) the journal at the given path and
// applies pending migrations. WAL mode is enabled for concurrent reads.
func Open(path string) (*Journal, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	j := &Journal{conn: conn, path: path}
	if err := j.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.conn.Close()
}

// Path returns the journal file location.
func (j *Journal) Path() string {
	return j.path
}

// migrate applies all pending schema migrations.
func (j *Journal) migrate() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := j.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Events},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := j.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Events = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	task_id TEXT NOT NULL,
	context_id TEXT,
	state TEXT NOT NULL,
	priority TEXT,
	agent_id TEXT,
	error TEXT,
	reason TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	occurred_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_task_id ON events(task_id);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
`

// Append writes one event row.
func (j *Journal) Append(ev taskmgr.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.conn.Exec(`
		INSERT INTO events (type, task_id, context_id, state, priority, agent_id, error, reason, retry_count, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(ev.Type), ev.TaskID, ev.ContextID, string(ev.State), string(ev.Priority), ev.AgentID, ev.Error, ev.Reason, ev.RetryCount, formatTime(ev.Timestamp))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Record is one stored event row.
type Record struct {
	ID         int64
	Type       taskmgr.EventType
	TaskID     string
	ContextID  string
	State      models.TaskState
	Priority   models.Priority
	AgentID    string
	Error      string
	Reason     string
	RetryCount int
	OccurredAt time.Time
}

// TaskHistory returns the stored events for one task, oldest first.
func (j *Journal) TaskHistory(taskID string) ([]Record, error) {
	return j.query(`
		SELECT id, type, task_id, context_id, state, priority, agent_id, error, reason, retry_count, occurred_at
		FROM events WHERE task_id = ? ORDER BY id ASC
	`, taskID)
}

// Recent returns the most recent events, newest first.
func (j *Journal) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	return j.query(`
		SELECT id, type, task_id, context_id, state, priority, agent_id, error, reason, retry_count, occurred_at
		FROM events ORDER BY id DESC LIMIT ?
	`, limit)
}

// CountByType returns how many events of each type are stored.
func (j *Journal) CountByType() (map[taskmgr.EventType]int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	rows, err := j.conn.Query("SELECT type, COUNT(*) FROM events GROUP BY type")
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	out := make(map[taskmgr.EventType]int)
	for rows.Next() {
		var typ string
		var count int
		if err := rows.Scan(&typ, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[taskmgr.EventType(typ)] = count
	}
	return out, rows.Err()
}

func (j *Journal) query(q string, args ...any) ([]Record, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	rows, err := j.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var typ, state, priority, occurredAt string
		var contextID, agentID, errMsg, reason sql.NullString
		if err := rows.Scan(&r.ID, &typ, &r.TaskID, &contextID, &state, &priority, &agentID, &errMsg, &reason, &r.RetryCount, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		r.Type = taskmgr.EventType(typ)
		r.State = models.TaskState(state)
		r.Priority = models.Priority(priority)
		r.ContextID = contextID.String
		r.AgentID = agentID.String
		r.Error = errMsg.String
		r.Reason = reason.String
		if t, err := parseTime(occurredAt); err == nil {
			r.OccurredAt = t
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Consume appends every event from the channel until it closes or the
// context is cancelled. Append errors are logged, not fatal: the journal
// is reporting, never a scheduling dependency.
func (j *Journal) Consume(ctx context.Context, events <-chan taskmgr.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := j.Append(ev); err != nil {
				log.Printf("[journal] append failed: %v", err)
			}
		}
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
