// Package state provides the SQLite-backed session ledger: runs, task
// state transitions, and applied modifications. The ledger is an
// observability record, not a durability guarantee; the orchestrator
// treats a nil ledger as disabled.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/orbitalworks/orrery/pkg/models"
)

// Ledger wraps an SQLite database with run-recording operations.
type Ledger struct {
	conn *sql.DB
	path string
	mu   sync.Mutex
}

// DefaultPath returns the ledger location under the XDG data directory.
func DefaultPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "orrery", "orrery.db")
}

// Open opens the ledger at the given path, creating parent directories.
// WAL mode is enabled for concurrent reads.
func Open(path string) (*Ledger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &Ledger{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn.Close()
}

// Path returns the path to the ledger file.
func (l *Ledger) Path() string {
	return l.path
}

// Migrate applies all pending schema migrations.
func (l *Ledger) Migrate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := l.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Runs},
		{2, migrationV2Transitions},
		{3, migrationV3Modifications},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		tx, err := l.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.version, err)
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

const migrationV1Runs = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	constellation_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'running',
	started_at DATETIME NOT NULL,
	finished_at DATETIME
);
`

const migrationV2Transitions = `
CREATE TABLE IF NOT EXISTS task_transitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(id),
	task_id TEXT NOT NULL,
	state TEXT NOT NULL,
	result TEXT,
	error TEXT,
	at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transitions_run ON task_transitions(run_id);
`

const migrationV3Modifications = `
CREATE TABLE IF NOT EXISTS modifications (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(id),
	trigger_tasks TEXT,
	added INTEGER NOT NULL DEFAULT 0,
	removed INTEGER NOT NULL DEFAULT 0,
	updated INTEGER NOT NULL DEFAULT 0,
	at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_modifications_run ON modifications(run_id);
`

// StartRun records the beginning of an orchestration run.
func (l *Ledger) StartRun(runID, constellationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.conn.Exec(
		"INSERT INTO runs (id, constellation_id, status, started_at) VALUES (?, ?, 'running', ?)",
		runID, constellationID, time.Now())
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun records the final status of a run.
func (l *Ledger) FinishRun(runID, status string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.conn.Exec(
		"UPDATE runs SET status = ?, finished_at = ? WHERE id = ?",
		status, time.Now(), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// RecordTransition appends one task state transition.
func (l *Ledger) RecordTransition(runID, taskID string, state models.TaskState, result, errMsg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.conn.Exec(
		"INSERT INTO task_transitions (run_id, task_id, state, result, error, at) VALUES (?, ?, ?, ?, ?, ?)",
		runID, taskID, string(state), result, errMsg, time.Now())
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// RecordModification appends one applied structural edit batch.
func (l *Ledger) RecordModification(runID string, triggerTasks []string, diff *models.SnapshotDiff) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	added, removed, updated := 0, 0, 0
	if diff != nil {
		added = len(diff.AddedTasks) + len(diff.AddedEdges)
		removed = len(diff.RemovedTasks) + len(diff.RemovedEdges)
		updated = len(diff.UpdatedTasks) + len(diff.UpdatedEdges)
	}
	_, err := l.conn.Exec(
		"INSERT INTO modifications (run_id, trigger_tasks, added, removed, updated, at) VALUES (?, ?, ?, ?, ?, ?)",
		runID, strings.Join(triggerTasks, ","), added, removed, updated, time.Now())
	if err != nil {
		return fmt.Errorf("record modification: %w", err)
	}
	return nil
}

// RunRecord is one row of the runs table.
type RunRecord struct {
	ID              string
	ConstellationID string
	Status          string
	StartedAt       time.Time
	FinishedAt      *time.Time
}

// RecentRuns returns the most recent runs, newest first.
func (l *Ledger) RecentRuns(limit int) ([]RunRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 {
		limit = 10
	}
	rows, err := l.conn.Query(
		"SELECT id, constellation_id, status, started_at, finished_at FROM runs ORDER BY started_at DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.ConstellationID, &r.Status, &r.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if finished.Valid {
			at := finished.Time
			r.FinishedAt = &at
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// TransitionRecord is one row of the task_transitions table.
type TransitionRecord struct {
	TaskID string
	State  models.TaskState
	Result string
	Error  string
	At     time.Time
}

// RunTransitions returns the transitions of a run in order.
func (l *Ledger) RunTransitions(runID string) ([]TransitionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.conn.Query(
		"SELECT task_id, state, COALESCE(result, ''), COALESCE(error, ''), at FROM task_transitions WHERE run_id = ? ORDER BY id",
		runID)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var transitions []TransitionRecord
	for rows.Next() {
		var t TransitionRecord
		var st string
		if err := rows.Scan(&t.TaskID, &st, &t.Result, &t.Error, &t.At); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.State = models.TaskState(st)
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}

// ModificationCount returns how many edit batches a run applied.
func (l *Ledger) ModificationCount(runID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var count int
	row := l.conn.QueryRow("SELECT COUNT(*) FROM modifications WHERE run_id = ?", runID)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count modifications: %w", err)
	}
	return count, nil
}
