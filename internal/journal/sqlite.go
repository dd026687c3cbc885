package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// SQLite is the standalone journal backend: one file, schema provisioned
// on open. A single connection serializes writers, which avoids
// SQLITE_BUSY under concurrent steps.
type SQLite struct {
	db *sql.DB
}

var _ Journal = (*SQLite)(nil)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS journal_steps (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		from_agent TEXT NOT NULL,
		task_id TEXT,
		duration_ms INTEGER NOT NULL,
		error TEXT,
		at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS journal_events (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		name TEXT NOT NULL,
		agent_id TEXT,
		payload TEXT NOT NULL,
		at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_journal_steps_run ON journal_steps (run_id, at)`,
	`CREATE INDEX IF NOT EXISTS idx_journal_events_run ON journal_events (run_id, at)`,
}

// OpenSQLite opens (or creates) the journal file and its schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, ddl := range sqliteSchema {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("init journal schema: %w", err)
		}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) RecordStep(ctx context.Context, rec StepRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journal_steps (id, run_id, agent_id, message_id, from_agent, task_id, duration_ms, error, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), rec.RunID, rec.AgentID, rec.MessageID, rec.FromAgent,
		rec.TaskID, rec.DurationMs, rec.Error, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record step: %w", err)
	}
	return nil
}

func (s *SQLite) RecordEvent(ctx context.Context, rec EventRecord) error {
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journal_events (id, run_id, name, agent_id, payload, at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), rec.RunID, rec.Name, rec.AgentID, rec.Payload, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
