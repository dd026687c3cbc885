package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
)

// Postgres is the managed journal backend. The schema is owned by the
// migrate command; opening fails fast when the database is unreachable.
type Postgres struct {
	db *sql.DB
}

var _ Journal = (*Postgres)(nil)

// OpenPostgres connects and pings. It does not create tables; run
// `goswarm migrate up` first.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres journal: empty DSN")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres journal: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres journal: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) RecordStep(ctx context.Context, rec StepRecord) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO journal_steps (id, run_id, agent_id, message_id, from_agent, task_id, duration_ms, error, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.NewString(), rec.RunID, rec.AgentID, rec.MessageID, rec.FromAgent,
		rec.TaskID, rec.DurationMs, rec.Error, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("record step: %w", err)
	}
	return nil
}

func (p *Postgres) RecordEvent(ctx context.Context, rec EventRecord) error {
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	payload := rec.Payload
	if payload == "" {
		// Column is JSONB; the empty string is not valid JSON.
		payload = "null"
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO journal_events (id, run_id, name, agent_id, payload, at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), rec.RunID, rec.Name, rec.AgentID, payload, at,
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
