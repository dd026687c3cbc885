// Package journal persists a per-run audit trail of agent steps and
// runtime events, queryable afterwards with plain SQL. Standalone installs
// use a SQLite file next to the rest of the runtime state; managed
// installs share a Postgres database whose schema is owned by the migrate
// command.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goswarm/internal/config"
	"github.com/nextlevelbuilder/goswarm/internal/events"
)

// StepRecord captures one completed scheduler step.
type StepRecord struct {
	RunID      string
	AgentID    string
	MessageID  string
	FromAgent  string
	TaskID     string
	DurationMs int64
	Error      string
}

// EventRecord captures one broadcast runtime event. Payload is the
// event's JSON encoding.
type EventRecord struct {
	RunID   string
	Name    string
	AgentID string
	Payload string
	At      time.Time
}

// Journal is the audit trail. Implementations are safe for concurrent
// use. Write failures are returned for the caller to log; they never
// stop the runtime.
type Journal interface {
	RecordStep(ctx context.Context, rec StepRecord) error
	RecordEvent(ctx context.Context, rec EventRecord) error
	Close() error
}

// Off discards everything. Used when journal.backend is "off".
type Off struct{}

func (Off) RecordStep(context.Context, StepRecord) error   { return nil }
func (Off) RecordEvent(context.Context, EventRecord) error { return nil }
func (Off) Close() error                                   { return nil }

// Open selects the backend from config. The SQLite file lives in the
// runtime state directory as journal.db.
func Open(ctx context.Context, cfg config.JournalConfig, runtimeDir string) (Journal, error) {
	switch cfg.Backend {
	case "", "sqlite":
		return OpenSQLite(filepath.Join(runtimeDir, "journal.db"))
	case "postgres":
		return OpenPostgres(ctx, cfg.PostgresDSN)
	case "off":
		return Off{}, nil
	default:
		return nil, fmt.Errorf("unknown journal backend %q", cfg.Backend)
	}
}

// NewRunID returns a short id shared by every record of one process run.
func NewRunID() string {
	id := uuid.NewString()
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

// Subscriber adapts the journal to the event bus: every broadcast is
// persisted as an EventRecord under the given run id.
func Subscriber(j Journal, runID string) events.Handler {
	return func(ev events.Event) {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			payload = []byte(fmt.Sprintf("%q", fmt.Sprint(ev.Payload)))
		}
		rec := EventRecord{
			RunID:   runID,
			Name:    ev.Name,
			AgentID: agentOf(ev.Payload),
			Payload: string(payload),
			At:      ev.At,
		}
		if err := j.RecordEvent(context.Background(), rec); err != nil {
			slog.Warn("journal event write failed", "event", ev.Name, "error", err)
		}
	}
}

func agentOf(payload interface{}) string {
	switch p := payload.(type) {
	case events.ToolCallPayload:
		return p.AgentID
	case events.ErrorPayload:
		return p.AgentID
	case events.LLMRetryPayload:
		return p.AgentID
	case events.UsagePayload:
		return p.AgentID
	case events.StatusChangePayload:
		return p.AgentID
	case events.LifecyclePayload:
		return p.AgentID
	case events.IdlePayload:
		return p.AgentID
	default:
		return ""
	}
}
