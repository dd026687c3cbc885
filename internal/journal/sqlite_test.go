package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/goswarm/internal/config"
	"github.com/nextlevelbuilder/goswarm/internal/events"
)

func newTestJournal(t *testing.T) *SQLite {
	t.Helper()
	j, err := OpenSQLite(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordStepRoundTrip(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.RecordStep(ctx, StepRecord{
		RunID:      "run-1",
		AgentID:    "a-1",
		MessageID:  "m-1",
		FromAgent:  "user",
		TaskID:     "t-1",
		DurationMs: 250,
	}))
	require.NoError(t, j.RecordStep(ctx, StepRecord{
		RunID:      "run-1",
		AgentID:    "a-2",
		MessageID:  "m-2",
		FromAgent:  "a-1",
		DurationMs: 10,
		Error:      "llm call failed (round 1): boom",
	}))

	rows, err := j.db.Query(`SELECT agent_id, from_agent, error FROM journal_steps WHERE run_id = ? ORDER BY at, agent_id`, "run-1")
	require.NoError(t, err)
	defer rows.Close()

	type row struct{ agent, from, stepErr string }
	var got []row
	for rows.Next() {
		var r row
		require.NoError(t, rows.Scan(&r.agent, &r.from, &r.stepErr))
		got = append(got, r)
	}
	require.NoError(t, rows.Err())
	require.Len(t, got, 2)
	assert.Equal(t, row{"a-1", "user", ""}, got[0])
	assert.Equal(t, "llm call failed (round 1): boom", got[1].stepErr)
}

func TestRecordEventRoundTrip(t *testing.T) {
	j := newTestJournal(t)

	at := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, j.RecordEvent(context.Background(), EventRecord{
		RunID:   "run-1",
		Name:    events.ToolCall,
		AgentID: "a-1",
		Payload: `{"tool":"send_message"}`,
		At:      at,
	}))

	var name, payload string
	var atMs int64
	err := j.db.QueryRow(`SELECT name, payload, at FROM journal_events WHERE run_id = ?`, "run-1").
		Scan(&name, &payload, &atMs)
	require.NoError(t, err)
	assert.Equal(t, events.ToolCall, name)
	assert.Contains(t, payload, "send_message")
	assert.Equal(t, at.UnixMilli(), atMs)
}

func TestSubscriberPersistsBroadcasts(t *testing.T) {
	j := newTestJournal(t)
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	bus.Subscribe("journal", Subscriber(j, "run-7"))
	bus.Broadcast(events.LLMUsage, events.UsagePayload{
		AgentID:      "a-1",
		ServiceID:    "fast",
		PromptTokens: 120,
	})

	require.Eventually(t, func() bool {
		var n int
		if err := j.db.QueryRow(`SELECT COUNT(*) FROM journal_events WHERE run_id = ?`, "run-7").Scan(&n); err != nil {
			return false
		}
		return n == 1
	}, 2*time.Second, 10*time.Millisecond)

	var agentID, payload string
	require.NoError(t, j.db.QueryRow(
		`SELECT agent_id, payload FROM journal_events WHERE run_id = ?`, "run-7").Scan(&agentID, &payload))
	assert.Equal(t, "a-1", agentID)
	assert.Contains(t, payload, `"prompt_tokens":120`)
}

func TestOpenSelectsBackend(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	j, err := Open(ctx, config.JournalConfig{Backend: "off"}, dir)
	require.NoError(t, err)
	assert.IsType(t, Off{}, j)

	j, err = Open(ctx, config.JournalConfig{}, dir)
	require.NoError(t, err)
	require.IsType(t, &SQLite{}, j)
	require.NoError(t, j.Close())
	assert.FileExists(t, filepath.Join(dir, "journal.db"))

	_, err = Open(ctx, config.JournalConfig{Backend: "mongodb"}, dir)
	require.Error(t, err)
}

func TestOffDiscardsQuietly(t *testing.T) {
	var j Journal = Off{}
	assert.NoError(t, j.RecordStep(context.Background(), StepRecord{RunID: "r"}))
	assert.NoError(t, j.RecordEvent(context.Background(), EventRecord{RunID: "r"}))
	assert.NoError(t, j.Close())
}

func TestNewRunIDShape(t *testing.T) {
	id := NewRunID()
	assert.Len(t, id, 8)
	assert.NotEqual(t, id, NewRunID())
}
