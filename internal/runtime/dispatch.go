package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/goswarm/internal/agent"
	"github.com/nextlevelbuilder/goswarm/internal/bus"
	"github.com/nextlevelbuilder/goswarm/internal/journal"
	"github.com/nextlevelbuilder/goswarm/internal/scheduler"
	"github.com/nextlevelbuilder/goswarm/internal/telemetry"
)

// journaledDispatch wraps the lifecycle dispatcher so every scheduler step
// runs inside a trace span and lands in the journal with its duration.
type journaledDispatch struct {
	inner   scheduler.Dispatcher
	journal journal.Journal
	runID   string
}

func (d *journaledDispatch) Handler(agentID string) agent.Behavior {
	return &journaledStep{
		inner:   d.inner.Handler(agentID),
		journal: d.journal,
		runID:   d.runID,
	}
}

type journaledStep struct {
	inner   agent.Behavior
	journal journal.Journal
	runID   string
}

func (s *journaledStep) HandleMessage(ctx context.Context, agentID string, msg *bus.Message) error {
	ctx, span := telemetry.StartStep(ctx, agentID, msg.ID)
	start := time.Now()
	err := s.inner.HandleMessage(ctx, agentID, msg)
	telemetry.End(span, err)

	rec := journal.StepRecord{
		RunID:      s.runID,
		AgentID:    agentID,
		MessageID:  msg.ID,
		FromAgent:  msg.From,
		TaskID:     msg.TaskID,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	// The step context may already be canceled; the record still counts.
	if jerr := s.journal.RecordStep(context.Background(), rec); jerr != nil {
		slog.Warn("journal step write failed", "agent_id", agentID, "error", jerr)
	}
	return err
}
