package runtime

import (
	"context"
	"log/slog"
	"time"
)

// abortGrace bounds how long forcibly aborted steps get to unwind before
// the stores are flushed.
const abortGrace = 2 * time.Second

// ShutdownResult reports how the stop went.
type ShutdownResult struct {
	// Ok is true when in-flight work drained and both stores flushed.
	Ok bool
	// AlreadyShuttingDown marks a repeated Shutdown call; nothing was done.
	AlreadyShuttingDown bool
	// Duration covers quiesce through final flush.
	Duration time.Duration
	// PendingMessages counts queued messages that were dropped.
	PendingMessages int
	// ActiveAgents counts agents that were still active when the runtime
	// stopped; they restore on the next start.
	ActiveAgents int
}

// Shutdown stops the runtime exactly once: new sends are refused, the
// scheduler quiesces, in-flight steps get the configured timeout before
// their LLM calls are force-aborted, then state flushes and every
// subsystem closes. Queued messages are counted and dropped; active
// agents persist and restore on the next start. A second call reports
// AlreadyShuttingDown and does nothing.
func (r *Runtime) Shutdown(reason string) ShutdownResult {
	if !r.stopping.CompareAndSwap(false, true) {
		return ShutdownResult{AlreadyShuttingDown: true}
	}

	start := time.Now()
	slog.Info("runtime shutting down", "reason", reason, "in_flight", r.sched.InFlight())

	r.bus.SetStopping(true)
	r.sched.Quiesce()

	timeout := time.Duration(r.cfg.ShutdownTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	drained := r.waitInFlight(timeout)
	if !drained {
		aborted := 0
		for _, a := range r.org.ListAgents() {
			if res := r.llm.AbortAgentCall(a.ID); res.Aborted {
				aborted++
			}
		}
		slog.Warn("shutdown timeout, aborted in-flight llm calls",
			"timeout", timeout, "aborted", aborted, "in_flight", r.sched.InFlight())
		r.waitInFlight(abortGrace)
	}

	pending := r.bus.PendingCount()
	if pending > 0 {
		slog.Info("dropping queued messages", "count", pending)
	}

	r.heartbeat.Stop()
	r.mcp.Stop()
	r.prompts.Close()
	r.events.Unsubscribe("journal")

	ok := drained
	if err := r.org.Flush(); err != nil {
		slog.Error("org flush failed", "error", err)
		ok = false
	}
	if err := r.conv.FlushAll(); err != nil {
		slog.Error("conversation flush failed", "error", err)
		ok = false
	}

	r.events.Close()
	if err := r.journal.Close(); err != nil {
		slog.Warn("journal close failed", "error", err)
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.stopTracing(flushCtx); err != nil {
		slog.Warn("telemetry shutdown failed", "error", err)
	}

	active := 0
	for _, a := range r.org.ListAgents() {
		if a.Active() {
			active++
		}
	}

	res := ShutdownResult{
		Ok:              ok,
		Duration:        time.Since(start),
		PendingMessages: pending,
		ActiveAgents:    active,
	}
	slog.Info("runtime stopped",
		"ok", res.Ok,
		"duration", res.Duration,
		"pending_messages", res.PendingMessages,
		"active_agents", res.ActiveAgents)
	return res
}

// waitInFlight blocks until every in-flight step finishes or the budget
// elapses, reporting whether the pool drained.
func (r *Runtime) waitInFlight(budget time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()
	return r.sched.Wait(ctx) == nil
}
