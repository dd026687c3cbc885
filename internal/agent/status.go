// Package agent implements agent lifecycle (spawn, terminate, restore),
// the LLM-driven message processor, and per-agent compute status.
package agent

import (
	"sync"

	"github.com/nextlevelbuilder/goswarm/internal/events"
)

// Compute status values reported through computeStatusChange events.
// Agents with no recorded status are idle.
const (
	StatusIdle        = "idle"
	StatusWaitingLLM  = "waiting_llm"
	StatusProcessing  = "processing"
	StatusStopping    = "stopping"
	StatusStopped     = "stopped"
	StatusTerminating = "terminating"
)

// Tracker holds each agent's compute status and broadcasts transitions.
// The scheduler claims agents by flipping idle to processing under the
// tracker's lock, so no two workers pick up the same agent.
type Tracker struct {
	mu     sync.Mutex
	status map[string]string
	events *events.Bus
}

func NewTracker(bus *events.Bus) *Tracker {
	return &Tracker{
		status: make(map[string]string),
		events: bus,
	}
}

// Set records a transition and broadcasts it. Setting the current value is
// a no-op.
func (t *Tracker) Set(agentID, status string) {
	t.mu.Lock()
	from := t.statusLocked(agentID)
	if from == status {
		t.mu.Unlock()
		return
	}
	t.status[agentID] = status
	t.mu.Unlock()

	t.events.Broadcast(events.ComputeStatusChange, events.StatusChangePayload{
		AgentID: agentID,
		From:    from,
		To:      status,
	})
}

// Claim atomically moves an idle agent to processing. Returns false when
// the agent is not idle, in which case nothing changes.
func (t *Tracker) Claim(agentID string) bool {
	t.mu.Lock()
	if t.statusLocked(agentID) != StatusIdle {
		t.mu.Unlock()
		return false
	}
	t.status[agentID] = StatusProcessing
	t.mu.Unlock()

	t.events.Broadcast(events.ComputeStatusChange, events.StatusChangePayload{
		AgentID: agentID,
		From:    StatusIdle,
		To:      StatusProcessing,
	})
	return true
}

// Release returns a claimed agent to idle after its step. A no-op unless
// the agent is processing or waiting_llm, so agents that were terminated
// or moved to stopping mid-step keep that status.
func (t *Tracker) Release(agentID string) {
	t.mu.Lock()
	from := t.statusLocked(agentID)
	if from != StatusProcessing && from != StatusWaitingLLM {
		t.mu.Unlock()
		return
	}
	t.status[agentID] = StatusIdle
	t.mu.Unlock()

	t.events.Broadcast(events.ComputeStatusChange, events.StatusChangePayload{
		AgentID: agentID,
		From:    from,
		To:      StatusIdle,
	})
}

// Get returns the agent's current status.
func (t *Tracker) Get(agentID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked(agentID)
}

// IsWaitingLLM reports whether the agent currently waits on an LLM call.
func (t *Tracker) IsWaitingLLM(agentID string) bool {
	return t.Get(agentID) == StatusWaitingLLM
}

// Remove forgets the agent entirely (termination).
func (t *Tracker) Remove(agentID string) {
	t.mu.Lock()
	delete(t.status, agentID)
	t.mu.Unlock()
}

func (t *Tracker) statusLocked(agentID string) string {
	if s, ok := t.status[agentID]; ok {
		return s
	}
	return StatusIdle
}
