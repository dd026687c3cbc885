package events

import (
	"log/slog"
	"sync"
	"time"
)

// Event names surfaced to subscribers. Payload shapes are stable.
const (
	ToolCall            = "toolCall"
	Error               = "error"
	LLMRetry            = "llmRetry"
	LLMUsage            = "llmUsage"
	ComputeStatusChange = "computeStatusChange"
	AgentLifecycle      = "agentLifecycle"
	AgentIdle           = "agentIdle"
)

// Event is one broadcast occurrence.
type Event struct {
	Name    string      `json:"name"`
	At      time.Time   `json:"at"`
	Payload interface{} `json:"payload,omitempty"`
}

// ToolCallPayload reports one tool invocation.
type ToolCallPayload struct {
	AgentID    string `json:"agent_id"`
	Tool       string `json:"tool"`
	DurationMs int64  `json:"duration_ms"`
	IsError    bool   `json:"is_error"`
	ErrorKind  string `json:"error_kind,omitempty"`
}

// ErrorPayload reports a trapped failure.
type ErrorPayload struct {
	AgentID string `json:"agent_id,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// LLMRetryPayload reports one retry decision.
type LLMRetryPayload struct {
	AgentID   string        `json:"agent_id"`
	Attempt   int           `json:"attempt"`
	NextDelay time.Duration `json:"next_delay"`
	Reason    string        `json:"reason,omitempty"`
}

// UsagePayload reports token accounting for one successful LLM call.
type UsagePayload struct {
	AgentID          string `json:"agent_id"`
	ServiceID        string `json:"service_id,omitempty"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

// StatusChangePayload reports an agent compute-status transition.
type StatusChangePayload struct {
	AgentID string `json:"agent_id"`
	From    string `json:"from"`
	To      string `json:"to"`
}

// LifecyclePayload reports spawn/terminate/restore.
type LifecyclePayload struct {
	AgentID  string `json:"agent_id"`
	Action   string `json:"action"` // "spawned", "terminated", "restored"
	ParentID string `json:"parent_id,omitempty"`
	RoleID   string `json:"role_id,omitempty"`
	TaskID   string `json:"task_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// IdlePayload reports an idle-warning for an active agent.
type IdlePayload struct {
	AgentID string        `json:"agent_id"`
	IdleFor time.Duration `json:"idle_for"`
}

// Handler receives broadcast events.
type Handler func(Event)

// subscriberBuffer bounds how far a slow subscriber may lag before drops.
const subscriberBuffer = 256

type subscriber struct {
	ch   chan Event
	done chan struct{}
}

// Bus fans events out to named subscribers. Broadcast never blocks the
// emitter: each subscriber drains its own buffered channel, and a full
// buffer drops the event with a warning.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*subscriber
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]*subscriber)}
}

// Subscribe registers a handler under id, replacing any previous handler
// with the same id.
func (b *Bus) Subscribe(id string, h Handler) {
	sub := &subscriber{
		ch:   make(chan Event, subscriberBuffer),
		done: make(chan struct{}),
	}
	go func() {
		for {
			select {
			case ev := <-sub.ch:
				h(ev)
			case <-sub.done:
				// Drain what is already buffered, then exit.
				for {
					select {
					case ev := <-sub.ch:
						h(ev)
					default:
						return
					}
				}
			}
		}
	}()

	b.mu.Lock()
	if prev, ok := b.subs[id]; ok {
		close(prev.done)
	}
	b.subs[id] = sub
	b.mu.Unlock()
}

// Unsubscribe removes the handler registered under id.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	if sub, ok := b.subs[id]; ok {
		close(sub.done)
		delete(b.subs, id)
	}
	b.mu.Unlock()
}

// Broadcast delivers the event to every subscriber without blocking.
func (b *Bus) Broadcast(name string, payload interface{}) {
	ev := Event{Name: name, At: time.Now(), Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			slog.Warn("event subscriber lagging, dropping event", "subscriber", id, "event", name)
		}
	}
}

// Close stops all subscriber goroutines.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		close(sub.done)
		delete(b.subs, id)
	}
}
