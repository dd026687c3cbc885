package bus

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Send failure modes. The error text doubles as the stable error kind
// reported in tool results.
var (
	ErrUnknownRecipient = errors.New("unknown_recipient")
	ErrCrossTaskDenied  = errors.New("cross_task_communication_denied")
	ErrRuntimeStopping  = errors.New("runtime_stopping")
)

// Bus routes messages between agents over per-recipient FIFO queues.
// Queues are unbounded and memory-only: delivery is at-most-once, and
// anything still queued at crash or shutdown is gone. Backpressure comes
// from the LLM concurrency gate, not from here.
type Bus struct {
	mu     sync.Mutex
	queues map[string][]*Message

	// taskOf resolves an agent's task id ("" = none). Injected by the
	// lifecycle layer so the bus can enforce cross-task isolation without
	// owning the org model.
	taskOf func(agentID string) string
	// exempt agents (root, user) may exchange messages across tasks.
	exempt map[string]struct{}
	// onSend fires after every successful enqueue (scheduler wake-up).
	onSend func(to string)
	// stopping rejects all new sends during graceful shutdown.
	stopping bool
}

// New creates an empty bus with no registered recipients.
func New() *Bus {
	return &Bus{
		queues: make(map[string][]*Message),
		exempt: make(map[string]struct{}),
	}
}

// SetTaskResolver injects the agent → task id lookup used by the
// cross-task rule. Without a resolver the rule is not enforced.
func (b *Bus) SetTaskResolver(fn func(agentID string) string) {
	b.mu.Lock()
	b.taskOf = fn
	b.mu.Unlock()
}

// SetExempt marks agent ids that bypass the cross-task rule in either
// direction (the root and user singletons).
func (b *Bus) SetExempt(ids ...string) {
	b.mu.Lock()
	for _, id := range ids {
		b.exempt[id] = struct{}{}
	}
	b.mu.Unlock()
}

// OnSend registers a callback fired after each successful enqueue.
func (b *Bus) OnSend(fn func(to string)) {
	b.mu.Lock()
	b.onSend = fn
	b.mu.Unlock()
}

// SetStopping flips shutdown mode: while set, every Send fails with
// ErrRuntimeStopping. Receives and drains keep working so in-flight steps
// can finish.
func (b *Bus) SetStopping(v bool) {
	b.mu.Lock()
	b.stopping = v
	b.mu.Unlock()
}

// Register creates an empty queue for a recipient. Idempotent.
func (b *Bus) Register(agentID string) {
	b.mu.Lock()
	if _, ok := b.queues[agentID]; !ok {
		b.queues[agentID] = nil
	}
	b.mu.Unlock()
}

// Unregister removes the recipient and discards anything still queued.
func (b *Bus) Unregister(agentID string) {
	b.mu.Lock()
	delete(b.queues, agentID)
	b.mu.Unlock()
}

// Registered reports whether the recipient has a queue.
func (b *Bus) Registered(agentID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.queues[agentID]
	return ok
}

// Send enqueues a message for msg.To and returns the assigned message id.
// Fails with ErrRuntimeStopping during shutdown, ErrUnknownRecipient when
// the recipient has no queue, and ErrCrossTaskDenied when sender and
// recipient belong to different tasks and neither endpoint is exempt.
// Never blocks.
func (b *Bus) Send(msg Message) (string, error) {
	b.mu.Lock()

	if b.stopping {
		b.mu.Unlock()
		return "", ErrRuntimeStopping
	}
	if _, ok := b.queues[msg.To]; !ok {
		b.mu.Unlock()
		return "", ErrUnknownRecipient
	}

	if err := b.checkTaskRule(&msg); err != nil {
		b.mu.Unlock()
		return "", err
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	m := msg
	b.queues[msg.To] = append(b.queues[msg.To], &m)
	fn := b.onSend
	b.mu.Unlock()

	// Fire outside the lock so a wake-up cannot deadlock back into us.
	if fn != nil {
		fn(msg.To)
	}
	return msg.ID, nil
}

// checkTaskRule enforces: deliverable iff either endpoint is exempt or
// both endpoints share the message's task. Callers must hold b.mu.
func (b *Bus) checkTaskRule(msg *Message) error {
	if _, ok := b.exempt[msg.From]; ok {
		return nil
	}
	if _, ok := b.exempt[msg.To]; ok {
		return nil
	}
	if b.taskOf == nil {
		return nil
	}

	fromTask := b.taskOf(msg.From)
	toTask := b.taskOf(msg.To)
	if fromTask != "" && fromTask == toTask {
		return nil
	}
	return ErrCrossTaskDenied
}

// ReceiveNext pops the oldest queued message for the recipient.
// Returns nil, false when the queue is empty or unknown.
func (b *Bus) ReceiveNext(agentID string) (*Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queues[agentID]
	if len(q) == 0 {
		return nil, false
	}
	msg := q[0]
	b.queues[agentID] = q[1:]
	return msg, true
}

// QueueDepth returns the exact number of queued messages for the recipient.
func (b *Bus) QueueDepth(agentID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[agentID])
}

// Drain removes and returns up to limit queued messages for the recipient
// in FIFO order. limit <= 0 drains everything.
func (b *Bus) Drain(agentID string, limit int) []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queues[agentID]
	if len(q) == 0 {
		return nil
	}
	n := len(q)
	if limit > 0 && limit < n {
		n = limit
	}
	drained := q[:n]
	b.queues[agentID] = q[n:]
	return drained
}

// PendingCount returns the total number of queued messages across all
// recipients.
func (b *Bus) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, q := range b.queues {
		total += len(q)
	}
	return total
}
