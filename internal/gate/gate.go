// Package gate bounds concurrent LLM calls: a global cap with FIFO
// admission, one in-flight call per agent, and per-agent cancellation.
package gate

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Rejection sentinels. The text doubles as the stable error kind.
var (
	ErrAlreadyActive = errors.New("already_active")
	ErrCancelled     = errors.New("cancelled")
)

// Stats is a point-in-time snapshot of gate accounting.
type Stats struct {
	Active    int    `json:"active"`
	Queued    int    `json:"queued"`
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Rejected  uint64 `json:"rejected"`
	Cancelled uint64 `json:"cancelled"`
}

type waiter struct {
	agentID string
	// ready is closed by a releasing call to hand its slot over directly;
	// the slot never returns to the semaphore while someone waits.
	ready chan struct{}
}

// Gate admits at most cap calls at once. Calls beyond the cap wait in
// arrival order; each slot release admits exactly the oldest waiter. An
// agent may hold at most one slot, queued or running.
type Gate struct {
	cap int
	sem *semaphore.Weighted

	mu      sync.Mutex
	active  map[string]context.CancelFunc
	waiting []*waiter
	running int

	submitted uint64
	completed uint64
	rejected  uint64
	cancelled uint64
}

// New creates a gate with the given cap. Caps below 1 are raised to 1.
func New(capacity int) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	return &Gate{
		cap:    capacity,
		sem:    semaphore.NewWeighted(int64(capacity)),
		active: make(map[string]context.CancelFunc),
	}
}

// Cap returns the configured concurrency limit.
func (g *Gate) Cap() int { return g.cap }

// Execute runs fn under the gate. It returns ErrAlreadyActive when the
// agent already holds a slot, ErrCancelled when the call is removed from
// the queue (by Cancel or by ctx), and otherwise fn's own error. fn
// receives a context that Cancel(agentID) aborts.
func (g *Gate) Execute(ctx context.Context, agentID string, fn func(context.Context) error) error {
	callCtx, cancel := context.WithCancel(ctx)

	g.mu.Lock()
	if _, dup := g.active[agentID]; dup {
		g.rejected++
		g.mu.Unlock()
		cancel()
		return ErrAlreadyActive
	}
	g.active[agentID] = cancel
	g.submitted++

	if g.sem.TryAcquire(1) {
		g.running++
		g.mu.Unlock()
		return g.run(callCtx, cancel, agentID, fn)
	}

	w := &waiter{agentID: agentID, ready: make(chan struct{})}
	g.waiting = append(g.waiting, w)
	g.mu.Unlock()

	select {
	case <-w.ready:
		g.mu.Lock()
		g.running++
		g.mu.Unlock()
		return g.run(callCtx, cancel, agentID, fn)

	case <-callCtx.Done():
		g.mu.Lock()
		if g.removeWaiterLocked(w) {
			delete(g.active, agentID)
			g.cancelled++
			g.mu.Unlock()
			cancel()
			return ErrCancelled
		}
		// A releaser admitted us between Done and the lock: we own a slot
		// and must pass it on before rejecting.
		g.releaseSlotLocked()
		delete(g.active, agentID)
		g.cancelled++
		g.mu.Unlock()
		cancel()
		return ErrCancelled
	}
}

func (g *Gate) run(callCtx context.Context, cancel context.CancelFunc, agentID string, fn func(context.Context) error) error {
	defer func() {
		g.mu.Lock()
		g.running--
		delete(g.active, agentID)
		g.completed++
		g.releaseSlotLocked()
		g.mu.Unlock()
		cancel()
	}()
	return fn(callCtx)
}

// releaseSlotLocked hands the freed slot to the oldest waiter, or returns
// it to the semaphore when nobody waits. Callers hold g.mu.
func (g *Gate) releaseSlotLocked() {
	if len(g.waiting) > 0 {
		w := g.waiting[0]
		g.waiting = g.waiting[1:]
		close(w.ready)
		return
	}
	g.sem.Release(1)
}

// removeWaiterLocked reports whether w was still queued, removing it.
func (g *Gate) removeWaiterLocked(w *waiter) bool {
	for i, cand := range g.waiting {
		if cand == w {
			g.waiting = append(g.waiting[:i], g.waiting[i+1:]...)
			return true
		}
	}
	return false
}

// Cancel aborts the agent's queued or running call. Queued calls reject
// with ErrCancelled; running calls see their context cancelled. Returns
// false when the agent holds no slot.
func (g *Gate) Cancel(agentID string) bool {
	g.mu.Lock()
	cancel, ok := g.active[agentID]
	g.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// Holds reports whether the agent currently holds a slot (queued or
// running).
func (g *Gate) Holds(agentID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.active[agentID]
	return ok
}

// Stats returns a snapshot of the counters.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		Active:    g.running,
		Queued:    len(g.waiting),
		Submitted: g.submitted,
		Completed: g.completed,
		Rejected:  g.rejected,
		Cancelled: g.cancelled,
	}
}
