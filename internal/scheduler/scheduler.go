// Package scheduler drives agent progress: it scans for runnable agents,
// dispatches one step per agent into a bounded worker pool, and emits idle
// warnings for agents that stall in server mode.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/goswarm/internal/agent"
	"github.com/nextlevelbuilder/goswarm/internal/bus"
	"github.com/nextlevelbuilder/goswarm/internal/events"
	"github.com/nextlevelbuilder/goswarm/internal/llm"
	"github.com/nextlevelbuilder/goswarm/internal/org"
)

const (
	defaultWorkers     = 3
	defaultIdleWarning = 5 * time.Minute

	// Bounds for the server-mode housekeeping tick that checks idle
	// agents and re-scans as a safety net for lost wake-ups.
	minTick = 10 * time.Millisecond
	maxTick = 30 * time.Second
)

// Dispatcher resolves the behavior that processes one agent's inbound
// message. *agent.Lifecycle satisfies it.
type Dispatcher interface {
	Handler(agentID string) agent.Behavior
}

// Config carries the scheduler's collaborators and tuning.
type Config struct {
	Org      *org.Store
	Bus      *bus.Bus
	Status   *agent.Tracker
	Events   *events.Bus
	Dispatch Dispatcher

	// Workers caps concurrent steps. Defaults to 3.
	Workers int
	// IdleWarning is how long an active agent may go without inbound
	// traffic or a status change before one agentIdle event fires.
	// Defaults to 5 minutes. Checked in server mode only.
	IdleWarning time.Duration
}

// Scheduler owns the scan loop and the worker pool. One step at a time per
// agent: the status tracker's Claim is the mutual exclusion, so a claimed
// agent is never scanned as runnable again until its step releases it.
type Scheduler struct {
	org      *org.Store
	bus      *bus.Bus
	status   *agent.Tracker
	events   *events.Bus
	dispatch Dispatcher
	idleWarn time.Duration

	slots    chan struct{}
	wake     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	inflight atomic.Int64

	mu       sync.Mutex
	lastSeen map[string]time.Time
	warned   map[string]bool
}

// New builds a scheduler. Call NotifySend from the bus wake hook so sends
// interrupt the park instead of waiting for the next tick.
func New(cfg Config) *Scheduler {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	idleWarn := cfg.IdleWarning
	if idleWarn <= 0 {
		idleWarn = defaultIdleWarning
	}
	return &Scheduler{
		org:      cfg.Org,
		bus:      cfg.Bus,
		status:   cfg.Status,
		events:   cfg.Events,
		dispatch: cfg.Dispatch,
		idleWarn: idleWarn,
		slots:    make(chan struct{}, workers),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		lastSeen: make(map[string]time.Time),
		warned:   make(map[string]bool),
	}
}

// NotifySend wakes the scan loop after a successful enqueue. Wire it to
// Bus.OnSend.
func (s *Scheduler) NotifySend(to string) {
	s.markActivity(to)
	s.poke()
}

// Run processes steps until no agent is runnable and no worker is busy,
// then returns the number of steps taken. maxSteps caps the total when
// positive; zero or negative means unbounded. Context cancellation stops
// dispatching and waits for in-flight steps.
func (s *Scheduler) Run(ctx context.Context, maxSteps int) (int, error) {
	taken := 0
	for {
		if s.stopped() || ctx.Err() != nil {
			s.waitInflight()
			return taken, ctx.Err()
		}

		budget := -1
		if maxSteps > 0 {
			budget = maxSteps - taken
		}
		taken += s.scan(ctx, budget)

		if maxSteps > 0 && taken >= maxSteps {
			s.waitInflight()
			return taken, nil
		}

		if s.inflight.Load() == 0 && !s.anyRunnable() {
			// A send may have landed after the scan; the pending poke
			// forces one more pass instead of a premature return.
			select {
			case <-s.wake:
				continue
			default:
			}
			return taken, nil
		}

		select {
		case <-s.wake:
		case <-ctx.Done():
		case <-s.stopCh:
		}
	}
}

// Serve processes steps until the context ends or Quiesce is called,
// parking between scans on the bus wake signal. A housekeeping tick
// re-scans periodically and fires idle warnings.
func (s *Scheduler) Serve(ctx context.Context) error {
	tick := s.idleWarn / 4
	if tick < minTick {
		tick = minTick
	}
	if tick > maxTick {
		tick = maxTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	s.events.Subscribe("scheduler.activity", func(ev events.Event) {
		if ev.Name != events.ComputeStatusChange {
			return
		}
		if p, ok := ev.Payload.(events.StatusChangePayload); ok {
			s.markActivity(p.AgentID)
		}
	})
	defer s.events.Unsubscribe("scheduler.activity")

	s.seedActivity()
	slog.Info("scheduler serving", "workers", cap(s.slots), "idle_warning", s.idleWarn)

	for {
		if s.stopped() || ctx.Err() != nil {
			s.waitInflight()
			return ctx.Err()
		}

		s.scan(ctx, -1)

		select {
		case <-s.wake:
		case <-ticker.C:
			s.checkIdle(time.Now())
		case <-ctx.Done():
		case <-s.stopCh:
		}
	}
}

// Quiesce stops new dispatches. In-flight steps keep running; use Wait to
// observe their completion. Idempotent.
func (s *Scheduler) Quiesce() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.poke()
}

// Wait blocks until every in-flight step has finished or the context
// ends, returning the context error on timeout.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InFlight reports how many steps are currently executing.
func (s *Scheduler) InFlight() int {
	return int(s.inflight.Load())
}

// scan claims runnable agents and dispatches their steps until the pool
// is full, the budget is spent, or no agent is left. Returns the number
// dispatched. A negative budget means unbounded.
func (s *Scheduler) scan(ctx context.Context, budget int) int {
	dispatched := 0
	for _, id := range s.runnableIDs() {
		if budget >= 0 && dispatched >= budget {
			break
		}
		select {
		case s.slots <- struct{}{}:
		default:
			// Pool full. Step completions poke the wake channel, so the
			// caller re-scans as soon as a slot frees up.
			return dispatched
		}
		if !s.status.Claim(id) {
			<-s.slots
			continue
		}
		dispatched++
		s.inflight.Add(1)
		s.wg.Add(1)
		go s.step(ctx, id)
	}
	return dispatched
}

// step runs one agent step: take the next message, hand it to the agent's
// behavior, release the agent. Errors are logged and isolated; the
// scheduler keeps serving other agents.
func (s *Scheduler) step(ctx context.Context, agentID string) {
	defer func() {
		s.inflight.Add(-1)
		<-s.slots
		s.wg.Done()
		s.poke()
	}()

	s.markActivity(agentID)

	msg, ok := s.bus.ReceiveNext(agentID)
	if !ok {
		s.status.Release(agentID)
		return
	}

	err := s.dispatch.Handler(agentID).HandleMessage(ctx, agentID, msg)
	s.status.Release(agentID)
	if err == nil {
		return
	}
	if errors.Is(err, llm.ErrAborted) || errors.Is(err, context.Canceled) {
		slog.Debug("agent step aborted", "agent_id", agentID, "msg_id", msg.ID)
		return
	}
	slog.Warn("agent step failed", "agent_id", agentID, "msg_id", msg.ID, "error", err)
}

// runnableIDs lists agents that are active, registered, backlogged, and
// idle, in creation order. The user singleton is an external endpoint and
// never scheduled.
func (s *Scheduler) runnableIDs() []string {
	var out []string
	for _, a := range s.org.ListAgents() {
		if a.ID == org.UserAgentID || !a.Active() {
			continue
		}
		if !s.bus.Registered(a.ID) || s.bus.QueueDepth(a.ID) == 0 {
			continue
		}
		if s.status.Get(a.ID) != agent.StatusIdle {
			continue
		}
		out = append(out, a.ID)
	}
	return out
}

func (s *Scheduler) anyRunnable() bool {
	return len(s.runnableIDs()) > 0
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *Scheduler) waitInflight() {
	s.wg.Wait()
}

func (s *Scheduler) markActivity(agentID string) {
	now := time.Now()
	s.mu.Lock()
	s.lastSeen[agentID] = now
	delete(s.warned, agentID)
	s.mu.Unlock()
}

func (s *Scheduler) seedActivity() {
	now := time.Now()
	agents := s.org.ListAgents()
	s.mu.Lock()
	for _, a := range agents {
		if a.Active() {
			s.lastSeen[a.ID] = now
		}
	}
	s.mu.Unlock()
}

// checkIdle emits one agentIdle event per quiet period for each active
// agent with no inbound traffic or status change for the threshold.
// Activity resets the warning.
func (s *Scheduler) checkIdle(now time.Time) {
	type idle struct {
		id  string
		dur time.Duration
	}
	var hits []idle
	agents := s.org.ListAgents()

	s.mu.Lock()
	for _, a := range agents {
		if a.ID == org.UserAgentID || !a.Active() {
			continue
		}
		last, ok := s.lastSeen[a.ID]
		if !ok {
			s.lastSeen[a.ID] = now
			continue
		}
		if s.warned[a.ID] || now.Sub(last) < s.idleWarn {
			continue
		}
		s.warned[a.ID] = true
		hits = append(hits, idle{a.ID, now.Sub(last)})
	}
	s.mu.Unlock()

	for _, h := range hits {
		slog.Warn("agent idle", "agent_id", h.id, "idle_for", h.dur)
		s.events.Broadcast(events.AgentIdle, events.IdlePayload{
			AgentID: h.id,
			IdleFor: h.dur,
		})
	}
}
