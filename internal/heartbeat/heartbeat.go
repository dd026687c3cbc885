// Package heartbeat enqueues cron-scheduled wake-up messages so agents can
// act on a schedule instead of only reacting to inbound traffic.
package heartbeat

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/goswarm/internal/bus"
	"github.com/nextlevelbuilder/goswarm/internal/config"
	"github.com/nextlevelbuilder/goswarm/internal/org"
)

// tick is how often entries are checked. Expressions have minute
// granularity; the per-minute dedupe below keeps a faster tick safe.
const tick = 20 * time.Second

// Service fires configured heartbeats into the message bus. Messages are
// sent from the user endpoint, so they pass task-scope checks and read as
// external input to the receiving agent.
type Service struct {
	bus     *bus.Bus
	taskOf  func(agentID string) string
	entries []config.HeartbeatEntry
	gron    *gronx.Gronx
	every   time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu        sync.Mutex
	lastFired map[int]time.Time
}

// New validates the entries and builds the service. taskOf stamps each
// wake-up with the recipient's task scope; nil leaves messages unscoped.
func New(b *bus.Bus, taskOf func(agentID string) string, entries []config.HeartbeatEntry) (*Service, error) {
	gron := gronx.New()
	for _, e := range entries {
		if e.AgentID == "" {
			return nil, fmt.Errorf("heartbeat entry missing agentId")
		}
		if !gron.IsValid(e.Cron) {
			return nil, fmt.Errorf("heartbeat for %s: invalid cron expression %q", e.AgentID, e.Cron)
		}
	}
	return &Service{
		bus:       b,
		taskOf:    taskOf,
		entries:   entries,
		gron:      gron,
		every:     tick,
		stopCh:    make(chan struct{}),
		lastFired: make(map[int]time.Time),
	}, nil
}

// Start launches the ticker goroutine. A service with no entries stays
// inert.
func (s *Service) Start() {
	if len(s.entries) == 0 {
		return
	}
	s.wg.Add(1)
	go s.run()
	slog.Info("heartbeat service started", "entries", len(s.entries))
}

// Stop halts the ticker and waits for it to exit. Safe to call more than
// once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Service) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.fireDue(now)
		}
	}
}

// fireDue sends every entry whose expression matches now. Each entry
// fires at most once per minute regardless of tick rate. Delivery
// failures are logged and never stop the remaining entries.
func (s *Service) fireDue(now time.Time) {
	minute := now.Truncate(time.Minute)
	for i, e := range s.entries {
		s.mu.Lock()
		fired := s.lastFired[i].Equal(minute)
		s.mu.Unlock()
		if fired {
			continue
		}

		due, err := s.gron.IsDue(e.Cron, now)
		if err != nil {
			slog.Warn("heartbeat cron check failed", "agent_id", e.AgentID, "cron", e.Cron, "error", err)
			continue
		}
		if !due {
			continue
		}

		s.mu.Lock()
		s.lastFired[i] = minute
		s.mu.Unlock()

		taskID := ""
		if s.taskOf != nil {
			taskID = s.taskOf(e.AgentID)
		}
		msg := bus.Message{
			From:   org.UserAgentID,
			To:     e.AgentID,
			TaskID: taskID,
			Payload: bus.Payload{
				Kind: bus.PayloadSystem,
				Text: e.Message,
			},
		}
		if _, err := s.bus.Send(msg); err != nil {
			slog.Warn("heartbeat delivery failed", "agent_id", e.AgentID, "error", err)
			continue
		}
		slog.Debug("heartbeat fired", "agent_id", e.AgentID, "cron", e.Cron)
	}
}
