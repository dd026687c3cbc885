package agent

import (
	"context"
	"sync"

	"github.com/nextlevelbuilder/goswarm/internal/bus"
)

// Behavior handles one inbound message for an agent. The default is the
// LLM-driven Processor; roles can opt into custom behaviors through the
// registry.
type Behavior interface {
	HandleMessage(ctx context.Context, agentID string, msg *bus.Message) error
}

// BehaviorFactory builds a behavior instance for one agent.
type BehaviorFactory func() Behavior

// BehaviorRegistry maps role names to behavior factories. Roles without an
// entry fall back to the default factory.
type BehaviorRegistry struct {
	mu        sync.RWMutex
	factories map[string]BehaviorFactory
	def       BehaviorFactory
}

func NewBehaviorRegistry(def BehaviorFactory) *BehaviorRegistry {
	return &BehaviorRegistry{
		factories: make(map[string]BehaviorFactory),
		def:       def,
	}
}

// Register binds a role name to a custom behavior factory.
func (r *BehaviorRegistry) Register(roleName string, f BehaviorFactory) {
	r.mu.Lock()
	r.factories[roleName] = f
	r.mu.Unlock()
}

// ForRole builds the behavior for a role, falling back to the default.
func (r *BehaviorRegistry) ForRole(roleName string) Behavior {
	r.mu.RLock()
	f, ok := r.factories[roleName]
	r.mu.RUnlock()
	if !ok {
		f = r.def
	}
	return f()
}
