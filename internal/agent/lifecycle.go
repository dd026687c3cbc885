package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/goswarm/internal/bus"
	"github.com/nextlevelbuilder/goswarm/internal/contacts"
	"github.com/nextlevelbuilder/goswarm/internal/conversation"
	"github.com/nextlevelbuilder/goswarm/internal/events"
	"github.com/nextlevelbuilder/goswarm/internal/llm"
	"github.com/nextlevelbuilder/goswarm/internal/org"
	"github.com/nextlevelbuilder/goswarm/internal/prompts"
	"github.com/nextlevelbuilder/goswarm/internal/runtimeerr"
	"github.com/nextlevelbuilder/goswarm/internal/tools"
	"github.com/nextlevelbuilder/goswarm/internal/workspace"
)

// ErrNotChild rejects terminate calls aimed at anything but a direct child.
var ErrNotChild = errors.New("not_child_agent")

// drainLimit caps how many queued messages a termination drains per agent.
const drainLimit = 100

// Deps are the runtime subsystems the lifecycle and processor operate on.
type Deps struct {
	Org        *org.Store
	Bus        *bus.Bus
	Conv       *conversation.Store
	Contacts   *contacts.Registry
	Workspaces *workspace.Manager
	Status     *Tracker
	Events     *events.Bus
	Prompts    *prompts.Loader
	LLM        *llm.Caller
}

// Lifecycle spawns, terminates, and restores agents. It owns the mapping
// from live agent ids to their message-handling behavior; everything else
// it mutates through the owning stores.
type Lifecycle struct {
	deps      Deps
	behaviors *BehaviorRegistry

	// namingServiceID selects the LLM service used for name generation.
	// Empty means the default endpoint.
	namingServiceID string
	nameGen         bool

	mu       sync.RWMutex
	handlers map[string]Behavior
}

// LifecycleOption adjusts a lifecycle at construction time.
type LifecycleOption func(*Lifecycle)

// WithNamingService routes name generation to one llm service id.
func WithNamingService(id string) LifecycleOption {
	return func(l *Lifecycle) { l.namingServiceID = id }
}

// WithoutNameGeneration disables the parallel naming goroutine entirely.
func WithoutNameGeneration() LifecycleOption {
	return func(l *Lifecycle) { l.nameGen = false }
}

// NewLifecycle wires a lifecycle over the shared subsystems.
func NewLifecycle(deps Deps, behaviors *BehaviorRegistry, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{
		deps:      deps,
		behaviors: behaviors,
		nameGen:   true,
		handlers:  make(map[string]Behavior),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Handler returns the behavior driving agentID, falling back to the
// registry default for agents registered outside SpawnWithTask (root, user,
// restored agents whose role vanished).
func (l *Lifecycle) Handler(agentID string) Behavior {
	l.mu.RLock()
	h, ok := l.handlers[agentID]
	l.mu.RUnlock()
	if ok {
		return h
	}
	return l.behaviors.ForRole("")
}

func (l *Lifecycle) setHandler(agentID string, h Behavior) {
	l.mu.Lock()
	l.handlers[agentID] = h
	l.mu.Unlock()
}

func (l *Lifecycle) dropHandler(agentID string) {
	l.mu.Lock()
	delete(l.handlers, agentID)
	l.mu.Unlock()
}

// SpawnWithTask creates a child of parentID under roleID, hands it the
// brief, and enqueues initialMessage as its first inbound. Children of root
// open a fresh task and a dedicated workspace; everyone else inherits the
// parent's. The new agent is registered on the bus before the initial
// message is sent, so a spawn-then-send in the same step never races.
func (l *Lifecycle) SpawnWithTask(ctx context.Context, parentID, roleID string, brief *org.TaskBrief, initialMessage string) (*tools.SpawnOutcome, error) {
	if parentID == "" || parentID == "null" || parentID == "undefined" {
		return nil, runtimeerr.New("invalid_args", "parentAgentId is required")
	}
	if brief != nil {
		if err := brief.Validate(); err != nil {
			return nil, err
		}
	}
	role, err := l.deps.Org.GetRole(roleID)
	if err != nil {
		return nil, err
	}

	var agent *org.Agent
	var taskID string
	if parentID == org.RootAgentID {
		// Fresh task scope: the task id is minted from the new agent's id,
		// so the agent is created first and bound to its task after.
		agent, err = l.deps.Org.CreateAgent(role.ID, parentID, "", brief)
		if err != nil {
			return nil, err
		}
		task, err := l.deps.Org.CreateTask(agent.ID)
		if err != nil {
			return nil, err
		}
		if err := l.deps.Org.SetAgentTask(agent.ID, task.ID); err != nil {
			return nil, err
		}
		taskID = task.ID
	} else {
		taskID = l.deps.Org.TaskOf(parentID)
		agent, err = l.deps.Org.CreateAgent(role.ID, parentID, taskID, brief)
		if err != nil {
			return nil, err
		}
	}

	l.deps.Bus.Register(agent.ID)

	l.deps.Contacts.Add(agent.ID, contacts.Contact{
		PeerID: parentID,
		Label:  contacts.LabelParent,
	})
	l.deps.Contacts.Add(parentID, contacts.Contact{
		PeerID: agent.ID,
		Label:  contacts.LabelChild,
		Note:   role.Name,
	})
	if brief != nil {
		for _, peer := range brief.Collaborators {
			if peer == agent.ID {
				continue
			}
			l.deps.Contacts.AddIfAbsent(agent.ID, contacts.Contact{
				PeerID: peer,
				Label:  contacts.LabelCollaborator,
			})
		}
	}

	if parentID == org.RootAgentID {
		if err := l.deps.Workspaces.Assign(agent.ID, agent.ID); err != nil {
			return nil, err
		}
	} else {
		l.deps.Workspaces.Inherit(agent.ID, parentID)
	}

	if err := l.deps.Conv.Ensure(agent.ID, spawnSystemPrompt(l.deps.Prompts, agent, role)); err != nil {
		return nil, err
	}

	l.setHandler(agent.ID, l.behaviors.ForRole(role.Name))

	if initialMessage != "" {
		msg := bus.Message{
			From:   parentID,
			To:     agent.ID,
			TaskID: taskID,
			Payload: bus.Payload{
				Kind: bus.PayloadTaskAssignment,
				Text: initialMessage,
			},
		}
		if _, err := l.deps.Bus.Send(msg); err != nil {
			return nil, err
		}
	}

	l.deps.Events.Broadcast(events.AgentLifecycle, events.LifecyclePayload{
		AgentID:  agent.ID,
		Action:   "spawned",
		ParentID: parentID,
		RoleID:   role.ID,
		TaskID:   taskID,
	})
	slog.Info("agent spawned",
		"agent", agent.ID, "role", role.Name, "parent", parentID, "task", taskID)

	if l.nameGen {
		go l.generateName(agent.ID, role.Name)
	}

	return &tools.SpawnOutcome{AgentID: agent.ID, RoleID: role.ID, TaskID: taskID}, nil
}

// Terminate removes agentID and its whole subtree. Only the direct parent
// may call it. Descendants go leaf-first so no active agent ever points at
// a terminated parent. Queued messages are counted and dropped with the
// queue; in-flight LLM calls are aborted through the gate.
func (l *Lifecycle) Terminate(ctx context.Context, callerID, agentID, reason string) (*tools.TerminateOutcome, error) {
	target, err := l.deps.Org.GetAgent(agentID)
	if err != nil {
		return nil, err
	}
	if !target.Active() {
		return nil, org.ErrAgentNotFound
	}
	if target.ParentAgentID != callerID {
		return nil, ErrNotChild
	}

	var order []string
	var walk func(id string)
	walk = func(id string) {
		for _, child := range l.deps.Org.ActiveChildren(id) {
			walk(child)
		}
		order = append(order, id)
	}
	walk(agentID)

	drained := 0
	for _, id := range order {
		l.deps.Status.Set(id, StatusTerminating)
		l.deps.LLM.Gate().Cancel(id)
		drained += len(l.deps.Bus.Drain(id, drainLimit))
		l.deps.Bus.Unregister(id)
		if err := l.deps.Conv.Delete(id); err != nil && !errors.Is(err, conversation.ErrNoConversation) {
			slog.Warn("terminate: conversation delete failed", "agent", id, "error", err)
		}
		l.deps.Contacts.RemoveAgent(id)
		l.deps.Workspaces.Remove(id)
		l.deps.Status.Remove(id)
		l.dropHandler(id)
		if err := l.deps.Org.RecordTermination(id, callerID, reason); err != nil {
			return nil, err
		}
		l.deps.Events.Broadcast(events.AgentLifecycle, events.LifecyclePayload{
			AgentID: id,
			Action:  "terminated",
			Reason:  reason,
		})
	}
	slog.Info("agent terminated",
		"agent", agentID, "by", callerID, "cascade", len(order), "drained", drained)

	return &tools.TerminateOutcome{Terminated: order, Drained: drained}, nil
}

// Restore re-registers every persisted active agent after a restart:
// bus queue, workspace, contact links, and behavior. Conversations load
// themselves from disk. Returns the number of agents restored.
func (l *Lifecycle) Restore(ctx context.Context) (int, error) {
	restored := 0
	// Parents before children so workspace inheritance resolves.
	var walk func(parentID string) error
	walk = func(parentID string) error {
		for _, id := range l.deps.Org.ActiveChildren(parentID) {
			agent, err := l.deps.Org.GetAgent(id)
			if err != nil {
				return err
			}
			role, err := l.deps.Org.GetRole(agent.RoleID)
			if err != nil {
				slog.Warn("restore: skipping agent with missing role",
					"agent", id, "role_id", agent.RoleID)
				continue
			}

			l.deps.Bus.Register(id)
			if agent.ParentAgentID == org.RootAgentID {
				if err := l.deps.Workspaces.Assign(id, id); err != nil {
					return err
				}
			} else {
				l.deps.Workspaces.Inherit(id, agent.ParentAgentID)
			}
			l.deps.Contacts.AddIfAbsent(id, contacts.Contact{
				PeerID: agent.ParentAgentID,
				Label:  contacts.LabelParent,
			})
			l.deps.Contacts.AddIfAbsent(agent.ParentAgentID, contacts.Contact{
				PeerID: id,
				Label:  contacts.LabelChild,
				Note:   role.Name,
			})
			if agent.TaskBrief != nil {
				for _, peer := range agent.TaskBrief.Collaborators {
					if peer == id {
						continue
					}
					l.deps.Contacts.AddIfAbsent(id, contacts.Contact{
						PeerID: peer,
						Label:  contacts.LabelCollaborator,
					})
				}
			}
			l.setHandler(id, l.behaviors.ForRole(role.Name))
			l.deps.Events.Broadcast(events.AgentLifecycle, events.LifecyclePayload{
				AgentID:  id,
				Action:   "restored",
				ParentID: agent.ParentAgentID,
				RoleID:   agent.RoleID,
				TaskID:   agent.TaskID,
			})
			restored++

			if err := walk(id); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(org.RootAgentID); err != nil {
		return restored, err
	}
	if restored > 0 {
		slog.Info("agents restored", "count", restored)
	}
	return restored, nil
}
