package agent

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/goswarm/internal/bus"
	"github.com/nextlevelbuilder/goswarm/internal/contacts"
	"github.com/nextlevelbuilder/goswarm/internal/conversation"
	"github.com/nextlevelbuilder/goswarm/internal/events"
	"github.com/nextlevelbuilder/goswarm/internal/gate"
	"github.com/nextlevelbuilder/goswarm/internal/llm"
	"github.com/nextlevelbuilder/goswarm/internal/org"
	"github.com/nextlevelbuilder/goswarm/internal/prompts"
	"github.com/nextlevelbuilder/goswarm/internal/providers"
	"github.com/nextlevelbuilder/goswarm/internal/tools"
	"github.com/nextlevelbuilder/goswarm/internal/workspace"
)

// scriptFunc decides the provider response for the nth call (1-based).
// ctx is the per-call context the gate controls.
type scriptFunc func(ctx context.Context, call int, req providers.ChatRequest) (*providers.ChatResponse, error)

// scriptedProvider plays back a script and records every request.
type scriptedProvider struct {
	mu       sync.Mutex
	calls    int
	requests []providers.ChatRequest
	script   scriptFunc
}

func (p *scriptedProvider) Name() string         { return "scripted" }
func (p *scriptedProvider) DefaultModel() string { return "test-model" }

func (p *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.mu.Lock()
	p.calls++
	n := p.calls
	p.requests = append(p.requests, req)
	script := p.script
	p.mu.Unlock()
	if script == nil {
		return &providers.ChatResponse{Content: "ok", FinishReason: "stop"}, nil
	}
	return script(ctx, n, req)
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *scriptedProvider) request(n int) providers.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[n-1]
}

// eventRecorder collects broadcasts for assertions. Handlers run on
// subscriber goroutines, so reads go through the mutex.
type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) record(ev events.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) named(name string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// rig is a full in-memory runtime slice: stores, bus, gate, caller,
// lifecycle, and processor wired exactly as the runtime wires them.
type rig struct {
	dir       string
	deps      Deps
	org       *org.Store
	bus       *bus.Bus
	conv      *conversation.Store
	contacts  *contacts.Registry
	ws        *workspace.Manager
	status    *Tracker
	events    *events.Bus
	provider  *scriptedProvider
	llm       *llm.Caller
	tools     *tools.Registry
	processor *Processor
	lifecycle *Lifecycle
	recorder  *eventRecorder
}

type rigOption func(*rigConfig)

type rigConfig struct {
	maxTokens     int
	maxToolRounds int
}

func withMaxTokens(n int) rigOption {
	return func(c *rigConfig) { c.maxTokens = n }
}

func withMaxToolRounds(n int) rigOption {
	return func(c *rigConfig) { c.maxToolRounds = n }
}

func newRig(t *testing.T, script scriptFunc, opts ...rigOption) *rig {
	t.Helper()
	cfg := rigConfig{maxTokens: 128000, maxToolRounds: 10}
	for _, opt := range opts {
		opt(&cfg)
	}

	dir := t.TempDir()
	return newRigAt(t, dir, script, cfg)
}

func newRigAt(t *testing.T, dir string, script scriptFunc, cfg rigConfig) *rig {
	t.Helper()

	orgStore, err := org.NewStore(filepath.Join(dir, "state"))
	require.NoError(t, err)
	conv, err := conversation.NewStore(filepath.Join(dir, "state", "conversations"), cfg.maxTokens)
	require.NoError(t, err)
	ws, err := workspace.NewManager(filepath.Join(dir, "workspaces"))
	require.NoError(t, err)

	b := bus.New()
	b.SetExempt(org.RootAgentID, org.UserAgentID)
	b.SetTaskResolver(orgStore.TaskOf)
	b.Register(org.RootAgentID)
	b.Register(org.UserAgentID)

	ev := events.NewBus()
	t.Cleanup(ev.Close)
	rec := &eventRecorder{}
	ev.Subscribe("test-recorder", rec.record)

	tracker := NewTracker(ev)
	loader, err := prompts.NewLoader("")
	require.NoError(t, err)

	provider := &scriptedProvider{script: script}
	registry := providers.NewRegistry(provider)
	caller := llm.NewCaller(registry, gate.New(3), ev, 3,
		llm.WithWaitingCheck(tracker.IsWaitingLLM))

	deps := Deps{
		Org:        orgStore,
		Bus:        b,
		Conv:       conv,
		Contacts:   contacts.NewRegistry(),
		Workspaces: ws,
		Status:     tracker,
		Events:     ev,
		Prompts:    loader,
		LLM:        caller,
	}

	reg := tools.NewRegistry()
	processor := NewProcessor(deps, reg, cfg.maxToolRounds)
	behaviors := NewBehaviorRegistry(func() Behavior { return processor })
	// Name generation is exercised by its own tests; everywhere else it
	// would race the scripted provider.
	lc := NewLifecycle(deps, behaviors, WithoutNameGeneration())

	reg.Register(tools.NewFindRoleByNameTool(orgStore))
	reg.Register(tools.NewCreateRoleTool(orgStore))
	reg.Register(tools.NewSpawnAgentTool(lc))
	reg.Register(tools.NewTerminateAgentTool(lc))
	reg.Register(tools.NewSendMessageTool(b))
	reg.Register(tools.NewCompressContextTool(conv))
	reg.Register(tools.NewContextStatusTool(conv))
	reg.Register(tools.NewReadFileTool(ws))
	reg.Register(tools.NewWriteFileTool(ws))
	reg.Register(tools.NewListFilesTool(ws))
	reg.Register(tools.NewPutArtifactTool(ws))
	reg.Register(tools.NewGetArtifactTool(ws))

	return &rig{
		dir:       dir,
		deps:      deps,
		org:       orgStore,
		bus:       b,
		conv:      conv,
		contacts:  deps.Contacts,
		ws:        ws,
		status:    tracker,
		events:    ev,
		provider:  provider,
		llm:       caller,
		tools:     reg,
		processor: processor,
		lifecycle: lc,
		recorder:  rec,
	}
}

// newRole shortcut; roles are created by root in these tests.
func (r *rig) newRole(t *testing.T, name string) *org.Role {
	t.Helper()
	role, err := r.org.CreateRole(name, "You are a "+name+".", "", org.RootAgentID)
	require.NoError(t, err)
	return role
}

func validBrief() *org.TaskBrief {
	return &org.TaskBrief{
		Objective:          "answer greetings",
		Constraints:        []string{"be brief"},
		Inputs:             "messages from parent",
		Outputs:            "a short reply",
		CompletionCriteria: "parent acknowledges",
	}
}

func textReply(content string) *providers.ChatResponse {
	return &providers.ChatResponse{Content: content, FinishReason: "stop"}
}

func toolReply(calls ...providers.ToolCall) *providers.ChatResponse {
	return &providers.ChatResponse{ToolCalls: calls, FinishReason: "tool_calls"}
}
