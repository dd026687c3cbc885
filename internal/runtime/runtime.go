// Package runtime assembles the agent runtime from configuration: stores,
// message bus, LLM stack, tools, MCP bridges, scheduler, heartbeats,
// journal, and telemetry. It owns startup order, the two execution modes
// (finite run and server), and the shutdown sequence.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/goswarm/internal/agent"
	"github.com/nextlevelbuilder/goswarm/internal/bus"
	"github.com/nextlevelbuilder/goswarm/internal/config"
	"github.com/nextlevelbuilder/goswarm/internal/contacts"
	"github.com/nextlevelbuilder/goswarm/internal/conversation"
	"github.com/nextlevelbuilder/goswarm/internal/events"
	"github.com/nextlevelbuilder/goswarm/internal/gate"
	"github.com/nextlevelbuilder/goswarm/internal/heartbeat"
	"github.com/nextlevelbuilder/goswarm/internal/journal"
	"github.com/nextlevelbuilder/goswarm/internal/llm"
	"github.com/nextlevelbuilder/goswarm/internal/mcp"
	"github.com/nextlevelbuilder/goswarm/internal/org"
	"github.com/nextlevelbuilder/goswarm/internal/prompts"
	"github.com/nextlevelbuilder/goswarm/internal/providers"
	"github.com/nextlevelbuilder/goswarm/internal/scheduler"
	"github.com/nextlevelbuilder/goswarm/internal/telemetry"
	"github.com/nextlevelbuilder/goswarm/internal/tools"
	"github.com/nextlevelbuilder/goswarm/internal/workspace"
)

// Runtime is the composed system. Construct with New, drive with RunSteps
// or Serve, stop with Shutdown.
type Runtime struct {
	cfg *config.Config

	org        *org.Store
	bus        *bus.Bus
	events     *events.Bus
	status     *agent.Tracker
	conv       *conversation.Store
	contacts   *contacts.Registry
	workspaces *workspace.Manager
	prompts    *prompts.Loader
	providers  *providers.Registry
	llm        *llm.Caller
	tools      *tools.Registry
	mcp        *mcp.Manager
	lifecycle  *agent.Lifecycle
	sched      *scheduler.Scheduler
	heartbeat  *heartbeat.Service
	journal    journal.Journal

	runID       string
	restored    int
	stopTracing func(context.Context) error
	stopping    atomic.Bool
}

// Option adjusts runtime construction.
type Option func(*settings)

type settings struct {
	services []config.Service
	jsRunner tools.Runner
	nameGen  bool
}

// WithServices registers additional LLM endpoints from llmservices.json
// alongside the default provider.
func WithServices(services []config.Service) Option {
	return func(s *settings) { s.services = services }
}

// WithJSRunner injects the sandbox that executes run_javascript. Without
// one the tool still validates code but reports that no runner is
// configured.
func WithJSRunner(r tools.Runner) Option {
	return func(s *settings) { s.jsRunner = r }
}

// WithoutNameGeneration disables the post-spawn naming call. Useful when
// the configured endpoint is not reachable.
func WithoutNameGeneration() Option {
	return func(s *settings) { s.nameGen = false }
}

// New wires every subsystem and restores persisted agents. MCP connection
// failures are logged, not fatal; everything else fails construction.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	set := settings{nameGen: true}
	for _, opt := range opts {
		opt(&set)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	runtimeDir := cfg.RuntimePath()
	workspacesDir := cfg.WorkspacesPath()
	if err := os.MkdirAll(runtimeDir, 0o755); err != nil {
		return nil, fmt.Errorf("create runtime dir: %w", err)
	}

	orgStore, err := org.NewStore(runtimeDir)
	if err != nil {
		return nil, fmt.Errorf("open org store: %w", err)
	}
	conv, err := conversation.NewStore(filepath.Join(runtimeDir, "conversations"), cfg.LLM.MaxTokens)
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	ws, err := workspace.NewManager(workspacesDir)
	if err != nil {
		return nil, fmt.Errorf("open workspaces: %w", err)
	}
	loader, err := prompts.NewLoader(cfg.PromptsPath())
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	ev := events.NewBus()
	tracker := agent.NewTracker(ev)

	b := bus.New()
	b.SetExempt(org.RootAgentID, org.UserAgentID)
	b.SetTaskResolver(orgStore.TaskOf)
	b.Register(org.RootAgentID)
	b.Register(org.UserAgentID)

	registry := providers.NewRegistry(
		providers.NewOpenAI("default", cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.APIKey))
	for i := range set.services {
		s := &set.services[i]
		key := s.APIKey
		if key == "" {
			key = cfg.LLM.APIKey
		}
		registry.Register(s.ID,
			providers.NewOpenAI(s.ID, s.BaseURL, s.Model, key), s.CapabilityTags...)
	}

	caller := llm.NewCaller(registry, gate.New(cfg.LLM.MaxConcurrentRequests), ev, cfg.LLM.MaxRetries,
		llm.WithWaitingCheck(tracker.IsWaitingLLM),
		llm.WithRateLimit(cfg.LLM.RequestsPerMinute))

	deps := agent.Deps{
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
	processor := agent.NewProcessor(deps, reg, cfg.MaxToolRounds)
	behaviors := agent.NewBehaviorRegistry(func() agent.Behavior { return processor })

	var lcOpts []agent.LifecycleOption
	if cfg.LLM.NamingServiceID != "" {
		lcOpts = append(lcOpts, agent.WithNamingService(cfg.LLM.NamingServiceID))
	}
	if !set.nameGen {
		lcOpts = append(lcOpts, agent.WithoutNameGeneration())
	}
	lc := agent.NewLifecycle(deps, behaviors, lcOpts...)

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
	reg.Register(tools.NewRunJavaScriptTool(set.jsRunner))
	reg.Register(tools.NewWebFetchTool(tools.WebFetchConfig{
		MaxChars:          cfg.Web.FetchMaxChars,
		AllowPrivateHosts: cfg.Web.AllowPrivateHosts,
	}))
	reg.Register(tools.NewWebSearchTool(tools.WebSearchConfig{
		BraveAPIKey: cfg.Web.BraveAPIKey,
	}))

	mcpMgr := mcp.NewManager(reg, cfg.MCPServers)

	hb, err := heartbeat.New(b, orgStore.TaskOf, cfg.Heartbeats)
	if err != nil {
		return nil, fmt.Errorf("configure heartbeats: %w", err)
	}

	stopTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}

	j, err := journal.Open(ctx, cfg.Journal, runtimeDir)
	if err != nil {
		stopTracing(ctx)
		return nil, fmt.Errorf("open journal: %w", err)
	}
	runID := journal.NewRunID()
	ev.Subscribe("journal", journal.Subscriber(j, runID))

	sched := scheduler.New(scheduler.Config{
		Org:         orgStore,
		Bus:         b,
		Status:      tracker,
		Events:      ev,
		Dispatch:    &journaledDispatch{inner: lc, journal: j, runID: runID},
		Workers:     cfg.LLM.MaxConcurrentRequests,
		IdleWarning: time.Duration(cfg.IdleWarningMs) * time.Millisecond,
	})
	b.OnSend(sched.NotifySend)

	r := &Runtime{
		cfg:         cfg,
		org:         orgStore,
		bus:         b,
		events:      ev,
		status:      tracker,
		conv:        conv,
		contacts:    deps.Contacts,
		workspaces:  ws,
		prompts:     loader,
		providers:   registry,
		llm:         caller,
		tools:       reg,
		mcp:         mcpMgr,
		lifecycle:   lc,
		sched:       sched,
		heartbeat:   hb,
		journal:     j,
		runID:       runID,
		stopTracing: stopTracing,
	}

	restored, err := lc.Restore(ctx)
	if err != nil {
		r.closeQuiet(ctx)
		return nil, fmt.Errorf("restore agents: %w", err)
	}
	r.restored = restored

	if err := mcpMgr.Start(ctx); err != nil {
		slog.Warn("mcp startup errors", "error", err)
	}
	if err := loader.Watch(ctx); err != nil {
		slog.Warn("prompt hot reload unavailable", "error", err)
	}

	slog.Info("runtime ready",
		"run_id", runID,
		"agents", len(orgStore.ListAgents()),
		"restored", restored,
		"tools", len(reg.Names()),
		"mcp_servers", len(mcpMgr.ServerStatus()))
	return r, nil
}

// closeQuiet releases resources on a failed construction.
func (r *Runtime) closeQuiet(ctx context.Context) {
	r.events.Unsubscribe("journal")
	r.events.Close()
	if err := r.journal.Close(); err != nil {
		slog.Warn("journal close failed", "error", err)
	}
	if r.stopTracing != nil {
		_ = r.stopTracing(ctx)
	}
}

// RunSteps processes queued messages until the swarm goes quiet or
// maxSteps is reached (zero or negative means unbounded). Returns the
// number of steps taken.
func (r *Runtime) RunSteps(ctx context.Context, maxSteps int) (int, error) {
	return r.sched.Run(ctx, maxSteps)
}

// Serve runs until the context ends or Shutdown is called, with
// heartbeats active.
func (r *Runtime) Serve(ctx context.Context) error {
	r.heartbeat.Start()
	return r.sched.Serve(ctx)
}

// EnqueueUserMessage sends text from the user endpoint to an agent and
// returns the message id. An empty recipient targets root.
func (r *Runtime) EnqueueUserMessage(to, text string) (string, error) {
	if to == "" {
		to = org.RootAgentID
	}
	return r.bus.Send(bus.TextMessage(org.UserAgentID, to, r.org.TaskOf(to), text))
}

// DrainUserInbox removes and returns up to limit messages queued for the
// user endpoint. These are agent replies awaiting an external consumer.
func (r *Runtime) DrainUserInbox(limit int) []*bus.Message {
	return r.bus.Drain(org.UserAgentID, limit)
}

// RunID identifies this process run in the journal.
func (r *Runtime) RunID() string { return r.runID }

// Restored reports how many persisted agents came back at startup.
func (r *Runtime) Restored() int { return r.restored }

// Org exposes the agent registry for read-side consumers.
func (r *Runtime) Org() *org.Store { return r.org }

// Tools exposes the tool registry.
func (r *Runtime) Tools() *tools.Registry { return r.tools }

// MCP exposes the MCP manager for status reporting.
func (r *Runtime) MCP() *mcp.Manager { return r.mcp }

// Events exposes the event bus for additional subscribers.
func (r *Runtime) Events() *events.Bus { return r.events }
