// Package tools implements the built-in tool surface exposed to agents
// and the registry that dispatches LLM tool calls to it.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/nextlevelbuilder/goswarm/internal/providers"
)

// Tool is one named operation callable from an LLM reply. Implementations
// must be safe for concurrent Execute calls; per-call state (caller agent,
// current message, workspace) travels via context keys, never via fields.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Registry holds every tool an agent may call, built-ins and MCP bridges
// alike.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool under its name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Unregister removes the named tool. Unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		return
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Definitions renders the registry as provider tool definitions.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]providers.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return out
}

// Execute dispatches one tool call. Unknown names and panics inside a tool
// come back as error results; Execute never panics and never returns nil.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) (res *Result) {
	tool, ok := r.Get(name)
	if !ok {
		return ErrorResult(KindUnknownTool, fmt.Sprintf("tool %q is not registered", name))
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tool.panic", "tool", name, "panic", rec, "stack", string(debug.Stack()))
			res = ErrorResult(KindExecutionFailed, fmt.Sprintf("tool %s failed: %v", name, rec))
		}
	}()

	if args == nil {
		args = map[string]interface{}{}
	}
	res = tool.Execute(ctx, args)
	if res == nil {
		res = ErrorResult(KindExecutionFailed, fmt.Sprintf("tool %s returned no result", name))
	}
	return res
}
