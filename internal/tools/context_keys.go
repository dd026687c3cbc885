package tools

import (
	"context"

	"github.com/nextlevelbuilder/goswarm/internal/bus"
)

// Tool execution context keys. These replace mutable setter fields on tool
// instances, making tools thread-safe for concurrent execution. Values are
// injected by the message processor and read by tools during Execute().

type toolContextKey string

const (
	ctxCaller    toolContextKey = "tool_caller"
	ctxMessage   toolContextKey = "tool_message"
	ctxWorkspace toolContextKey = "tool_workspace"
)

// WithCaller records the agent on whose behalf tools run.
func WithCaller(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, ctxCaller, agentID)
}

func CallerFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxCaller).(string)
	return v
}

// WithCurrentMessage records the inbound message the current step is
// processing. send_message inherits its task id from here.
func WithCurrentMessage(ctx context.Context, msg *bus.Message) context.Context {
	return context.WithValue(ctx, ctxMessage, msg)
}

func CurrentMessageFromCtx(ctx context.Context) *bus.Message {
	v, _ := ctx.Value(ctxMessage).(*bus.Message)
	return v
}

// WithWorkspace records the caller's workspace id for file tools.
func WithWorkspace(ctx context.Context, workspaceID string) context.Context {
	return context.WithValue(ctx, ctxWorkspace, workspaceID)
}

func WorkspaceFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxWorkspace).(string)
	return v
}
