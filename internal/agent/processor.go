package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/goswarm/internal/bus"
	"github.com/nextlevelbuilder/goswarm/internal/events"
	"github.com/nextlevelbuilder/goswarm/internal/llm"
	"github.com/nextlevelbuilder/goswarm/internal/org"
	"github.com/nextlevelbuilder/goswarm/internal/providers"
	"github.com/nextlevelbuilder/goswarm/internal/runtimeerr"
	"github.com/nextlevelbuilder/goswarm/internal/tools"
)

// defaultMaxToolRounds bounds LLM/tool cycles within one step.
const defaultMaxToolRounds = 10

// KindContextOverflow rejects a step whose history exceeds the hard budget.
const KindContextOverflow = "context_overflow"

// Processor runs the default LLM-driven behavior: render the inbound
// message, check the token budget, then alternate gated LLM calls and
// sequential tool execution until the model stops calling tools or the
// round cap is hit.
type Processor struct {
	deps          Deps
	tools         *tools.Registry
	maxToolRounds int
}

// NewProcessor wires a processor over the shared subsystems.
func NewProcessor(deps Deps, registry *tools.Registry, maxToolRounds int) *Processor {
	if maxToolRounds <= 0 {
		maxToolRounds = defaultMaxToolRounds
	}
	return &Processor{deps: deps, tools: registry, maxToolRounds: maxToolRounds}
}

// HandleMessage runs one step for agentID. The caller owns the agent's
// compute status around the call; the processor only toggles waiting_llm
// during LLM calls.
func (p *Processor) HandleMessage(ctx context.Context, agentID string, msg *bus.Message) error {
	meta, err := p.deps.Org.GetAgent(agentID)
	if err != nil {
		return err
	}
	role, err := p.deps.Org.GetRole(meta.RoleID)
	if err != nil {
		role = nil
	}

	// Restored agents can predate their conversation file.
	if err := p.deps.Conv.Ensure(agentID, p.systemPrompt(meta, role)); err != nil {
		return err
	}

	entry := providers.Message{Role: "user", Content: formatInbound(msg)}
	if err := p.deps.Conv.Append(agentID, entry); err != nil {
		return err
	}
	p.deps.Org.TouchActivity(agentID)

	if p.deps.Conv.OverHardLimit(agentID) {
		return p.failOverflow(agentID)
	}

	tctx := tools.WithCaller(ctx, agentID)
	tctx = tools.WithCurrentMessage(tctx, msg)
	if ws := p.deps.Workspaces.WorkspaceOf(agentID); ws != "" {
		tctx = tools.WithWorkspace(tctx, ws)
	}

	serviceID := ""
	if role != nil {
		serviceID = role.LLMServiceID
	}

	round := 0
	for round < p.maxToolRounds {
		round++
		slog.Debug("agent step round",
			"agent", agentID, "round", round, "entries", p.deps.Conv.Len(agentID))

		p.deps.Status.Set(agentID, StatusWaitingLLM)
		resp, err := p.deps.LLM.Call(ctx, llm.Request{
			AgentID:   agentID,
			ServiceID: serviceID,
			Messages:  p.requestMessages(agentID, meta, role),
			Tools:     p.tools.Definitions(),
		})
		if err != nil {
			if errors.Is(err, llm.ErrAborted) || isCtxEnd(err) {
				// Terminate or shutdown took the agent; its status is
				// already owned by whoever cancelled.
				slog.Info("step aborted", "agent", agentID, "round", round)
				return err
			}
			p.deps.Events.Broadcast(events.Error, events.ErrorPayload{
				AgentID: agentID,
				Kind:    runtimeerr.KindOf(err),
				Message: err.Error(),
			})
			return fmt.Errorf("llm call failed (round %d): %w", round, err)
		}
		p.deps.Status.Set(agentID, StatusProcessing)
		if resp.Usage != nil {
			p.deps.Events.Broadcast(events.LLMUsage, events.UsagePayload{
				AgentID:          agentID,
				ServiceID:        serviceID,
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
			})
		}

		assistant := providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		}
		if err := p.deps.Conv.Append(agentID, assistant); err != nil {
			return err
		}

		if len(resp.ToolCalls) == 0 {
			return nil
		}

		for _, call := range resp.ToolCalls {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := p.runTool(tctx, agentID, call); err != nil {
				return err
			}
		}
	}

	slog.Warn("tool round limit reached", "agent", agentID, "rounds", p.maxToolRounds)
	return p.deps.Conv.Append(agentID, providers.Message{
		Role: "system",
		Content: fmt.Sprintf(
			"[Stopped after %d tool rounds in one step. Reply with what you have, or wait for new input.]",
			p.maxToolRounds),
	})
}

// failOverflow records the budget breach and tells the agent how to get
// unstuck next step. The inbound entry stays appended, so a later
// compress_context keeps it reachable through the summary.
func (p *Processor) failOverflow(agentID string) error {
	status := p.deps.Conv.Band(agentID)
	note := fmt.Sprintf(
		"[Context budget exceeded: ~%d of %d tokens. Call compress_context before doing anything else.]",
		status.Tokens, status.MaxTokens)
	if err := p.deps.Conv.Append(agentID, providers.Message{Role: "assistant", Content: note}); err != nil {
		return err
	}
	p.deps.Events.Broadcast(events.Error, events.ErrorPayload{
		AgentID: agentID,
		Kind:    KindContextOverflow,
		Message: fmt.Sprintf("history at %d tokens exceeds hard limit", status.Tokens),
	})
	slog.Warn("context overflow, step skipped",
		"agent", agentID, "tokens", status.Tokens, "max", status.MaxTokens)
	return nil
}

// requestMessages snapshots the history and swaps a freshly composed
// system prompt into position 0. The swap is request-only: the stored
// history keeps its original seed, and pairing repairs are never written
// back.
func (p *Processor) requestMessages(agentID string, meta *org.Agent, role *org.Role) []providers.Message {
	history := p.deps.Conv.Get(agentID)
	prompt := providers.Message{Role: "system", Content: p.systemPrompt(meta, role)}
	if len(history) > 0 && history[0].Role == "system" {
		history[0] = prompt
	} else {
		history = append([]providers.Message{prompt}, history...)
	}
	return repairHistory(history)
}

func (p *Processor) systemPrompt(meta *org.Agent, role *org.Role) string {
	name := p.deps.Org.CustomName(meta.ID)
	if name == "" {
		name = shortID(meta.ID)
	}
	return BuildSystemPrompt(p.deps.Prompts, SystemPromptConfig{
		Agent:    meta,
		Role:     role,
		Name:     name,
		Contacts: p.deps.Contacts.RenderBlock(meta.ID),
		Services: p.deps.LLM.Services(),
		Minimal:  meta.ID == org.RootAgentID,
	})
}

// runTool executes one tool call and appends its result entry. Tool
// failures are content for the model, not step errors; only a lost
// conversation aborts the step.
func (p *Processor) runTool(ctx context.Context, agentID string, call providers.ToolCall) error {
	argsJSON, _ := json.Marshal(call.Arguments)
	slog.Info("tool call", "agent", agentID, "tool", call.Name, "args_len", len(argsJSON))

	started := time.Now()
	result := p.tools.Execute(ctx, call.Name, call.Arguments)

	if result.IsError {
		errMsg := result.ForLLM
		if len(errMsg) > 200 {
			errMsg = errMsg[:200] + "..."
		}
		slog.Warn("tool error", "agent", agentID, "tool", call.Name, "error", errMsg)
	}

	p.deps.Events.Broadcast(events.ToolCall, events.ToolCallPayload{
		AgentID:    agentID,
		Tool:       call.Name,
		DurationMs: time.Since(started).Milliseconds(),
		IsError:    result.IsError,
		ErrorKind:  result.Kind,
	})

	return p.deps.Conv.Append(agentID, providers.Message{
		Role:       "tool",
		Content:    result.ForLLM,
		ToolCallID: call.ID,
	})
}

func isCtxEnd(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
