// Package llm wraps provider calls with the runtime's call policy: the
// concurrency gate, bounded retry with exponential backoff, per-agent
// abort, an optional client-side rate limit, and audit logging.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/goswarm/internal/events"
	"github.com/nextlevelbuilder/goswarm/internal/gate"
	"github.com/nextlevelbuilder/goswarm/internal/providers"
	"github.com/nextlevelbuilder/goswarm/internal/runtimeerr"
	"github.com/nextlevelbuilder/goswarm/internal/telemetry"
)

// ErrAborted reports that AbortAgentCall cancelled the in-flight call.
// The text doubles as the stable error kind.
var ErrAborted = errors.New("aborted")

// KindFailedAfterRetries tags the terminal retry failure.
const KindFailedAfterRetries = "llm_failed_after_retries"

// Request is one chat call on behalf of an agent.
type Request struct {
	AgentID     string
	ServiceID   string // "" = default endpoint
	Messages    []providers.Message
	Tools       []providers.ToolDefinition
	Temperature float64 // 0 = endpoint default
	MaxTokens   int     // response cap; 0 = endpoint default
}

// AbortResult reports what AbortAgentCall did.
type AbortResult struct {
	Aborted bool   `json:"aborted"`
	Reason  string `json:"reason,omitempty"`
}

// Caller is safe for concurrent use; one instance serves every agent.
type Caller struct {
	registry   *providers.Registry
	gate       *gate.Gate
	events     *events.Bus
	maxRetries int

	limiter   *rate.Limiter
	isWaiting func(agentID string) bool
	sleep     func(ctx context.Context, d time.Duration) error
}

// Option adjusts a Caller at construction time.
type Option func(*Caller)

// WithRateLimit enables a client-side request rate limit. perMinute <= 0
// leaves calls unlimited.
func WithRateLimit(perMinute int) Option {
	return func(c *Caller) {
		if perMinute > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1)
		}
	}
}

// WithWaitingCheck injects the predicate AbortAgentCall uses to decide
// whether the agent is currently waiting on an LLM call.
func WithWaitingCheck(fn func(agentID string) bool) Option {
	return func(c *Caller) { c.isWaiting = fn }
}

// WithSleep replaces the backoff sleep. Tests inject a recorder so no
// real clock runs.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Caller) { c.sleep = fn }
}

// NewCaller wires the caller to its provider registry, gate, and event
// bus. maxRetries below 1 is raised to 1.
func NewCaller(registry *providers.Registry, g *gate.Gate, bus *events.Bus, maxRetries int, opts ...Option) *Caller {
	if maxRetries < 1 {
		maxRetries = 1
	}
	c := &Caller{
		registry:   registry,
		gate:       g,
		events:     bus,
		maxRetries: maxRetries,
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Gate exposes the underlying gate for stats and lifecycle aborts.
func (c *Caller) Gate() *gate.Gate { return c.gate }

// Services lists the registered service catalog for prompt rendering.
func (c *Caller) Services() []providers.ServiceInfo { return c.registry.Catalog() }

// Call performs one gated chat call with retries. Cancellation via
// AbortAgentCall surfaces as ErrAborted; cancellation of ctx itself
// propagates unchanged.
func (c *Caller) Call(ctx context.Context, req Request) (*providers.ChatResponse, error) {
	provider := c.registry.Resolve(req.ServiceID)
	c.logRequest(provider, req)

	ctx, span := telemetry.StartLLMCall(ctx, req.AgentID, req.ServiceID)

	var resp *providers.ChatResponse
	err := c.gate.Execute(ctx, req.AgentID, func(callCtx context.Context) error {
		r, err := c.callWithRetry(callCtx, provider, req)
		resp = r
		return err
	})
	if err != nil {
		if isCancellation(err) && ctx.Err() == nil {
			err = ErrAborted
		}
		telemetry.End(span, err)
		return nil, err
	}
	if resp != nil && resp.Usage != nil {
		telemetry.RecordUsage(span, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}
	telemetry.End(span, nil)
	return resp, nil
}

// Direct performs a one-shot ungated call (used for best-effort side work
// such as name generation). No retry, no events.
func (c *Caller) Direct(ctx context.Context, serviceID string, messages []providers.Message, options map[string]interface{}) (*providers.ChatResponse, error) {
	return c.registry.Resolve(serviceID).Chat(ctx, providers.ChatRequest{
		Messages: messages,
		Options:  options,
	})
}

// AbortAgentCall cancels the agent's in-flight LLM call. Idempotent: when
// the agent is not waiting on a call it reports {Aborted:false,
// Reason:"not_active"} and changes nothing.
func (c *Caller) AbortAgentCall(agentID string) AbortResult {
	if c.isWaiting != nil && !c.isWaiting(agentID) {
		return AbortResult{Aborted: false, Reason: "not_active"}
	}
	if !c.gate.Cancel(agentID) {
		return AbortResult{Aborted: false, Reason: "not_active"}
	}
	slog.Info("llm.abort", "agent", agentID)
	return AbortResult{Aborted: true}
}

func (c *Caller) callWithRetry(ctx context.Context, provider providers.Provider, req Request) (*providers.ChatResponse, error) {
	chatReq := buildChatRequest(req)

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, ctx.Err()
			}
		}

		resp, err := provider.Chat(ctx, chatReq)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// Cancellation propagates immediately: no retry, no backoff.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryable(err) || attempt == c.maxRetries {
			break
		}

		delay := backoffDelay(attempt, err)
		c.events.Broadcast(events.LLMRetry, events.LLMRetryPayload{
			AgentID:   req.AgentID,
			Attempt:   attempt,
			NextDelay: delay,
			Reason:    compact(err.Error(), 200),
		})
		slog.Warn("llm.retry", "agent", req.AgentID, "attempt", attempt, "delay", delay, "error", err)

		if err := c.sleep(ctx, delay); err != nil {
			return nil, ctx.Err()
		}
	}
	return nil, runtimeerr.Wrap(KindFailedAfterRetries, lastErr)
}

func buildChatRequest(req Request) providers.ChatRequest {
	options := make(map[string]interface{})
	if req.Temperature > 0 {
		options[providers.OptTemperature] = req.Temperature
	}
	if req.MaxTokens > 0 {
		options[providers.OptMaxTokens] = req.MaxTokens
	}
	return providers.ChatRequest{
		Messages: req.Messages,
		Tools:    req.Tools,
		Options:  options,
	}
}

// logRequest emits the audit entry: model, tool names, and the last
// message only. Full histories never hit the log.
func (c *Caller) logRequest(provider providers.Provider, req Request) {
	toolNames := make([]string, len(req.Tools))
	for i, t := range req.Tools {
		toolNames[i] = t.Function.Name
	}
	last := ""
	if n := len(req.Messages); n > 0 {
		last = fmt.Sprintf("%s: %s", req.Messages[n-1].Role, compact(req.Messages[n-1].Content, 200))
	}
	slog.Info("llm.request",
		"agent", req.AgentID,
		"provider", provider.Name(),
		"model", provider.DefaultModel(),
		"tools", toolNames,
		"last_message", last,
	)
}

// isRetryable classifies failures: network and decode errors retry, HTTP
// errors retry on 429 and 5xx only.
func isRetryable(err error) bool {
	var httpErr *providers.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status == 429 || httpErr.Status >= 500
	}
	return true
}

// backoffDelay is 2^(attempt-1) seconds, raised to the server's
// Retry-After when that asks for more.
func backoffDelay(attempt int, err error) time.Duration {
	delay := time.Duration(1<<(attempt-1)) * time.Second
	var httpErr *providers.HTTPError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > delay {
		delay = httpErr.RetryAfter
	}
	return delay
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, gate.ErrCancelled)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func compact(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
