package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/goswarm/internal/events"
	"github.com/nextlevelbuilder/goswarm/internal/gate"
	"github.com/nextlevelbuilder/goswarm/internal/providers"
	"github.com/nextlevelbuilder/goswarm/internal/runtimeerr"
)

// fakeProvider scripts responses by call number (1-based).
type fakeProvider struct {
	mu      sync.Mutex
	calls   int
	respond func(ctx context.Context, call int) (*providers.ChatResponse, error)
}

func (f *fakeProvider) Name() string         { return "fake" }
func (f *fakeProvider) DefaultModel() string { return "fake-model" }

func (f *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	return f.respond(ctx, n)
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// sleepRecorder captures backoff delays without running a clock.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.delays))
	copy(out, r.delays)
	return out
}

func newTestCaller(t *testing.T, p providers.Provider, maxRetries int, opts ...Option) (*Caller, *sleepRecorder, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	rec := &sleepRecorder{}
	opts = append(opts, WithSleep(rec.sleep))
	c := NewCaller(providers.NewRegistry(p), gate.New(3), bus, maxRetries, opts...)
	return c, rec, bus
}

func userMessages(text string) []providers.Message {
	return []providers.Message{{Role: "user", Content: text}}
}

func TestRetryTransientThenSucceed(t *testing.T) {
	fake := &fakeProvider{
		respond: func(ctx context.Context, call int) (*providers.ChatResponse, error) {
			if call <= 2 {
				return nil, errors.New("connection refused")
			}
			return &providers.ChatResponse{Content: "recovered", FinishReason: "stop"}, nil
		},
	}
	c, rec, bus := newTestCaller(t, fake, 3)

	var mu sync.Mutex
	var retries []events.LLMRetryPayload
	bus.Subscribe("test", func(ev events.Event) {
		if ev.Name != events.LLMRetry {
			return
		}
		mu.Lock()
		retries = append(retries, ev.Payload.(events.LLMRetryPayload))
		mu.Unlock()
	})

	resp, err := c.Call(context.Background(), Request{AgentID: "a1", Messages: userMessages("hi")})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, 3, fake.callCount())
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, rec.recorded())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(retries) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, retries[0].Attempt)
	assert.Equal(t, 1*time.Second, retries[0].NextDelay)
	assert.Equal(t, 2, retries[1].Attempt)
	assert.Equal(t, 2*time.Second, retries[1].NextDelay)
}

func TestRetriesExhausted(t *testing.T) {
	fake := &fakeProvider{
		respond: func(ctx context.Context, call int) (*providers.ChatResponse, error) {
			return nil, &providers.HTTPError{Status: 500, Body: "upstream down"}
		},
	}
	c, rec, _ := newTestCaller(t, fake, 3)

	_, err := c.Call(context.Background(), Request{AgentID: "a1", Messages: userMessages("hi")})
	require.Error(t, err)
	assert.Equal(t, KindFailedAfterRetries, runtimeerr.KindOf(err))

	var httpErr *providers.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 500, httpErr.Status)

	assert.Equal(t, 3, fake.callCount())
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, rec.recorded())
}

func TestPermanentClientErrorNoRetry(t *testing.T) {
	fake := &fakeProvider{
		respond: func(ctx context.Context, call int) (*providers.ChatResponse, error) {
			return nil, &providers.HTTPError{Status: 400, Body: "bad request"}
		},
	}
	c, rec, _ := newTestCaller(t, fake, 3)

	_, err := c.Call(context.Background(), Request{AgentID: "a1", Messages: userMessages("hi")})
	require.Error(t, err)
	assert.Equal(t, KindFailedAfterRetries, runtimeerr.KindOf(err))
	assert.Equal(t, 1, fake.callCount())
	assert.Empty(t, rec.recorded())
}

func TestRateLimitedErrorRetries(t *testing.T) {
	fake := &fakeProvider{
		respond: func(ctx context.Context, call int) (*providers.ChatResponse, error) {
			if call == 1 {
				return nil, &providers.HTTPError{Status: 429, Body: "slow down", RetryAfter: 5 * time.Second}
			}
			return &providers.ChatResponse{Content: "ok"}, nil
		},
	}
	c, rec, _ := newTestCaller(t, fake, 3)

	resp, err := c.Call(context.Background(), Request{AgentID: "a1", Messages: userMessages("hi")})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	// Retry-After exceeds the 1s base backoff, so it wins.
	assert.Equal(t, []time.Duration{5 * time.Second}, rec.recorded())
}

func TestContextCancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fake := &fakeProvider{
		respond: func(ctx context.Context, call int) (*providers.ChatResponse, error) {
			cancel()
			return nil, errors.New("connection reset")
		},
	}
	c, _, _ := newTestCaller(t, fake, 5)

	_, err := c.Call(ctx, Request{AgentID: "a1", Messages: userMessages("hi")})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, fake.callCount())
}

func TestAbortNotActive(t *testing.T) {
	fake := &fakeProvider{
		respond: func(ctx context.Context, call int) (*providers.ChatResponse, error) {
			return &providers.ChatResponse{Content: "ok"}, nil
		},
	}
	c, _, _ := newTestCaller(t, fake, 3)

	res := c.AbortAgentCall("nobody")
	assert.False(t, res.Aborted)
	assert.Equal(t, "not_active", res.Reason)

	// Second abort is equally a no-op.
	res = c.AbortAgentCall("nobody")
	assert.False(t, res.Aborted)
	assert.Equal(t, "not_active", res.Reason)
}

func TestAbortRespectsWaitingCheck(t *testing.T) {
	fake := &fakeProvider{
		respond: func(ctx context.Context, call int) (*providers.ChatResponse, error) {
			return &providers.ChatResponse{Content: "ok"}, nil
		},
	}
	c, _, _ := newTestCaller(t, fake, 3, WithWaitingCheck(func(agentID string) bool { return false }))

	res := c.AbortAgentCall("a1")
	assert.False(t, res.Aborted)
	assert.Equal(t, "not_active", res.Reason)
}

func TestAbortInFlightCall(t *testing.T) {
	started := make(chan struct{})
	fake := &fakeProvider{
		respond: func(ctx context.Context, call int) (*providers.ChatResponse, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	c, _, _ := newTestCaller(t, fake, 3)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), Request{AgentID: "a1", Messages: userMessages("hi")})
		errCh <- err
	}()

	<-started
	res := c.AbortAgentCall("a1")
	assert.True(t, res.Aborted)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrAborted)
	case <-time.After(2 * time.Second):
		t.Fatal("aborted call did not return")
	}
}

func TestCallerContextCancelIsNotAbort(t *testing.T) {
	started := make(chan struct{})
	fake := &fakeProvider{
		respond: func(ctx context.Context, call int) (*providers.ChatResponse, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	c, _, _ := newTestCaller(t, fake, 3)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Call(ctx, Request{AgentID: "a1", Messages: userMessages("hi")})
		errCh <- err
	}()

	<-started
	cancel()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrAborted)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled call did not return")
	}
}

func TestDirectBypassesGate(t *testing.T) {
	fake := &fakeProvider{
		respond: func(ctx context.Context, call int) (*providers.ChatResponse, error) {
			return &providers.ChatResponse{Content: "named"}, nil
		},
	}
	c, _, _ := newTestCaller(t, fake, 3)

	resp, err := c.Direct(context.Background(), "", userMessages("pick a name"), nil)
	require.NoError(t, err)
	assert.Equal(t, "named", resp.Content)
	assert.Equal(t, uint64(0), c.Gate().Stats().Submitted)
}
