package events

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var mu sync.Mutex
	got := map[string][]string{}

	for _, id := range []string{"a", "b"} {
		id := id
		bus.Subscribe(id, func(ev Event) {
			mu.Lock()
			got[id] = append(got[id], ev.Name)
			mu.Unlock()
		})
	}

	bus.Broadcast(ToolCall, ToolCallPayload{AgentID: "x", Tool: "send_message"})
	bus.Broadcast(Error, ErrorPayload{Kind: "llm_failed_after_retries"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got["a"]) == 2 && len(got["b"]) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{ToolCall, Error}, got["a"])
	assert.Equal(t, []string{ToolCall, Error}, got["b"])
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count atomic.Int32
	bus.Subscribe("sub", func(Event) { count.Add(1) })

	bus.Broadcast(AgentIdle, IdlePayload{AgentID: "x"})
	require.Eventually(t, func() bool { return count.Load() == 1 }, time.Second, 5*time.Millisecond)

	bus.Unsubscribe("sub")
	bus.Broadcast(AgentIdle, IdlePayload{AgentID: "x"})

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())
}

func TestBroadcastDoesNotBlockOnSlowSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	block := make(chan struct{})
	bus.Subscribe("slow", func(Event) { <-block })

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			bus.Broadcast(ToolCall, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow subscriber")
	}
	close(block)
}

func TestResubscribeReplacesHandler(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var first, second atomic.Int32
	bus.Subscribe("sub", func(Event) { first.Add(1) })
	bus.Subscribe("sub", func(Event) { second.Add(1) })

	bus.Broadcast(ComputeStatusChange, StatusChangePayload{AgentID: "x", From: "idle", To: "processing"})

	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
}
