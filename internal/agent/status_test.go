package agent

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/goswarm/internal/events"
)

func newTracker(t *testing.T) (*Tracker, *eventRecorder) {
	t.Helper()
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	rec := &eventRecorder{}
	bus.Subscribe("rec", rec.record)
	return NewTracker(bus), rec
}

func TestTrackerDefaultsIdle(t *testing.T) {
	tr, _ := newTracker(t)
	assert.Equal(t, StatusIdle, tr.Get("anyone"))
	assert.False(t, tr.IsWaitingLLM("anyone"))
}

func TestTrackerClaimIsExclusive(t *testing.T) {
	tr, _ := newTracker(t)
	require.True(t, tr.Claim("a1"))
	assert.False(t, tr.Claim("a1"), "second claim must lose")
	assert.Equal(t, StatusProcessing, tr.Get("a1"))

	tr.Release("a1")
	assert.Equal(t, StatusIdle, tr.Get("a1"))
	assert.True(t, tr.Claim("a1"), "released agents are claimable again")
}

func TestTrackerClaimRace(t *testing.T) {
	tr, _ := newTracker(t)
	var wg sync.WaitGroup
	wins := make(chan struct{}, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.Claim("a1") {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)
	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestTrackerReleaseOnlyFromStepStates(t *testing.T) {
	tr, _ := newTracker(t)

	tr.Set("a1", StatusWaitingLLM)
	tr.Release("a1")
	assert.Equal(t, StatusIdle, tr.Get("a1"))

	tr.Set("a1", StatusTerminating)
	tr.Release("a1")
	assert.Equal(t, StatusTerminating, tr.Get("a1"), "terminating agents stay put")
}

func TestTrackerSetBroadcastsTransitions(t *testing.T) {
	tr, rec := newTracker(t)

	tr.Set("a1", StatusProcessing)
	tr.Set("a1", StatusProcessing) // same value: no event
	tr.Set("a1", StatusWaitingLLM)

	require.Eventually(t, func() bool {
		return len(rec.named(events.ComputeStatusChange)) == 2
	}, 2*time.Second, 10*time.Millisecond)

	evs := rec.named(events.ComputeStatusChange)
	first := evs[0].Payload.(events.StatusChangePayload)
	assert.Equal(t, StatusIdle, first.From)
	assert.Equal(t, StatusProcessing, first.To)
	second := evs[1].Payload.(events.StatusChangePayload)
	assert.Equal(t, StatusWaitingLLM, second.To)
}

func TestTrackerRemoveForgetsAgent(t *testing.T) {
	tr, _ := newTracker(t)
	tr.Set("a1", StatusProcessing)
	tr.Remove("a1")
	assert.Equal(t, StatusIdle, tr.Get("a1"))
	// Release after removal stays a no-op: nothing is re-added.
	tr.Release("a1")
	assert.Equal(t, StatusIdle, tr.Get("a1"))
}
