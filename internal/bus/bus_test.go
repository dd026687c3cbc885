package bus

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendAndReceiveFIFO(t *testing.T) {
	b := New()
	b.Register("worker")

	for i := 0; i < 5; i++ {
		_, err := b.Send(TextMessage("root", "worker", "", fmt.Sprintf("msg-%d", i)))
		require.NoError(t, err)
	}
	assert.Equal(t, 5, b.QueueDepth("worker"))

	for i := 0; i < 5; i++ {
		msg, ok := b.ReceiveNext("worker")
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("msg-%d", i), msg.Payload.Text)
	}

	_, ok := b.ReceiveNext("worker")
	assert.False(t, ok, "queue should be empty after all receives")
}

func TestSendUnknownRecipient(t *testing.T) {
	b := New()
	_, err := b.Send(TextMessage("root", "ghost", "", "hello"))
	assert.ErrorIs(t, err, ErrUnknownRecipient)
	assert.Equal(t, 0, b.PendingCount(), "failed send must not enqueue")
}

func TestSendAssignsUniqueIDs(t *testing.T) {
	b := New()
	b.Register("a")

	id1, err := b.Send(TextMessage("root", "a", "", "one"))
	require.NoError(t, err)
	id2, err := b.Send(TextMessage("root", "a", "", "two"))
	require.NoError(t, err)

	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)
}

func TestCrossTaskDenied(t *testing.T) {
	b := New()
	b.SetExempt("root", "user")
	b.Register("t1-entry")
	b.Register("t2-entry")

	tasks := map[string]string{"t1-entry": "T1", "t2-entry": "T2"}
	b.SetTaskResolver(func(id string) string { return tasks[id] })

	_, err := b.Send(TextMessage("t1-entry", "t2-entry", "T1", "hi"))
	assert.ErrorIs(t, err, ErrCrossTaskDenied)
	assert.Equal(t, 0, b.QueueDepth("t2-entry"))
}

func TestCrossTaskSameTaskAllowed(t *testing.T) {
	b := New()
	b.SetExempt("root", "user")
	b.Register("entry")
	b.Register("child")

	tasks := map[string]string{"entry": "T1", "child": "T1"}
	b.SetTaskResolver(func(id string) string { return tasks[id] })

	_, err := b.Send(TextMessage("entry", "child", "T1", "hi"))
	assert.NoError(t, err)
}

func TestCrossTaskRootAndUserExempt(t *testing.T) {
	b := New()
	b.SetExempt("root", "user")
	for _, id := range []string{"root", "user", "t1-entry", "t2-entry"} {
		b.Register(id)
	}
	tasks := map[string]string{"t1-entry": "T1", "t2-entry": "T2"}
	b.SetTaskResolver(func(id string) string { return tasks[id] })

	// Either direction is allowed when root or user is an endpoint.
	_, err := b.Send(TextMessage("t1-entry", "root", "T1", "report"))
	assert.NoError(t, err)
	_, err = b.Send(TextMessage("root", "t2-entry", "", "order"))
	assert.NoError(t, err)
	_, err = b.Send(TextMessage("t2-entry", "user", "T2", "question"))
	assert.NoError(t, err)
	_, err = b.Send(TextMessage("user", "t1-entry", "", "answer"))
	assert.NoError(t, err)
}

func TestDrainLimit(t *testing.T) {
	b := New()
	b.Register("a")
	for i := 0; i < 7; i++ {
		_, err := b.Send(TextMessage("root", "a", "", fmt.Sprintf("%d", i)))
		require.NoError(t, err)
	}

	drained := b.Drain("a", 5)
	require.Len(t, drained, 5)
	assert.Equal(t, "0", drained[0].Payload.Text)
	assert.Equal(t, "4", drained[4].Payload.Text)
	assert.Equal(t, 2, b.QueueDepth("a"))

	rest := b.Drain("a", 0)
	assert.Len(t, rest, 2)
	assert.Equal(t, 0, b.QueueDepth("a"))
}

func TestUnregisterDiscardsQueue(t *testing.T) {
	b := New()
	b.Register("a")
	_, err := b.Send(TextMessage("root", "a", "", "hello"))
	require.NoError(t, err)

	b.Unregister("a")
	assert.False(t, b.Registered("a"))
	assert.Equal(t, 0, b.PendingCount())

	_, err = b.Send(TextMessage("root", "a", "", "again"))
	assert.ErrorIs(t, err, ErrUnknownRecipient)
}

func TestOnSendFires(t *testing.T) {
	b := New()
	b.Register("a")

	var mu sync.Mutex
	var woke []string
	b.OnSend(func(to string) {
		mu.Lock()
		woke = append(woke, to)
		mu.Unlock()
	})

	_, err := b.Send(TextMessage("root", "a", "", "hi"))
	require.NoError(t, err)
	_, err = b.Send(TextMessage("root", "ghost", "", "hi"))
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a"}, woke, "wake-up only on successful enqueue")
}

func TestStoppingRejectsSends(t *testing.T) {
	b := New()
	b.Register("a")

	b.SetStopping(true)
	_, err := b.Send(TextMessage("root", "a", "", "late"))
	assert.ErrorIs(t, err, ErrRuntimeStopping)
	assert.Equal(t, 0, b.PendingCount())

	b.SetStopping(false)
	_, err = b.Send(TextMessage("root", "a", "", "ok"))
	assert.NoError(t, err)

	// Receives keep working while stopping so in-flight steps can drain.
	b.SetStopping(true)
	msg, ok := b.ReceiveNext("a")
	require.True(t, ok)
	assert.Equal(t, "ok", msg.Payload.Text)
}

func TestConcurrentSendersPreservePerSenderOrder(t *testing.T) {
	b := New()
	b.Register("sink")

	const senders = 8
	const perSender = 50

	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				_, err := b.Send(TextMessage(fmt.Sprintf("s%d", s), "sink", "", fmt.Sprintf("%d:%d", s, i)))
				assert.NoError(t, err)
			}
		}(s)
	}
	wg.Wait()

	require.Equal(t, senders*perSender, b.QueueDepth("sink"))

	lastSeen := make(map[string]int)
	for {
		msg, ok := b.ReceiveNext("sink")
		if !ok {
			break
		}
		var s, i int
		_, err := fmt.Sscanf(msg.Payload.Text, "%d:%d", &s, &i)
		require.NoError(t, err)
		key := fmt.Sprintf("s%d", s)
		if prev, seen := lastSeen[key]; seen {
			assert.Greater(t, i, prev, "messages from one sender must arrive in send order")
		}
		lastSeen[key] = i
	}
}
