package heartbeat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/goswarm/internal/bus"
	"github.com/nextlevelbuilder/goswarm/internal/config"
	"github.com/nextlevelbuilder/goswarm/internal/org"
)

func newBus(agents ...string) *bus.Bus {
	b := bus.New()
	b.SetExempt(org.RootAgentID, org.UserAgentID)
	for _, id := range agents {
		b.Register(id)
	}
	return b
}

func TestNewRejectsBadEntries(t *testing.T) {
	b := newBus()

	_, err := New(b, nil, []config.HeartbeatEntry{{AgentID: "", Cron: "* * * * *", Message: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing agentId")

	_, err = New(b, nil, []config.HeartbeatEntry{{AgentID: "a", Cron: "not a cron", Message: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")
}

func TestFireDueSendsOncePerMinute(t *testing.T) {
	b := newBus("a-1")
	svc, err := New(b, nil, []config.HeartbeatEntry{{AgentID: "a-1", Cron: "* * * * *", Message: "check in"}})
	require.NoError(t, err)

	base := time.Date(2026, time.March, 9, 10, 30, 5, 0, time.UTC)
	svc.fireDue(base)
	assert.Equal(t, 1, b.QueueDepth("a-1"))

	// Same minute, later tick: deduped.
	svc.fireDue(base.Add(25 * time.Second))
	assert.Equal(t, 1, b.QueueDepth("a-1"))

	// Next minute fires again.
	svc.fireDue(base.Add(time.Minute))
	assert.Equal(t, 2, b.QueueDepth("a-1"))

	msg, ok := b.ReceiveNext("a-1")
	require.True(t, ok)
	assert.Equal(t, org.UserAgentID, msg.From)
	assert.Equal(t, bus.PayloadSystem, msg.Payload.Kind)
	assert.Equal(t, "check in", msg.Payload.Text)
}

func TestFireDueRespectsSchedule(t *testing.T) {
	b := newBus("a-1")
	svc, err := New(b, nil, []config.HeartbeatEntry{{AgentID: "a-1", Cron: "*/5 * * * *", Message: "five"}})
	require.NoError(t, err)

	svc.fireDue(time.Date(2026, time.March, 9, 10, 4, 0, 0, time.UTC))
	assert.Zero(t, b.QueueDepth("a-1"))

	svc.fireDue(time.Date(2026, time.March, 9, 10, 5, 0, 0, time.UTC))
	assert.Equal(t, 1, b.QueueDepth("a-1"))
}

func TestFireDueStampsTaskScope(t *testing.T) {
	b := newBus("a-1")
	taskOf := func(agentID string) string { return "task-" + agentID }
	svc, err := New(b, taskOf, []config.HeartbeatEntry{{AgentID: "a-1", Cron: "* * * * *", Message: "scoped"}})
	require.NoError(t, err)

	svc.fireDue(time.Now())
	msg, ok := b.ReceiveNext("a-1")
	require.True(t, ok)
	assert.Equal(t, "task-a-1", msg.TaskID)
}

func TestFireDueSkipsUnknownRecipient(t *testing.T) {
	b := newBus("alive")
	svc, err := New(b, nil, []config.HeartbeatEntry{
		{AgentID: "ghost", Cron: "* * * * *", Message: "boo"},
		{AgentID: "alive", Cron: "* * * * *", Message: "hello"},
	})
	require.NoError(t, err)

	svc.fireDue(time.Now())
	assert.Equal(t, 1, b.QueueDepth("alive"))
}

func TestStartStopLifecycle(t *testing.T) {
	b := newBus("a-1")
	svc, err := New(b, nil, []config.HeartbeatEntry{{AgentID: "a-1", Cron: "* * * * *", Message: "tick"}})
	require.NoError(t, err)
	svc.every = 10 * time.Millisecond

	svc.Start()
	require.Eventually(t, func() bool { return b.QueueDepth("a-1") >= 1 }, 2*time.Second, 5*time.Millisecond)
	svc.Stop()
	svc.Stop()
}

func TestEmptyServiceStaysInert(t *testing.T) {
	b := newBus()
	svc, err := New(b, nil, nil)
	require.NoError(t, err)
	svc.Start()
	svc.Stop()
	assert.Zero(t, b.PendingCount())
}
