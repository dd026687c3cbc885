package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/goswarm/internal/org"
	"github.com/nextlevelbuilder/goswarm/internal/providers"
)

func TestNameGenerationAssignsUniqueNames(t *testing.T) {
	r := newRig(t, func(ctx context.Context, call int, req providers.ChatRequest) (*providers.ChatResponse, error) {
		switch call {
		case 1:
			return textReply("小明"), nil
		case 2:
			// Quoted and already taken: strip to 小明, reject, retry.
			return textReply("名字：「小明」"), nil
		default:
			return textReply("小红"), nil
		}
	})
	lc := NewLifecycle(r.deps, NewBehaviorRegistry(func() Behavior { return r.processor }))
	role := r.newRole(t, "worker")
	ctx := context.Background()

	first, err := lc.SpawnWithTask(ctx, org.RootAgentID, role.ID, validBrief(), "a")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return r.org.CustomName(first.AgentID) == "小明"
	}, 3*time.Second, 10*time.Millisecond)

	second, err := lc.SpawnWithTask(ctx, org.RootAgentID, role.ID, validBrief(), "b")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return r.org.CustomName(second.AgentID) == "小红"
	}, 3*time.Second, 10*time.Millisecond)

	assert.True(t, r.org.NameTaken("小明"))
	assert.True(t, r.org.NameTaken("小红"))
}

func TestNameGenerationGivesUpQuietly(t *testing.T) {
	r := newRig(t, func(ctx context.Context, call int, req providers.ChatRequest) (*providers.ChatResponse, error) {
		// Always unusable: one character only.
		return textReply("明"), nil
	})
	lc := NewLifecycle(r.deps, NewBehaviorRegistry(func() Behavior { return r.processor }))
	role := r.newRole(t, "worker")

	out, err := lc.SpawnWithTask(context.Background(),
		org.RootAgentID, role.ID, validBrief(), "a")
	require.NoError(t, err)

	// Three attempts, then nothing: the agent keeps its short id.
	require.Eventually(t, func() bool {
		return r.provider.callCount() >= nameAttempts
	}, 3*time.Second, 10*time.Millisecond)
	assert.Empty(t, r.org.CustomName(out.AgentID))
}

func TestHanOnly(t *testing.T) {
	assert.Equal(t, "小明", hanOnly("  小明\n"))
	assert.Equal(t, "小明", hanOnly("My name is 小明!"))
	assert.Equal(t, "阿福", hanOnly("「阿福」"))
	assert.Empty(t, hanOnly("Bob"))
}
