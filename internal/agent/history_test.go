package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/goswarm/internal/bus"
	"github.com/nextlevelbuilder/goswarm/internal/providers"
)

func TestFormatInboundVerbatim(t *testing.T) {
	msg := bus.TextMessage("a", "b", "t1", "hello")
	assert.Equal(t, "hello", formatInbound(&msg))
}

func TestFormatInboundAttachments(t *testing.T) {
	msg := bus.Message{
		From: "a", To: "b",
		Payload: bus.Payload{
			Kind: bus.PayloadArtifactRef,
			Text: "results attached",
			// JSON-decoded payloads arrive as []interface{}.
			Fields: map[string]interface{}{
				"artifact_refs": []interface{}{"artifact:123", "artifact:456"},
			},
		},
	}
	got := formatInbound(&msg)
	assert.Equal(t,
		"results attached\n[attachment] artifact:123\n[attachment] artifact:456", got)

	// Native string slices and bare strings work too.
	msg.Payload.Fields["artifact_refs"] = []string{"artifact:789"}
	assert.Contains(t, formatInbound(&msg), "[attachment] artifact:789")
	msg.Payload.Fields["artifact_refs"] = "artifact:solo"
	assert.Contains(t, formatInbound(&msg), "[attachment] artifact:solo")
}

func TestFormatInboundEmptyPayload(t *testing.T) {
	msg := bus.Message{From: "a", To: "b", Payload: bus.Payload{Kind: bus.PayloadText}}
	assert.Equal(t, "[empty text message]", formatInbound(&msg))
}

func TestRepairHistoryDropsLeadingOrphans(t *testing.T) {
	in := []providers.Message{
		{Role: "tool", Content: "orphan", ToolCallID: "x"},
		{Role: "tool", Content: "orphan2", ToolCallID: "y"},
		{Role: "user", Content: "hi"},
	}
	out := repairHistory(in)
	require.Len(t, out, 1)
	assert.Equal(t, "user", out[0].Role)
}

func TestRepairHistorySynthesizesMissingResults(t *testing.T) {
	in := []providers.Message{
		{Role: "user", Content: "go"},
		{Role: "assistant", ToolCalls: []providers.ToolCall{{ID: "c1"}, {ID: "c2"}}},
		{Role: "tool", Content: "done", ToolCallID: "c1"},
		{Role: "assistant", Content: "next"},
	}
	out := repairHistory(in)
	require.Len(t, out, 5)
	assert.Equal(t, "c1", out[2].ToolCallID)
	assert.Equal(t, "c2", out[3].ToolCallID)
	assert.Equal(t, "[Tool result missing — session was compacted]", out[3].Content)
	assert.Equal(t, "next", out[4].Content)
}

func TestRepairHistoryDropsMismatchedResults(t *testing.T) {
	in := []providers.Message{
		{Role: "assistant", ToolCalls: []providers.ToolCall{{ID: "c1"}}},
		{Role: "tool", Content: "wrong pair", ToolCallID: "zz"},
		{Role: "tool", Content: "right pair", ToolCallID: "c1"},
		{Role: "tool", Content: "mid orphan", ToolCallID: "qq"},
	}
	out := repairHistory(in)
	require.Len(t, out, 2)
	assert.Equal(t, "c1", out[1].ToolCallID)
	assert.Equal(t, "right pair", out[1].Content)
}

func TestRepairHistoryCleanPassThrough(t *testing.T) {
	in := []providers.Message{
		{Role: "system", Content: "prompt"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", ToolCalls: []providers.ToolCall{{ID: "c1"}}},
		{Role: "tool", Content: "ok", ToolCallID: "c1"},
		{Role: "assistant", Content: "bye"},
	}
	out := repairHistory(in)
	assert.Equal(t, in, out)
}
