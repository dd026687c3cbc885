package agent

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/goswarm/internal/bus"
	"github.com/nextlevelbuilder/goswarm/internal/providers"
)

// formatInbound renders a bus message as the user-role entry appended to the
// recipient's conversation. The text body is carried verbatim; sender
// identity reaches the model through the address-book block in the system
// prompt, not through the entry itself. Artifact references travel as
// attachment lines so the model can fetch them with get_artifact.
func formatInbound(msg *bus.Message) string {
	var b strings.Builder
	b.WriteString(msg.Payload.Text)

	for _, ref := range artifactRefs(msg) {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[attachment] %s", ref)
	}

	if b.Len() == 0 {
		// An empty entry would be dropped by most backends; keep the queue
		// observable instead.
		fmt.Fprintf(&b, "[empty %s message]", msg.Payload.Kind)
	}
	return b.String()
}

// artifactRefs extracts artifact references from payload fields. JSON
// decoding turns string arrays into []interface{}, so both shapes appear.
func artifactRefs(msg *bus.Message) []string {
	raw, ok := msg.Payload.Fields["artifact_refs"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		refs := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				refs = append(refs, s)
			}
		}
		return refs
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

// repairHistory repairs tool_call/tool pairing before a request goes out.
// Compression can strip the assistant message that a tool entry answers, or
// the tool entries an assistant message expects; backends reject both.
//
// Repairs applied:
//   - orphaned tool entries at the start of history are dropped
//   - tool entries without a matching tool_call id are dropped
//   - missing tool results are synthesized so every tool_call is answered
func repairHistory(msgs []providers.Message) []providers.Message {
	if len(msgs) == 0 {
		return msgs
	}

	start := 0
	for start < len(msgs) && msgs[start].Role == "tool" {
		slog.Warn("dropping orphaned tool entry at history start",
			"tool_call_id", msgs[start].ToolCallID)
		start++
	}
	if start >= len(msgs) {
		return nil
	}

	var result []providers.Message
	for i := start; i < len(msgs); i++ {
		msg := msgs[i]

		if msg.Role == "assistant" && len(msg.ToolCalls) > 0 {
			expected := make(map[string]bool, len(msg.ToolCalls))
			order := make([]string, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				expected[tc.ID] = true
				order = append(order, tc.ID)
			}

			result = append(result, msg)

			for i+1 < len(msgs) && msgs[i+1].Role == "tool" {
				i++
				toolMsg := msgs[i]
				if expected[toolMsg.ToolCallID] {
					result = append(result, toolMsg)
					delete(expected, toolMsg.ToolCallID)
				} else {
					slog.Warn("dropping mismatched tool entry",
						"tool_call_id", toolMsg.ToolCallID)
				}
			}

			// Synthesize in call order so repairs are deterministic.
			for _, id := range order {
				if !expected[id] {
					continue
				}
				slog.Warn("synthesizing missing tool result", "tool_call_id", id)
				result = append(result, providers.Message{
					Role:       "tool",
					Content:    "[Tool result missing — session was compacted]",
					ToolCallID: id,
				})
			}
		} else if msg.Role == "tool" {
			slog.Warn("dropping orphaned tool entry mid-history",
				"tool_call_id", msg.ToolCallID)
		} else {
			result = append(result, msg)
		}
	}

	return result
}
