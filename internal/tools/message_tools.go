package tools

import (
	"context"

	"github.com/nextlevelbuilder/goswarm/internal/bus"
	"github.com/nextlevelbuilder/goswarm/internal/runtimeerr"
)

// SendMessageTool delivers a message to another agent's queue. The task id
// is inherited from the message currently being processed unless the caller
// names one explicitly.
type SendMessageTool struct {
	bus *bus.Bus
}

func NewSendMessageTool(b *bus.Bus) *SendMessageTool {
	return &SendMessageTool{bus: b}
}

func (t *SendMessageTool) Name() string { return "send_message" }

func (t *SendMessageTool) Description() string {
	return "Send a message to another agent by id. Delivery is asynchronous: the recipient processes it as its own step. Agents outside your task are unreachable unless they are root or user."
}

func (t *SendMessageTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"to": map[string]interface{}{
				"type":        "string",
				"description": "Recipient agent id (see your Contacts block).",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Message body.",
			},
			"task_id": map[string]interface{}{
				"type":        "string",
				"description": "Optional task id; defaults to the task of the message you are handling.",
			},
		},
		"required": []string{"to", "content"},
	}
}

func (t *SendMessageTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	to, _ := args["to"].(string)
	if to == "" {
		return ErrorResult(KindMissingParameter, "to is required")
	}
	content, _ := args["content"].(string)
	if content == "" {
		return ErrorResult(KindMissingParameter, "content is required")
	}

	from := CallerFromCtx(ctx)
	taskID, _ := args["task_id"].(string)
	if taskID == "" {
		if cur := CurrentMessageFromCtx(ctx); cur != nil {
			taskID = cur.TaskID
		}
	}

	id, err := t.bus.Send(bus.TextMessage(from, to, taskID, content))
	if err != nil {
		return ErrorResultFields(runtimeerr.KindOf(err), err.Error(), map[string]interface{}{
			"from": from,
			"to":   to,
		})
	}
	return JSONResult(map[string]interface{}{"messageId": id})
}
