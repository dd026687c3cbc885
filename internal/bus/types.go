package bus

// Payload kinds carried between agents.
const (
	PayloadText           = "text"
	PayloadTaskAssignment = "task_assignment"
	PayloadToolResult     = "tool_result"
	PayloadArtifactRef    = "artifact_ref"
	PayloadSystem         = "system"
)

// Message is one unit of inter-agent communication. Messages live only in
// queue memory; conversation history is the durable record.
type Message struct {
	ID     string `json:"id"`
	From   string `json:"from"`
	To     string `json:"to"`
	TaskID string `json:"task_id,omitempty"`

	Payload Payload `json:"payload"`
}

// Payload is an opaque structured value. Text carries the human-readable
// body; Fields carries structured extras (task briefs, artifact ids).
type Payload struct {
	Kind   string                 `json:"kind"`
	Text   string                 `json:"text,omitempty"`
	Fields map[string]interface{} `json:"fields,omitempty"`
}

// TextMessage builds a plain text message.
func TextMessage(from, to, taskID, text string) Message {
	return Message{
		From:   from,
		To:     to,
		TaskID: taskID,
		Payload: Payload{
			Kind: PayloadText,
			Text: text,
		},
	}
}
