package tools

import (
	"context"
	"encoding/json"

	"github.com/nextlevelbuilder/goswarm/internal/org"
)

// Lifecycle is the slice of agent lifecycle management the spawn and
// terminate tools call into. Implemented by the agent package; declared
// here so tools stay free of a dependency on it.
type Lifecycle interface {
	SpawnWithTask(ctx context.Context, parentID, roleID string, brief *org.TaskBrief, initialMessage string) (*SpawnOutcome, error)
	Terminate(ctx context.Context, callerID, agentID, reason string) (*TerminateOutcome, error)
}

// SpawnOutcome reports a successful spawn.
type SpawnOutcome struct {
	AgentID string `json:"agentId"`
	RoleID  string `json:"roleId"`
	TaskID  string `json:"taskId"`
}

// TerminateOutcome reports a completed terminate cascade.
type TerminateOutcome struct {
	Terminated []string `json:"terminated"` // ids, leaf-first
	Drained    int      `json:"drainedMessages"`
}

// --- spawn_agent_with_task ---

type SpawnAgentTool struct {
	lifecycle Lifecycle
}

func NewSpawnAgentTool(lc Lifecycle) *SpawnAgentTool {
	return &SpawnAgentTool{lifecycle: lc}
}

func (t *SpawnAgentTool) Name() string { return "spawn_agent_with_task" }

func (t *SpawnAgentTool) Description() string {
	return "Spawn a child agent under an existing role and hand it a task brief. The child starts processing initial_message immediately and can message you back."
}

func (t *SpawnAgentTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"role_id": map[string]interface{}{
				"type":        "string",
				"description": "Id of the role the child runs under (see find_role_by_name).",
			},
			"task_brief": map[string]interface{}{
				"type":        "object",
				"description": "Structured assignment. Required: objective, constraints, inputs, outputs, completion_criteria. Optional: collaborators, references, priority.",
				"properties": map[string]interface{}{
					"objective":           map[string]interface{}{"type": "string"},
					"constraints":         map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
					"inputs":              map[string]interface{}{"type": "string"},
					"outputs":             map[string]interface{}{"type": "string"},
					"completion_criteria": map[string]interface{}{"type": "string"},
					"collaborators":       map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
					"references":          map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
					"priority":            map[string]interface{}{"type": "string"},
				},
				"required": []string{"objective", "constraints", "inputs", "outputs", "completion_criteria"},
			},
			"initial_message": map[string]interface{}{
				"type":        "string",
				"description": "First message delivered to the child.",
			},
		},
		"required": []string{"role_id", "task_brief", "initial_message"},
	}
}

func (t *SpawnAgentTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	roleID, _ := args["role_id"].(string)
	if roleID == "" {
		return ErrorResult(KindMissingParameter, "role_id is required")
	}
	initialMessage, _ := args["initial_message"].(string)
	if initialMessage == "" {
		return ErrorResult(KindMissingParameter, "initial_message is required")
	}
	briefMap, ok := args["task_brief"].(map[string]interface{})
	if !ok {
		return ErrorResult("invalid_task_brief", "task_brief must be an object with objective, constraints, inputs, outputs, completion_criteria")
	}

	brief, err := decodeTaskBrief(briefMap)
	if err != nil {
		return ErrorFrom(err)
	}

	outcome, err := t.lifecycle.SpawnWithTask(ctx, CallerFromCtx(ctx), roleID, brief, initialMessage)
	if err != nil {
		return ErrorFrom(err)
	}
	return JSONResult(outcome)
}

// decodeTaskBrief converts the raw argument map through JSON so field names
// match the persisted TaskBrief shape, then validates it.
func decodeTaskBrief(m map[string]interface{}) (*org.TaskBrief, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, org.ErrInvalidTaskBrief
	}
	var brief org.TaskBrief
	if err := json.Unmarshal(raw, &brief); err != nil {
		return nil, org.ErrInvalidTaskBrief
	}
	if err := brief.Validate(); err != nil {
		return nil, err
	}
	return &brief, nil
}

// --- terminate_agent ---

type TerminateAgentTool struct {
	lifecycle Lifecycle
}

func NewTerminateAgentTool(lc Lifecycle) *TerminateAgentTool {
	return &TerminateAgentTool{lifecycle: lc}
}

func (t *TerminateAgentTool) Name() string { return "terminate_agent" }

func (t *TerminateAgentTool) Description() string {
	return "Terminate one of your direct child agents and its whole subtree. Queued work is drained best-effort, then the agents are removed."
}

func (t *TerminateAgentTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"agent_id": map[string]interface{}{
				"type":        "string",
				"description": "Id of the direct child to terminate.",
			},
			"reason": map[string]interface{}{
				"type":        "string",
				"description": "Why the agent is being terminated.",
			},
		},
		"required": []string{"agent_id"},
	}
}

func (t *TerminateAgentTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	agentID, _ := args["agent_id"].(string)
	if agentID == "" {
		return ErrorResult(KindMissingParameter, "agent_id is required")
	}
	reason, _ := args["reason"].(string)

	outcome, err := t.lifecycle.Terminate(ctx, CallerFromCtx(ctx), agentID, reason)
	if err != nil {
		return ErrorFrom(err)
	}
	return JSONResult(outcome)
}
