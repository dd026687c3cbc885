package org

import (
	"errors"
	"time"
)

// Well-known singleton agent ids. Both are seeded at first load, are never
// terminated, and bypass cross-task isolation.
const (
	RootAgentID = "root"
	UserAgentID = "user"
)

// Agent status values persisted in org.json.
const (
	StatusActive     = "active"
	StatusTerminated = "terminated"
)

// Lookup and validation failures. The error text is the stable error kind
// surfaced in tool results.
var (
	ErrRoleNotFound     = errors.New("role_not_found")
	ErrAgentNotFound    = errors.New("agent_not_found")
	ErrInvalidTaskBrief = errors.New("invalid_task_brief")
)

// Role seeds an agent's behavior: a named prompt plus optional LLM binding.
// Roles are created by tool calls and never deleted.
type Role struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	RolePrompt   string    `json:"role_prompt"`
	LLMServiceID string    `json:"llm_service_id,omitempty"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
}

// Agent is the persisted metadata record for one agent. The id is opaque
// and never reused; termination flips Status and appends to the log.
type Agent struct {
	ID            string     `json:"id"`
	RoleID        string     `json:"role_id"`
	ParentAgentID string     `json:"parent_agent_id,omitempty"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	LastActiveAt  time.Time  `json:"last_active_at"`
	CustomName    string     `json:"custom_name,omitempty"`
	TaskID        string     `json:"task_id,omitempty"`
	TaskBrief     *TaskBrief `json:"task_brief,omitempty"`
}

// Active reports whether the agent can still receive work.
func (a *Agent) Active() bool {
	return a.Status == StatusActive
}

// Termination is one append-only record in the termination log.
type Termination struct {
	AgentID      string    `json:"agent_id"`
	TerminatedBy string    `json:"terminated_by"`
	Reason       string    `json:"reason"`
	At           time.Time `json:"at"`
}

// Task scopes communication: the entry agent and all its descendants share
// the task id. Persisted one file per task under tasks/.
type Task struct {
	ID           string    `json:"id"`
	EntryAgentID string    `json:"entryAgentId"`
	CreatedAt    time.Time `json:"createdAt"`
}

// TaskBrief is the structured assignment attached at spawn time.
type TaskBrief struct {
	Objective          string   `json:"objective"`
	Constraints        []string `json:"constraints"`
	Inputs             string   `json:"inputs"`
	Outputs            string   `json:"outputs"`
	CompletionCriteria string   `json:"completion_criteria"`
	Collaborators      []string `json:"collaborators,omitempty"`
	References         []string `json:"references,omitempty"`
	Priority           string   `json:"priority,omitempty"`
}

// Validate checks the five required fields.
func (tb *TaskBrief) Validate() error {
	if tb == nil {
		return ErrInvalidTaskBrief
	}
	if tb.Objective == "" || tb.Inputs == "" || tb.Outputs == "" || tb.CompletionCriteria == "" {
		return ErrInvalidTaskBrief
	}
	if tb.Constraints == nil {
		return ErrInvalidTaskBrief
	}
	return nil
}
