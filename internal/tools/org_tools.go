package tools

import (
	"context"

	"github.com/nextlevelbuilder/goswarm/internal/org"
)

// --- find_role_by_name ---

type FindRoleByNameTool struct {
	org *org.Store
}

func NewFindRoleByNameTool(store *org.Store) *FindRoleByNameTool {
	return &FindRoleByNameTool{org: store}
}

func (t *FindRoleByNameTool) Name() string { return "find_role_by_name" }

func (t *FindRoleByNameTool) Description() string {
	return "Look up a role by its exact name. Returns the role id, prompt, and metadata. Use the id with spawn_agent_with_task."
}

func (t *FindRoleByNameTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{
				"type":        "string",
				"description": "Exact role name to find.",
			},
		},
		"required": []string{"name"},
	}
}

func (t *FindRoleByNameTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	name, _ := args["name"].(string)
	if name == "" {
		return ErrorResult(KindMissingParameter, "name is required")
	}
	role, err := t.org.FindRoleByName(name)
	if err != nil {
		return ErrorFrom(err)
	}
	return JSONResult(map[string]interface{}{
		"roleId":     role.ID,
		"name":       role.Name,
		"rolePrompt": role.RolePrompt,
		"createdBy":  role.CreatedBy,
	})
}

// --- create_role ---

type CreateRoleTool struct {
	org *org.Store
}

func NewCreateRoleTool(store *org.Store) *CreateRoleTool {
	return &CreateRoleTool{org: store}
}

func (t *CreateRoleTool) Name() string { return "create_role" }

func (t *CreateRoleTool) Description() string {
	return "Create a new role with a name and a role prompt. Agents spawned under this role receive the prompt as their identity."
}

func (t *CreateRoleTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{
				"type":        "string",
				"description": "Role name, e.g. 'writer' or 'researcher'.",
			},
			"role_prompt": map[string]interface{}{
				"type":        "string",
				"description": "System prompt that defines the role's behavior.",
			},
			"llm_service_id": map[string]interface{}{
				"type":        "string",
				"description": "Optional LLM service id; empty uses the default endpoint.",
			},
		},
		"required": []string{"name", "role_prompt"},
	}
}

func (t *CreateRoleTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	name, _ := args["name"].(string)
	if name == "" {
		return ErrorResult(KindMissingParameter, "name is required")
	}
	rolePrompt, _ := args["role_prompt"].(string)
	if rolePrompt == "" {
		return ErrorResult(KindMissingParameter, "role_prompt is required")
	}
	serviceID, _ := args["llm_service_id"].(string)

	role, err := t.org.CreateRole(name, rolePrompt, serviceID, CallerFromCtx(ctx))
	if err != nil {
		return ErrorFrom(err)
	}
	return JSONResult(map[string]interface{}{
		"roleId": role.ID,
		"name":   role.Name,
	})
}
