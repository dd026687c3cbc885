package agent

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/goswarm/internal/org"
	"github.com/nextlevelbuilder/goswarm/internal/prompts"
	"github.com/nextlevelbuilder/goswarm/internal/providers"
)

// SystemPromptConfig carries everything the composer needs for one agent's
// system prompt.
type SystemPromptConfig struct {
	Agent    *org.Agent
	Role     *org.Role // nil when the role record is gone
	Name     string    // display name: custom name when assigned, short id otherwise
	Contacts string    // rendered address-book block, may be empty
	Services []providers.ServiceInfo
	Minimal  bool // role prompt only, no composed blocks
}

// BuildSystemPrompt composes the full system prompt for one step. Render
// failures fall back to the bare role prompt so a broken template override
// degrades the prompt instead of the step.
func BuildSystemPrompt(loader *prompts.Loader, cfg SystemPromptConfig) string {
	var rolePrompt, roleName string
	if cfg.Role != nil {
		rolePrompt = cfg.Role.RolePrompt
		roleName = cfg.Role.Name
	}
	if cfg.Minimal {
		return rolePrompt
	}

	selector, err := loader.RenderModelSelector(cfg.Services)
	if err != nil {
		slog.Warn("model selector render failed", "error", err)
		selector = ""
	}

	out, err := loader.RenderCompose(prompts.ComposeData{
		AgentName:     cfg.Name,
		RoleName:      roleName,
		RolePrompt:    rolePrompt,
		Base:          loader.Base(),
		ToolRules:     loader.ToolRules(),
		ModelSelector: selector,
		Contacts:      cfg.Contacts,
		TaskBrief:     renderBrief(cfg.Agent.TaskBrief),
	})
	if err != nil {
		slog.Warn("system prompt render failed, using role prompt",
			"agent", cfg.Agent.ID, "error", err)
		return rolePrompt
	}
	return out
}

// spawnSystemPrompt seeds a new conversation. The processor swaps in a
// fresh prompt on every step, so the seed only has to stand until then.
func spawnSystemPrompt(loader *prompts.Loader, agent *org.Agent, role *org.Role) string {
	return BuildSystemPrompt(loader, SystemPromptConfig{
		Agent: agent,
		Role:  role,
		Name:  shortID(agent.ID),
	})
}

// shortID shortens a uuid to its first group for display.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

// renderBrief formats a task brief as a prompt block.
func renderBrief(brief *org.TaskBrief) string {
	if brief == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Task brief\n\n")
	fmt.Fprintf(&b, "Objective: %s\n", brief.Objective)
	if len(brief.Constraints) > 0 {
		b.WriteString("Constraints:\n")
		for _, c := range brief.Constraints {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	fmt.Fprintf(&b, "Inputs: %s\n", brief.Inputs)
	fmt.Fprintf(&b, "Outputs: %s\n", brief.Outputs)
	fmt.Fprintf(&b, "Completion criteria: %s\n", brief.CompletionCriteria)
	if len(brief.Collaborators) > 0 {
		fmt.Fprintf(&b, "Collaborators: %s\n", strings.Join(brief.Collaborators, ", "))
	}
	if len(brief.References) > 0 {
		b.WriteString("References:\n")
		for _, r := range brief.References {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	if brief.Priority != "" {
		fmt.Fprintf(&b, "Priority: %s\n", brief.Priority)
	}
	return strings.TrimSpace(b.String())
}
