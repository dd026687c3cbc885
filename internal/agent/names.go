package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/nextlevelbuilder/goswarm/internal/providers"
)

const (
	nameAttempts = 3
	nameTimeout  = 30 * time.Second
)

// generateName asks the naming service for a short unique display name and
// records it as the agent's custom name. Best-effort: every failure path
// leaves the agent on its short id with at most a debug log. Runs detached
// from the spawn call, so it carries its own deadline.
func (l *Lifecycle) generateName(agentID, roleName string) {
	if l.deps.LLM == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), nameTimeout)
	defer cancel()

	var taken []string
	for _, n := range l.deps.Org.CustomNames() {
		taken = append(taken, n)
	}
	sort.Strings(taken)

	prompt := fmt.Sprintf(
		"Pick a Chinese given name of 2 to 4 characters for an agent whose role is %q. Reply with the name only, no punctuation or explanation.",
		roleName)
	if len(taken) > 0 {
		prompt += "\nAlready taken, do not reuse: " + strings.Join(taken, ", ")
	}

	for attempt := 1; attempt <= nameAttempts; attempt++ {
		resp, err := l.deps.LLM.Direct(ctx, l.namingServiceID,
			[]providers.Message{{Role: "user", Content: prompt}},
			map[string]interface{}{
				providers.OptMaxTokens:   16,
				providers.OptTemperature: 1.0,
			})
		if err != nil {
			slog.Debug("name generation failed",
				"agent", agentID, "attempt", attempt, "error", err)
			return
		}

		name := hanOnly(resp.Content)
		if n := utf8.RuneCountInString(name); n < 2 || n > 4 {
			continue
		}
		if l.deps.Org.NameTaken(name) {
			continue
		}
		if err := l.deps.Org.SetCustomName(agentID, name); err != nil {
			slog.Debug("name save failed", "agent", agentID, "error", err)
			return
		}
		slog.Debug("agent named", "agent", agentID, "name", name)
		return
	}
}

// hanOnly strips everything but Han runes so quoted or punctuated replies
// still yield a usable name.
func hanOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
