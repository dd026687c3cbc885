package prompts

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/goswarm/internal/providers"
)

func TestEmbeddedDefaults(t *testing.T) {
	l, err := NewLoader("")
	require.NoError(t, err)

	assert.Contains(t, l.Base(), "send_message")
	assert.Contains(t, l.ToolRules(), "task brief")
	assert.NotEmpty(t, l.Text(FileCompose))
	assert.NotEmpty(t, l.Text(FileModelSelector))
}

func TestRenderCompose(t *testing.T) {
	l, err := NewLoader("")
	require.NoError(t, err)

	out, err := l.RenderCompose(ComposeData{
		AgentName:  "af12",
		RoleName:   "researcher",
		RolePrompt: "You research things.",
		Base:       l.Base(),
		ToolRules:  l.ToolRules(),
		Contacts:   "## Address book\n- parent: root",
		TaskBrief:  "## Task brief\nObjective: find facts",
	})
	require.NoError(t, err)

	assert.Contains(t, out, "You are agent af12, acting as researcher.")
	assert.Contains(t, out, "You research things.")
	assert.Contains(t, out, "## Address book")
	assert.Contains(t, out, "Objective: find facts")
}

func TestRenderComposeOmitsEmptyBlocks(t *testing.T) {
	l, err := NewLoader("")
	require.NoError(t, err)

	out, err := l.RenderCompose(ComposeData{
		AgentName:  "root",
		RolePrompt: "Coordinate.",
		Base:       l.Base(),
		ToolRules:  l.ToolRules(),
	})
	require.NoError(t, err)

	assert.NotContains(t, out, "Address book")
	assert.NotContains(t, out, "Task brief")
}

func TestRenderModelSelector(t *testing.T) {
	l, err := NewLoader("")
	require.NoError(t, err)

	out, err := l.RenderModelSelector([]providers.ServiceInfo{
		{ID: "fast", Model: "small-1", Tags: []string{"cheap", "naming"}},
		{ID: "strong", Model: "big-9"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "- fast (model small-1; capabilities: cheap, naming)")
	assert.Contains(t, out, "- strong (model big-9)")

	empty, err := l.RenderModelSelector(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestOverlayDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileBase), []byte("custom base"), 0644))

	l, err := NewLoader(dir)
	require.NoError(t, err)

	assert.Equal(t, "custom base", l.Base())
	// Files absent from the overlay keep their embedded default.
	assert.Contains(t, l.ToolRules(), "task brief")
}

func TestOverlayBadTemplateFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileCompose), []byte("{{.Unclosed"), 0644))

	_, err := NewLoader(dir)
	require.Error(t, err)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileBase), []byte("v1"), 0644))

	l, err := NewLoader(dir)
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, l.Watch(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileBase), []byte("v2"), 0644))

	require.Eventually(t, func() bool {
		return l.Base() == "v2"
	}, 5*time.Second, 50*time.Millisecond)
}
