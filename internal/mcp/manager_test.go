package mcp

import (
	"context"
	"sync/atomic"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/goswarm/internal/config"
	"github.com/nextlevelbuilder/goswarm/internal/tools"
)

func boolPtr(b bool) *bool { return &b }

func TestStartWithNoServersIsNoop(t *testing.T) {
	m := NewManager(tools.NewRegistry(), nil)
	require.NoError(t, m.Start(context.Background()))
	assert.Empty(t, m.ServerStatus())
	assert.Empty(t, m.ToolNames())
}

func TestStartSkipsDisabledServers(t *testing.T) {
	cfgs := map[string]*config.MCPServerConfig{
		"broken": {
			Command: "/does/not/exist-anywhere",
			Enabled: boolPtr(false),
		},
	}
	m := NewManager(tools.NewRegistry(), cfgs)

	require.NoError(t, m.Start(context.Background()))
	assert.Empty(t, m.ServerStatus())
}

func TestStartRejectsUnknownTransport(t *testing.T) {
	cfgs := map[string]*config.MCPServerConfig{
		"weird": {
			Transport: "carrier-pigeon",
			URL:       "http://localhost:1",
		},
	}
	m := NewManager(tools.NewRegistry(), cfgs)

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weird")
	assert.Contains(t, err.Error(), "unsupported transport")
}

func TestStartReportsUnreachableServer(t *testing.T) {
	cfgs := map[string]*config.MCPServerConfig{
		"ghost": {
			Command: "/does/not/exist-anywhere",
		},
	}
	m := NewManager(tools.NewRegistry(), cfgs)

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
	assert.Empty(t, m.ToolNames())
}

func TestStopIsIdempotent(t *testing.T) {
	m := NewManager(tools.NewRegistry(), nil)
	m.Stop()
	m.Stop()
	assert.Empty(t, m.ServerStatus())
}

func TestBridgeToolNaming(t *testing.T) {
	mcpTool := mcpgo.Tool{
		Name:        "list_issues",
		Description: "List open issues",
	}
	var connected atomic.Bool
	bt := NewBridgeTool("github", mcpTool, nil, 30, &connected)

	assert.Equal(t, "mcp_github_list_issues", bt.Name())
	assert.Equal(t, "list_issues", bt.OriginalName())
	assert.Equal(t, "List open issues", bt.Description())
}

func TestBridgeToolParametersFromSchema(t *testing.T) {
	mcpTool := mcpgo.Tool{
		Name: "search",
		InputSchema: mcpgo.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{"type": "string"},
			},
			Required: []string{"query"},
		},
	}
	var connected atomic.Bool
	bt := NewBridgeTool("docs", mcpTool, nil, 30, &connected)

	params := bt.Parameters()
	assert.Equal(t, "object", params["type"])
	props, ok := params["properties"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, props, "query")
}

func TestBridgeToolParametersDefaultToEmptyObject(t *testing.T) {
	var connected atomic.Bool
	bt := NewBridgeTool("docs", mcpgo.Tool{Name: "ping"}, nil, 30, &connected)

	params := bt.Parameters()
	assert.Equal(t, "object", params["type"])
	assert.NotNil(t, params["properties"])
}

func TestBridgeToolExecuteWhenDisconnected(t *testing.T) {
	var connected atomic.Bool
	bt := NewBridgeTool("github", mcpgo.Tool{Name: "list_issues"}, nil, 30, &connected)

	res := bt.Execute(context.Background(), map[string]interface{}{})
	require.NotNil(t, res)
	assert.True(t, res.IsError)
	assert.Equal(t, tools.KindExecutionFailed, res.Kind)
	assert.Contains(t, res.ForLLM, "not connected")
}

func TestFlattenContentJoinsTextParts(t *testing.T) {
	content := []mcpgo.Content{
		mcpgo.TextContent{Type: "text", Text: "first"},
		mcpgo.TextContent{Type: "text", Text: "second"},
	}
	assert.Equal(t, "first\nsecond", flattenContent(content))
	assert.Equal(t, "", flattenContent(nil))
}

func TestMapToEnvSlice(t *testing.T) {
	assert.Nil(t, mapToEnvSlice(nil))

	got := mapToEnvSlice(map[string]string{"A": "1", "B": "2"})
	assert.Len(t, got, 2)
	assert.Contains(t, got, "A=1")
	assert.Contains(t, got, "B=2")
}
