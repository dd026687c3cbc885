package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/goswarm/internal/tools"
)

// BridgeTool adapts one remote MCP tool to the registry's Tool interface.
// The registered name is mcp_<server>_<tool> so tools from different
// servers never collide with each other or with built-ins.
type BridgeTool struct {
	serverName string
	original   string // tool name on the server side
	bridged    string
	desc       string
	params     map[string]interface{}
	client     *mcpclient.Client
	timeoutSec int
	connected  *atomic.Bool
}

var _ tools.Tool = (*BridgeTool)(nil)

// NewBridgeTool wraps an MCP tool discovered via ListTools.
func NewBridgeTool(serverName string, mcpTool mcpgo.Tool, client *mcpclient.Client, timeoutSec int, connected *atomic.Bool) *BridgeTool {
	return &BridgeTool{
		serverName: serverName,
		original:   mcpTool.Name,
		bridged:    fmt.Sprintf("mcp_%s_%s", serverName, mcpTool.Name),
		desc:       mcpTool.Description,
		params:     convertSchema(mcpTool.InputSchema),
		client:     client,
		timeoutSec: timeoutSec,
		connected:  connected,
	}
}

func (bt *BridgeTool) Name() string        { return bt.bridged }
func (bt *BridgeTool) Description() string { return bt.desc }

func (bt *BridgeTool) Parameters() map[string]interface{} {
	return bt.params
}

// OriginalName returns the tool's name on the server, without the bridge prefix.
func (bt *BridgeTool) OriginalName() string { return bt.original }

// Execute forwards the call to the MCP server and flattens the text content
// of the reply into a single result string.
func (bt *BridgeTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	if !bt.connected.Load() {
		return tools.ErrorResult(tools.KindExecutionFailed,
			fmt.Sprintf("MCP server %q is not connected", bt.serverName))
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(bt.timeoutSec)*time.Second)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = bt.original
	req.Params.Arguments = args

	res, err := bt.client.CallTool(ctx, req)
	if err != nil {
		return tools.ErrorResult(tools.KindExecutionFailed,
			fmt.Sprintf("call %s on MCP server %s: %v", bt.original, bt.serverName, err))
	}

	text := flattenContent(res.Content)
	if res.IsError {
		if text == "" {
			text = "tool returned an error without details"
		}
		return tools.ErrorResult(tools.KindExecutionFailed, text)
	}
	return tools.NewResult(text)
}

// flattenContent joins the text parts of an MCP reply. Non-text parts are
// rendered as JSON so nothing the server sent is silently dropped.
func flattenContent(content []mcpgo.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			parts = append(parts, tc.Text)
			continue
		}
		if b, err := json.Marshal(c); err == nil {
			parts = append(parts, string(b))
		}
	}
	return strings.Join(parts, "\n")
}

// convertSchema turns the server's input schema into the plain map shape
// the registry expects. A marshal round-trip keeps nested types clean.
func convertSchema(schema mcpgo.ToolInputSchema) map[string]interface{} {
	data, err := json.Marshal(schema)
	if err == nil {
		var result map[string]interface{}
		if err := json.Unmarshal(data, &result); err == nil && result["type"] != nil {
			return result
		}
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
