package tools

import (
	"context"

	"github.com/nextlevelbuilder/goswarm/internal/conversation"
)

const defaultKeepRecent = 5

// --- compress_context ---

type CompressContextTool struct {
	conv *conversation.Store
}

func NewCompressContextTool(store *conversation.Store) *CompressContextTool {
	return &CompressContextTool{conv: store}
}

func (t *CompressContextTool) Name() string { return "compress_context" }

func (t *CompressContextTool) Description() string {
	return "Replace your older conversation history with a summary you write, keeping the system prompt and the most recent entries. Use when get_context_status reports warning or critical."
}

func (t *CompressContextTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"summary": map[string]interface{}{
				"type":        "string",
				"description": "Summary of the history being dropped. Preserve names, ids, decisions, and open items.",
			},
			"keep_recent": map[string]interface{}{
				"type":        "number",
				"description": "How many most-recent entries to keep verbatim (default 5).",
			},
		},
		"required": []string{"summary"},
	}
}

func (t *CompressContextTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	summary, _ := args["summary"].(string)
	if summary == "" {
		return ErrorResult(KindMissingParameter, "summary is required")
	}
	keepRecent := defaultKeepRecent
	if k, ok := args["keep_recent"].(float64); ok && int(k) >= 0 {
		keepRecent = int(k)
	}

	res, err := t.conv.Compress(CallerFromCtx(ctx), summary, keepRecent)
	if err != nil {
		return ErrorFrom(err)
	}
	return JSONResult(map[string]interface{}{
		"ok":            true,
		"compressed":    res.Compressed,
		"originalCount": res.OriginalCount,
		"newCount":      res.NewCount,
	})
}

// --- get_context_status ---

type ContextStatusTool struct {
	conv *conversation.Store
}

func NewContextStatusTool(store *conversation.Store) *ContextStatusTool {
	return &ContextStatusTool{conv: store}
}

func (t *ContextStatusTool) Name() string { return "get_context_status" }

func (t *ContextStatusTool) Description() string {
	return "Report your conversation's estimated token usage, budget, and threshold band (ok, warning, critical, hard)."
}

func (t *ContextStatusTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *ContextStatusTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	return JSONResult(t.conv.Band(CallerFromCtx(ctx)))
}
