package tools

import (
	"context"
	"fmt"
	"strings"
)

// Runner executes sandboxed JavaScript and returns the JSON-serialized
// result value. The runtime injects a concrete executor; without one the
// tool reports itself unavailable.
type Runner interface {
	RunJavaScript(ctx context.Context, code string, input map[string]interface{}) (string, error)
}

const (
	maxJSCodeBytes   = 50 * 1024
	maxJSResultBytes = 200 * 1024
)

// forbiddenJSTokens are rejected before the code reaches the sandbox.
// Substring match on purpose: obfuscated member access is the sandbox's
// problem, the static scan only catches the obvious escapes.
var forbiddenJSTokens = []string{
	"require(",
	"process.",
	"fs.",
	"os.",
	"net.",
	"http.",
	"https.",
	"import(",
	"child_process",
	"worker_threads",
	"vm.",
	"Deno.",
	"Bun.",
}

type RunJavaScriptTool struct {
	runner Runner
}

func NewRunJavaScriptTool(runner Runner) *RunJavaScriptTool {
	return &RunJavaScriptTool{runner: runner}
}

func (t *RunJavaScriptTool) Name() string { return "run_javascript" }

func (t *RunJavaScriptTool) Description() string {
	return "Run a JavaScript snippet in an isolated sandbox. No module loading, no filesystem, no network, no process access. Input and output must be JSON-serializable."
}

func (t *RunJavaScriptTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"code": map[string]interface{}{
				"type":        "string",
				"description": "JavaScript source. The value of the final expression is returned.",
			},
			"input": map[string]interface{}{
				"type":        "object",
				"description": "Optional JSON object exposed to the code as 'input'.",
			},
		},
		"required": []string{"code"},
	}
}

func (t *RunJavaScriptTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	code, _ := args["code"].(string)
	if code == "" {
		return ErrorResult(KindMissingParameter, "code is required")
	}
	if len(code) > maxJSCodeBytes {
		return ErrorResult(KindInvalidArgs, fmt.Sprintf("code is %d bytes, maximum is %d", len(code), maxJSCodeBytes))
	}
	for _, token := range forbiddenJSTokens {
		if strings.Contains(code, token) {
			return ErrorResult(KindBlockedCode, fmt.Sprintf("code contains forbidden token %q", token))
		}
	}
	input, _ := args["input"].(map[string]interface{})

	if t.runner == nil {
		return ErrorResult(KindExecutionFailed, "no sandbox runner configured")
	}
	out, err := t.runner.RunJavaScript(ctx, code, input)
	if err != nil {
		return ErrorResult(KindExecutionFailed, err.Error())
	}
	if len(out) > maxJSResultBytes {
		return ErrorResult(KindExecutionFailed, fmt.Sprintf("result is %d bytes, maximum is %d", len(out), maxJSResultBytes))
	}
	return NewResult(out)
}
