package tools

import (
	"encoding/json"
	"fmt"

	"github.com/nextlevelbuilder/goswarm/internal/runtimeerr"
)

// Stable error kinds surfaced in tool results.
const (
	KindUnknownTool      = "unknown_tool"
	KindExecutionFailed  = "tool_execution_failed"
	KindInvalidArgs      = "invalid_args"
	KindMissingParameter = "missing_parameter"
	KindBlockedCode      = "blocked_code"
	KindBlockedURL       = "blocked_url"
)

// Result is the unified return type from tool execution.
type Result struct {
	ForLLM  string `json:"for_llm"`        // content sent to the LLM
	IsError bool   `json:"is_error"`       // marks error
	Kind    string `json:"kind,omitempty"` // stable error kind when IsError
	Err     error  `json:"-"`              // internal error (not serialized)
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

// JSONResult marshals v as the LLM-facing content.
func JSONResult(v interface{}) *Result {
	b, err := json.Marshal(v)
	if err != nil {
		return ErrorResult(KindExecutionFailed, fmt.Sprintf("marshal result: %v", err))
	}
	return &Result{ForLLM: string(b)}
}

// ErrorResult builds an error result whose LLM-facing content is the
// standard {"error": kind, "message": ...} object.
func ErrorResult(kind, message string) *Result {
	return ErrorResultFields(kind, message, nil)
}

// ErrorResultFields is ErrorResult with extra structured fields merged into
// the LLM-facing object.
func ErrorResultFields(kind, message string, fields map[string]interface{}) *Result {
	body := map[string]interface{}{
		"error":   kind,
		"message": message,
	}
	for k, v := range fields {
		body[k] = v
	}
	b, _ := json.Marshal(body)
	return &Result{ForLLM: string(b), IsError: true, Kind: kind}
}

// ErrorFrom converts an error value into an error result, classifying the
// kind from the error chain.
func ErrorFrom(err error) *Result {
	r := ErrorResult(runtimeerr.KindOf(err), err.Error())
	r.Err = err
	return r
}
