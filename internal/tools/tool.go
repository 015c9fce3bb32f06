package tools

import (
	"context"

	"google.golang.org/genai"
)

// Tool is one capability offered to a model or to the CLI.
type Tool interface {
	Name() string
	Description() string

	// Declaration is the function schema advertised to the model.
	Declaration() *genai.FunctionDeclaration

	// Validate rejects malformed arguments. Failures of the command itself
	// are reported through the ToolResult returned by Execute.
	Validate(args map[string]any) error

	Execute(ctx context.Context, args map[string]any) (ToolResult, error)
}

// ToolResult is the outcome of one tool call. Data holds the structured
// fields (session_id, status, exit_code, ...) that callers act on; Content is
// the text shown to the model.
type ToolResult struct {
	Content  string
	Data     any
	Error    string
	Success  bool
	Duration string
}

// NewSuccessResult returns a successful result with text only.
func NewSuccessResult(content string) ToolResult {
	return ToolResult{Content: content, Success: true}
}

// NewSuccessResultWithData returns a successful result carrying data.
func NewSuccessResultWithData(content string, data any) ToolResult {
	return ToolResult{Content: content, Data: data, Success: true}
}

// NewErrorResult returns a failed result.
func NewErrorResult(errMsg string) ToolResult {
	return ToolResult{Error: errMsg}
}

// NewErrorResultWithData returns a failed result that keeps what the
// command printed, e.g. a non-zero exit with output.
func NewErrorResultWithData(errMsg, content string, data any) ToolResult {
	return ToolResult{Content: content, Data: data, Error: errMsg}
}

// ToMap renders the result as a function response payload.
func (r ToolResult) ToMap() map[string]any {
	m := map[string]any{"success": r.Success}
	if !r.Success {
		m["error"] = r.Error
	}
	if r.Content != "" {
		m["content"] = r.Content
	}
	if r.Data != nil {
		m["data"] = r.Data
	}
	if r.Duration != "" {
		m["duration"] = r.Duration
	}
	return m
}
