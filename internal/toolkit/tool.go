// Package toolkit implements the tool contract and registry: mapping a tool
// name to an implementation and its JSON-Schema parameter description, and
// dispatching execution with sandbox/approval checks already the
// responsibility of each Tool's Execute.
package toolkit

import (
	"context"
	"encoding/json"
)

// ErrorType categorizes a failed ToolResult for callers that need to branch
// on failure kind (e.g. the executor deciding whether a failure should
// count against a retry budget).
type ErrorType string

const (
	ErrorInvalidArgs     ErrorType = "invalid_arguments"
	ErrorSandboxDenied   ErrorType = "sandbox_denied"
	ErrorApprovalRejected ErrorType = "approval_rejected"
	ErrorExternalProcess ErrorType = "external_process_error"
	ErrorInternal        ErrorType = "internal_error"
)

// ToolResult is the outcome of one tool execution. Tool errors never
// surface as Go errors from Execute; they are always carried in-band here
// so the executor can feed them back to the model as a tool-role message.
type ToolResult struct {
	Content   string
	IsError   bool
	ErrorType ErrorType `json:"error_type,omitempty"`
	// Truncated is set when Content was cut to the configured output
	// budget; Content then ends with a brief noting it.
	Truncated bool
}

// Tool is a single invocable capability exposed to the model.
type Tool interface {
	Name() string
	Description() string
	// ParameterSchema returns this tool's JSON Schema for its arguments.
	ParameterSchema() json.RawMessage
	Execute(ctx context.Context, argsJSON json.RawMessage) (ToolResult, error)
}

// LLMSchema is the shape a tool's description takes when handed to an LLM
// provider alongside the message history.
type LLMSchema struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}
