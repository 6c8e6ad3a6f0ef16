package builtin

import (
	"context"
	"encoding/json"

	"github.com/ghlggc/Jimi-sub000/internal/toolkit"
)

// ThinkTool gives the model a scratchpad for private reasoning that isn't
// streamed as assistant content: the argument is echoed back verbatim so
// the call leaves a durable record in the tool-result message, with no
// side effect beyond that.
type ThinkTool struct{}

// ThinkArgs is the think tool's single argument.
type ThinkArgs struct {
	Thought string `json:"thought" jsonschema:"required,description=The private reasoning note to record."`
}

func (ThinkTool) Name() string        { return "think" }
func (ThinkTool) Description() string { return "Record a private reasoning note; has no side effects." }
func (ThinkTool) ParameterSchema() json.RawMessage {
	return toolkit.GenerateSchema(ThinkArgs{})
}

func (ThinkTool) Execute(ctx context.Context, argsJSON json.RawMessage) (toolkit.ToolResult, error) {
	var in ThinkArgs
	if err := json.Unmarshal(argsJSON, &in); err != nil {
		return toolkit.ToolResult{Content: "invalid arguments: " + err.Error(), IsError: true, ErrorType: toolkit.ErrorInvalidArgs}, nil
	}
	return toolkit.ToolResult{Content: in.Thought}, nil
}
