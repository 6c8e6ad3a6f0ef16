// Package wire implements the in-process event bus linking the engine, its
// executor, the tool registry, and any bridged sub-agents to observers such
// as a terminal UI, a trace recorder, or a parent executor.
package wire

import "time"

// MessageType discriminates the Message union. New types may be added by
// future producers; consumers should treat an unrecognized type as opaque.
type MessageType string

const (
	StepBegin          MessageType = "step_begin"
	StepInterrupted    MessageType = "step_interrupted"
	ContentPartDelta   MessageType = "content_part_delta"
	ReasoningDelta     MessageType = "reasoning_delta"
	ToolCallAnnounced  MessageType = "tool_call_announced"
	ToolResult         MessageType = "tool_result"
	ApprovalRequest    MessageType = "approval_request"
	ApprovalResponse   MessageType = "approval_response"
	TodoUpdate         MessageType = "todo_update"
	SubagentStarting   MessageType = "subagent_starting"
	SubagentCompleted  MessageType = "subagent_completed"
	CompactionBegin    MessageType = "compaction_begin"
	CompactionEnd      MessageType = "compaction_end"
	StatusUpdate       MessageType = "status_update"
)

// Message is a single event on the Wire. Fields outside of Type/Time are
// populated according to the event's kind; consumers should switch on Type.
type Message struct {
	Type MessageType `json:"message_type"`
	Time time.Time   `json:"time"`

	// Step lifecycle
	GlobalStep int    `json:"global_step,omitempty"`
	IsSubagent bool   `json:"is_subagent,omitempty"`
	AgentName  string `json:"agent_name,omitempty"`
	Reason     string `json:"reason,omitempty"`

	// Streaming content
	Delta string `json:"delta,omitempty"`

	// Tool lifecycle
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	ArgsJSON   string `json:"args_json,omitempty"`
	Output     string `json:"output,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
	Rejected   bool   `json:"rejected,omitempty"`

	// Approval
	ApprovalID   string `json:"approval_id,omitempty"`
	Kind         string `json:"kind,omitempty"`
	Action       string `json:"action,omitempty"`
	Description  string `json:"description,omitempty"`
	Decision     string `json:"decision,omitempty"`

	// Todo
	TodoText string `json:"todo_text,omitempty"`
	TodoDone bool   `json:"todo_done,omitempty"`

	// Sub-agent
	SubagentName string `json:"subagent_name,omitempty"`
	Prompt       string `json:"prompt,omitempty"`
	Summary      string `json:"summary,omitempty"`
	Depth        int    `json:"depth,omitempty"`

	// Compaction
	DroppedMessages int `json:"dropped_messages,omitempty"`

	// Status
	Status any `json:"status,omitempty"`
}
