// Package convo implements the persisted, checkpointed conversation context:
// an ordered, append-only message log with token accounting, a bounded
// key-insight recap list, and a high-level-intent slot captured once per
// task.
package convo

import (
	"encoding/json"
	"fmt"
)

// Role identifies who produced a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartKind discriminates the Part union.
type PartKind string

const (
	PartText           PartKind = "text"
	PartImageRef       PartKind = "image_reference"
	PartStructuredBlob PartKind = "structured_blob"
)

// Part is one element of a Message's ordered content sequence.
type Part struct {
	Kind PartKind `json:"kind"`

	// Text holds the content for PartText.
	Text string `json:"text,omitempty"`

	// ImageRef holds an opaque reference (URL or content-addressed id) for
	// PartImageRef.
	ImageRef string `json:"image_ref,omitempty"`

	// Blob holds a raw JSON payload for PartStructuredBlob.
	Blob string `json:"blob,omitempty"`
}

// EstimatedTokens returns this part's contribution to the byte-based token
// estimate used when the LLM has not reported authoritative usage: roughly
// bytes/4 for text, 100 flat for an image reference. Structured blobs are
// costed like text.
func (p Part) EstimatedTokens() int {
	switch p.Kind {
	case PartImageRef:
		return 100
	case PartStructuredBlob:
		return len(p.Blob) / 4
	default:
		return len(p.Text) / 4
	}
}

// ToolCall is a single tool invocation requested by an assistant Message.
// Its ID is unique within the parent assistant Message.
type ToolCall struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ArgsJSON string `json:"args_json"`
}

// Message is one entry in a Context's append-only log. Field names are
// stable on disk (see Context's JSONL backing file format): role, content,
// tool_calls, tool_call_id, reasoning, name.
type Message struct {
	Role Role

	// Content is the ordered sequence of parts making up this message.
	Content []Part

	// ToolCalls is populated only on assistant messages that request tool
	// execution.
	ToolCalls []ToolCall

	// ToolCallID is populated only on tool-role messages, and must match an
	// earlier assistant message's ToolCalls[i].ID within the same Context.
	ToolCallID string

	// Reasoning holds an opaque reasoning blob, assistant-only.
	Reasoning string

	// Name optionally labels the message's source (e.g. a sub-agent name).
	Name string

	// Extra preserves fields this build doesn't model, so a history file
	// written by a newer build round-trips without loss.
	Extra map[string]json.RawMessage
}

// MarshalJSON serializes the stable on-disk field names, merging any Extra
// fields carried through from a read.
func (m Message) MarshalJSON() ([]byte, error) {
	obj := make(map[string]json.RawMessage, len(m.Extra)+6)
	for k, v := range m.Extra {
		obj[k] = v
	}
	set := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		obj[key] = b
		return nil
	}
	if err := set("role", m.Role); err != nil {
		return nil, err
	}
	content := m.Content
	if content == nil {
		content = []Part{}
	}
	if err := set("content", content); err != nil {
		return nil, err
	}
	if len(m.ToolCalls) > 0 {
		if err := set("tool_calls", m.ToolCalls); err != nil {
			return nil, err
		}
	}
	if m.ToolCallID != "" {
		if err := set("tool_call_id", m.ToolCallID); err != nil {
			return nil, err
		}
	}
	if m.Reasoning != "" {
		if err := set("reasoning", m.Reasoning); err != nil {
			return nil, err
		}
	}
	if m.Name != "" {
		if err := set("name", m.Name); err != nil {
			return nil, err
		}
	}
	return json.Marshal(obj)
}

// UnmarshalJSON accepts content as either a bare string or a list of parts,
// and stashes unrecognized fields in Extra rather than dropping them.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message{}
	if v, ok := raw["role"]; ok {
		if err := json.Unmarshal(v, &m.Role); err != nil {
			return fmt.Errorf("message role: %w", err)
		}
		delete(raw, "role")
	}
	if v, ok := raw["content"]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			if s != "" {
				m.Content = []Part{{Kind: PartText, Text: s}}
			}
		} else if err := json.Unmarshal(v, &m.Content); err != nil {
			return fmt.Errorf("message content: %w", err)
		}
		delete(raw, "content")
	}
	if v, ok := raw["tool_calls"]; ok {
		if err := json.Unmarshal(v, &m.ToolCalls); err != nil {
			return fmt.Errorf("message tool_calls: %w", err)
		}
		delete(raw, "tool_calls")
	}
	if v, ok := raw["tool_call_id"]; ok {
		if err := json.Unmarshal(v, &m.ToolCallID); err != nil {
			return fmt.Errorf("message tool_call_id: %w", err)
		}
		delete(raw, "tool_call_id")
	}
	if v, ok := raw["reasoning"]; ok {
		if err := json.Unmarshal(v, &m.Reasoning); err != nil {
			return fmt.Errorf("message reasoning: %w", err)
		}
		delete(raw, "reasoning")
	}
	if v, ok := raw["name"]; ok {
		if err := json.Unmarshal(v, &m.Name); err != nil {
			return fmt.Errorf("message name: %w", err)
		}
		delete(raw, "name")
	}
	if len(raw) > 0 {
		m.Extra = raw
	}
	return nil
}

// Text concatenates every PartText content part, which is the common case
// for simple single-part messages.
func (m Message) Text() string {
	var out string
	for _, p := range m.Content {
		if p.Kind == PartText {
			out += p.Text
		}
	}
	return out
}

// EstimatedTokens sums EstimatedTokens across all of this message's parts.
func (m Message) EstimatedTokens() int {
	total := 0
	for _, p := range m.Content {
		total += p.EstimatedTokens()
	}
	return total
}

// NewUserMessage builds a single-part text user Message, the common case for
// turning raw input into the conversation log.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []Part{{Kind: PartText, Text: text}}}
}

// NewSystemMessage builds a single-part text system Message.
func NewSystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: []Part{{Kind: PartText, Text: text}}}
}

// NewToolMessage builds a tool-role Message carrying a tool call's output.
func NewToolMessage(toolCallID, output string) Message {
	return Message{
		Role:       RoleTool,
		Content:    []Part{{Kind: PartText, Text: output}},
		ToolCallID: toolCallID,
	}
}
