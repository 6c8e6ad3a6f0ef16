// Package llm defines the streaming chat interface the agent execution core
// consumes. Concrete provider wire formats (Anthropic, OpenAI, etc.) are
// explicitly out of scope for this core; callers supply a Provider
// implementation.
package llm

import (
	"context"
	"encoding/json"

	"github.com/ghlggc/Jimi-sub000/internal/convo"
)

// ChunkKind discriminates a streamed Chunk.
type ChunkKind string

const (
	ContentDelta   ChunkKind = "content_delta"
	ReasoningDelta ChunkKind = "reasoning_delta"
	ToolCallDelta  ChunkKind = "tool_call_delta"
	Finish         ChunkKind = "finish"
)

// Usage reports authoritative token accounting from the provider, when
// available.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Chunk is one incremental unit of a streaming LLM response.
type Chunk struct {
	Kind ChunkKind

	// Text carries the delta payload for ContentDelta and ReasoningDelta.
	Text string

	// ToolCallID/NameDelta/ArgsDelta carry a ToolCallDelta's payload. Deltas
	// for the same ToolCallID merge: name is first-delta-wins, args
	// concatenate.
	ToolCallID string
	NameDelta  string
	ArgsDelta  string

	// FinishReason and Usage are populated on a Finish chunk.
	FinishReason string
	Usage        *Usage
}

// ToolSchema is the JSON-Schema parameter descriptor for one tool, as
// handed to the provider alongside the message history.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Request is the input to a single streaming LLM call.
type Request struct {
	System    string
	Messages  []convo.Message
	Tools     []ToolSchema
	MaxTokens int
	Model     string
}

// Stream is a pull-based handle to an in-progress streaming response. Next
// blocks until the next chunk is available, the stream ends (Kind ==
// Finish having already been returned, subsequent calls return an error),
// or ctx is done. A stream that closes cleanly without a Finish chunk
// returns io.EOF.
type Stream interface {
	Next(ctx context.Context) (Chunk, error)
	// Close releases any resources held by the stream (connections,
	// goroutines). Safe to call multiple times.
	Close() error
}

// Provider opens a new Stream for the given Request. Implementations wrap a
// concrete LLM transport; this core never constructs one directly.
type Provider interface {
	Stream(ctx context.Context, req Request) (Stream, error)
}
