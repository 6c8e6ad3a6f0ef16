package executor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ghlggc/Jimi-sub000/internal/convo"
	"github.com/ghlggc/Jimi-sub000/internal/llm"
	"github.com/ghlggc/Jimi-sub000/internal/state"
	"github.com/ghlggc/Jimi-sub000/internal/toolkit"
	"github.com/ghlggc/Jimi-sub000/internal/wire"
)

// fakeStream replays a fixed chunk sequence, ending with a Finish chunk.
type fakeStream struct {
	chunks []llm.Chunk
	i      int
}

func (s *fakeStream) Next(ctx context.Context) (llm.Chunk, error) {
	if s.i >= len(s.chunks) {
		return llm.Chunk{}, errors.New("fakeStream: exhausted without Finish")
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}

func (s *fakeStream) Close() error { return nil }

// scriptedProvider returns one fakeStream per call to Stream, taken in
// order from responses. Calling Stream more times than len(responses)
// fails the test.
type scriptedProvider struct {
	t         *testing.T
	responses [][]llm.Chunk
	calls     int
}

func (p *scriptedProvider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	if p.calls >= len(p.responses) {
		p.t.Fatalf("provider called more times (%d) than scripted (%d)", p.calls+1, len(p.responses))
	}
	chunks := p.responses[p.calls]
	p.calls++
	return &fakeStream{chunks: chunks}, nil
}

func textResponse(text, finish string) []llm.Chunk {
	return []llm.Chunk{
		{Kind: llm.ContentDelta, Text: text},
		{Kind: llm.Finish, FinishReason: finish},
	}
}

func toolCallResponse(id, name, argsJSON string) []llm.Chunk {
	return []llm.Chunk{
		{Kind: llm.ToolCallDelta, ToolCallID: id, NameDelta: name, ArgsDelta: argsJSON},
		{Kind: llm.Finish, FinishReason: "tool_calls"},
	}
}

type echoTool struct{}

func (echoTool) Name() string                     { return "echo" }
func (echoTool) Description() string              { return "echoes its input argument" }
func (echoTool) ParameterSchema() json.RawMessage { return nil }
func (echoTool) Execute(ctx context.Context, argsJSON json.RawMessage) (toolkit.ToolResult, error) {
	return toolkit.ToolResult{Content: "echoed: " + string(argsJSON)}, nil
}

func newTestExecutor(t *testing.T, provider llm.Provider) *Executor {
	t.Helper()
	registry := toolkit.NewRegistry(0)
	registry.Register(echoTool{})
	return New(Config{
		Context:  convo.OpenInMemory(),
		Provider: provider,
		Tools:    registry,
		Limits:   DefaultLimits(),
	})
}

func TestRunSingleShotReply(t *testing.T) {
	provider := &scriptedProvider{t: t, responses: [][]llm.Chunk{textResponse("hello there", "stop")}}
	ex := newTestExecutor(t, provider)

	result, err := ex.Run(context.Background(), "hi")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Message.Text() != "hello there" {
		t.Fatalf("got %q, want %q", result.Message.Text(), "hello there")
	}
	if result.Forced {
		t.Fatal("should not be a forced finish")
	}
	if ex.Context.MessageCount() != 2 {
		t.Fatalf("got %d messages, want 2 (user + assistant)", ex.Context.MessageCount())
	}
}

func TestRunOneToolCallThenReply(t *testing.T) {
	provider := &scriptedProvider{t: t, responses: [][]llm.Chunk{
		toolCallResponse("call-1", "echo", `{"x":1}`),
		textResponse("done", "stop"),
	}}
	ex := newTestExecutor(t, provider)

	result, err := ex.Run(context.Background(), "use the echo tool")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Message.Text() != "done" {
		t.Fatalf("got %q, want %q", result.Message.Text(), "done")
	}

	msgs := ex.Context.Messages()
	// user, assistant(tool call), tool result, assistant(final)
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4: %+v", len(msgs), msgs)
	}
	if msgs[2].Role != convo.RoleTool || msgs[2].ToolCallID != "call-1" {
		t.Fatalf("expected tool result message at index 2, got %+v", msgs[2])
	}
	if msgs[2].Text() == "" {
		t.Fatal("expected non-empty tool output")
	}
}

func TestRunToolNotFoundProducesErrorResult(t *testing.T) {
	provider := &scriptedProvider{t: t, responses: [][]llm.Chunk{
		toolCallResponse("call-1", "nonexistent", `{}`),
		textResponse("handled the error", "stop"),
	}}
	ex := newTestExecutor(t, provider)

	result, err := ex.Run(context.Background(), "go")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Message.Text() != "handled the error" {
		t.Fatalf("got %q", result.Message.Text())
	}

	msgs := ex.Context.Messages()
	if msgs[2].Role != convo.RoleTool {
		t.Fatalf("expected a tool result message at index 2, got %+v", msgs[2])
	}
	if msgs[2].Text() == "" {
		t.Fatal("expected a non-empty error message for the missing tool")
	}
}

func TestRunMaxStepsReached(t *testing.T) {
	// Every call returns a tool call, so the loop never finishes on its own.
	responses := make([][]llm.Chunk, 0, 5)
	for i := 0; i < 5; i++ {
		responses = append(responses, toolCallResponse("call", "echo", `{}`))
	}
	provider := &scriptedProvider{t: t, responses: responses}
	ex := newTestExecutor(t, provider)
	ex.Limits.MaxStepsPerRun = 3

	_, err := ex.Run(context.Background(), "loop forever")
	if !errors.Is(err, ErrMaxStepsReached) {
		t.Fatalf("got %v, want ErrMaxStepsReached", err)
	}
	history := ex.Session.TaskHistory
	if len(history) != 1 || history[0].Status != state.TaskFailed {
		t.Fatalf("expected one failed task history record, got %+v", history)
	}
	if ex.Session.TasksCompleted != 0 {
		t.Fatalf("a failed task must not count as completed, got %d", ex.Session.TasksCompleted)
	}
}

func TestRunForcedFinishAtMaxThinkingSteps(t *testing.T) {
	// Every call returns empty content and no tool calls: pure stalling.
	responses := make([][]llm.Chunk, 0, 5)
	for i := 0; i < 5; i++ {
		responses = append(responses, []llm.Chunk{{Kind: llm.Finish, FinishReason: "stop"}})
	}
	provider := &scriptedProvider{t: t, responses: responses}
	ex := newTestExecutor(t, provider)
	ex.Limits.MaxThinkingSteps = 2

	result, err := ex.Run(context.Background(), "stall")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.Forced {
		t.Fatal("expected a forced finish")
	}
	if provider.calls != 2 {
		t.Fatalf("got %d LLM calls, want 2 (forced finish on reaching the limit)", provider.calls)
	}
}

func TestRunCancelledBeforeFirstStep(t *testing.T) {
	provider := &scriptedProvider{t: t, responses: [][]llm.Chunk{textResponse("unreachable", "stop")}}
	ex := newTestExecutor(t, provider)
	ex.Cancel()

	_, err := ex.Run(context.Background(), "hi")
	if !errors.Is(err, ErrRunCancelled) {
		t.Fatalf("got %v, want ErrRunCancelled", err)
	}
	if provider.calls != 0 {
		t.Fatal("expected no LLM calls once cancelled")
	}
	history := ex.Session.TaskHistory
	if len(history) != 1 || history[0].Status != state.TaskCancelled {
		t.Fatalf("expected a cancelled task history record, got %+v", history)
	}
}

func TestRunPublishesStepAndToolEvents(t *testing.T) {
	provider := &scriptedProvider{t: t, responses: [][]llm.Chunk{
		toolCallResponse("call-1", "echo", `{}`),
		textResponse("ok", "stop"),
	}}
	bus := wire.New()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	ex := newTestExecutor(t, provider)
	ex.Bus = bus

	if _, err := ex.Run(context.Background(), "go"); err != nil {
		t.Fatalf("run: %v", err)
	}

	var sawStepBegin, sawToolAnnounced, sawToolResult bool
	for i := 0; i < 10; i++ {
		select {
		case ev := <-sub.Events():
			switch ev.Type {
			case wire.StepBegin:
				sawStepBegin = true
			case wire.ToolCallAnnounced:
				sawToolAnnounced = true
			case wire.ToolResult:
				sawToolResult = true
			}
		default:
		}
	}
	if !sawStepBegin || !sawToolAnnounced || !sawToolResult {
		t.Fatalf("missing expected events: step_begin=%v tool_announced=%v tool_result=%v", sawStepBegin, sawToolAnnounced, sawToolResult)
	}
}

func TestRunNoProviderFails(t *testing.T) {
	ex := New(Config{Context: convo.OpenInMemory()})
	_, err := ex.Run(context.Background(), "hi")
	if !errors.Is(err, ErrLLMNotSet) {
		t.Fatalf("got %v, want ErrLLMNotSet", err)
	}
}

func TestRunRecordsSessionTaskCompletion(t *testing.T) {
	provider := &scriptedProvider{t: t, responses: [][]llm.Chunk{textResponse("hi", "stop")}}
	session := &state.SessionState{}
	session.InitializeSession()

	ex := newTestExecutor(t, provider)
	ex.Session = session

	if _, err := ex.Run(context.Background(), "hi"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if session.TasksCompleted != 1 {
		t.Fatalf("got %d completed tasks, want 1", session.TasksCompleted)
	}
}
