package subagent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ghlggc/Jimi-sub000/internal/agentspec"
	"github.com/ghlggc/Jimi-sub000/internal/convo"
	"github.com/ghlggc/Jimi-sub000/internal/executor"
	"github.com/ghlggc/Jimi-sub000/internal/llm"
	"github.com/ghlggc/Jimi-sub000/internal/state"
	"github.com/ghlggc/Jimi-sub000/internal/wire"
)

type fakeStream struct {
	chunks []llm.Chunk
	i      int
}

func (s *fakeStream) Next(ctx context.Context) (llm.Chunk, error) {
	if s.i >= len(s.chunks) {
		return llm.Chunk{}, context.Canceled
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}

func (s *fakeStream) Close() error { return nil }

type fakeProvider struct {
	responses [][]llm.Chunk
	calls     int
}

func (p *fakeProvider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	chunks := p.responses[p.calls%len(p.responses)]
	p.calls++
	return &fakeStream{chunks: chunks}, nil
}

func textResponse(text string) []llm.Chunk {
	return []llm.Chunk{
		{Kind: llm.ContentDelta, Text: text},
		{Kind: llm.Finish, FinishReason: "stop"},
	}
}

func writeSpec(t *testing.T, name string) agentspec.Spec {
	t.Helper()
	dir := t.TempDir()
	promptPath := filepath.Join(dir, "system.md")
	writeFile(t, promptPath, "You are a helpful researcher sub-agent.")
	specPath := filepath.Join(dir, "spec.yaml")
	writeFile(t, specPath, "name: "+name+"\nsystem_prompt_path: system.md\n")
	spec, err := agentspec.Load(specPath)
	if err != nil {
		t.Fatalf("load agent spec: %v", err)
	}
	return spec
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestTaskToolRunsChildAndRestoresParentContextWithRecap(t *testing.T) {
	spec := writeSpec(t, "researcher")
	specs := SpecMap{"researcher": spec}

	parentCtx := convo.OpenInMemory()
	if err := parentCtx.AppendMessage(convo.NewUserMessage("investigate the bug")); err != nil {
		t.Fatalf("append user message: %v", err)
	}
	if err := parentCtx.AppendMessage(convo.NewSystemMessage("")); err != nil {
		t.Fatalf("append: %v", err)
	}
	// Give the parent an assistant turn so lastAssistantThought has something
	// to snapshot into the ReCAP frame.
	assistant := convo.Message{Role: convo.RoleAssistant, Content: []convo.Part{{Kind: convo.PartText, Text: "I suspect the race is in the dispatcher."}}}
	if err := parentCtx.AppendMessage(assistant); err != nil {
		t.Fatalf("append assistant: %v", err)
	}
	beforeCount := parentCtx.MessageCount()

	parentBus := wire.New()
	sub := parentBus.Subscribe()
	defer sub.Unsubscribe()

	provider := &fakeProvider{responses: [][]llm.Chunk{textResponse("Investigated the dispatcher race and confirmed a missing mutex around the shared counter, which explains the intermittent failures under load; recommend guarding the increment with the existing executor lock.")}}

	tool := &Tool{Deps: Deps{
		Provider:       provider,
		MaxTokens:      1024,
		MaxContextSize: 50000,
		WorkDir:        t.TempDir(),
		Limits:         executor.DefaultLimits(),
		Specs:          specs,
		ParentContext:  parentCtx,
		ParentBus:      parentBus,
		Stack:          state.NewParentStack(5),
	}}

	args, _ := json.Marshal(map[string]string{
		"subagent_name": "researcher",
		"prompt":        "find the root cause of the flaky test",
	})

	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", result.Content)
	}
	if result.Content == "" {
		t.Fatal("expected a non-empty summary")
	}

	// The child's own events are bridged onto the parent bus between the
	// starting and completed events, so read until both have been seen.
	var sawStarting, sawCompleted bool
	var startingBeforeCompleted bool
	for !sawStarting || !sawCompleted {
		select {
		case msg := <-sub.Events():
			switch msg.Type {
			case wire.SubagentStarting:
				sawStarting = true
				if !sawCompleted {
					startingBeforeCompleted = true
				}
			case wire.SubagentCompleted:
				sawCompleted = true
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for wire events")
		}
	}
	if !sawStarting || !sawCompleted {
		t.Fatalf("expected both subagent_starting and subagent_completed events, got starting=%v completed=%v", sawStarting, sawCompleted)
	}
	if !startingBeforeCompleted {
		t.Fatal("expected subagent_starting to be observed before subagent_completed")
	}

	if tool.Stack.Depth() != 0 {
		t.Fatalf("expected the parent stack to be popped back to depth 0, got %d", tool.Stack.Depth())
	}

	// The parent context should be reverted to its checkpoint and gain
	// exactly one ReCAP recovery message appended on top of it.
	if got, want := parentCtx.MessageCount(), beforeCount+1; got != want {
		t.Fatalf("got %d messages after recap, want %d", got, want)
	}
	recap := parentCtx.Messages()[len(parentCtx.Messages())-1]
	if recap.Role != convo.RoleUser {
		t.Fatalf("expected the recap message to be a user turn, got %v", recap.Role)
	}
	text := recap.Text()
	if !strings.Contains(text, "find the root cause of the flaky test") {
		t.Fatalf("expected recap to reference the sub-goal, got %q", text)
	}
	if !strings.Contains(text, "race is in the dispatcher") {
		t.Fatalf("expected recap to reference the snapshotted prior thought, got %q", text)
	}
}

func TestTaskToolKeepsShortSummaryWhenContinuationAlsoShort(t *testing.T) {
	spec := writeSpec(t, "researcher")
	// Both the first answer and the continuation come back under the
	// standalone-summary length: the raw first answer must be kept.
	provider := &fakeProvider{responses: [][]llm.Chunk{
		textResponse("fixed the off-by-one"),
		textResponse("still nothing more to add"),
	}}

	tool := &Tool{Deps: Deps{
		Provider:       provider,
		MaxTokens:      1024,
		MaxContextSize: 50000,
		WorkDir:        t.TempDir(),
		Limits:         executor.DefaultLimits(),
		Specs:          SpecMap{"researcher": spec},
		Stack:          state.NewParentStack(5),
	}}

	args, _ := json.Marshal(map[string]string{"subagent_name": "researcher", "prompt": "fix it"})
	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", result.Content)
	}
	if result.Content != "fixed the off-by-one" {
		t.Fatalf("expected the raw first answer kept, got %q", result.Content)
	}
	if provider.calls != 2 {
		t.Fatalf("expected exactly one continuation attempt, provider was called %d times", provider.calls)
	}
}

func TestTaskToolAdoptsContinuationWhenLongEnough(t *testing.T) {
	spec := writeSpec(t, "researcher")
	long := strings.Repeat("The dispatcher race is fixed by guarding the counter. ", 5)
	provider := &fakeProvider{responses: [][]llm.Chunk{
		textResponse("done"),
		textResponse(long),
	}}

	tool := &Tool{Deps: Deps{
		Provider:       provider,
		MaxTokens:      1024,
		MaxContextSize: 50000,
		WorkDir:        t.TempDir(),
		Limits:         executor.DefaultLimits(),
		Specs:          SpecMap{"researcher": spec},
		Stack:          state.NewParentStack(5),
	}}

	args, _ := json.Marshal(map[string]string{"subagent_name": "researcher", "prompt": "fix it"})
	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Content != long {
		t.Fatalf("expected the continuation adopted as summary, got %q", result.Content)
	}
}

func TestTaskToolRejectsUnknownSubagent(t *testing.T) {
	tool := &Tool{Deps: Deps{
		Specs: SpecMap{},
		Stack: state.NewParentStack(5),
	}}
	args, _ := json.Marshal(map[string]string{"subagent_name": "ghost", "prompt": "do something"})

	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result for an unresolvable sub-agent name")
	}
}

func TestTaskToolRefusesBeyondRecursionCap(t *testing.T) {
	spec := writeSpec(t, "researcher")
	provider := &fakeProvider{responses: [][]llm.Chunk{textResponse("done")}}

	stack := state.NewParentStack(1)
	if err := stack.Push(state.NewParentContext(0, "", 0, "already one level deep")); err != nil {
		t.Fatalf("seed stack: %v", err)
	}

	tool := &Tool{Deps: Deps{
		Provider:       provider,
		MaxTokens:      1024,
		MaxContextSize: 50000,
		WorkDir:        t.TempDir(),
		Limits:         executor.DefaultLimits(),
		Specs:          SpecMap{"researcher": spec},
		Stack:          stack,
	}}

	args, _ := json.Marshal(map[string]string{"subagent_name": "researcher", "prompt": "go deeper"})
	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected the recursion cap to surface as an error result")
	}
	if provider.calls != 0 {
		t.Fatalf("expected no child engine to run beyond the recursion cap, provider was called %d times", provider.calls)
	}
}
