package convo

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestDurabilityRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.jsonl")

	c, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := c.AppendMessage(NewUserMessage("hello")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := c.AppendMessage(Message{
		Role:      RoleAssistant,
		Content:   []Part{{Kind: PartText, Text: "hi there"}},
		ToolCalls: []ToolCall{{ID: "call-1", Name: "read_file", ArgsJSON: `{"path":"a.txt"}`}},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := c.AppendMessage(NewToolMessage("call-1", "file contents")); err != nil {
		t.Fatalf("append: %v", err)
	}
	c.UpdateTokenCount(42)
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	restored, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer restored.Close()

	if restored.MessageCount() != 3 {
		t.Fatalf("got %d messages, want 3", restored.MessageCount())
	}
	if restored.TokenCount() != 42 {
		t.Fatalf("got token count %d, want 42", restored.TokenCount())
	}
	msgs := restored.Messages()
	if msgs[0].Text() != "hello" || msgs[2].ToolCallID != "call-1" {
		t.Fatalf("unexpected restored messages: %+v", msgs)
	}
}

func TestCheckpointMonotonicity(t *testing.T) {
	c := OpenInMemory()
	_ = c.AppendMessage(NewUserMessage("a"))
	id0 := c.Checkpoint(true)
	_ = c.AppendMessage(NewUserMessage("b"))
	id1 := c.Checkpoint(true)
	_ = c.AppendMessage(NewUserMessage("c"))
	id2 := c.Checkpoint(true)

	if !(id0 < id1 && id1 < id2) {
		t.Fatalf("checkpoint ids not strictly increasing: %d %d %d", id0, id1, id2)
	}

	if err := c.RevertTo(id1); err != nil {
		t.Fatalf("revert: %v", err)
	}
	if c.MessageCount() != 2 {
		t.Fatalf("got %d messages after revert, want 2", c.MessageCount())
	}
	if c.CheckpointCount() != 2 {
		t.Fatalf("got %d checkpoints after revert, want 2 (later ones discarded)", c.CheckpointCount())
	}
}

func TestCheckpointForceFalseReturnsExistingID(t *testing.T) {
	c := OpenInMemory()
	_ = c.AppendMessage(NewUserMessage("a"))
	id0 := c.Checkpoint(false)
	id1 := c.Checkpoint(false) // no new messages since id0: same length

	if id0 != id1 {
		t.Fatalf("expected same checkpoint id when length unchanged, got %d and %d", id0, id1)
	}
	if c.CheckpointCount() != 1 {
		t.Fatalf("expected no duplicate checkpoint, got count %d", c.CheckpointCount())
	}
}

func TestRevertToRestoresExactState(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "h.jsonl"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()

	_ = c.AppendMessage(NewUserMessage("first"))
	cp := c.Checkpoint(true)
	beforeTokens := c.TokenCount()

	_ = c.AppendMessage(NewUserMessage("second, a much longer message to change token count"))

	if err := c.RevertTo(cp); err != nil {
		t.Fatalf("revert: %v", err)
	}
	if c.MessageCount() != 1 {
		t.Fatalf("got %d messages, want 1", c.MessageCount())
	}
	if c.TokenCount() != beforeTokens {
		t.Fatalf("got token count %d, want %d", c.TokenCount(), beforeTokens)
	}
}

func TestToolMessageRequiresMatchingToolCallID(t *testing.T) {
	c := OpenInMemory()
	_ = c.AppendMessage(NewUserMessage("hi"))

	err := c.AppendMessage(NewToolMessage("nonexistent", "output"))
	if err == nil {
		t.Fatal("expected error for tool message with unmatched tool_call_id")
	}
}

func TestToolPairInvariantHolds(t *testing.T) {
	c := OpenInMemory()
	_ = c.AppendMessage(NewUserMessage("hi"))
	_ = c.AppendMessage(Message{
		Role:      RoleAssistant,
		ToolCalls: []ToolCall{{ID: "t1", Name: "think"}},
	})
	if err := c.AppendMessage(NewToolMessage("t1", "done")); err != nil {
		t.Fatalf("matching tool call id should be accepted: %v", err)
	}
}

func TestKeyInsightsFIFOCap(t *testing.T) {
	c := OpenInMemory()
	for i := 0; i < 25; i++ {
		c.AddKeyInsight(string(rune('a' + i%26)))
	}
	insights := c.GetRecentInsights(100)
	if len(insights) != 20 {
		t.Fatalf("got %d insights, want cap of 20", len(insights))
	}
}

func TestHighLevelIntentTruncation(t *testing.T) {
	c := OpenInMemory()
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	c.SetHighLevelIntent(string(long))
	if len(c.GetHighLevelIntent()) != 200 {
		t.Fatalf("got length %d, want 200", len(c.GetHighLevelIntent()))
	}
}

func TestHistoryLineUsesStableFieldNames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "h.jsonl")
	c, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = c.AppendMessage(NewUserMessage("hi"))
	_ = c.AppendMessage(Message{
		Role:      RoleAssistant,
		Content:   []Part{{Kind: PartText, Text: "checking"}},
		ToolCalls: []ToolCall{{ID: "c1", Name: "read_file", ArgsJSON: `{}`}},
		Reasoning: "need the file first",
	})
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	lines := bytes.Split(bytes.TrimRight(data, "\n"), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(lines[1], &obj); err != nil {
		t.Fatalf("decode line: %v", err)
	}
	for _, key := range []string{"role", "content", "tool_calls", "reasoning", "token_count"} {
		if _, ok := obj[key]; !ok {
			t.Fatalf("line missing field %q: %s", key, lines[1])
		}
	}
	if _, ok := obj["message"]; ok {
		t.Fatal("message fields should be at the top level, not nested")
	}
}

func TestUnknownFieldsSurviveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "h.jsonl")
	line := `{"role":"user","content":"hello","future_field":{"nested":true},"token_count":5}` + "\n"
	if err := os.WriteFile(path, []byte(line), 0o644); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	c, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].Text() != "hello" {
		t.Fatalf("unexpected restored messages: %+v", msgs)
	}
	if _, ok := msgs[0].Extra["future_field"]; !ok {
		t.Fatalf("unknown field dropped on read: %+v", msgs[0])
	}

	// Force a full rewrite of the backing file and check the field survived.
	if _, err := c.ReplacePrefix(0, nil, c.TokenCount()); err != nil {
		t.Fatalf("replace prefix: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	if !bytes.Contains(data, []byte("future_field")) {
		t.Fatalf("unknown field dropped on rewrite: %s", data)
	}
}

func TestReplacePrefixPreservesToolPairsInTail(t *testing.T) {
	c := OpenInMemory()
	_ = c.AppendMessage(NewUserMessage("old turn"))
	_ = c.AppendMessage(Message{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "old1", Name: "think"}}})
	_ = c.AppendMessage(NewToolMessage("old1", "old result"))

	_ = c.AppendMessage(NewUserMessage("new turn"))
	_ = c.AppendMessage(Message{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "new1", Name: "think"}}})
	_ = c.AppendMessage(NewToolMessage("new1", "new result"))

	summary := NewSystemMessage("summary of old turn")
	if _, err := c.ReplacePrefix(3, []Message{summary}, 10); err != nil {
		t.Fatalf("replace prefix: %v", err)
	}

	msgs := c.Messages()
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4 (summary + 3 retained)", len(msgs))
	}
	if msgs[0].Text() != "summary of old turn" {
		t.Fatalf("unexpected summary message: %+v", msgs[0])
	}
	if msgs[2].ToolCalls[0].ID != "new1" || msgs[3].ToolCallID != "new1" {
		t.Fatalf("tool pair in tail not preserved: %+v", msgs)
	}
}
