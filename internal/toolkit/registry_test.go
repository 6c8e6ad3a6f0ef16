package toolkit

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

type echoTool struct {
	name   string
	schema string
	output string
}

func (e echoTool) Name() string        { return e.name }
func (e echoTool) Description() string { return "echoes configured output" }
func (e echoTool) ParameterSchema() json.RawMessage {
	if e.schema == "" {
		return nil
	}
	return json.RawMessage(e.schema)
}
func (e echoTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	return ToolResult{Content: e.output}, nil
}

func TestExecuteDispatchesToRegisteredTool(t *testing.T) {
	r := NewRegistry(0)
	r.Register(echoTool{name: "echo", output: "hello"})

	res := r.Execute(context.Background(), "echo", json.RawMessage(`{}`))
	if res.IsError || res.Content != "hello" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestExecuteUnknownToolReturnsErrorResult(t *testing.T) {
	r := NewRegistry(0)
	res := r.Execute(context.Background(), "nope", json.RawMessage(`{}`))
	if !res.IsError || res.ErrorType != ErrorInvalidArgs {
		t.Fatalf("expected invalid-args error result, got %+v", res)
	}
}

func TestExecuteValidatesArgumentsAgainstSchema(t *testing.T) {
	schema := `{
		"type": "object",
		"properties": {"path": {"type": "string"}},
		"required": ["path"]
	}`
	r := NewRegistry(0)
	r.Register(echoTool{name: "read_file", schema: schema, output: "contents"})

	res := r.Execute(context.Background(), "read_file", json.RawMessage(`{}`))
	if !res.IsError || res.ErrorType != ErrorInvalidArgs {
		t.Fatalf("expected schema validation failure, got %+v", res)
	}

	res = r.Execute(context.Background(), "read_file", json.RawMessage(`{"path":"a.txt"}`))
	if res.IsError {
		t.Fatalf("expected success with valid arguments, got %+v", res)
	}
}

func TestExecuteTruncatesOversizedOutput(t *testing.T) {
	long := strings.Repeat("line\n", 1000)
	r := NewRegistry(50)
	r.Register(echoTool{name: "bigout", output: long})

	res := r.Execute(context.Background(), "bigout", json.RawMessage(`{}`))
	if !res.Truncated {
		t.Fatal("expected output to be marked truncated")
	}
	if !strings.Contains(res.Content, "truncated, showing first") {
		t.Fatalf("expected truncation brief in content, got %q", res.Content)
	}
}

func TestAsLLMToolsFiltersByWhitelist(t *testing.T) {
	r := NewRegistry(0)
	r.Register(echoTool{name: "read_file", output: "x"})
	r.Register(echoTool{name: "shell", output: "x"})
	r.Register(echoTool{name: "mcp:github.search", output: "x"})

	tools := r.AsLLMTools([]string{"read_file", "mcp:*"})
	names := map[string]bool{}
	for _, t := range tools {
		names[t.Name] = true
	}
	if len(names) != 2 || !names["read_file"] || !names["mcp:github.search"] {
		t.Fatalf("unexpected whitelist filter result: %+v", names)
	}
}

func TestAsLLMToolsEmptyWhitelistMeansAll(t *testing.T) {
	r := NewRegistry(0)
	r.Register(echoTool{name: "a", output: "x"})
	r.Register(echoTool{name: "b", output: "x"})

	tools := r.AsLLMTools(nil)
	if len(tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(tools))
	}
}
