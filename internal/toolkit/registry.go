package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Limits on tool name/argument size, guarding against resource exhaustion
// from a runaway model.
const (
	MaxToolNameLength  = 256
	MaxToolParamsBytes = 10 << 20

	// DefaultOutputBudget is the default character budget a ToolResult's
	// Content is truncated to.
	DefaultOutputBudget = 16000
)

// Registry maps tool names to implementations and validates arguments
// against each tool's declared schema before dispatching Execute.
type Registry struct {
	mu           sync.RWMutex
	tools        map[string]Tool
	schemaCache  map[string]*jsonschema.Schema
	OutputBudget int
}

// NewRegistry creates an empty Registry. outputBudget <= 0 uses
// DefaultOutputBudget.
func NewRegistry(outputBudget int) *Registry {
	if outputBudget <= 0 {
		outputBudget = DefaultOutputBudget
	}
	return &Registry{
		tools:        make(map[string]Tool),
		schemaCache:  make(map[string]*jsonschema.Schema),
		OutputBudget: outputBudget,
	}
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	delete(r.schemaCache, tool.Name())
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemaCache, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Execute validates argsJSON against name's declared schema, then dispatches
// to the tool. Tool-not-found, oversized input, and schema validation
// failures are all surfaced as an error ToolResult rather than a Go error,
// matching every other tool failure mode.
func (r *Registry) Execute(ctx context.Context, name string, argsJSON json.RawMessage) ToolResult {
	if len(name) > MaxToolNameLength {
		return ToolResult{Content: "tool name exceeds maximum length", IsError: true, ErrorType: ErrorInvalidArgs}
	}
	if len(argsJSON) > MaxToolParamsBytes {
		return ToolResult{Content: "tool parameters exceed maximum size", IsError: true, ErrorType: ErrorInvalidArgs}
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return ToolResult{Content: "tool not found: " + name, IsError: true, ErrorType: ErrorInvalidArgs}
	}

	if err := r.validate(tool, argsJSON); err != nil {
		return ToolResult{Content: "invalid arguments: " + err.Error(), IsError: true, ErrorType: ErrorInvalidArgs}
	}

	result, err := tool.Execute(ctx, argsJSON)
	if err != nil {
		return ToolResult{Content: "tool execution error: " + err.Error(), IsError: true, ErrorType: ErrorInternal}
	}
	return r.truncate(result)
}

func (r *Registry) validate(tool Tool, argsJSON json.RawMessage) error {
	schema := tool.ParameterSchema()
	if len(schema) == 0 {
		return nil
	}

	r.mu.Lock()
	compiled, ok := r.schemaCache[tool.Name()]
	if !ok {
		c, err := jsonschema.CompileString(tool.Name()+".schema.json", string(schema))
		if err != nil {
			r.mu.Unlock()
			return fmt.Errorf("compile schema: %w", err)
		}
		compiled = c
		r.schemaCache[tool.Name()] = compiled
	}
	r.mu.Unlock()

	var decoded any
	if len(argsJSON) == 0 {
		argsJSON = []byte("{}")
	}
	if err := json.Unmarshal(argsJSON, &decoded); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return compiled.Validate(decoded)
}

func (r *Registry) truncate(result ToolResult) ToolResult {
	budget := r.OutputBudget
	if budget <= 0 || len(result.Content) <= budget {
		return result
	}
	lines := strings.Split(result.Content, "\n")
	kept := result.Content[:budget]
	if idx := strings.LastIndexByte(kept, '\n'); idx > 0 {
		kept = kept[:idx]
	}
	keptLines := strings.Count(kept, "\n") + 1
	result.Content = fmt.Sprintf("%s\n(truncated, showing first %d of %d lines)", kept, keptLines, len(lines))
	result.Truncated = true
	return result
}

// AsLLMTools returns every registered tool's schema for handing to an LLM
// provider, in name order, filtered by whitelist if non-empty. A whitelist
// entry ending in ".*" matches any tool name sharing that prefix; "mcp:*"
// matches any externally-bridged tool.
func (r *Registry) AsLLMTools(whitelist []string) []LLMSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]LLMSchema, 0, len(r.tools))
	for name, t := range r.tools {
		if len(whitelist) > 0 && !matchesAny(whitelist, name) {
			continue
		}
		out = append(out, LLMSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.ParameterSchema(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func matchesAny(whitelist []string, name string) bool {
	for _, pattern := range whitelist {
		if matchPattern(pattern, name) {
			return true
		}
	}
	return false
}

// matchPattern implements the tool-whitelist pattern language: exact match,
// a "prefix.*" glob, or the literal "mcp:*" matching any bridged external
// tool.
func matchPattern(pattern, name string) bool {
	if pattern == "" || name == "" {
		return false
	}
	if pattern == "mcp:*" {
		return strings.HasPrefix(name, "mcp:")
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(name, prefix)
	}
	return pattern == name
}
