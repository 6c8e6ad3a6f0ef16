// Package subagent implements the Task tool: a tool whose execution
// recursively instantiates a child Engine sharing the parent's LLM and
// approval gate, bridges the child's Wire events back onto the parent's,
// and restores the parent's context afterward via a ReCAP recovery message
// rather than letting the sub-agent's transcript grow the parent's.
package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghlggc/Jimi-sub000/internal/agentspec"
	"github.com/ghlggc/Jimi-sub000/internal/approval"
	"github.com/ghlggc/Jimi-sub000/internal/convo"
	"github.com/ghlggc/Jimi-sub000/internal/engine"
	"github.com/ghlggc/Jimi-sub000/internal/executor"
	"github.com/ghlggc/Jimi-sub000/internal/llm"
	"github.com/ghlggc/Jimi-sub000/internal/sandbox"
	"github.com/ghlggc/Jimi-sub000/internal/state"
	"github.com/ghlggc/Jimi-sub000/internal/toolkit"
	"github.com/ghlggc/Jimi-sub000/internal/wire"
)

// minSummaryChars is the length below which a sub-agent's final answer is
// treated as too short to stand alone, triggering one continuation step.
const minSummaryChars = 200

const continuationPrompt = "Your previous answer was very short. Provide a complete, standalone summary of what you accomplished."

// Specs resolves a sub-agent name to its loaded definition. A plain
// map[string]agentspec.Spec satisfies this.
type Specs interface {
	Resolve(name string) (agentspec.Spec, bool)
}

// SpecMap is the common case: every sub-agent spec loaded up front, keyed
// by name.
type SpecMap map[string]agentspec.Spec

// Resolve implements Specs.
func (m SpecMap) Resolve(name string) (agentspec.Spec, bool) {
	s, ok := m[name]
	return s, ok
}

// Deps bundles everything the Task tool needs to build and run a child
// engine. Provider, WorkDir, SandboxPolicy and Limits are shared verbatim
// with every child; Parent* fields bridge the child back into the
// currently-running session.
type Deps struct {
	Provider       llm.Provider
	MaxTokens      int
	MaxContextSize int
	WorkDir        string

	// HistoryBasePath is the parent's own history file path (possibly
	// empty for an in-memory run); each invocation derives a child path
	// from it with a distinct, call-unique suffix.
	HistoryBasePath string

	SandboxPolicy sandbox.Policy
	Limits        executor.Limits
	Specs         Specs

	ParentContext *convo.Context
	ParentBus     *wire.Bus
	ParentGate    *approval.Gate
	Stack         *state.ParentStack

	// CancelFlag is the session-wide cancellation signal, handed to every
	// child engine so cancelling the session cancels sub-agents too.
	CancelFlag *state.CancelFlag
}

// Tool is the "task" tool: exposed to an agent's tool whitelist like any
// other built-in, but its Execute recursively drives a whole Engine.
type Tool struct {
	Deps

	// recap serializes the checkpoint-run-revert window when ReCAP is
	// enabled: two sibling task calls reverting the parent context
	// concurrently would truncate each other's checkpoints.
	recap       sync.Mutex
	invocations atomic.Int64
}

func (t *Tool) Name() string { return "task" }

func (t *Tool) Description() string {
	return "Delegate a sub-goal to a named sub-agent, running it to completion and returning its summary."
}

func (t *Tool) ParameterSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"description": {"type": "string", "description": "Short label for this delegation."},
			"subagent_name": {"type": "string", "description": "Name of a registered sub-agent spec."},
			"prompt": {"type": "string", "description": "The task to hand to the sub-agent."}
		},
		"required": ["subagent_name", "prompt"]
	}`)
}

type taskArgs struct {
	Description  string `json:"description"`
	SubagentName string `json:"subagent_name"`
	Prompt       string `json:"prompt"`
}

// Execute delegates to the named sub-agent: announce, push a recovery
// frame, run a child engine to completion, then restore the parent context
// with a recap of what the child accomplished.
func (t *Tool) Execute(ctx context.Context, argsJSON json.RawMessage) (toolkit.ToolResult, error) {
	var in taskArgs
	if err := json.Unmarshal(argsJSON, &in); err != nil {
		return toolkit.ToolResult{Content: "invalid arguments: " + err.Error(), IsError: true, ErrorType: toolkit.ErrorInvalidArgs}, nil
	}
	if in.SubagentName == "" || in.Prompt == "" {
		return toolkit.ToolResult{Content: "subagent_name and prompt are required", IsError: true, ErrorType: toolkit.ErrorInvalidArgs}, nil
	}
	if t.Specs == nil {
		return toolkit.ToolResult{Content: "no sub-agents are registered", IsError: true, ErrorType: toolkit.ErrorInvalidArgs}, nil
	}
	spec, ok := t.Specs.Resolve(in.SubagentName)
	if !ok {
		return toolkit.ToolResult{Content: "unknown sub-agent: " + in.SubagentName, IsError: true, ErrorType: toolkit.ErrorInvalidArgs}, nil
	}

	if t.ParentContext != nil {
		t.recap.Lock()
		defer t.recap.Unlock()
	}

	depth := 0
	if t.Stack != nil {
		depth = t.Stack.Depth()
	}

	// The recursion cap is checked before anything is announced so a refused
	// delegation leaves no half-open starting/completed pair on the Wire.
	checkpointID := 0
	if t.ParentContext != nil {
		checkpointID = t.ParentContext.Checkpoint(true)
	}
	frame := state.NewParentContext(checkpointID, lastAssistantThought(t.ParentContext), depth, in.Prompt)
	if t.Stack != nil {
		if err := t.Stack.Push(frame); err != nil {
			return toolkit.ToolResult{Content: err.Error(), IsError: true, ErrorType: toolkit.ErrorInternal}, nil
		}
	}

	// Step 1: announce; the ReCAP frame above is this announcement's push.
	t.publish(wire.Message{Type: wire.SubagentStarting, Time: time.Now(), SubagentName: in.SubagentName, Prompt: in.Prompt, Depth: depth})

	summary, runErr := t.runChild(ctx, spec, in, depth+1)

	if t.Stack != nil {
		t.Stack.Pop()
	}
	if runErr != nil {
		t.publish(wire.Message{Type: wire.SubagentCompleted, Time: time.Now(), SubagentName: in.SubagentName, Summary: "", Depth: depth})
		return toolkit.ToolResult{Content: "sub-agent failed: " + runErr.Error(), IsError: true, ErrorType: toolkit.ErrorInternal}, nil
	}

	// Step 8.
	t.publish(wire.Message{Type: wire.SubagentCompleted, Time: time.Now(), SubagentName: in.SubagentName, Summary: summary, Depth: depth})

	if t.ParentContext != nil {
		if err := t.ParentContext.RevertTo(checkpointID); err != nil {
			return toolkit.ToolResult{Content: "recap revert failed: " + err.Error(), IsError: true, ErrorType: toolkit.ErrorInternal}, nil
		}
		recap := recapMessage(frame, summary)
		if err := t.ParentContext.AppendMessage(recap); err != nil {
			return toolkit.ToolResult{Content: "recap append failed: " + err.Error(), IsError: true, ErrorType: toolkit.ErrorInternal}, nil
		}
	}

	return toolkit.ToolResult{Content: summary}, nil
}

// runChild builds and runs a fresh child engine to completion, returning
// its summary: the last assistant message's text, extended by one
// continuation step if it came back too short.
func (t *Tool) runChild(ctx context.Context, spec agentspec.Spec, in taskArgs, depth int) (string, error) {
	invocation := t.invocations.Add(1)
	historyPath := ""
	if t.HistoryBasePath != "" {
		historyPath = t.HistoryBasePath + ".sub" + strconv.FormatInt(invocation, 10)
	}

	system, err := spec.RenderSystemPrompt(t.WorkDir, time.Now())
	if err != nil {
		return "", fmt.Errorf("render sub-agent system prompt: %w", err)
	}

	// Tools is left nil so Engine.New registers the standard built-in set;
	// ToolWhitelist below is what actually restricts the sub-agent to
	// spec.Tools when the executor builds the LLM's tool schema list.
	childEngine, err := engine.New(engine.Config{
		SessionID:       in.SubagentName,
		WorkDir:         t.WorkDir,
		HistoryFilePath: historyPath,
		Provider:        t.Provider,
		Model:           spec.Model,
		MaxTokens:       t.MaxTokens,
		MaxContextSize:  t.MaxContextSize,
		System:          system,
		ToolWhitelist:   spec.Tools,
		AgentName:       in.SubagentName,
		IsSubagent:      true,
		SandboxPolicy:   t.SandboxPolicy,
		Limits:          t.Limits,
		Bus:             wire.New(),
		Gate:            t.ParentGate,
		CancelFlag:      t.CancelFlag,
	})
	if err != nil {
		return "", fmt.Errorf("construct sub-agent engine: %w", err)
	}

	stop := bridge(childEngine.Bus(), t.ParentBus, depth)
	defer stop()

	result, err := childEngine.Run(ctx, in.Prompt)
	if err != nil {
		return "", err
	}
	return t.summarize(ctx, childEngine, result.Message.Text()), nil
}

// summarize returns the child's summary: its last assistant text, extended
// by at most one continuation step when too short. If the continuation also
// comes back short, the raw first answer is kept rather than swapped for
// something no better.
func (t *Tool) summarize(ctx context.Context, childEngine *engine.Engine, summary string) string {
	if len(summary) >= minSummaryChars {
		return summary
	}
	cont, err := childEngine.Run(ctx, continuationPrompt)
	if err == nil && len(cont.Message.Text()) >= minSummaryChars {
		return cont.Message.Text()
	}
	return summary
}

// bridge forwards every event on child onto parent, tagged with depth, until
// stop is called. Runs on its own goroutine so neither bus's producer ever
// blocks on the other.
func bridge(child, parent *wire.Bus, depth int) (stop func()) {
	if parent == nil {
		return func() {}
	}
	sub := child.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range sub.Events() {
			msg.Depth = depth
			parent.Send(msg)
		}
	}()
	return func() {
		sub.Unsubscribe()
		<-done
	}
}

func (t *Tool) publish(m wire.Message) {
	if t.ParentBus != nil {
		t.ParentBus.Send(m)
	}
}

func lastAssistantThought(c *convo.Context) string {
	if c == nil {
		return ""
	}
	msgs := c.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == convo.RoleAssistant {
			return msgs[i].Text()
		}
	}
	return ""
}

func recapMessage(frame state.ParentContext, summary string) convo.Message {
	var b strings.Builder
	b.WriteString("Sub-agent delegation completed.\n")
	b.WriteString("Sub-goal: ")
	b.WriteString(frame.SubGoal)
	b.WriteString("\n")
	if frame.LastThought != "" {
		b.WriteString("Previous thought: ")
		b.WriteString(frame.LastThought)
		b.WriteString("\n")
	}
	b.WriteString("Summary: ")
	b.WriteString(summary)
	return convo.NewUserMessage(b.String())
}
