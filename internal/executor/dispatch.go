package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ghlggc/Jimi-sub000/internal/convo"
	"github.com/ghlggc/Jimi-sub000/internal/toolkit"
	"github.com/ghlggc/Jimi-sub000/internal/wire"
)

// toolOutcome pairs a dispatched call with its result, kept in the order
// the assistant emitted the call so results can be re-assembled in that
// order regardless of dispatch concurrency.
type toolOutcome struct {
	call   convo.ToolCall
	result toolkit.ToolResult
}

// dispatchTools runs every call in calls and appends one tool-role message
// per call, in emission order. Calls whose name is configured as
// concurrent-eligible (sub-agent "task" calls by default) run concurrently
// with each other via an errgroup; every other call runs sequentially in
// the dispatch loop. Either way, results land in the Context in the order
// the assistant emitted them.
func (e *Executor) dispatchTools(ctx context.Context, calls []convo.ToolCall) error {
	outcomes := make([]toolOutcome, len(calls))

	var g errgroup.Group
	for i, call := range calls {
		if !e.Limits.isConcurrentTool(call.Name) {
			continue
		}
		i, call := i, call
		g.Go(func() error {
			outcomes[i] = e.runOneTool(ctx, call)
			return nil
		})
	}

	for i, call := range calls {
		if e.Limits.isConcurrentTool(call.Name) {
			continue
		}
		if e.CancelFlag.Cancelled() {
			_ = g.Wait()
			e.publish(wire.Message{Type: wire.StepInterrupted, Time: time.Now(), IsSubagent: e.IsSubagent, AgentName: e.AgentName, Reason: "session cancelled"})
			return ErrRunCancelled
		}
		outcomes[i] = e.runOneTool(ctx, call)
	}

	// Concurrent-eligible calls never return an error from their goroutine
	// (failures are carried in-band on the ToolResult), so Wait only waits.
	_ = g.Wait()

	for _, outcome := range outcomes {
		if outcome.call.ID == "" {
			continue
		}
		toolMsg := convo.NewToolMessage(outcome.call.ID, outcome.result.Content)
		if err := e.Context.AppendMessage(toolMsg); err != nil {
			return fmt.Errorf("%w: append tool result for %s: %v", ErrToolDispatchFailed, outcome.call.Name, err)
		}
		e.task.RecordToolUsed(outcome.call.Name, extractModifiedPath(outcome.call, outcome.result))
		e.publish(wire.Message{
			Type:       wire.ToolResult,
			Time:       time.Now(),
			ToolCallID: outcome.call.ID,
			ToolName:   outcome.call.Name,
			Output:     outcome.result.Content,
			IsError:    outcome.result.IsError,
			Rejected:   outcome.result.ErrorType == toolkit.ErrorApprovalRejected,
		})
	}
	return nil
}

// fileModifyingTools names the built-in tools whose "path" argument
// identifies a workspace file they mutated, so successful calls can be
// recorded on the task's modified-files list.
var fileModifyingTools = map[string]bool{
	"write_file":  true,
	"patch_file":  true,
	"delete_file": true,
}

func extractModifiedPath(call convo.ToolCall, result toolkit.ToolResult) string {
	if result.IsError || !fileModifyingTools[call.Name] {
		return ""
	}
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal([]byte(call.ArgsJSON), &args); err != nil {
		return ""
	}
	return args.Path
}

// runOneTool executes a single tool call with a per-tool timeout and span,
// announcing it on the Wire beforehand.
func (e *Executor) runOneTool(ctx context.Context, call convo.ToolCall) toolOutcome {
	e.publish(wire.Message{
		Type:       wire.ToolCallAnnounced,
		Time:       time.Now(),
		ToolCallID: call.ID,
		ToolName:   call.Name,
		ArgsJSON:   call.ArgsJSON,
	})

	// Sub-agent task calls are bounded by their own step limits rather than
	// the per-tool timeout; everything else gets the configured deadline.
	toolCtx := ctx
	if !e.Limits.isConcurrentTool(call.Name) {
		timeout := time.Duration(e.Limits.PerToolTimeoutSeconds) * time.Second
		var cancel context.CancelFunc
		toolCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	spanCtx, span := e.Tracer.Start(toolCtx, "executor.tool_call", trace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	))
	start := time.Now()
	result := e.Tools.Execute(spanCtx, call.Name, json.RawMessage(call.ArgsJSON))
	e.Metrics.RecordToolLatency(call.Name, time.Since(start), result.IsError)
	if result.IsError {
		span.SetStatus(codes.Error, result.Content)
	}
	span.End()

	return toolOutcome{call: call, result: result}
}
