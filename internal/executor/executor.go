// Package executor implements the Agent Executor: the per-task step loop
// that alternates between an LLM call and tool dispatch until the model
// produces a final answer, a configured limit is hit, or the run is
// cancelled.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ghlggc/Jimi-sub000/internal/convo"
	"github.com/ghlggc/Jimi-sub000/internal/ctxmanager"
	"github.com/ghlggc/Jimi-sub000/internal/jimilog"
	"github.com/ghlggc/Jimi-sub000/internal/llm"
	"github.com/ghlggc/Jimi-sub000/internal/state"
	"github.com/ghlggc/Jimi-sub000/internal/streamproc"
	"github.com/ghlggc/Jimi-sub000/internal/toolkit"
	"github.com/ghlggc/Jimi-sub000/internal/wire"
)

// MetricsRecorder receives step-count, token-usage, and tool-latency
// observations. Engine supplies a *metrics.Collector; nil leaves
// instrumentation a no-op so a bare Executor (as used directly in tests)
// never needs one.
type MetricsRecorder interface {
	RecordStep(agentName string)
	RecordTokens(n int)
	RecordToolLatency(tool string, dur time.Duration, isError bool)
}

type noopMetrics struct{}

func (noopMetrics) RecordStep(string)                             {}
func (noopMetrics) RecordTokens(int)                              {}
func (noopMetrics) RecordToolLatency(string, time.Duration, bool) {}

// Phase names the executor's current state, for callers (such as status()
// on the Engine façade) that want to report it.
type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhasePreparing          Phase = "preparing"
	PhaseAwaitingLLM        Phase = "awaiting_llm"
	PhaseProcessingResponse Phase = "processing_response"
	PhaseDispatchingTools   Phase = "dispatching_tools"
	PhaseFinished           Phase = "finished"
	PhaseCancelled          Phase = "cancelled"
	PhaseFailed             Phase = "failed"
)

// nudgeText is appended as a user turn when a step produces neither content
// nor tool calls, to unstick a model that stalled mid-task.
const nudgeText = "Continue working toward the task, or call a tool, or provide a final answer."

// Config bundles the collaborators one Executor needs. All fields besides
// Provider may be left nil/zero for a degenerate (e.g. no-tools,
// no-compaction) executor, which is useful in tests.
type Config struct {
	Context     *convo.Context
	Manager     *ctxmanager.Manager
	Accumulator *streamproc.Accumulator
	Provider    llm.Provider
	Tools       *toolkit.Registry
	Session     *state.SessionState
	Bus         *wire.Bus
	Limits      Limits

	// CancelFlag is the session-wide cancellation signal, shared with every
	// sub-agent executor so cancelling the session cancels children
	// transitively. Nil gets a private flag.
	CancelFlag *state.CancelFlag

	System        string
	Model         string
	MaxTokens     int
	ToolWhitelist []string

	// AgentName/IsSubagent are surfaced on step_begin/step_interrupted
	// events so a parent engine (or a UI) can distinguish a sub-agent's
	// steps from the top-level run's.
	AgentName  string
	IsSubagent bool

	// Tracer instruments step and tool-dispatch spans. A nil Tracer uses
	// the global otel tracer under this package's import path, matching
	// the no-op-when-unconfigured behavior of a disabled exporter.
	Tracer trace.Tracer

	// Metrics receives step/token/tool-latency observations. A nil value
	// is replaced with a no-op recorder.
	Metrics MetricsRecorder

	// Logger defaults to slog.Default() when nil.
	Logger *slog.Logger
}

// Executor runs one task's step loop to completion against a single Context.
type Executor struct {
	Config

	task *state.TaskState
}

// New creates an Executor from cfg, sanitizing Limits and defaulting
// Session/Tracer/Tools when unset.
func New(cfg Config) *Executor {
	cfg.Limits = cfg.Limits.sanitized()
	if cfg.Session == nil {
		cfg.Session = &state.SessionState{}
		cfg.Session.InitializeSession()
	}
	if cfg.Tools == nil {
		cfg.Tools = toolkit.NewRegistry(0)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/ghlggc/Jimi-sub000/internal/executor")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.CancelFlag == nil {
		cfg.CancelFlag = &state.CancelFlag{}
	}
	cfg.Logger = jimilog.OrDefault(cfg.Logger)
	return &Executor{Config: cfg}
}

// Cancel marks the run cancelled. The next step boundary (or the next gap
// between tool calls within a step) observes this and fails the run with
// ErrRunCancelled.
func (e *Executor) Cancel() {
	e.CancelFlag.Cancel()
}

// Result is the outcome of a completed Run.
type Result struct {
	Message convo.Message
	Steps   int
	// Forced is true if the run ended because the model stalled for
	// MaxThinkingSteps consecutive steps rather than producing a final
	// answer.
	Forced bool
}

// Run drives the step loop for one task: it appends input as a user
// message, then alternates LLM calls and tool dispatch until the model
// finishes, a limit is reached, or the run is cancelled.
func (e *Executor) Run(ctx context.Context, input string) (Result, error) {
	if e.Provider == nil {
		return Result{}, ErrLLMNotSet
	}
	if e.Context == nil {
		e.Context = convo.OpenInMemory()
	}

	e.task = &state.TaskState{}
	e.task.InitializeTask(input)
	e.Context.SetHighLevelIntent(input)
	e.Logger.Info("task started", "input_length", len(input))

	userMsg := convo.NewUserMessage(input)
	if err := e.Context.AppendMessage(userMsg); err != nil {
		return Result{}, fmt.Errorf("%w: append user message: %v", ErrInternal, err)
	}
	e.Context.Checkpoint(true)

	for {
		result, done, err := e.step(ctx)
		if err != nil {
			status := state.TaskFailed
			if errors.Is(err, ErrRunCancelled) {
				status = state.TaskCancelled
			}
			e.Logger.Error("task failed", "error", err, "status", string(status), "steps", e.task.StepCount)
			e.Session.RecordTask(e.task, status)
			return Result{}, err
		}
		if done {
			e.Logger.Info("task finished", "steps", e.task.StepCount, "forced", result.Forced)
			e.Session.RecordTask(e.task, state.TaskSucceeded)
			return result, nil
		}
	}
}

// step runs exactly one iteration of the loop: a cancellation/limit check,
// an LLM call, and, if the response carries tool calls, their dispatch. It
// returns done=true once the task has a final Result.
func (e *Executor) step(ctx context.Context) (Result, bool, error) {
	if e.CancelFlag.Cancelled() {
		e.publish(wire.Message{Type: wire.StepInterrupted, Time: time.Now(), IsSubagent: e.IsSubagent, AgentName: e.AgentName, Reason: "session cancelled"})
		return Result{}, false, ErrRunCancelled
	}

	globalStep := e.Session.IncrementGlobalStep()
	if globalStep > e.Limits.MaxStepsPerRun {
		return Result{}, false, ErrMaxStepsReached
	}

	stepCtx, span := e.Tracer.Start(ctx, "executor.step", trace.WithAttributes(
		attribute.Int("step.global", globalStep),
		attribute.Bool("step.is_subagent", e.IsSubagent),
	))
	defer span.End()

	e.publish(wire.Message{Type: wire.StepBegin, Time: time.Now(), GlobalStep: globalStep, IsSubagent: e.IsSubagent, AgentName: e.AgentName})
	e.task.IncrementStep()
	e.Metrics.RecordStep(e.AgentName)

	var prep ctxmanager.Result
	if e.Manager != nil {
		var err error
		prep, err = e.Manager.PrepareStep(stepCtx, e.Context)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return Result{}, false, fmt.Errorf("%w: %v", ErrCompactionFailed, err)
		}
	}

	assistant, err := e.callLLM(stepCtx, prep.EphemeralSystemMessage)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		e.publish(wire.Message{Type: wire.StepInterrupted, Time: time.Now(), IsSubagent: e.IsSubagent, AgentName: e.AgentName, Reason: err.Error()})
		return Result{}, false, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	if err := e.Context.AppendMessage(assistant); err != nil {
		return Result{}, false, fmt.Errorf("%w: append assistant message: %v", ErrInternal, err)
	}

	if len(assistant.ToolCalls) == 0 {
		return e.finishOrContinue(assistant)
	}

	e.task.ResetNoToolCallCounter()
	if err := e.dispatchTools(stepCtx, assistant.ToolCalls); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{}, false, err
	}
	return Result{}, false, nil
}

// finishOrContinue implements step g. of the per-task algorithm: decide
// whether a tool-less step ends the task, forces an end, or should be
// followed by a nudge and another step.
func (e *Executor) finishOrContinue(assistant convo.Message) (Result, bool, error) {
	e.task.IncrementNoToolCallCounter()

	if e.task.ShouldForceComplete(e.Limits.MaxThinkingSteps) {
		return Result{Message: assistant, Steps: e.task.StepCount, Forced: true}, true, nil
	}
	if assistant.Text() != "" {
		return Result{Message: assistant, Steps: e.task.StepCount}, true, nil
	}

	nudge := convo.NewUserMessage(nudgeText)
	if err := e.Context.AppendMessage(nudge); err != nil {
		return Result{}, false, fmt.Errorf("%w: append nudge message: %v", ErrInternal, err)
	}
	return Result{}, false, nil
}

// callLLM opens a fresh stream (retrying transport errors per the
// accumulator's policy) and reduces it to one assistant Message.
func (e *Executor) callLLM(ctx context.Context, ephemeralSystem string) (convo.Message, error) {
	system := e.System
	if ephemeralSystem != "" {
		system = ephemeralSystem + "\n\n" + system
	}

	open := func(ctx context.Context) (llm.Stream, error) {
		return e.Provider.Stream(ctx, llm.Request{
			System:    system,
			Messages:  e.Context.Messages(),
			Tools:     toLLMToolSchemas(e.Tools.AsLLMTools(e.ToolWhitelist)),
			MaxTokens: e.MaxTokens,
			Model:     e.Model,
		})
	}

	acc := e.Accumulator
	if acc == nil {
		acc = streamproc.New(e.Bus, streamproc.DefaultRetryConfig())
	}
	result, err := acc.Run(ctx, open)
	if err != nil {
		return convo.Message{}, err
	}

	if result.Usage != nil {
		total := result.Usage.InputTokens + result.Usage.OutputTokens
		e.task.AddTokens(total)
		e.Context.UpdateTokenCount(total)
		e.Metrics.RecordTokens(total)
	} else {
		estimated := result.Message.EstimatedTokens()
		e.task.AddTokens(estimated)
		e.Metrics.RecordTokens(estimated)
	}

	return result.Message, nil
}

// toLLMToolSchemas adapts the toolkit registry's tool descriptions to the
// llm package's wire shape for a Request.
func toLLMToolSchemas(schemas []toolkit.LLMSchema) []llm.ToolSchema {
	out := make([]llm.ToolSchema, len(schemas))
	for i, s := range schemas {
		out[i] = llm.ToolSchema{Name: s.Name, Description: s.Description, Parameters: s.Parameters}
	}
	return out
}

func (e *Executor) publish(m wire.Message) {
	if e.Bus != nil {
		e.Bus.Send(m)
	}
}
