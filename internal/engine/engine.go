// Package engine implements the Engine façade: the single entry point a
// host (a CLI, a server) uses to run a task against one agent, check its
// status, or cancel it. Construction wires together every collaborator
// package in this module — convo, toolkit, approval, sandbox, compaction,
// ctxmanager, streamproc, and executor — behind one small API.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ghlggc/Jimi-sub000/internal/approval"
	"github.com/ghlggc/Jimi-sub000/internal/compaction"
	"github.com/ghlggc/Jimi-sub000/internal/convo"
	"github.com/ghlggc/Jimi-sub000/internal/ctxmanager"
	"github.com/ghlggc/Jimi-sub000/internal/executor"
	"github.com/ghlggc/Jimi-sub000/internal/jimilog"
	"github.com/ghlggc/Jimi-sub000/internal/llm"
	"github.com/ghlggc/Jimi-sub000/internal/mcpclient"
	"github.com/ghlggc/Jimi-sub000/internal/metrics"
	"github.com/ghlggc/Jimi-sub000/internal/sandbox"
	"github.com/ghlggc/Jimi-sub000/internal/state"
	"github.com/ghlggc/Jimi-sub000/internal/streamproc"
	"github.com/ghlggc/Jimi-sub000/internal/toolkit"
	"github.com/ghlggc/Jimi-sub000/internal/toolkit/builtin"
	"github.com/ghlggc/Jimi-sub000/internal/wire"
)

// Config bundles everything needed to construct an Engine. Only Provider
// is strictly required; every other field has a workable zero value for
// tests and simple embeddings.
type Config struct {
	SessionID       string
	WorkDir         string
	HistoryFilePath string // empty uses an in-memory Context (no durability)

	Provider  llm.Provider
	Model     string
	MaxTokens int

	// MaxContextSize is the model's total context window, used by Status
	// and by the compaction strategy's capacity argument.
	MaxContextSize int

	System        string
	ToolWhitelist []string
	AgentName     string
	IsSubagent    bool

	YOLO          bool
	SandboxPolicy sandbox.Policy

	// Gate, when non-nil, is shared instead of constructing a fresh one.
	// A sub-agent engine passes its parent's gate here so the whole session
	// answers approvals through a single gate.
	Gate *approval.Gate

	// CancelFlag, when non-nil, is the session-wide cancellation signal
	// shared across parent and sub-agent engines.
	CancelFlag *state.CancelFlag

	Summarizer                 compaction.Summarizer
	CompactionThresholdPercent int
	KnowledgeHook              ctxmanager.KnowledgeHook

	Bus    *wire.Bus
	Limits executor.Limits

	// Tools, when non-nil, is used as-is instead of a freshly built
	// registry of the fixed built-in set. A Task tool for sub-agent
	// delegation (internal/subagent) is the caller's responsibility to
	// register onto whichever registry ends up wired in.
	Tools *toolkit.Registry

	// ExternalTools, when non-empty, are connected at construction time
	// and their advertised tools registered alongside the built-in set.
	// A server that fails to connect is logged and skipped.
	ExternalTools []mcpclient.ServerConfig

	// Logger defaults to slog.Default() when nil; Engine attaches
	// session_id/agent_name correlation fields before handing it to the
	// Executor.
	Logger *slog.Logger
}

// Engine is one running (or runnable) agent: a Context, an Executor, and
// the shared collaborators a host needs to observe or cancel it.
type Engine struct {
	id      string
	workDir string
	model   string
	maxCtx  int

	context  *convo.Context
	bus      *wire.Bus
	gate     *approval.Gate
	session  *state.SessionState
	executor *executor.Executor
	tools    *toolkit.Registry
	metrics  *metrics.Collector
}

// New constructs an Engine from cfg.
func New(cfg Config) (*Engine, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("engine: no llm provider configured")
	}

	convoCtx, err := openContext(cfg.HistoryFilePath)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	bus := cfg.Bus
	if bus == nil {
		bus = wire.New()
	}

	gate := cfg.Gate
	if gate == nil {
		gate = approval.New(cfg.YOLO, bus)
	}
	cancelFlag := cfg.CancelFlag
	if cancelFlag == nil {
		cancelFlag = &state.CancelFlag{}
	}
	validator := sandbox.NewValidator()

	tools := cfg.Tools
	if tools == nil {
		tools = toolkit.NewRegistry(0)
		registerBuiltinTools(tools, builtin.Deps{Policy: cfg.SandboxPolicy, Validator: validator, Gate: gate}, bus)
	}
	if len(cfg.ExternalTools) > 0 {
		mcpclient.NewManager(cfg.Logger).ConnectAll(context.Background(), cfg.ExternalTools, tools)
	}

	var strategy compaction.Strategy
	if cfg.Summarizer != nil {
		strategy = compaction.New(cfg.CompactionThresholdPercent, cfg.Summarizer)
	}
	manager := ctxmanager.New(strategy, cfg.MaxContextSize, bus, cfg.KnowledgeHook)

	session := &state.SessionState{}
	session.InitializeSession()

	acc := streamproc.New(bus, streamproc.DefaultRetryConfig())
	collector := metrics.New()
	logger := jimilog.WithSession(cfg.Logger, cfg.SessionID, "", cfg.AgentName)

	ex := executor.New(executor.Config{
		Context:       convoCtx,
		Manager:       manager,
		Accumulator:   acc,
		Provider:      cfg.Provider,
		Tools:         tools,
		Session:       session,
		Bus:           bus,
		Limits:        cfg.Limits,
		CancelFlag:    cancelFlag,
		System:        cfg.System,
		Model:         cfg.Model,
		MaxTokens:     cfg.MaxTokens,
		ToolWhitelist: cfg.ToolWhitelist,
		AgentName:     cfg.AgentName,
		IsSubagent:    cfg.IsSubagent,
		Metrics:       collector,
		Logger:        logger,
	})

	return &Engine{
		id:       cfg.SessionID,
		workDir:  cfg.WorkDir,
		model:    cfg.Model,
		maxCtx:   cfg.MaxContextSize,
		context:  convoCtx,
		bus:      bus,
		gate:     gate,
		session:  session,
		executor: ex,
		tools:    tools,
		metrics:  collector,
	}, nil
}

func openContext(historyFilePath string) (*convo.Context, error) {
	if historyFilePath == "" {
		return convo.OpenInMemory(), nil
	}
	return convo.Open(historyFilePath)
}

func registerBuiltinTools(registry *toolkit.Registry, deps builtin.Deps, bus *wire.Bus) {
	registry.Register(&builtin.ReadFileTool{Deps: deps})
	registry.Register(&builtin.WriteFileTool{Deps: deps})
	registry.Register(&builtin.PatchFileTool{Deps: deps})
	registry.Register(&builtin.DeleteFileTool{Deps: deps})
	registry.Register(&builtin.ShellTool{Deps: deps})
	registry.Register(&builtin.WebFetchTool{Deps: deps})
	registry.Register(&builtin.WebSearchTool{Deps: deps})
	registry.Register(builtin.ThinkTool{})
	registry.Register(&builtin.TodoTool{Bus: bus})
}

// Run executes one task to completion (or to a fatal error).
func (e *Engine) Run(ctx context.Context, input string) (executor.Result, error) {
	return e.executor.Run(ctx, input)
}

// Cancel marks the running (or next) task cancelled, and rejects every
// currently-pending or future approval request so tool calls waiting on a
// human don't hang forever.
func (e *Engine) Cancel() {
	e.executor.Cancel()
	e.gate.Cancel()
}

// Bus returns the Wire bus subscribers observe this engine's events on.
func (e *Engine) Bus() *wire.Bus { return e.bus }

// Gate returns the approval gate this engine's tools request against.
func (e *Engine) Gate() *approval.Gate { return e.gate }

// Tools returns the tool registry this engine dispatches against, so a
// caller can register additional tools (e.g. a Task tool bound to this
// engine) before the first Run.
func (e *Engine) Tools() *toolkit.Registry { return e.tools }

// Context returns the underlying conversation context.
func (e *Engine) Context() *convo.Context { return e.context }

// Metrics returns this Engine's prometheus collector, so a host can mount
// its Registry behind an HTTP handler.
func (e *Engine) Metrics() *metrics.Collector { return e.metrics }

// Status reports the Engine's current resource usage.
type Status struct {
	MessageCount    int
	TokenCount      int
	CheckpointCount int
	Model           string
	MaxContextSize  int
	ReservedTokens  int
	AvailableTokens int
	UsagePercent    float64
}

// Status computes a point-in-time resource usage snapshot.
func (e *Engine) Status() Status {
	tokenCount := e.context.TokenCount()
	usable := e.maxCtx - compaction.Reserve
	available := usable - tokenCount
	if available < 0 {
		available = 0
	}
	var usagePercent float64
	if usable > 0 {
		usagePercent = float64(tokenCount) / float64(usable) * 100
	}

	return Status{
		MessageCount:    e.context.MessageCount(),
		TokenCount:      tokenCount,
		CheckpointCount: e.context.CheckpointCount(),
		Model:           e.model,
		MaxContextSize:  e.maxCtx,
		ReservedTokens:  compaction.Reserve,
		AvailableTokens: available,
		UsagePercent:    usagePercent,
	}
}
