// Package ctxmanager performs the executor's pre-step housekeeping: a
// compaction check, a checkpoint, and an optional knowledge/skill injection
// hook, in that order.
package ctxmanager

import (
	"context"

	"github.com/ghlggc/Jimi-sub000/internal/compaction"
	"github.com/ghlggc/Jimi-sub000/internal/convo"
	"github.com/ghlggc/Jimi-sub000/internal/wire"
)

// KnowledgeHook produces additional system-level guidance for the upcoming
// LLM call only; its result is never appended to the persisted Context.
type KnowledgeHook func(ctx context.Context, c *convo.Context) (string, error)

// Manager composes one step's pre-flight housekeeping.
type Manager struct {
	Strategy compaction.Strategy
	Capacity int
	Bus      *wire.Bus
	Hook     KnowledgeHook
}

// New creates a Manager. strategy and bus may both be non-nil in normal
// operation; hook may be nil if no knowledge injection is configured.
func New(strategy compaction.Strategy, capacity int, bus *wire.Bus, hook KnowledgeHook) *Manager {
	return &Manager{Strategy: strategy, Capacity: capacity, Bus: bus, Hook: hook}
}

// Result carries the per-step ephemeral system guidance produced by the
// knowledge hook, if any, and the checkpoint recorded for this step.
type Result struct {
	EphemeralSystemMessage string
	CheckpointID           int
}

// PrepareStep runs compaction-check, checkpoint, and the knowledge hook, in
// that order, per the Context Manager's pre-step contract.
func (m *Manager) PrepareStep(ctx context.Context, c *convo.Context) (Result, error) {
	if m.Strategy != nil {
		if err := m.Strategy.Compact(ctx, c, m.Capacity, m.Bus); err != nil {
			return Result{}, err
		}
	}

	// force=false: a step that begins at an unchanged length (e.g. the very
	// first step, right after the user turn was checkpointed) reuses the
	// existing checkpoint instead of minting a duplicate.
	checkpointID := c.Checkpoint(false)

	var ephemeral string
	if m.Hook != nil {
		s, err := m.Hook(ctx, c)
		if err != nil {
			return Result{}, err
		}
		ephemeral = s
	}

	return Result{EphemeralSystemMessage: ephemeral, CheckpointID: checkpointID}, nil
}
