// Package compaction implements the strategy that keeps a Context's token
// count under a model's capacity by replacing an older message prefix with a
// summary, preserving every tool-call/tool-result pairing that crosses the
// cut boundary.
package compaction

import (
	"context"
	"fmt"
	"time"

	"github.com/ghlggc/Jimi-sub000/internal/convo"
	"github.com/ghlggc/Jimi-sub000/internal/wire"
)

// Reserve is the token budget left unused for the model's response.
const Reserve = 2048

// DefaultThresholdPercent is the context-usage percentage (0-100) at which
// compaction triggers.
const DefaultThresholdPercent = 75

// Summarizer produces a natural-language summary of the messages being
// dropped. Callers typically implement this with an LLM call; a
// deterministic stand-in is useful in tests.
type Summarizer interface {
	Summarize(ctx context.Context, dropped []convo.Message) (string, error)
}

// Strategy decides whether a Context needs compaction and performs it.
type Strategy interface {
	// Check returns true if tokenCount/capacity exceeds the configured
	// threshold (leaving Reserve tokens of headroom).
	Check(tokenCount, capacity int) bool

	// Compact replaces the prefix of c's message log up to (but not
	// including) the latest user turn with a summary message, publishing
	// compaction_begin/compaction_end on bus. It is a no-op if Check would
	// return false for c's current token count and capacity.
	Compact(ctx context.Context, c *convo.Context, capacity int, bus *wire.Bus) error
}

// Default is the standard strategy: threshold-triggered, summarizer-driven,
// checkpointing at the boundary.
type Default struct {
	ThresholdPercent int
	Summarizer       Summarizer
}

// New creates a Default strategy. thresholdPercent <= 0 uses
// DefaultThresholdPercent.
func New(thresholdPercent int, summarizer Summarizer) *Default {
	if thresholdPercent <= 0 {
		thresholdPercent = DefaultThresholdPercent
	}
	return &Default{ThresholdPercent: thresholdPercent, Summarizer: summarizer}
}

func (d *Default) Check(tokenCount, capacity int) bool {
	if capacity <= 0 {
		return false
	}
	usable := capacity - Reserve
	if usable <= 0 {
		return tokenCount > 0
	}
	usagePercent := (tokenCount * 100) / usable
	return usagePercent >= d.ThresholdPercent
}

// ErrCompactionFailed wraps any error produced while summarizing or
// rewriting history during Compact.
var ErrCompactionFailed = fmt.Errorf("compaction failed")

func (d *Default) Compact(ctx context.Context, c *convo.Context, capacity int, bus *wire.Bus) error {
	if !d.Check(c.TokenCount(), capacity) {
		return nil
	}

	msgs := c.Messages()
	cut := findCutIndex(msgs)
	if cut <= 0 {
		// Nothing safe to drop (e.g. a single active turn already exceeds
		// budget); leave the Context untouched rather than summarizing
		// nothing.
		return nil
	}

	dropped := msgs[:cut]

	if bus != nil {
		bus.Send(wire.Message{Type: wire.CompactionBegin, Time: time.Now(), DroppedMessages: len(dropped)})
	}

	summaryText, err := d.Summarizer.Summarize(ctx, dropped)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCompactionFailed, err)
	}

	summary := convo.NewSystemMessage(summaryText)
	newTokenCount := summary.EstimatedTokens()
	for _, m := range msgs[cut:] {
		newTokenCount += m.EstimatedTokens()
	}
	if _, err := c.ReplacePrefix(cut, []convo.Message{summary}, newTokenCount); err != nil {
		return fmt.Errorf("%w: %v", ErrCompactionFailed, err)
	}

	if bus != nil {
		bus.Send(wire.Message{Type: wire.CompactionEnd, Time: time.Now(), DroppedMessages: len(dropped)})
	}
	return nil
}

// findCutIndex locates the start of the active tail: the latest user-role
// message, pulled back far enough that no tool-call/tool-result pair is
// split across the cut. Everything before the returned index is eligible
// for summarization.
func findCutIndex(msgs []convo.Message) int {
	lastUser := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == convo.RoleUser {
			lastUser = i
			break
		}
	}
	if lastUser <= 0 {
		return 0
	}

	cut := lastUser
	openToolCalls := make(map[string]bool)
	for i := 0; i < cut; i++ {
		for _, tc := range msgs[i].ToolCalls {
			openToolCalls[tc.ID] = true
		}
		if msgs[i].Role == convo.RoleTool {
			delete(openToolCalls, msgs[i].ToolCallID)
		}
	}
	// Any tool call opened before cut but not yet closed would be split;
	// pull the cut back to before the assistant message that opened it.
	for len(openToolCalls) > 0 && cut > 0 {
		cut--
		for _, tc := range msgs[cut].ToolCalls {
			delete(openToolCalls, tc.ID)
		}
	}
	return cut
}
