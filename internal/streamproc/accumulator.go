// Package streamproc reduces an incremental LLM stream into a completed
// assistant Message, republishing deltas on the Wire as they arrive and
// retrying transient stream transport errors with exponential backoff.
package streamproc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ghlggc/Jimi-sub000/internal/backoff"
	"github.com/ghlggc/Jimi-sub000/internal/convo"
	"github.com/ghlggc/Jimi-sub000/internal/llm"
	"github.com/ghlggc/Jimi-sub000/internal/wire"
)

// RetryConfig bounds the retries applied to transient stream transport
// errors within a single step. MaxAttempts counts additional attempts after
// the first; zero means DefaultRetryConfig's attempt count is used.
type RetryConfig struct {
	MaxAttempts int
	Policy      backoff.Policy
}

// DefaultRetryConfig allows a handful of attempts, starting small, capped
// low enough to stay within a single step's latency budget.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 4, Policy: backoff.StreamRetryPolicy()}
}

func (r RetryConfig) policy() backoff.Policy {
	if r.Policy == (backoff.Policy{}) {
		return backoff.StreamRetryPolicy()
	}
	return r.Policy
}

// ErrStreamExhausted is returned when retries are exhausted without a
// successful Finish chunk.
var ErrStreamExhausted = errors.New("llm stream retries exhausted")

// Result is the outcome of accumulating one LLM call into a Message.
type Result struct {
	Message      convo.Message
	FinishReason string
	Usage        *llm.Usage
}

// mergedToolCall tracks in-progress tool-call deltas, keyed by id and kept
// in first-seen order so ties resolve in the order the model emitted them.
type mergedToolCall struct {
	id       string
	name     string
	argsBuf  string
}

// Accumulator consumes Chunks from a sequence of Stream attempts (retrying
// on transient transport error) and produces a single assistant Message.
type Accumulator struct {
	bus    *wire.Bus
	retry  RetryConfig
}

// New creates an Accumulator publishing deltas on bus (which may be nil)
// using the given retry policy.
func New(bus *wire.Bus, retry RetryConfig) *Accumulator {
	return &Accumulator{bus: bus, retry: retry}
}

// Run opens a stream via open, consumes it to completion, and returns the
// resulting Message. If the stream ends (transport error, including
// context deadline propagated by the provider) before a Finish chunk is
// seen, Run reopens a fresh stream via open and continues accumulating
// into the same buffers — only the in-progress stream is restarted, not
// the whole step. Accumulation state resets once per Run call, not once
// per retry.
func (a *Accumulator) Run(ctx context.Context, open func(ctx context.Context) (llm.Stream, error)) (Result, error) {
	var contentBuf, reasoningBuf string
	var order []string
	merged := make(map[string]*mergedToolCall)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}

		stream, err := open(ctx)
		if err != nil {
			if !a.shouldRetry(attempt) {
				return Result{}, fmt.Errorf("open llm stream: %w", err)
			}
			a.wait(ctx, attempt)
			attempt++
			continue
		}

		result, finished, streamErr := a.consume(ctx, stream, &contentBuf, &reasoningBuf, merged, &order)
		stream.Close()

		if finished {
			return result, nil
		}
		if streamErr == nil {
			// Stream ended cleanly without a Finish chunk: treat as done
			// with whatever was accumulated, matching a provider that
			// closes the stream instead of emitting an explicit Finish.
			return a.finalize(contentBuf, reasoningBuf, merged, order, "", nil), nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if !a.shouldRetry(attempt) {
			return Result{}, fmt.Errorf("%w: %v", ErrStreamExhausted, streamErr)
		}
		a.wait(ctx, attempt)
		attempt++
	}
}

func (a *Accumulator) shouldRetry(attempt int) bool {
	max := a.retry.MaxAttempts
	if max <= 0 {
		max = DefaultRetryConfig().MaxAttempts
	}
	return attempt < max
}

func (a *Accumulator) wait(ctx context.Context, attempt int) {
	// attempt+1 since backoff.Compute is 1-indexed and our attempt counter
	// starts at 0.
	_ = backoff.SleepFor(ctx, a.retry.policy(), attempt+1)
}

// consume drains one Stream attempt into the shared accumulation buffers.
// It returns (result, true, nil) if a Finish chunk was observed, or
// (zero, false, err) if the stream ended first (err is nil for a clean
// close with no Finish, which Next reports as io.EOF).
func (a *Accumulator) consume(
	ctx context.Context,
	stream llm.Stream,
	contentBuf, reasoningBuf *string,
	merged map[string]*mergedToolCall,
	order *[]string,
) (Result, bool, error) {
	for {
		chunk, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return Result{}, false, nil
		}
		if err != nil {
			return Result{}, false, err
		}

		switch chunk.Kind {
		case llm.ContentDelta:
			*contentBuf += chunk.Text
			a.publish(wire.Message{Type: wire.ContentPartDelta, Time: time.Now(), Delta: chunk.Text})
		case llm.ReasoningDelta:
			*reasoningBuf += chunk.Text
			a.publish(wire.Message{Type: wire.ReasoningDelta, Time: time.Now(), Delta: chunk.Text})
		case llm.ToolCallDelta:
			tc, ok := merged[chunk.ToolCallID]
			if !ok {
				tc = &mergedToolCall{id: chunk.ToolCallID}
				merged[chunk.ToolCallID] = tc
				*order = append(*order, chunk.ToolCallID)
			}
			if tc.name == "" && chunk.NameDelta != "" {
				tc.name = chunk.NameDelta
			}
			tc.argsBuf += chunk.ArgsDelta
		case llm.Finish:
			return a.finalize(*contentBuf, *reasoningBuf, merged, *order, chunk.FinishReason, chunk.Usage), true, nil
		}
	}
}

func (a *Accumulator) finalize(
	contentBuf, reasoningBuf string,
	merged map[string]*mergedToolCall,
	order []string,
	finishReason string,
	usage *llm.Usage,
) Result {
	msg := convo.Message{
		Role:      convo.RoleAssistant,
		Reasoning: reasoningBuf,
	}
	if contentBuf != "" {
		msg.Content = []convo.Part{{Kind: convo.PartText, Text: contentBuf}}
	}
	for _, id := range order {
		tc := merged[id]
		msg.ToolCalls = append(msg.ToolCalls, convo.ToolCall{
			ID:       tc.id,
			Name:     tc.name,
			ArgsJSON: tc.argsBuf,
		})
	}
	return Result{Message: msg, FinishReason: finishReason, Usage: usage}
}

func (a *Accumulator) publish(m wire.Message) {
	if a.bus != nil {
		a.bus.Send(m)
	}
}
