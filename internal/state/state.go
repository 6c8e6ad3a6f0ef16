// Package state holds the in-memory counters and stacks that drive the
// executor's step loop and sub-agent recursion, separate from the durable
// conversation log in internal/convo.
package state

import (
	"fmt"
	"sync/atomic"
	"time"
)

// CancelFlag is the single session-wide cancellation signal. One flag is
// shared by an engine and every sub-agent engine it spawns, so cancelling
// the session cancels children transitively.
type CancelFlag struct {
	v atomic.Bool
}

// Cancel sets the flag. Irreversible for the life of the session.
func (f *CancelFlag) Cancel() {
	f.v.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (f *CancelFlag) Cancelled() bool {
	return f.v.Load()
}

// TaskState tracks counters scoped to a single run of the executor loop.
type TaskState struct {
	StartTime            time.Time
	UserQuery            string
	StepCount            int
	TokensConsumed       int
	ConsecutiveNoToolCall int
	ToolsUsed            []string
	ModifiedFiles        []string
}

// InitializeTask resets t to the start of a new task.
func (t *TaskState) InitializeTask(userQuery string) {
	*t = TaskState{StartTime: time.Now(), UserQuery: userQuery}
}

// IncrementStep bumps the step counter and returns the new value.
func (t *TaskState) IncrementStep() int {
	t.StepCount++
	return t.StepCount
}

// AddTokens adds n to TokensConsumed.
func (t *TaskState) AddTokens(n int) {
	t.TokensConsumed += n
}

// RecordToolUsed appends name to ToolsUsed and, if path is non-empty, path
// to ModifiedFiles.
func (t *TaskState) RecordToolUsed(name, modifiedPath string) {
	t.ToolsUsed = append(t.ToolsUsed, name)
	if modifiedPath != "" {
		t.ModifiedFiles = append(t.ModifiedFiles, modifiedPath)
	}
}

// ResetNoToolCallCounter zeroes ConsecutiveNoToolCall, called whenever a
// step produces at least one tool call.
func (t *TaskState) ResetNoToolCallCounter() {
	t.ConsecutiveNoToolCall = 0
}

// IncrementNoToolCallCounter bumps ConsecutiveNoToolCall and returns the new
// value, called whenever a step produces no tool calls.
func (t *TaskState) IncrementNoToolCallCounter() int {
	t.ConsecutiveNoToolCall++
	return t.ConsecutiveNoToolCall
}

// ShouldForceComplete reports whether the task has stalled long enough
// (maxThinkingSteps consecutive tool-less steps) that the executor should
// force a finish rather than loop further.
func (t *TaskState) ShouldForceComplete(maxThinkingSteps int) bool {
	return maxThinkingSteps > 0 && t.ConsecutiveNoToolCall >= maxThinkingSteps
}

// TaskStatus is the terminal state recorded for one task in the session's
// history.
type TaskStatus string

const (
	TaskSucceeded TaskStatus = "success"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// TaskRecord is one entry in the session's task history.
type TaskRecord struct {
	Query     string
	Status    TaskStatus
	Steps     int
	Tokens    int
	StartTime time.Time
	EndTime   time.Time
}

// SessionState tracks counters scoped to the lifetime of an engine, across
// every task it runs.
type SessionState struct {
	StartTime       time.Time
	FilesModified   []string
	KeyDecisions    []string
	LessonsLearned  []string
	TaskHistory     []TaskRecord
	TasksCompleted  int
	GlobalStepCount int
}

// InitializeSession resets s to a freshly constructed engine.
func (s *SessionState) InitializeSession() {
	*s = SessionState{StartTime: time.Now()}
}

// IncrementGlobalStep bumps the session-wide step counter shared across
// every task the engine runs, and returns the new value.
func (s *SessionState) IncrementGlobalStep() int {
	s.GlobalStepCount++
	return s.GlobalStepCount
}

// RecordTask folds a finished task's results into the session's history.
// TasksCompleted counts successful tasks only; a cancelled task is recorded
// but not counted as a failure or a completion.
func (s *SessionState) RecordTask(t *TaskState, status TaskStatus) {
	s.TaskHistory = append(s.TaskHistory, TaskRecord{
		Query:     t.UserQuery,
		Status:    status,
		Steps:     t.StepCount,
		Tokens:    t.TokensConsumed,
		StartTime: t.StartTime,
		EndTime:   time.Now(),
	})
	if status == TaskSucceeded {
		s.TasksCompleted++
		s.FilesModified = append(s.FilesModified, t.ModifiedFiles...)
	}
}

// ParentContext is a stack frame pushed when the executor dispatches a
// recursive sub-agent tool call, so the parent can later restore exactly
// where it left off.
type ParentContext struct {
	CheckpointID    int
	LastThought     string // truncated to 200 chars
	DepthBeforePush int
	SubGoal         string
	PushedAt        time.Time
}

const maxThoughtSnippetLen = 200

// NewParentContext builds a ParentContext, truncating lastThought to the
// snippet length invariant.
func NewParentContext(checkpointID int, lastThought string, depthBeforePush int, subGoal string) ParentContext {
	if len(lastThought) > maxThoughtSnippetLen {
		lastThought = lastThought[:maxThoughtSnippetLen]
	}
	return ParentContext{
		CheckpointID:    checkpointID,
		LastThought:     lastThought,
		DepthBeforePush: depthBeforePush,
		SubGoal:         subGoal,
		PushedAt:        time.Now(),
	}
}

// ErrMaxRecursionDepth is returned by Push when depth already sits at the
// configured maximum.
var ErrMaxRecursionDepth = fmt.Errorf("maximum sub-agent recursion depth reached")

// ParentStack is the per-session stack of ParentContext frames, one per
// currently-active sub-agent recursion level.
type ParentStack struct {
	frames []ParentContext
	max    int
}

// NewParentStack creates a stack allowing up to maxDepth simultaneous
// recursion levels.
func NewParentStack(maxDepth int) *ParentStack {
	return &ParentStack{max: maxDepth}
}

// Depth returns the current recursion depth (number of pushed frames).
func (p *ParentStack) Depth() int {
	return len(p.frames)
}

// Push adds a frame, failing with ErrMaxRecursionDepth if the configured
// maximum would be exceeded.
func (p *ParentStack) Push(frame ParentContext) error {
	if p.max > 0 && len(p.frames) >= p.max {
		return ErrMaxRecursionDepth
	}
	p.frames = append(p.frames, frame)
	return nil
}

// Pop removes and returns the top frame. ok is false if the stack is empty.
func (p *ParentStack) Pop() (frame ParentContext, ok bool) {
	if len(p.frames) == 0 {
		return ParentContext{}, false
	}
	last := len(p.frames) - 1
	frame = p.frames[last]
	p.frames = p.frames[:last]
	return frame, true
}

// Peek returns the top frame without removing it.
func (p *ParentStack) Peek() (frame ParentContext, ok bool) {
	if len(p.frames) == 0 {
		return ParentContext{}, false
	}
	return p.frames[len(p.frames)-1], true
}
