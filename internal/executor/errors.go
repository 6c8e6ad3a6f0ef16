package executor

import "errors"

// Failure taxonomy surfaced to the Engine façade.
var (
	ErrLLMNotSet         = errors.New("executor: no llm provider configured")
	ErrMaxStepsReached   = errors.New("executor: max steps per run reached")
	ErrRunCancelled      = errors.New("executor: run cancelled")
	ErrCompactionFailed  = errors.New("executor: compaction failed")
	ErrToolDispatchFailed = errors.New("executor: tool dispatch failed")
	ErrInternal          = errors.New("executor: internal error")
)
