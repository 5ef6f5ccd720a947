package engine

import "errors"

var (
	ErrDisabled  = errors.New("task engine disabled")
	ErrStopped   = errors.New("task engine stopped")
	ErrStopping  = errors.New("task engine stopping")
	ErrQueueFull = errors.New("task engine queue full")
	// ErrOverlapSkip is returned when an exclusive task is still queued or
	// running, typically a watch whose previous probe has not finished.
	ErrOverlapSkip = errors.New("task skipped: previous run still in flight")
	// ErrPanic wraps a value recovered from a task.
	ErrPanic = errors.New("task panicked")
)
