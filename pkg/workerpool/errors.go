package workerpool

import (
	"errors"
	"fmt"
)

var (
	// ErrNoWorkers is returned when a pool is constructed with fewer than one worker.
	ErrNoWorkers = errors.New("workerpool: worker count must be at least 1")
	// ErrInvalidQueueSize is returned for a negative queue capacity.
	ErrInvalidQueueSize = errors.New("workerpool: queue size must not be negative")
	// ErrPoolClosed is returned when submitting after shutdown has begun.
	ErrPoolClosed = errors.New("workerpool: pool is closed")
	// ErrQueueFull is returned when a bounded queue is at capacity.
	ErrQueueFull = errors.New("workerpool: task queue is full")
	// ErrForcedShutdown is returned when workers did not drain within ShutdownTimeout.
	ErrForcedShutdown = errors.New("workerpool: shutdown timeout exceeded")
)

// TaskError reports the failure of a single task. It carries the stack
// trace when the failure was a recovered panic.
type TaskError struct {
	TaskID string
	Label  string
	Err    error
	Stack  string
}

func (e *TaskError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("task %s (%s): %v", e.TaskID, e.Label, e.Err)
	}
	return fmt.Sprintf("task %s: %v", e.TaskID, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}
