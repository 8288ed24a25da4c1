package workerpool

import (
	"runtime"
	"time"

	"github.com/savegress/taskpool/pkg/workerpool/cost"
	"github.com/savegress/taskpool/pkg/workerpool/persistence"
	"github.com/savegress/taskpool/pkg/workerpool/resilience"
)

// Config holds pool configuration. Workers is the only required field.
type Config struct {
	// Workers is the fixed number of worker goroutines. Must be >= 1;
	// the pool never resizes after construction.
	Workers int

	// QueueSize bounds the pending-task queue. Zero means unbounded, in
	// which case Submit never returns ErrQueueFull.
	QueueSize int

	// ShutdownTimeout caps how long Stop waits for workers to drain.
	// Zero means wait indefinitely.
	ShutdownTimeout time.Duration

	// ErrorHandler receives a *TaskError for every task failure or
	// recovered panic. Called from worker goroutines; must be safe for
	// concurrent use. Nil discards failures.
	ErrorHandler func(error)

	// Retry, when set, re-runs failing tasks with backoff before they
	// count as failed.
	Retry *resilience.Policy

	// Breaker, when set, routes every task through a circuit breaker so
	// a failing downstream stops burning workers.
	Breaker *resilience.BreakerConfig

	// DLQ, when set, captures tasks that still fail after retries,
	// recovered panics included.
	DLQ *persistence.DeadLetterQueue

	// CostTracker, when set, accumulates per-label execution cost.
	CostTracker *cost.Tracker
}

// Validate checks the configuration. A zero or negative worker count is a
// construction error, not a value to be defaulted away.
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return ErrNoWorkers
	}
	if c.QueueSize < 0 {
		return ErrInvalidQueueSize
	}
	return nil
}

// DefaultConfig returns a configuration sized to the host:
// one worker per CPU, unbounded queue, 30s shutdown timeout.
func DefaultConfig() Config {
	return Config{
		Workers:         runtime.NumCPU(),
		ShutdownTimeout: 30 * time.Second,
	}
}
