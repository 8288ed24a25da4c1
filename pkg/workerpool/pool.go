package workerpool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/savegress/taskpool/pkg/workerpool/persistence"
	"github.com/savegress/taskpool/pkg/workerpool/resilience"
)

// Pool manages a fixed set of worker goroutines that drain a shared task
// queue. Workers block on the queue's condition variable while idle; an
// idle pool consumes no CPU.
type Pool struct {
	config  Config
	queue   *taskQueue
	breaker *resilience.CircuitBreaker

	wg     sync.WaitGroup // worker goroutines
	taskWG sync.WaitGroup // queued + in-flight tasks, for Wait
	once   sync.Once      // single shutdown
	closed atomic.Bool

	stats *statsCollector
}

// New creates a pool and immediately spawns config.Workers workers.
//
// Example:
//
//	pool, err := workerpool.New(workerpool.Config{
//	    Workers:         4,
//	    ShutdownTimeout: 5 * time.Second,
//	})
func New(config Config) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		config: config,
		queue:  newTaskQueue(config.QueueSize),
		stats:  newStatsCollector(),
	}
	if config.Breaker != nil {
		p.breaker = resilience.NewCircuitBreaker(*config.Breaker)
	}

	for i := 0; i < config.Workers; i++ {
		p.wg.Add(1)
		p.stats.incActiveWorkers()
		go p.worker()
	}

	return p, nil
}

// NewDefault creates a pool with DefaultConfig.
func NewDefault() *Pool {
	p, _ := New(DefaultConfig())
	return p
}

// worker is the loop every worker goroutine runs. It blocks in popBlocking
// while the queue is empty and exits once the queue reports stop + drained.
func (p *Pool) worker() {
	defer func() {
		p.stats.decActiveWorkers()
		p.wg.Done()
	}()

	for {
		task, ok := p.queue.popBlocking()
		if !ok {
			return
		}
		p.execute(task)
	}
}

// execute runs one task with panic recovery. A failing or panicking task is
// reported and the worker keeps running; one bad task must never shrink the
// pool.
func (p *Pool) execute(task *Task) {
	defer p.taskWG.Done()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			p.stats.recordFailure()
			p.reportError(&TaskError{
				TaskID: task.ID,
				Label:  task.Label,
				Err:    err,
				Stack:  string(debug.Stack()),
			})
			p.deadLetter(task, err)
		}
		p.stats.recordCompletion(time.Since(start))
		if p.config.CostTracker != nil {
			p.config.CostTracker.Record(task.Label, time.Since(start))
		}
	}()

	if err := p.runTask(task); err != nil {
		p.stats.recordFailure()
		p.reportError(&TaskError{TaskID: task.ID, Label: task.Label, Err: err})
		p.deadLetter(task, err)
	}
}

// runTask applies the configured breaker and retry policy around the task body.
func (p *Pool) runTask(task *Task) error {
	run := task.Fn
	if p.breaker != nil {
		inner := run
		run = func() error { return p.breaker.Call(inner) }
	}
	if p.config.Retry != nil {
		return resilience.Retry(context.Background(), *p.config.Retry, run)
	}
	return run()
}

func (p *Pool) reportError(err *TaskError) {
	if p.config.ErrorHandler != nil {
		p.config.ErrorHandler(err)
	}
}

func (p *Pool) deadLetter(task *Task, cause error) {
	if p.config.DLQ == nil {
		return
	}
	entry := &persistence.Entry{
		TaskID:       task.ID,
		Label:        task.Label,
		FailedAt:     time.Now(),
		FailureCount: 1,
		Errors:       []string{cause.Error()},
	}
	if err := p.config.DLQ.Push(context.Background(), entry); err != nil {
		p.reportError(&TaskError{
			TaskID: task.ID,
			Label:  task.Label,
			Err:    fmt.Errorf("dead letter push: %w", err),
		})
	}
}

// Submit enqueues a task and returns immediately; execution is
// fire-and-forget. The task runs exactly once, at some future time, on some
// worker, in FIFO start order relative to other submissions. Returns
// ErrPoolClosed once shutdown has begun and ErrQueueFull when a bounded
// queue is at capacity.
func (p *Pool) Submit(fn func() error) error {
	return p.SubmitLabeled("", fn)
}

// SubmitLabeled is Submit with a grouping label used by the cost tracker
// and in error reports.
func (p *Pool) SubmitLabeled(label string, fn func() error) error {
	if p.closed.Load() {
		p.stats.recordRejection()
		return ErrPoolClosed
	}

	task := newTask(label, fn)
	p.taskWG.Add(1)
	if err := p.queue.push(task); err != nil {
		p.taskWG.Done()
		p.stats.recordRejection()
		return err
	}
	return nil
}

// Stop shuts the pool down: no new tasks are accepted, every task already
// queued runs to completion, and Stop blocks until all workers have exited.
// A task that is mid-flight is never interrupted. Safe to call more than
// once; later calls return nil. Returns ErrForcedShutdown if workers did
// not drain within ShutdownTimeout.
func (p *Pool) Stop() error {
	return p.StopContext(context.Background())
}

// StopContext is Stop bounded by ctx in addition to ShutdownTimeout.
func (p *Pool) StopContext(ctx context.Context) error {
	var shutdownErr error

	p.once.Do(func() {
		p.closed.Store(true)
		p.queue.signalStop()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		var timeout <-chan time.Time
		if p.config.ShutdownTimeout > 0 {
			timer := time.NewTimer(p.config.ShutdownTimeout)
			defer timer.Stop()
			timeout = timer.C
		}

		select {
		case <-done:
		case <-ctx.Done():
			shutdownErr = fmt.Errorf("workerpool: shutdown cancelled: %w", ctx.Err())
		case <-timeout:
			shutdownErr = ErrForcedShutdown
		}
	})

	return shutdownErr
}

// IsClosed reports whether shutdown has begun.
func (p *Pool) IsClosed() bool {
	return p.closed.Load()
}

// Wait blocks until every submitted task has completed. Unlike Stop it does
// not prevent further submission.
func (p *Pool) Wait() {
	p.taskWG.Wait()
}

// Stats returns a snapshot of pool statistics. Safe for concurrent use.
func (p *Pool) Stats() Stats {
	return p.stats.snapshot(p.queue.len())
}

// BreakerState returns the circuit breaker state, or an empty string when
// no breaker is configured.
func (p *Pool) BreakerState() resilience.BreakerState {
	if p.breaker == nil {
		return ""
	}
	return p.breaker.State()
}

// BreakerMetrics returns a snapshot of the circuit breaker counters.
// ok is false when no breaker is configured.
func (p *Pool) BreakerMetrics() (m resilience.BreakerMetrics, ok bool) {
	if p.breaker == nil {
		return resilience.BreakerMetrics{}, false
	}
	return p.breaker.Metrics(), true
}
