// Package workerpool provides a fixed-size worker pool for short,
// independent units of work. A small set of long-lived workers drains one
// shared FIFO queue, avoiding per-task goroutine creation and the lock
// gymnastics that come with per-worker sub-queues.
//
// Workers block on a condition variable while the queue is empty, so an
// idle pool consumes no CPU. Submission is fire-and-forget: tasks are
// zero-argument functions whose error return is consumed by the pool and
// reported through Config.ErrorHandler, never propagated to the submitter.
//
// # Basic Usage
//
//	pool, err := workerpool.New(workerpool.Config{
//	    Workers:         4,
//	    ShutdownTimeout: 5 * time.Second,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Stop()
//
//	err = pool.Submit(func() error {
//	    // Do work
//	    return nil
//	})
//
// Stop signals every worker, lets them drain the tasks already queued and
// blocks until all of them have exited. Submitting after Stop returns
// ErrPoolClosed; tasks are never silently dropped while the pool is
// running.
//
// # Extensions
//
// The subpackages add optional production machinery: resilience (retry
// policies, circuit breaker), persistence (durable queues and a dead
// letter queue over memory, Redis or Postgres), observability (health
// probes), dashboard (ops HTTP API with live stats over WebSocket) and
// cost (per-label execution cost accounting). All of them are wired
// through Config and stay out of the way when unset.
package workerpool
