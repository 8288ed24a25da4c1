package workerpool

import (
	"context"
	"errors"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/savegress/taskpool/pkg/workerpool/persistence"
)

func TestPool_Creation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{
			name:   "valid config",
			config: Config{Workers: 4, ShutdownTimeout: 5 * time.Second},
		},
		{
			name:    "zero workers",
			config:  Config{Workers: 0},
			wantErr: ErrNoWorkers,
		},
		{
			name:    "negative workers",
			config:  Config{Workers: -1},
			wantErr: ErrNoWorkers,
		},
		{
			name:    "negative queue size",
			config:  Config{Workers: 4, QueueSize: -1},
			wantErr: ErrInvalidQueueSize,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pool, err := New(tt.config)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
			if pool != nil {
				defer pool.Stop()
			}
			if tt.wantErr != nil && pool != nil {
				t.Error("New() returned a pool alongside an error")
			}
		})
	}
}

func TestPool_ExactlyOnceExecution(t *testing.T) {
	t.Parallel()

	pool, err := New(Config{Workers: 2, ShutdownTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	defer pool.Stop()

	var counter atomic.Int32
	taskCount := 100

	for i := 0; i < taskCount; i++ {
		err := pool.Submit(func() error {
			counter.Add(1)
			return nil
		})
		if err != nil {
			t.Errorf("Failed to submit task: %v", err)
		}
	}

	pool.Wait()

	if got := counter.Load(); got != int32(taskCount) {
		t.Errorf("Expected %d executions, got %d", taskCount, got)
	}

	stats := pool.Stats()
	if stats.CompletedTasks != int64(taskCount) {
		t.Errorf("Expected %d completed tasks in stats, got %d", taskCount, stats.CompletedTasks)
	}
}

func TestPool_FIFOStartOrderSingleWorker(t *testing.T) {
	t.Parallel()

	pool, err := New(Config{Workers: 1, ShutdownTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	defer pool.Stop()

	var mu sync.Mutex
	var order []int

	for i := 0; i < 50; i++ {
		i := i
		pool.Submit(func() error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
	}

	pool.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, got := range order {
		if got != i {
			t.Fatalf("position %d: got task %d, submission order not preserved", i, got)
		}
	}
}

func TestPool_GracefulDrainOnStop(t *testing.T) {
	t.Parallel()

	pool, err := New(Config{Workers: 2, ShutdownTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}

	var counter atomic.Int32
	taskCount := 20

	for i := 0; i < taskCount; i++ {
		pool.Submit(func() error {
			time.Sleep(5 * time.Millisecond)
			counter.Add(1)
			return nil
		})
	}

	// Stop must not return before every queued task ran.
	if err := pool.Stop(); err != nil {
		t.Errorf("Stop returned error: %v", err)
	}

	if got := counter.Load(); got != int32(taskCount) {
		t.Errorf("Expected %d tasks drained before Stop returned, got %d", taskCount, got)
	}

	if !pool.IsClosed() {
		t.Error("Pool should be closed")
	}
}

func TestPool_StopWithIdleWorkers(t *testing.T) {
	t.Parallel()

	pool, err := New(Config{Workers: 4, ShutdownTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}

	// Workers are parked on the condition variable; Stop must wake them
	// all and return promptly.
	done := make(chan error, 1)
	go func() { done <- pool.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Stop returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop hung with idle workers")
	}
}

func TestPool_SubmitAfterStop(t *testing.T) {
	t.Parallel()

	pool, err := New(Config{Workers: 2, ShutdownTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	pool.Stop()

	err = pool.Submit(func() error { return nil })
	if !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed, got %v", err)
	}

	stats := pool.Stats()
	if stats.RejectedTasks == 0 {
		t.Error("Expected rejected task to be counted")
	}
}

func TestPool_ForcedShutdown(t *testing.T) {
	t.Parallel()

	pool, err := New(Config{Workers: 2, ShutdownTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}

	for i := 0; i < 4; i++ {
		pool.Submit(func() error {
			time.Sleep(500 * time.Millisecond)
			return nil
		})
	}

	// Let tasks start executing.
	time.Sleep(10 * time.Millisecond)

	if err := pool.Stop(); !errors.Is(err, ErrForcedShutdown) {
		t.Errorf("Expected ErrForcedShutdown, got %v", err)
	}
}

func TestPool_PanicRecovery(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var captured []error

	pool, err := New(Config{
		Workers:         2,
		ShutdownTimeout: 5 * time.Second,
		ErrorHandler: func(err error) {
			mu.Lock()
			captured = append(captured, err)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	defer pool.Stop()

	pool.Submit(func() error {
		panic("test panic")
	})

	// The worker must survive and keep executing.
	var counter atomic.Int32
	for i := 0; i < 10; i++ {
		pool.Submit(func() error {
			counter.Add(1)
			return nil
		})
	}

	pool.Wait()

	if got := counter.Load(); got != 10 {
		t.Errorf("Expected 10 tasks after the panic, got %d", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(captured) == 0 {
		t.Fatal("Expected panic to be reported to ErrorHandler")
	}

	var taskErr *TaskError
	if !errors.As(captured[0], &taskErr) {
		t.Fatalf("Expected *TaskError, got %T", captured[0])
	}
	if taskErr.Stack == "" {
		t.Error("Expected stack trace on recovered panic")
	}
}

func TestPool_PanicReachesDeadLetterQueue(t *testing.T) {
	t.Parallel()

	dlq := persistence.NewDeadLetterQueue(persistence.DLQConfig{})

	pool, err := New(Config{
		Workers:         1,
		ShutdownTimeout: 5 * time.Second,
		DLQ:             dlq,
	})
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	defer pool.Stop()

	pool.Submit(func() error {
		panic("dead letter me")
	})
	pool.Wait()

	// Panicking tasks are captured like any other failure, not just logged.
	if got := dlq.Len(); got != 1 {
		t.Fatalf("Expected 1 dead-lettered task, got %d", got)
	}

	entry, err := dlq.Peek(context.Background())
	if err != nil {
		t.Fatalf("Peek failed: %v", err)
	}
	if len(entry.Errors) == 0 || !strings.Contains(entry.Errors[0], "panic") {
		t.Errorf("Expected panic cause in entry, got %v", entry.Errors)
	}
}

func TestPool_FailingTaskDoesNotStopWorker(t *testing.T) {
	t.Parallel()

	var handled atomic.Int32

	pool, err := New(Config{
		Workers:         1,
		ShutdownTimeout: 5 * time.Second,
		ErrorHandler:    func(error) { handled.Add(1) },
	})
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	defer pool.Stop()

	taskErr := errors.New("task error")
	pool.Submit(func() error { return taskErr })

	var counter atomic.Int32
	for i := 0; i < 20; i++ {
		pool.Submit(func() error {
			counter.Add(1)
			return nil
		})
	}

	pool.Wait()

	if got := counter.Load(); got != 20 {
		t.Errorf("Expected all 20 tasks after the failure, got %d", got)
	}
	if handled.Load() == 0 {
		t.Error("Expected failure to reach ErrorHandler")
	}

	stats := pool.Stats()
	if stats.FailedTasks != 1 {
		t.Errorf("Expected 1 failed task in stats, got %d", stats.FailedTasks)
	}
}

func TestPool_QueueFull(t *testing.T) {
	t.Parallel()

	pool, err := New(Config{Workers: 1, QueueSize: 2, ShutdownTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	defer pool.Stop()

	release := make(chan struct{})
	pool.Submit(func() error {
		<-release
		return nil
	})

	// Give the worker time to pick up the blocker, then fill the queue.
	time.Sleep(20 * time.Millisecond)

	sawFull := false
	for i := 0; i < 5; i++ {
		if err := pool.Submit(func() error { return nil }); errors.Is(err, ErrQueueFull) {
			sawFull = true
			break
		}
	}
	close(release)

	if !sawFull {
		t.Error("Expected ErrQueueFull from a bounded queue")
	}

	pool.Wait()
}

func TestPool_ConcurrentProducers(t *testing.T) {
	t.Parallel()

	pool, err := New(Config{Workers: 4, ShutdownTimeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	defer pool.Stop()

	var wg sync.WaitGroup
	submitters := 10
	tasksPerSubmitter := 100

	var counter atomic.Int32

	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < tasksPerSubmitter; j++ {
				pool.Submit(func() error {
					counter.Add(1)
					return nil
				})
			}
		}()
	}

	wg.Wait()
	pool.Wait()

	expected := int32(submitters * tasksPerSubmitter)
	if got := counter.Load(); got != expected {
		t.Errorf("Expected %d tasks to complete, got %d", expected, got)
	}
}

func TestPool_ParallelScenario(t *testing.T) {
	t.Parallel()

	const (
		workers   = 4
		tasks     = 100
		taskDelay = 5 * time.Millisecond
	)

	pool, err := New(Config{Workers: workers, ShutdownTimeout: 30 * time.Second})
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}

	var mu sync.Mutex
	var ran []int
	var elapsed time.Duration

	start := time.Now()
	for i := 0; i < tasks; i++ {
		i := i
		pool.Submit(func() error {
			time.Sleep(taskDelay)
			mu.Lock()
			ran = append(ran, i)
			if i == tasks-1 {
				elapsed = time.Since(start)
			}
			mu.Unlock()
			return nil
		})
	}

	if err := pool.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	// Every index 0..99 exactly once, in any completion order.
	if len(ran) != tasks {
		t.Fatalf("Expected %d executions, got %d", tasks, len(ran))
	}
	sorted := append([]int(nil), ran...)
	sort.Ints(sorted)
	for i, v := range sorted {
		if v != i {
			t.Fatalf("Index %d missing or duplicated (saw %d)", i, v)
		}
	}

	if elapsed <= 0 {
		t.Fatal("Final task never recorded elapsed time")
	}
	// Serial execution would take tasks*taskDelay; four workers must beat it.
	if serial := time.Duration(tasks) * taskDelay; elapsed >= serial {
		t.Errorf("Elapsed %v not faster than serial %v; pool is not parallel", elapsed, serial)
	}
}

func TestPool_MultipleStopCalls(t *testing.T) {
	t.Parallel()

	pool, err := New(Config{Workers: 2, ShutdownTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}

	if err := pool.Stop(); err != nil {
		t.Errorf("First Stop returned error: %v", err)
	}
	if err := pool.Stop(); err != nil {
		t.Errorf("Second Stop returned error: %v", err)
	}
}

func TestPool_NoGoroutineLeaks(t *testing.T) {
	t.Parallel()

	initialGoroutines := runtime.NumGoroutine()

	pool, err := New(Config{Workers: 4, ShutdownTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}

	for i := 0; i < 100; i++ {
		pool.Submit(func() error { return nil })
	}

	pool.Wait()
	pool.Stop()

	time.Sleep(100 * time.Millisecond)

	finalGoroutines := runtime.NumGoroutine()
	if finalGoroutines > initialGoroutines+2 {
		t.Errorf("Possible goroutine leak: initial=%d, final=%d", initialGoroutines, finalGoroutines)
	}
}

func TestPool_Statistics(t *testing.T) {
	t.Parallel()

	pool, err := New(Config{Workers: 4, ShutdownTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	defer pool.Stop()

	stats := pool.Stats()
	if stats.ActiveWorkers != 4 {
		t.Errorf("Expected 4 active workers, got %d", stats.ActiveWorkers)
	}

	taskCount := 20
	for i := 0; i < taskCount; i++ {
		pool.Submit(func() error {
			time.Sleep(time.Millisecond)
			return nil
		})
	}

	pool.Wait()

	stats = pool.Stats()
	if stats.CompletedTasks != int64(taskCount) {
		t.Errorf("Expected %d completed tasks, got %d", taskCount, stats.CompletedTasks)
	}
	if stats.AverageLatency == 0 {
		t.Error("Expected non-zero average latency")
	}
	if stats.Uptime == 0 {
		t.Error("Expected non-zero uptime")
	}
}

func TestNewDefault(t *testing.T) {
	t.Parallel()

	pool := NewDefault()
	if pool == nil {
		t.Fatal("NewDefault returned nil")
	}
	defer pool.Stop()

	stats := pool.Stats()
	if expected := runtime.NumCPU(); stats.ActiveWorkers != expected {
		t.Errorf("Expected %d workers, got %d", expected, stats.ActiveWorkers)
	}
}
