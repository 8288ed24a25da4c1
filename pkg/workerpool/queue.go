package workerpool

import (
	"sync"

	"github.com/eapache/queue"
)

// taskQueue is the shared state between producers and workers: a FIFO of
// pending tasks guarded by a single mutex, paired with a condition variable
// that wakes blocked workers. Concurrency control lives entirely in here;
// callers never see the lock.
type taskQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending *queue.Queue // ring buffer of *Task
	limit   int          // 0 means unbounded
	stopped bool
}

func newTaskQueue(limit int) *taskQueue {
	q := &taskQueue{
		pending: queue.New(),
		limit:   limit,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends a task at the tail and wakes exactly one blocked worker.
// Tasks arriving after signalStop are rejected rather than queued, so a
// draining pool never grows its backlog.
func (q *taskQueue) push(t *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return ErrPoolClosed
	}
	if q.limit > 0 && q.pending.Length() >= q.limit {
		return ErrQueueFull
	}

	q.pending.Add(t)
	q.cond.Signal()
	return nil
}

// popBlocking blocks the calling worker until a task is available or the
// queue has been stopped and fully drained. The wait loop re-checks its
// predicate after every wake, so spurious wakeups are harmless; push and
// the predicate share the same lock, so wakeups cannot be lost. Pending
// tasks are always handed out before the stop is reported: workers drain
// the queue before exiting.
func (q *taskQueue) popBlocking() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.pending.Length() == 0 && !q.stopped {
		q.cond.Wait()
	}

	if q.pending.Length() == 0 {
		return nil, false
	}

	return q.pending.Remove().(*Task), true
}

// signalStop raises the stop flag and wakes every blocked worker. Any
// number of workers may be waiting simultaneously, so this broadcasts
// instead of signalling one.
func (q *taskQueue) signalStop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()

	q.cond.Broadcast()
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Length()
}
