package workerpool

import (
	"sync/atomic"
	"time"
)

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	ActiveWorkers  int           `json:"active_workers"`
	QueuedTasks    int           `json:"queued_tasks"`
	CompletedTasks int64         `json:"completed_tasks"`
	FailedTasks    int64         `json:"failed_tasks"`
	RejectedTasks  int64         `json:"rejected_tasks"`
	AverageLatency time.Duration `json:"average_latency"`
	Uptime         time.Duration `json:"uptime"`
}

type statsCollector struct {
	activeWorkers  atomic.Int32
	completedTasks atomic.Int64
	failedTasks    atomic.Int64
	rejectedTasks  atomic.Int64
	totalLatency   atomic.Int64 // nanoseconds
	startTime      time.Time
}

func newStatsCollector() *statsCollector {
	return &statsCollector{startTime: time.Now()}
}

func (s *statsCollector) snapshot(queueLen int) Stats {
	completed := s.completedTasks.Load()
	var avg time.Duration
	if completed > 0 {
		avg = time.Duration(s.totalLatency.Load() / completed)
	}

	return Stats{
		ActiveWorkers:  int(s.activeWorkers.Load()),
		QueuedTasks:    queueLen,
		CompletedTasks: completed,
		FailedTasks:    s.failedTasks.Load(),
		RejectedTasks:  s.rejectedTasks.Load(),
		AverageLatency: avg,
		Uptime:         time.Since(s.startTime),
	}
}

func (s *statsCollector) recordCompletion(d time.Duration) {
	s.completedTasks.Add(1)
	s.totalLatency.Add(int64(d))
}

func (s *statsCollector) recordFailure()    { s.failedTasks.Add(1) }
func (s *statsCollector) recordRejection()  { s.rejectedTasks.Add(1) }
func (s *statsCollector) incActiveWorkers() { s.activeWorkers.Add(1) }
func (s *statsCollector) decActiveWorkers() { s.activeWorkers.Add(-1) }
