// Package observability provides Kubernetes-style health probes for the
// worker pool.
package observability

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// Status is the overall health of the pool.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// HealthChecker tracks pool liveness and readiness. All fields are atomics;
// it is updated from worker goroutines and read from HTTP handlers.
type HealthChecker struct {
	alive   atomic.Bool
	ready   atomic.Bool
	started atomic.Bool

	totalTasks    atomic.Int64
	panics        atomic.Int64
	queueLen      atomic.Int32
	activeWorkers atomic.Int32
	queueCapacity int32 // 0 means unbounded

	startTime time.Time
}

// Report is the JSON body served by the /healthz handler.
type Report struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// NewHealthChecker creates a checker. queueCapacity 0 disables the
// queue-pressure readiness check.
func NewHealthChecker(queueCapacity int) *HealthChecker {
	hc := &HealthChecker{
		queueCapacity: int32(queueCapacity),
		startTime:     time.Now(),
	}
	hc.alive.Store(true)
	return hc
}

// MarkStarted flips the startup and readiness probes to passing.
func (h *HealthChecker) MarkStarted() {
	h.started.Store(true)
	h.ready.Store(true)
}

// MarkStopped fails readiness and liveness; call when the pool stops.
func (h *HealthChecker) MarkStopped() {
	h.ready.Store(false)
	h.alive.Store(false)
}

// RecordPanic counts a recovered task panic.
func (h *HealthChecker) RecordPanic() {
	h.panics.Add(1)
}

// SyncCompletions refreshes the lifetime task count from the pool's
// completed-task counter, which already includes panicked tasks. The panic
// rate behind the liveness probe is panics over this total.
func (h *HealthChecker) SyncCompletions(completed int64) {
	h.totalTasks.Store(completed)
}

// Update refreshes the queue and worker gauges.
func (h *HealthChecker) Update(queueLen, activeWorkers int) {
	h.queueLen.Store(int32(queueLen))
	h.activeWorkers.Store(int32(activeWorkers))
}

// Liveness fails when the pool has stopped or more than half of a
// meaningful sample of tasks panicked.
func (h *HealthChecker) Liveness() bool {
	if !h.alive.Load() {
		return false
	}
	total := h.totalTasks.Load()
	if total > 100 && float64(h.panics.Load())/float64(total) > 0.5 {
		return false
	}
	return true
}

// Readiness fails when the pool has not started, has no workers left, or a
// bounded queue is over 90% full.
func (h *HealthChecker) Readiness() bool {
	if !h.ready.Load() {
		return false
	}
	if h.activeWorkers.Load() == 0 {
		return false
	}
	if capacity := h.queueCapacity; capacity > 0 {
		if float64(h.queueLen.Load()) > float64(capacity)*0.9 {
			return false
		}
	}
	return true
}

// Startup reports whether the pool finished starting.
func (h *HealthChecker) Startup() bool {
	return h.started.Load()
}

// GetReport returns the full health report.
func (h *HealthChecker) GetReport() Report {
	status := StatusHealthy
	if !h.Liveness() {
		status = StatusUnhealthy
	} else if !h.Readiness() {
		status = StatusDegraded
	}

	total := h.totalTasks.Load()
	panicRate := 0.0
	if total > 0 {
		panicRate = float64(h.panics.Load()) / float64(total)
	}

	return Report{
		Status:    status,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.startTime).String(),
		Details: map[string]interface{}{
			"alive":          h.alive.Load(),
			"ready":          h.ready.Load(),
			"started":        h.started.Load(),
			"queue_len":      h.queueLen.Load(),
			"queue_capacity": h.queueCapacity,
			"active_workers": h.activeWorkers.Load(),
			"total_tasks":    total,
			"panic_rate":     panicRate,
		},
	}
}

// LivenessHandler serves the liveness probe.
func (h *HealthChecker) LivenessHandler() http.HandlerFunc {
	return probeHandler(h.Liveness, "alive", "not alive")
}

// ReadinessHandler serves the readiness probe.
func (h *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return probeHandler(h.Readiness, "ready", "not ready")
}

// StartupHandler serves the startup probe.
func (h *HealthChecker) StartupHandler() http.HandlerFunc {
	return probeHandler(h.Startup, "started", "not started")
}

// ReportHandler serves the full health report.
func (h *HealthChecker) ReportHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := h.GetReport()

		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusHealthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(report)
	}
}

func probeHandler(check func() bool, ok, bad string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if check() {
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{"status": ok})
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": bad})
	}
}
