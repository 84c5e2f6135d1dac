// ============================================================================
// Metrics - Prometheus Instrumentation for the Task Engine
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: Collects and exposes engine metrics for Prometheus scraping.
//
// Metric Categories:
//
//   1. Task counters (Counter) - cumulative, monotonic:
//      - tasks_submitted_total:  tasks accepted by AddTask
//      - tasks_dispatched_total: tasks handed to the executor
//      - tasks_completed_total:  tasks finished successfully
//      - tasks_retried_total:    failed attempts that were rescheduled
//      - tasks_failed_total:     tasks terminally failed (retries exhausted)
//      - tasks_cancelled_total:  tasks cancelled before execution
//
//   2. Performance (Histogram):
//      - task_execution_seconds: executor wall-clock time distribution
//
//   3. State (Gauge) - instantaneous:
//      - tasks_pending / tasks_active / tasks_blocked
//
// Prometheus query examples:
//
//   # throughput per minute
//   rate(engine_tasks_completed_total[1m])
//
//   # error rate
//   rate(engine_tasks_failed_total[5m]) / rate(engine_tasks_dispatched_total[5m])
//
//   # backlog
//   engine_tasks_pending + engine_tasks_blocked
//
// HTTP endpoint:
//   Exposed at /metrics via StartServer, scraped by Prometheus.
//   Default port: 9090. OpenMetrics / Prometheus text format.
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus instruments for the task engine.
type Collector struct {
	tasksSubmitted  prometheus.Counter
	tasksDispatched prometheus.Counter
	tasksCompleted  prometheus.Counter
	tasksRetried    prometheus.Counter
	tasksFailed     prometheus.Counter
	tasksCancelled  prometheus.Counter

	taskExecution prometheus.Histogram

	tasksPending prometheus.Gauge
	tasksActive  prometheus.Gauge
	tasksBlocked prometheus.Gauge
}

// NewCollector creates and registers all engine metrics on the default
// registerer.
func NewCollector() *Collector {
	c := &Collector{
		tasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_tasks_submitted_total",
			Help: "Total number of tasks submitted to the engine",
		}),
		tasksDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_tasks_dispatched_total",
			Help: "Total number of tasks dispatched to the executor",
		}),
		tasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_tasks_completed_total",
			Help: "Total number of tasks completed successfully",
		}),
		tasksRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_tasks_retried_total",
			Help: "Total number of failed attempts rescheduled with backoff",
		}),
		tasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_tasks_failed_total",
			Help: "Total number of tasks terminally failed",
		}),
		tasksCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_tasks_cancelled_total",
			Help: "Total number of tasks cancelled before execution",
		}),
		taskExecution: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_task_execution_seconds",
			Help:    "Task execution time in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		tasksPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_tasks_pending",
			Help: "Current number of pending tasks",
		}),
		tasksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_tasks_active",
			Help: "Current number of actively executing tasks",
		}),
		tasksBlocked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_tasks_blocked",
			Help: "Current number of tasks blocked on dependencies",
		}),
	}

	prometheus.MustRegister(c.tasksSubmitted)
	prometheus.MustRegister(c.tasksDispatched)
	prometheus.MustRegister(c.tasksCompleted)
	prometheus.MustRegister(c.tasksRetried)
	prometheus.MustRegister(c.tasksFailed)
	prometheus.MustRegister(c.tasksCancelled)
	prometheus.MustRegister(c.taskExecution)
	prometheus.MustRegister(c.tasksPending)
	prometheus.MustRegister(c.tasksActive)
	prometheus.MustRegister(c.tasksBlocked)

	return c
}

// RecordSubmitted records a task accepted into the engine.
func (c *Collector) RecordSubmitted() {
	c.tasksSubmitted.Inc()
}

// RecordDispatched records a task handed to the executor.
func (c *Collector) RecordDispatched() {
	c.tasksDispatched.Inc()
}

// RecordCompleted records a successful task with its execution time.
func (c *Collector) RecordCompleted(executionSeconds float64) {
	c.tasksCompleted.Inc()
	c.taskExecution.Observe(executionSeconds)
}

// RecordRetried records one failed attempt that was rescheduled.
func (c *Collector) RecordRetried() {
	c.tasksRetried.Inc()
}

// RecordFailed records a terminally failed task.
func (c *Collector) RecordFailed() {
	c.tasksFailed.Inc()
}

// RecordCancelled records a task removed before execution.
func (c *Collector) RecordCancelled() {
	c.tasksCancelled.Inc()
}

// UpdateQueueStats refreshes the instantaneous state gauges.
func (c *Collector) UpdateQueueStats(pending, active, blocked int) {
	c.tasksPending.Set(float64(pending))
	c.tasksActive.Set(float64(active))
	c.tasksBlocked.Set(float64(blocked))
}

// StartServer starts the Prometheus metrics HTTP server on the given port.
// Blocks until the server exits.
func StartServer(port int) error {
	http.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, nil)
}
