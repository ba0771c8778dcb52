// Package metrics exposes Prometheus collectors for job and task outcomes.
//
// A nil *Recorder is valid and records nothing, so components take one
// unconditionally.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns a private registry and the pipeline collectors.
type Recorder struct {
	registry *prometheus.Registry

	jobsFinished  *prometheus.CounterVec
	tasksFinished *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	dispatches    *prometheus.CounterVec
	activeJobs    prometheus.Gauge
	reapedTasks   *prometheus.CounterVec
	writeRetries  *prometheus.CounterVec
}

// New builds a recorder whose metric names are prefixed with namespace.
func New(namespace string) *Recorder {
	namespace = norm(namespace)
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		jobsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_finished_total",
				Help:      "Jobs reaching a terminal status.",
			},
			[]string{"status"},
		),
		tasksFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_finished_total",
				Help:      "Tasks reaching a terminal status per stage.",
			},
			[]string{"stage", "status", "error_kind"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Stage worker run time.",
				Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200, 14400},
			},
			[]string{"stage", "status"},
		),
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatches_total",
				Help:      "Distributed dispatch attempts by result.",
			},
			[]string{"stage", "result"},
		),
		activeJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_jobs",
				Help:      "Jobs currently executing in this process.",
			},
		),
		reapedTasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reaped_tasks_total",
				Help:      "Running tasks failed by the timeout reaper.",
			},
			[]string{"stage"},
		),
		writeRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_write_retries_total",
				Help:      "Retried terminal-state store writes.",
			},
			[]string{"operation"},
		),
	}
	r.registry.MustRegister(
		r.jobsFinished,
		r.tasksFinished,
		r.stageDuration,
		r.dispatches,
		r.activeJobs,
		r.reapedTasks,
		r.writeRetries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// JobFinished counts a job reaching status.
func (r *Recorder) JobFinished(status string) {
	if r == nil {
		return
	}
	r.jobsFinished.WithLabelValues(norm(status)).Inc()
}

// TaskFinished counts a task outcome and observes its duration.
func (r *Recorder) TaskFinished(stage, status, errorKind string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.tasksFinished.WithLabelValues(norm(stage), norm(status), norm(errorKind)).Inc()
	r.stageDuration.WithLabelValues(norm(stage), norm(status)).Observe(elapsed.Seconds())
}

// Dispatch counts a dispatch attempt. result is published, skipped, or failed.
func (r *Recorder) Dispatch(stage, result string) {
	if r == nil {
		return
	}
	r.dispatches.WithLabelValues(norm(stage), norm(result)).Inc()
}

// JobStarted increments the active job gauge.
func (r *Recorder) JobStarted() {
	if r == nil {
		return
	}
	r.activeJobs.Inc()
}

// JobStopped decrements the active job gauge.
func (r *Recorder) JobStopped() {
	if r == nil {
		return
	}
	r.activeJobs.Dec()
}

// TaskReaped counts a task failed by the reaper.
func (r *Recorder) TaskReaped(stage string) {
	if r == nil {
		return
	}
	r.reapedTasks.WithLabelValues(norm(stage)).Inc()
}

// WriteRetried counts a retried terminal-state write.
func (r *Recorder) WriteRetried(operation string) {
	if r == nil {
		return
	}
	r.writeRetries.WithLabelValues(norm(operation)).Inc()
}
