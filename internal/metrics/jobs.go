// SPDX-License-Identifier: MIT

// Package metrics defines the Prometheus instrumentation for the daemon.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal counts terminal job outcomes by step and status.
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "neurolab_jobs_total",
		Help: "Terminal processing job outcomes by step and status",
	}, []string{"step", "status"})

	// JobDuration tracks wall-clock job duration by step.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "neurolab_job_duration_seconds",
		Help:    "Processing job duration from claim to terminal state",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"step"})

	// JobsRunning tracks currently running jobs per queue.
	JobsRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "neurolab_jobs_running",
		Help: "Jobs currently in running state per queue",
	}, []string{"queue"})

	// JobCancellations counts observed cancellations by step.
	JobCancellations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "neurolab_job_cancellations_total",
		Help: "Jobs cancelled cooperatively at a checkpoint",
	}, []string{"step"})
)

// ObserveJobDone records a terminal job outcome with its duration.
func ObserveJobDone(step, status string, d time.Duration) {
	JobsTotal.WithLabelValues(step, status).Inc()
	JobDuration.WithLabelValues(step).Observe(d.Seconds())
}
