// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RealtimeChunksTotal counts processed streaming chunks by outcome.
	RealtimeChunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "neurolab_realtime_chunks_total",
		Help: "Streaming chunks processed by outcome (processed, buffering, error)",
	}, []string{"outcome"})

	// RealtimeChunkDuration tracks per-chunk processing latency.
	RealtimeChunkDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "neurolab_realtime_chunk_duration_seconds",
		Help:    "Latency of a single realtime chunk through filter and features",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})

	// RealtimeQueueDepth tracks the depth of the typed chunk queue.
	RealtimeQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "neurolab_realtime_queue_depth",
		Help: "Chunks waiting in the realtime processing queue",
	})
)
