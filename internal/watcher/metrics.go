package watcher

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Capture outcomes used as the metric label and in Status counters.
const (
	OutcomeIndexed         = "indexed"
	OutcomeFailed          = "failed"
	OutcomeSkippedNoChange = "skipped_no_change"
	OutcomeSkippedPaused   = "skipped_paused"
	OutcomeSkippedNoWindow = "skipped_no_window"
)

var (
	capturesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prism_watcher_captures_total",
			Help: "Capture cycles by outcome",
		},
		[]string{"outcome"},
	)
	captureDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prism_watcher_capture_seconds",
			Help:    "Duration of successful capture-to-index cycles in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)
	indexedNodes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prism_watcher_indexed_nodes_total",
			Help: "UI nodes written into the semantic index",
		},
	)
	watcherErrors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "prism_watcher_consecutive_errors",
			Help: "Consecutive failed ticks; resets on success or resume",
		},
	)
)

func init() {
	prometheus.MustRegister(capturesTotal, captureDuration, indexedNodes, watcherErrors)
}
