// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesTotal counts frames produced by the generator
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pseudoconn_frames_total",
			Help: "Total number of frames generated",
		},
		[]string{"transport", "direction"},
	)

	// FrameBytesTotal counts link-layer bytes produced by the generator
	FrameBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pseudoconn_frame_bytes_total",
			Help: "Total number of link-layer bytes generated",
		},
		[]string{"transport"},
	)

	// ConnectionsTotal counts simulated connections opened
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pseudoconn_connections_total",
			Help: "Total number of simulated connections opened",
		},
		[]string{"transport", "ip_version"},
	)

	// InjectFramesTotal counts frames written to a live interface
	InjectFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pseudoconn_inject_frames_total",
			Help: "Total number of frames injected on a live interface",
		},
		[]string{"interface"},
	)

	// InjectErrorsTotal counts failed live writes
	InjectErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pseudoconn_inject_errors_total",
			Help: "Total number of frames that failed to inject",
		},
		[]string{"interface"},
	)

	// InjectWriteSeconds measures the latency of a single live write
	InjectWriteSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pseudoconn_inject_write_seconds",
			Help:    "Latency of live frame writes in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~1s
		},
		[]string{"interface"},
	)
)

// ObserveFrame records one generated frame.
func ObserveFrame(transport, direction string, size int) {
	FramesTotal.WithLabelValues(transport, direction).Inc()
	FrameBytesTotal.WithLabelValues(transport).Add(float64(size))
}
