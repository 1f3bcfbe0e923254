// Package metrics provides Prometheus metrics for external tool invocations.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// toolInvocationsTotal records invocations of external media tools.
	// Labels:
	//   - tool: Binary name (e.g., "ffmpeg", "ffprobe")
	//   - operation: What the invocation did (e.g., "extract", "probe", "mux")
	//   - status: "success" or "failed"
	toolInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tool_invocations_total",
			Help: "Total number of external tool invocations",
		},
		[]string{"tool", "operation", "status"},
	)

	// toolInvocationDuration records how long external tool invocations take.
	// Labels:
	//   - tool: Binary name (e.g., "ffmpeg", "ffprobe")
	//   - operation: What the invocation did (e.g., "extract", "probe", "mux")
	// Buckets: 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s, 300s (5 minutes)
	toolInvocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tool_invocation_duration_seconds",
			Help:    "Duration of external tool invocations in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"tool", "operation"},
	)
)

func init() {
	prometheus.MustRegister(toolInvocationsTotal)
	prometheus.MustRegister(toolInvocationDuration)
}

// RecordToolInvocation records one external tool invocation.
func RecordToolInvocation(tool, operation string, success bool) {
	status := "success"
	if !success {
		status = "failed"
	}
	toolInvocationsTotal.WithLabelValues(tool, operation, status).Inc()
}

// RecordToolDuration records the duration of an external tool invocation.
func RecordToolDuration(tool, operation string, durationSeconds float64) {
	toolInvocationDuration.WithLabelValues(tool, operation).Observe(durationSeconds)
}
