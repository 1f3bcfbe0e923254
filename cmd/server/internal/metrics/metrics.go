// Package metrics exposes Prometheus instrumentation for the replacement
// pipeline: per-stage counters and durations, synthesis task outcomes, and
// job state gauges.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StagesTotal counts stage executions.
	// Labels: stage (extract/diarize/transcribe/synthesize/stitch/mux), status (success/error)
	StagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voiceswap_pipeline_stages_total",
			Help: "Total number of pipeline stage executions by stage and status",
		},
		[]string{"stage", "status"},
	)

	// StageErrorsTotal counts stage failures by error code.
	// Labels: stage, error_code (NO_AUDIO_TRACK/EMPTY_DIARIZATION/VOICE_UNAVAILABLE/...)
	StageErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voiceswap_pipeline_stage_errors_total",
			Help: "Total number of pipeline stage errors by stage and error code",
		},
		[]string{"stage", "error_code"},
	)

	// StageDuration observes per-stage wall time.
	// Buckets span quick probes through long synthesis fan-outs.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voiceswap_pipeline_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds by stage",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"stage"},
	)

	// SynthesisTasksTotal counts synthesis task outcomes.
	// Labels: status (completed/failed/skipped)
	SynthesisTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voiceswap_synthesis_tasks_total",
			Help: "Total number of synthesis tasks by terminal status",
		},
		[]string{"status"},
	)

	// JobsActive gauges jobs that are neither completed, failed nor cancelled.
	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voiceswap_jobs_active",
			Help: "Number of jobs currently in a non-terminal stage",
		},
	)

	// JobsTotal counts jobs by how they ended.
	// Labels: outcome (completed/failed/cancelled)
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voiceswap_jobs_total",
			Help: "Total number of jobs by terminal outcome",
		},
		[]string{"outcome"},
	)

	// VoiceClonesTotal counts clone requests.
	// Labels: status (created/reused/error)
	VoiceClonesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voiceswap_voice_clones_total",
			Help: "Total number of voice clone requests by result",
		},
		[]string{"status"},
	)
)

// RecordStage records one stage execution with its outcome and duration.
func RecordStage(stage string, seconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	StagesTotal.WithLabelValues(stage, status).Inc()
	StageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordStageError records a stage failure with a stable error code.
func RecordStageError(stage, errorCode string) {
	StageErrorsTotal.WithLabelValues(stage, errorCode).Inc()
}

// RecordSynthesisTask records a synthesis task's terminal status.
func RecordSynthesisTask(status string) {
	SynthesisTasksTotal.WithLabelValues(status).Inc()
}

// RecordJobOutcome records a job reaching a terminal stage.
func RecordJobOutcome(outcome string) {
	JobsTotal.WithLabelValues(outcome).Inc()
	JobsActive.Dec()
}

// RecordJobStarted tracks a newly admitted job.
func RecordJobStarted() {
	JobsActive.Inc()
}

// RecordVoiceClone records a clone request result.
func RecordVoiceClone(status string) {
	VoiceClonesTotal.WithLabelValues(status).Inc()
}
