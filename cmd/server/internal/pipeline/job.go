package pipeline

import (
	"time"

	"github.com/famflix/voiceswap/cmd/server/internal/diarize"
	"github.com/famflix/voiceswap/cmd/server/internal/synthesis"
	"github.com/famflix/voiceswap/cmd/server/internal/voice"
)

// Progress reports synthesis fan-out completion as N of M terminal tasks.
type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// Job is one end-to-end replacement request. Fields are mutated only through
// the store so persistence and locking stay in one place.
type Job struct {
	ID        string    `json:"id"`
	Stage     Stage     `json:"stage"`
	VideoPath string    `json:"video_path"`
	WorkDir   string    `json:"work_dir"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// AudioPath is the canonical track extracted from the video.
	AudioPath string `json:"audio_path,omitempty"`
	// Diarization is published once the job reaches awaiting_mapping.
	Diarization *diarize.Result `json:"diarization,omitempty"`
	// Mapping is the caller-supplied speaker to voice assignment, stored
	// after validation in its effective (fully defaulted) form.
	Mapping voice.ReplacementMapping `json:"mapping,omitempty"`
	// Tasks are the synthesis units created when the mapping is applied.
	Tasks []*synthesis.Task `json:"tasks,omitempty"`
	// Progress tracks the synthesis fan-out.
	Progress Progress `json:"progress"`
	// OutputPath is the final muxed video, set on completion.
	OutputPath string `json:"output_path,omitempty"`

	// CancelRequested is set when a cancel arrives mid-synthesis. New task
	// dispatch stops, in-flight engine calls drain, and the job moves to
	// StageCancelled once the last one returns.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	// Error is the terminal failure cause for failed jobs.
	Error string `json:"error,omitempty"`
	// Warnings collects non-fatal degradations, such as segments that
	// fell back to original audio after synthesis failed.
	Warnings []string `json:"warnings,omitempty"`
}

// Active reports whether the job still has work in flight or pending.
func (j *Job) Active() bool { return !j.Stage.Terminal() }

// taskIndex builds the segment ID keyed view the stitch planner consumes.
func (j *Job) taskIndex() map[int]*synthesis.Task {
	idx := make(map[int]*synthesis.Task, len(j.Tasks))
	for _, t := range j.Tasks {
		idx[t.SegmentID] = t
	}
	return idx
}
