// Package synthesis drives the external TTS/voice-cloning engine: one
// independent task per diarized segment whose speaker is mapped to a
// replacement voice.
package synthesis

import (
	"errors"

	"github.com/famflix/voiceswap/cmd/server/internal/media"
	"github.com/famflix/voiceswap/cmd/server/internal/voice"
)

// Task failure classes. TextEmpty and VoiceUnavailable are never retried;
// anything else from the engine is retried with backoff first.
var (
	// ErrTextEmpty marks a segment with no recognized speech; synthesis is
	// skipped and the stitcher falls back to the original audio.
	ErrTextEmpty = errors.New("synthesis: segment has no transcript text")
	// ErrVoiceUnavailable is fatal for the one task; the job continues and
	// the segment falls back to the original audio.
	ErrVoiceUnavailable = errors.New("synthesis: target voice unavailable")
)

// Status is the lifecycle state of one synthesis task.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Task is one independent unit of synthesis work for one segment.
type Task struct {
	ID        string         `json:"id"`
	SegmentID int            `json:"segment_id"`
	Voice     voice.Identity `json:"voice"`
	Text      string         `json:"text"`
	Status    Status         `json:"status"`
	// Result is the normalized synthesized clip, set on success. Its
	// duration is not guaranteed to match the segment's original duration.
	Result *media.AudioAsset `json:"result,omitempty"`
	// Error holds the final failure cause for failed tasks.
	Error string `json:"error,omitempty"`

	// Err retains the typed cause for in-process classification.
	Err error `json:"-"`
}

// Failed reports whether the task ended in failure.
func (t *Task) Failed() bool { return t.Status == StatusFailed }

// Succeeded reports whether the task produced a usable clip.
func (t *Task) Succeeded() bool { return t.Status == StatusCompleted && t.Result != nil }

// fail marks the task failed with its cause.
func (t *Task) fail(err error) {
	t.Status = StatusFailed
	t.Err = err
	if err != nil {
		t.Error = err.Error()
	}
}
