// Package diarize adapts an external speaker-diarization engine and
// post-processes its raw output into the ordered, non-overlapping segment
// model the rest of the pipeline depends on.
package diarize

import (
	"errors"

	"github.com/famflix/voiceswap/cmd/server/internal/media"
)

// ErrEmptyDiarization is returned when the engine finds no speech at all.
// The pipeline never fabricates a single full-track segment in that case.
var ErrEmptyDiarization = errors.New("diarize: engine returned zero segments")

// RawSegment is a segment exactly as the engine reported it, before any
// overlap resolution. Confidence passes through unmodified.
type RawSegment struct {
	Speaker    string  `json:"speaker"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Segment is a post-processed, speaker-attributed time range. Within one
// Result segments are ordered by Start and do not overlap.
type Segment struct {
	// ID is the sequential identifier of the segment within its Result.
	ID int `json:"id"`
	// Speaker is the engine-assigned label (e.g. "SPEAKER_00").
	Speaker string `json:"speaker"`
	// Start and End are in seconds from the start of the track.
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	// Confidence is the engine's score, 0..1, unmodified.
	Confidence float64 `json:"confidence"`
	// LowConfidence flags segments below the configured floor for caller
	// review. Flagged segments are never dropped automatically.
	LowConfidence bool `json:"low_confidence,omitempty"`
	// Transcript is the text attached by the transcription stage. An
	// explicit empty string means no recognized speech.
	Transcript string `json:"transcript"`
}

// Duration returns the segment length in seconds, always > 0 after
// post-processing.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// overlap returns the length of the intersection of the segment with
// [start, end), zero when disjoint.
func (s Segment) overlap(start, end float64) float64 {
	lo := max(s.Start, start)
	hi := min(s.End, end)
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// Speaker aggregates per-speaker statistics across a Result.
type Speaker struct {
	Label         string  `json:"label"`
	TotalDuration float64 `json:"total_duration"`
	SegmentCount  int     `json:"segment_count"`
	// Percentage is the speaker's share of the full track duration.
	Percentage float64 `json:"percentage"`
}

// Result is the diarization of one audio track.
type Result struct {
	Audio               media.AudioAsset `json:"audio"`
	Segments            []Segment        `json:"segments"`
	Speakers            []Speaker        `json:"speakers"`
	TotalSpeakers       int              `json:"total_speakers"`
	TotalSegments       int              `json:"total_segments"`
	TotalSpeechDuration float64          `json:"total_speech_duration"`
	// PrimarySpeaker is the label with the greatest total speaking time.
	PrimarySpeaker string `json:"primary_speaker"`
	// FullTranscript is the concatenated transcript of the whole track,
	// filled by the transcription stage.
	FullTranscript string `json:"full_transcript,omitempty"`
}

// HasSpeaker reports whether label appears in the result.
func (r *Result) HasSpeaker(label string) bool {
	for _, sp := range r.Speakers {
		if sp.Label == label {
			return true
		}
	}
	return false
}
