// Package media wraps the ffmpeg/ffprobe toolchain for video container I/O:
// probing containers, extracting the audio track into the canonical pipeline
// format, normalizing synthesized clips, and muxing a replacement audio track
// back into the video.
package media

import (
	"errors"
	"fmt"
)

// Canonical audio format for everything the pipeline touches downstream of
// extraction. 16 kHz mono s16le satisfies the diarization and transcription
// engine input constraints.
const (
	CanonicalSampleRate = 16000
	CanonicalChannels   = 1
	CanonicalBitDepth   = 16
)

// Fatal container errors. None of these are retried: the input itself is
// structurally invalid, or the output could not be published.
var (
	ErrUnsupportedContainer = errors.New("media: unsupported container")
	ErrNoAudioTrack         = errors.New("media: no audio track in container")
	ErrContainerWrite       = errors.New("media: container write failed")
)

// AudioAsset is an opaque reference to an audio file plus the properties the
// pipeline needs to reason about it.
type AudioAsset struct {
	Path       string  `json:"path"`
	Duration   float64 `json:"duration"` // seconds
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
}

// ProbeResult summarizes the container-level facts we care about.
type ProbeResult struct {
	Container string  // e.g. "mov,mp4,m4a,3gp,3g2,mj2"
	Duration  float64 // seconds, from the format section
	HasVideo  bool
	HasAudio  bool
}

// validate sanity-checks an asset after extraction or normalization.
func (a *AudioAsset) validate() error {
	if a.Duration <= 0 {
		return fmt.Errorf("media: asset %s has non-positive duration %f", a.Path, a.Duration)
	}
	return nil
}
