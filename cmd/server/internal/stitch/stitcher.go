package stitch

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/famflix/voiceswap/cmd/server/internal/media"
	"github.com/famflix/voiceswap/pkg/logger"
)

// ReconcilePolicy controls how a synthesized clip whose length differs from
// its segment window is fitted into place.
type ReconcilePolicy string

const (
	// ReconcileTrimPad trims clips that run long and pads short ones with
	// silence. This is the default: it always yields an exact fit.
	ReconcileTrimPad ReconcilePolicy = "trim-pad"
	// ReconcileStrict rejects any clip whose length differs from the
	// segment window by more than one frame.
	ReconcileStrict ReconcilePolicy = "strict"
)

// Stitcher splices plan entries into a single track, sample-accurately.
type Stitcher struct {
	policy ReconcilePolicy
	log    *slog.Logger
}

// NewStitcher returns a stitcher with the given reconciliation policy.
// An empty policy defaults to ReconcileTrimPad.
func NewStitcher(policy ReconcilePolicy) *Stitcher {
	if policy == "" {
		policy = ReconcileTrimPad
	}
	return &Stitcher{policy: policy, log: logger.L()}
}

// Stitch renders the plan against the original track and writes the result
// to outPath. The output has exactly the original's sample count: original
// spans are byte-copied, synthesized spans are fitted per the policy. Any
// unreadable synthesized clip aborts with ErrStitchIncomplete.
func (s *Stitcher) Stitch(originalPath string, plan *Plan, outPath string) error {
	start := time.Now()

	original, err := media.ReadWAV(originalPath)
	if err != nil {
		return fmt.Errorf("stitch: read original track: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return err
	}

	// Output starts as a copy of the original so gaps and keep-original
	// entries are bit-identical, then synthesized spans overwrite in place.
	out := &media.WavData{
		SampleRate:    original.SampleRate,
		Channels:      original.Channels,
		BitsPerSample: original.BitsPerSample,
		Data:          append([]byte(nil), original.Data...),
	}
	totalFrames := original.Frames()
	frameSize := original.FrameSize()

	replaced := 0
	for i, entry := range plan.Entries {
		if entry.Kind != SourceSynthesized {
			continue
		}
		startFrame := frameAt(entry.Start, original.SampleRate, totalFrames)
		endFrame := frameAt(entry.End, original.SampleRate, totalFrames)
		if endFrame <= startFrame {
			continue
		}

		clip, err := media.ReadWAV(entry.ClipPath)
		if err != nil {
			return fmt.Errorf("%w: entry %d (segment %d): %v", ErrStitchIncomplete, i, entry.SegmentID, err)
		}
		if clip.SampleRate != original.SampleRate || clip.Channels != original.Channels ||
			clip.BitsPerSample != original.BitsPerSample {
			return fmt.Errorf("%w: entry %d (segment %d): clip format %dHz/%dch/%dbit does not match track",
				ErrStitchIncomplete, i, entry.SegmentID, clip.SampleRate, clip.Channels, clip.BitsPerSample)
		}

		window := endFrame - startFrame
		fitted, err := s.fit(clip, window, entry.SegmentID)
		if err != nil {
			return err
		}
		copy(out.Data[startFrame*frameSize:endFrame*frameSize], fitted)
		replaced++
	}

	if out.Frames() != totalFrames {
		return fmt.Errorf("stitch: frame count drifted (%d != %d)", out.Frames(), totalFrames)
	}
	if err := media.WriteWAV(outPath, out); err != nil {
		return fmt.Errorf("stitch: write output: %w", err)
	}

	s.log.Info("[STITCH] track assembled",
		"entries", len(plan.Entries),
		"replaced", replaced,
		"frames", totalFrames,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// fit returns exactly window frames of clip audio per the policy.
func (s *Stitcher) fit(clip *media.WavData, window, segmentID int) ([]byte, error) {
	frameSize := clip.FrameSize()
	have := clip.Frames()

	if s.policy == ReconcileStrict && abs(have-window) > 1 {
		return nil, fmt.Errorf("%w: segment %d: clip is %d frames, window is %d",
			ErrStitchIncomplete, segmentID, have, window)
	}

	fitted := make([]byte, window*frameSize)
	n := min(have, window)
	copy(fitted, clip.Data[:n*frameSize])
	if have > window {
		s.log.Warn("[STITCH] clip trimmed to segment window",
			"segment_id", segmentID, "clip_frames", have, "window_frames", window)
	} else if have < window {
		s.log.Debug("[STITCH] clip padded with silence",
			"segment_id", segmentID, "clip_frames", have, "window_frames", window)
	}
	return fitted, nil
}

// frameAt converts a timestamp to a frame index, clamped to the track.
func frameAt(t float64, sampleRate, totalFrames int) int {
	f := int(math.Round(t * float64(sampleRate)))
	if f < 0 {
		return 0
	}
	if f > totalFrames {
		return totalFrames
	}
	return f
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
