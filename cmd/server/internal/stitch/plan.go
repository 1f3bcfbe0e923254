// Package stitch assembles original and synthesized clips into one
// continuous track whose duration exactly equals the original's, keeping
// audio anchored to video frame timing even though phonetic content differs.
package stitch

import (
	"errors"
	"fmt"
	"math"

	"github.com/famflix/voiceswap/cmd/server/internal/diarize"
	"github.com/famflix/voiceswap/cmd/server/internal/synthesis"
)

// ErrStitchIncomplete aborts the whole stitch when any entry's source clip
// cannot be loaded. Failing closed beats silently publishing a short track.
var ErrStitchIncomplete = errors.New("stitch: plan entry source unavailable")

// SourceKind says where an entry's audio comes from.
type SourceKind string

const (
	// SourceOriginal slices the original track at the entry's interval.
	// Used for gaps, keep-original speakers, and synthesis fallbacks.
	SourceOriginal SourceKind = "original"
	// SourceSynthesized reads the clip a synthesis task produced.
	SourceSynthesized SourceKind = "synthesized"
)

// Entry is one contiguous interval of the output track.
type Entry struct {
	Start float64
	End   float64
	Kind  SourceKind
	// ClipPath is set for synthesized entries.
	ClipPath string
	// SegmentID is the diarized segment this entry covers, -1 for gaps.
	SegmentID int
}

// Duration returns the entry length in seconds.
func (e Entry) Duration() float64 { return e.End - e.Start }

// Plan is an ordered tiling of [0, TrackDuration): no gaps, no overlaps.
// Non-speech regions appear as original-source entries so the invariant is
// checkable rather than implicit.
type Plan struct {
	TrackDuration float64
	Entries       []Entry
}

// BuildPlan walks the ordered segments and produces a complete tiling of the
// original track. A segment sources from its synthesis task's clip when the
// task succeeded, otherwise from the original track (keep-original mapping,
// skipped empty-text segments, and failed tasks all land there).
func BuildPlan(result *diarize.Result, tasks map[int]*synthesis.Task) (*Plan, error) {
	if result == nil || result.Audio.Duration <= 0 {
		return nil, fmt.Errorf("stitch: no audio to plan against")
	}

	plan := &Plan{TrackDuration: result.Audio.Duration}
	cursor := 0.0

	for i := range result.Segments {
		seg := &result.Segments[i]
		if seg.Start < cursor {
			return nil, fmt.Errorf("stitch: segment %d overlaps previous coverage (start %.3f < cursor %.3f)",
				seg.ID, seg.Start, cursor)
		}
		if seg.Start > cursor {
			plan.Entries = append(plan.Entries, Entry{
				Start: cursor, End: seg.Start, Kind: SourceOriginal, SegmentID: -1,
			})
		}

		entry := Entry{Start: seg.Start, End: seg.End, Kind: SourceOriginal, SegmentID: seg.ID}
		if task, ok := tasks[seg.ID]; ok && task.Succeeded() {
			entry.Kind = SourceSynthesized
			entry.ClipPath = task.Result.Path
		}
		plan.Entries = append(plan.Entries, entry)
		cursor = seg.End
	}

	if cursor < plan.TrackDuration {
		plan.Entries = append(plan.Entries, Entry{
			Start: cursor, End: plan.TrackDuration, Kind: SourceOriginal, SegmentID: -1,
		})
	}

	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// Validate checks the tiling invariant: ordered entries, positive durations,
// no gaps or overlaps, exact coverage of [0, TrackDuration).
func (p *Plan) Validate() error {
	if len(p.Entries) == 0 {
		return fmt.Errorf("stitch: empty plan")
	}
	const eps = 1e-9
	if math.Abs(p.Entries[0].Start) > eps {
		return fmt.Errorf("stitch: plan does not start at 0 (starts at %.6f)", p.Entries[0].Start)
	}
	for i, e := range p.Entries {
		if e.Duration() <= 0 {
			return fmt.Errorf("stitch: entry %d has non-positive duration", i)
		}
		if i > 0 && math.Abs(e.Start-p.Entries[i-1].End) > eps {
			return fmt.Errorf("stitch: discontinuity between entries %d and %d (%.6f != %.6f)",
				i-1, i, p.Entries[i-1].End, e.Start)
		}
	}
	last := p.Entries[len(p.Entries)-1]
	if math.Abs(last.End-p.TrackDuration) > eps {
		return fmt.Errorf("stitch: plan ends at %.6f, track is %.6f", last.End, p.TrackDuration)
	}
	return nil
}
