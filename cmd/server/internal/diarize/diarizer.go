package diarize

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/famflix/voiceswap/cmd/server/internal/media"
)

// DefaultConfidenceFloor flags segments the caller should review before
// assigning a replacement voice. Segments below the floor are flagged, never
// dropped or auto-thresholded.
const DefaultConfidenceFloor = 0.5

// Diarizer turns engine output into a validated Result.
type Diarizer struct {
	engine          Engine
	confidenceFloor float64
}

// NewDiarizer creates a Diarizer over an engine. A confidenceFloor <= 0
// selects the default.
func NewDiarizer(engine Engine, confidenceFloor float64) *Diarizer {
	if confidenceFloor <= 0 {
		confidenceFloor = DefaultConfidenceFloor
	}
	return &Diarizer{engine: engine, confidenceFloor: confidenceFloor}
}

// Diarize runs the engine on the audio asset and post-processes its raw
// segments: sorted by start time, overlaps resolved deterministically (higher
// confidence wins), zero-duration segments dropped, ends clamped to the track
// duration. Zero engine segments map to ErrEmptyDiarization.
func (d *Diarizer) Diarize(ctx context.Context, audio media.AudioAsset) (*Result, error) {
	start := time.Now()
	raw, err := d.engine.Diarize(ctx, audio.Path)
	if err != nil {
		return nil, fmt.Errorf("diarize: engine %s: %w", d.engine.Name(), err)
	}
	if len(raw) == 0 {
		return nil, ErrEmptyDiarization
	}

	segments := Postprocess(raw, audio.Duration)
	if len(segments) == 0 {
		// Everything the engine reported collapsed to zero duration after
		// clamping, which is indistinguishable from silence for callers.
		return nil, ErrEmptyDiarization
	}

	for i := range segments {
		segments[i].ID = i
		segments[i].LowConfidence = segments[i].Confidence < d.confidenceFloor
	}

	result := &Result{
		Audio:         audio,
		Segments:      segments,
		TotalSegments: len(segments),
	}
	aggregateSpeakers(result)

	slog.Info("[SD] diarization complete",
		"engine", d.engine.Name(),
		"audio", audio.Path,
		"segments", result.TotalSegments,
		"speakers", result.TotalSpeakers,
		"primary", result.PrimarySpeaker,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// Postprocess converts raw engine segments into the ordered, non-overlapping
// form. Resolution is deterministic: input order never changes the output.
//
// Ordering for conflict resolution: earlier start first; on equal start the
// higher confidence first; on equal confidence the lexicographically smaller
// speaker label first. When two segments overlap, the one that sorts later is
// trimmed to start where the kept one ends; segments that collapse to zero or
// negative duration are dropped.
func Postprocess(raw []RawSegment, trackDuration float64) []Segment {
	segs := make([]Segment, 0, len(raw))
	for _, r := range raw {
		s := Segment{
			Speaker:    r.Speaker,
			Start:      r.Start,
			End:        r.End,
			Confidence: r.Confidence,
		}
		// Clamp to the track; engines occasionally report ends past EOF.
		if trackDuration > 0 && s.End > trackDuration {
			s.End = trackDuration
		}
		if s.Start < 0 {
			s.Start = 0
		}
		if s.End-s.Start <= 0 {
			continue
		}
		segs = append(segs, s)
	}

	sort.SliceStable(segs, func(i, j int) bool {
		if segs[i].Start != segs[j].Start {
			return segs[i].Start < segs[j].Start
		}
		if segs[i].Confidence != segs[j].Confidence {
			return segs[i].Confidence > segs[j].Confidence
		}
		return segs[i].Speaker < segs[j].Speaker
	})

	out := segs[:0]
	for _, s := range segs {
		if len(out) == 0 {
			out = append(out, s)
			continue
		}
		prev := &out[len(out)-1]
		if s.Start >= prev.End {
			out = append(out, s)
			continue
		}
		// Overlap. Higher confidence wins the contested interval.
		if s.Confidence > prev.Confidence {
			prev.End = s.Start
			if prev.Duration() <= 0 {
				out = out[:len(out)-1]
			}
			out = append(out, s)
			continue
		}
		s.Start = prev.End
		if s.End-s.Start > 0 {
			out = append(out, s)
		}
	}

	return append([]Segment(nil), out...)
}

// aggregateSpeakers fills the per-speaker statistics and the primary speaker
// (maximum total speaking time; lexicographic tie break for determinism).
func aggregateSpeakers(r *Result) {
	totals := map[string]*Speaker{}
	var order []string
	var speech float64
	for _, s := range r.Segments {
		sp, ok := totals[s.Speaker]
		if !ok {
			sp = &Speaker{Label: s.Speaker}
			totals[s.Speaker] = sp
			order = append(order, s.Speaker)
		}
		sp.TotalDuration += s.Duration()
		sp.SegmentCount++
		speech += s.Duration()
	}

	sort.Strings(order)
	r.Speakers = r.Speakers[:0]
	for _, label := range order {
		sp := totals[label]
		if r.Audio.Duration > 0 {
			sp.Percentage = sp.TotalDuration / r.Audio.Duration * 100
		}
		r.Speakers = append(r.Speakers, *sp)
		if r.PrimarySpeaker == "" || sp.TotalDuration > totals[r.PrimarySpeaker].TotalDuration {
			r.PrimarySpeaker = label
		}
	}
	r.TotalSpeakers = len(r.Speakers)
	r.TotalSpeechDuration = speech
}
