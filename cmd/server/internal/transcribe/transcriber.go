// Package transcribe adapts an external speech-to-text engine and attaches
// transcribed text to diarized segments by temporal overlap.
package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/famflix/voiceswap/cmd/server/internal/diarize"
)

// Chunk is one timed piece of recognized speech as reported by the engine.
type Chunk struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is the engine's answer for one audio track.
type Result struct {
	Chunks   []Chunk `json:"segments"`
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}

// Engine is the interface transcription backends implement.
type Engine interface {
	// Transcribe runs speech recognition on the given WAV file. Empty
	// chunks is a valid result, not an error.
	Transcribe(ctx context.Context, audioPath string, opts *Options) (*Result, error)

	// HealthCheck verifies the engine is operational.
	HealthCheck(ctx context.Context) (bool, error)

	// Name identifies the implementation in logs and job warnings.
	Name() string
}

// Options are optional engine parameters; implementations default anything
// left zero.
type Options struct {
	// Model selects the recognition model (e.g. "base", "large-v3").
	Model string
	// Language forces a language (ISO 639-1); empty means auto-detect.
	Language string
	// Temperature controls sampling; 0 gives deterministic output.
	Temperature float64
	// Timeout overrides the default per-call timeout.
	Timeout time.Duration
}

// Transcriber runs the engine and attaches text to segments.
type Transcriber struct {
	engine Engine
	opts   Options
}

// NewTranscriber creates a Transcriber with fixed engine options.
func NewTranscriber(engine Engine, opts Options) *Transcriber {
	return &Transcriber{engine: engine, opts: opts}
}

// Transcribe recognizes speech on the result's audio track and fills each
// segment's Transcript in place. Segments with no recognized speech get an
// explicit empty string so synthesis can deterministically skip them. The
// full-track transcript is retained on the result for caller display.
func (t *Transcriber) Transcribe(ctx context.Context, result *diarize.Result) error {
	start := time.Now()
	res, err := t.engine.Transcribe(ctx, result.Audio.Path, &t.opts)
	if err != nil {
		return fmt.Errorf("transcribe: engine %s: %w", t.engine.Name(), err)
	}

	Attach(result.Segments, res.Chunks)
	result.FullTranscript = fullText(res)

	slog.Info("[ASR] transcription complete",
		"engine", t.engine.Name(),
		"audio", result.Audio.Path,
		"chunks", len(res.Chunks),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Attach assigns each chunk's text to exactly one segment: the segment whose
// interval contains the chunk's midpoint. A chunk spanning a segment boundary
// goes to the segment with greater overlap. Chunks falling entirely into
// non-speech gaps are dropped. Every segment ends up with an explicit
// transcript string, possibly empty.
func Attach(segments []diarize.Segment, chunks []Chunk) {
	parts := make([][]string, len(segments))

	for _, c := range chunks {
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		idx := targetSegment(segments, c)
		if idx < 0 {
			continue
		}
		parts[idx] = append(parts[idx], text)
	}

	for i := range segments {
		segments[i].Transcript = strings.Join(parts[i], " ")
	}
}

// targetSegment picks the owning segment for a chunk, or -1.
func targetSegment(segments []diarize.Segment, c Chunk) int {
	mid := (c.Start + c.End) / 2

	best := -1
	var bestOverlap float64
	for i := range segments {
		s := &segments[i]
		if mid >= s.Start && mid < s.End {
			return i
		}
		if ov := overlap(s.Start, s.End, c.Start, c.End); ov > bestOverlap {
			bestOverlap = ov
			best = i
		}
	}
	return best
}

func overlap(aStart, aEnd, bStart, bEnd float64) float64 {
	lo := aStart
	if bStart > lo {
		lo = bStart
	}
	hi := aEnd
	if bEnd < hi {
		hi = bEnd
	}
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// fullText prefers the engine's own full text, falling back to joining chunks.
func fullText(res *Result) string {
	if strings.TrimSpace(res.Text) != "" {
		return strings.TrimSpace(res.Text)
	}
	var parts []string
	for _, c := range res.Chunks {
		if t := strings.TrimSpace(c.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
