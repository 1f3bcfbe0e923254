package diarize

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famflix/voiceswap/cmd/server/internal/media"
)

type fakeEngine struct {
	segments []RawSegment
	err      error
}

func (f *fakeEngine) Diarize(ctx context.Context, audioPath string) ([]RawSegment, error) {
	return f.segments, f.err
}
func (f *fakeEngine) HealthCheck(ctx context.Context) (bool, error) { return f.err == nil, nil }
func (f *fakeEngine) Name() string                                  { return "fake" }

func asset(duration float64) media.AudioAsset {
	return media.AudioAsset{Path: "track.wav", Duration: duration, SampleRate: 16000, Channels: 1}
}

func TestDiarizeOrdersAndAggregates(t *testing.T) {
	eng := &fakeEngine{segments: []RawSegment{
		{Speaker: "SPEAKER_00", Start: 9, End: 12, Confidence: 0.9},
		{Speaker: "SPEAKER_00", Start: 0, End: 5, Confidence: 0.8},
		{Speaker: "SPEAKER_01", Start: 5, End: 9, Confidence: 0.7},
	}}
	d := NewDiarizer(eng, 0)

	result, err := d.Diarize(context.Background(), asset(12))
	require.NoError(t, err)

	require.Len(t, result.Segments, 3)
	for i := 1; i < len(result.Segments); i++ {
		assert.GreaterOrEqual(t, result.Segments[i].Start, result.Segments[i-1].End,
			"segments must be ordered and non-overlapping")
	}
	for i, s := range result.Segments {
		assert.Equal(t, i, s.ID)
		assert.Greater(t, s.Duration(), 0.0)
	}

	assert.Equal(t, 2, result.TotalSpeakers)
	assert.Equal(t, 3, result.TotalSegments)
	assert.InDelta(t, 12.0, result.TotalSpeechDuration, 1e-9)
	assert.Equal(t, "SPEAKER_00", result.PrimarySpeaker)
	assert.LessOrEqual(t, result.TotalSpeechDuration, result.Audio.Duration)

	require.Len(t, result.Speakers, 2)
	assert.InDelta(t, 8.0, result.Speakers[0].TotalDuration, 1e-9)
	assert.Equal(t, 2, result.Speakers[0].SegmentCount)
	assert.InDelta(t, 100.0*8/12, result.Speakers[0].Percentage, 1e-9)
}

func TestDiarizeEmptyResult(t *testing.T) {
	d := NewDiarizer(&fakeEngine{segments: nil}, 0)
	_, err := d.Diarize(context.Background(), asset(30))
	require.ErrorIs(t, err, ErrEmptyDiarization)
}

func TestDiarizeEngineError(t *testing.T) {
	boom := errors.New("model load failed")
	d := NewDiarizer(&fakeEngine{err: boom}, 0)
	_, err := d.Diarize(context.Background(), asset(30))
	require.ErrorIs(t, err, boom)
}

func TestDiarizeLowConfidenceFlag(t *testing.T) {
	eng := &fakeEngine{segments: []RawSegment{
		{Speaker: "SPEAKER_00", Start: 0, End: 2, Confidence: 0.31},
		{Speaker: "SPEAKER_00", Start: 2, End: 4, Confidence: 0.92},
	}}
	d := NewDiarizer(eng, 0.5)

	result, err := d.Diarize(context.Background(), asset(4))
	require.NoError(t, err)
	assert.True(t, result.Segments[0].LowConfidence)
	assert.False(t, result.Segments[1].LowConfidence)
	// Confidence values pass through unmodified.
	assert.Equal(t, 0.31, result.Segments[0].Confidence)
	assert.Equal(t, 0.92, result.Segments[1].Confidence)
}

func TestPostprocessOverlapHigherConfidenceWins(t *testing.T) {
	raw := []RawSegment{
		{Speaker: "SPEAKER_00", Start: 0, End: 6, Confidence: 0.6},
		{Speaker: "SPEAKER_01", Start: 4, End: 10, Confidence: 0.9},
	}
	segs := Postprocess(raw, 10)
	require.Len(t, segs, 2)
	// The lower-confidence segment is trimmed at the winner's start.
	assert.InDelta(t, 0.0, segs[0].Start, 1e-9)
	assert.InDelta(t, 4.0, segs[0].End, 1e-9)
	assert.InDelta(t, 4.0, segs[1].Start, 1e-9)
	assert.InDelta(t, 10.0, segs[1].End, 1e-9)
}

func TestPostprocessOverlapLowerConfidenceTrimmed(t *testing.T) {
	raw := []RawSegment{
		{Speaker: "SPEAKER_00", Start: 0, End: 6, Confidence: 0.9},
		{Speaker: "SPEAKER_01", Start: 4, End: 10, Confidence: 0.5},
	}
	segs := Postprocess(raw, 10)
	require.Len(t, segs, 2)
	assert.InDelta(t, 6.0, segs[1].Start, 1e-9)
	assert.InDelta(t, 10.0, segs[1].End, 1e-9)
}

func TestPostprocessContainedSegmentDropped(t *testing.T) {
	raw := []RawSegment{
		{Speaker: "SPEAKER_00", Start: 0, End: 10, Confidence: 0.9},
		{Speaker: "SPEAKER_01", Start: 3, End: 5, Confidence: 0.4},
	}
	segs := Postprocess(raw, 10)
	require.Len(t, segs, 1)
	assert.Equal(t, "SPEAKER_00", segs[0].Speaker)
}

func TestPostprocessDeterministicRegardlessOfInputOrder(t *testing.T) {
	a := []RawSegment{
		{Speaker: "SPEAKER_00", Start: 0, End: 6, Confidence: 0.6},
		{Speaker: "SPEAKER_01", Start: 4, End: 10, Confidence: 0.9},
		{Speaker: "SPEAKER_02", Start: 9, End: 14, Confidence: 0.9},
	}
	b := []RawSegment{a[2], a[0], a[1]}

	segsA := Postprocess(a, 14)
	segsB := Postprocess(b, 14)
	require.Equal(t, segsA, segsB)
}

func TestPostprocessClampsAndDropsDegenerate(t *testing.T) {
	raw := []RawSegment{
		{Speaker: "SPEAKER_00", Start: -1, End: 3, Confidence: 0.8},
		{Speaker: "SPEAKER_00", Start: 5, End: 5, Confidence: 0.8},   // zero duration
		{Speaker: "SPEAKER_00", Start: 8, End: 99, Confidence: 0.8},  // past EOF
		{Speaker: "SPEAKER_00", Start: 50, End: 60, Confidence: 0.8}, // fully past EOF
	}
	segs := Postprocess(raw, 10)
	require.Len(t, segs, 2)
	assert.InDelta(t, 0.0, segs[0].Start, 1e-9)
	assert.InDelta(t, 10.0, segs[1].End, 1e-9)

	var sum float64
	for _, s := range segs {
		sum += s.Duration()
	}
	assert.LessOrEqual(t, sum, 10.0)
}

func TestHTTPEngineDiarize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/diarize" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"segments": []map[string]interface{}{
				{"speaker": "SPEAKER_00", "start": 0.0, "end": 4.2, "confidence": 0.87},
			},
			"num_speakers": 1,
		})
	}))
	defer server.Close()

	tempDir := t.TempDir()
	audioPath := filepath.Join(tempDir, "test.wav")
	require.NoError(t, os.WriteFile(audioPath, []byte("RIFF....WAVE"), 0o644))

	eng := NewHTTPEngine(server.URL)
	segs, err := eng.Diarize(context.Background(), audioPath)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "SPEAKER_00", segs[0].Speaker)
	assert.InDelta(t, 0.87, segs[0].Confidence, 1e-9)
}

func TestHTTPEngineServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "cuda out of memory"}`))
	}))
	defer server.Close()

	tempDir := t.TempDir()
	audioPath := filepath.Join(tempDir, "test.wav")
	require.NoError(t, os.WriteFile(audioPath, []byte("RIFF....WAVE"), 0o644))

	eng := NewHTTPEngine(server.URL)
	_, err := eng.Diarize(context.Background(), audioPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
