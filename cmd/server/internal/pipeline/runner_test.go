package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famflix/voiceswap/cmd/server/internal/diarize"
	"github.com/famflix/voiceswap/cmd/server/internal/media"
	"github.com/famflix/voiceswap/cmd/server/internal/stitch"
	"github.com/famflix/voiceswap/cmd/server/internal/synthesis"
	"github.com/famflix/voiceswap/cmd/server/internal/transcribe"
	"github.com/famflix/voiceswap/cmd/server/internal/voice"
)

const trackSeconds = 12.0

// fakeTools stands in for ffmpeg: extraction writes a real canonical WAV,
// muxing copies the stitched track to the output path.
type fakeTools struct {
	extractErr error
	muxErr     error
}

func (f *fakeTools) ExtractAudio(ctx context.Context, videoPath, outPath string) (*media.AudioAsset, error) {
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	frames := int(trackSeconds * media.CanonicalSampleRate)
	data := make([]byte, frames*2)
	for i := range data {
		data[i] = 0x11
	}
	w := &media.WavData{
		SampleRate: media.CanonicalSampleRate, Channels: 1, BitsPerSample: 16, Data: data,
	}
	if err := media.WriteWAV(outPath, w); err != nil {
		return nil, err
	}
	return &media.AudioAsset{
		Path: outPath, Duration: trackSeconds,
		SampleRate: media.CanonicalSampleRate, Channels: 1,
	}, nil
}

func (f *fakeTools) Mux(ctx context.Context, videoPath, audioPath, outPath string) error {
	if f.muxErr != nil {
		return f.muxErr
	}
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, data, 0o644)
}

type fakeDiarizeEngine struct {
	segments []diarize.RawSegment
	err      error
}

func (f *fakeDiarizeEngine) Diarize(ctx context.Context, audioPath string) ([]diarize.RawSegment, error) {
	return f.segments, f.err
}
func (f *fakeDiarizeEngine) HealthCheck(ctx context.Context) (bool, error) { return true, nil }
func (f *fakeDiarizeEngine) Name() string                                  { return "fake-diarize" }

type fakeTranscribeEngine struct {
	chunks []transcribe.Chunk
	err    error
}

func (f *fakeTranscribeEngine) Transcribe(ctx context.Context, audioPath string, opts *transcribe.Options) (*transcribe.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &transcribe.Result{Chunks: f.chunks}, nil
}
func (f *fakeTranscribeEngine) HealthCheck(ctx context.Context) (bool, error) { return true, nil }
func (f *fakeTranscribeEngine) Name() string                                  { return "fake-whisper" }

// fakeTaskRunner synthesizes by writing a short clip of a recognizable
// pattern, or fails every task.
type fakeTaskRunner struct {
	failAll bool
}

func (f *fakeTaskRunner) Run(ctx context.Context, task *synthesis.Task, workDir string) error {
	if f.failAll {
		task.Status = synthesis.StatusFailed
		task.Err = errors.New("engine down")
		task.Error = "engine down"
		return nil
	}
	frames := 2 * media.CanonicalSampleRate
	data := make([]byte, frames*2)
	for i := range data {
		data[i] = 0xee
	}
	clipPath := filepath.Join(workDir, fmt.Sprintf("segment_%04d.wav", task.SegmentID))
	w := &media.WavData{
		SampleRate: media.CanonicalSampleRate, Channels: 1, BitsPerSample: 16, Data: data,
	}
	if err := media.WriteWAV(clipPath, w); err != nil {
		task.Status = synthesis.StatusFailed
		task.Error = err.Error()
		return nil
	}
	task.Status = synthesis.StatusCompleted
	task.Result = &media.AudioAsset{
		Path: clipPath, Duration: 2,
		SampleRate: media.CanonicalSampleRate, Channels: 1,
	}
	return nil
}

// gatedTaskRunner holds every dispatched task until released, recording
// whether its context was cancelled while it waited.
type gatedTaskRunner struct {
	release     chan struct{}
	started     atomic.Int32
	interrupted atomic.Bool
}

func (f *gatedTaskRunner) Run(ctx context.Context, task *synthesis.Task, workDir string) error {
	f.started.Add(1)
	select {
	case <-f.release:
	case <-ctx.Done():
		f.interrupted.Store(true)
	}
	task.Status = synthesis.StatusFailed
	task.Err = errors.New("engine stopped")
	task.Error = "engine stopped"
	return nil
}

type runnerFixture struct {
	runner *Runner
	store  *Store
	video  string
}

func newRunnerFixture(t *testing.T, tools Tools, dEng diarize.Engine, tEng transcribe.Engine, taskRunner TaskRunner) *runnerFixture {
	t.Helper()
	dir := t.TempDir()

	store, err := NewStore(filepath.Join(dir, "jobs"))
	require.NoError(t, err)

	catalog, err := voice.NewCatalog([]voice.CatalogVoice{
		{ID: "voice-a", Name: "Alloy"},
		{ID: "voice-b", Name: "Brook"},
	})
	require.NoError(t, err)

	videoPath := filepath.Join(dir, "in.mp4")
	require.NoError(t, os.WriteFile(videoPath, []byte("not really a video"), 0o644))

	runner := NewRunner(
		store,
		tools,
		diarize.NewDiarizer(dEng, 0.5),
		transcribe.NewTranscriber(tEng, transcribe.Options{}),
		voice.NewResolver(catalog, voice.NewCloneStore(nil)),
		taskRunner,
		stitch.NewStitcher(""),
		Options{WorkRoot: filepath.Join(dir, "work"), MaxConcurrentSynthesis: 2},
	)
	return &runnerFixture{runner: runner, store: store, video: videoPath}
}

func waitForStage(t *testing.T, store *Store, jobID string, want Stage) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		j, err := store.Get(jobID)
		if err != nil {
			return false
		}
		job = j
		return j.Stage == want || j.Stage.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, want, job.Stage, "job error: %s", job.Error)
	return job
}

func defaultEngines() (*fakeDiarizeEngine, *fakeTranscribeEngine) {
	dEng := &fakeDiarizeEngine{segments: []diarize.RawSegment{
		{Speaker: "SPEAKER_00", Start: 1, End: 4, Confidence: 0.95},
		{Speaker: "SPEAKER_01", Start: 5, End: 9, Confidence: 0.9},
		{Speaker: "SPEAKER_00", Start: 9.5, End: 11, Confidence: 0.92},
	}}
	tEng := &fakeTranscribeEngine{chunks: []transcribe.Chunk{
		{Start: 1, End: 4, Text: "hello there"},
		{Start: 5, End: 9, Text: "general greetings"},
		{Start: 9.5, End: 11, Text: "goodbye now"},
	}}
	return dEng, tEng
}

func TestRunnerEndToEnd(t *testing.T) {
	dEng, tEng := defaultEngines()
	fx := newRunnerFixture(t, &fakeTools{}, dEng, tEng, &fakeTaskRunner{})

	job, err := fx.runner.Submit(fx.video)
	require.NoError(t, err)

	job = waitForStage(t, fx.store, job.ID, StageAwaitingMapping)
	require.NotNil(t, job.Diarization)
	assert.Len(t, job.Diarization.Segments, 3)
	assert.Len(t, job.Diarization.Speakers, 2)
	assert.Equal(t, "hello there", job.Diarization.Segments[0].Transcript)

	job, err = fx.runner.ApplyMapping(job.ID, voice.ReplacementMapping{
		"SPEAKER_00": {ID: "voice-a"},
		"SPEAKER_01": voice.Keep(),
	})
	require.NoError(t, err)
	// keep-original speakers get no tasks
	assert.Len(t, job.Tasks, 2)

	job = waitForStage(t, fx.store, job.ID, StageCompleted)
	assert.Equal(t, Progress{Done: 2, Total: 2}, job.Progress)
	assert.Empty(t, job.Warnings)
	require.NotEmpty(t, job.OutputPath)
	assert.FileExists(t, job.OutputPath)
	assert.Equal(t, "output.mp4", filepath.Base(job.OutputPath))

	// The mux fake copies the stitched track verbatim, so the output must
	// parse as a WAV of exactly the original duration.
	out, err := media.ReadWAV(job.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, int(trackSeconds*media.CanonicalSampleRate), out.Frames())

	// Replaced region carries clip samples, keep-original region does not.
	assert.Equal(t, byte(0xee), out.Data[2*media.CanonicalSampleRate*2])
	assert.Equal(t, byte(0x11), out.Data[6*media.CanonicalSampleRate*2])
}

func TestRunnerAllTasksFailedFallsBackToOriginal(t *testing.T) {
	dEng, tEng := defaultEngines()
	fx := newRunnerFixture(t, &fakeTools{}, dEng, tEng, &fakeTaskRunner{failAll: true})

	job, err := fx.runner.Submit(fx.video)
	require.NoError(t, err)
	job = waitForStage(t, fx.store, job.ID, StageAwaitingMapping)

	_, err = fx.runner.ApplyMapping(job.ID, voice.ReplacementMapping{
		"SPEAKER_00": {ID: "voice-a"},
		"SPEAKER_01": {ID: "voice-b"},
	})
	require.NoError(t, err)

	job = waitForStage(t, fx.store, job.ID, StageCompleted)

	audio, err := os.ReadFile(job.AudioPath)
	require.NoError(t, err)
	output, err := os.ReadFile(job.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, audio, output, "with no usable clips the track must be bit-identical")

	assert.NotEmpty(t, job.Warnings)
	found := false
	for _, w := range job.Warnings {
		if w == "all synthesis tasks failed; output audio is unchanged" {
			found = true
		}
	}
	assert.True(t, found, "warnings: %v", job.Warnings)
}

func TestRunnerEmptyDiarizationFailsJob(t *testing.T) {
	_, tEng := defaultEngines()
	fx := newRunnerFixture(t, &fakeTools{}, &fakeDiarizeEngine{}, tEng, &fakeTaskRunner{})

	job, err := fx.runner.Submit(fx.video)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, err := fx.store.Get(job.ID)
		return err == nil && j.Stage == StageFailed
	}, 5*time.Second, 10*time.Millisecond)

	j, err := fx.store.Get(job.ID)
	require.NoError(t, err)
	assert.Contains(t, j.Error, "diarize")
}

func TestRunnerTranscriptionFailureIsAWarning(t *testing.T) {
	dEng, _ := defaultEngines()
	tEng := &fakeTranscribeEngine{err: errors.New("whisper offline")}
	fx := newRunnerFixture(t, &fakeTools{}, dEng, tEng, &fakeTaskRunner{})

	job, err := fx.runner.Submit(fx.video)
	require.NoError(t, err)

	job = waitForStage(t, fx.store, job.ID, StageAwaitingMapping)
	assert.NotEmpty(t, job.Warnings)
	for _, seg := range job.Diarization.Segments {
		assert.Equal(t, "", seg.Transcript)
	}
}

func TestRunnerRejectsMappingBeforeDiarizationPublished(t *testing.T) {
	dEng, tEng := defaultEngines()
	fx := newRunnerFixture(t, &fakeTools{}, dEng, tEng, &fakeTaskRunner{})

	// Not submitted through the runner: the job sits in StageCreated.
	job, err := fx.store.Create(fx.video, t.TempDir())
	require.NoError(t, err)

	_, err = fx.runner.ApplyMapping(job.ID, voice.ReplacementMapping{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRunnerRejectsInvalidMapping(t *testing.T) {
	dEng, tEng := defaultEngines()
	fx := newRunnerFixture(t, &fakeTools{}, dEng, tEng, &fakeTaskRunner{})

	job, err := fx.runner.Submit(fx.video)
	require.NoError(t, err)
	job = waitForStage(t, fx.store, job.ID, StageAwaitingMapping)

	_, err = fx.runner.ApplyMapping(job.ID, voice.ReplacementMapping{
		"SPEAKER_99": {ID: "voice-a"},
	})
	var verr *voice.ValidationError
	require.ErrorAs(t, err, &verr)

	// The job must still be mappable after a rejected attempt.
	j, err := fx.store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StageAwaitingMapping, j.Stage)
}

func TestRunnerCancelDuringSynthesisDrains(t *testing.T) {
	dEng, tEng := defaultEngines()
	gate := &gatedTaskRunner{release: make(chan struct{})}
	fx := newRunnerFixture(t, &fakeTools{}, dEng, tEng, gate)

	job, err := fx.runner.Submit(fx.video)
	require.NoError(t, err)
	job = waitForStage(t, fx.store, job.ID, StageAwaitingMapping)

	// Three segments, both speakers replaced: three tasks against a pool
	// of two, so one task is still undispatched when the cancel lands.
	_, err = fx.runner.ApplyMapping(job.ID, voice.ReplacementMapping{
		"SPEAKER_00": {ID: "voice-a"},
		"SPEAKER_01": {ID: "voice-b"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return gate.started.Load() == 2 },
		5*time.Second, 10*time.Millisecond)

	requested, err := fx.runner.Cancel(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StageSynthesizing, requested.Stage)
	assert.True(t, requested.CancelRequested)

	// In-flight engine calls keep their context until the engine returns.
	time.Sleep(50 * time.Millisecond)
	assert.False(t, gate.interrupted.Load(), "in-flight synthesis must drain, not be interrupted")

	close(gate.release)
	job = waitForStage(t, fx.store, job.ID, StageCancelled)
	assert.False(t, gate.interrupted.Load())
	assert.EqualValues(t, 2, gate.started.Load(), "no new task may start after cancel")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, fx.runner.Shutdown(ctx), "workers must drain after cancel")

	// The cancelled job stays cancelled; the racing worker must not
	// overwrite the terminal stage.
	j, err := fx.store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StageCancelled, j.Stage)
}

func TestRunnerRejectsOverlongTranscript(t *testing.T) {
	dEng, _ := defaultEngines()
	tEng := &fakeTranscribeEngine{chunks: []transcribe.Chunk{
		{Start: 1, End: 4, Text: strings.Repeat("a", 900)},
	}}
	fx := newRunnerFixture(t, &fakeTools{}, dEng, tEng, &fakeTaskRunner{})

	job, err := fx.runner.Submit(fx.video)
	require.NoError(t, err)
	job = waitForStage(t, fx.store, job.ID, StageAwaitingMapping)

	_, err = fx.runner.ApplyMapping(job.ID, voice.ReplacementMapping{
		"SPEAKER_00": {ID: "voice-a"},
	})
	var verr *voice.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Problems[0], "transcript")

	// Keeping the overlong speaker's original voice is still legal.
	_, err = fx.runner.ApplyMapping(job.ID, voice.ReplacementMapping{
		"SPEAKER_00": voice.Keep(),
	})
	require.NoError(t, err)
	waitForStage(t, fx.store, job.ID, StageCompleted)
}

func TestRunnerCancelWhileAwaitingMapping(t *testing.T) {
	dEng, tEng := defaultEngines()
	fx := newRunnerFixture(t, &fakeTools{}, dEng, tEng, &fakeTaskRunner{})

	job, err := fx.runner.Submit(fx.video)
	require.NoError(t, err)
	waitForStage(t, fx.store, job.ID, StageAwaitingMapping)

	cancelled, err := fx.runner.Cancel(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StageCancelled, cancelled.Stage)

	_, err = fx.runner.ApplyMapping(job.ID, voice.ReplacementMapping{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRunnerCancelTerminalJobRejected(t *testing.T) {
	dEng, tEng := defaultEngines()
	fx := newRunnerFixture(t, &fakeTools{}, dEng, tEng, &fakeTaskRunner{})

	job, err := fx.runner.Submit(fx.video)
	require.NoError(t, err)
	job = waitForStage(t, fx.store, job.ID, StageAwaitingMapping)
	_, err = fx.runner.ApplyMapping(job.ID, voice.ReplacementMapping{
		"SPEAKER_00": {ID: "voice-a"},
	})
	require.NoError(t, err)
	waitForStage(t, fx.store, job.ID, StageCompleted)

	_, err = fx.runner.Cancel(job.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRunnerDiscardRemovesWorkDir(t *testing.T) {
	dEng, tEng := defaultEngines()
	fx := newRunnerFixture(t, &fakeTools{}, dEng, tEng, &fakeTaskRunner{})

	job, err := fx.runner.Submit(fx.video)
	require.NoError(t, err)
	job = waitForStage(t, fx.store, job.ID, StageAwaitingMapping)
	workDir := job.WorkDir

	_, err = fx.runner.Cancel(job.ID)
	require.NoError(t, err)
	require.NoError(t, fx.runner.Shutdown(context.Background()))

	require.NoError(t, fx.runner.Discard(job.ID))
	assert.NoDirExists(t, workDir)
	_, err = fx.store.Get(job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRunnerExtractionFailureFailsJob(t *testing.T) {
	dEng, tEng := defaultEngines()
	fx := newRunnerFixture(t, &fakeTools{extractErr: media.ErrNoAudioTrack}, dEng, tEng, &fakeTaskRunner{})

	job, err := fx.runner.Submit(fx.video)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, err := fx.store.Get(job.ID)
		return err == nil && j.Stage == StageFailed
	}, 5*time.Second, 10*time.Millisecond)

	j, err := fx.store.Get(job.ID)
	require.NoError(t, err)
	assert.Contains(t, j.Error, "extract")
}

func TestRunnerSubmitRejectsMissingVideo(t *testing.T) {
	dEng, tEng := defaultEngines()
	fx := newRunnerFixture(t, &fakeTools{}, dEng, tEng, &fakeTaskRunner{})

	_, err := fx.runner.Submit(filepath.Join(t.TempDir(), "missing.mp4"))
	assert.Error(t, err)
}
