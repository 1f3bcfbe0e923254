package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/famflix/voiceswap/cmd/server/internal/diarize"
	"github.com/famflix/voiceswap/cmd/server/internal/media"
	"github.com/famflix/voiceswap/cmd/server/internal/metrics"
	"github.com/famflix/voiceswap/cmd/server/internal/stitch"
	"github.com/famflix/voiceswap/cmd/server/internal/synthesis"
	"github.com/famflix/voiceswap/cmd/server/internal/transcribe"
	"github.com/famflix/voiceswap/cmd/server/internal/voice"
	"github.com/famflix/voiceswap/pkg/logger"
)

// Tools is the slice of the media toolchain the runner needs. Satisfied by
// *media.Toolchain.
type Tools interface {
	ExtractAudio(ctx context.Context, videoPath, outPath string) (*media.AudioAsset, error)
	Mux(ctx context.Context, videoPath, audioPath, outPath string) error
}

// TaskRunner executes one synthesis task to a terminal status. Satisfied by
// *synthesis.Synthesizer.
type TaskRunner interface {
	Run(ctx context.Context, task *synthesis.Task, workDir string) error
}

// Options tunes the runner.
type Options struct {
	// WorkRoot is where per-job working directories are created.
	WorkRoot string
	// MaxConcurrentSynthesis bounds the synthesis fan-out. Defaults to 4.
	MaxConcurrentSynthesis int
	// MaxTextLength caps the transcript length a single synthesis request
	// may carry. Mappings that would synthesize longer text are rejected
	// up front. Defaults to 800.
	MaxTextLength int
}

// Runner owns job execution: it advances jobs through the stage machine and
// runs the per-stage work in background goroutines, one pipeline per job.
type Runner struct {
	store       *Store
	tools       Tools
	diarizer    *diarize.Diarizer
	transcriber *transcribe.Transcriber
	resolver    *voice.Resolver
	synth       TaskRunner
	stitcher    *stitch.Stitcher
	opts        Options
	log         *slog.Logger

	mu       sync.Mutex
	controls map[string]*jobControl
	wg       sync.WaitGroup
}

// jobControl steers one job's background goroutine. cancel interrupts the
// stage context outright (shutdown, cancel outside synthesis); quiesce is
// closed to stop new task dispatch while in-flight engine calls drain.
type jobControl struct {
	cancel   context.CancelFunc
	quiesce  chan struct{}
	quiesced bool // guarded by Runner.mu
}

// NewRunner wires the pipeline components together.
func NewRunner(store *Store, tools Tools, diarizer *diarize.Diarizer,
	transcriber *transcribe.Transcriber, resolver *voice.Resolver,
	synth TaskRunner, stitcher *stitch.Stitcher, opts Options) *Runner {
	if opts.MaxConcurrentSynthesis <= 0 {
		opts.MaxConcurrentSynthesis = 4
	}
	if opts.MaxTextLength <= 0 {
		opts.MaxTextLength = 800
	}
	return &Runner{
		store:       store,
		tools:       tools,
		diarizer:    diarizer,
		transcriber: transcriber,
		resolver:    resolver,
		synth:       synth,
		stitcher:    stitcher,
		opts:        opts,
		log:         logger.L(),
		controls:    make(map[string]*jobControl),
	}
}

// Store exposes the job store for read-side handlers.
func (r *Runner) Store() *Store { return r.store }

// Submit admits a video and starts the preparation stages (extract,
// diarize, transcribe) in the background. The returned job is in
// StageCreated; poll it until it reaches StageAwaitingMapping.
func (r *Runner) Submit(videoPath string) (*Job, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return nil, fmt.Errorf("pipeline: video not readable: %w", err)
	}
	job, err := r.store.Create(videoPath, r.opts.WorkRoot)
	if err != nil {
		return nil, err
	}
	metrics.RecordJobStarted()
	r.log.Info("[JOB] admitted", "job_id", job.ID, "video", videoPath)

	r.spawn(job.ID, r.prepare)
	return job, nil
}

// ApplyMapping validates the speaker assignment, creates the synthesis
// tasks, and starts the render stages (synthesize, stitch, mux) in the
// background. Only legal while the job is awaiting its mapping.
func (r *Runner) ApplyMapping(jobID string, mapping voice.ReplacementMapping) (*Job, error) {
	job, err := r.store.Update(jobID, func(j *Job) error {
		if err := checkTransition(j.Stage, StageSynthesizing); err != nil {
			return err
		}
		if j.Diarization == nil {
			return fmt.Errorf("pipeline: job %s has no diarization result", j.ID)
		}
		effective, err := r.resolver.Resolve(mapping, j.Diarization)
		if err != nil {
			return err
		}
		if problems := overlongTranscripts(j.Diarization, effective, r.opts.MaxTextLength); len(problems) > 0 {
			return &voice.ValidationError{Problems: problems}
		}
		j.Mapping = effective
		j.Tasks = buildTasks(j.Diarization, effective)
		j.Progress = Progress{Done: 0, Total: len(j.Tasks)}
		j.Stage = StageSynthesizing
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.log.Info("[JOB] mapping applied", "job_id", jobID, "tasks", len(job.Tasks))

	r.spawn(jobID, r.render)
	return job, nil
}

// Cancel stops a job. During synthesis it stops new task dispatch and lets
// in-flight engine calls drain; the render worker marks the job cancelled
// once they finish, so no engine-side task is orphaned mid-call. In every
// other cancellable stage the work is interrupted through its context and
// the job is cancelled directly.
func (r *Runner) Cancel(jobID string) (*Job, error) {
	job, err := r.store.Update(jobID, func(j *Job) error {
		if err := checkTransition(j.Stage, StageCancelled); err != nil {
			return err
		}
		if j.Stage == StageSynthesizing {
			j.CancelRequested = true
			return nil
		}
		j.Stage = StageCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}

	if job.CancelRequested && job.Stage == StageSynthesizing {
		r.quiesce(jobID)
		r.log.Info("[JOB] cancel requested, draining synthesis", "job_id", jobID)
		return job, nil
	}

	metrics.RecordJobOutcome("cancelled")
	r.mu.Lock()
	ctl := r.controls[jobID]
	r.mu.Unlock()
	if ctl != nil {
		ctl.cancel()
	}
	r.log.Info("[JOB] cancelled", "job_id", jobID)
	return job, nil
}

// quiesce closes the job's dispatch gate exactly once.
func (r *Runner) quiesce(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctl := r.controls[jobID]
	if ctl != nil && !ctl.quiesced {
		ctl.quiesced = true
		close(ctl.quiesce)
	}
}

// quiesceChan returns the job's dispatch gate, or nil (never closed) when
// no worker is registered.
func (r *Runner) quiesceChan(jobID string) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctl := r.controls[jobID]; ctl != nil {
		return ctl.quiesce
	}
	return nil
}

// Discard removes a terminal job's record and working directory.
func (r *Runner) Discard(jobID string) error {
	job, err := r.store.Get(jobID)
	if err != nil {
		return err
	}
	if err := r.store.Delete(jobID); err != nil {
		return err
	}
	if job.WorkDir != "" {
		if err := os.RemoveAll(job.WorkDir); err != nil {
			return fmt.Errorf("pipeline: remove work dir: %w", err)
		}
	}
	return nil
}

// Shutdown cancels all in-flight jobs and waits for their goroutines to
// drain, or until ctx expires.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for _, ctl := range r.controls {
		ctl.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// spawn runs fn for the job in the background with a registered control.
func (r *Runner) spawn(jobID string, fn func(ctx context.Context, jobID string)) {
	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.controls[jobID] = &jobControl{cancel: cancel, quiesce: make(chan struct{})}
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.controls, jobID)
			r.mu.Unlock()
		}()
		fn(ctx, jobID)
	}()
}

// prepare runs extraction, diarization and transcription, parking the job
// at StageAwaitingMapping.
func (r *Runner) prepare(ctx context.Context, jobID string) {
	job, err := r.store.Get(jobID)
	if err != nil {
		r.log.Error("[JOB] prepare lookup failed", "job_id", jobID, "error", err.Error())
		return
	}

	if _, err := r.advance(jobID, StageExtracting); err != nil {
		return
	}
	audioPath := filepath.Join(job.WorkDir, "audio.wav")
	start := time.Now()
	asset, err := r.tools.ExtractAudio(ctx, job.VideoPath, audioPath)
	metrics.RecordStage("extract", time.Since(start).Seconds(), err == nil)
	if err != nil {
		r.fail(ctx, jobID, "extract", err)
		return
	}
	logger.LogStage(r.log, "extract", "audio extracted", jobID, time.Since(start).Milliseconds(), "")

	if _, err := r.advance(jobID, StageDiarizing); err != nil {
		return
	}
	start = time.Now()
	result, err := r.diarizer.Diarize(ctx, *asset)
	metrics.RecordStage("diarize", time.Since(start).Seconds(), err == nil)
	if err != nil {
		r.fail(ctx, jobID, "diarize", err)
		return
	}

	var transcribeWarning string
	start = time.Now()
	if err := r.transcriber.Transcribe(ctx, result); err != nil {
		if ctx.Err() != nil {
			r.fail(ctx, jobID, "transcribe", err)
			return
		}
		// Segments keep empty transcripts; synthesis for them is skipped
		// and their original audio passes through.
		transcribeWarning = fmt.Sprintf("transcription failed, segments carry no text: %v", err)
		metrics.RecordStageError("transcribe", "TRANSCRIBE_FAILED")
	}
	metrics.RecordStage("transcribe", time.Since(start).Seconds(), transcribeWarning == "")

	_, err = r.store.Update(jobID, func(j *Job) error {
		if err := checkTransition(j.Stage, StageAwaitingMapping); err != nil {
			return err
		}
		j.Stage = StageAwaitingMapping
		j.AudioPath = audioPath
		j.Diarization = result
		if transcribeWarning != "" {
			j.Warnings = append(j.Warnings, transcribeWarning)
		}
		return nil
	})
	if err != nil {
		r.logTransitionFailure(jobID, StageAwaitingMapping, err)
		return
	}
	r.log.Info("[JOB] awaiting mapping",
		"job_id", jobID,
		"speakers", len(result.Speakers),
		"segments", len(result.Segments))
}

// render runs the synthesis fan-out, stitching and muxing.
func (r *Runner) render(ctx context.Context, jobID string) {
	job, err := r.store.Get(jobID)
	if err != nil {
		r.log.Error("[JOB] render lookup failed", "job_id", jobID, "error", err.Error())
		return
	}

	clipsDir := filepath.Join(job.WorkDir, "clips")
	if err := os.MkdirAll(clipsDir, 0o755); err != nil {
		r.fail(ctx, jobID, "synthesize", err)
		return
	}

	start := time.Now()
	failed, quiesced, err := r.runTasks(ctx, jobID, job.Tasks, clipsDir, r.quiesceChan(jobID))
	metrics.RecordStage("synthesize", time.Since(start).Seconds(), err == nil)
	if quiesced {
		r.completeCancel(jobID)
		return
	}
	if err != nil {
		r.fail(ctx, jobID, "synthesize", err)
		return
	}
	if failed > 0 && failed == len(job.Tasks) {
		r.warn(jobID, "all synthesis tasks failed; output audio is unchanged")
	}

	job, err = r.store.Get(jobID)
	if err != nil {
		return
	}
	if _, err := r.advance(jobID, StageStitching); err != nil {
		return
	}
	stitchedPath := filepath.Join(job.WorkDir, "stitched.wav")
	start = time.Now()
	plan, err := stitch.BuildPlan(job.Diarization, job.taskIndex())
	if err == nil {
		err = r.stitcher.Stitch(job.AudioPath, plan, stitchedPath)
	}
	metrics.RecordStage("stitch", time.Since(start).Seconds(), err == nil)
	if err != nil {
		r.fail(ctx, jobID, "stitch", err)
		return
	}

	if _, err := r.advance(jobID, StageMuxing); err != nil {
		return
	}
	outPath := filepath.Join(job.WorkDir, outputName(job.VideoPath))
	start = time.Now()
	err = r.tools.Mux(ctx, job.VideoPath, stitchedPath, outPath)
	metrics.RecordStage("mux", time.Since(start).Seconds(), err == nil)
	if err != nil {
		r.fail(ctx, jobID, "mux", err)
		return
	}

	_, err = r.store.Update(jobID, func(j *Job) error {
		if err := checkTransition(j.Stage, StageCompleted); err != nil {
			return err
		}
		j.Stage = StageCompleted
		j.OutputPath = outPath
		return nil
	})
	if err != nil {
		r.logTransitionFailure(jobID, StageCompleted, err)
		return
	}
	metrics.RecordJobOutcome("completed")
	r.log.Info("[JOB] completed", "job_id", jobID, "output", outPath)
}

// runTasks fans the synthesis tasks out over a bounded worker pool and
// joins before returning. Per-task failures are recorded on the job as
// warnings. A closed quiesce gate stops new dispatch but leaves the
// contexts of running engine calls untouched so they drain; only a hard
// context cancel is returned as an error.
func (r *Runner) runTasks(ctx context.Context, jobID string, tasks []*synthesis.Task, clipsDir string, quiesce <-chan struct{}) (failed int, quiesced bool, err error) {
	sem := semaphore.NewWeighted(int64(r.opts.MaxConcurrentSynthesis))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, snap := range tasks {
		select {
		case <-quiesce:
			quiesced = true
		default:
		}
		if quiesced {
			break
		}
		task := *snap
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)
			select {
			case <-quiesce:
				return
			default:
			}

			_ = r.synth.Run(ctx, &task, clipsDir)
			if ctx.Err() != nil {
				return
			}

			status := "completed"
			if task.Failed() {
				if errors.Is(task.Err, synthesis.ErrTextEmpty) {
					status = "skipped"
				} else {
					status = "failed"
					mu.Lock()
					failed++
					mu.Unlock()
				}
			}
			metrics.RecordSynthesisTask(status)

			_, uerr := r.store.Update(jobID, func(j *Job) error {
				for i, t := range j.Tasks {
					if t.ID == task.ID {
						tc := task
						j.Tasks[i] = &tc
						break
					}
				}
				j.Progress.Done++
				if status == "failed" {
					j.Warnings = append(j.Warnings,
						fmt.Sprintf("segment %d falls back to original audio: %s", task.SegmentID, task.Error))
				}
				return nil
			})
			if uerr != nil {
				r.log.Error("[JOB] task state update failed",
					"job_id", jobID, "task_id", task.ID, "error", uerr.Error())
			}
		}()
	}
	wg.Wait()

	select {
	case <-quiesce:
		quiesced = true
	default:
	}
	if quiesced {
		return failed, true, nil
	}
	if ctx.Err() != nil {
		return failed, false, ctx.Err()
	}
	return failed, false, nil
}

// completeCancel finishes a drain-style cancel once the fan-out has joined.
func (r *Runner) completeCancel(jobID string) {
	_, err := r.store.Update(jobID, func(j *Job) error {
		if err := checkTransition(j.Stage, StageCancelled); err != nil {
			return err
		}
		j.Stage = StageCancelled
		return nil
	})
	if err != nil {
		r.logTransitionFailure(jobID, StageCancelled, err)
		return
	}
	metrics.RecordJobOutcome("cancelled")
	r.log.Info("[JOB] cancelled after synthesis drained", "job_id", jobID)
}

// overlongTranscripts lists every segment whose text the mapping would send
// to the synthesis engine past the request cap. Keep-original segments never
// synthesize, so their transcript length does not matter.
func overlongTranscripts(result *diarize.Result, mapping voice.ReplacementMapping, max int) []string {
	var problems []string
	for _, seg := range result.Segments {
		identity, ok := mapping[seg.Speaker]
		if !ok || identity.IsKeepOriginal() {
			continue
		}
		if len(seg.Transcript) > max {
			problems = append(problems, fmt.Sprintf(
				"segment %d: transcript is %d characters, synthesis accepts at most %d", seg.ID, len(seg.Transcript), max))
		}
	}
	return problems
}

// buildTasks creates one task per segment whose speaker maps to a
// replacement voice. Keep-original speakers get no task.
func buildTasks(result *diarize.Result, mapping voice.ReplacementMapping) []*synthesis.Task {
	var tasks []*synthesis.Task
	for _, seg := range result.Segments {
		identity, ok := mapping[seg.Speaker]
		if !ok || identity.IsKeepOriginal() {
			continue
		}
		tasks = append(tasks, &synthesis.Task{
			ID:        uuid.NewString(),
			SegmentID: seg.ID,
			Voice:     identity,
			Text:      seg.Transcript,
			Status:    synthesis.StatusQueued,
		})
	}
	return tasks
}

// advance moves the job forward one stage, logging losses against
// concurrent cancellation instead of treating them as errors.
func (r *Runner) advance(jobID string, next Stage) (*Job, error) {
	job, err := r.store.Transition(jobID, next)
	if err != nil {
		r.logTransitionFailure(jobID, next, err)
		return nil, err
	}
	return job, nil
}

func (r *Runner) logTransitionFailure(jobID string, next Stage, err error) {
	if errors.Is(err, ErrInvalidTransition) {
		// Usually a cancel racing the worker. The job is already terminal.
		r.log.Info("[JOB] stage advance skipped", "job_id", jobID, "wanted", string(next), "reason", err.Error())
		return
	}
	r.log.Error("[JOB] stage advance failed", "job_id", jobID, "wanted", string(next), "error", err.Error())
}

// fail moves the job to its terminal failure state. A job that was
// cancelled while the stage ran stays cancelled.
func (r *Runner) fail(ctx context.Context, jobID, stage string, cause error) {
	if ctx.Err() != nil && errors.Is(cause, context.Canceled) {
		return
	}
	metrics.RecordStageError(stage, errorCode(cause))
	_, err := r.store.Update(jobID, func(j *Job) error {
		if j.Stage.Terminal() {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Stage, StageFailed)
		}
		j.Stage = StageFailed
		j.Error = fmt.Sprintf("%s: %v", stage, cause)
		return nil
	})
	if err != nil {
		r.logTransitionFailure(jobID, StageFailed, err)
		return
	}
	metrics.RecordJobOutcome("failed")
	logger.LogStage(r.log, stage, "stage failed", jobID, 0, errorCode(cause))
}

func (r *Runner) warn(jobID, msg string) {
	_, err := r.store.Update(jobID, func(j *Job) error {
		j.Warnings = append(j.Warnings, msg)
		return nil
	})
	if err != nil {
		r.log.Error("[JOB] warning update failed", "job_id", jobID, "error", err.Error())
	}
	r.log.Warn("[JOB] "+msg, "job_id", jobID)
}

// errorCode maps known failures to stable codes for metrics and logs.
func errorCode(err error) string {
	switch {
	case errors.Is(err, media.ErrNoAudioTrack):
		return "NO_AUDIO_TRACK"
	case errors.Is(err, media.ErrUnsupportedContainer):
		return "UNSUPPORTED_CONTAINER"
	case errors.Is(err, media.ErrContainerWrite):
		return "CONTAINER_WRITE"
	case errors.Is(err, diarize.ErrEmptyDiarization):
		return "EMPTY_DIARIZATION"
	case errors.Is(err, synthesis.ErrVoiceUnavailable):
		return "VOICE_UNAVAILABLE"
	case errors.Is(err, stitch.ErrStitchIncomplete):
		return "STITCH_INCOMPLETE"
	case errors.Is(err, context.Canceled):
		return "CANCELLED"
	case errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT"
	default:
		return "INTERNAL"
	}
}

// outputName derives the muxed output file name from the source container.
func outputName(videoPath string) string {
	ext := filepath.Ext(videoPath)
	if ext == "" {
		ext = ".mp4"
	}
	return "output" + ext
}
