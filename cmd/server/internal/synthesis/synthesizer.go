package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/famflix/voiceswap/cmd/server/internal/media"
	"github.com/famflix/voiceswap/cmd/server/internal/retry"
)

// Normalizer converts an engine-produced clip into the canonical pipeline
// format. *media.Toolchain satisfies this.
type Normalizer interface {
	NormalizeClip(ctx context.Context, inPath, outPath string) (*media.AudioAsset, error)
}

// Options tune the synthesizer.
type Options struct {
	// Quality is passed through to the engine for every request.
	Quality string
	// PreserveAccent/PreserveEmotion are passed through to the engine.
	PreserveAccent  bool
	PreserveEmotion bool
	// PollInterval is the delay between engine status polls.
	PollInterval time.Duration
	// Retry bounds retries of failed engine calls.
	Retry retry.Config
}

// Synthesizer runs synthesis tasks one at a time. Tasks for distinct
// segments are independent; concurrency is the orchestrator's job.
type Synthesizer struct {
	engine     Engine
	normalizer Normalizer
	opts       Options
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(engine Engine, normalizer Normalizer, opts Options) *Synthesizer {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	if opts.Quality == "" {
		opts.Quality = "standard"
	}
	return &Synthesizer{engine: engine, normalizer: normalizer, opts: opts}
}

// Run executes one task to a terminal status, mutating it in place. workDir
// receives the normalized clip. Run never returns an error for per-task
// failures; callers inspect the task. The returned error is reserved for
// context cancellation.
func (s *Synthesizer) Run(ctx context.Context, task *Task, workDir string) error {
	if strings.TrimSpace(task.Text) == "" {
		// Nothing to synthesize; the stitcher keeps the original audio.
		task.fail(ErrTextEmpty)
		return nil
	}

	task.Status = StatusProcessing
	start := time.Now()

	cfg := s.opts.Retry
	cfg.RetryIf = func(err error) bool {
		if errors.Is(err, ErrVoiceUnavailable) {
			return false
		}
		return retry.DefaultRetryIf(err)
	}
	cfg.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.Warn("[TTS] engine call failed, retrying",
			"task_id", task.ID,
			"segment_id", task.SegmentID,
			"attempt", attempt,
			"backoff", backoff.String(),
			"error", err.Error(),
		)
	}

	clipPath, err := retry.Do(ctx, cfg, func() (string, error) {
		return s.synthesizeOnce(ctx, task)
	})
	if err != nil {
		if ctx.Err() != nil {
			task.fail(ctx.Err())
			return ctx.Err()
		}
		task.fail(err)
		slog.Error("[TTS] task failed",
			"task_id", task.ID,
			"segment_id", task.SegmentID,
			"voice", task.Voice.ID,
			"error", err.Error(),
		)
		return nil
	}

	outPath := filepath.Join(workDir, fmt.Sprintf("segment_%04d.wav", task.SegmentID))
	asset, err := s.normalizer.NormalizeClip(ctx, clipPath, outPath)
	if err != nil {
		task.fail(fmt.Errorf("normalizing synthesized clip: %w", err))
		return nil
	}

	task.Result = asset
	task.Status = StatusCompleted
	slog.Info("[TTS] task complete",
		"task_id", task.ID,
		"segment_id", task.SegmentID,
		"voice", task.Voice.ID,
		"clip_duration_s", asset.Duration,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// synthesizeOnce submits the request and polls the engine task to a terminal
// state, returning the engine-side path of the produced clip.
func (s *Synthesizer) synthesizeOnce(ctx context.Context, task *Task) (string, error) {
	engineTaskID, err := s.engine.Submit(ctx, Request{
		Text:            task.Text,
		VoiceID:         task.Voice.ID,
		Quality:         s.opts.Quality,
		PreserveAccent:  s.opts.PreserveAccent,
		PreserveEmotion: s.opts.PreserveEmotion,
	})
	if err != nil {
		return "", err
	}

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		status, err := s.engine.Poll(ctx, engineTaskID)
		if err != nil {
			return "", err
		}

		switch status.State {
		case EngineTaskCompleted:
			if status.OutputPath == "" {
				return "", fmt.Errorf("engine task %s completed without output", engineTaskID)
			}
			return status.OutputPath, nil
		case EngineTaskFailed:
			return "", fmt.Errorf("engine task %s failed: %s", engineTaskID, status.Error)
		case EngineTaskPending, EngineTaskProcessing:
			// keep polling
		default:
			return "", fmt.Errorf("engine task %s in unknown state %q", engineTaskID, status.State)
		}
	}
}
