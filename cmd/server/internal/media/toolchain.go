package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/famflix/voiceswap/pkg/metrics"
)

// Toolchain executes ffmpeg/ffprobe. Binary paths default to the ones on PATH
// so container images can mount their own builds and point config at them.
type Toolchain struct {
	FFmpegPath  string
	FFprobePath string
}

// NewToolchain creates a Toolchain, filling in default binary names.
func NewToolchain(ffmpegPath, ffprobePath string) *Toolchain {
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = "ffmpeg"
	}
	if strings.TrimSpace(ffprobePath) == "" {
		ffprobePath = "ffprobe"
	}
	return &Toolchain{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}
}

// ValidateBinaries verifies both binaries are resolvable, returning one error
// describing everything missing so the caller can surface actionable feedback.
func (t *Toolchain) ValidateBinaries() error {
	var missing []string
	if _, err := exec.LookPath(t.FFmpegPath); err != nil {
		missing = append(missing, fmt.Sprintf("FFmpeg (%s)", t.FFmpegPath))
	}
	if _, err := exec.LookPath(t.FFprobePath); err != nil {
		missing = append(missing, fmt.Sprintf("FFprobe (%s)", t.FFprobePath))
	}
	if len(missing) > 0 {
		return fmt.Errorf("media: missing required binaries: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ffprobeOutput captures the subset of ffprobe -show_format -show_streams JSON
// the pipeline needs.
type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

// Probe inspects a media file. A non-zero ffprobe exit means the container
// cannot be parsed and maps to ErrUnsupportedContainer.
func (t *Toolchain) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, t.FFprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	metrics.RecordToolInvocation("ffprobe", "probe", err == nil)
	metrics.RecordToolDuration("ffprobe", "probe", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: ffprobe failed on %s: %v (stderr: %s)",
			ErrUnsupportedContainer, path, err, strings.TrimSpace(stderr.String()))
	}

	var probe ffprobeOutput
	if err := json.Unmarshal(out.Bytes(), &probe); err != nil {
		return nil, fmt.Errorf("%w: unmarshalling ffprobe output for %s: %v", ErrUnsupportedContainer, path, err)
	}
	if probe.Format.FormatName == "" {
		return nil, fmt.Errorf("%w: ffprobe returned no format for %s", ErrUnsupportedContainer, path)
	}

	result := &ProbeResult{Container: probe.Format.FormatName}
	for _, s := range probe.Streams {
		switch s.CodecType {
		case "video":
			result.HasVideo = true
		case "audio":
			result.HasAudio = true
		}
	}

	if probe.Format.Duration != "" {
		d, err := strconv.ParseFloat(probe.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing duration %q: %v", ErrUnsupportedContainer, probe.Format.Duration, err)
		}
		result.Duration = d
	}

	return result, nil
}

// ExtractAudio pulls the audio track out of videoPath into a canonical-format
// WAV at outPath. The input is probed first so structurally invalid inputs
// fail with the precise error class instead of a generic ffmpeg failure.
func (t *Toolchain) ExtractAudio(ctx context.Context, videoPath, outPath string) (*AudioAsset, error) {
	probe, err := t.Probe(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	if !probe.HasAudio {
		return nil, fmt.Errorf("%w: %s", ErrNoAudioTrack, videoPath)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, fmt.Errorf("media: creating output dir: %w", err)
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, t.FFmpegPath,
		"-y",
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(CanonicalSampleRate),
		"-ac", strconv.Itoa(CanonicalChannels),
		outPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err = cmd.Run()
	metrics.RecordToolInvocation("ffmpeg", "extract", err == nil)
	metrics.RecordToolDuration("ffmpeg", "extract", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("media: audio extraction failed for %s: %v (stderr: %s)",
			videoPath, err, tailOf(stderr.String()))
	}

	asset := &AudioAsset{
		Path:       outPath,
		Duration:   probe.Duration,
		SampleRate: CanonicalSampleRate,
		Channels:   CanonicalChannels,
	}
	// The container duration can differ slightly from the decoded track; trust
	// the extracted WAV when it is readable.
	if d, err := wavFileDuration(outPath); err == nil && d > 0 {
		asset.Duration = d
	}
	if err := asset.validate(); err != nil {
		return nil, err
	}

	slog.Info("[MEDIA] audio extracted",
		"video", videoPath,
		"audio", outPath,
		"duration_s", asset.Duration,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return asset, nil
}

// NormalizeClip converts an arbitrary audio clip (typically a synthesized MP3
// or WAV at engine-chosen rate) into the canonical format, with loudness
// normalization so synthesized speech sits at a level comparable to the
// original track.
func (t *Toolchain) NormalizeClip(ctx context.Context, inPath, outPath string) (*AudioAsset, error) {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, fmt.Errorf("media: creating output dir: %w", err)
	}

	cmd := exec.CommandContext(ctx, t.FFmpegPath,
		"-y",
		"-i", inPath,
		"-af", "loudnorm=I=-16:TP=-1.5:LRA=11",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(CanonicalSampleRate),
		"-ac", strconv.Itoa(CanonicalChannels),
		outPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	start := time.Now()
	err := cmd.Run()
	metrics.RecordToolInvocation("ffmpeg", "normalize", err == nil)
	metrics.RecordToolDuration("ffmpeg", "normalize", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("media: clip normalization failed for %s: %v (stderr: %s)",
			inPath, err, tailOf(stderr.String()))
	}

	d, err := wavFileDuration(outPath)
	if err != nil {
		return nil, fmt.Errorf("media: reading normalized clip %s: %w", outPath, err)
	}
	asset := &AudioAsset{
		Path:       outPath,
		Duration:   d,
		SampleRate: CanonicalSampleRate,
		Channels:   CanonicalChannels,
	}
	return asset, asset.validate()
}

// Mux replaces the audio stream of videoPath with audioPath, copying video
// frames untouched. The result is written to a temp file and renamed into
// place so no partial output is ever published.
func (t *Toolchain) Mux(ctx context.Context, videoPath, audioPath, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("%w: creating output dir: %v", ErrContainerWrite, err)
	}

	tmpPath := outPath + ".tmp" + filepath.Ext(outPath)
	cmd := exec.CommandContext(ctx, t.FFmpegPath,
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-shortest",
		tmpPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	start := time.Now()
	err := cmd.Run()
	metrics.RecordToolInvocation("ffmpeg", "mux", err == nil)
	metrics.RecordToolDuration("ffmpeg", "mux", time.Since(start).Seconds())
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: muxing %s + %s: %v (stderr: %s)",
			ErrContainerWrite, videoPath, audioPath, err, tailOf(stderr.String()))
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: publishing %s: %v", ErrContainerWrite, outPath, err)
	}

	slog.Info("[MEDIA] muxed output published", "video", videoPath, "audio", audioPath, "output", outPath)
	return nil
}

// tailOf keeps error messages readable: ffmpeg stderr can run to kilobytes.
func tailOf(s string) string {
	s = strings.TrimSpace(s)
	const max = 512
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}
