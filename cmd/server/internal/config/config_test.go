package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "ffmpeg", cfg.Media.FFmpegPath)
	assert.Equal(t, 4, cfg.Synthesis.MaxConcurrent)
	assert.Equal(t, 500*time.Millisecond, cfg.Synthesis.PollInterval)
	assert.Equal(t, 800, cfg.Synthesis.MaxTextLength)
	assert.Equal(t, "trim-pad", cfg.Stitch.ReconcilePolicy)
}

func TestLoadSynthesisAndStitchKnobs(t *testing.T) {
	t.Setenv("TTS_PRESERVE_ACCENT", "true")
	t.Setenv("TTS_PRESERVE_EMOTION", "true")
	t.Setenv("TTS_MAX_TEXT_LENGTH", "1200")
	t.Setenv("STITCH_RECONCILE_POLICY", "strict")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Synthesis.PreserveAccent)
	assert.True(t, cfg.Synthesis.PreserveEmotion)
	assert.Equal(t, 1200, cfg.Synthesis.MaxTextLength)
	assert.Equal(t, "strict", cfg.Stitch.ReconcilePolicy)
}

func TestLoadYAMLFileThenEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9100"
log:
  level: debug
whisper:
  model: large-v3
`), 0o644))

	t.Setenv("PORT", "9200")
	t.Setenv("WHISPER_LANGUAGE", "de")

	cfg, err := Load(path)
	require.NoError(t, err)
	// env beats file, file beats default
	assert.Equal(t, "9200", cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "large-v3", cfg.Whisper.Model)
	assert.Equal(t, "de", cfg.Whisper.Language)
	assert.Equal(t, "base", defaults().Whisper.Model)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := defaults()
	cfg.Log.Level = "loud"
	cfg.Server.Port = "not-a-port"
	cfg.Synthesis.MaxConcurrent = 0
	cfg.Synthesis.MaxTextLength = 0
	cfg.Diarize.ConfidenceFloor = 1.5
	cfg.Stitch.ReconcilePolicy = "splice"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LOG_LEVEL")
	assert.Contains(t, err.Error(), "PORT")
	assert.Contains(t, err.Error(), "TTS_MAX_CONCURRENT")
	assert.Contains(t, err.Error(), "TTS_MAX_TEXT_LENGTH")
	assert.Contains(t, err.Error(), "DIARIZE_CONFIDENCE_FLOOR")
	assert.Contains(t, err.Error(), "STITCH_RECONCILE_POLICY")
}

func TestValidateSpeakerBounds(t *testing.T) {
	cfg := defaults()
	cfg.Diarize.MinSpeakers = 5
	cfg.Diarize.MaxSpeakers = 2
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DIARIZE_MIN_SPEAKERS")
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voices.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
voices:
  - id: voice-a
    name: Alloy
    language: en
  - id: voice-b
    name: Brook
`), 0o644))

	voices, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, voices, 2)
	assert.Equal(t, "voice-a", voices[0].ID)
	assert.Equal(t, "en", voices[0].Language)

	empty, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
