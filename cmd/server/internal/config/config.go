package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the unified server configuration. Values come from an optional
// YAML file, overridden field by field from environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Data      DataConfig      `yaml:"data"`
	Log       LogConfig       `yaml:"log"`
	Media     MediaConfig     `yaml:"media"`
	Diarize   DiarizeConfig   `yaml:"diarize"`
	Whisper   WhisperConfig   `yaml:"whisper"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Stitch    StitchConfig    `yaml:"stitch"`
	Voices    VoicesConfig    `yaml:"voices"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Env             string        `yaml:"env"` // dev, staging, production
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// MaxUploadMB bounds the video and sample upload size.
	MaxUploadMB int64 `yaml:"max_upload_mb"`
}

// DataConfig holds the on-disk layout.
type DataConfig struct {
	// WorkRoot receives per-job working directories.
	WorkRoot string `yaml:"work_root"`
	// JobsDir holds persisted job records.
	JobsDir string `yaml:"jobs_dir"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // console, json
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// MediaConfig locates the external media binaries.
type MediaConfig struct {
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
}

// DiarizeConfig configures the diarization backend.
type DiarizeConfig struct {
	APIURL          string  `yaml:"api_url"`
	MinSpeakers     int     `yaml:"min_speakers"`
	MaxSpeakers     int     `yaml:"max_speakers"`
	ConfidenceFloor float64 `yaml:"confidence_floor"`
}

// WhisperConfig configures the transcription backend.
type WhisperConfig struct {
	APIURL      string        `yaml:"api_url"`
	Model       string        `yaml:"model"`
	Language    string        `yaml:"language"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// SynthesisConfig configures the TTS backend and fan-out.
type SynthesisConfig struct {
	APIURL          string        `yaml:"api_url"`
	Quality         string        `yaml:"quality"`
	PreserveAccent  bool          `yaml:"preserve_accent"`
	PreserveEmotion bool          `yaml:"preserve_emotion"`
	MaxConcurrent   int           `yaml:"max_concurrent"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxAttempts     int           `yaml:"max_attempts"`
	// MaxTextLength caps the text of one synthesis request; mappings that
	// would exceed it are rejected during validation.
	MaxTextLength int `yaml:"max_text_length"`
}

// StitchConfig configures final track assembly.
type StitchConfig struct {
	// ReconcilePolicy is "trim-pad" (default) or "strict".
	ReconcilePolicy string `yaml:"reconcile_policy"`
}

// VoicesConfig configures the replacement voice catalog and cloning.
type VoicesConfig struct {
	// CatalogPath is a YAML file listing the stock voices.
	CatalogPath string `yaml:"catalog_path"`
	// CloneAPIURL enables voice cloning when set.
	CloneAPIURL string `yaml:"clone_api_url"`
}

// Load builds the configuration: defaults, then the YAML file at path (when
// non-empty), then environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Env:             "dev",
			Port:            "8000",
			ShutdownTimeout: 30 * time.Second,
			MaxUploadMB:     2048,
		},
		Data: DataConfig{
			WorkRoot: "./data/work",
			JobsDir:  "./data/jobs",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		Media: MediaConfig{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
		},
		Diarize: DiarizeConfig{
			APIURL:          "http://localhost:8083",
			ConfidenceFloor: 0.5,
		},
		Whisper: WhisperConfig{
			APIURL:      "http://localhost:8082",
			Model:       "base",
			Temperature: 0.0,
			Timeout:     10 * time.Minute,
		},
		Synthesis: SynthesisConfig{
			APIURL:        "http://localhost:8084",
			Quality:       "standard",
			MaxConcurrent: 4,
			PollInterval:  500 * time.Millisecond,
			MaxAttempts:   3,
			MaxTextLength: 800,
		},
		Stitch: StitchConfig{
			ReconcilePolicy: "trim-pad",
		},
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Env, "ENV")
	setString(&cfg.Server.Port, "PORT")
	setDuration(&cfg.Server.ShutdownTimeout, "SHUTDOWN_TIMEOUT")
	setInt64(&cfg.Server.MaxUploadMB, "MAX_UPLOAD_MB")

	setString(&cfg.Data.WorkRoot, "WORK_ROOT")
	setString(&cfg.Data.JobsDir, "JOBS_DIR")

	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")
	setString(&cfg.Log.File, "LOG_FILE")

	setString(&cfg.Media.FFmpegPath, "FFMPEG_PATH")
	setString(&cfg.Media.FFprobePath, "FFPROBE_PATH")

	setString(&cfg.Diarize.APIURL, "DIARIZE_API_URL")
	setInt(&cfg.Diarize.MinSpeakers, "DIARIZE_MIN_SPEAKERS")
	setInt(&cfg.Diarize.MaxSpeakers, "DIARIZE_MAX_SPEAKERS")
	setFloat(&cfg.Diarize.ConfidenceFloor, "DIARIZE_CONFIDENCE_FLOOR")

	setString(&cfg.Whisper.APIURL, "WHISPER_API_URL")
	setString(&cfg.Whisper.Model, "WHISPER_MODEL")
	setString(&cfg.Whisper.Language, "WHISPER_LANGUAGE")
	setFloat(&cfg.Whisper.Temperature, "WHISPER_TEMPERATURE")
	setDuration(&cfg.Whisper.Timeout, "WHISPER_TIMEOUT")

	setString(&cfg.Synthesis.APIURL, "TTS_API_URL")
	setString(&cfg.Synthesis.Quality, "TTS_QUALITY")
	setBool(&cfg.Synthesis.PreserveAccent, "TTS_PRESERVE_ACCENT")
	setBool(&cfg.Synthesis.PreserveEmotion, "TTS_PRESERVE_EMOTION")
	setInt(&cfg.Synthesis.MaxConcurrent, "TTS_MAX_CONCURRENT")
	setDuration(&cfg.Synthesis.PollInterval, "TTS_POLL_INTERVAL")
	setInt(&cfg.Synthesis.MaxAttempts, "TTS_MAX_ATTEMPTS")
	setInt(&cfg.Synthesis.MaxTextLength, "TTS_MAX_TEXT_LENGTH")

	setString(&cfg.Stitch.ReconcilePolicy, "STITCH_RECONCILE_POLICY")

	setString(&cfg.Voices.CatalogPath, "VOICE_CATALOG_PATH")
	setString(&cfg.Voices.CloneAPIURL, "VOICE_CLONE_API_URL")
}

// Validate collects every problem instead of stopping at the first, so a
// broken deployment surfaces all its mistakes in one pass.
func (c *Config) Validate() error {
	var problems []string

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("LOG_LEVEL %q is not one of debug/info/warn/error", c.Log.Level))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("LOG_FORMAT %q is not one of console/json", c.Log.Format))
	}

	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		problems = append(problems, fmt.Sprintf("PORT %q is not a number", c.Server.Port))
	}
	if c.Server.MaxUploadMB <= 0 {
		problems = append(problems, "MAX_UPLOAD_MB must be positive")
	}

	if c.Diarize.APIURL == "" {
		problems = append(problems, "DIARIZE_API_URL is required")
	}
	if c.Whisper.APIURL == "" {
		problems = append(problems, "WHISPER_API_URL is required")
	}
	if c.Synthesis.APIURL == "" {
		problems = append(problems, "TTS_API_URL is required")
	}
	if c.Diarize.MinSpeakers < 0 || c.Diarize.MaxSpeakers < 0 {
		problems = append(problems, "diarization speaker bounds must not be negative")
	}
	if c.Diarize.MinSpeakers > 0 && c.Diarize.MaxSpeakers > 0 &&
		c.Diarize.MinSpeakers > c.Diarize.MaxSpeakers {
		problems = append(problems, "DIARIZE_MIN_SPEAKERS must not exceed DIARIZE_MAX_SPEAKERS")
	}
	if c.Diarize.ConfidenceFloor < 0 || c.Diarize.ConfidenceFloor > 1 {
		problems = append(problems, "DIARIZE_CONFIDENCE_FLOOR must be in [0,1]")
	}
	if c.Synthesis.MaxConcurrent <= 0 {
		problems = append(problems, "TTS_MAX_CONCURRENT must be positive")
	}
	if c.Synthesis.MaxAttempts <= 0 {
		problems = append(problems, "TTS_MAX_ATTEMPTS must be positive")
	}
	if c.Synthesis.MaxTextLength <= 0 {
		problems = append(problems, "TTS_MAX_TEXT_LENGTH must be positive")
	}
	switch c.Stitch.ReconcilePolicy {
	case "trim-pad", "strict":
	default:
		problems = append(problems, fmt.Sprintf("STITCH_RECONCILE_POLICY %q is not one of trim-pad/strict", c.Stitch.ReconcilePolicy))
	}

	if len(problems) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

type catalogFile struct {
	Voices []CatalogEntry `yaml:"voices"`
}

// CatalogEntry mirrors one stock voice in the catalog file.
type CatalogEntry struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Language string `yaml:"language"`
	Gender   string `yaml:"gender"`
}

// LoadCatalog parses the stock voice catalog file. An empty path yields an
// empty catalog, which is valid: deployments may rely on cloning alone.
func LoadCatalog(path string) ([]CatalogEntry, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read catalog %s: %w", path, err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse catalog %s: %w", path, err)
	}
	return f.Voices, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
