// Package logger configures the process-wide slog logger.
//
// Level supports debug/info/warn/error. Environment "prod" selects the JSON
// handler, anything else the text handler. When File is set, output is rotated
// with lumberjack instead of going to stdout.
package logger

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config defines logger initialization options.
type Config struct {
	Level       string
	Environment string
	WithSource  bool
	// File enables rotating file output when non-empty.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	global *slog.Logger
	once   sync.Once
)

func levelFromString(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.New("invalid log level: " + level)
	}
}

// New creates a new slog.Logger from cfg without touching the global instance.
func New(cfg Config) (*slog.Logger, error) {
	lvl, err := levelFromString(cfg.Level)
	if err != nil {
		return nil, err
	}

	var out io.Writer = os.Stdout
	if cfg.File != "" {
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 100
		}
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl, AddSource: cfg.WithSource}
	var handler slog.Handler
	if strings.ToLower(cfg.Environment) == "prod" {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	return slog.New(handler), nil
}

// Init initializes the global logger; repeated calls return the first instance.
func Init(cfg Config) (*slog.Logger, error) {
	var initErr error
	once.Do(func() {
		global, initErr = New(cfg)
		if global != nil {
			slog.SetDefault(global)
		}
	})
	return global, initErr
}

// L returns the initialized global logger, panicking if Init was never called.
func L() *slog.Logger {
	if global == nil {
		panic("logger.Init must be called before logger.L")
	}
	return global
}

// LogStage emits a structured log line for a pipeline stage event.
// component: extract/diarize/transcribe/synth/stitch/mux
// action: start/success/error/retry/fallback
func LogStage(logger *slog.Logger, component, action, jobID string, durationMs int64, errorCode string) {
	attrs := []slog.Attr{
		slog.String("component", component),
		slog.String("action", action),
		slog.String("job_id", jobID),
		slog.Int64("duration_ms", durationMs),
	}

	if errorCode != "" {
		attrs = append(attrs, slog.String("error_code", errorCode))
		logger.LogAttrs(nil, slog.LevelError, "Pipeline stage error", attrs...)
	} else {
		logger.LogAttrs(nil, slog.LevelInfo, "Pipeline stage event", attrs...)
	}
}
