package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/famflix/voiceswap/cmd/server/internal/api"
	"github.com/famflix/voiceswap/cmd/server/internal/config"
	"github.com/famflix/voiceswap/cmd/server/internal/diarize"
	"github.com/famflix/voiceswap/cmd/server/internal/media"
	"github.com/famflix/voiceswap/cmd/server/internal/pipeline"
	"github.com/famflix/voiceswap/cmd/server/internal/retry"
	"github.com/famflix/voiceswap/cmd/server/internal/stitch"
	"github.com/famflix/voiceswap/cmd/server/internal/synthesis"
	"github.com/famflix/voiceswap/cmd/server/internal/transcribe"
	"github.com/famflix/voiceswap/cmd/server/internal/voice"
	"github.com/famflix/voiceswap/pkg/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	logInstance, err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.Server.Env,
		WithSource:  cfg.Server.Env != "production",
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	appLogger := logInstance.With("component", "voiceswap-server")
	appLogger.Info("configuration loaded", "env", cfg.Server.Env, "port", cfg.Server.Port)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	tools := media.NewToolchain(cfg.Media.FFmpegPath, cfg.Media.FFprobePath)
	if err := tools.ValidateBinaries(); err != nil {
		appLogger.Error("media toolchain unavailable", "error", err)
		os.Exit(1)
	}

	catalogEntries, err := config.LoadCatalog(cfg.Voices.CatalogPath)
	if err != nil {
		appLogger.Error("voice catalog load failed", "error", err)
		os.Exit(1)
	}
	catalogVoices := make([]voice.CatalogVoice, 0, len(catalogEntries))
	for _, e := range catalogEntries {
		catalogVoices = append(catalogVoices, voice.CatalogVoice{
			ID: e.ID, Name: e.Name, Language: e.Language, Gender: e.Gender,
		})
	}
	catalog, err := voice.NewCatalog(catalogVoices)
	if err != nil {
		appLogger.Error("voice catalog invalid", "error", err)
		os.Exit(1)
	}

	var clones *voice.CloneStore
	if cfg.Voices.CloneAPIURL != "" {
		clones = voice.NewCloneStore(voice.NewHTTPCloneEngine(cfg.Voices.CloneAPIURL))
	} else {
		appLogger.Warn("voice cloning disabled: VOICE_CLONE_API_URL not set")
	}

	diarizeEngine := diarize.NewHTTPEngine(cfg.Diarize.APIURL)
	diarizeEngine.MinSpeakers = cfg.Diarize.MinSpeakers
	diarizeEngine.MaxSpeakers = cfg.Diarize.MaxSpeakers

	whisperEngine := transcribe.NewWhisperHTTP(cfg.Whisper.APIURL)
	ttsEngine := synthesis.NewHTTPEngine(cfg.Synthesis.APIURL)

	store, err := pipeline.NewStore(cfg.Data.JobsDir)
	if err != nil {
		appLogger.Error("job store init failed", "error", err)
		os.Exit(1)
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.Synthesis.MaxAttempts

	runner := pipeline.NewRunner(
		store,
		tools,
		diarize.NewDiarizer(diarizeEngine, cfg.Diarize.ConfidenceFloor),
		transcribe.NewTranscriber(whisperEngine, transcribe.Options{
			Model:       cfg.Whisper.Model,
			Language:    cfg.Whisper.Language,
			Temperature: cfg.Whisper.Temperature,
			Timeout:     cfg.Whisper.Timeout,
		}),
		voice.NewResolver(catalog, clones),
		synthesis.NewSynthesizer(ttsEngine, tools, synthesis.Options{
			Quality:         cfg.Synthesis.Quality,
			PreserveAccent:  cfg.Synthesis.PreserveAccent,
			PreserveEmotion: cfg.Synthesis.PreserveEmotion,
			PollInterval:    cfg.Synthesis.PollInterval,
			Retry:           retryCfg,
		}),
		stitch.NewStitcher(stitch.ReconcilePolicy(cfg.Stitch.ReconcilePolicy)),
		pipeline.Options{
			WorkRoot:               cfg.Data.WorkRoot,
			MaxConcurrentSynthesis: cfg.Synthesis.MaxConcurrent,
			MaxTextLength:          cfg.Synthesis.MaxTextLength,
		},
	)

	router := api.NewRouter(api.RouterConfig{
		Runner:         runner,
		Catalog:        catalog,
		Clones:         clones,
		UploadDir:      filepath.Join(cfg.Data.WorkRoot, "uploads"),
		MaxUploadBytes: cfg.Server.MaxUploadMB << 20,
		HealthCheckers: []api.HealthChecker{diarizeEngine, whisperEngine},
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		appLogger.Info("server starting", "addr", srv.Addr, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-quit
	appLogger.Info("shutdown signal received, shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	if err := runner.Shutdown(ctx); err != nil {
		appLogger.Warn("pipeline workers did not drain in time", "error", err)
	}
	appLogger.Info("server shutdown complete")
}
