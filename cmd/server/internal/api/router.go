// Package api exposes the replacement pipeline over HTTP.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/famflix/voiceswap/cmd/server/internal/middleware"
	"github.com/famflix/voiceswap/cmd/server/internal/pipeline"
	"github.com/famflix/voiceswap/cmd/server/internal/voice"
)

// RouterConfig carries everything the HTTP surface needs.
type RouterConfig struct {
	Runner         *pipeline.Runner
	Catalog        *voice.Catalog
	Clones         *voice.CloneStore
	UploadDir      string
	MaxUploadBytes int64
	HealthCheckers []HealthChecker
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())

	r.GET("/health", HandleHealth(cfg.HealthCheckers...))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", HandleCreateJob(cfg.Runner, cfg.UploadDir, cfg.MaxUploadBytes))
			jobs.GET("", HandleListJobs(cfg.Runner))
			jobs.GET("/:job_id", HandleGetJob(cfg.Runner))
			jobs.GET("/:job_id/diarization", HandleGetDiarization(cfg.Runner))
			jobs.POST("/:job_id/mapping", HandleApplyMapping(cfg.Runner))
			jobs.GET("/:job_id/output", HandleGetOutput(cfg.Runner))
			jobs.POST("/:job_id/cancel", HandleCancelJob(cfg.Runner))
			jobs.DELETE("/:job_id", HandleDeleteJob(cfg.Runner))
		}

		voices := v1.Group("/voices")
		{
			voices.GET("", HandleListVoices(cfg.Catalog, cfg.Clones))
			voices.POST("/clone", HandleCloneVoice(cfg.Clones, cfg.MaxUploadBytes))
		}
	}

	return r
}
