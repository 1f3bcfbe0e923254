package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/famflix/voiceswap/cmd/server/internal/pipeline"
	"github.com/famflix/voiceswap/cmd/server/internal/voice"
)

// videoExtensions are the containers accepted for upload. Anything else is
// rejected before ffprobe ever sees it.
var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".mkv": true, ".webm": true, ".avi": true,
}

// HandleCreateJob admits a new replacement job.
// POST /api/v1/jobs
//
// Accepts either a multipart upload ("video" file field) or a JSON body
// {"video_path": "..."} referencing a server-local file.
func HandleCreateJob(runner *pipeline.Runner, uploadDir string, maxUploadBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		videoPath, err := resolveVideo(c, uploadDir, maxUploadBytes)
		if err != nil {
			badRequestResponse(c, err.Error())
			return
		}

		job, err := runner.Submit(videoPath)
		if err != nil {
			badRequestResponse(c, err.Error())
			return
		}
		c.JSON(http.StatusAccepted, job)
	}
}

func resolveVideo(c *gin.Context, uploadDir string, maxUploadBytes int64) (string, error) {
	contentType := c.GetHeader("Content-Type")
	if strings.HasPrefix(contentType, "multipart/") {
		file, err := c.FormFile("video")
		if err != nil {
			return "", fmt.Errorf("missing video file: %v", err)
		}
		if file.Size > maxUploadBytes {
			return "", fmt.Errorf("video exceeds upload limit of %d bytes", maxUploadBytes)
		}
		ext := strings.ToLower(filepath.Ext(file.Filename))
		if !videoExtensions[ext] {
			return "", fmt.Errorf("unsupported video container %q", ext)
		}
		if err := os.MkdirAll(uploadDir, 0o755); err != nil {
			return "", fmt.Errorf("prepare upload dir: %v", err)
		}
		dst := filepath.Join(uploadDir, uuid.NewString()+ext)
		if err := c.SaveUploadedFile(file, dst); err != nil {
			return "", fmt.Errorf("store upload: %v", err)
		}
		return dst, nil
	}

	var body struct {
		VideoPath string `json:"video_path"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		return "", fmt.Errorf("invalid request body: %v", err)
	}
	if body.VideoPath == "" {
		return "", fmt.Errorf("video_path is required")
	}
	return body.VideoPath, nil
}

// HandleListJobs lists all known jobs, newest first.
// GET /api/v1/jobs
func HandleListJobs(runner *pipeline.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"jobs": runner.Store().List()})
	}
}

// HandleGetJob returns one job's full state.
// GET /api/v1/jobs/:job_id
func HandleGetJob(runner *pipeline.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := runner.Store().Get(c.Param("job_id"))
		if err != nil {
			notFoundResponse(c, "job")
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

// HandleGetDiarization returns the speaker inventory once published.
// GET /api/v1/jobs/:job_id/diarization
func HandleGetDiarization(runner *pipeline.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := runner.Store().Get(c.Param("job_id"))
		if err != nil {
			notFoundResponse(c, "job")
			return
		}
		if job.Diarization == nil {
			conflictResponse(c, fmt.Sprintf("diarization not available while job is %s", job.Stage))
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"speakers":        job.Diarization.Speakers,
			"segments":        job.Diarization.Segments,
			"full_transcript": job.Diarization.FullTranscript,
		})
	}
}

// HandleApplyMapping assigns replacement voices and starts rendering.
// POST /api/v1/jobs/:job_id/mapping
//
// Body: {"mapping": {"SPEAKER_00": "voice-a", "SPEAKER_01": "keep-original"}}
func HandleApplyMapping(runner *pipeline.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Mapping map[string]string `json:"mapping"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequestResponse(c, fmt.Sprintf("invalid request body: %v", err))
			return
		}

		mapping := make(voice.ReplacementMapping, len(body.Mapping))
		for speaker, id := range body.Mapping {
			mapping[speaker] = voice.Identity{ID: id}
		}

		job, err := runner.ApplyMapping(c.Param("job_id"), mapping)
		if err != nil {
			var verr *voice.ValidationError
			switch {
			case errors.As(err, &verr):
				validationErrorResponse(c, verr.Problems)
			case errors.Is(err, pipeline.ErrJobNotFound):
				notFoundResponse(c, "job")
			case errors.Is(err, pipeline.ErrInvalidTransition):
				conflictResponse(c, err.Error())
			default:
				internalErrorResponse(c, err)
			}
			return
		}
		c.JSON(http.StatusAccepted, job)
	}
}

// HandleGetOutput streams the finished video.
// GET /api/v1/jobs/:job_id/output
func HandleGetOutput(runner *pipeline.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := runner.Store().Get(c.Param("job_id"))
		if err != nil {
			notFoundResponse(c, "job")
			return
		}
		if job.Stage != pipeline.StageCompleted || job.OutputPath == "" {
			conflictResponse(c, fmt.Sprintf("output not available while job is %s", job.Stage))
			return
		}
		c.FileAttachment(job.OutputPath, filepath.Base(job.OutputPath))
	}
}

// HandleCancelJob stops a job in flight.
// POST /api/v1/jobs/:job_id/cancel
func HandleCancelJob(runner *pipeline.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := runner.Cancel(c.Param("job_id"))
		if err != nil {
			switch {
			case errors.Is(err, pipeline.ErrJobNotFound):
				notFoundResponse(c, "job")
			case errors.Is(err, pipeline.ErrInvalidTransition):
				conflictResponse(c, err.Error())
			default:
				internalErrorResponse(c, err)
			}
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

// HandleDeleteJob discards a terminal job and its artifacts.
// DELETE /api/v1/jobs/:job_id
func HandleDeleteJob(runner *pipeline.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := runner.Discard(c.Param("job_id"))
		if err != nil {
			if errors.Is(err, pipeline.ErrJobNotFound) {
				notFoundResponse(c, "job")
				return
			}
			conflictResponse(c, err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	}
}
