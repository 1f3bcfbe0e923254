package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/famflix/voiceswap/cmd/server/internal/metrics"
	"github.com/famflix/voiceswap/cmd/server/internal/voice"
)

// HandleListVoices returns the stock catalog plus any cloned voices.
// GET /api/v1/voices
func HandleListVoices(catalog *voice.Catalog, clones *voice.CloneStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := gin.H{
			"keep_original": voice.KeepOriginal,
			"catalog":       catalog.List(),
		}
		if clones != nil {
			resp["cloned"] = clones.List()
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleCloneVoice builds a reusable voice from an uploaded sample.
// POST /api/v1/voices/clone
//
// Multipart fields: "name", "consent" and a "sample" WAV file. Cloning a
// voice requires the uploader to assert consent for the person being
// cloned. Re-submitting the same sample under the same name returns the
// existing voice ID.
func HandleCloneVoice(clones *voice.CloneStore, maxUploadBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if clones == nil {
			errorResponse(c, http.StatusServiceUnavailable, "voice cloning is not configured")
			return
		}

		name := c.PostForm("name")
		if name == "" {
			badRequestResponse(c, "name is required")
			return
		}
		if consent, _ := strconv.ParseBool(c.PostForm("consent")); !consent {
			validationErrorResponse(c, []string{"voice cloning requires consent=true"})
			return
		}

		file, err := c.FormFile("sample")
		if err != nil {
			badRequestResponse(c, fmt.Sprintf("missing sample file: %v", err))
			return
		}
		if file.Size > maxUploadBytes {
			badRequestResponse(c, fmt.Sprintf("sample exceeds upload limit of %d bytes", maxUploadBytes))
			return
		}

		f, err := file.Open()
		if err != nil {
			internalErrorResponse(c, err)
			return
		}
		defer f.Close()
		sample, err := io.ReadAll(f)
		if err != nil {
			internalErrorResponse(c, err)
			return
		}

		reused := clones.Cached(name, sample)
		voiceID, err := clones.Clone(c.Request.Context(), name, sample)
		if err != nil {
			metrics.RecordVoiceClone("error")
			internalErrorResponse(c, err)
			return
		}
		if reused {
			metrics.RecordVoiceClone("reused")
		} else {
			metrics.RecordVoiceClone("created")
		}
		c.JSON(http.StatusOK, gin.H{"voice_id": voiceID, "name": name})
	}
}
