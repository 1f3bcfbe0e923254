package diarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Engine is the interface diarization backends implement. Implementations
// must respect context cancellation and wrap external errors with context.
type Engine interface {
	// Diarize sends audio for speaker diarization and returns the raw
	// speaker-attributed segments. Zero segments is a valid engine answer;
	// classification is the Diarizer's job.
	Diarize(ctx context.Context, audioPath string) ([]RawSegment, error)

	// HealthCheck verifies the engine is operational.
	HealthCheck(ctx context.Context) (bool, error)

	// Name identifies the implementation in logs and job warnings.
	Name() string
}

// HTTPEngine talks to a pyannote-style diarization HTTP service that accepts
// multipart audio uploads and answers JSON.
type HTTPEngine struct {
	apiURL     string
	httpClient *http.Client

	// MinSpeakers/MaxSpeakers bound the engine's speaker search when > 0.
	MinSpeakers int
	MaxSpeakers int
}

// NewHTTPEngine creates an engine client. Diarization of long tracks is slow,
// so the client timeout is generous; per-call deadlines come from ctx.
func NewHTTPEngine(apiURL string) *HTTPEngine {
	return &HTTPEngine{
		apiURL: apiURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Minute,
		},
	}
}

// diarizeResponse is the engine's wire format.
type diarizeResponse struct {
	Segments    []RawSegment `json:"segments"`
	NumSpeakers int          `json:"num_speakers"`
}

// Diarize uploads the audio file and parses the segment list.
func (e *HTTPEngine) Diarize(ctx context.Context, audioPath string) ([]RawSegment, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to copy file data: %w", err)
	}

	if e.MinSpeakers > 0 {
		if err := writer.WriteField("min_speakers", fmt.Sprintf("%d", e.MinSpeakers)); err != nil {
			return nil, fmt.Errorf("failed to write min_speakers field: %w", err)
		}
	}
	if e.MaxSpeakers > 0 {
		if err := writer.WriteField("max_speakers", fmt.Sprintf("%d", e.MaxSpeakers)); err != nil {
			return nil, fmt.Errorf("failed to write max_speakers field: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	url := e.apiURL + "/api/v1/diarize"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("diarization request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("diarization service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed diarizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse diarization response: %w", err)
	}

	return parsed.Segments, nil
}

// HealthCheck hits the service's health endpoint.
func (e *HTTPEngine) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.apiURL+"/health", nil)
	if err != nil {
		return false, err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// Name identifies this engine implementation.
func (e *HTTPEngine) Name() string {
	return "pyannote-http"
}
