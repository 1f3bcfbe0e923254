package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// HTTPCloneEngine talks to a voice service that builds a cloned voice from
// an uploaded reference sample.
type HTTPCloneEngine struct {
	apiURL     string
	httpClient *http.Client
}

// NewHTTPCloneEngine creates an engine against the given base URL.
func NewHTTPCloneEngine(apiURL string) *HTTPCloneEngine {
	return &HTTPCloneEngine{
		apiURL: apiURL,
		httpClient: &http.Client{
			// Embedding extraction on the service side can take minutes
			// for long samples.
			Timeout: 10 * time.Minute,
		},
	}
}

// Clone uploads the sample and returns the service-assigned voice ID.
func (e *HTTPCloneEngine) Clone(ctx context.Context, name string, sample []byte) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("name", name); err != nil {
		return "", fmt.Errorf("write name field: %w", err)
	}
	part, err := writer.CreateFormFile("sample", "sample.wav")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(sample); err != nil {
		return "", fmt.Errorf("write sample: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	url := e.apiURL + "/api/v1/voices/clone"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("clone request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("clone service returned status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		VoiceID string `json:"voice_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("parse clone response: %w", err)
	}
	if result.VoiceID == "" {
		return "", fmt.Errorf("clone service returned no voice_id")
	}
	return result.VoiceID, nil
}

// Name identifies the implementation in logs.
func (e *HTTPCloneEngine) Name() string {
	return "voice-clone-http"
}
