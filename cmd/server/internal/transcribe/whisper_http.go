package transcribe

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

// WhisperHTTP implements Engine for a whisper-compatible HTTP service that
// accepts multipart/form-data uploads and answers JSON with timed segments.
type WhisperHTTP struct {
	apiURL     string
	httpClient *http.Client
}

// NewWhisperHTTP creates a client. The HTTP client timeout is generous since
// transcription time roughly tracks audio duration; per-call deadlines come
// from ctx or Options.Timeout.
func NewWhisperHTTP(apiURL string) *WhisperHTTP {
	return &WhisperHTTP{
		apiURL: apiURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
}

// Transcribe sends the audio file as multipart/form-data and parses the
// response. Empty segments produce a valid empty Result, not an error.
func (w *WhisperHTTP) Transcribe(ctx context.Context, audioPath string, options *Options) (*Result, error) {
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

	model := "base"
	if options != nil && options.Model != "" {
		model = options.Model
	}
	if err := writer.WriteField("model", model); err != nil {
		return nil, fmt.Errorf("failed to write model field: %w", err)
	}

	if err := writer.WriteField("response_format", "json"); err != nil {
		return nil, fmt.Errorf("failed to write response_format field: %w", err)
	}

	if options != nil && options.Language != "" {
		if err := writer.WriteField("language", options.Language); err != nil {
			return nil, fmt.Errorf("failed to write language field: %w", err)
		}
	}

	// Temperature 0.0 reduces hallucinations/repetitions.
	temperature := 0.0
	if options != nil && options.Temperature > 0 {
		temperature = options.Temperature
	}
	if err := writer.WriteField("temperature", fmt.Sprintf("%.1f", temperature)); err != nil {
		return nil, fmt.Errorf("failed to write temperature field: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	url := w.apiURL + "/api/whisper/transcribe"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	if options != nil && options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
		req = req.WithContext(ctx)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("transcription service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse transcription response: %w", err)
	}

	return &result, nil
}

// HealthCheck verifies the service answers on its models endpoint.
func (w *WhisperHTTP) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.apiURL+"/api/whisper/models", nil)
	if err != nil {
		return false, err
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// Name identifies this engine implementation.
func (w *WhisperHTTP) Name() string {
	return "whisper-http"
}
