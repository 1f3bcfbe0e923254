package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Request is one synthesis call: text rendered in a target voice.
type Request struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
	// Quality is low/standard/high; the engine defaults to standard.
	Quality string `json:"quality,omitempty"`
	// PreserveAccent and PreserveEmotion keep the cloned speaker's accent
	// and emotional register in the synthesized speech.
	PreserveAccent  bool `json:"preserve_accent"`
	PreserveEmotion bool `json:"preserve_emotion"`
}

// EngineTaskState is the engine-side lifecycle of an asynchronous synthesis
// task.
type EngineTaskState string

const (
	EngineTaskPending    EngineTaskState = "pending"
	EngineTaskProcessing EngineTaskState = "processing"
	EngineTaskCompleted  EngineTaskState = "completed"
	EngineTaskFailed     EngineTaskState = "failed"
)

// EngineTaskStatus is a poll answer from the engine.
type EngineTaskStatus struct {
	TaskID     string          `json:"task_id"`
	State      EngineTaskState `json:"status"`
	Progress   int             `json:"progress"`
	OutputPath string          `json:"output_path,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Engine is the asynchronous TTS backend: submit a request, poll its task
// until it settles. Calls must respect ctx.
type Engine interface {
	Submit(ctx context.Context, req Request) (taskID string, err error)
	Poll(ctx context.Context, taskID string) (*EngineTaskStatus, error)
	Name() string
}

// HTTPEngine talks to the voice synthesis HTTP service:
// POST /synthesize starts a task, GET /status/{task_id} reports progress,
// with the resulting clip published on a shared volume.
type HTTPEngine struct {
	apiURL     string
	httpClient *http.Client
}

// NewHTTPEngine creates an engine client.
func NewHTTPEngine(apiURL string) *HTTPEngine {
	return &HTTPEngine{
		apiURL: apiURL,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// Submit starts an asynchronous synthesis task.
func (e *HTTPEngine) Submit(ctx context.Context, req Request) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL+"/synthesize", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		// fall through to parse
	case resp.StatusCode == http.StatusNotFound || isVoiceUnavailableBody(respBody):
		return "", fmt.Errorf("%w: %s", ErrVoiceUnavailable, strings.TrimSpace(string(respBody)))
	default:
		return "", fmt.Errorf("synthesis service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse synthesis response: %w", err)
	}
	if parsed.TaskID == "" {
		return "", fmt.Errorf("synthesis service returned no task id")
	}
	return parsed.TaskID, nil
}

// Poll fetches the current task status.
func (e *HTTPEngine) Poll(ctx context.Context, taskID string) (*EngineTaskStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.apiURL+"/status/"+taskID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("status endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}

	var status EngineTaskStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to parse status response: %w", err)
	}
	return &status, nil
}

// Name identifies this engine implementation.
func (e *HTTPEngine) Name() string { return "tts-http" }

// isVoiceUnavailableBody sniffs the engine's voice-not-found error shape so
// it can be classified as non-retryable.
func isVoiceUnavailableBody(body []byte) bool {
	var parsed struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return false
	}
	if parsed.Code == "voice_unavailable" {
		return true
	}
	return strings.Contains(strings.ToLower(parsed.Error), "voice not found")
}
