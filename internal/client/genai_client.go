package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/motionforge/api/internal/config"
	"github.com/motionforge/api/internal/model"
)

// TaskRunner defines the submit-and-poll interface to the generation provider
type TaskRunner interface {
	SubmitTask(ctx context.Context, modelID string, input json.RawMessage) (*model.ProviderTask, error)
	GetTaskStatus(ctx context.Context, task *model.ProviderTask) (model.TaskStatus, error)
	GetTaskResult(ctx context.Context, task *model.ProviderTask) (json.RawMessage, error)
	RunTask(ctx context.Context, modelID string, input json.RawMessage) (json.RawMessage, error)
}

// RequestRejectedError means the provider refused the submission outright.
// It is never retried.
type RequestRejectedError struct {
	StatusCode int
	Body       string
}

func (e *RequestRejectedError) Error() string {
	return fmt.Sprintf("provider rejected request (status %d): %s", e.StatusCode, e.Body)
}

// TaskFailedError means the provider accepted the task but reported a fatal
// error for it. It is the task's terminal error, not a transport failure.
type TaskFailedError struct {
	RequestID string
	Message   string
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("provider task %s failed: %s", e.RequestID, e.Message)
}

// TaskTimeoutError means the poll loop hit its hard deadline before the task
// reached a terminal status.
type TaskTimeoutError struct {
	RequestID string
	Elapsed   time.Duration
}

func (e *TaskTimeoutError) Error() string {
	return fmt.Sprintf("provider task %s timed out after %v", e.RequestID, e.Elapsed)
}

// PollConfig controls the backoff loop in RunTask
type PollConfig struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	Timeout         time.Duration
}

// GenAIClient implements TaskRunner against a queue-style generation API:
// submit returns a request id plus status/response URLs, the caller polls
// until the task completes, then fetches the result payload.
type GenAIClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	poll       PollConfig
}

// NewGenAIClient creates a new generation provider client
func NewGenAIClient(cfg *config.ProviderConfig) *GenAIClient {
	return &GenAIClient{
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		poll: PollConfig{
			InitialInterval: time.Duration(cfg.PollInitialMS) * time.Millisecond,
			Multiplier:      1.5,
			MaxInterval:     time.Duration(cfg.PollMaxMS) * time.Millisecond,
			Timeout:         time.Duration(cfg.PollTimeoutSecs) * time.Second,
		},
	}
}

// NewGenAIClientWithPoll creates a client with explicit poll settings
func NewGenAIClientWithPoll(cfg *config.ProviderConfig, poll PollConfig) *GenAIClient {
	c := NewGenAIClient(cfg)
	c.poll = poll
	return c
}

type submitResponse struct {
	RequestID   string          `json:"request_id"`
	StatusURL   string          `json:"status_url"`
	ResponseURL string          `json:"response_url"`
	Status      model.TaskStatus `json:"status"`
}

// SubmitTask submits a generation call. If the provider handled the call
// synchronously (no request id in the response), the returned task is already
// completed and carries the payload.
func (c *GenAIClient) SubmitTask(ctx context.Context, modelID string, input json.RawMessage) (*model.ProviderTask, error) {
	body, err := json.Marshal(map[string]json.RawMessage{"input": input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s", c.baseURL, modelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	respBody, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var sub submitResponse
	if err := json.Unmarshal(respBody, &sub); err != nil {
		return nil, fmt.Errorf("failed to unmarshal submit response: %w", err)
	}

	// Synchronous fallback: the provider answered with the payload directly.
	if sub.RequestID == "" {
		return &model.ProviderTask{
			Status:  model.TaskStatusCompleted,
			Payload: respBody,
		}, nil
	}

	task := &model.ProviderTask{
		RequestID:   sub.RequestID,
		StatusURL:   sub.StatusURL,
		ResponseURL: sub.ResponseURL,
		Status:      sub.Status,
	}
	if task.Status == "" {
		task.Status = model.TaskStatusQueued
	}

	// Derive poll URLs from the request id when the provider omits them.
	if task.StatusURL == "" {
		task.StatusURL = fmt.Sprintf("%s/%s/requests/%s/status", c.baseURL, modelID, task.RequestID)
	}
	if task.ResponseURL == "" {
		task.ResponseURL = fmt.Sprintf("%s/%s/requests/%s", c.baseURL, modelID, task.RequestID)
	}

	log.Printf("[Provider] Submitted task %s (model=%s)", task.RequestID, modelID)
	return task, nil
}

type statusResponse struct {
	Status model.TaskStatus `json:"status"`
	Error  string           `json:"error,omitempty"`
}

// GetTaskStatus fetches the current status of a submitted task
func (c *GenAIClient) GetTaskStatus(ctx context.Context, task *model.ProviderTask) (model.TaskStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.StatusURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	respBody, err := c.do(req)
	if err != nil {
		return "", err
	}

	var st statusResponse
	if err := json.Unmarshal(respBody, &st); err != nil {
		return "", fmt.Errorf("failed to unmarshal status response: %w", err)
	}

	if st.Status == model.TaskStatusFailed {
		msg := st.Error
		if msg == "" {
			msg = "task failed"
		}
		return st.Status, &TaskFailedError{RequestID: task.RequestID, Message: msg}
	}

	return st.Status, nil
}

// GetTaskResult fetches the result payload of a completed task
func (c *GenAIClient) GetTaskResult(ctx context.Context, task *model.ProviderTask) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.ResponseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	return c.do(req)
}

// RunTask submits a task and polls with exponential backoff until it reaches
// a terminal status or the hard deadline expires. The deadline is wall-clock
// from submission; a slow-but-progressing task past it is still abandoned.
func (c *GenAIClient) RunTask(ctx context.Context, modelID string, input json.RawMessage) (json.RawMessage, error) {
	task, err := c.SubmitTask(ctx, modelID, input)
	if err != nil {
		return nil, err
	}

	if task.Status == model.TaskStatusCompleted && task.Payload != nil {
		return task.Payload, nil
	}

	start := time.Now()
	deadline := start.Add(c.poll.Timeout)
	interval := c.poll.InitialInterval
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		if time.Now().After(deadline) {
			return nil, &TaskTimeoutError{RequestID: task.RequestID, Elapsed: time.Since(start)}
		}

		attempt++
		status, err := c.GetTaskStatus(ctx, task)
		if err != nil {
			return nil, err
		}

		log.Printf("[Provider] Poll #%d (task=%s) — status: %s", attempt, task.RequestID, status)

		if status == model.TaskStatusCompleted {
			return c.GetTaskResult(ctx, task)
		}

		next := time.Duration(float64(interval) * c.poll.Multiplier)
		if next > c.poll.MaxInterval {
			next = c.poll.MaxInterval
		}
		interval = next
	}
}

// do executes a request with auth headers and returns the raw body.
// 4xx responses become RequestRejectedError; they are never retryable.
func (c *GenAIClient) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Key "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, &RequestRejectedError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *GenAIClient) IsConfigured() bool {
	return c.apiKey != ""
}

// mediaExtractor pulls a media URL out of one known response shape
type mediaExtractor func(payload []byte) string

var mediaExtractors = []mediaExtractor{
	func(p []byte) string { // {"images": [{"url": ...}]}
		var v struct {
			Images []struct {
				URL string `json:"url"`
			} `json:"images"`
		}
		if json.Unmarshal(p, &v) == nil && len(v.Images) > 0 {
			return v.Images[0].URL
		}
		return ""
	},
	func(p []byte) string { // {"image": {"url": ...}}
		var v struct {
			Image struct {
				URL string `json:"url"`
			} `json:"image"`
		}
		if json.Unmarshal(p, &v) == nil {
			return v.Image.URL
		}
		return ""
	},
	func(p []byte) string { // {"video": {"url": ...}}
		var v struct {
			Video struct {
				URL string `json:"url"`
			} `json:"video"`
		}
		if json.Unmarshal(p, &v) == nil {
			return v.Video.URL
		}
		return ""
	},
	func(p []byte) string { // {"audio": {"url": ...}}
		var v struct {
			Audio struct {
				URL string `json:"url"`
			} `json:"audio"`
		}
		if json.Unmarshal(p, &v) == nil {
			return v.Audio.URL
		}
		return ""
	},
}

// ExtractMediaURL returns the first media reference found in a provider
// result payload, trying each known response shape in order.
func ExtractMediaURL(payload json.RawMessage) (string, bool) {
	for _, extract := range mediaExtractors {
		if url := extract(payload); url != "" {
			return url, true
		}
	}
	return "", false
}
