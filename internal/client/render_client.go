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
)

// RemoteRenderer defines the interface to the serverless render function
type RemoteRenderer interface {
	StartRender(ctx context.Context, req *StartRenderRequest) (*RenderHandle, error)
	GetRenderProgress(ctx context.Context, handle *RenderHandle) (*RenderProgress, error)
}

// StartRenderRequest asks the render function to render one composition
// from a published site. Config is passed through untouched.
type StartRenderRequest struct {
	ServeURL      string          `json:"serveUrl"`
	CompositionID string          `json:"compositionId"`
	Config        json.RawMessage `json:"config"`
}

// RenderHandle identifies a render in progress on the remote side
type RenderHandle struct {
	RenderID string `json:"renderId"`
	Bucket   string `json:"bucketName,omitempty"`
}

// RenderProgress is one progress sample from the render function
type RenderProgress struct {
	OverallProgress float64 `json:"overallProgress"` // 0..1
	Done            bool    `json:"done"`
	OutputURL       string  `json:"outputFile,omitempty"`
	FatalError      string  `json:"fatalErrorEncountered,omitempty"`
}

// RenderFnClient implements RemoteRenderer over HTTP
type RenderFnClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewRenderFnClient creates a new render function client
func NewRenderFnClient(cfg *config.RenderFnConfig) *RenderFnClient {
	return &RenderFnClient{
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}
}

// StartRender kicks off a render and returns its handle
func (c *RenderFnClient) StartRender(ctx context.Context, req *StartRenderRequest) (*RenderHandle, error) {
	var handle RenderHandle
	if err := c.post(ctx, "/render", req, &handle); err != nil {
		return nil, err
	}
	if handle.RenderID == "" {
		return nil, fmt.Errorf("render function returned no render id")
	}
	return &handle, nil
}

// GetRenderProgress fetches one progress sample for a running render
func (c *RenderFnClient) GetRenderProgress(ctx context.Context, handle *RenderHandle) (*RenderProgress, error) {
	endpoint := fmt.Sprintf("/render/%s/progress", handle.RenderID)
	var progress RenderProgress
	if err := c.get(ctx, endpoint, &progress); err != nil {
		return nil, err
	}
	return &progress, nil
}

// post sends a POST request with JSON body
func (c *RenderFnClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// get sends a GET request and parses JSON response
func (c *RenderFnClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// doRequest executes an HTTP request and parses the response
func (c *RenderFnClient) doRequest(req *http.Request, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	log.Printf("[RenderFn] → %s %s", req.Method, req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[RenderFn] ✗ %s %s — request failed: %v", req.Method, req.URL.String(), err)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("[RenderFn] ✗ %s %s — failed to read response: %v", req.Method, req.URL.String(), err)
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("[RenderFn] ← %d %s %s — %s", resp.StatusCode, req.Method, req.URL.String(), string(respBody))
		return fmt.Errorf("render function error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *RenderFnClient) IsConfigured() bool {
	return c.baseURL != "" && c.apiKey != ""
}
