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

	"github.com/dse120071750/anime-dance-publisher/internal/config"
)

// MotionTransfer defines the interface for image-to-video motion transfer.
type MotionTransfer interface {
	SubmitMotionJob(ctx context.Context, req *MotionRequest) (*MotionSubmitResponse, error)
	GetMotionStatus(ctx context.Context, requestID string) (*MotionStatus, error)
	GetMotionResult(ctx context.Context, requestID string) (*MotionResult, error)
	PollMotionResult(ctx context.Context, requestID string, interval, maxWait time.Duration) (*MotionResult, error)
}

// FalClient implements MotionTransfer for the fal.ai queue API.
type FalClient struct {
	httpClient *http.Client
	baseURL    string
	endpoint   string
	apiKey     string
}

// MotionRequest drives one dance video generation: a still character image
// animated with the movement of a reference video.
type MotionRequest struct {
	ImageURL    string `json:"image_url"`
	VideoURL    string `json:"video_url"`
	Prompt      string `json:"prompt,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
}

// MotionSubmitResponse is the queue acknowledgement.
type MotionSubmitResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// MotionStatus is the poll response for an in-flight request.
type MotionStatus struct {
	Status    string `json:"status"`
	QueuePos  int    `json:"queue_position,omitempty"`
	RequestID string `json:"request_id"`
}

// MotionResult is the completed generation payload.
type MotionResult struct {
	Video struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type,omitempty"`
	} `json:"video"`
}

// NewFalClient creates a new fal.ai motion transfer client.
func NewFalClient(cfg *config.MotionConfig) *FalClient {
	return &FalClient{
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		baseURL:  cfg.BaseURL,
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
	}
}

// IsConfigured returns true if the client has valid configuration
func (c *FalClient) IsConfigured() bool {
	return c.apiKey != ""
}

// SubmitMotionJob enqueues a motion transfer request.
func (c *FalClient) SubmitMotionJob(ctx context.Context, req *MotionRequest) (*MotionSubmitResponse, error) {
	var result MotionSubmitResponse
	url := fmt.Sprintf("%s/%s", c.baseURL, c.endpoint)
	if err := c.post(ctx, url, req, &result); err != nil {
		return nil, err
	}
	if result.RequestID == "" {
		return nil, fmt.Errorf("fal queue returned no request id")
	}
	return &result, nil
}

// GetMotionStatus retrieves the queue status of a request.
func (c *FalClient) GetMotionStatus(ctx context.Context, requestID string) (*MotionStatus, error) {
	url := fmt.Sprintf("%s/%s/requests/%s/status", c.baseURL, c.endpoint, requestID)
	var result MotionStatus
	if err := c.get(ctx, url, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetMotionResult retrieves the final payload of a completed request.
func (c *FalClient) GetMotionResult(ctx context.Context, requestID string) (*MotionResult, error) {
	url := fmt.Sprintf("%s/%s/requests/%s", c.baseURL, c.endpoint, requestID)
	var result MotionResult
	if err := c.get(ctx, url, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PollMotionResult polls the queue until the request completes, then fetches
// the result.
func (c *FalClient) PollMotionResult(ctx context.Context, requestID string, interval, maxWait time.Duration) (*MotionResult, error) {
	deadline := time.Now().Add(maxWait)
	attempt := 0

	for time.Now().Before(deadline) {
		attempt++
		status, err := c.GetMotionStatus(ctx, requestID)
		if err != nil {
			log.Printf("[Fal API] Poll motion #%d (request=%s) — error: %v", attempt, requestID, err)
			return nil, err
		}

		log.Printf("[Fal API] Poll motion #%d (request=%s) — status: %s", attempt, requestID, status.Status)

		switch status.Status {
		case "COMPLETED":
			return c.GetMotionResult(ctx, requestID)
		case "FAILED", "ERROR":
			return nil, fmt.Errorf("motion transfer failed: %s", status.Status)
		}

		select {
		case <-ctx.Done():
			log.Printf("[Fal API] Poll motion (request=%s) — context cancelled", requestID)
			return nil, ctx.Err()
		case <-time.After(interval):
			continue
		}
	}

	return nil, fmt.Errorf("motion transfer timed out after %v", maxWait)
}

// post sends a POST request with JSON body
func (c *FalClient) post(ctx context.Context, url string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// get sends a GET request and parses JSON response
func (c *FalClient) get(ctx context.Context, url string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// doRequest executes an HTTP request and parses the response
func (c *FalClient) doRequest(req *http.Request, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Key "+c.apiKey)

	log.Printf("[Fal API] → %s %s", req.Method, req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Fal API] ✗ %s %s — request failed: %v", req.Method, req.URL.String(), err)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	log.Printf("[Fal API] ← %d %s %s", resp.StatusCode, req.Method, req.URL.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fal API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}
