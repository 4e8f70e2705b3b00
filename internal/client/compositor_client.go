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

// VideoCompositor defines the interface for video post-production operations.
type VideoCompositor interface {
	Compose(ctx context.Context, req *ComposeRequest) (*ComposeResponse, error)
	ConcatRemix(ctx context.Context, req *RemixRequest) (*RemixResponse, error)
	ExtractFrame(ctx context.Context, req *FrameRequest) (*FrameResponse, error)
	HealthCheck(ctx context.Context) error
}

// CompositorClient implements VideoCompositor for the ffmpeg microservice.
type CompositorClient struct {
	httpClient *http.Client
	baseURL    string
}

// ComposeRequest merges a dance video with a soundtrack into a deliverable.
type ComposeRequest struct {
	VideoURL  string `json:"video_url"`
	AudioURL  string `json:"audio_url,omitempty"`
	Watermark bool   `json:"watermark,omitempty"`
	OutputKey string `json:"output_key"`
}

// ComposeResponse is the finished deliverable.
type ComposeResponse struct {
	OutputURL string  `json:"output_url"`
	Duration  float64 `json:"duration"`
	Size      int64   `json:"size"`
}

// RemixRequest concatenates several dance clips into one remix video with
// zoom-slam transitions between segments.
type RemixRequest struct {
	VideoURLs []string `json:"video_urls"`
	OutputKey string   `json:"output_key"`
}

// RemixResponse is the concatenated remix.
type RemixResponse struct {
	OutputURL string  `json:"output_url"`
	Duration  float64 `json:"duration"`
}

// FrameRequest extracts a single still frame from a video.
type FrameRequest struct {
	VideoURL  string  `json:"video_url"`
	Timestamp float64 `json:"timestamp"`
	OutputKey string  `json:"output_key"`
}

// FrameResponse is the extracted frame image.
type FrameResponse struct {
	OutputURL string `json:"output_url"`
}

// NewCompositorClient creates a new video compositor client.
func NewCompositorClient(cfg *config.CompositorConfig) *CompositorClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &CompositorClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.ServiceURL,
	}
}

// Compose merges video and audio into the final deliverable.
func (c *CompositorClient) Compose(ctx context.Context, req *ComposeRequest) (*ComposeResponse, error) {
	var result ComposeResponse
	if err := c.post(ctx, "/v1/compose", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ConcatRemix produces a single remix video from multiple dance clips.
func (c *CompositorClient) ConcatRemix(ctx context.Context, req *RemixRequest) (*RemixResponse, error) {
	var result RemixResponse
	if err := c.post(ctx, "/v1/remix", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ExtractFrame pulls one still from a video, by default the first frame.
func (c *CompositorClient) ExtractFrame(ctx context.Context, req *FrameRequest) (*FrameResponse, error) {
	var result FrameResponse
	if err := c.post(ctx, "/v1/extract-frame", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// HealthCheck verifies the compositor service is reachable.
func (c *CompositorClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("compositor service unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("compositor service unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}

// post sends a POST request with JSON body
func (c *CompositorClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.Printf("[Compositor] → POST %s", req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Compositor] ✗ POST %s — request failed: %v", req.URL.String(), err)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	log.Printf("[Compositor] ← %d POST %s", resp.StatusCode, req.URL.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("compositor error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}
