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

// TikTokPublisher defines the interface for publishing videos to TikTok.
type TikTokPublisher interface {
	PublishVideo(ctx context.Context, videoURL, caption string) (*TikTokPublishResult, error)
}

// TikTokClient implements TikTokPublisher against the TikTok content
// posting API, using the PULL_FROM_URL upload mode.
type TikTokClient struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
}

// TikTokPublishResult identifies the posted video.
type TikTokPublishResult struct {
	PublishID string `json:"publish_id"`
	Status    string `json:"status"`
}

type tiktokInitRequest struct {
	PostInfo struct {
		Title         string `json:"title"`
		PrivacyLevel  string `json:"privacy_level"`
		DisableDuet   bool   `json:"disable_duet"`
		DisableStitch bool   `json:"disable_stitch"`
	} `json:"post_info"`
	SourceInfo struct {
		Source   string `json:"source"`
		VideoURL string `json:"video_url"`
	} `json:"source_info"`
}

type tiktokInitResponse struct {
	Data struct {
		PublishID string `json:"publish_id"`
	} `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type tiktokStatusResponse struct {
	Data struct {
		Status     string `json:"status"`
		FailReason string `json:"fail_reason"`
	} `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewTikTokClient creates a new TikTok content posting client.
func NewTikTokClient(cfg *config.TikTokConfig) *TikTokClient {
	return &TikTokClient{
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		baseURL:     cfg.BaseURL,
		accessToken: cfg.AccessToken,
	}
}

// IsConfigured returns true if the client has valid configuration
func (c *TikTokClient) IsConfigured() bool {
	return c.accessToken != ""
}

// PublishVideo initiates a pull-from-url post and waits until TikTok has
// fetched and processed the video.
func (c *TikTokClient) PublishVideo(ctx context.Context, videoURL, caption string) (*TikTokPublishResult, error) {
	var initReq tiktokInitRequest
	initReq.PostInfo.Title = caption
	initReq.PostInfo.PrivacyLevel = "PUBLIC_TO_EVERYONE"
	initReq.SourceInfo.Source = "PULL_FROM_URL"
	initReq.SourceInfo.VideoURL = videoURL

	var initResp tiktokInitResponse
	if err := c.post(ctx, "/post/publish/video/init/", initReq, &initResp); err != nil {
		return nil, fmt.Errorf("failed to initiate tiktok post: %w", err)
	}
	if initResp.Error.Code != "" && initResp.Error.Code != "ok" {
		return nil, fmt.Errorf("tiktok API error %s: %s", initResp.Error.Code, initResp.Error.Message)
	}
	publishID := initResp.Data.PublishID
	if publishID == "" {
		return nil, fmt.Errorf("tiktok returned no publish id")
	}
	log.Printf("[TikTok API] initiated post %s", publishID)

	status, err := c.waitForPublish(ctx, publishID)
	if err != nil {
		return nil, err
	}
	return &TikTokPublishResult{PublishID: publishID, Status: status}, nil
}

func (c *TikTokClient) waitForPublish(ctx context.Context, publishID string) (string, error) {
	const (
		interval = 5 * time.Second
		maxWait  = 5 * time.Minute
	)
	deadline := time.Now().Add(maxWait)
	attempt := 0

	for time.Now().Before(deadline) {
		attempt++
		body := map[string]string{"publish_id": publishID}
		var status tiktokStatusResponse
		if err := c.post(ctx, "/post/publish/status/fetch/", body, &status); err != nil {
			return "", fmt.Errorf("failed to check publish status: %w", err)
		}

		log.Printf("[TikTok API] Poll publish #%d (id=%s) — status: %s", attempt, publishID, status.Data.Status)

		switch status.Data.Status {
		case "PUBLISH_COMPLETE":
			return status.Data.Status, nil
		case "FAILED":
			return "", fmt.Errorf("tiktok publish %s failed: %s", publishID, status.Data.FailReason)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}
	}
	return "", fmt.Errorf("tiktok publish %s not complete after %v", publishID, maxWait)
}

func (c *TikTokClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	log.Printf("[TikTok API] → POST %s", endpoint)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	log.Printf("[TikTok API] ← %d POST %s", resp.StatusCode, endpoint)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("tiktok API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
