package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dse120071750/anime-dance-publisher/internal/config"
)

// ReelsPublisher defines the interface for publishing reels to Instagram.
type ReelsPublisher interface {
	PublishReel(ctx context.Context, videoURL, caption string) (*ReelPublishResult, error)
}

// InstagramClient implements ReelsPublisher against the Instagram Graph API.
// Publishing is a three step flow: create a media container, poll it until
// the video is ingested, then publish the container.
type InstagramClient struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
	accountID   string
}

// ReelPublishResult identifies the published reel.
type ReelPublishResult struct {
	ContainerID string `json:"container_id"`
	MediaID     string `json:"media_id"`
}

type igIDResponse struct {
	ID string `json:"id"`
}

type igStatusResponse struct {
	StatusCode string `json:"status_code"`
	ID         string `json:"id"`
}

// NewInstagramClient creates a new Instagram Graph API client.
func NewInstagramClient(cfg *config.InstagramConfig) *InstagramClient {
	return &InstagramClient{
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		baseURL:     cfg.BaseURL,
		accessToken: cfg.AccessToken,
		accountID:   cfg.AccountID,
	}
}

// IsConfigured returns true if the client has valid configuration
func (c *InstagramClient) IsConfigured() bool {
	return c.accessToken != "" && c.accountID != ""
}

// PublishReel runs the full container/poll/publish flow.
func (c *InstagramClient) PublishReel(ctx context.Context, videoURL, caption string) (*ReelPublishResult, error) {
	containerID, err := c.createContainer(ctx, videoURL, caption)
	if err != nil {
		return nil, err
	}

	if err := c.waitForContainer(ctx, containerID); err != nil {
		return nil, err
	}

	mediaID, err := c.publishContainer(ctx, containerID)
	if err != nil {
		return nil, err
	}

	return &ReelPublishResult{ContainerID: containerID, MediaID: mediaID}, nil
}

func (c *InstagramClient) createContainer(ctx context.Context, videoURL, caption string) (string, error) {
	params := url.Values{}
	params.Set("media_type", "REELS")
	params.Set("video_url", videoURL)
	params.Set("caption", caption)
	params.Set("access_token", c.accessToken)

	endpoint := fmt.Sprintf("%s/%s/media", c.baseURL, c.accountID)
	var result igIDResponse
	if err := c.postForm(ctx, endpoint, params, &result); err != nil {
		return "", fmt.Errorf("failed to create media container: %w", err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("instagram returned no container id")
	}
	log.Printf("[Instagram API] created container %s", result.ID)
	return result.ID, nil
}

// waitForContainer polls the container until Instagram has ingested the
// video. Ingestion of a short reel normally takes under a minute.
func (c *InstagramClient) waitForContainer(ctx context.Context, containerID string) error {
	const (
		interval = 5 * time.Second
		maxWait  = 5 * time.Minute
	)
	deadline := time.Now().Add(maxWait)
	attempt := 0

	for time.Now().Before(deadline) {
		attempt++
		endpoint := fmt.Sprintf("%s/%s?fields=status_code&access_token=%s", c.baseURL, containerID, url.QueryEscape(c.accessToken))
		var status igStatusResponse
		if err := c.get(ctx, endpoint, &status); err != nil {
			return fmt.Errorf("failed to check container status: %w", err)
		}

		log.Printf("[Instagram API] Poll container #%d (id=%s) — status: %s", attempt, containerID, status.StatusCode)

		switch status.StatusCode {
		case "FINISHED":
			return nil
		case "ERROR", "EXPIRED":
			return fmt.Errorf("media container %s failed with status %s", containerID, status.StatusCode)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("media container %s not ready after %v", containerID, maxWait)
}

func (c *InstagramClient) publishContainer(ctx context.Context, containerID string) (string, error) {
	params := url.Values{}
	params.Set("creation_id", containerID)
	params.Set("access_token", c.accessToken)

	endpoint := fmt.Sprintf("%s/%s/media_publish", c.baseURL, c.accountID)
	var result igIDResponse
	if err := c.postForm(ctx, endpoint, params, &result); err != nil {
		return "", fmt.Errorf("failed to publish container: %w", err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("instagram returned no media id")
	}
	log.Printf("[Instagram API] published media %s", result.ID)
	return result.ID, nil
}

func (c *InstagramClient) postForm(ctx context.Context, endpoint string, params url.Values, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.doRequest(req, result)
}

func (c *InstagramClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.doRequest(req, result)
}

func (c *InstagramClient) doRequest(req *http.Request, result interface{}) error {
	log.Printf("[Instagram API] → %s %s", req.Method, req.URL.Path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	log.Printf("[Instagram API] ← %d %s %s", resp.StatusCode, req.Method, req.URL.Path)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("instagram API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
