package client

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/dse120071750/anime-dance-publisher/internal/config"
)

// SoundtrackGenerator defines the interface for music generation.
type SoundtrackGenerator interface {
	GenerateTrack(ctx context.Context, req *TrackRequest) (*TrackResult, error)
}

// MinimaxClient implements SoundtrackGenerator for the Minimax music API.
type MinimaxClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// TrackRequest describes the soundtrack to generate.
type TrackRequest struct {
	Prompt string `json:"prompt"`
	Lyrics string `json:"lyrics,omitempty"`
}

// TrackResult holds the generated track audio.
type TrackResult struct {
	Audio    []byte
	MIMEType string
}

type minimaxRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Lyrics string `json:"lyrics,omitempty"`
}

type minimaxResponse struct {
	Data struct {
		Audio  string `json:"audio"` // hex encoded mp3
		Status int    `json:"status"`
	} `json:"data"`
	BaseResp struct {
		StatusCode int    `json:"status_code"`
		StatusMsg  string `json:"status_msg"`
	} `json:"base_resp"`
}

// NewMinimaxClient creates a new Minimax music client.
func NewMinimaxClient(cfg *config.MusicConfig) *MinimaxClient {
	return &MinimaxClient{
		httpClient: &http.Client{
			Timeout: 180 * time.Second,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

// IsConfigured returns true if the client has valid configuration
func (c *MinimaxClient) IsConfigured() bool {
	return c.apiKey != ""
}

// GenerateTrack generates a soundtrack, retrying transient failures up to
// three times before giving up.
func (c *MinimaxClient) GenerateTrack(ctx context.Context, req *TrackRequest) (*TrackResult, error) {
	const maxAttempts = 3

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := c.generateOnce(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		log.Printf("[Minimax API] Generate attempt %d/%d failed: %v", attempt, maxAttempts, err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * 5 * time.Second):
		}
	}
	return nil, fmt.Errorf("music generation failed after %d attempts: %w", maxAttempts, lastErr)
}

func (c *MinimaxClient) generateOnce(ctx context.Context, req *TrackRequest) (*TrackResult, error) {
	body := minimaxRequest{
		Model:  c.model,
		Prompt: req.Prompt,
		Lyrics: req.Lyrics,
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/music_generation"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	log.Printf("[Minimax API] → POST %s", url)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	log.Printf("[Minimax API] ← %d POST %s", resp.StatusCode, url)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("minimax API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var parsed minimaxResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if parsed.BaseResp.StatusCode != 0 {
		return nil, fmt.Errorf("minimax API error %d: %s", parsed.BaseResp.StatusCode, parsed.BaseResp.StatusMsg)
	}
	if parsed.Data.Audio == "" {
		return nil, fmt.Errorf("minimax returned no audio data")
	}

	audio, err := hex.DecodeString(parsed.Data.Audio)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio payload: %w", err)
	}
	return &TrackResult{Audio: audio, MIMEType: "audio/mpeg"}, nil
}
