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
)

// WebhookNotifier posts job completion payloads to a caller-supplied URL.
// Delivery is best effort: failures are logged, never propagated.
type WebhookNotifier interface {
	Notify(ctx context.Context, url string, payload interface{})
}

// WebhookClient implements WebhookNotifier over plain HTTP.
type WebhookClient struct {
	httpClient *http.Client
}

// NewWebhookClient creates a webhook notifier.
func NewWebhookClient() *WebhookClient {
	return &WebhookClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Notify posts the payload as JSON. A non-2xx response is logged and dropped.
func (c *WebhookClient) Notify(ctx context.Context, url string, payload interface{}) {
	if url == "" {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[Webhook] ✗ %s — failed to marshal payload: %v", url, err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Printf("[Webhook] ✗ %s — failed to create request: %v", url, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Webhook] ✗ %s — delivery failed: %v", url, err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("[Webhook] ✗ %s — receiver returned %d", url, resp.StatusCode)
		return
	}
	log.Printf("[Webhook] ← %d %s", resp.StatusCode, url)
}

// FetchBytes downloads a URL into memory. Used to pull generated assets off
// vendor CDNs before re-uploading them to our own storage.
func FetchBytes(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	httpClient := &http.Client{Timeout: 5 * time.Minute}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("download %s failed with status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read download %s: %w", url, err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
