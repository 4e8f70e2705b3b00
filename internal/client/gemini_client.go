package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/dse120071750/anime-dance-publisher/internal/config"
)

// CharacterIdea is one brainstormed generation target.
type CharacterIdea struct {
	Name  string `json:"name"`
	Anime string `json:"anime"`
}

// ImageData is a raw generated or reference image.
type ImageData struct {
	MIMEType string
	Data     []byte
}

// CreativeGenerator defines the interface for LLM-backed text and image
// generation.
type CreativeGenerator interface {
	BrainstormCharacters(ctx context.Context, count int, existing []string) ([]CharacterIdea, error)
	GenerateText(ctx context.Context, prompt string) (string, error)
	GenerateImage(ctx context.Context, prompt string, refs ...*ImageData) (*ImageData, error)
}

// GeminiClient implements CreativeGenerator against the Gemini API. It holds
// a pool of API keys and rotates to the next key when the current one is
// rejected with a quota or permission error.
type GeminiClient struct {
	keys       []string
	textModel  string
	imageModel string
	limiter    *rate.Limiter

	mu      sync.Mutex
	keyIdx  int
	clients map[string]*genai.Client
}

// NewGeminiClient creates a client over the configured key pool.
func NewGeminiClient(cfg *config.GeminiConfig) (*GeminiClient, error) {
	if len(cfg.APIKeys) == 0 {
		return nil, fmt.Errorf("gemini configuration incomplete: no API keys")
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 1
	}
	return &GeminiClient{
		keys:       cfg.APIKeys,
		textModel:  cfg.TextModel,
		imageModel: cfg.ImageModel,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		clients:    make(map[string]*genai.Client),
	}, nil
}

// client returns a cached genai.Client for the current key.
func (c *GeminiClient) client(ctx context.Context) (*genai.Client, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.keys[c.keyIdx]
	if gc, ok := c.clients[key]; ok {
		return gc, key, nil
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to create gemini client: %w", err)
	}
	c.clients[key] = gc
	return gc, key, nil
}

// rotateKey advances to the next key in the pool if the current one is still
// the key that failed.
func (c *GeminiClient) rotateKey(failed string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keys[c.keyIdx] == failed {
		c.keyIdx = (c.keyIdx + 1) % len(c.keys)
		log.Printf("[Gemini API] rotating to key #%d after quota error", c.keyIdx+1)
	}
}

// isQuotaError reports whether the error warrants trying a different key.
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(msg, "403") ||
		strings.Contains(msg, "PERMISSION_DENIED")
}

// generate runs one GenerateContent call, trying each key in the pool at
// most once on quota errors.
func (c *GeminiClient) generate(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var lastErr error
	for attempt := 0; attempt < len(c.keys); attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		gc, key, err := c.client(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := gc.Models.GenerateContent(ctx, model, contents, cfg)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isQuotaError(err) {
			return nil, fmt.Errorf("gemini request failed: %w", err)
		}
		log.Printf("[Gemini API] ✗ %s — quota error on key #%d: %v", model, attempt+1, err)
		c.rotateKey(key)
	}
	return nil, fmt.Errorf("gemini request failed on all %d keys: %w", len(c.keys), lastErr)
}

// BrainstormCharacters asks the text model for count new character ideas,
// excluding names that already exist in the registry.
func (c *GeminiClient) BrainstormCharacters(ctx context.Context, count int, existing []string) ([]CharacterIdea, error) {
	prompt := fmt.Sprintf(
		"Suggest %d popular anime characters well suited for a cosplay dance video. "+
			"Pick visually distinctive characters from well-known series. "+
			"Respond with a JSON array of objects with fields \"name\" and \"anime\".",
		count)
	if len(existing) > 0 {
		prompt += fmt.Sprintf(" Do not suggest any of these existing characters: %s.", strings.Join(existing, ", "))
	}

	contents := []*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}}
	resp, err := c.generate(ctx, c.textModel, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, err
	}

	text := responseText(resp)
	var ideas []CharacterIdea
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &ideas); err != nil {
		return nil, fmt.Errorf("failed to parse brainstorm response: %w (body: %s)", err, text)
	}
	if len(ideas) > count {
		ideas = ideas[:count]
	}
	return ideas, nil
}

// GenerateText runs a plain text completion against the text model.
func (c *GeminiClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}}
	resp, err := c.generate(ctx, c.textModel, contents, nil)
	if err != nil {
		return "", err
	}
	text := responseText(resp)
	if text == "" {
		return "", fmt.Errorf("gemini returned no text")
	}
	return strings.TrimSpace(text), nil
}

// GenerateImage produces a portrait image from a prompt and optional
// reference images (for image-to-image transforms).
func (c *GeminiClient) GenerateImage(ctx context.Context, prompt string, refs ...*ImageData) (*ImageData, error) {
	parts := []*genai.Part{{Text: prompt}}
	for _, ref := range refs {
		if ref == nil {
			continue
		}
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{MIMEType: ref.MIMEType, Data: ref.Data},
		})
	}

	contents := []*genai.Content{{Parts: parts}}
	resp, err := c.generate(ctx, c.imageModel, contents, &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE"},
		ImageConfig:        &genai.ImageConfig{AspectRatio: "9:16"},
	})
	if err != nil {
		return nil, err
	}

	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return &ImageData{
					MIMEType: part.InlineData.MIMEType,
					Data:     part.InlineData.Data,
				}, nil
			}
		}
	}
	return nil, fmt.Errorf("gemini returned no image data")
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String()
}

// stripCodeFence removes a ```json ... ``` wrapper when the model adds one
// despite the JSON response mime type.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
