// Package provider implements the remote model provider client. Every call
// is routed through the request gateway; the client never talks to the
// network directly.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/storyrank/storyrank/internal/embed"
	"github.com/storyrank/storyrank/internal/gateway"
)

// Default provider settings (Mistral-compatible API surface).
const (
	DefaultBaseURL         = "https://api.mistral.ai/v1"
	DefaultEmbeddingModel  = "mistral-embed"
	DefaultCompletionModel = "mistral-small-latest"
)

// Config configures the provider client.
type Config struct {
	// BaseURL is the provider API root (default: Mistral's v1 endpoint).
	BaseURL string

	// APIKey authenticates requests. Required.
	APIKey string

	// EmbeddingModel is the model used for Embed calls.
	EmbeddingModel string

	// CompletionModel is the model used for Complete calls.
	CompletionModel string
}

// Client calls the remote model provider through a Gateway. It is safe for
// concurrent use.
type Client struct {
	cfg  Config
	gw   *gateway.Gateway
	dims atomic.Int32
}

// Compile-time interface check.
var _ embed.Embedder = (*Client)(nil)

// NewClient creates a provider client. The gateway is required: it is the
// only path to the provider.
func NewClient(cfg Config, gw *gateway.Gateway) (*Client, error) {
	if gw == nil {
		return nil, fmt.Errorf("provider client requires a gateway")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.CompletionModel == "" {
		cfg.CompletionModel = DefaultCompletionModel
	}

	return &Client{cfg: cfg, gw: gw}, nil
}

// Embed generates an embedding for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one provider call.
// The enqueue-side context is checked before dispatch; once queued, the call
// runs to terminal resolution.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}

	body, err := json.Marshal(embeddingRequest{
		Model: c.cfg.EmbeddingModel,
		Input: input,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.gw.Dispatch(ctx, &gateway.Request{
		Method: http.MethodPost,
		URL:    c.cfg.BaseURL + "/embeddings",
		Header: c.headers(),
		Body:   body,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}

	var result embeddingResponse
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}

	embeddings := make([][]float32, len(result.Data))
	for i, d := range result.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		embeddings[i] = vec
	}

	if len(embeddings[0]) > 0 {
		c.dims.CompareAndSwap(0, int32(len(embeddings[0])))
	}

	return embeddings, nil
}

// Complete sends a single-turn prompt to the chat completions endpoint and
// returns the model's text response.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(completionRequest{
		Model:    c.cfg.CompletionModel,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.gw.Dispatch(ctx, &gateway.Request{
		Method: http.MethodPost,
		URL:    c.cfg.BaseURL + "/chat/completions",
		Header: c.headers(),
		Body:   body,
	})
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}

	var result completionResponse
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("empty completion returned")
	}

	return result.Choices[0].Message.Content, nil
}

// Dimensions returns the embedding dimension. Detected lazily from the first
// embedding; before that, the default model dimension is reported.
func (c *Client) Dimensions() int {
	if d := c.dims.Load(); d > 0 {
		return int(d)
	}
	return embed.DefaultDimensions
}

// ModelName returns the embedding model identifier.
func (c *Client) ModelName() string {
	return c.cfg.EmbeddingModel
}

func (c *Client) headers() http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Bearer "+c.cfg.APIKey)
	return h
}
