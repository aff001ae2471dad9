package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyrank/storyrank/internal/embed"
	"github.com/storyrank/storyrank/internal/gateway"
)

func testGateway() *gateway.Gateway {
	return gateway.New(gateway.Config{
		MinInterval:    time.Millisecond,
		MaxRetries:     2,
		BaseRetryDelay: time.Millisecond,
	})
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: baseURL, APIKey: "test-key"}, testGateway())
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{APIKey: "k"}, nil)
	assert.Error(t, err, "gateway is required")

	_, err = NewClient(Config{}, testGateway())
	assert.Error(t, err, "API key is required")

	c, err := NewClient(Config{APIKey: "k"}, testGateway())
	require.NoError(t, err)
	assert.Equal(t, DefaultEmbeddingModel, c.ModelName())
}

func TestEmbed_SingleText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultEmbeddingModel, req["model"])
		assert.Equal(t, "diabetes care plan", req["input"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float64{0.1, 0.2, 0.3}, "index": 0},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	vec, err := c.Embed(context.Background(), "diabetes care plan")

	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, 3, c.Dimensions())
}

func TestEmbedBatch_MultipleTexts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		inputs, ok := req["input"].([]any)
		require.True(t, ok, "batch input should be an array")

		data := make([]map[string]any, len(inputs))
		for i := range inputs {
			data[i] = map[string]any{"embedding": []float64{float64(i), 1}, "index": i}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	vecs, err := c.EmbedBatch(context.Background(), []string{"one", "two"})

	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{0, 1}, vecs[0])
	assert.Equal(t, []float32{1, 1}, vecs[1])
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	c := newTestClient(t, "http://unused.invalid")
	vecs, err := c.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestEmbed_RateLimitSurfacesGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Embed(context.Background(), "query")

	require.Error(t, err)
	var rateErr *gateway.RateLimitError
	assert.True(t, errors.As(err, &rateErr))
}

func TestEmbed_CancelledContextBeforeEnqueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestClient(t, "http://unused.invalid")
	_, err := c.Embed(ctx, "query")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmbed_ConcurrentCallersShareDimensions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float64{0.5, 0.5, 0.5, 0.5}, "index": 0},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Embed(context.Background(), "shared client query")
			assert.NoError(t, err)
			// Interleaved reads of the lazily detected dimension.
			d := c.Dimensions()
			assert.True(t, d == 4 || d == embed.DefaultDimensions)
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, c.Dimensions())
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultCompletionModel, req["model"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "refined story"}},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	out, err := c.Complete(context.Background(), "refine this story")

	require.NoError(t, err)
	assert.Equal(t, "refined story", out)
}

func TestComplete_BadStatusIsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("invalid api key"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Complete(context.Background(), "prompt")

	require.Error(t, err)
	var apiErr *gateway.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Contains(t, apiErr.Body, "invalid api key")
}
