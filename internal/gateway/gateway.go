// Package gateway serializes and rate-limits outbound calls to the remote
// model provider. All provider traffic flows through a single Gateway so the
// request-rate budget is enforced across every concurrent caller in the
// process.
package gateway

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Default gateway configuration values.
const (
	// DefaultMinInterval is the minimum time between wire dispatches.
	DefaultMinInterval = 1 * time.Second

	// DefaultMaxRetries is the number of retry attempts after the initial one.
	DefaultMaxRetries = 3

	// DefaultBaseRetryDelay is the base delay for exponential backoff.
	DefaultBaseRetryDelay = 2 * time.Second
)

// Config configures the Gateway.
type Config struct {
	// MinInterval is the minimum time between consecutive wire dispatches.
	MinInterval time.Duration

	// MaxRetries is the maximum number of retries per request
	// (not including the initial attempt).
	MaxRetries int

	// BaseRetryDelay is the base backoff delay; retry n waits
	// BaseRetryDelay * 2^(n-1).
	BaseRetryDelay time.Duration
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() Config {
	return Config{
		MinInterval:    DefaultMinInterval,
		MaxRetries:     DefaultMaxRetries,
		BaseRetryDelay: DefaultBaseRetryDelay,
	}
}

// Request is one outbound provider request.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is the terminal success resolution of a dispatched request.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// callResult is the terminal resolution of a queued call.
type callResult struct {
	resp *Response
	err  error
}

// queuedCall is one pending gateway request. It is created on Dispatch,
// consumed by the worker, and terminated by success, permanent failure,
// or retry re-enqueue (attempt incremented, never duplicated).
type queuedCall struct {
	req        *Request
	attempt    int
	done       chan callResult
	enqueuedAt time.Time
}

// QueueStatus describes the gateway queue for observability.
type QueueStatus struct {
	Depth      int
	Processing bool
}

// Gateway guarantees that outbound provider calls never exceed one in-flight
// request at a time and never violate MinInterval between dispatches, while
// transparently retrying transient failures with exponential backoff.
//
// Construct one Gateway at process start and share it by reference.
type Gateway struct {
	cfg    Config
	client *http.Client

	mu           sync.Mutex
	queue        []*queuedCall
	processing   bool
	lastDispatch time.Time
}

// New creates a Gateway with the given configuration.
// Zero-valued fields fall back to defaults.
func New(cfg Config) *Gateway {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BaseRetryDelay <= 0 {
		cfg.BaseRetryDelay = DefaultBaseRetryDelay
	}
	return &Gateway{
		cfg: cfg,
		// No client-level timeout: a queued call runs to terminal
		// resolution and the retry cap bounds total work.
		client: &http.Client{},
	}
}

// NewWithClient creates a Gateway using a caller-supplied HTTP client.
// Used by tests and callers needing custom transports.
func NewWithClient(cfg Config, client *http.Client) *Gateway {
	g := New(cfg)
	if client != nil {
		g.client = client
	}
	return g
}

// Dispatch enqueues the request and blocks until it reaches a terminal
// resolution: the provider's response, a *RateLimitError after retries are
// exhausted, a *APIError for a non-retryable status, or the underlying
// transport error. The context is honored only before enqueue; once queued
// the call runs to terminal resolution and cannot be cancelled.
func (g *Gateway) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	call := &queuedCall{
		req:        req,
		done:       make(chan callResult, 1),
		enqueuedAt: time.Now(),
	}

	g.mu.Lock()
	g.queue = append(g.queue, call)
	start := !g.processing
	if start {
		g.processing = true
	}
	depth := len(g.queue)
	g.mu.Unlock()

	slog.Debug("gateway_enqueue",
		slog.String("url", req.URL),
		slog.Int("queue_depth", depth))

	if start {
		go g.processQueue()
	}

	result := <-call.done
	return result.resp, result.err
}

// Status returns the current queue depth and whether the worker is running.
func (g *Gateway) Status() QueueStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return QueueStatus{Depth: len(g.queue), Processing: g.processing}
}

// processQueue drains the queue, strictly serialized. Retried calls are
// re-inserted at the front so a failing request is retried before newer
// requests are attempted.
func (g *Gateway) processQueue() {
	for {
		g.mu.Lock()
		if len(g.queue) == 0 {
			g.processing = false
			g.mu.Unlock()
			return
		}
		call := g.queue[0]
		g.queue = g.queue[1:]

		// Wait out the remainder of MinInterval since the last dispatch.
		wait := g.cfg.MinInterval - time.Since(g.lastDispatch)
		g.mu.Unlock()

		if wait > 0 {
			slog.Debug("gateway_rate_wait", slog.Duration("wait", wait))
			time.Sleep(wait)
		}

		g.mu.Lock()
		g.lastDispatch = time.Now()
		g.mu.Unlock()

		resp, err := g.execute(call.req)
		switch {
		case err != nil:
			// Transport failure: retry with backoff up to the cap.
			if !g.retry(call, err) {
				call.done <- callResult{err: err}
			}

		case resp.Status == http.StatusTooManyRequests:
			rateErr := &RateLimitError{Retries: g.cfg.MaxRetries}
			if !g.retry(call, rateErr) {
				call.done <- callResult{err: rateErr}
			}

		case resp.Status < 200 || resp.Status >= 300:
			// Non-success, non-rate-limit: permanent failure, no retry.
			call.done <- callResult{err: &APIError{
				Status: resp.Status,
				Body:   string(resp.Body),
			}}

		default:
			call.done <- callResult{resp: resp}
		}
	}
}

// retry re-enqueues the call at the front of the queue after the backoff
// delay, if attempts remain. Returns false when the retry budget is spent.
func (g *Gateway) retry(call *queuedCall, cause error) bool {
	if call.attempt >= g.cfg.MaxRetries {
		return false
	}
	call.attempt++

	delay := g.cfg.BaseRetryDelay << (call.attempt - 1)
	slog.Debug("gateway_retry",
		slog.String("url", call.req.URL),
		slog.Int("attempt", call.attempt),
		slog.Int("max_retries", g.cfg.MaxRetries),
		slog.Duration("delay", delay),
		slog.String("cause", cause.Error()))

	// The backoff is served inside the worker loop: the whole queue waits,
	// preserving the rate ceiling across all callers.
	time.Sleep(delay)

	g.mu.Lock()
	g.queue = append([]*queuedCall{call}, g.queue...)
	g.mu.Unlock()
	return true
}

// execute performs one wire attempt.
func (g *Gateway) execute(req *Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequest(req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		Body:   respBody,
	}, nil
}
