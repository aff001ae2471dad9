package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastConfig keeps test runtimes low while preserving the rate discipline.
func fastConfig() Config {
	return Config{
		MinInterval:    10 * time.Millisecond,
		MaxRetries:     3,
		BaseRetryDelay: 1 * time.Millisecond,
	}
}

// recordingServer tracks request arrival order and times.
type recordingServer struct {
	mu       sync.Mutex
	paths    []string
	times    []time.Time
	handlers map[string]func(n int) int // path -> status for nth call to that path
	counts   map[string]int
}

func newRecordingServer() *recordingServer {
	return &recordingServer{
		handlers: make(map[string]func(n int) int),
		counts:   make(map[string]int),
	}
}

func (s *recordingServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.paths = append(s.paths, r.URL.Path)
	s.times = append(s.times, time.Now())
	n := s.counts[r.URL.Path]
	s.counts[r.URL.Path] = n + 1
	handler := s.handlers[r.URL.Path]
	s.mu.Unlock()

	status := http.StatusOK
	if handler != nil {
		status = handler(n)
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte("body for " + r.URL.Path))
}

func (s *recordingServer) requestLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

func (s *recordingServer) requestTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.times...)
}

func TestDispatch_Success(t *testing.T) {
	rec := newRecordingServer()
	srv := httptest.NewServer(rec)
	defer srv.Close()

	g := New(fastConfig())
	resp, err := g.Dispatch(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL + "/ok"})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "body for /ok", string(resp.Body))
}

func TestDispatch_EnforcesMinInterval(t *testing.T) {
	rec := newRecordingServer()
	srv := httptest.NewServer(rec)
	defer srv.Close()

	cfg := fastConfig()
	cfg.MinInterval = 25 * time.Millisecond
	g := New(cfg)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Dispatch(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL + "/burst"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	times := rec.requestTimes()
	require.Len(t, times, 4)
	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		// Allow a small scheduling slack on the measurement side.
		assert.GreaterOrEqual(t, gap, cfg.MinInterval-5*time.Millisecond,
			"requests %d and %d violated the rate ceiling", i-1, i)
	}
}

func TestDispatch_RateLimitRetriesThenSucceeds(t *testing.T) {
	rec := newRecordingServer()
	rec.handlers["/limited"] = func(n int) int {
		if n < 2 {
			return http.StatusTooManyRequests
		}
		return http.StatusOK
	}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	g := New(fastConfig())
	resp, err := g.Dispatch(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL + "/limited"})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Len(t, rec.requestLog(), 3)
}

func TestDispatch_RateLimitExhaustion(t *testing.T) {
	rec := newRecordingServer()
	rec.handlers["/limited"] = func(n int) int { return http.StatusTooManyRequests }
	srv := httptest.NewServer(rec)
	defer srv.Close()

	cfg := fastConfig()
	g := New(cfg)
	_, err := g.Dispatch(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL + "/limited"})

	require.Error(t, err)
	var rateErr *RateLimitError
	require.True(t, errors.As(err, &rateErr))
	assert.Equal(t, cfg.MaxRetries, rateErr.Retries)

	// Initial attempt plus MaxRetries retries.
	assert.Len(t, rec.requestLog(), cfg.MaxRetries+1)
}

func TestDispatch_NonRateLimitFailureIsNotRetried(t *testing.T) {
	rec := newRecordingServer()
	rec.handlers["/bad"] = func(n int) int { return http.StatusBadRequest }
	srv := httptest.NewServer(rec)
	defer srv.Close()

	g := New(fastConfig())
	_, err := g.Dispatch(context.Background(), &Request{Method: http.MethodPost, URL: srv.URL + "/bad", Body: []byte("{}")})

	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Contains(t, apiErr.Body, "body for /bad")

	// Exactly one wire attempt.
	assert.Len(t, rec.requestLog(), 1)
}

func TestDispatch_TransportFailureRetriedThenSurfaced(t *testing.T) {
	// Point at a closed server so every attempt fails at the transport level.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	cfg := fastConfig()
	g := New(cfg)
	_, err := g.Dispatch(context.Background(), &Request{Method: http.MethodGet, URL: url + "/gone"})

	require.Error(t, err)
	var rateErr *RateLimitError
	assert.False(t, errors.As(err, &rateErr), "transport errors surface verbatim, not as rate limit")
}

func TestDispatch_RetriedRequestServicedBeforeNewer(t *testing.T) {
	rec := newRecordingServer()
	rec.handlers["/first"] = func(n int) int {
		if n == 0 {
			return http.StatusTooManyRequests
		}
		return http.StatusOK
	}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	cfg := fastConfig()
	cfg.BaseRetryDelay = 30 * time.Millisecond
	g := New(cfg)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := g.Dispatch(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL + "/first"})
		assert.NoError(t, err)
	}()
	// Enqueue /second inside /first's backoff window so the retry and the
	// newer request are both pending at once.
	require.Eventually(t, func() bool {
		return len(rec.requestLog()) == 1
	}, time.Second, time.Millisecond)
	go func() {
		defer wg.Done()
		_, err := g.Dispatch(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL + "/second"})
		assert.NoError(t, err)
	}()
	wg.Wait()

	// The failing /first is re-inserted at the queue front, so its retry is
	// serviced before /second gets its turn.
	assert.Equal(t, []string{"/first", "/first", "/second"}, rec.requestLog())
}

func TestDispatch_CancelledContextRejectedBeforeEnqueue(t *testing.T) {
	rec := newRecordingServer()
	srv := httptest.NewServer(rec)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := New(fastConfig())
	_, err := g.Dispatch(ctx, &Request{Method: http.MethodGet, URL: srv.URL + "/never"})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.requestLog(), "cancelled call must never reach the wire")
	assert.Equal(t, 0, g.Status().Depth)
}

func TestStatus_IdleAfterDrain(t *testing.T) {
	rec := newRecordingServer()
	srv := httptest.NewServer(rec)
	defer srv.Close()

	g := New(fastConfig())
	_, err := g.Dispatch(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL + "/one"})
	require.NoError(t, err)

	// Worker exits once the queue is drained.
	assert.Eventually(t, func() bool {
		st := g.Status()
		return st.Depth == 0 && !st.Processing
	}, time.Second, 5*time.Millisecond)
}

func TestNew_AppliesDefaults(t *testing.T) {
	g := New(Config{})
	assert.Equal(t, DefaultMinInterval, g.cfg.MinInterval)
	assert.Equal(t, DefaultMaxRetries, g.cfg.MaxRetries)
	assert.Equal(t, DefaultBaseRetryDelay, g.cfg.BaseRetryDelay)
}
