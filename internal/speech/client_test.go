package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type nopLimiter struct{}

func (nopLimiter) Wait(context.Context, bool) error { return nil }

type recordingLimiter struct {
	mu    sync.Mutex
	calls []bool
}

func (l *recordingLimiter) Wait(_ context.Context, hd bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, hd)
	return nil
}

// newTestClient disables real pacing and replaces the backoff sleep with a
// recorder so retry tests run instantly.
func newTestClient(baseURL string, opts ...Option) (*Client, *[]time.Duration) {
	opts = append([]Option{WithBaseURL(baseURL), WithLimiter(nopLimiter{}), WithLogger(newLogger())}, opts...)
	c := New("test-key", opts...)
	var sleeps []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return c, &sleeps
}

func TestSynthesizeSendsRequest(t *testing.T) {
	var got Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/audio/speech" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header: %q", auth)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type: %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte("audio-bytes"))
	}))
	defer server.Close()

	c, _ := newTestClient(server.URL)
	audio, err := c.Synthesize(context.Background(), Request{
		Model: ModelStandard, Input: "Hello.", Voice: "alloy", Format: "mp3", Speed: 1.0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(audio) != "audio-bytes" {
		t.Fatalf("unexpected audio: %q", audio)
	}
	if got.Model != ModelStandard || got.Input != "Hello." || got.Voice != "alloy" {
		t.Fatalf("unexpected request payload: %+v", got)
	}
}

func TestSynthesizeRetriesTransientFailures(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	c, sleeps := newTestClient(server.URL, WithRetryDelay(5*time.Second))
	audio, err := c.Synthesize(context.Background(), Request{Input: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(audio) != "ok" {
		t.Fatalf("unexpected audio: %q", audio)
	}
	if calls != 3 {
		t.Fatalf("expected 3 requests, got %d", calls)
	}
	want := []time.Duration{5 * time.Second, 10 * time.Second}
	if len(*sleeps) != len(want) || (*sleeps)[0] != want[0] || (*sleeps)[1] != want[1] {
		t.Fatalf("expected linear backoff %v, got %v", want, *sleeps)
	}
}

func TestRetryBackoffAccumulates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	delay := 5 * time.Second
	c, sleeps := newTestClient(server.URL, WithRetryDelay(delay))
	_, err := c.Synthesize(context.Background(), Request{Input: "hi"})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}

	var total time.Duration
	for _, d := range *sleeps {
		total += d
	}
	if min := delay * 6; total < min {
		t.Fatalf("expected accumulated backoff of at least %v, got %v", min, total)
	}
	apiErr, ok := AsAPIError(err)
	if !ok {
		t.Fatalf("expected APIError in chain, got %v", err)
	}
	if !apiErr.IsServerError() {
		t.Fatalf("expected server error classification: %+v", apiErr)
	}
}

func TestTerminalStatusDoesNotRetry(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("x-request-id", "req-123")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer server.Close()

	c, sleeps := newTestClient(server.URL)
	_, err := c.Synthesize(context.Background(), Request{Input: "hi"})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected a single request, got %d", calls)
	}
	if len(*sleeps) != 0 {
		t.Fatalf("expected no backoff for terminal status, got %v", *sleeps)
	}
	apiErr, ok := AsAPIError(err)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if !apiErr.IsAuth() || apiErr.Retryable() {
		t.Fatalf("unexpected classification: %+v", apiErr)
	}
	if apiErr.Message != "bad key" || apiErr.RequestID != "req-123" {
		t.Fatalf("expected parsed message and request id, got %+v", apiErr)
	}
}

func TestEmptyBodyIsFailure(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c, sleeps := newTestClient(server.URL)
	_, err := c.Synthesize(context.Background(), Request{Input: "hi"})
	if !errors.Is(err, ErrEmptyAudio) {
		t.Fatalf("expected ErrEmptyAudio, got %v", err)
	}
	if calls != 1 || len(*sleeps) != 0 {
		t.Fatalf("expected single attempt without backoff, got %d calls %v", calls, *sleeps)
	}
}

func TestNetworkErrorsAreRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	c, sleeps := newTestClient(server.URL)
	_, err := c.Synthesize(context.Background(), Request{Input: "hi"})
	if err == nil {
		t.Fatal("expected error for unreachable server")
	}
	if len(*sleeps) != 3 {
		t.Fatalf("expected backoff after every attempt, got %v", *sleeps)
	}
}

func TestLimiterReceivesTier(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	limiter := &recordingLimiter{}
	c := New("test-key", WithBaseURL(server.URL), WithLimiter(limiter), WithLogger(newLogger()))

	if _, err := c.Synthesize(context.Background(), Request{Input: "hi", Model: ModelHD}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.Synthesize(context.Background(), Request{Input: "hi", Model: ModelStandard}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(limiter.calls) != 2 || !limiter.calls[0] || limiter.calls[1] {
		t.Fatalf("expected [hd, standard] gate calls, got %v", limiter.calls)
	}
}

func TestSynthesizeToStreams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte{0xAB}, 2048))
	}))
	defer server.Close()

	c, _ := newTestClient(server.URL)
	var buf bytes.Buffer
	n, err := c.SynthesizeTo(context.Background(), Request{Input: "hi"}, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2048 || buf.Len() != 2048 {
		t.Fatalf("expected 2048 bytes, got n=%d len=%d", n, buf.Len())
	}
}

func TestSynthesizeRejectsEmptyInput(t *testing.T) {
	c, _ := newTestClient("http://unused")
	if _, err := c.Synthesize(context.Background(), Request{}); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestIntervalLimiterSpacesCalls(t *testing.T) {
	l := NewIntervalLimiter(50*time.Millisecond, time.Second)
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(context.Background(), false); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("expected at least 100ms of spacing across 3 calls, got %v", elapsed)
	}
}

func TestIntervalLimiterHonoursCancel(t *testing.T) {
	l := NewIntervalLimiter(time.Minute, time.Minute)
	if err := l.Wait(context.Background(), false); err != nil {
		t.Fatalf("first wait should pass immediately: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, false); err == nil {
		t.Fatal("expected cancellation while waiting for the next slot")
	}
}
