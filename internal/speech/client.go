// Package speech is the client for the JSON-over-HTTPS synthesis endpoint.
// It owns request pacing and retry; callers see one blocking call per chunk.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultBaseURL is the synthesis API root.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultTimeout bounds a single request; long inputs can take a while
	// to render server-side.
	DefaultTimeout = 120 * time.Second

	// DefaultMaxAttempts is the total number of tries per chunk.
	DefaultMaxAttempts = 3

	// DefaultRetryDelay is the backoff base; attempt n waits n times this.
	DefaultRetryDelay = 5 * time.Second

	synthesisPath = "/audio/speech"
)

// Client calls the synthesis endpoint with bearer auth, spacing requests via
// its Limiter and retrying transient failures with linear backoff.
type Client struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	timeout     time.Duration
	maxAttempts int
	retryDelay  time.Duration
	limiter     Limiter
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL points the client at a different API root.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithMaxAttempts sets the total tries per chunk, including the first.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the linear backoff base.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.retryDelay = d
		}
	}
}

// WithLimiter replaces the request gate, e.g. to share one across clients.
func WithLimiter(l Limiter) Option {
	return func(c *Client) {
		if l != nil {
			c.limiter = l
		}
	}
}

// WithLogger attaches a logger for retry warnings.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.logger = log.With(slog.String("component", "speech-client"))
		}
	}
}

// New builds a client for the given API key.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:      apiKey,
		baseURL:     DefaultBaseURL,
		timeout:     DefaultTimeout,
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  DefaultRetryDelay,
		limiter:     NewIntervalLimiter(DefaultStandardInterval, DefaultHDInterval),
		logger:      slog.Default(),
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout: c.timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return c
}

// Synthesize renders one chunk of text and returns the audio bytes.
func (c *Client) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := c.SynthesizeTo(ctx, req, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SynthesizeTo renders one chunk of text and writes the audio to w. Nothing
// is written until a response has fully arrived, so a retried attempt never
// leaves partial output behind.
func (c *Client) SynthesizeTo(ctx context.Context, req Request, w io.Writer) (int64, error) {
	if req.Input == "" {
		return 0, errors.New("synthesis input is empty")
	}
	if req.Model == "" {
		req.Model = ModelStandard
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("marshal synthesis request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx, req.HD()); err != nil {
			return 0, fmt.Errorf("wait for request slot: %w", err)
		}

		var staging bytes.Buffer
		err := c.do(ctx, payload, &staging)
		if err == nil {
			n, werr := staging.WriteTo(w)
			if werr != nil {
				return n, fmt.Errorf("write audio: %w", werr)
			}
			return n, nil
		}

		lastErr = err
		if !retryable(err) {
			return 0, err
		}
		c.logger.Warn("synthesis request failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.maxAttempts),
			slog.String("error", err.Error()))
		if serr := c.sleep(ctx, c.retryDelay*time.Duration(attempt)); serr != nil {
			return 0, serr
		}
	}
	return 0, fmt.Errorf("synthesis failed after %d attempts: %w", c.maxAttempts, lastErr)
}

// do performs a single request and copies the audio body into w.
func (c *Client) do(ctx context.Context, payload []byte, w io.Writer) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+synthesisPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	requestID := resp.Header.Get("x-request-id")
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 32<<10))
		return parseAPIError(body, resp.StatusCode, requestID)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return fmt.Errorf("read audio body: %w", err)
	}
	if n == 0 {
		return ErrEmptyAudio
	}
	return nil
}

// retryable decides whether another attempt makes sense. API errors carry
// their own verdict; an empty audio body and context failures are terminal;
// remaining transport errors are worth repeating.
func retryable(err error) bool {
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr.Retryable()
	}
	if errors.Is(err, ErrEmptyAudio) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
