package openai

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxRetries bounds rate-limit resubmissions.
const DefaultMaxRetries = 3

// DefaultRateLimitWait is used when the provider suggests no wait time.
const DefaultRateLimitWait = 5 * time.Second

// maxErrorBody limits how much of an error body is kept.
const maxErrorBody = 64 * 1024

var retryInPattern = regexp.MustCompile(`(?i)retry in ([\d.]+)s`)

// RateLimitError is returned once every retry was rejected with 429.
type RateLimitError struct {
	Attempts int
	Err      *ProviderError
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap exposes the final ProviderError.
func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// Poster performs one raw chat/completions round trip.
type Poster interface {
	Post(ctx context.Context, req *ChatRequest) (*http.Response, error)
}

// TransportOptions configures rate-limit handling.
type TransportOptions struct {
	// MaxRetries caps resubmissions after 429 (default 3).
	MaxRetries int
	// FallbackWait applies when no wait hint is found (default 5s).
	FallbackWait time.Duration
	// OnWait receives the remaining seconds once per elapsed second.
	OnWait func(remaining int, attempt int)
	// Sleep waits one countdown step; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
	// Logger records retries.
	Logger *zap.Logger
}

// Transport wraps a Poster with 429-aware countdown and retry. It does not
// interpret successful payloads.
type Transport struct {
	poster Poster
	opts   TransportOptions
}

// NewTransport applies option defaults.
func NewTransport(poster Poster, opts TransportOptions) *Transport {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.FallbackWait <= 0 {
		opts.FallbackWait = DefaultRateLimitWait
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Transport{poster: poster, opts: opts}
}

// Do sends the request, resubmitting it unchanged after rate limiting, and
// returns the success body for the caller to decode and close.
func (t *Transport) Do(ctx context.Context, req *ChatRequest) (io.ReadCloser, error) {
	for attempt := 0; ; attempt++ {
		resp, err := t.poster.Post(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp.Body, nil
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("read error body: %w", readErr)
		}
		providerErr := &ProviderError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}

		if resp.StatusCode != http.StatusTooManyRequests {
			return nil, providerErr
		}
		if attempt >= t.opts.MaxRetries {
			return nil, &RateLimitError{Attempts: attempt + 1, Err: providerErr}
		}

		seconds := t.waitSeconds(providerErr.Body, resp.Header)
		t.opts.Logger.Warn("rate limited, waiting before retry",
			zap.Int("attempt", attempt+1),
			zap.Int("wait_seconds", seconds))
		if err := t.countdown(ctx, seconds, attempt+1); err != nil {
			return nil, err
		}
	}
}

// countdown reports the remaining time once per second while waiting.
func (t *Transport) countdown(ctx context.Context, seconds int, attempt int) error {
	for remaining := seconds; remaining > 0; remaining-- {
		if t.opts.OnWait != nil {
			t.opts.OnWait(remaining, attempt)
		}
		if err := t.opts.Sleep(ctx, time.Second); err != nil {
			return err
		}
	}
	return nil
}

// waitSeconds extracts the suggested wait from the body, then the
// Retry-After header, and falls back to the configured constant.
func (t *Transport) waitSeconds(body string, header http.Header) int {
	if match := retryInPattern.FindStringSubmatch(body); match != nil {
		if value, err := strconv.ParseFloat(match[1], 64); err == nil && value > 0 {
			return int(math.Ceil(value))
		}
	}
	if value, err := strconv.Atoi(strings.TrimSpace(header.Get("Retry-After"))); err == nil && value > 0 {
		return value
	}
	return int(math.Ceil(t.opts.FallbackWait.Seconds()))
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
