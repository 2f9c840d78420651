package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// defaultRetryStatuses are the HTTP statuses worth retrying; everything else
// fails immediately.
var defaultRetryStatuses = map[int]struct{}{
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// Error is returned once the retry budget is exhausted. Status is zero for
// pure transport failures.
type Error struct {
	Label    string
	Status   int
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d after %d attempts", e.Label, e.Status, e.Attempts)
	}
	return fmt.Sprintf("fetch %s: %v after %d attempts", e.Label, e.Err, e.Attempts)
}

func (e *Error) Unwrap() error { return e.Err }

// Options controls a single GetJSON call.
type Options struct {
	// Timeout bounds each individual attempt. Defaults to 10s.
	Timeout time.Duration
	// Retries is the number of retries after the first attempt. Defaults to 2.
	Retries int
	// Backoff is the base backoff between attempts. Defaults to 500ms.
	Backoff time.Duration
	// RetryStatuses overrides the retryable status set.
	RetryStatuses map[int]struct{}
	// Label identifies the endpoint in logs; the URL is used when empty.
	Label string
}

func (o Options) withDefaults(rawURL string) Options {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.Backoff <= 0 {
		o.Backoff = 500 * time.Millisecond
	}
	if o.RetryStatuses == nil {
		o.RetryStatuses = defaultRetryStatuses
	}
	if o.Label == "" {
		o.Label = rawURL
	}
	return o
}

// Client is a retrying JSON GET client shared by all source adapters.
type Client struct {
	http *http.Client
	log  *zap.Logger
}

// New creates a Client on top of the shared HTTP client.
func New(httpClient *http.Client, log *zap.Logger) *Client {
	return &Client{http: httpClient, log: log}
}

// statusError marks an HTTP status failure so the retry loop can tell it
// apart from transport errors.
type statusError struct {
	status int
}

func (e *statusError) Error() string { return fmt.Sprintf("unexpected status %d", e.status) }

// GetJSON performs a GET request with retries and decodes the response body
// into out. The call fails with *Error after the attempt budget
// (opts.Retries+1 tries) is exhausted; non-retryable statuses fail on the
// spot.
func (c *Client) GetJSON(ctx context.Context, rawURL string, params url.Values, out any, opts Options) error {
	opts = opts.withDefaults(rawURL)

	target := rawURL
	if len(params) > 0 {
		target = rawURL + "?" + params.Encode()
	}

	var lastErr error
	var lastStatus int

	for attempt := 0; attempt <= opts.Retries; attempt++ {
		retryAfter, err := c.attempt(ctx, target, out, opts.Timeout)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		lastStatus = 0
		var se *statusError
		if errors.As(err, &se) {
			lastStatus = se.status
			if _, retryable := opts.RetryStatuses[se.status]; !retryable {
				break
			}
		}

		if attempt >= opts.Retries {
			break
		}

		delay := computeDelay(attempt, opts.Backoff, retryAfter)
		c.log.Warn("request failed; retrying",
			zap.String("endpoint", opts.Label),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", opts.Retries+1),
			zap.Int("status", lastStatus),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	c.log.Error("request failed",
		zap.String("endpoint", opts.Label),
		zap.Int("attempts", opts.Retries+1),
		zap.Int("status", lastStatus),
		zap.Error(lastErr),
	)
	return &Error{Label: opts.Label, Status: lastStatus, Attempts: opts.Retries + 1, Err: lastErr}
}

// attempt performs one request. It returns the Retry-After hint (empty when
// absent) alongside the error so the caller can compute the next delay.
func (c *Client) attempt(ctx context.Context, target string, out any, timeout time.Duration) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return resp.Header.Get("Retry-After"), &statusError{status: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// A truncated or non-JSON body is treated like a transport failure.
		return "", fmt.Errorf("decode response: %w", err)
	}
	return "", nil
}

// computeDelay picks the next retry delay. A numeric Retry-After hint wins
// over exponential backoff; otherwise delay = base*2^attempt + uniform(0, base).
func computeDelay(attempt int, base time.Duration, retryAfter string) time.Duration {
	if retryAfter != "" {
		if hint, err := strconv.ParseFloat(retryAfter, 64); err == nil {
			return time.Duration(math.Max(0, hint) * float64(time.Second))
		}
	}
	backoff := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	jitter := time.Duration(rand.Float64() * float64(base))
	return backoff + jitter
}
