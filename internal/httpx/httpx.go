// Package httpx provides the shared retrying HTTP transport used by every
// downstream client (classifier, contacts, ledger, balance, history, rates).
//
// Retry policy: connect/timeout errors and 5xx/429 responses are retried with
// exponential backoff and jitter; other 4xx responses are returned to the
// caller without retry. One policy, one place.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sagebank/orchestrator/internal/circuitbreaker"
	"github.com/sagebank/orchestrator/internal/logging"
	"github.com/sagebank/orchestrator/internal/retry"
)

// ErrCircuitOpen is returned when a downstream host has tripped its circuit
// and requests are being shed.
var ErrCircuitOpen = errors.New("downstream circuit open")

// maxResponseBytes caps how much of a downstream response body is read.
const maxResponseBytes = 4 << 20 // 4MB

// Response is the outcome of a downstream call.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the response carries a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Client wraps http.Client with the shared retry policy and a per-host
// circuit breaker.
type Client struct {
	hc          *http.Client
	maxAttempts int
	baseDelay   time.Duration
	breaker     *circuitbreaker.Breaker
}

// New creates a retrying client. Zero values fall back to
// 10s timeout, 3 attempts, 200ms base delay.
func New(timeout time.Duration, maxAttempts int, baseDelay time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	return &Client{
		hc:          &http.Client{Timeout: timeout},
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		breaker:     circuitbreaker.New(5, 30*time.Second),
	}
}

// Get performs a GET with retry.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	return c.do(ctx, http.MethodGet, url, nil, headers)
}

// PostJSON performs a POST with a JSON body and retry.
func (c *Client) PostJSON(ctx context.Context, url string, payload any, headers map[string]string) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, url, body, headers)
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, headers map[string]string) (*Response, error) {
	host := hostKey(rawURL)
	if !c.breaker.Allow(host) {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, host)
	}

	var last *Response

	err := retry.Do(ctx, c.maxAttempts, c.baseDelay, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return retry.Permanent(err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if id := logging.CorrelationID(ctx); id != "" {
			req.Header.Set("X-Correlation-ID", id)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			// Connect failures and timeouts are retryable.
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return err
		}
		last = &Response{StatusCode: resp.StatusCode, Body: data}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("downstream returned %d", resp.StatusCode)
		}
		return nil
	})

	if err != nil && last == nil {
		c.breaker.RecordFailure(host)
		return nil, err
	}
	if last.StatusCode >= 500 {
		c.breaker.RecordFailure(host)
	} else {
		c.breaker.RecordSuccess(host)
	}

	// A response was obtained on the final attempt even if its status made
	// the attempt count as failed; the caller decides what a 5xx means.
	return last, nil
}

// hostKey derives the breaker key from a request URL.
func hostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
