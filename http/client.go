// Package http is the REST transport for self-hosted video platforms: a
// net/http client with retry, per-host rate limiting and a per-host circuit
// breaker.
package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"coursesync/internal/retry"
)

// Client wraps an http.Client with retry logic and rate limit handling.
type Client struct {
	base           *http.Client
	config         *Config
	rateLimiter    *RateLimiter
	circuitBreaker *CircuitBreaker
}

// Config holds HTTP client configuration.
type Config struct {
	// Timeout bounds a whole request including reading the response.
	// Requests with NoTimeout set ignore it.
	Timeout time.Duration

	Retry retry.Config

	UserAgent string

	RateLimiter    RateLimiterConfig
	CircuitBreaker CircuitBreakerConfig
	Transport      TransportConfig
}

// TransportConfig configures connection pooling and TLS.
type TransportConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	ForceAttemptHTTP2   bool
	// InsecureSkipVerify disables certificate verification, for instances
	// behind self-signed certificates.
	InsecureSkipVerify bool
}

// DefaultConfig returns defaults for talking to a single instance.
func DefaultConfig() *Config {
	return &Config{
		Timeout:        30 * time.Second,
		Retry:          retry.DefaultConfig(),
		UserAgent:      "coursesync/1.0",
		RateLimiter:    DefaultRateLimiterConfig(),
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		Transport:      DefaultTransportConfig(),
	}
}

func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
}

// New creates a client. A nil cfg selects DefaultConfig.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Transport.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Transport.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.Transport.IdleConnTimeout,
		ForceAttemptHTTP2:   cfg.Transport.ForceAttemptHTTP2,
	}
	if cfg.Transport.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in
	}

	return &Client{
		// Timeouts are applied per request so streamed uploads can opt out.
		base:           &http.Client{Transport: transport},
		config:         cfg,
		rateLimiter:    NewRateLimiter(cfg.RateLimiter),
		circuitBreaker: NewCircuitBreaker(cfg.CircuitBreaker),
	}
}

// Request describes one logical request. Body is called once per attempt
// so retries never resend a drained reader.
type Request struct {
	Method string
	URL    string
	Header http.Header
	// Body returns a fresh body for each attempt. Nil sends no body. A
	// returned io.ReadCloser is closed by the transport.
	Body func() (io.Reader, error)
	// NoTimeout disables Config.Timeout for the request.
	NoTimeout bool
	// Retry overrides Config.Retry when set.
	Retry *retry.Config
}

// Response holds a fully read response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, urlStr string, header http.Header) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, URL: urlStr, Header: header})
}

// GetJSON performs a GET request and decodes the JSON response into v.
func (c *Client) GetJSON(ctx context.Context, urlStr string, header http.Header, v any) error {
	resp, err := c.Get(ctx, urlStr, header)
	if err != nil {
		return err
	}
	return resp.JSON(v)
}

// PostForm sends form url-encoded.
func (c *Client) PostForm(ctx context.Context, urlStr string, header http.Header, form url.Values) (*Response, error) {
	h := header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	encoded := form.Encode()
	return c.Do(ctx, &Request{
		Method: http.MethodPost,
		URL:    urlStr,
		Header: h,
		Body:   func() (io.Reader, error) { return strings.NewReader(encoded), nil },
	})
}

// PostJSON sends v as a JSON body.
func (c *Client) PostJSON(ctx context.Context, urlStr string, header http.Header, v any) (*Response, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	h := header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	h.Set("Content-Type", "application/json")
	return c.Do(ctx, &Request{
		Method: http.MethodPost,
		URL:    urlStr,
		Header: h,
		Body:   func() (io.Reader, error) { return bytes.NewReader(data), nil },
	})
}

// Do performs req with retry, rate limiting and the host's circuit breaker.
// Non-2xx responses are returned as *HTTPError or *RateLimitError.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	host := hostOf(req.URL)

	if err := c.circuitBreaker.Allow(host); err != nil {
		return nil, err
	}
	if err := c.rateLimiter.WaitForBackoff(ctx, req.URL); err != nil {
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	retryCfg := c.config.Retry
	if req.Retry != nil {
		retryCfg = *req.Retry
	}

	var out *Response
	err := retry.Do(ctx, retryCfg, isRetryableHTTPError, func(ctx context.Context) error {
		if err := c.rateLimiter.Wait(ctx, req.URL); err != nil {
			return err
		}
		resp, err := c.attempt(ctx, method, req)
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		c.circuitBreaker.RecordFailure(host, err)
		return nil, err
	}
	if out == nil {
		c.circuitBreaker.RecordFailure(host, ErrNoResponse)
		return nil, ErrNoResponse
	}

	c.rateLimiter.RecordSuccess(req.URL)
	c.circuitBreaker.RecordSuccess(host)
	return out, nil
}

func (c *Client) attempt(ctx context.Context, method string, req *Request) (*Response, error) {
	if !req.NoTimeout && c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	var body io.Reader
	if req.Body != nil {
		b, err := req.Body()
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("request body: %w", err))
		}
		body = b
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		if rc, ok := body.(io.Closer); ok {
			rc.Close()
		}
		return nil, retry.Permanent(err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.config.UserAgent)
	}

	resp, err := c.base.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		wait := parseRetryAfter(resp.Header)
		if recommended := c.rateLimiter.RecordRateLimitError(req.URL, wait); recommended > wait {
			wait = recommended
		}
		return nil, &RateLimitError{StatusCode: resp.StatusCode, RetryAfter: wait}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &HTTPError{Method: method, URL: req.URL, StatusCode: resp.StatusCode, Body: data}
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// isRetryableHTTPError retries rate limits, 5xx and transport errors.
func isRetryableHTTPError(err error) bool {
	if !retry.IsRetryable(err) {
		return false
	}
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}
	return true
}

// parseRetryAfter reads Retry-After as seconds or an HTTP date.
func parseRetryAfter(header http.Header) time.Duration {
	v := header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// RateLimiter exposes the client's limiter, e.g. to set a host's rate.
func (c *Client) RateLimiter() *RateLimiter { return c.rateLimiter }

// CircuitBreaker exposes the client's circuit breaker.
func (c *Client) CircuitBreaker() *CircuitBreaker { return c.circuitBreaker }

// Close releases idle connections.
func (c *Client) Close() error {
	c.base.CloseIdleConnections()
	return nil
}
