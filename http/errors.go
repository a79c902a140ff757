package http

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RateLimitError is returned when the server answered 429 or 503.
type RateLimitError struct {
	StatusCode int
	// RetryAfter is the wait the server asked for, or the limiter's own
	// backoff when that is longer.
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (status %d): retry after %v", e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited (status %d)", e.StatusCode)
}

// maxErrorBody bounds how much of a response body HTTPError prints.
const maxErrorBody = 512

// HTTPError is a non-2xx response.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	body := strings.TrimSpace(string(e.Body))
	if body == "" {
		return msg
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	return msg + ": " + body
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return rlErr.StatusCode
	}
	return 0
}

var (
	// ErrNoResponse indicates no response was received from the server.
	ErrNoResponse = errors.New("http: no response received")

	// ErrRequestFailed wraps transport-level failures.
	ErrRequestFailed = errors.New("http: request failed")
)
