package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"coursesync/internal/retry"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Retry.MaxRetries = 2
	cfg.Retry.InitialBackoff = 5 * time.Millisecond
	cfg.Retry.MaxBackoff = 10 * time.Millisecond
	cfg.RateLimiter.DefaultRPS = -1
	cfg.RateLimiter.InitialBackoff = time.Millisecond
	cfg.RateLimiter.MaxBackoff = time.Millisecond
	return cfg
}

func TestClient_GetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer tok")
		}
		if got := r.Header.Get("User-Agent"); got != "coursesync/1.0" {
			t.Errorf("User-Agent = %q, want default", got)
		}
		w.Write([]byte(`{"client_id":"abc"}`))
	}))
	defer server.Close()

	client := New(testConfig())
	defer client.Close()

	var got struct {
		ClientID string `json:"client_id"`
	}
	header := http.Header{"Authorization": {"Bearer tok"}}
	if err := client.GetJSON(context.Background(), server.URL, header, &got); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if got.ClientID != "abc" {
		t.Errorf("client_id = %q, want %q", got.ClientID, "abc")
	}
}

func TestClient_PostForm(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm() error = %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "password" {
			t.Errorf("grant_type = %q, want password", got)
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := New(testConfig())
	defer client.Close()

	resp, err := client.PostForm(context.Background(), server.URL, nil, url.Values{"grant_type": {"password"}})
	if err != nil {
		t.Fatalf("PostForm() error = %v", err)
	}
	if string(resp.Body) != "ok" {
		t.Errorf("body = %q, want ok", resp.Body)
	}
}

func TestClient_RetriesRecreateBody(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != "payload" {
			t.Errorf("attempt %d body = %q, want full payload", attempts.Load()+1, body)
		}
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := New(testConfig())
	defer client.Close()

	var built int
	resp, err := client.Do(context.Background(), &Request{
		Method: http.MethodPost,
		URL:    server.URL,
		Body: func() (io.Reader, error) {
			built++
			return strings.NewReader("payload"), nil
		},
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want 201", resp.StatusCode)
	}
	if built != 2 {
		t.Errorf("body factory called %d times, want 2", built)
	}
}

func TestClient_RateLimitRetry(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("done"))
	}))
	defer server.Close()

	client := New(testConfig())
	defer client.Close()

	if _, err := client.Get(context.Background(), server.URL, nil); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer server.Close()

	client := New(testConfig())
	defer client.Close()

	_, err := client.Get(context.Background(), server.URL, nil)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("Get() error = %v, want *HTTPError", err)
	}
	if httpErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", httpErr.StatusCode)
	}
	if !strings.Contains(err.Error(), "invalid_grant") {
		t.Errorf("error %q should include the response body", err)
	}
	if StatusCode(err) != http.StatusUnauthorized {
		t.Errorf("StatusCode(err) = %d, want 401", StatusCode(err))
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestClient_ServerErrorExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(testConfig())
	defer client.Close()

	_, err := client.Get(context.Background(), server.URL, nil)
	var retryErr *retry.RetryableError
	if !errors.As(err, &retryErr) {
		t.Fatalf("Get() error = %v, want *retry.RetryableError", err)
	}
	if StatusCode(err) != http.StatusInternalServerError {
		t.Errorf("StatusCode(err) = %d, want 500", StatusCode(err))
	}
}

func TestClient_BodyFactoryErrorIsPermanent(t *testing.T) {
	client := New(testConfig())
	defer client.Close()

	calls := 0
	_, err := client.Do(context.Background(), &Request{
		Method: http.MethodPost,
		URL:    "http://127.0.0.1:1/never",
		Body: func() (io.Reader, error) {
			calls++
			return nil, errors.New("open video: no such file")
		},
	})
	if !errors.Is(err, retry.ErrPermanent) {
		t.Errorf("Do() error = %v, want permanent", err)
	}
	if calls != 1 {
		t.Errorf("body factory called %d times, want 1", calls)
	}
}

func TestClient_CircuitOpens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Retry.MaxRetries = 0
	cfg.CircuitBreaker.FailureThreshold = 2
	client := New(cfg)
	defer client.Close()

	for i := 0; i < 2; i++ {
		client.Get(context.Background(), server.URL, nil)
	}
	if _, err := client.Get(context.Background(), server.URL, nil); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Get() error = %v, want ErrCircuitOpen", err)
	}
}

func TestClient_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	client := New(testConfig())
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.Get(ctx, server.URL, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Get() error = %v, want context.Canceled", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		header string
		want   time.Duration
	}{
		{"", 0},
		{"60", 60 * time.Second},
		{"0", 0},
		{"soon", 0},
		{"Wed, 21 Oct 2015 07:28:00 GMT", 0},
	}
	for _, tt := range tests {
		h := make(http.Header)
		if tt.header != "" {
			h.Set("Retry-After", tt.header)
		}
		if got := parseRetryAfter(h); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}

func TestHTTPError_TruncatesBody(t *testing.T) {
	err := &HTTPError{Method: "GET", URL: "https://h/x", StatusCode: 500, Body: []byte(strings.Repeat("x", 2000))}
	if len(err.Error()) > maxErrorBody+100 {
		t.Errorf("Error() length = %d, body not truncated", len(err.Error()))
	}
}
