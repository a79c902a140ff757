package http

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultRPS is the per-host request rate when none is configured.
	DefaultRPS = 2.0

	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 60 * time.Second
	backoffMultiplier     = 2.0
	// backoffCooldown is how long a host must stay quiet before its
	// original rate is restored.
	backoffCooldown = 5 * time.Minute
	// minRateFactor is the lowest fraction of the configured rate a host is
	// throttled down to.
	minRateFactor = 0.25
)

// RateLimiterConfig defines per-host rate limits.
type RateLimiterConfig struct {
	// DefaultRPS applies to hosts without an entry in Rates. Zero means
	// DefaultRPS; a negative value disables limiting.
	DefaultRPS float64
	// Rates maps host names (without port) to requests per second. A zero
	// entry disables limiting for that host.
	Rates map[string]float64
	// InitialBackoff and MaxBackoff bound the wait after a 429/503.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// DynamicBackoff lowers a host's rate after rate-limit responses.
	DynamicBackoff bool
}

// DefaultRateLimiterConfig returns a conservative limit for a single
// self-hosted instance.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		DefaultRPS:     DefaultRPS,
		Rates:          make(map[string]float64),
		InitialBackoff: defaultInitialBackoff,
		MaxBackoff:     defaultMaxBackoff,
		DynamicBackoff: true,
	}
}

// BackoffState tracks rate-limit backoff for a host.
type BackoffState struct {
	CurrentBackoff    time.Duration
	LastError         time.Time
	ConsecutiveErrors int
	OriginalRPS       float64
	// ReducedRPS is the throttled rate, 0 while the original applies.
	ReducedRPS float64
}

// RateLimiter keeps one token bucket per host.
type RateLimiter struct {
	mu       sync.RWMutex
	config   RateLimiterConfig
	limiters map[string]*rate.Limiter
	backoff  map[string]*BackoffState
}

// NewRateLimiter fills zero fields of cfg with defaults.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.DefaultRPS == 0 {
		cfg.DefaultRPS = DefaultRPS
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.Rates == nil {
		cfg.Rates = make(map[string]float64)
	}
	return &RateLimiter{
		config:   cfg,
		limiters: make(map[string]*rate.Limiter),
		backoff:  make(map[string]*BackoffState),
	}
}

// Wait blocks until a request to urlStr's host is allowed.
func (rl *RateLimiter) Wait(ctx context.Context, urlStr string) error {
	if rl == nil {
		return nil
	}
	limiter := rl.limiter(hostOf(urlStr))
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return errors.Join(errors.New("http: rate limit wait"), err)
	}
	return nil
}

// SetRate overrides the rate for host.
func (rl *RateLimiter) SetRate(host string, rps float64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.config.Rates[host] = rps
	delete(rl.limiters, host)
}

// Rate returns the configured rate for host; 0 means unlimited.
func (rl *RateLimiter) Rate(host string) float64 {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.rateLocked(host)
}

func (rl *RateLimiter) rateLocked(host string) float64 {
	if rps, ok := rl.config.Rates[host]; ok {
		return rps
	}
	if rl.config.DefaultRPS < 0 {
		return 0
	}
	return rl.config.DefaultRPS
}

func (rl *RateLimiter) limiter(host string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if l, ok := rl.limiters[host]; ok {
		return l
	}
	rps := rl.rateLocked(host)
	if rps <= 0 {
		return nil
	}
	l := rate.NewLimiter(rate.Limit(rps), 1)
	rl.limiters[host] = l
	return l
}

// RecordRateLimitError registers a 429/503 from urlStr's host and returns
// how long to wait before the next request. retryAfter wins when longer.
func (rl *RateLimiter) RecordRateLimitError(urlStr string, retryAfter time.Duration) time.Duration {
	if rl == nil {
		return retryAfter
	}
	if !rl.config.DynamicBackoff {
		if retryAfter > 0 {
			return retryAfter
		}
		return rl.config.InitialBackoff
	}

	host := hostOf(urlStr)
	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, ok := rl.backoff[host]
	if !ok {
		state = &BackoffState{CurrentBackoff: rl.config.InitialBackoff, OriginalRPS: rl.rateLocked(host)}
		rl.backoff[host] = state
	} else {
		state.CurrentBackoff = time.Duration(float64(state.CurrentBackoff) * backoffMultiplier)
		if state.CurrentBackoff > rl.config.MaxBackoff {
			state.CurrentBackoff = rl.config.MaxBackoff
		}
	}
	state.LastError = time.Now()
	state.ConsecutiveErrors++
	if retryAfter > state.CurrentBackoff {
		state.CurrentBackoff = retryAfter
	}

	// 1 error: 75% of the rate, 2: 50%, 3 or more: 25%.
	factor := minRateFactor
	switch state.ConsecutiveErrors {
	case 1:
		factor = 0.75
	case 2:
		factor = 0.5
	}
	state.ReducedRPS = state.OriginalRPS * factor
	if l, ok := rl.limiters[host]; ok && state.ReducedRPS > 0 {
		l.SetLimit(rate.Limit(state.ReducedRPS))
	}
	return state.CurrentBackoff
}

// RecordSuccess lets a throttled host recover: half rate once the error
// count drains, full rate after the cooldown.
func (rl *RateLimiter) RecordSuccess(urlStr string) {
	if rl == nil || !rl.config.DynamicBackoff {
		return
	}
	host := hostOf(urlStr)
	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, ok := rl.backoff[host]
	if !ok {
		return
	}
	l := rl.limiters[host]
	if time.Since(state.LastError) > backoffCooldown {
		if l != nil && state.OriginalRPS > 0 {
			l.SetLimit(rate.Limit(state.OriginalRPS))
		}
		delete(rl.backoff, host)
		return
	}
	if state.ConsecutiveErrors == 0 {
		return
	}
	state.ConsecutiveErrors--
	if state.ConsecutiveErrors == 0 && state.OriginalRPS*0.5 > state.ReducedRPS {
		state.ReducedRPS = state.OriginalRPS * 0.5
		if l != nil {
			l.SetLimit(rate.Limit(state.ReducedRPS))
		}
	}
}

// Backoff returns a copy of the backoff state for urlStr's host, or nil.
func (rl *RateLimiter) Backoff(urlStr string) *BackoffState {
	if rl == nil {
		return nil
	}
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	state, ok := rl.backoff[hostOf(urlStr)]
	if !ok {
		return nil
	}
	c := *state
	return &c
}

// WaitForBackoff sleeps out any remaining backoff for urlStr's host.
func (rl *RateLimiter) WaitForBackoff(ctx context.Context, urlStr string) error {
	state := rl.Backoff(urlStr)
	if state == nil {
		return nil
	}
	remaining := state.CurrentBackoff - time.Since(state.LastError)
	if remaining <= 0 {
		return nil
	}
	t := time.NewTimer(remaining)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// hostOf returns the host of urlStr without port, or "unknown".
func hostOf(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
