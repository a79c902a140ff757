package http

import (
	"errors"
	"sync"
	"time"
)

// CircuitState is the state of one host's circuit.
type CircuitState int

const (
	// CircuitClosed lets requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen fails requests fast until the recovery timeout elapses.
	CircuitOpen
	// CircuitHalfOpen lets a limited number of probe requests through.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	}
	return "unknown"
}

const (
	DefaultFailureThreshold    = 5
	DefaultRecoveryTimeout     = 30 * time.Second
	DefaultHalfOpenMaxRequests = 1
)

// ErrCircuitOpen is returned while a host's circuit is open.
var ErrCircuitOpen = errors.New("http: circuit breaker is open")

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	RecoveryTimeout  time.Duration
	// HalfOpenMaxRequests is the number of probes allowed while half-open.
	HalfOpenMaxRequests int
	// IsTransientError decides which errors count as failures. Nil counts
	// every error.
	IsTransientError func(error) bool
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    DefaultFailureThreshold,
		RecoveryTimeout:     DefaultRecoveryTimeout,
		HalfOpenMaxRequests: DefaultHalfOpenMaxRequests,
		IsTransientError:    IsTransientHTTPError,
	}
}

type circuit struct {
	state       CircuitState
	failures    int
	lastFailure time.Time
	changedAt   time.Time
	probes      int
}

// CircuitBreaker tracks consecutive failures per host. A nil
// *CircuitBreaker allows everything.
type CircuitBreaker struct {
	mu       sync.Mutex
	config   CircuitBreakerConfig
	circuits map[string]*circuit
	now      func() time.Time
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = DefaultHalfOpenMaxRequests
	}
	return &CircuitBreaker{
		config:   cfg,
		circuits: make(map[string]*circuit),
		now:      time.Now,
	}
}

// Allow returns ErrCircuitOpen when requests to host must not be sent.
func (cb *CircuitBreaker) Allow(host string) error {
	if cb == nil {
		return nil
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(host)
	switch c.state {
	case CircuitOpen:
		if cb.now().Sub(c.changedAt) < cb.config.RecoveryTimeout {
			return ErrCircuitOpen
		}
		c.state, c.changedAt, c.probes = CircuitHalfOpen, cb.now(), 1
	case CircuitHalfOpen:
		if c.probes >= cb.config.HalfOpenMaxRequests {
			return ErrCircuitOpen
		}
		c.probes++
	}
	return nil
}

// RecordSuccess closes a half-open circuit and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess(host string) {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(host)
	if c.state == CircuitHalfOpen {
		c.state, c.changedAt, c.probes = CircuitClosed, cb.now(), 0
	}
	if c.state == CircuitClosed {
		c.failures = 0
	}
}

// RecordFailure counts err against host unless it is permanent.
func (cb *CircuitBreaker) RecordFailure(host string, err error) {
	if cb == nil {
		return
	}
	if cb.config.IsTransientError != nil && !cb.config.IsTransientError(err) {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(host)
	c.failures++
	c.lastFailure = cb.now()
	switch c.state {
	case CircuitClosed:
		if c.failures >= cb.config.FailureThreshold {
			c.state, c.changedAt = CircuitOpen, cb.now()
		}
	case CircuitHalfOpen:
		c.state, c.changedAt = CircuitOpen, cb.now()
	}
}

// State reports host's state, showing an expired open circuit as half-open.
func (cb *CircuitBreaker) State(host string) CircuitState {
	return cb.Stats(host).State
}

// CircuitStats is a snapshot of one host's circuit.
type CircuitStats struct {
	State             CircuitState
	ConsecutiveErrors int
	LastError         time.Time
	LastStateChange   time.Time
}

func (cb *CircuitBreaker) Stats(host string) CircuitStats {
	if cb == nil {
		return CircuitStats{State: CircuitClosed}
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c, ok := cb.circuits[host]
	if !ok {
		return CircuitStats{State: CircuitClosed}
	}
	state := c.state
	if state == CircuitOpen && cb.now().Sub(c.changedAt) >= cb.config.RecoveryTimeout {
		state = CircuitHalfOpen
	}
	return CircuitStats{
		State:             state,
		ConsecutiveErrors: c.failures,
		LastError:         c.lastFailure,
		LastStateChange:   c.changedAt,
	}
}

// Reset forgets host's circuit.
func (cb *CircuitBreaker) Reset(host string) {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.circuits, host)
}

// get must be called with mu held.
func (cb *CircuitBreaker) get(host string) *circuit {
	c, ok := cb.circuits[host]
	if !ok {
		c = &circuit{state: CircuitClosed, changedAt: cb.now()}
		cb.circuits[host] = c
	}
	return c
}

// IsTransientHTTPError reports whether err should count against a circuit:
// rate limits, 5xx and transport errors do, other 4xx responses do not.
func IsTransientHTTPError(err error) bool {
	if err == nil {
		return false
	}
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == 429
	}
	return true
}
