package objectplugin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"connectrpc.com/connect"
)

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	// CircuitClosed lets calls through and counts consecutive failures.
	CircuitClosed CircuitState = iota

	// CircuitOpen fails calls immediately until OpenTimeout passes.
	CircuitOpen

	// CircuitHalfOpen lets one probe call through at a time.
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
	default:
		return fmt.Sprintf("CircuitState(%d)", int(s))
	}
}

// CircuitBreakerConfig configures a client's circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	// Default: 5
	FailureThreshold int

	// SuccessThreshold is the number of successful probes that closes a
	// half-open circuit.
	// Default: 2
	SuccessThreshold int

	// OpenTimeout is how long the circuit stays open before probing.
	// Default: 10s
	OpenTimeout time.Duration

	// IsFailure reports whether an error counts against the server.
	// Default: the errors the default retry policy retries.
	IsFailure func(error) bool

	// OnStateChange, if set, is called after every transition.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns the default breaker settings.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      10 * time.Second,
		IsFailure:        defaultIsRetryable,
	}
}

func (cfg CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = def.IsFailure
	}
	return cfg
}

// CircuitBreaker stops calling a server that keeps failing.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     CircuitState
	failures  int
	successes int
	openedAt  time.Time
	probing   bool
}

// NewCircuitBreaker returns a closed breaker. Zero fields of cfg take
// their defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg.withDefaults(), now: time.Now}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Call runs fn unless the circuit is open, and records its outcome.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.acquire(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	var changed func()
	defer func() {
		cb.mu.Unlock()
		if changed != nil {
			changed()
		}
	}()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.OpenTimeout {
			return connect.NewError(connect.CodeUnavailable, ErrCircuitOpen)
		}
		changed = cb.transition(CircuitHalfOpen)
		cb.probing = true
	case CircuitHalfOpen:
		if cb.probing {
			return connect.NewError(connect.CodeUnavailable, ErrCircuitOpen)
		}
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	failed := err != nil && cb.cfg.IsFailure(err)

	cb.mu.Lock()
	var changed func()
	switch cb.state {
	case CircuitClosed:
		if !failed {
			cb.failures = 0
			break
		}
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			changed = cb.open()
		}
	case CircuitHalfOpen:
		cb.probing = false
		if failed {
			changed = cb.open()
			break
		}
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			changed = cb.transition(CircuitClosed)
		}
	}
	cb.mu.Unlock()

	if changed != nil {
		changed()
	}
}

func (cb *CircuitBreaker) open() func() {
	cb.openedAt = cb.now()
	return cb.transition(CircuitOpen)
}

// transition switches state and resets the counters. The returned func
// runs OnStateChange and must be called without cb.mu held.
func (cb *CircuitBreaker) transition(to CircuitState) func() {
	from := cb.state
	cb.state = to
	cb.failures = 0
	cb.successes = 0
	if cb.cfg.OnStateChange == nil {
		return nil
	}
	return func() { cb.cfg.OnStateChange(from, to) }
}

// CircuitBreakerInterceptor guards unary calls with cb. Rejected calls
// fail with CodeUnavailable wrapping ErrCircuitOpen.
func CircuitBreakerInterceptor(cb *CircuitBreaker) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			var resp connect.AnyResponse
			err := cb.Call(func() error {
				var err error
				resp, err = next(ctx, req)
				return err
			})
			return resp, err
		}
	}
}
