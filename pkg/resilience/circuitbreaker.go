package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/arrakis-platform/gateway-proxy/pkg/errors"
)

// Sentinel errors for circuit breaker rejections.
var (
	ErrCircuitOpen     = errors.Conflict("circuit breaker is open", nil)
	ErrTooManyRequests = errors.Conflict("too many requests in half-open state", nil)
)

// maxRequestsDefault bounds concurrent probes while half-open.
const maxRequestsDefault = 1

// CircuitBreaker implements the closed/open/half-open state machine against
// the Executor signature used by the messaging and REST client resilient
// wrappers.
type CircuitBreaker struct {
	name    string
	config  CircuitBreakerConfig
	maxHalf int64

	mu            sync.RWMutex
	state         State
	failures      int64
	successes     int64
	lastFailure   time.Time
	halfOpenCount int64
}

// NewCircuitBreaker creates a circuit breaker with the given config, filling
// in DefaultCircuitBreakerConfig's values for anything left at the zero value.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &CircuitBreaker{
		name:    cfg.Name,
		config:  cfg,
		maxHalf: maxRequestsDefault,
		state:   StateClosed,
	}
}

// Execute runs fn with circuit breaker protection.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn Executor) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.afterRequest(err == nil)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(cb.lastFailure) > cb.config.Timeout {
			cb.setState(StateHalfOpen)
			cb.halfOpenCount = 1
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.halfOpenCount >= cb.maxHalf {
			return ErrTooManyRequests
		}
		cb.halfOpenCount++
		return nil
	}
	return nil
}

func (cb *CircuitBreaker) afterRequest(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		if success {
			cb.failures = 0
		} else {
			cb.failures++
			cb.lastFailure = time.Now()
			if cb.failures >= cb.config.FailureThreshold {
				cb.setState(StateOpen)
			}
		}
	case StateHalfOpen:
		if cb.halfOpenCount > 0 {
			cb.halfOpenCount--
		}
		if success {
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				cb.setState(StateClosed)
			}
		} else {
			cb.setState(StateOpen)
		}
	}
}

func (cb *CircuitBreaker) setState(state State) {
	if cb.state == state {
		return
	}

	from := cb.state
	cb.state = state
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenCount = 0

	if state == StateOpen {
		cb.lastFailure = time.Now()
	}

	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(cb.name, from, state)
	}
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Name returns the circuit breaker's identifying name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// CircuitBreakerMetrics reports current counters for observability.
type CircuitBreakerMetrics struct {
	State       State
	Failures    int64
	Successes   int64
	LastFailure time.Time
}

// Metrics returns current circuit breaker metrics.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return CircuitBreakerMetrics{
		State:       cb.state,
		Failures:    cb.failures,
		Successes:   cb.successes,
		LastFailure: cb.lastFailure,
	}
}

// ForceOpen forces the circuit to the open state.
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateOpen)
}

// ForceClose forces the circuit to the closed state.
func (cb *CircuitBreaker) ForceClose() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed)
}
