package shuttle

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by CircuitBreaker.Allow's caller path when a
// dial is rejected without being attempted.
var ErrCircuitOpen = errors.New("shuttle: circuit breaker open")

// CircuitState mirrors utils/circuit_breaker.py's CLOSED/OPEN/HALF_OPEN
// states, supplementing §4.5's dial path: the spec has no resilience
// story for a shuttle that is simply down, and hammering DialTimeout on
// every scheduler rotation against a dead host wastes a full connect
// timeout per attempt.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

// CircuitBreaker guards a single shuttle's dial path.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	logger       *slog.Logger

	mu          sync.Mutex
	state       CircuitState
	failures    int
	lastFailure time.Time
}

func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration, logger *slog.Logger) *CircuitBreaker {
	return &CircuitBreaker{name: name, maxFailures: maxFailures, resetTimeout: resetTimeout, logger: logger}
}

// Allow reports whether a dial attempt may proceed, transitioning OPEN to
// HALF_OPEN once the reset timeout has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != CircuitOpen {
		return true
	}
	if time.Since(cb.lastFailure) >= cb.resetTimeout {
		cb.state = CircuitHalfOpen
		if cb.logger != nil {
			cb.logger.Info("circuit transitioning", slog.String("name", cb.name), slog.String("to", cb.state.String()))
		}
		return true
	}
	return false
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != CircuitClosed {
		if cb.logger != nil {
			cb.logger.Info("circuit reset", slog.String("name", cb.name))
		}
	}
	cb.state = CircuitClosed
	cb.failures = 0
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastFailure = time.Now()
	if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
		if cb.state != CircuitOpen && cb.logger != nil {
			cb.logger.Warn("circuit opened", slog.String("name", cb.name), slog.Int("failures", cb.failures))
		}
		cb.state = CircuitOpen
	}
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
