// Package resilience provides the circuit breaker and retry machinery that
// guards calls to the reference services.
package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opscale-io/orderflow/core"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - normal operation, requests pass through
	StateClosed CircuitState = iota
	// StateOpen - failures exceeded threshold, requests are rejected
	StateOpen
	// StateHalfOpen - testing recovery with limited probe requests
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrorClassifier determines which errors count as breaker failures.
type ErrorClassifier func(error) bool

// DefaultErrorClassifier counts only transient failures. Not-found and
// other permanent rejections mean the dependency answered; they must not
// trip the breaker.
func DefaultErrorClassifier(err error) bool {
	if err == nil {
		return false
	}
	if core.IsPermanent(err) {
		return false
	}
	if err == context.Canceled {
		return false
	}
	return true
}

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies the circuit breaker in logs and errors
	Name string

	// WindowSize is the number of most recent calls considered
	WindowSize int

	// ErrorThreshold is the failure rate (0.0 to 1.0) that triggers opening
	ErrorThreshold float64

	// SleepWindow is how long to stay open before probing recovery
	SleepWindow time.Duration

	// HalfOpenRequests is the number of probe requests in half-open state
	HalfOpenRequests int

	// ErrorClassifier determines which errors count as failures
	ErrorClassifier ErrorClassifier

	// Logger for state transitions
	Logger core.Logger
}

// DefaultBreakerConfig returns the reference-client policy: a sliding
// window of 10 calls, a 50% failure threshold, and a 60 second cooldown.
func DefaultBreakerConfig(name string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             name,
		WindowSize:       10,
		ErrorThreshold:   0.5,
		SleepWindow:      60 * time.Second,
		HalfOpenRequests: 3,
		ErrorClassifier:  DefaultErrorClassifier,
		Logger:           &core.NoOpLogger{},
	}
}

// CircuitBreaker tracks the outcome of the last WindowSize calls and opens
// once the failure rate crosses the threshold. While open, CanExecute
// returns false until the sleep window elapses; the breaker then admits a
// limited number of probes and closes again only if all of them succeed.
type CircuitBreaker struct {
	config *CircuitBreakerConfig

	mu               sync.Mutex
	state            CircuitState
	window           []bool // true = failure; ring buffer of recent outcomes
	windowPos        int
	windowFilled     int
	openedAt         time.Time
	halfOpenInFlight int
	halfOpenFailed   bool
	halfOpenDone     int

	now func() time.Time // injectable clock for tests
}

// NewCircuitBreaker creates a circuit breaker from config.
func NewCircuitBreaker(config *CircuitBreakerConfig) (*CircuitBreaker, error) {
	if config == nil {
		config = DefaultBreakerConfig("default")
	}
	if config.WindowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive: %w", core.ErrInvalidConfiguration)
	}
	if config.ErrorThreshold <= 0 || config.ErrorThreshold > 1 {
		return nil, fmt.Errorf("error threshold must be in (0,1]: %w", core.ErrInvalidConfiguration)
	}
	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultErrorClassifier
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.HalfOpenRequests <= 0 {
		config.HalfOpenRequests = 1
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
		window: make([]bool, config.WindowSize),
		now:    time.Now,
	}, nil
}

// CanExecute reports whether a call may proceed. In the open state it
// flips to half-open once the sleep window has elapsed and admits a
// bounded number of probes.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.SleepWindow {
			return false
		}
		cb.transitionTo(StateHalfOpen)
		cb.halfOpenInFlight++
		return true
	case StateHalfOpen:
		if cb.halfOpenInFlight+cb.halfOpenDone >= cb.config.HalfOpenRequests {
			return false
		}
		cb.halfOpenInFlight++
		return true
	}
	return false
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.record(false)
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.record(true)
}

func (cb *CircuitBreaker) record(failure bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		if cb.halfOpenInFlight > 0 {
			cb.halfOpenInFlight--
		}
		cb.halfOpenDone++
		if failure {
			cb.halfOpenFailed = true
		}
		if cb.halfOpenFailed {
			cb.transitionTo(StateOpen)
			return
		}
		if cb.halfOpenDone >= cb.config.HalfOpenRequests {
			cb.transitionTo(StateClosed)
		}
	case StateClosed:
		cb.window[cb.windowPos] = failure
		cb.windowPos = (cb.windowPos + 1) % len(cb.window)
		if cb.windowFilled < len(cb.window) {
			cb.windowFilled++
		}
		if cb.windowFilled == len(cb.window) && cb.failureRate() >= cb.config.ErrorThreshold {
			cb.transitionTo(StateOpen)
		}
	case StateOpen:
		// Late completion from before the trip; nothing to track.
	}
}

// failureRate is computed over the filled portion of the window.
// Callers must hold mu.
func (cb *CircuitBreaker) failureRate() float64 {
	if cb.windowFilled == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < cb.windowFilled; i++ {
		if cb.window[i] {
			failures++
		}
	}
	return float64(failures) / float64(cb.windowFilled)
}

// transitionTo moves the breaker to a new state. Callers must hold mu.
func (cb *CircuitBreaker) transitionTo(next CircuitState) {
	prev := cb.state
	if prev == next {
		return
	}
	cb.state = next

	switch next {
	case StateOpen:
		cb.openedAt = cb.now()
		cb.halfOpenInFlight = 0
		cb.halfOpenDone = 0
		cb.halfOpenFailed = false
	case StateClosed:
		cb.window = make([]bool, cb.config.WindowSize)
		cb.windowPos = 0
		cb.windowFilled = 0
		cb.halfOpenInFlight = 0
		cb.halfOpenDone = 0
		cb.halfOpenFailed = false
	}

	cb.config.Logger.Info("Circuit breaker state change", map[string]interface{}{
		"name": cb.config.Name,
		"from": prev.String(),
		"to":   next.String(),
	})
}

// Execute runs fn with circuit breaker protection. Rejections while open
// are reported as a transient failure so callers treat them like any other
// temporary outage.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.CanExecute() {
		return fmt.Errorf("circuit breaker %q: %w", cb.config.Name, core.ErrCircuitBreakerOpen)
	}

	err := fn()
	if err != nil && cb.config.ErrorClassifier(err) {
		cb.RecordFailure()
		return err
	}

	cb.RecordSuccess()
	return err
}

// GetState returns the current state name.
func (cb *CircuitBreaker) GetState() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.String()
}

// Reset returns the breaker to a fresh closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateClosed {
		cb.transitionTo(StateClosed)
		return
	}
	cb.window = make([]bool, cb.config.WindowSize)
	cb.windowPos = 0
	cb.windowFilled = 0
}
