// Package resilience provides the circuit breaker and the sequential provider
// failover used for the command parser and remote synthesis.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that
// stops calling a provider after repeated failures. [FallbackGroup] tries
// each configured provider once, in order, skipping those whose breaker is
// open; it never races providers against each other.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is
// open and the reset timeout has not elapsed yet.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of trial calls through. Enough
	// successes close the breaker; any failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log lines and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens a closed
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful trial calls needed to close, and
	// the maximum number of trial calls let through. Default: 3.
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition, outside the
	// breaker's lock.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	onStateChange func(name string, from, to State)

	mu              sync.Mutex
	state           State
	consecutiveFail int
	lastFailure     time.Time
	halfOpenCalls   int
	halfOpenOK      int
}

// NewCircuitBreaker creates a closed [CircuitBreaker]. Zero-value config
// fields take their defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		onStateChange: cfg.OnStateChange,
		state:         StateClosed,
	}
}

// Execute runs fn if the breaker allows it. Cancellation errors from fn are
// returned but not counted against the provider.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	var changes []State
	if cb.state == StateOpen {
		if time.Since(cb.lastFailure) < cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		changes = cb.transitionLocked(changes, StateHalfOpen)
	}
	trial := cb.state == StateHalfOpen
	if trial {
		if cb.halfOpenCalls >= cb.halfOpenMax {
			cb.mu.Unlock()
			cb.notify(changes)
			return ErrCircuitOpen
		}
		cb.halfOpenCalls++
	}
	cb.mu.Unlock()
	cb.notify(changes)

	err := fn()

	cb.mu.Lock()
	changes = nil
	switch {
	case err == nil:
		changes = cb.successLocked(trial, changes)
	case isCancellation(err):
		if trial {
			cb.halfOpenCalls--
		}
	default:
		changes = cb.failureLocked(trial, changes)
	}
	cb.mu.Unlock()
	cb.notify(changes)
	return err
}

func (cb *CircuitBreaker) failureLocked(trial bool, changes []State) []State {
	cb.lastFailure = time.Now()
	if trial {
		cb.consecutiveFail = cb.maxFailures
		return cb.transitionLocked(changes, StateOpen)
	}
	cb.consecutiveFail++
	if cb.state == StateClosed && cb.consecutiveFail >= cb.maxFailures {
		return cb.transitionLocked(changes, StateOpen)
	}
	return changes
}

func (cb *CircuitBreaker) successLocked(trial bool, changes []State) []State {
	if !trial {
		cb.consecutiveFail = 0
		return changes
	}
	cb.halfOpenOK++
	if cb.state == StateHalfOpen && cb.halfOpenOK >= cb.halfOpenMax {
		cb.consecutiveFail = 0
		return cb.transitionLocked(changes, StateClosed)
	}
	return changes
}

// transitionLocked moves to state and records the pair for notify.
func (cb *CircuitBreaker) transitionLocked(changes []State, to State) []State {
	from := cb.state
	if from == to {
		return changes
	}
	cb.state = to
	cb.halfOpenCalls, cb.halfOpenOK = 0, 0
	level := slog.LevelInfo
	if to == StateOpen {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "circuit breaker state changed",
		"name", cb.name, "from", from, "to", to, "consecutive_failures", cb.consecutiveFail)
	return append(changes, from, to)
}

func (cb *CircuitBreaker) notify(changes []State) {
	if cb.onStateChange == nil {
		return
	}
	for i := 0; i+1 < len(changes); i += 2 {
		cb.onStateChange(cb.name, changes[i], changes[i+1])
	}
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	changes := cb.transitionLocked(nil, StateClosed)
	cb.consecutiveFail = 0
	cb.mu.Unlock()
	cb.notify(changes)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
