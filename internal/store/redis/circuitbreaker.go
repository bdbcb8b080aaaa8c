package redis

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("redis: circuit breaker is open")

// State is the breaker position. The numeric values are exported as the
// redis_circuit_breaker_state gauge.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CircuitBreaker guards event publishing to Redis. It opens after
// maxFailures consecutive failures and rejects calls for resetTimeout. It
// then admits exactly one probe: success closes it, failure reopens it.
// Calls cancelled by their caller are not counted as failures.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        State
	failures     int
	trips        int
	openedAt     time.Time
	probing      bool
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time

	// OnStateChange runs after every transition, outside the breaker's lock.
	OnStateChange func(from, to State)
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

type transition struct{ from, to State }

// Execute runs fn unless the breaker is open. While half-open, calls other
// than the probe get ErrCircuitOpen.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, tr, err := cb.admit()
	cb.notify(tr)
	if err != nil {
		return err
	}

	err = fn()
	cb.notify(cb.record(probe, err))
	return err
}

func (cb *CircuitBreaker) admit() (probe bool, tr *transition, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return false, nil, ErrCircuitOpen
		}
		tr = cb.set(StateHalfOpen)
		cb.probing = true
		return true, tr, nil
	case StateHalfOpen:
		if cb.probing {
			return false, nil, ErrCircuitOpen
		}
		cb.probing = true
		return true, nil, nil
	}
	return false, nil, nil
}

func (cb *CircuitBreaker) record(probe bool, err error) *transition {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probing = false
	}
	if err == nil {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			return cb.set(StateClosed)
		}
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}

	cb.failures++
	if cb.state == StateHalfOpen || (cb.state == StateClosed && cb.failures >= cb.maxFailures) {
		cb.openedAt = cb.now()
		cb.trips++
		return cb.set(StateOpen)
	}
	return nil
}

func (cb *CircuitBreaker) set(to State) *transition {
	from := cb.state
	cb.state = to
	if to == StateClosed {
		cb.failures = 0
	}
	return &transition{from, to}
}

func (cb *CircuitBreaker) notify(tr *transition) {
	if tr != nil && cb.OnStateChange != nil {
		cb.OnStateChange(tr.from, tr.to)
	}
}

// CurrentState returns the breaker position.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Trips returns how many times the breaker has opened.
func (cb *CircuitBreaker) Trips() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.trips
}
