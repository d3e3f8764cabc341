// Package circuitbreaker stops sending to a notification destination after
// repeated consecutive failures, then lets a single trial request through once the
// cooldown has elapsed.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

func (s state) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type destination struct {
	state               state
	consecutiveFailures int
	openedAt            time.Time
}

// CircuitBreaker tracks state per destination key (for Telegram, the chat ID).
type CircuitBreaker struct {
	mu           sync.Mutex
	destinations map[string]*destination
	threshold    int
	cooldown     time.Duration
	clock        func() time.Time
}

func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		destinations: make(map[string]*destination),
		threshold:    threshold,
		cooldown:     cooldown,
		clock:        time.Now,
	}
}

// WithClock overrides the time source used for cooldowns.
func (cb *CircuitBreaker) WithClock(clock func() time.Time) *CircuitBreaker {
	cb.clock = clock
	return cb
}

// Allow returns ErrCircuitOpen when sends to key should be skipped.
func (cb *CircuitBreaker) Allow(key string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	d, ok := cb.destinations[key]
	if !ok {
		return nil
	}

	switch d.state {
	case stateOpen:
		if cb.clock().Sub(d.openedAt) >= cb.cooldown {
			d.state = stateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case stateHalfOpen:
		// trial in flight
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (cb *CircuitBreaker) RecordSuccess(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	d, ok := cb.destinations[key]
	if !ok {
		return
	}
	d.state = stateClosed
	d.consecutiveFailures = 0
}

func (cb *CircuitBreaker) RecordFailure(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	d, ok := cb.destinations[key]
	if !ok {
		d = &destination{}
		cb.destinations[key] = d
	}

	d.consecutiveFailures++
	if d.state == stateHalfOpen || d.consecutiveFailures >= cb.threshold {
		d.state = stateOpen
		d.openedAt = cb.clock()
	}
}

// State reports "closed", "open" or "half_open" for key.
func (cb *CircuitBreaker) State(key string) string {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	d, ok := cb.destinations[key]
	if !ok {
		return stateClosed.String()
	}
	return d.state.String()
}
