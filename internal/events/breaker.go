package events

import (
	"sync"
	"time"
)

// breakerState is the circuit breaker's three-state machine.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// CircuitBreaker guards one subscriber. It opens after threshold
// consecutive failures, rejects deliveries while open, and half-opens
// after the cooldown to probe with a single delivery.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu        sync.Mutex
	state     breakerState
	failures  int
	openedAt  time.Time
}

// NewCircuitBreaker creates a breaker. A threshold of 0 disables it.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a delivery may proceed.
func (cb *CircuitBreaker) Allow() bool {
	if cb.threshold <= 0 {
		return true
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case breakerClosed, breakerHalfOpen:
		return true
	case breakerOpen:
		if cb.now().Sub(cb.openedAt) >= cb.cooldown {
			cb.state = breakerHalfOpen
			return true
		}
		return false
	}
	return true
}

// Success records a successful delivery and closes the breaker.
func (cb *CircuitBreaker) Success() {
	if cb.threshold <= 0 {
		return
	}
	cb.mu.Lock()
	cb.failures = 0
	cb.state = breakerClosed
	cb.mu.Unlock()
}

// Failure records a failed delivery, opening the breaker when the
// consecutive-failure threshold is reached. A failure during
// half-open reopens immediately.
func (cb *CircuitBreaker) Failure() {
	if cb.threshold <= 0 {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	if cb.state == breakerHalfOpen || cb.failures >= cb.threshold {
		cb.state = breakerOpen
		cb.openedAt = cb.now()
	}
}
