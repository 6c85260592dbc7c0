/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ai

import (
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // calls pass through
	CircuitOpen                         // calls rejected until the reset timeout elapses
	CircuitHalfOpen                     // a single probe call is in flight
)

// String returns the string representation of a CircuitState.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker rejects a model call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker stops calling a failing provider. After threshold
// consecutive failures it opens; once resetTimeout has passed since the last
// failure it lets one probe through and closes again if the probe succeeds.
type CircuitBreaker struct {
	mu            sync.Mutex
	state         CircuitState
	failures      int
	threshold     int
	resetTimeout  time.Duration
	lastFailure   time.Time
	now           func() time.Time
	onStateChange func(from, to CircuitState)
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithNowFunc injects a clock function for testing.
func WithNowFunc(f func() time.Time) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.now = f
	}
}

// WithOnStateChange sets a callback for state transitions. The callback runs
// outside the breaker lock.
func WithOnStateChange(f func(from, to CircuitState)) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.onStateChange = f
	}
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(threshold int, resetTimeout time.Duration, opts ...CircuitBreakerOption) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	cb := &CircuitBreaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Allow reports whether a call may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	allowed := false
	from, to := cb.state, cb.state
	switch cb.state {
	case CircuitClosed:
		allowed = true
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailure) >= cb.resetTimeout {
			cb.state = CircuitHalfOpen
			to = CircuitHalfOpen
			allowed = true
		}
	}
	cb.mu.Unlock()
	cb.notify(from, to)
	return allowed
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	from := cb.state
	cb.failures = 0
	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
	}
	to := cb.state
	cb.mu.Unlock()
	cb.notify(from, to)
}

// RecordFailure counts a failed call. A failed probe reopens the circuit.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	from := cb.state
	cb.failures++
	cb.lastFailure = cb.now()
	if cb.state == CircuitHalfOpen || cb.failures >= cb.threshold {
		cb.state = CircuitOpen
	}
	to := cb.state
	cb.mu.Unlock()
	cb.notify(from, to)
}

// RecordRateLimit pushes back the reset timer without counting a failure.
// A rate-limited probe returns the circuit to open.
func (cb *CircuitBreaker) RecordRateLimit() {
	cb.mu.Lock()
	from := cb.state
	cb.lastFailure = cb.now()
	if cb.state == CircuitHalfOpen {
		cb.state = CircuitOpen
	}
	to := cb.state
	cb.mu.Unlock()
	cb.notify(from, to)
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) notify(from, to CircuitState) {
	if from != to && cb.onStateChange != nil {
		cb.onStateChange(from, to)
	}
}
