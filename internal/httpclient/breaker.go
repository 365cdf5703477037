package httpclient

import (
	"sync"
	"time"
)

// BreakerState represents the state of a circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is a circuit breaker guarding one upstream host. Repeated playlist
// or guide fetch failures stop hammering a dead provider; after the cooldown
// a single probe request decides whether the circuit closes again.
type Breaker struct {
	mu          sync.RWMutex
	state       BreakerState
	failures    int
	threshold   int
	cooldown    time.Duration
	probeBudget int
	probesUsed  int
	lastFailure time.Time
}

// NewBreaker creates a circuit breaker that opens after threshold consecutive
// failures and probes again after the cooldown.
func NewBreaker(threshold int, cooldown time.Duration, probeBudget int) *Breaker {
	return &Breaker{
		state:       BreakerClosed,
		threshold:   threshold,
		cooldown:    cooldown,
		probeBudget: probeBudget,
	}
}

// Allow reports whether a request may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Since(b.lastFailure) >= b.cooldown {
			b.state = BreakerHalfOpen
			b.probesUsed = 1
			return true
		}
		return false
	case BreakerHalfOpen:
		if b.probesUsed < b.probeBudget {
			b.probesUsed++
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess notes a successful request. A success while half-open closes
// the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.state = BreakerClosed
	}
	b.failures = 0
}

// RecordFailure notes a failed request. A failure while half-open reopens the
// circuit immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	switch b.state {
	case BreakerClosed:
		if b.failures >= b.threshold {
			b.state = BreakerOpen
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.probesUsed = 0
}
