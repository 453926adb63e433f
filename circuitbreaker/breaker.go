// Package circuitbreaker guards outbound calls to downstream services with
// a per-target state machine. A target's breaker trips to OPEN once the
// failure rate over the sliding window crosses the configured threshold,
// fast-fails calls while OPEN, and probes the target with a bounded number
// of calls in HALF_OPEN before closing again.
package circuitbreaker

import (
	"errors"

	"github.com/sony/gobreaker"
)

// ErrOpen is returned when a call is rejected without being attempted,
// either because the breaker is OPEN or because the HALF_OPEN probe budget
// is exhausted. Rejections are not counted as call failures.
var ErrOpen = errors.New("circuit breaker is open")

// State is the externally visible breaker state.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
	StateUnknown  State = "UNKNOWN"
)

// Breaker wraps a single target's circuit breaker.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// Execute runs fn through the breaker and records its outcome. When the
// breaker rejects the call, fn is never invoked and ErrOpen is returned.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	switch b.cb.State() {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateUnknown
	}
}

// Counts returns the call outcomes recorded in the current window.
func (b *Breaker) Counts() Counts {
	counts := b.cb.Counts()
	return Counts{
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
	}
}

// Counts mirrors the breaker's outcome statistics.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func convertState(state gobreaker.State) State {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateUnknown
	}
}
