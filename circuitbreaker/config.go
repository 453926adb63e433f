package circuitbreaker

import "time"

// Config holds the settings of one protected target.
type Config struct {
	// SlidingWindowSize is the minimum number of recorded calls before the
	// failure rate is evaluated.
	SlidingWindowSize uint32
	// FailureRateThreshold trips the breaker once the failure rate within
	// the window reaches this ratio (0.5 means 50%).
	FailureRateThreshold float64
	// WaitDurationInOpenState is how long the breaker stays OPEN before the
	// next call is allowed through as a HALF_OPEN probe.
	WaitDurationInOpenState time.Duration
	// PermittedCallsInHalfOpen bounds concurrent probe calls in HALF_OPEN.
	// All probes must succeed for the breaker to close.
	PermittedCallsInHalfOpen uint32
}

// DefaultConfig provides balanced settings for most downstream services.
func DefaultConfig() Config {
	return Config{
		SlidingWindowSize:        10,
		FailureRateThreshold:     0.5,
		WaitDurationInOpenState:  30 * time.Second,
		PermittedCallsInHalfOpen: 3,
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.SlidingWindowSize == 0 {
		c.SlidingWindowSize = def.SlidingWindowSize
	}
	if c.FailureRateThreshold <= 0 || c.FailureRateThreshold > 1 {
		c.FailureRateThreshold = def.FailureRateThreshold
	}
	if c.WaitDurationInOpenState <= 0 {
		c.WaitDurationInOpenState = def.WaitDurationInOpenState
	}
	if c.PermittedCallsInHalfOpen == 0 {
		c.PermittedCallsInHalfOpen = def.PermittedCallsInHalfOpen
	}
	return c
}
