package circuitbreaker

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// countsResetInterval clears accumulated outcomes while CLOSED, so the
// window reflects recent calls instead of the whole process lifetime.
const countsResetInterval = time.Minute

// Registry owns one breaker per downstream target. Breakers are created
// lazily on first use, live for the process lifetime, and are never
// persisted. The registry is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	breakers   map[string]*Breaker
	configs    map[string]Config
	defaultCfg Config
	logger     *zap.Logger
}

// NewRegistry creates a registry that applies defaultCfg to every target
// without an explicit configuration.
func NewRegistry(logger *zap.Logger, defaultCfg Config) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		breakers:   make(map[string]*Breaker),
		configs:    make(map[string]Config),
		defaultCfg: defaultCfg.normalize(),
		logger:     logger,
	}
}

// Configure sets a target-specific configuration. It must be called before
// the target's breaker is first used; an existing breaker is not rebuilt.
func (r *Registry) Configure(target string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[target] = cfg.normalize()
}

// GetOrCreate returns the breaker for a target, creating it on first use.
func (r *Registry) GetOrCreate(target string) *Breaker {
	r.mu.RLock()
	breaker, exists := r.breakers[target]
	r.mu.RUnlock()

	if exists {
		return breaker
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring the write lock.
	if breaker, exists = r.breakers[target]; exists {
		return breaker
	}

	cfg, ok := r.configs[target]
	if !ok {
		cfg = r.defaultCfg
	}

	breaker = &Breaker{cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "target-" + target,
		MaxRequests: cfg.PermittedCallsInHalfOpen,
		Interval:    countsResetInterval,
		Timeout:     cfg.WaitDurationInOpenState,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cfg.SlidingWindowSize && failureRate >= cfg.FailureRateThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logStateChange(target, convertState(from), convertState(to))
		},
	})}
	r.breakers[target] = breaker

	r.logger.Info("Created circuit breaker", zap.String("target", target))

	return breaker
}

// StateOf returns the state of a target's breaker, or StateUnknown when the
// target has never been called.
func (r *Registry) StateOf(target string) State {
	r.mu.RLock()
	breaker, exists := r.breakers[target]
	r.mu.RUnlock()

	if !exists {
		return StateUnknown
	}
	return breaker.State()
}

func (r *Registry) logStateChange(target string, from State, to State) {
	fields := []zap.Field{
		zap.String("target", target),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	}

	switch to {
	case StateOpen:
		r.logger.Error("Circuit breaker opened, calls to target will fast-fail", fields...)
	case StateHalfOpen:
		r.logger.Info("Circuit breaker half-open, probing target", fields...)
	case StateClosed:
		r.logger.Info("Circuit breaker closed, target is healthy", fields...)
	}
}
