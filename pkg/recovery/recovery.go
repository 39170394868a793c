// Package recovery provides retry- and circuit-breaker-wrapped execution
// for operations that can degrade instead of failing outright — chiefly
// the checkpoint manager's local write path and its optional S3 mirror.
// The ResilientExecutor here is a general-purpose helper, distinct from
// (and used internally by) the fabric's checkpoint/restore Recovery
// Manager in internal/recovery.
package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kernelfabric/fabric/internal/circuit"
	"github.com/kernelfabric/fabric/pkg/fabricerr"
	"github.com/kernelfabric/fabric/pkg/logging"
	"github.com/kernelfabric/fabric/pkg/retry"
)

// Strategy names how ResilientExecutor should handle a failing operation.
type Strategy int

const (
	// StrategyRetry retries the operation with exponential backoff.
	StrategyRetry Strategy = iota

	// StrategyCircuitBreaker trips a per-component breaker after repeated
	// failures, rejecting fast while the breaker is open.
	StrategyCircuitBreaker

	// StrategyGracefulDegradation runs the operation once, marks the
	// component degraded on failure, and falls back if one is registered.
	StrategyGracefulDegradation

	// StrategyFallback always prefers a registered fallback on failure.
	StrategyFallback

	// StrategyFailFast runs the operation once with no recovery behavior.
	StrategyFailFast
)

// String returns the strategy's name.
func (s Strategy) String() string {
	switch s {
	case StrategyRetry:
		return "retry"
	case StrategyCircuitBreaker:
		return "circuit_breaker"
	case StrategyGracefulDegradation:
		return "graceful_degradation"
	case StrategyFallback:
		return "fallback"
	case StrategyFailFast:
		return "fail_fast"
	default:
		return "unknown"
	}
}

// Config configures a ResilientExecutor.
type Config struct {
	DefaultStrategy      Strategy
	RetryConfig          retry.Config
	CircuitBreakerConfig circuit.Config
	EnableAutoRecovery   bool
	MaxRecoveryAttempts  int
	RecoveryBackoff      time.Duration
	Logger               *logging.Logger
}

// DefaultConfig returns the resilience policy the checkpoint store starts
// with when its caller supplies none.
func DefaultConfig() Config {
	return Config{
		DefaultStrategy:     StrategyRetry,
		RetryConfig:         retry.DefaultConfig(),
		EnableAutoRecovery:  true,
		MaxRecoveryAttempts: 3,
		RecoveryBackoff:     5 * time.Second,
		CircuitBreakerConfig: circuit.Config{
			MaxRequests: 5,
			Interval:    30 * time.Second,
			Timeout:     60 * time.Second,
		},
	}
}

// DegradedState tracks why a component was marked degraded and when it
// should next be probed for recovery.
type DegradedState struct {
	Component    string
	Reason       string
	Since        time.Time
	AttemptCount int
	LastAttempt  time.Time
	NextAttempt  time.Time
}

// FallbackFunc produces a substitute result when the primary operation
// cannot complete.
type FallbackFunc func(ctx context.Context) (interface{}, error)

// ResilientExecutor wraps arbitrary component/operation calls with retry,
// a circuit breaker, and per-component degradation bookkeeping, selecting
// among them per Strategy.
type ResilientExecutor struct {
	config   Config
	retryer  *retry.Retryer
	breakers *circuit.Manager
	logger   *logging.Logger

	mu               sync.RWMutex
	recoveryAttempts map[string]int
	degraded         map[string]*DegradedState
	fallbacks        map[string]FallbackFunc
}

// New creates a ResilientExecutor from config, filling in a default logger
// if none was supplied.
func New(config Config) *ResilientExecutor {
	if config.Logger == nil {
		logger, _ := logging.New(logging.DefaultConfig())
		config.Logger = logger
	}

	return &ResilientExecutor{
		config:           config,
		retryer:          retry.New(config.RetryConfig),
		breakers:         circuit.NewManager(config.CircuitBreakerConfig),
		logger:           config.Logger.WithComponent("resilient_executor"),
		recoveryAttempts: make(map[string]int),
		degraded:         make(map[string]*DegradedState),
		fallbacks:        make(map[string]FallbackFunc),
	}
}

// Execute runs fn with the executor's recovery behavior, discarding any
// result value.
func (e *ResilientExecutor) Execute(ctx context.Context, component, operation string, fn func() error) error {
	_, err := e.ExecuteWithResult(ctx, component, operation, func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// ExecuteWithResult runs fn with the executor's recovery behavior and
// returns its result.
func (e *ResilientExecutor) ExecuteWithResult(ctx context.Context, component, operation string, fn func() (interface{}, error)) (interface{}, error) {
	opKey := component + ":" + operation

	if e.isDegraded(component) {
		if fb := e.getFallback(opKey); fb != nil {
			e.logger.Info("using fallback for degraded component", map[string]interface{}{
				"component": component, "operation": operation,
			})
			return fb(ctx)
		}
		return nil, fabricerr.Newf(fabricerr.ServiceDegraded, "component %s is degraded", component).
			WithComponent(component).WithOperation(operation)
	}

	switch e.strategyFor(component) {
	case StrategyRetry:
		return e.withRetry(ctx, component, operation, fn)
	case StrategyCircuitBreaker:
		return e.withCircuitBreaker(ctx, component, operation, fn)
	case StrategyGracefulDegradation:
		return e.withDegradation(ctx, component, operation, fn)
	case StrategyFallback:
		return e.withFallback(ctx, component, operation, fn)
	default:
		return fn()
	}
}

func (e *ResilientExecutor) withRetry(ctx context.Context, component, operation string, fn func() (interface{}, error)) (interface{}, error) {
	var result interface{}

	err := e.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn()
		return err
	})

	if err != nil {
		e.recordFailure(component, operation, err)
		return nil, e.enhance(err, component, operation, "retry exhausted")
	}

	e.recordSuccess(component)
	return result, nil
}

func (e *ResilientExecutor) withCircuitBreaker(ctx context.Context, component, operation string, fn func() (interface{}, error)) (interface{}, error) {
	breaker := e.breakers.Breaker(component)

	var result interface{}
	var fnErr error

	err := breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn()
		fnErr = err
		return err
	})

	if err != nil {
		if (err == circuit.ErrOpen || err == circuit.ErrTooManyRequests) && fnErr == nil {
			e.markDegraded(component, operation, err)
			return nil, err
		}
		e.recordFailure(component, operation, err)
		return nil, e.enhance(fnErr, component, operation, "circuit breaker triggered")
	}

	e.recordSuccess(component)
	return result, nil
}

func (e *ResilientExecutor) withDegradation(ctx context.Context, component, operation string, fn func() (interface{}, error)) (interface{}, error) {
	result, err := fn()
	if err != nil {
		e.markDegraded(component, operation, err)

		if fb := e.getFallback(component + ":" + operation); fb != nil {
			e.logger.Info("using fallback after failure", map[string]interface{}{
				"component": component, "operation": operation, "error": err.Error(),
			})
			return fb(ctx)
		}

		return nil, e.enhance(err, component, operation, "operating in degraded mode")
	}

	e.recordSuccess(component)
	return result, nil
}

func (e *ResilientExecutor) withFallback(ctx context.Context, component, operation string, fn func() (interface{}, error)) (interface{}, error) {
	result, err := fn()
	if err != nil {
		if fb := e.getFallback(component + ":" + operation); fb != nil {
			e.logger.Info("primary failed, using fallback", map[string]interface{}{
				"component": component, "operation": operation,
			})
			return fb(ctx)
		}
		return nil, e.enhance(err, component, operation, "no fallback registered")
	}
	return result, nil
}

// RegisterFallback attaches fb to the named component/operation pair.
func (e *ResilientExecutor) RegisterFallback(component, operation string, fb FallbackFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fallbacks[component+":"+operation] = fb
}

func (e *ResilientExecutor) getFallback(opKey string) FallbackFunc {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fallbacks[opKey]
}

func (e *ResilientExecutor) markDegraded(component, operation string, cause error) {
	e.mu.Lock()
	state := e.degraded[component]
	if state == nil {
		state = &DegradedState{Component: component, Since: time.Now()}
		e.degraded[component] = state
	}
	state.Reason = fmt.Sprintf("%s: %v", operation, cause)
	state.AttemptCount++
	state.LastAttempt = time.Now()
	state.NextAttempt = time.Now().Add(e.config.RecoveryBackoff)
	shouldRecover := e.config.EnableAutoRecovery && state.AttemptCount <= e.config.MaxRecoveryAttempts
	nextAttempt := state.NextAttempt
	e.mu.Unlock()

	e.logger.Warn("component marked degraded", map[string]interface{}{
		"component": component, "reason": state.Reason, "attempts": state.AttemptCount,
	})

	if shouldRecover {
		go e.autoRecover(component, nextAttempt)
	}
}

func (e *ResilientExecutor) isDegraded(component string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.degraded[component] != nil
}

func (e *ResilientExecutor) autoRecover(component string, at time.Time) {
	time.Sleep(time.Until(at))

	e.breakers.Breaker(component).Reset()

	e.mu.Lock()
	delete(e.degraded, component)
	e.mu.Unlock()

	e.logger.Info("component recovered", map[string]interface{}{"component": component})
}

// RecoverComponent manually clears a component's degraded state.
func (e *ResilientExecutor) RecoverComponent(component string) error {
	e.mu.Lock()
	if e.degraded[component] == nil {
		e.mu.Unlock()
		return fabricerr.Newf(fabricerr.NotFound, "component %s is not degraded", component).WithComponent(component)
	}
	delete(e.degraded, component)
	e.mu.Unlock()

	e.breakers.Breaker(component).Reset()
	e.logger.Info("component manually recovered", map[string]interface{}{"component": component})
	return nil
}

// DegradedComponents returns a snapshot of every currently degraded component.
func (e *ResilientExecutor) DegradedComponents() map[string]DegradedState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]DegradedState, len(e.degraded))
	for k, v := range e.degraded {
		out[k] = *v
	}
	return out
}

// CircuitBreakerStats returns a snapshot of every breaker's state.
func (e *ResilientExecutor) CircuitBreakerStats() map[string]circuit.Stat {
	return e.breakers.Stats()
}

func (e *ResilientExecutor) strategyFor(component string) Strategy {
	e.mu.RLock()
	attempts := e.recoveryAttempts[component]
	e.mu.RUnlock()

	if attempts >= 3 {
		return StrategyCircuitBreaker
	}
	return e.config.DefaultStrategy
}

func (e *ResilientExecutor) recordSuccess(component string) {
	e.mu.Lock()
	delete(e.recoveryAttempts, component)
	e.mu.Unlock()
}

func (e *ResilientExecutor) recordFailure(component, operation string, err error) {
	e.mu.Lock()
	e.recoveryAttempts[component]++
	attempts := e.recoveryAttempts[component]
	e.mu.Unlock()

	e.logger.Error("operation failed", map[string]interface{}{
		"component": component, "operation": operation, "attempts": attempts, "error": err.Error(),
	})
}

func (e *ResilientExecutor) enhance(err error, component, operation, note string) error {
	if err == nil {
		return fabricerr.New(fabricerr.InternalError, note).WithComponent(component).WithOperation(operation)
	}
	if fe, ok := err.(*fabricerr.Error); ok {
		return fe.WithComponent(component).WithOperation(operation).WithContext("recovery_note", note)
	}
	return fabricerr.New(fabricerr.InternalError, err.Error()).
		WithComponent(component).WithOperation(operation).WithCause(err).WithContext("recovery_note", note)
}

// Stats summarizes the executor's running state.
type Stats struct {
	DegradedComponents int                     `json:"degraded_components"`
	ActiveRecoveries   int                     `json:"active_recoveries"`
	CircuitBreakers    map[string]circuit.Stat `json:"circuit_breakers"`
	TotalAttempts      int                     `json:"total_attempts"`
}

// Stats returns a point-in-time snapshot of executor state.
func (e *ResilientExecutor) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	active := 0
	now := time.Now()
	for _, s := range e.degraded {
		if s.NextAttempt.After(now) {
			active++
		}
	}
	total := 0
	for _, c := range e.recoveryAttempts {
		total += c
	}

	return Stats{
		DegradedComponents: len(e.degraded),
		ActiveRecoveries:   active,
		CircuitBreakers:    e.breakers.Stats(),
		TotalAttempts:      total,
	}
}

// Shutdown releases the executor's logger resources.
func (e *ResilientExecutor) Shutdown(ctx context.Context) error {
	e.logger.Info("resilient executor shutting down", nil)
	return e.logger.Close()
}
