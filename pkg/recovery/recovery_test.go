package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kernelfabric/fabric/internal/circuit"
	"github.com/kernelfabric/fabric/pkg/fabricerr"
	"github.com/kernelfabric/fabric/pkg/retry"
)

func TestNewResilientExecutor(t *testing.T) {
	config := DefaultConfig()
	e := New(config)

	if e == nil {
		t.Fatal("expected non-nil executor")
	}
	if e.config.DefaultStrategy != StrategyRetry {
		t.Errorf("expected default strategy retry, got %v", e.config.DefaultStrategy)
	}
	if e.retryer == nil {
		t.Error("expected retryer to be initialized")
	}
	if e.breakers == nil {
		t.Error("expected circuit breaker manager to be initialized")
	}
}

func TestResilientExecutor_ExecuteSuccess(t *testing.T) {
	config := DefaultConfig()
	config.DefaultStrategy = StrategyRetry
	e := New(config)

	ctx := context.Background()
	called := false

	err := e.Execute(ctx, "test", "operation", func() error {
		called = true
		return nil
	})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !called {
		t.Error("expected function to be called")
	}
}

func TestResilientExecutor_ExecuteWithRetry(t *testing.T) {
	config := DefaultConfig()
	config.DefaultStrategy = StrategyRetry
	config.RetryConfig.MaxAttempts = 3
	config.RetryConfig.InitialDelay = 10 * time.Millisecond
	e := New(config)

	ctx := context.Background()
	attempts := 0

	err := e.Execute(ctx, "test", "operation", func() error {
		attempts++
		if attempts < 2 {
			return fabricerr.New(fabricerr.OperationTimeout, "timeout")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts < 2 {
		t.Errorf("expected at least 2 attempts, got %d", attempts)
	}
}

func TestResilientExecutor_ExecuteWithCircuitBreaker(t *testing.T) {
	config := DefaultConfig()
	config.CircuitBreakerConfig = circuit.Config{
		MaxRequests: 1,
		Interval:    1 * time.Second,
		Timeout:     100 * time.Millisecond,
	}
	e := New(config)

	ctx := context.Background()
	component := "test-breaker"

	e.mu.Lock()
	e.recoveryAttempts[component] = 5
	e.mu.Unlock()

	attempts := 0
	for i := 0; i < 3; i++ {
		_ = e.Execute(ctx, component, "operation", func() error {
			attempts++
			return errors.New("failure")
		})
	}

	stats := e.CircuitBreakerStats()
	if breakerStats, exists := stats[component]; exists {
		if breakerStats.State != circuit.StateOpen {
			t.Logf("circuit breaker state: %v after %d attempts", breakerStats.State, attempts)
		}
	}
}

func TestResilientExecutor_RegisterFallback(t *testing.T) {
	config := DefaultConfig()
	e := New(config)

	fallbackCalled := false
	e.RegisterFallback("test", "operation", func(ctx context.Context) (interface{}, error) {
		fallbackCalled = true
		return "fallback-result", nil
	})

	fallback := e.getFallback("test:operation")
	if fallback == nil {
		t.Fatal("expected fallback to be registered")
	}

	result, err := fallback(context.Background())
	if err != nil {
		t.Fatalf("expected no error from fallback, got %v", err)
	}
	if !fallbackCalled {
		t.Error("expected fallback to be called")
	}
	if result != "fallback-result" {
		t.Errorf("expected 'fallback-result', got %v", result)
	}
}

func TestResilientExecutor_GracefulDegradation(t *testing.T) {
	config := DefaultConfig()
	config.DefaultStrategy = StrategyGracefulDegradation
	e := New(config)

	ctx := context.Background()
	component := "test-degraded"

	fallbackCalled := false
	e.RegisterFallback(component, "operation", func(ctx context.Context) (interface{}, error) {
		fallbackCalled = true
		return "degraded-result", nil
	})

	result, err := e.ExecuteWithResult(ctx, component, "operation", func() (interface{}, error) {
		return nil, errors.New("primary failed")
	})

	if !fallbackCalled {
		t.Error("expected fallback to be called for degraded operation")
	}
	if err != nil {
		t.Fatalf("expected fallback to succeed, got error: %v", err)
	}
	if result != "degraded-result" {
		t.Errorf("expected degraded result, got %v", result)
	}

	degraded := e.DegradedComponents()
	if _, exists := degraded[component]; !exists {
		t.Error("expected component to be marked as degraded")
	}
}

func TestResilientExecutor_RecoverComponent(t *testing.T) {
	config := DefaultConfig()
	config.EnableAutoRecovery = false
	e := New(config)

	component := "test-recover"

	e.markDegraded(component, "test", errors.New("test error"))

	if !e.isDegraded(component) {
		t.Fatal("expected component to be degraded")
	}

	if err := e.RecoverComponent(component); err != nil {
		t.Fatalf("expected successful recovery, got %v", err)
	}

	if e.isDegraded(component) {
		t.Error("expected component to be recovered")
	}
}

func TestResilientExecutor_Stats(t *testing.T) {
	config := DefaultConfig()
	e := New(config)

	e.markDegraded("test1", "op1", errors.New("error1"))
	e.markDegraded("test2", "op2", errors.New("error2"))

	stats := e.Stats()

	if stats.DegradedComponents != 2 {
		t.Errorf("expected 2 degraded components, got %d", stats.DegradedComponents)
	}
	if stats.TotalAttempts < 0 {
		t.Error("expected non-negative total attempts")
	}
}

func TestResilientExecutor_FailFastStrategy(t *testing.T) {
	config := DefaultConfig()
	config.DefaultStrategy = StrategyFailFast
	e := New(config)

	ctx := context.Background()
	attempts := 0

	err := e.Execute(ctx, "test", "operation", func() error {
		attempts++
		return errors.New("immediate failure")
	})

	if err == nil {
		t.Error("expected error for fail-fast strategy")
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt for fail-fast, got %d", attempts)
	}
}

func TestResilientExecutor_StrategyFor(t *testing.T) {
	config := DefaultConfig()
	config.DefaultStrategy = StrategyRetry
	e := New(config)

	if strategy := e.strategyFor("unknown"); strategy != StrategyRetry {
		t.Errorf("expected retry strategy, got %v", strategy)
	}

	e.mu.Lock()
	e.recoveryAttempts["failing-component"] = 5
	e.mu.Unlock()

	if strategy := e.strategyFor("failing-component"); strategy != StrategyCircuitBreaker {
		t.Errorf("expected circuit breaker strategy after failures, got %v", strategy)
	}
}

func TestStrategy_String(t *testing.T) {
	tests := []struct {
		strategy Strategy
		expected string
	}{
		{StrategyRetry, "retry"},
		{StrategyCircuitBreaker, "circuit_breaker"},
		{StrategyGracefulDegradation, "graceful_degradation"},
		{StrategyFallback, "fallback"},
		{StrategyFailFast, "fail_fast"},
	}

	for _, tt := range tests {
		if got := tt.strategy.String(); got != tt.expected {
			t.Errorf("expected %s, got %s", tt.expected, got)
		}
	}
}

func TestResilientExecutor_Enhance(t *testing.T) {
	config := DefaultConfig()
	e := New(config)

	originalErr := errors.New("original error")
	enhanced := e.enhance(originalErr, "test-component", "test-operation", "test-note")

	if enhanced == nil {
		t.Fatal("expected enhanced error")
	}

	fe, ok := enhanced.(*fabricerr.Error)
	if !ok {
		t.Fatal("expected *fabricerr.Error")
	}
	if fe.Component != "test-component" {
		t.Errorf("expected component 'test-component', got %s", fe.Component)
	}
	if fe.Operation != "test-operation" {
		t.Errorf("expected operation 'test-operation', got %s", fe.Operation)
	}
	if fe.Context["recovery_note"] != "test-note" {
		t.Error("expected recovery note in error context")
	}
}

func TestResilientExecutor_ExecuteWithResult(t *testing.T) {
	config := DefaultConfig()
	e := New(config)

	ctx := context.Background()
	expectedResult := "success-result"

	result, err := e.ExecuteWithResult(ctx, "test", "operation", func() (interface{}, error) {
		return expectedResult, nil
	})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result != expectedResult {
		t.Errorf("expected result %v, got %v", expectedResult, result)
	}
}

func TestResilientExecutor_RecordSuccessAndFailure(t *testing.T) {
	config := DefaultConfig()
	e := New(config)

	component := "test-component"

	e.recordFailure(component, "op1", errors.New("error1"))
	e.recordFailure(component, "op2", errors.New("error2"))

	e.mu.RLock()
	attempts := e.recoveryAttempts[component]
	e.mu.RUnlock()

	if attempts != 2 {
		t.Errorf("expected 2 failure attempts, got %d", attempts)
	}

	e.recordSuccess(component)

	e.mu.RLock()
	attempts = e.recoveryAttempts[component]
	e.mu.RUnlock()

	if attempts != 0 {
		t.Errorf("expected attempts to be reset after success, got %d", attempts)
	}
}

func TestResilientExecutor_AutoRecoveryDisabled(t *testing.T) {
	config := DefaultConfig()
	config.EnableAutoRecovery = false
	e := New(config)

	component := "test-auto"

	e.markDegraded(component, "operation", errors.New("test"))

	if !e.isDegraded(component) {
		t.Fatal("expected component to be degraded")
	}

	time.Sleep(100 * time.Millisecond)

	if !e.isDegraded(component) {
		t.Error("component should still be degraded with auto-recovery disabled")
	}
}

func TestResilientExecutor_Shutdown(t *testing.T) {
	config := DefaultConfig()
	e := New(config)

	if err := e.Shutdown(context.Background()); err != nil {
		t.Errorf("expected no error on shutdown, got %v", err)
	}
}

func TestDegradedState(t *testing.T) {
	state := &DegradedState{
		Component:    "test",
		Reason:       "test reason",
		Since:        time.Now(),
		AttemptCount: 3,
	}

	if state.Component != "test" {
		t.Errorf("expected component 'test', got %s", state.Component)
	}
	if state.AttemptCount != 3 {
		t.Errorf("expected 3 attempts, got %d", state.AttemptCount)
	}
}

func TestResilientExecutor_ConcurrentExecution(t *testing.T) {
	config := DefaultConfig()
	config.RetryConfig.MaxAttempts = 2
	config.RetryConfig.InitialDelay = 5 * time.Millisecond
	e := New(config)

	ctx := context.Background()
	const numGoroutines = 10

	done := make(chan bool, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			_ = e.Execute(ctx, "concurrent", "operation", func() error {
				time.Sleep(1 * time.Millisecond)
				if id%2 == 0 {
					return nil
				}
				return errors.New("failure")
			})
			done <- true
		}(i)
	}

	for i := 0; i < numGoroutines; i++ {
		<-done
	}

	stats := e.Stats()
	if stats.TotalAttempts < 0 {
		t.Error("expected valid stats after concurrent execution")
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.DefaultStrategy != StrategyRetry {
		t.Errorf("expected default strategy retry, got %v", config.DefaultStrategy)
	}
	if config.MaxRecoveryAttempts != 3 {
		t.Errorf("expected 3 max recovery attempts, got %d", config.MaxRecoveryAttempts)
	}
	if !config.EnableAutoRecovery {
		t.Error("expected auto recovery to be enabled by default")
	}
	if config.RetryConfig.MaxAttempts != retry.DefaultConfig().MaxAttempts {
		t.Error("expected default retry config")
	}
}
