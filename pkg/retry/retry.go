// Package retry provides exponential-backoff retry logic for operations
// whose failures carry a fabricerr.Code, chiefly the recovery manager's
// checkpoint writes and its optional remote mirror upload.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/kernelfabric/fabric/pkg/fabricerr"
)

// Config defines retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int `json:"max_attempts"`

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration `json:"initial_delay"`

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration `json:"max_delay"`

	// Multiplier is the factor delay grows by after each attempt.
	Multiplier float64 `json:"multiplier"`

	// Jitter adds up to ±20% randomness to each delay to avoid thundering herd.
	Jitter bool `json:"jitter"`

	// RetryableCodes lists fabricerr codes that should trigger a retry even
	// when the error wasn't already marked Retryable.
	RetryableCodes []fabricerr.Code `json:"retryable_codes"`

	// OnRetry is invoked before each retry attempt.
	OnRetry func(attempt int, err error, delay time.Duration) `json:"-"`
}

// DefaultConfig returns the retry policy the recovery manager's resilient
// executor uses (through pkg/recovery.DefaultConfig); the fabric's JSON
// config has no retry section.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		RetryableCodes: []fabricerr.Code{
			fabricerr.QueueFull,
			fabricerr.OperationTimeout,
			fabricerr.ServiceDegraded,
			fabricerr.IoFailure,
		},
	}
}

// Retryer executes a function with exponential backoff.
type Retryer struct {
	config Config
}

// New creates a Retryer, filling in defaults for any zero-valued field.
func New(config Config) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}

	return &Retryer{config: config}
}

// Do executes fn with retry logic and no caller-supplied context.
func (r *Retryer) Do(fn func() error) error {
	return r.DoWithContext(context.Background(), func(ctx context.Context) error {
		return fn()
	})
}

// DoWithContext executes fn, retrying on retryable errors until it succeeds,
// a non-retryable error is returned, the context is canceled, or attempts
// are exhausted.
func (r *Retryer) DoWithContext(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fabricerr.New(fabricerr.OperationCanceled, "retry canceled").WithCause(ctx.Err())
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !r.shouldRetry(err, attempt) {
			return err
		}

		if attempt < r.config.MaxAttempts {
			delay := r.calculateDelay(attempt)

			if r.config.OnRetry != nil {
				r.config.OnRetry(attempt, err, delay)
			}

			select {
			case <-ctx.Done():
				return fabricerr.New(fabricerr.OperationCanceled, fmt.Sprintf("retry canceled after %d attempts", attempt)).WithCause(ctx.Err())
			case <-time.After(delay):
			}
		}
	}

	return fabricerr.Newf(fabricerr.InternalError, "max retry attempts (%d) exceeded", r.config.MaxAttempts).WithCause(lastErr)
}

func (r *Retryer) shouldRetry(err error, attempt int) bool {
	if attempt >= r.config.MaxAttempts {
		return false
	}

	fe, ok := err.(*fabricerr.Error)
	if !ok {
		return false
	}

	if fe.Retryable {
		return true
	}

	for _, code := range r.config.RetryableCodes {
		if fe.Code == code {
			return true
		}
	}

	return false
}

func (r *Retryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))

	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.Jitter {
		jitter := delay * 0.2 * (rand.Float64()*2 - 1)
		delay += jitter
	}

	return time.Duration(delay)
}

// WithMaxAttempts returns a derived Retryer with a different attempt cap.
func (r *Retryer) WithMaxAttempts(attempts int) *Retryer {
	cfg := r.config
	cfg.MaxAttempts = attempts
	return New(cfg)
}

// WithOnRetry returns a derived Retryer with a retry callback attached.
func (r *Retryer) WithOnRetry(callback func(attempt int, err error, delay time.Duration)) *Retryer {
	cfg := r.config
	cfg.OnRetry = callback
	return New(cfg)
}

// Stats tracks aggregate retry outcomes across the operations recorded in
// a StatsCollector. The metrics aggregator does not report it.
type Stats struct {
	TotalAttempts   int           `json:"total_attempts"`
	SuccessfulRetry int           `json:"successful_retry"`
	FailedRetry     int           `json:"failed_retry"`
	AverageAttempts float64       `json:"average_attempts"`
	TotalDelay      time.Duration `json:"total_delay"`
	MaxAttemptsUsed int           `json:"max_attempts_used"`
}

// StatsCollector accumulates Stats across repeated Retryer invocations.
type StatsCollector struct {
	stats Stats
}

// NewStatsCollector creates an empty StatsCollector.
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{}
}

// RecordAttempt folds one retried operation's outcome into the running stats.
func (sc *StatsCollector) RecordAttempt(attempts int, success bool, delay time.Duration) {
	sc.stats.TotalAttempts++
	if success {
		sc.stats.SuccessfulRetry++
	} else {
		sc.stats.FailedRetry++
	}

	sc.stats.TotalDelay += delay
	if attempts > sc.stats.MaxAttemptsUsed {
		sc.stats.MaxAttemptsUsed = attempts
	}

	// Running mean of attempts per recorded operation.
	sc.stats.AverageAttempts += (float64(attempts) - sc.stats.AverageAttempts) / float64(sc.stats.TotalAttempts)
}

// Stats returns a snapshot of the collected statistics.
func (sc *StatsCollector) Stats() Stats {
	return sc.stats
}

// Reset clears the collected statistics.
func (sc *StatsCollector) Reset() {
	sc.stats = Stats{}
}
