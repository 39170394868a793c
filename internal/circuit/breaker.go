// Package circuit implements the circuit breaker the recovery manager's
// resilient executor wraps around checkpoint writes and remote-mirror
// uploads, so a failing disk or S3 endpoint degrades to fast rejection
// instead of piling up blocked retries.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/kernelfabric/fabric/pkg/fabricerr"
)

// State is one of the three circuit breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the state's name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config configures a Breaker.
type Config struct {
	// MaxRequests caps concurrent requests allowed through while half-open.
	MaxRequests uint32 `json:"max_requests"`

	// Interval is how long the closed state runs before its counts reset.
	Interval time.Duration `json:"interval"`

	// Timeout is how long the open state lasts before probing half-open.
	Timeout time.Duration `json:"timeout"`

	// ReadyToTrip decides whether accumulated counts should open the breaker.
	ReadyToTrip func(counts Counts) bool `json:"-"`

	// OnStateChange is invoked whenever the breaker transitions state.
	OnStateChange func(name string, from, to State) `json:"-"`

	// IsSuccessful decides whether an error should count as a failure.
	IsSuccessful func(err error) bool `json:"-"`
}

// Counts tallies a breaker's request outcomes since the last reset.
type Counts struct {
	Requests             uint32    `json:"requests"`
	TotalSuccesses       uint32    `json:"total_successes"`
	TotalFailures        uint32    `json:"total_failures"`
	ConsecutiveSuccesses uint32    `json:"consecutive_successes"`
	ConsecutiveFailures  uint32    `json:"consecutive_failures"`
	LastActivity         time.Time `json:"last_activity"`
}

// Breaker implements the circuit breaker pattern around an arbitrary
// function call.
type Breaker struct {
	name   string
	config Config

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// New creates a Breaker, applying defaults to any zero-valued Config field.
func New(name string, config Config) *Breaker {
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.ReadyToTrip == nil {
		config.ReadyToTrip = defaultReadyToTrip
	}
	if config.IsSuccessful == nil {
		config.IsSuccessful = defaultIsSuccessful
	}

	return &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
		expiry: time.Now().Add(config.Interval),
	}
}

func defaultReadyToTrip(counts Counts) bool {
	return counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
}

func defaultIsSuccessful(err error) bool {
	return err == nil
}

// ErrOpen and ErrTooManyRequests are returned by beforeRequest when the
// breaker itself rejects a call, distinct from any error the wrapped
// function returns.
var (
	ErrOpen            = fabricerr.New(fabricerr.ServiceDegraded, "circuit breaker is open")
	ErrTooManyRequests = fabricerr.New(fabricerr.ServiceDegraded, "too many requests in half-open state")
)

// Execute runs fn if the breaker allows it.
func (cb *Breaker) Execute(fn func() error) error {
	err, _ := cb.ExecuteWithFallback(fn, nil)
	return err
}

// ExecuteWithFallback runs fn if the breaker allows it, otherwise runs
// fallback. The second return value reports whether the fallback ran.
func (cb *Breaker) ExecuteWithFallback(fn func() error, fallback func() error) (error, bool) {
	if err := cb.beforeRequest(); err != nil {
		if fallback != nil {
			return fallback(), true
		}
		return err, false
	}

	err := fn()
	cb.afterRequest(err)
	return err, false
}

// ExecuteWithContext runs fn with ctx if the breaker allows it.
func (cb *Breaker) ExecuteWithContext(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.afterRequest(err)
	return err
}

func (cb *Breaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state, _ := cb.currentState(now)

	if state == StateOpen {
		return ErrOpen
	}
	if state == StateHalfOpen && cb.counts.Requests >= cb.config.MaxRequests {
		return ErrTooManyRequests
	}

	cb.counts.onRequest()
	return nil
}

func (cb *Breaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state, _ := cb.currentState(now)

	if cb.config.IsSuccessful(err) {
		cb.onSuccess(state, now)
	} else {
		cb.onFailure(state, now)
	}
}

func (cb *Breaker) onSuccess(state State, now time.Time) {
	cb.counts.onSuccess()
	if state == StateHalfOpen {
		cb.setState(StateClosed, now)
	}
}

func (cb *Breaker) onFailure(state State, now time.Time) {
	cb.counts.onFailure()

	switch state {
	case StateClosed:
		if cb.config.ReadyToTrip(cb.counts) {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		cb.setState(StateOpen, now)
	}
}

func (cb *Breaker) currentState(now time.Time) (State, time.Time) {
	switch cb.state {
	case StateClosed:
		if !cb.expiry.IsZero() && cb.expiry.Before(now) {
			cb.counts.clear()
			cb.expiry = now.Add(cb.config.Interval)
		}
	case StateOpen:
		if cb.expiry.Before(now) {
			cb.setState(StateHalfOpen, now)
		}
	}
	return cb.state, cb.expiry
}

func (cb *Breaker) setState(state State, now time.Time) {
	if cb.state == state {
		return
	}
	prev := cb.state
	cb.state = state
	cb.counts.clear()

	switch state {
	case StateClosed:
		cb.expiry = now.Add(cb.config.Interval)
	case StateOpen:
		cb.expiry = now.Add(cb.config.Timeout)
	case StateHalfOpen:
		cb.expiry = time.Time{}
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, prev, state)
	}
}

// State returns the breaker's current state, advancing its internal clock
// if a timeout has elapsed.
func (cb *Breaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, _ := cb.currentState(time.Now())
	return state
}

// Counts returns a copy of the breaker's current counts.
func (cb *Breaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset forces the breaker back to closed with empty counts.
func (cb *Breaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.clear()
	cb.setState(StateClosed, time.Now())
}

// Name returns the breaker's name.
func (cb *Breaker) Name() string {
	return cb.name
}

func (c *Counts) onRequest() {
	c.Requests++
	c.LastActivity = time.Now()
}

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *Counts) clear() {
	*c = Counts{}
}

// Manager owns a named set of breakers, one per recovery backend (local
// disk, S3 mirror, ...), created lazily on first use.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
}

// NewManager creates a Manager whose breakers all share config.
func NewManager(config Config) *Manager {
	return &Manager{
		breakers: make(map[string]*Breaker),
		config:   config,
	}
}

// Breaker returns the named breaker, creating it on first use.
func (m *Manager) Breaker(name string) *Breaker {
	m.mu.RLock()
	if b, ok := m.breakers[name]; ok {
		m.mu.RUnlock()
		return b
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[name]; ok {
		return b
	}

	b := New(name, m.config)
	m.breakers[name] = b
	return b
}

// RemoveBreaker drops the named breaker.
func (m *Manager) RemoveBreaker(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.breakers, name)
}

// ResetAll resets every breaker the manager owns.
func (m *Manager) ResetAll() {
	m.mu.RLock()
	breakers := make([]*Breaker, 0, len(m.breakers))
	for _, b := range m.breakers {
		breakers = append(breakers, b)
	}
	m.mu.RUnlock()

	for _, b := range breakers {
		b.Reset()
	}
}

// Stat is a point-in-time snapshot of one breaker.
type Stat struct {
	Name   string `json:"name"`
	State  State  `json:"state"`
	Counts Counts `json:"counts"`
}

// Stats returns a snapshot of every breaker the manager owns.
func (m *Manager) Stats() map[string]Stat {
	m.mu.RLock()
	breakers := make(map[string]*Breaker, len(m.breakers))
	for name, b := range m.breakers {
		breakers[name] = b
	}
	m.mu.RUnlock()

	stats := make(map[string]Stat, len(breakers))
	for name, b := range breakers {
		stats[name] = Stat{Name: name, State: b.State(), Counts: b.Counts()}
	}
	return stats
}

// HealthCheck returns an error naming any breaker currently open.
func (m *Manager) HealthCheck() error {
	var open []string
	for name, stat := range m.Stats() {
		if stat.State == StateOpen {
			open = append(open, name)
		}
	}

	if len(open) > 0 {
		return fabricerr.Newf(fabricerr.ServiceDegraded, "circuit breakers open: %v", open)
	}
	return nil
}
