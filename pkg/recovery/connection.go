package recovery

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kernelfabric/fabric/pkg/fabricerr"
	"github.com/kernelfabric/fabric/pkg/logging"
)

// ConnState is the state of a connection managed by a ConnectionManager.
// The recovery manager's S3 mirror store does not use ConnectionManager.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

// String returns the state's name.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ConnectionConfig configures a ConnectionManager's reconnect and
// health-check behavior.
type ConnectionConfig struct {
	ConnectionTimeout          time.Duration
	ReconnectDelay             time.Duration
	MaxReconnectDelay          time.Duration
	ReconnectBackoffMultiplier float64
	MaxReconnectAttempts       int
	HealthCheckInterval        time.Duration
	HealthCheckTimeout         time.Duration
	EnableAutoReconnect        bool
	Logger                     *logging.Logger
}

// DefaultConnectionConfig returns the default connection policy for a
// ConnectionManager or ConnectionPool.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		ConnectionTimeout:          30 * time.Second,
		ReconnectDelay:             1 * time.Second,
		MaxReconnectDelay:          60 * time.Second,
		ReconnectBackoffMultiplier: 2.0,
		MaxReconnectAttempts:       10,
		HealthCheckInterval:        30 * time.Second,
		HealthCheckTimeout:         5 * time.Second,
		EnableAutoReconnect:        true,
	}
}

// ConnFactory creates a new underlying connection (e.g. an S3 client).
type ConnFactory func(ctx context.Context) (interface{}, error)

// ConnHealthChecker probes an existing connection for liveness.
type ConnHealthChecker func(ctx context.Context, conn interface{}) error

// ConnectionManager owns one connection's lifecycle: initial connect,
// periodic health checks, and automatic reconnection with backoff.
type ConnectionManager struct {
	name    string
	config  ConnectionConfig
	factory ConnFactory
	health  ConnHealthChecker
	logger  *logging.Logger

	mu               sync.RWMutex
	state            ConnState
	connection       interface{}
	connectedAt      time.Time
	lastError        error
	reconnectAttempt int32
	reconnectDelay   time.Duration

	shutdownCh chan struct{}
	shutdownWg sync.WaitGroup
	shutdown   int32
}

// ConnectionStats is a point-in-time snapshot of a managed connection.
type ConnectionStats struct {
	Name             string        `json:"name"`
	State            ConnState     `json:"state"`
	Connected        bool          `json:"connected"`
	ConnectedAt      *time.Time    `json:"connected_at,omitempty"`
	Uptime           time.Duration `json:"uptime"`
	ReconnectAttempt int           `json:"reconnect_attempt"`
	LastError        string        `json:"last_error,omitempty"`
}

// NewConnectionManager creates a ConnectionManager for name, using factory
// to establish connections and health (if non-nil) to probe them.
func NewConnectionManager(name string, config ConnectionConfig, factory ConnFactory, health ConnHealthChecker) *ConnectionManager {
	if config.Logger == nil {
		logger, _ := logging.New(logging.DefaultConfig())
		config.Logger = logger
	}

	return &ConnectionManager{
		name:           name,
		config:         config,
		factory:        factory,
		health:         health,
		logger:         config.Logger.WithComponent("recovery.connection"),
		state:          StateDisconnected,
		reconnectDelay: config.ReconnectDelay,
		shutdownCh:     make(chan struct{}),
	}
}

// Connect establishes the initial connection, scheduling automatic
// reconnection on failure if configured to do so.
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	if cm.state == StateConnected {
		cm.mu.Unlock()
		return nil
	}
	if atomic.LoadInt32(&cm.shutdown) == 1 {
		cm.mu.Unlock()
		return fabricerr.New(fabricerr.ShutdownInProgress, "connection manager is shutting down").WithComponent(cm.name)
	}
	cm.state = StateConnecting
	cm.mu.Unlock()

	cm.logger.Info("establishing connection", map[string]interface{}{"name": cm.name})

	connCtx, cancel := context.WithTimeout(ctx, cm.config.ConnectionTimeout)
	defer cancel()

	conn, err := cm.factory(connCtx)
	if err != nil {
		cm.mu.Lock()
		cm.state = StateDisconnected
		cm.lastError = err
		cm.mu.Unlock()

		cm.logger.Error("connection failed", map[string]interface{}{"name": cm.name, "error": err.Error()})

		if cm.config.EnableAutoReconnect {
			cm.scheduleReconnect()
		}

		return fabricerr.New(fabricerr.IoFailure, "failed to establish connection").
			WithComponent(cm.name).WithCause(err)
	}

	cm.mu.Lock()
	cm.connection = conn
	cm.state = StateConnected
	cm.connectedAt = time.Now()
	cm.lastError = nil
	atomic.StoreInt32(&cm.reconnectAttempt, 0)
	cm.reconnectDelay = cm.config.ReconnectDelay
	cm.mu.Unlock()

	cm.logger.Info("connection established", map[string]interface{}{"name": cm.name})

	if cm.config.HealthCheckInterval > 0 && cm.health != nil {
		cm.shutdownWg.Add(1)
		go cm.healthCheckLoop()
	}

	return nil
}

// GetConnection returns the current connection, or an error if not connected.
func (cm *ConnectionManager) GetConnection() (interface{}, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.state != StateConnected {
		return nil, fabricerr.New(fabricerr.IoFailure, "not connected").
			WithComponent(cm.name).WithContext("state", cm.state.String())
	}
	return cm.connection, nil
}

// IsConnected reports whether the manager currently holds a live connection.
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.state == StateConnected
}

// State returns the manager's current connection state.
func (cm *ConnectionManager) State() ConnState {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.state
}

// Stats returns a snapshot of the connection's current status.
func (cm *ConnectionManager) Stats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		Name:             cm.name,
		State:            cm.state,
		Connected:        cm.state == StateConnected,
		ReconnectAttempt: int(atomic.LoadInt32(&cm.reconnectAttempt)),
	}

	if !cm.connectedAt.IsZero() {
		stats.ConnectedAt = &cm.connectedAt
		if cm.state == StateConnected {
			stats.Uptime = time.Since(cm.connectedAt)
		}
	}
	if cm.lastError != nil {
		stats.LastError = cm.lastError.Error()
	}

	return stats
}

// Reconnect tears down the current connection and reconnects.
func (cm *ConnectionManager) Reconnect(ctx context.Context) error {
	cm.logger.Info("manual reconnection triggered", map[string]interface{}{"name": cm.name})

	cm.mu.Lock()
	cm.closeConnection()
	cm.state = StateDisconnected
	cm.mu.Unlock()

	return cm.Connect(ctx)
}

func (cm *ConnectionManager) scheduleReconnect() {
	attempt := atomic.AddInt32(&cm.reconnectAttempt, 1)

	if cm.config.MaxReconnectAttempts > 0 && int(attempt) > cm.config.MaxReconnectAttempts {
		cm.mu.Lock()
		cm.state = StateFailed
		cm.mu.Unlock()

		cm.logger.Error("maximum reconnection attempts exceeded", map[string]interface{}{
			"name": cm.name, "attempts": attempt,
		})
		return
	}

	cm.mu.Lock()
	delay := cm.reconnectDelay
	cm.reconnectDelay = time.Duration(float64(cm.reconnectDelay) * cm.config.ReconnectBackoffMultiplier)
	if cm.reconnectDelay > cm.config.MaxReconnectDelay {
		cm.reconnectDelay = cm.config.MaxReconnectDelay
	}
	cm.mu.Unlock()

	cm.logger.Info("scheduling reconnection", map[string]interface{}{
		"name": cm.name, "attempt": attempt, "delay": delay,
	})

	cm.shutdownWg.Add(1)
	go func() {
		defer cm.shutdownWg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
			if atomic.LoadInt32(&cm.shutdown) == 1 {
				return
			}

			cm.mu.Lock()
			cm.state = StateReconnecting
			cm.mu.Unlock()

			ctx, cancel := context.WithTimeout(context.Background(), cm.config.ConnectionTimeout)
			err := cm.Connect(ctx)
			cancel()

			if err != nil {
				cm.logger.Warn("reconnection attempt failed", map[string]interface{}{
					"name": cm.name, "attempt": attempt, "error": err.Error(),
				})
			}

		case <-cm.shutdownCh:
			return
		}
	}()
}

func (cm *ConnectionManager) healthCheckLoop() {
	defer cm.shutdownWg.Done()

	ticker := time.NewTicker(cm.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if atomic.LoadInt32(&cm.shutdown) == 1 {
				return
			}
			cm.performHealthCheck()
		case <-cm.shutdownCh:
			return
		}
	}
}

func (cm *ConnectionManager) performHealthCheck() {
	cm.mu.RLock()
	if cm.state != StateConnected || cm.connection == nil {
		cm.mu.RUnlock()
		return
	}
	conn := cm.connection
	cm.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), cm.config.HealthCheckTimeout)
	defer cancel()

	if err := cm.health(ctx, conn); err != nil {
		cm.logger.Warn("health check failed", map[string]interface{}{"name": cm.name, "error": err.Error()})

		cm.mu.Lock()
		cm.lastError = err
		cm.closeConnection()
		cm.state = StateDisconnected
		cm.mu.Unlock()

		if cm.config.EnableAutoReconnect {
			cm.scheduleReconnect()
		}
	}
}

// closeConnection must be called with cm.mu held.
func (cm *ConnectionManager) closeConnection() {
	if cm.connection == nil {
		return
	}
	if closer, ok := cm.connection.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			cm.logger.Warn("error closing connection", map[string]interface{}{"name": cm.name, "error": err.Error()})
		}
	}
	cm.connection = nil
}

// Close shuts down the manager and stops any reconnection attempts.
func (cm *ConnectionManager) Close() error {
	if !atomic.CompareAndSwapInt32(&cm.shutdown, 0, 1) {
		return nil
	}

	cm.logger.Info("closing connection manager", map[string]interface{}{"name": cm.name})
	close(cm.shutdownCh)

	cm.mu.Lock()
	cm.closeConnection()
	cm.state = StateDisconnected
	cm.mu.Unlock()

	cm.shutdownWg.Wait()
	cm.logger.Info("connection manager closed", map[string]interface{}{"name": cm.name})
	return nil
}

// Wait blocks until the connection reaches StateConnected, fails
// permanently, or ctx is done.
func (cm *ConnectionManager) Wait(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cm.mu.RLock()
			state := cm.state
			cm.mu.RUnlock()

			switch state {
			case StateConnected:
				return nil
			case StateFailed:
				return fabricerr.New(fabricerr.IoFailure, "connection failed permanently").WithComponent(cm.name)
			}
		}
	}
}

// ConnectionPool manages a set of equivalent connections with round-robin
// selection and failover to the next healthy member.
type ConnectionPool struct {
	name      string
	managers  []*ConnectionManager
	nextIndex uint32
	logger    *logging.Logger
}

// NewConnectionPool creates a pool of size independent connections, each
// built and health-checked the same way.
func NewConnectionPool(name string, size int, config ConnectionConfig, factory ConnFactory, health ConnHealthChecker) *ConnectionPool {
	if config.Logger == nil {
		logger, _ := logging.New(logging.DefaultConfig())
		config.Logger = logger
	}

	managers := make([]*ConnectionManager, size)
	for i := 0; i < size; i++ {
		managers[i] = NewConnectionManager(fmt.Sprintf("%s-%d", name, i), config, factory, health)
	}

	return &ConnectionPool{name: name, managers: managers, logger: config.Logger}
}

// ConnectAll connects every member of the pool, returning the first error
// encountered if any connection failed.
func (cp *ConnectionPool) ConnectAll(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(cp.managers))

	for _, mgr := range cp.managers {
		wg.Add(1)
		go func(m *ConnectionManager) {
			defer wg.Done()
			if err := m.Connect(ctx); err != nil {
				errCh <- err
			}
		}(mgr)
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to connect %d out of %d connections: %w", len(errs), len(cp.managers), errs[0])
	}
	return nil
}

// GetConnection returns the next available connection, round-robin with
// failover to any other healthy member.
func (cp *ConnectionPool) GetConnection() (interface{}, error) {
	index := atomic.AddUint32(&cp.nextIndex, 1) % uint32(len(cp.managers))
	if conn, err := cp.managers[index].GetConnection(); err == nil {
		return conn, nil
	}

	for i := range cp.managers {
		if conn, err := cp.managers[i].GetConnection(); err == nil {
			return conn, nil
		}
	}

	return nil, fabricerr.New(fabricerr.IoFailure, "no healthy connections available").WithComponent(cp.name)
}

// Stats returns a snapshot of every connection in the pool.
func (cp *ConnectionPool) Stats() []ConnectionStats {
	stats := make([]ConnectionStats, len(cp.managers))
	for i, mgr := range cp.managers {
		stats[i] = mgr.Stats()
	}
	return stats
}

// Close closes every connection in the pool.
func (cp *ConnectionPool) Close() error {
	var errs []error
	for _, mgr := range cp.managers {
		if err := mgr.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing %d connections: %w", len(errs), errs[0])
	}
	return nil
}

// HealthyCount returns how many pool members are currently connected.
func (cp *ConnectionPool) HealthyCount() int {
	count := 0
	for _, mgr := range cp.managers {
		if mgr.IsConnected() {
			count++
		}
	}
	return count
}
