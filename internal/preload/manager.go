// Package preload implements the predictive preload manager: a bounded
// job queue a single background worker drains, deriving each key's
// payload deterministically, tracking which keys have been seen for
// predict_next_access, and feeding an access-pattern tracker a kernel's
// warm cache tier can consult when deciding eviction order.
//
// Grounded on the teacher's internal/cache.PredictiveCache access-pattern
// tracker (AccessPredictor/AccessPattern), narrowed from its ML-model
// prefetch-prediction machinery down to the simple seen-before predicate
// this fabric's contract calls for.
package preload

import (
	"crypto/sha256"
	"sync"
	"time"

	"github.com/kernelfabric/fabric/pkg/fabricerr"
	"github.com/kernelfabric/fabric/pkg/logging"
	"github.com/kernelfabric/fabric/pkg/types"
)

// Task is one queued preload request.
type Task struct {
	Key      string
	Value    []byte
	Priority float64
}

// Config configures a Manager.
type Config struct {
	MaxQueueSize       int
	PredictionThreshold float64
}

// DefaultConfig returns the configuration the fabric starts a preload
// manager with.
func DefaultConfig() Config {
	return Config{MaxQueueSize: 1000, PredictionThreshold: 0.6}
}

// Manager is the predictive preload manager.
type Manager struct {
	config Config
	logger *logging.Logger

	queueCh chan Task

	mu            sync.Mutex
	queued        map[string][]byte
	accessHistory map[string]*types.AccessPattern

	predictionsTotal   int64
	predictionsCorrect int64

	cancel chan struct{}
	done   chan struct{}
}

// New creates a Manager and starts its background worker.
func New(config Config, logger *logging.Logger) *Manager {
	if logger == nil {
		logger, _ = logging.New(logging.DefaultConfig())
	}
	if config.MaxQueueSize <= 0 {
		config.MaxQueueSize = DefaultConfig().MaxQueueSize
	}

	m := &Manager{
		config:        config,
		logger:        logger.WithComponent("preload"),
		queueCh:       make(chan Task, config.MaxQueueSize),
		queued:        make(map[string][]byte),
		accessHistory: make(map[string]*types.AccessPattern),
		cancel:        make(chan struct{}),
		done:          make(chan struct{}),
	}

	go m.worker()
	return m
}

// PreloadData enqueues key/value at priority 1.0, returning QueueFull when
// the bounded queue is saturated.
func (m *Manager) PreloadData(key string, value []byte) error {
	return m.AddData(key, value)
}

// AddData enqueues key/value at priority 1.0, returning QueueFull when the
// bounded queue is saturated.
func (m *Manager) AddData(key string, value []byte) error {
	m.mu.Lock()
	m.queued[key] = value
	m.mu.Unlock()

	select {
	case m.queueCh <- Task{Key: key, Value: value, Priority: 1.0}:
		return nil
	default:
		m.mu.Lock()
		delete(m.queued, key)
		m.mu.Unlock()
		return fabricerr.New(fabricerr.QueueFull, "preload queue is full")
	}
}

func (m *Manager) worker() {
	defer close(m.done)
	for {
		select {
		case <-m.cancel:
			return
		case task := <-m.queueCh:
			m.process(task)
		}
	}
}

func (m *Manager) process(task Task) {
	payload := m.LoadData(task.Key)
	if task.Value != nil {
		payload = task.Value
	}

	m.mu.Lock()
	delete(m.queued, task.Key)
	m.recordAccessLocked(task.Key)
	m.mu.Unlock()

	m.logger.Debug("preload task processed", map[string]interface{}{"key": task.Key, "bytes": len(payload)})
}

// LoadData produces the payload for key: synthetic bytes deterministically
// derived from sha256(key), matching this fabric's reference contract for
// keys with no explicit value.
func (m *Manager) LoadData(key string) []byte {
	sum := sha256.Sum256([]byte(key))
	return sum[:]
}

// RecordAccess marks key as seen for PredictNextAccess, independent of the
// preload queue.
func (m *Manager) RecordAccess(key string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordAccessLocked(key)
}

func (m *Manager) recordAccessLocked(key string) {
	p, exists := m.accessHistory[key]
	if !exists {
		p = &types.AccessPattern{Key: key}
		m.accessHistory[key] = p
	}
	p.Frequency++
	p.AccessTimes = append(p.AccessTimes, time.Now())
	if len(p.AccessTimes) > 32 {
		p.AccessTimes = p.AccessTimes[len(p.AccessTimes)-32:]
	}
	p.RecencyScore = 1.0
	p.Confidence = recencyFrequencyConfidence(p)
}

func recencyFrequencyConfidence(p *types.AccessPattern) float64 {
	score := float64(p.Frequency) / float64(p.Frequency+4)
	if score > 1 {
		score = 1
	}
	return score
}

// PredictNextAccess reports whether key has been seen before, advancing
// the manager's prediction accuracy counters.
func (m *Manager) PredictNextAccess(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, seen := m.accessHistory[key]
	m.predictionsTotal++
	if seen {
		m.predictionsCorrect++
	}
	return seen
}

// PriorityForKey returns the learned access pattern's confidence score for
// key, used by a kernel's warm cache tier to rank eviction candidates.
func (m *Manager) PriorityForKey(key string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, exists := m.accessHistory[key]
	if !exists {
		return 0
	}
	return p.Confidence
}

// GetAllKeys returns the union of currently queued keys and access history.
func (m *Manager) GetAllKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{}, len(m.queued)+len(m.accessHistory))
	for k := range m.queued {
		seen[k] = struct{}{}
	}
	for k := range m.accessHistory {
		seen[k] = struct{}{}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	return keys
}

// GetDataForKey returns the queued payload for key if still pending,
// otherwise falls back to LoadData.
func (m *Manager) GetDataForKey(key string) []byte {
	m.mu.Lock()
	if v, ok := m.queued[key]; ok {
		m.mu.Unlock()
		return v
	}
	m.mu.Unlock()
	return m.LoadData(key)
}

// PredictionAccuracy reports the fraction of PredictNextAccess calls that
// found the key already in history.
func (m *Manager) PredictionAccuracy() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.predictionsTotal == 0 {
		return 0
	}
	return float64(m.predictionsCorrect) / float64(m.predictionsTotal)
}

// Close stops the background worker.
func (m *Manager) Close() {
	close(m.cancel)
	<-m.done
}

var _ types.AccessPredictor = (*Manager)(nil)
