// Package metrics implements the fabric's Metrics Aggregator: a
// Prometheus registry fed by kernels, the load balancer, the caches and
// the recovery manager, exposed over promhttp and readable synchronously
// via Snapshot for components that need a read without a scrape.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kernelfabric/fabric/pkg/types"
)

// Collector aggregates fabric-wide metrics into a Prometheus registry.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry

	taskCounter       *prometheus.CounterVec
	taskDuration      *prometheus.HistogramVec
	cacheRequestTotal *prometheus.CounterVec
	cacheSizeGauge    *prometheus.GaugeVec
	queueDepthGauge   *prometheus.GaugeVec
	balancerDecisions *prometheus.CounterVec
	recoveryPoints    prometheus.Gauge
	recoverySuccess   prometheus.Counter
	recoveryFailure   prometheus.Counter
	recoveryAvgTime   prometheus.Gauge

	kernels   map[string]*kernelTotals
	lastReset time.Time

	lastRecoverySuccess int64
	lastRecoveryFailure int64

	server *http.Server
}

// Config configures the collector.
type Config struct {
	Enabled        bool              `json:"enabled"`
	Port           int               `json:"port"`
	Path           string            `json:"path"`
	Labels         map[string]string `json:"labels"`
	Namespace      string            `json:"namespace"`
	Subsystem      string            `json:"subsystem"`
	UpdateInterval time.Duration     `json:"update_interval"`
}

// DefaultConfig returns sane collector defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:        true,
		Port:           9110,
		Path:           "/metrics",
		Namespace:      "kernelfabric",
		UpdateInterval: 30 * time.Second,
		Labels:         make(map[string]string),
	}
}

// kernelTotals tracks per-kernel task counters since the collector was
// created or ResetSnapshotCounters last ran.
type kernelTotals struct {
	Count       int64
	TotalTaskNs int64
	Errors      int64
	LastTask    time.Time
}

// NewCollector creates a Collector. A disabled config yields a no-op
// collector so callers never need to nil-check before recording.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	registry := prometheus.NewRegistry()
	c := &Collector{
		config:    config,
		registry:  registry,
		kernels:   make(map[string]*kernelTotals),
		lastReset: time.Now(),
	}

	c.initMetrics()
	if err := c.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register fabric metrics: %w", err)
	}
	return c, nil
}

// Handler returns the promhttp handler for the collector's registry, for
// pkg/api to mount directly rather than the collector running its own
// competing HTTP server.
func (c *Collector) Handler() http.Handler {
	if c.registry == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics disabled", http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Start runs a standalone metrics HTTP server, for deployments that don't
// mount Handler() onto pkg/api's mux.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, c.Handler())

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}

// Stop shuts down the standalone metrics server, if Start was used.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordTask records one completed task's outcome for a kernel, per
// spec.md §4.3's performance-counter feed into KernelMetrics.
func (c *Collector) RecordTask(kernelID string, class types.TaskClass, duration time.Duration, success bool) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	kt, ok := c.kernels[kernelID]
	if !ok {
		kt = &kernelTotals{}
		c.kernels[kernelID] = kt
	}
	kt.Count++
	kt.TotalTaskNs += duration.Nanoseconds()
	kt.LastTask = time.Now()
	if !success {
		kt.Errors++
	}
	c.mu.Unlock()

	status := "success"
	if !success {
		status = "error"
	}
	c.taskCounter.With(prometheus.Labels{"kernel": kernelID, "class": string(class), "status": status}).Inc()
	c.taskDuration.With(prometheus.Labels{"kernel": kernelID, "class": string(class)}).Observe(duration.Seconds())
}

// RecordCacheHit records a cache lookup hit for the named cache tier.
func (c *Collector) RecordCacheHit(cache string) {
	if !c.config.Enabled {
		return
	}
	c.cacheRequestTotal.With(prometheus.Labels{"cache": cache, "result": "hit"}).Inc()
}

// RecordCacheMiss records a cache lookup miss for the named cache tier.
func (c *Collector) RecordCacheMiss(cache string) {
	if !c.config.Enabled {
		return
	}
	c.cacheRequestTotal.With(prometheus.Labels{"cache": cache, "result": "miss"}).Inc()
}

// UpdateCacheSize reports a cache tier's current entry count.
func (c *Collector) UpdateCacheSize(cache string, entries int64) {
	if !c.config.Enabled {
		return
	}
	c.cacheSizeGauge.With(prometheus.Labels{"cache": cache}).Set(float64(entries))
}

// UpdateQueueDepth reports the thread pool's current backlog, the same
// pool counter a kernel's KernelMetrics.Load is derived from.
func (c *Collector) UpdateQueueDepth(pool string, depth int) {
	if !c.config.Enabled {
		return
	}
	c.queueDepthGauge.With(prometheus.Labels{"pool": pool}).Set(float64(depth))
}

// RecordBalancerDecision counts one dispatch decision by the strategy
// that made it, feeding the same counters SPEC_FULL.md §8's
// DecisionCounts exposes locally.
func (c *Collector) RecordBalancerDecision(strategy string) {
	if !c.config.Enabled {
		return
	}
	c.balancerDecisions.With(prometheus.Labels{"strategy": strategy}).Inc()
}

// RecordRecoveryMetrics exports the recovery manager's running counters,
// per spec.md §11's "both queryable directly and exported to the Metrics
// Aggregator."
func (c *Collector) RecordRecoveryMetrics(m types.RecoveryMetrics) {
	if !c.config.Enabled {
		return
	}
	c.recoveryPoints.Set(float64(m.TotalPoints))
	c.recoveryAvgTime.Set(m.AverageRecoveryTime.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()
	if m.SuccessfulRecoveries > c.lastRecoverySuccess {
		c.recoverySuccess.Add(float64(m.SuccessfulRecoveries - c.lastRecoverySuccess))
		c.lastRecoverySuccess = m.SuccessfulRecoveries
	}
	if m.FailedRecoveries > c.lastRecoveryFailure {
		c.recoveryFailure.Add(float64(m.FailedRecoveries - c.lastRecoveryFailure))
		c.lastRecoveryFailure = m.FailedRecoveries
	}
}

// Snapshot returns a point-in-time view of per-kernel task counters for
// components (balancer, health monitor) that need a synchronous read
// rather than scraping the Prometheus endpoint.
func (c *Collector) Snapshot() map[string]KernelSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]KernelSnapshot, len(c.kernels))
	for id, kt := range c.kernels {
		snap := KernelSnapshot{Count: kt.Count, Errors: kt.Errors, LastTask: kt.LastTask}
		if kt.Count > 0 {
			snap.AvgDuration = time.Duration(kt.TotalTaskNs / kt.Count)
		}
		out[id] = snap
	}
	return out
}

// KernelSnapshot is one kernel's task counters as of the last Snapshot call.
type KernelSnapshot struct {
	Count       int64
	Errors      int64
	AvgDuration time.Duration
	LastTask    time.Time
}

// ResetSnapshotCounters clears the in-process kernel task totals; the
// Prometheus counters themselves are cumulative and untouched.
func (c *Collector) ResetSnapshotCounters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kernels = make(map[string]*kernelTotals)
	c.lastReset = time.Now()
}

func (c *Collector) initMetrics() {
	c.taskCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.config.Namespace, Subsystem: c.config.Subsystem,
		Name: "tasks_total", Help: "Total number of kernel tasks processed.",
	}, []string{"kernel", "class", "status"})

	c.taskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: c.config.Namespace, Subsystem: c.config.Subsystem,
		Name: "task_duration_seconds", Help: "Kernel task duration in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 20),
	}, []string{"kernel", "class"})

	c.cacheRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.config.Namespace, Subsystem: c.config.Subsystem,
		Name: "cache_requests_total", Help: "Cache lookups by hit/miss.",
	}, []string{"cache", "result"})

	c.cacheSizeGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: c.config.Namespace, Subsystem: c.config.Subsystem,
		Name: "cache_entries", Help: "Current entry count per cache tier.",
	}, []string{"cache"})

	c.queueDepthGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: c.config.Namespace, Subsystem: c.config.Subsystem,
		Name: "pool_queue_depth", Help: "Thread pool backlog depth.",
	}, []string{"pool"})

	c.balancerDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.config.Namespace, Subsystem: c.config.Subsystem,
		Name: "balancer_decisions_total", Help: "Dispatch decisions by strategy.",
	}, []string{"strategy"})

	c.recoveryPoints = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: c.config.Namespace, Subsystem: c.config.Subsystem,
		Name: "recovery_points", Help: "Recovery points found at startup plus those created since; eviction does not lower it.",
	})
	c.recoverySuccess = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: c.config.Namespace, Subsystem: c.config.Subsystem,
		Name: "recovery_success_total", Help: "Successful checkpoint restores.",
	})
	c.recoveryFailure = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: c.config.Namespace, Subsystem: c.config.Subsystem,
		Name: "recovery_failure_total", Help: "Failed checkpoint restores.",
	})
	c.recoveryAvgTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: c.config.Namespace, Subsystem: c.config.Subsystem,
		Name: "recovery_avg_restore_seconds", Help: "EWMA of recovery restore time.",
	})
}

func (c *Collector) registerMetrics() error {
	collectors := []prometheus.Collector{
		c.taskCounter, c.taskDuration, c.cacheRequestTotal, c.cacheSizeGauge,
		c.queueDepthGauge, c.balancerDecisions, c.recoveryPoints,
		c.recoverySuccess, c.recoveryFailure, c.recoveryAvgTime,
	}
	for _, m := range collectors {
		if err := c.registry.Register(m); err != nil {
			return err
		}
	}
	return nil
}
