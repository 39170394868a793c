// Package memmon samples Go runtime memory statistics on an interval and
// raises alerts on memory growth, goroutine growth, GC pressure and heap
// fragmentation. It is standalone: kernels take MemoryUsage and
// EnergyConsumption from the samples passed to UpdateMetrics, not from
// this package, and no other fabric component reads its alerts.
package memmon

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kernelfabric/fabric/pkg/logging"
)

// Config configures a Monitor.
type Config struct {
	// SampleInterval is how often to collect a memory sample.
	SampleInterval time.Duration

	// AlertThreshold is the percentage of memory growth that triggers an alert.
	AlertThreshold float64

	// MaxSamples bounds how much sample history is retained.
	MaxSamples int

	// EnableGCStats enables GC-pressure alerting.
	EnableGCStats bool

	// GCPercentage sets GOGC (0 leaves the runtime default in place).
	GCPercentage int

	Logger *logging.Logger
}

// DefaultConfig returns the monitor configuration the fabric starts with.
func DefaultConfig() Config {
	return Config{
		SampleInterval: 30 * time.Second,
		AlertThreshold: 20.0,
		MaxSamples:     100,
		EnableGCStats:  true,
		GCPercentage:   100,
	}
}

// Monitor samples runtime memory usage and raises alerts on growth,
// goroutine leaks, GC pressure, and heap fragmentation.
type Monitor struct {
	config Config
	logger *logging.Logger

	mu             sync.RWMutex
	samples        []Sample
	baselineSet    bool
	baselineSample Sample
	currentSample  Sample
	alerts         []Alert

	stopCh chan struct{}
	wg     sync.WaitGroup
	active int32
}

// Sample is one point-in-time reading of runtime.MemStats plus goroutine count.
type Sample struct {
	Timestamp     time.Time
	Alloc         uint64
	TotalAlloc    uint64
	Sys           uint64
	NumGC         uint32
	NumGoroutine  int
	HeapAlloc     uint64
	HeapSys       uint64
	HeapIdle      uint64
	HeapInuse     uint64
	StackInuse    uint64
	MSpanInuse    uint64
	MCacheInuse   uint64
	GCCPUFraction float64
	PauseTotalNs  uint64
}

// Alert is raised when a sample crosses one of the monitor's thresholds.
type Alert struct {
	Timestamp   time.Time
	Type        AlertType
	Message     string
	CurrentMem  uint64
	BaselineMem uint64
	GrowthPct   float64
}

// AlertType categorizes an Alert.
type AlertType int

const (
	AlertMemoryGrowth AlertType = iota
	AlertGoroutineLeak
	AlertGCPressure
	AlertHeapFragmentation
)

// String returns the alert type's name.
func (t AlertType) String() string {
	switch t {
	case AlertMemoryGrowth:
		return "memory_growth"
	case AlertGoroutineLeak:
		return "goroutine_leak"
	case AlertGCPressure:
		return "gc_pressure"
	case AlertHeapFragmentation:
		return "heap_fragmentation"
	default:
		return "unknown"
	}
}

// New creates a Monitor. A nil logger (or one omitted from Config) falls
// back to a plain stdout logger at INFO level.
func New(config Config) *Monitor {
	if config.Logger == nil {
		logger, _ := logging.New(logging.DefaultConfig())
		config.Logger = logger
	}

	if config.GCPercentage > 0 {
		debug.SetGCPercent(config.GCPercentage)
	}

	return &Monitor{
		config: config,
		logger: config.Logger.WithComponent("memmon"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the sampling loop. It returns an error if already running.
func (mm *Monitor) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&mm.active, 0, 1) {
		return fmt.Errorf("monitor already running")
	}

	mm.logger.Info("starting memory monitor", map[string]interface{}{
		"sample_interval": mm.config.SampleInterval,
		"alert_threshold": mm.config.AlertThreshold,
	})

	mm.wg.Add(1)
	go mm.loop(ctx)
	return nil
}

// Stop halts the sampling loop and waits for it to exit.
func (mm *Monitor) Stop() error {
	if !atomic.CompareAndSwapInt32(&mm.active, 1, 0) {
		return nil
	}

	mm.logger.Info("stopping memory monitor")
	close(mm.stopCh)
	mm.wg.Wait()
	return nil
}

func (mm *Monitor) loop(ctx context.Context) {
	defer mm.wg.Done()

	ticker := time.NewTicker(mm.config.SampleInterval)
	defer ticker.Stop()

	mm.takeSample()

	for {
		select {
		case <-ctx.Done():
			return
		case <-mm.stopCh:
			return
		case <-ticker.C:
			mm.takeSample()
			mm.analyze()
		}
	}
}

func (mm *Monitor) takeSample() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	sample := Sample{
		Timestamp:     time.Now(),
		Alloc:         ms.Alloc,
		TotalAlloc:    ms.TotalAlloc,
		Sys:           ms.Sys,
		NumGC:         ms.NumGC,
		NumGoroutine:  runtime.NumGoroutine(),
		HeapAlloc:     ms.HeapAlloc,
		HeapSys:       ms.HeapSys,
		HeapIdle:      ms.HeapIdle,
		HeapInuse:     ms.HeapInuse,
		StackInuse:    ms.StackInuse,
		MSpanInuse:    ms.MSpanInuse,
		MCacheInuse:   ms.MCacheInuse,
		GCCPUFraction: ms.GCCPUFraction,
		PauseTotalNs:  ms.PauseTotalNs,
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()

	if !mm.baselineSet {
		mm.baselineSample = sample
		mm.baselineSet = true
	}
	mm.currentSample = sample

	mm.samples = append(mm.samples, sample)
	if len(mm.samples) > mm.config.MaxSamples {
		mm.samples = mm.samples[1:]
	}
}

func (mm *Monitor) analyze() {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	if !mm.baselineSet || len(mm.samples) < 2 {
		return
	}

	baseline := mm.baselineSample
	current := mm.currentSample

	if baseline.Alloc > 0 {
		growthPct := (float64(current.Alloc) - float64(baseline.Alloc)) / float64(baseline.Alloc) * 100
		if growthPct > mm.config.AlertThreshold {
			mm.raise(AlertMemoryGrowth, fmt.Sprintf(
				"memory usage increased by %.2f%% (from %d to %d bytes)", growthPct, baseline.Alloc, current.Alloc,
			), current.Alloc, baseline.Alloc, growthPct)
		}
	}

	if baseline.NumGoroutine > 0 {
		goroutineGrowthPct := (float64(current.NumGoroutine) - float64(baseline.NumGoroutine)) / float64(baseline.NumGoroutine) * 100
		if goroutineGrowthPct > 50 {
			mm.raise(AlertGoroutineLeak, fmt.Sprintf(
				"goroutine count increased by %.2f%% (from %d to %d)", goroutineGrowthPct, baseline.NumGoroutine, current.NumGoroutine,
			), uint64(current.NumGoroutine), uint64(baseline.NumGoroutine), goroutineGrowthPct)
		}
	}

	if mm.config.EnableGCStats && current.GCCPUFraction > 0.05 {
		mm.raise(AlertGCPressure, fmt.Sprintf(
			"GC using %.2f%% of CPU time (threshold 5%%)", current.GCCPUFraction*100,
		), uint64(current.GCCPUFraction*100), 5, current.GCCPUFraction*100)
	}

	if current.HeapSys > 0 {
		idlePct := float64(current.HeapIdle) / float64(current.HeapSys) * 100
		if idlePct > 50 {
			mm.raise(AlertHeapFragmentation, fmt.Sprintf(
				"heap fragmentation detected: %.2f%% idle (of %d bytes total)", idlePct, current.HeapSys,
			), current.HeapIdle, current.HeapSys, idlePct)
		}
	}
}

// raise must be called with mm.mu held.
func (mm *Monitor) raise(t AlertType, message string, current, baseline uint64, growthPct float64) {
	alert := Alert{
		Timestamp:   time.Now(),
		Type:        t,
		Message:     message,
		CurrentMem:  current,
		BaselineMem: baseline,
		GrowthPct:   growthPct,
	}
	mm.alerts = append(mm.alerts, alert)

	mm.logger.Warn("memory alert", map[string]interface{}{
		"type":       t.String(),
		"message":    message,
		"current":    current,
		"baseline":   baseline,
		"growth_pct": growthPct,
	})
}

// Stats is the monitor's point-in-time summary.
type Stats struct {
	Current             Sample
	Baseline            Sample
	SampleCount         int
	AlertCount          int
	GrowthSinceBaseline float64
}

// Stats returns the monitor's current summary.
func (mm *Monitor) Stats() Stats {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	stats := Stats{
		Current:     mm.currentSample,
		Baseline:    mm.baselineSample,
		SampleCount: len(mm.samples),
		AlertCount:  len(mm.alerts),
	}

	if mm.baselineSet && mm.baselineSample.Alloc > 0 {
		stats.GrowthSinceBaseline = (float64(mm.currentSample.Alloc) - float64(mm.baselineSample.Alloc)) / float64(mm.baselineSample.Alloc) * 100
	}

	return stats
}

// Alerts returns a copy of every alert raised so far.
func (mm *Monitor) Alerts() []Alert {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	alerts := make([]Alert, len(mm.alerts))
	copy(alerts, mm.alerts)
	return alerts
}

// CurrentSample returns the most recent sample taken.
func (mm *Monitor) CurrentSample() Sample {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.currentSample
}

// ForceGC runs a GC cycle immediately and re-samples.
func (mm *Monitor) ForceGC() {
	mm.logger.Info("forcing garbage collection")
	runtime.GC()
	mm.takeSample()
}

// ResetBaseline resets the growth baseline to the most recent sample.
func (mm *Monitor) ResetBaseline() {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	mm.baselineSample = mm.currentSample
	mm.logger.Info("baseline reset", map[string]interface{}{
		"alloc":         mm.baselineSample.Alloc,
		"num_goroutine": mm.baselineSample.NumGoroutine,
	})
}

// ClearAlerts discards all recorded alerts.
func (mm *Monitor) ClearAlerts() {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.alerts = nil
}
