package memmon

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"time"
)

// Profiler writes pprof heap/goroutine dumps on demand; nothing else in
// the fabric calls it.
type Profiler struct {
	outputDir string
}

// NewProfiler creates a Profiler rooted at outputDir, creating it if needed.
func NewProfiler(outputDir string) *Profiler {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "memmon: failed to create profile directory: %v\n", err)
	}
	return &Profiler{outputDir: outputDir}
}

// WriteHeapProfile forces a GC and writes a heap profile to disk.
func (p *Profiler) WriteHeapProfile(filename string) error {
	if filename == "" {
		filename = fmt.Sprintf("heap_%d.prof", time.Now().Unix())
	}

	f, err := os.Create(filepath.Join(p.outputDir, filename))
	if err != nil {
		return fmt.Errorf("create heap profile: %w", err)
	}
	defer func() { _ = f.Close() }()

	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("write heap profile: %w", err)
	}
	return nil
}

// WriteGoroutineProfile writes the current goroutine stacks to disk.
func (p *Profiler) WriteGoroutineProfile(filename string) error {
	if filename == "" {
		filename = fmt.Sprintf("goroutine_%d.prof", time.Now().Unix())
	}

	f, err := os.Create(filepath.Join(p.outputDir, filename))
	if err != nil {
		return fmt.Errorf("create goroutine profile: %w", err)
	}
	defer func() { _ = f.Close() }()

	profile := pprof.Lookup("goroutine")
	if profile == nil {
		return fmt.Errorf("goroutine profile not found")
	}
	if err := profile.WriteTo(f, 2); err != nil {
		return fmt.Errorf("write goroutine profile: %w", err)
	}
	return nil
}

// ProfileMemoryUsage samples memory usage at interval for duration.
func (p *Profiler) ProfileMemoryUsage(duration, interval time.Duration) []Sample {
	var samples []Sample
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)

		samples = append(samples, Sample{
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
			GCCPUFraction: ms.GCCPUFraction,
		})

		<-ticker.C
	}

	return samples
}

// LeakDetection describes one suspected leak found by DetectLeaks.
type LeakDetection struct {
	Kind        string
	Description string
	StartValue  uint64
	EndValue    uint64
	GrowthPct   float64
}

// DetectLeaks compares the first and last sample in samples against
// threshold, flagging memory growth, goroutine growth, and heap
// fragmentation.
func (p *Profiler) DetectLeaks(samples []Sample, threshold float64) []LeakDetection {
	if len(samples) < 2 {
		return nil
	}

	baseline := samples[0]
	final := samples[len(samples)-1]
	var detections []LeakDetection

	if baseline.Alloc > 0 {
		growthPct := (float64(final.Alloc) - float64(baseline.Alloc)) / float64(baseline.Alloc) * 100
		if growthPct > threshold {
			detections = append(detections, LeakDetection{
				Kind:        "memory_growth",
				Description: fmt.Sprintf("memory grew by %.2f%% (from %d to %d bytes)", growthPct, baseline.Alloc, final.Alloc),
				StartValue:  baseline.Alloc,
				EndValue:    final.Alloc,
				GrowthPct:   growthPct,
			})
		}
	}

	if baseline.NumGoroutine > 0 {
		growthPct := (float64(final.NumGoroutine) - float64(baseline.NumGoroutine)) / float64(baseline.NumGoroutine) * 100
		if growthPct > threshold {
			detections = append(detections, LeakDetection{
				Kind:        "goroutine_leak",
				Description: fmt.Sprintf("goroutines grew by %.2f%% (from %d to %d)", growthPct, baseline.NumGoroutine, final.NumGoroutine),
				StartValue:  uint64(baseline.NumGoroutine),
				EndValue:    uint64(final.NumGoroutine),
				GrowthPct:   growthPct,
			})
		}
	}

	if final.HeapSys > 0 {
		idlePct := float64(final.HeapIdle) / float64(final.HeapSys) * 100
		if idlePct > 50 {
			detections = append(detections, LeakDetection{
				Kind:        "heap_fragmentation",
				Description: fmt.Sprintf("heap fragmentation detected: %.2f%% idle", idlePct),
				StartValue:  baseline.HeapIdle,
				EndValue:    final.HeapIdle,
				GrowthPct:   idlePct,
			})
		}
	}

	return detections
}
