// Package types holds the data shapes shared across the kernel dispatch
// fabric's components — tasks, metrics, cache statistics, recovery and
// preload records — so that cache, kernel, balancer, recovery, and metrics
// packages agree on a single vocabulary without importing each other.
package types

import "time"

// TaskClass categorizes a task by the resource it stresses most, driving
// both the balancer's workload score and a kernel's per-class efficiency.
type TaskClass string

const (
	TaskCPU     TaskClass = "CPU"
	TaskIO      TaskClass = "IO"
	TaskMemory  TaskClass = "MEMORY"
	TaskNetwork TaskClass = "NETWORK"
	TaskMixed   TaskClass = "MIXED"
)

// DefaultPriority is the priority assigned to a task when the caller omits one.
const DefaultPriority = 5

// TaskDescriptor is the immutable record of a unit of work accepted by the
// orchestrator. It is created once, never mutated after enqueue, and is
// discarded when its worker closure completes or is dropped on cancellation.
type TaskDescriptor struct {
	ID                uint64    `json:"id"`
	Payload           []byte    `json:"payload"`
	Priority          int       `json:"priority"`
	EnqueuedAt        time.Time `json:"enqueued_at"`
	Class             TaskClass `json:"class"`
	EstimatedMemory   int64     `json:"estimated_memory_bytes"`
	EstimatedCPUTime  float64   `json:"estimated_cpu_time"`
}

// KernelMetrics is the numeric snapshot a kernel produces on demand and the
// balancer consumes; it is never persisted.
type KernelMetrics struct {
	Load               float64 `json:"load"`
	Latency            float64 `json:"latency"`
	CacheEfficiency    float64 `json:"cache_efficiency"`
	TunnelBandwidth    float64 `json:"tunnel_bandwidth"`
	ActiveTasks        int64   `json:"active_tasks"`

	CPUUsage           float64 `json:"cpu_usage"`
	MemoryUsage        float64 `json:"memory_usage"`
	NetworkBandwidth   float64 `json:"network_bandwidth"`
	DiskIO             float64 `json:"disk_io"`
	EnergyConsumption  float64 `json:"energy_consumption"`

	CPUTaskEfficiency     float64 `json:"cpu_task_efficiency"`
	IOTaskEfficiency      float64 `json:"io_task_efficiency"`
	MemoryTaskEfficiency  float64 `json:"memory_task_efficiency"`
	NetworkTaskEfficiency float64 `json:"network_task_efficiency"`
}

// EfficiencyFor returns the per-class efficiency used by the balancer's
// workload score, averaging the four axes for TaskMixed.
func (m KernelMetrics) EfficiencyFor(class TaskClass) float64 {
	switch class {
	case TaskCPU:
		return m.CPUTaskEfficiency
	case TaskIO:
		return m.IOTaskEfficiency
	case TaskMemory:
		return m.MemoryTaskEfficiency
	case TaskNetwork:
		return m.NetworkTaskEfficiency
	default:
		return (m.CPUTaskEfficiency + m.IOTaskEfficiency + m.MemoryTaskEfficiency + m.NetworkTaskEfficiency) / 4
	}
}

// CacheStats reports cache performance counters.
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Size        int64   `json:"size"`
	Capacity    int64   `json:"capacity"`
	HitRate     float64 `json:"hit_rate"`
}

// PoolStats reports thread pool occupancy.
type PoolStats struct {
	ActiveThreads int `json:"active_threads"`
	QueueSize     int `json:"queue_size"`
	TotalThreads  int `json:"total_threads"`
}

// PreloadEntry is a key/value record produced by the preload manager and
// consumed by a kernel's warm-up path.
type PreloadEntry struct {
	Key        string    `json:"key"`
	Payload    []byte    `json:"payload"`
	CreatedAt  time.Time `json:"created_at"`
	Priority   float64   `json:"priority"`
}

// AccessPattern tracks the learned shape of accesses to a preload key.
type AccessPattern struct {
	Key             string      `json:"key"`
	AccessTimes     []time.Time `json:"access_times"`
	Frequency       int64       `json:"frequency"`
	SequentialScore float64     `json:"sequential_score"`
	RecencyScore    float64     `json:"recency_score"`
	Confidence      float64     `json:"confidence"`
}

// RecoveryPointMeta is the metadata record persisted alongside (or inline
// with, depending on the store) a checkpoint's state payload.
type RecoveryPointMeta struct {
	ID           string            `json:"id"`
	TimestampMS  int64             `json:"timestamp_ms"`
	Size         int64             `json:"size"`
	IsConsistent bool              `json:"is_consistent"`
	Checksum     string            `json:"checksum"`
	Compressed   bool              `json:"compressed"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// RecoveryMetrics reports the recovery manager's running counters.
type RecoveryMetrics struct {
	TotalPoints           int64         `json:"total_points"`
	SuccessfulRecoveries  int64         `json:"successful_recoveries"`
	FailedRecoveries      int64         `json:"failed_recoveries"`
	AverageRecoveryTime   time.Duration `json:"average_recovery_time"`
	LastRecovery          time.Time     `json:"last_recovery"`
}

// HealthStatus represents the health of a monitored component.
type HealthStatus struct {
	Status     string            `json:"status"`
	LastCheck  time.Time         `json:"last_check"`
	Response   time.Duration     `json:"response_time"`
	ErrorCount int64             `json:"error_count"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details"`
}
