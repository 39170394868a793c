package types

import (
	"context"
	"time"
)

// Cache is the capability set a dynamic cache exposes to kernels and the
// preload warm-up path.
type Cache interface {
	Get(key string) ([]byte, bool)
	Put(key string, value []byte)
	PutTTL(key string, value []byte, ttl time.Duration)
	Remove(key string)
	Clear()
	Size() int64
	Stats() CacheStats
}

// MetricsSink is a recording interface for operation-level counters. No
// type in the fabric implements it: the metrics aggregator
// (internal/metrics.Collector) has its own method set, and its Snapshot
// returns map[string]KernelSnapshot.
type MetricsSink interface {
	RecordTask(kernelID string, class TaskClass, duration time.Duration, success bool)
	RecordCacheHit(kernelID string)
	RecordCacheMiss(kernelID string)
	RecordBalancerDecision(strategy string)
	Snapshot() map[string]interface{}
}

// HealthChecker is implemented by any component the health monitor polls.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
	ComponentName() string
}

// AccessPredictor is the capability set the preload manager exposes for
// predicting and prioritizing future cache warm-ups.
type AccessPredictor interface {
	RecordAccess(key string, at time.Time)
	PredictNextAccess(key string) bool
	PriorityForKey(key string) float64
}
