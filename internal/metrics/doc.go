/*
Package metrics implements the fabric's Metrics Aggregator.

# Overview

Collector maintains a Prometheus registry fed by kernels (task counts and
durations), the caches (hit/miss and size), the thread pool (queue depth),
the load balancer (decisions per strategy), and the recovery manager
(checkpoint/restore counters). It exposes the registry over promhttp and
offers Snapshot for a synchronous, non-scrape read.

# Usage

	collector, err := metrics.NewCollector(metrics.DefaultConfig())
	if err != nil {
		log.Fatal(err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

Recording:

	start := time.Now()
	err := kernel.ProcessTask(ctx, task)
	collector.RecordTask(kernel.ID(), task.Class, time.Since(start), err == nil)

	collector.RecordCacheHit("warm")
	collector.UpdateQueueDepth("compute-pool", pool.Stats().QueueSize)
	collector.RecordBalancerDecision(string(balancer.Strategy()))
	collector.RecordRecoveryMetrics(recoveryManager.Metrics())

# Exported metrics

Counters:
  - kernelfabric_tasks_total{kernel,class,status}
  - kernelfabric_cache_requests_total{cache,result}
  - kernelfabric_balancer_decisions_total{strategy}
  - kernelfabric_recovery_success_total
  - kernelfabric_recovery_failure_total

Histograms:
  - kernelfabric_task_duration_seconds{kernel,class}

Gauges:
  - kernelfabric_cache_entries{cache}
  - kernelfabric_pool_queue_depth{pool}
  - kernelfabric_recovery_points
  - kernelfabric_recovery_avg_restore_seconds

# See also

  - internal/health: health monitoring
  - internal/circuit: circuit breaker
  - pkg/fabricerr: structured errors
*/
package metrics
