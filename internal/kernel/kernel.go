// Package kernel implements the fabric's worker kernel: a state machine
// (Created→Initialized→Running⇄Paused→Stopped) wrapping a priority task
// queue, an owned cache tier, event callbacks, and the PARENT-only child
// management and load-balancing delegation the compute-dispatch fabric's
// orchestration layer drives.
//
// No single teacher file models a priority-queued worker lifecycle; the
// Start/Stop idempotency idiom is grounded on the teacher's
// internal/batch.Processor and internal/cache/persistent.go, generalized
// to the richer Created/Initialized/Running/Paused/Stopped machine §4.3
// calls for.
package kernel

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/kernelfabric/fabric/internal/cache"
	"github.com/kernelfabric/fabric/internal/threadpool"
	"github.com/kernelfabric/fabric/pkg/fabricerr"
	"github.com/kernelfabric/fabric/pkg/logging"
	"github.com/kernelfabric/fabric/pkg/types"
)

// Kind enumerates the kernel variants a single concrete kernel struct
// dispatches behavior on, per the capability-set-not-inheritance guidance.
type Kind string

const (
	KindParent         Kind = "PARENT"
	KindMicro          Kind = "MICRO"
	KindSmart          Kind = "SMART"
	KindComputational  Kind = "COMPUTATIONAL"
	KindArchitectural  Kind = "ARCHITECTURAL"
	KindOrchestration  Kind = "ORCHESTRATION"
	KindCrypto         Kind = "CRYPTO"
)

// State is a kernel's lifecycle position.
type State int

const (
	StateCreated State = iota
	StateInitialized
	StateRunning
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Event names a kernel triggers synchronously on its emitting goroutine.
const (
	EventWarmupCompleted   = "warmup_completed"
	EventWarmupFailed      = "warmup_failed"
	EventTaskProcessed     = "task_processed"
	EventTaskFailed        = "task_failed"
	EventLoadBalancerReady = "loadbalancer_ready"
)

// EventPayload is the data handed to an event callback.
type EventPayload map[string]interface{}

// PreloadWarmer is the capability set WarmupFromPreload needs. Satisfied
// structurally by internal/preload.Manager without an import cycle.
type PreloadWarmer interface {
	GetAllKeys() []string
	GetDataForKey(key string) []byte
}

// LoadBalancer is the capability set BalanceLoad delegates to. Satisfied
// structurally by internal/balancer.Balancer.
type LoadBalancer interface {
	Balance(ctx context.Context, kernels []Kernel, tasks []types.TaskDescriptor, metrics []types.KernelMetrics) error
}

// PerformanceSample is the raw resource-usage input ExtendedMetrics derives
// KernelMetrics from, alongside cache hit rate and pool queue depth.
type PerformanceSample struct {
	CPUUsage          float64
	MemoryUsage       float64
	NetworkBandwidth  float64
	DiskIO            float64
	EnergyConsumption float64
}

// weights is the per-class efficiency multiplier table, §4.3's "workload
// weights" baseline-efficiency-times-multiplier rule.
type weights struct {
	cpu, io, memory, network float64
}

var weightTable = map[Kind]weights{
	KindComputational: {cpu: 1.2, io: 1.0, memory: 1.0, network: 1.0},
	KindMicro:         {cpu: 0.9, io: 1.1, memory: 1.0, network: 1.0},
	KindArchitectural: {cpu: 1.0, io: 1.0, memory: 1.15, network: 1.0},
	KindOrchestration: {cpu: 1.0, io: 1.0, memory: 1.0, network: 1.25},
}

func weightsFor(kind Kind) weights {
	if w, ok := weightTable[kind]; ok {
		return w
	}
	return weights{cpu: 1.0, io: 1.0, memory: 1.0, network: 1.0}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Kernel is the capability set §6/§7 names for a worker kernel.
type Kernel interface {
	ID() string
	Kind() Kind

	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
	IsRunning() bool
	Pause() error
	Resume() error
	Reset(ctx context.Context) error

	Schedule(task func(), priority int) (uint64, error)
	Cancel(taskID uint64)
	ProcessTask(ctx context.Context, task types.TaskDescriptor) error
	SetTaskCallback(fn func(types.TaskDescriptor) error)

	Metrics() types.KernelMetrics
	ExtendedMetrics() types.KernelMetrics
	UpdateMetrics(sample PerformanceSample)

	SetPreload(pm PreloadWarmer)
	WarmupFromPreload(ctx context.Context) error

	SetLoadBalancer(b LoadBalancer)
	SetEventCallback(name string, handler func(EventPayload))
	RemoveEventCallback(name string)
	TriggerEvent(name string, data EventPayload)

	AddChild(child Kernel) error
	RemoveChild(id string) error
	GetChildren() []Kernel
	BalanceLoad(ctx context.Context, tasks []types.TaskDescriptor) error
	OrchestrateTasks(ctx context.Context, tasks []types.TaskDescriptor) error

	HealthCheck(ctx context.Context) error
	ComponentName() string
}

var enqueueSeq atomic.Uint64
var taskIDSeq atomic.Uint64

// Config configures a new kernel.
type Config struct {
	ID         string
	Kind       Kind
	Cache      types.Cache
	Pool       *threadpool.Pool
	QueueDepth int
}

type kernel struct {
	id   string
	kind Kind

	mu    sync.RWMutex
	state State

	cache types.Cache
	pool  *threadpool.Pool

	queueMu   sync.Mutex
	queue     taskHeap
	cancelled map[uint64]struct{}

	eventsMu sync.RWMutex
	events   map[string]func(EventPayload)

	taskCallback func(types.TaskDescriptor) error

	preload  PreloadWarmer
	balancer LoadBalancer

	childrenMu sync.RWMutex
	children   map[string]Kernel

	metricsMu sync.Mutex
	perf      PerformanceSample
	activeTasks atomic.Int64

	logger *logging.Logger
}

// New creates a kernel in StateCreated. ID defaults to a monotonic,
// process-unique string when unset.
func New(config Config, logger *logging.Logger) Kernel {
	if logger == nil {
		logger, _ = logging.New(logging.DefaultConfig())
	}
	if config.ID == "" {
		config.ID = fmt.Sprintf("kernel-%d", taskIDSeq.Add(1))
	}
	if config.Kind == "" {
		config.Kind = KindMicro
	}
	if config.Cache == nil {
		config.Cache = cache.New(cache.DefaultDynamicConfig(), logger)
	}

	k := &kernel{
		id:        config.ID,
		kind:      config.Kind,
		state:     StateCreated,
		cache:     config.Cache,
		pool:      config.Pool,
		cancelled: make(map[uint64]struct{}),
		events:    make(map[string]func(EventPayload)),
		children:  make(map[string]Kernel),
		logger:    logger.WithComponent("kernel").WithField("kernel_id", config.ID),
	}
	k.queue = taskHeap{}
	return k
}

func (k *kernel) ID() string   { return k.id }
func (k *kernel) Kind() Kind   { return k.kind }

func (k *kernel) setState(s State) {
	k.mu.Lock()
	k.state = s
	k.mu.Unlock()
}

func (k *kernel) getState() State {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.state
}

// Initialize transitions Created→Initialized→Running.
func (k *kernel) Initialize(ctx context.Context) error {
	k.mu.Lock()
	if k.state != StateCreated {
		k.mu.Unlock()
		return fabricerr.New(fabricerr.AlreadyStarted, "kernel already initialized")
	}
	k.state = StateInitialized
	k.mu.Unlock()

	k.setState(StateRunning)
	k.logger.Info("kernel initialized", map[string]interface{}{"kind": string(k.kind)})
	return nil
}

// Shutdown transitions to StateStopped and releases owned components.
// Reuse after Shutdown requires a fresh kernel instance.
func (k *kernel) Shutdown(ctx context.Context) error {
	k.mu.Lock()
	if k.state == StateStopped {
		k.mu.Unlock()
		return nil
	}
	k.state = StateStopped
	k.mu.Unlock()

	k.queueMu.Lock()
	k.queue = taskHeap{}
	k.cancelled = make(map[uint64]struct{})
	k.queueMu.Unlock()

	k.cache.Clear()
	k.logger.Info("kernel shut down", nil)
	return nil
}

func (k *kernel) IsRunning() bool {
	return k.getState() == StateRunning
}

// Pause blocks new task starts; tasks already dispatched to a worker
// finish normally.
func (k *kernel) Pause() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state != StateRunning {
		return fabricerr.New(fabricerr.NotInitialized, "kernel is not running")
	}
	k.state = StatePaused
	return nil
}

func (k *kernel) Resume() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state != StatePaused {
		return fabricerr.New(fabricerr.NotInitialized, "kernel is not paused")
	}
	k.state = StateRunning
	return nil
}

// Reset is equivalent to shutdown;initialize, preserving id.
func (k *kernel) Reset(ctx context.Context) error {
	if err := k.Shutdown(ctx); err != nil {
		return err
	}
	k.setState(StateCreated)
	return k.Initialize(ctx)
}

// Schedule enqueues a raw closure at priority, returning a task id usable
// with Cancel.
func (k *kernel) Schedule(task func(), priority int) (uint64, error) {
	if k.getState() == StateStopped {
		return 0, fabricerr.New(fabricerr.ShutdownInProgress, "kernel is stopped")
	}

	id := taskIDSeq.Add(1)
	item := &taskItem{id: id, seq: enqueueSeq.Add(1), priority: priority, fn: task}

	k.queueMu.Lock()
	heap.Push(&k.queue, item)
	k.queueMu.Unlock()

	if k.pool != nil {
		if err := k.pool.Enqueue(func() { k.dispatch() }); err != nil {
			return id, err
		}
	} else {
		go k.dispatch()
	}

	return id, nil
}

// Cancel marks taskID cancelled. A worker drops the closure at pop time
// instead of rebuilding the heap (O(1), per the no-heap-rebuild rule).
func (k *kernel) Cancel(taskID uint64) {
	k.queueMu.Lock()
	k.cancelled[taskID] = struct{}{}
	k.queueMu.Unlock()
}

func (k *kernel) dispatch() {
	if k.getState() == StatePaused || k.getState() == StateStopped {
		return
	}

	k.queueMu.Lock()
	var item *taskItem
	for k.queue.Len() > 0 {
		candidate := heap.Pop(&k.queue).(*taskItem)
		if _, dropped := k.cancelled[candidate.id]; dropped {
			delete(k.cancelled, candidate.id)
			continue
		}
		item = candidate
		break
	}
	k.queueMu.Unlock()

	if item == nil {
		return
	}

	k.activeTasks.Add(1)
	defer k.activeTasks.Add(-1)
	item.fn()
}

// SetTaskCallback installs the handler ProcessTask invokes.
func (k *kernel) SetTaskCallback(fn func(types.TaskDescriptor) error) {
	k.mu.Lock()
	k.taskCallback = fn
	k.mu.Unlock()
}

// ProcessTask synchronously invokes the installed TaskCallback (if any),
// stores the payload under a derived cache key, updates extended metrics,
// and fires task_processed/task_failed.
func (k *kernel) ProcessTask(ctx context.Context, task types.TaskDescriptor) error {
	k.mu.RLock()
	cb := k.taskCallback
	k.mu.RUnlock()

	var err error
	if cb != nil {
		err = cb(task)
	}

	cacheKey := fmt.Sprintf("task_%d_%d", task.Priority, task.EnqueuedAt.UnixMilli())
	k.cache.Put(cacheKey, task.Payload)

	if err != nil {
		k.TriggerEvent(EventTaskFailed, EventPayload{"task_id": task.ID, "error": err.Error()})
		return err
	}

	k.TriggerEvent(EventTaskProcessed, EventPayload{"task_id": task.ID, "cache_key": cacheKey})
	return nil
}

// SetPreload installs the predictive preload manager a kernel warms its
// cache from.
func (k *kernel) SetPreload(pm PreloadWarmer) {
	k.mu.Lock()
	k.preload = pm
	k.mu.Unlock()
}

// WarmupFromPreload iterates every key the preload manager exposes and
// primes the kernel's cache with it.
func (k *kernel) WarmupFromPreload(ctx context.Context) error {
	k.mu.RLock()
	pm := k.preload
	k.mu.RUnlock()

	if pm == nil {
		err := fabricerr.New(fabricerr.NotInitialized, "no preload manager set")
		k.TriggerEvent(EventWarmupFailed, EventPayload{"error": err.Error()})
		return err
	}

	for _, key := range pm.GetAllKeys() {
		select {
		case <-ctx.Done():
			k.TriggerEvent(EventWarmupFailed, EventPayload{"error": ctx.Err().Error()})
			return ctx.Err()
		default:
		}
		k.cache.Put(key, pm.GetDataForKey(key))
	}

	k.TriggerEvent(EventWarmupCompleted, EventPayload{"kernel_id": k.id})
	return nil
}

// SetLoadBalancer installs the balancer BalanceLoad (PARENT only)
// delegates to.
func (k *kernel) SetLoadBalancer(b LoadBalancer) {
	k.mu.Lock()
	k.balancer = b
	k.mu.Unlock()
	k.TriggerEvent(EventLoadBalancerReady, EventPayload{"kernel_id": k.id})
}

func (k *kernel) SetEventCallback(name string, handler func(EventPayload)) {
	k.eventsMu.Lock()
	k.events[name] = handler
	k.eventsMu.Unlock()
}

func (k *kernel) RemoveEventCallback(name string) {
	k.eventsMu.Lock()
	delete(k.events, name)
	k.eventsMu.Unlock()
}

// TriggerEvent runs the installed handler (if any) synchronously on the
// caller's goroutine. A handler panic is logged, not propagated.
func (k *kernel) TriggerEvent(name string, data EventPayload) {
	k.eventsMu.RLock()
	handler := k.events[name]
	k.eventsMu.RUnlock()

	if handler == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			k.logger.Error("event handler panicked", map[string]interface{}{"event": name, "recovered": r})
		}
	}()
	handler(data)
}

// AddChild is PARENT-only; every other kind returns CapabilityUnavailable
// to signal the capability is absent.
func (k *kernel) AddChild(child Kernel) error {
	if k.kind != KindParent {
		return fabricerr.New(fabricerr.CapabilityUnavailable, "AddChild is PARENT-only")
	}
	k.childrenMu.Lock()
	k.children[child.ID()] = child
	k.childrenMu.Unlock()
	return nil
}

func (k *kernel) RemoveChild(id string) error {
	if k.kind != KindParent {
		return fabricerr.New(fabricerr.CapabilityUnavailable, "RemoveChild is PARENT-only")
	}
	k.childrenMu.Lock()
	delete(k.children, id)
	k.childrenMu.Unlock()
	return nil
}

func (k *kernel) GetChildren() []Kernel {
	k.childrenMu.RLock()
	defer k.childrenMu.RUnlock()

	out := make([]Kernel, 0, len(k.children))
	for _, c := range k.children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// BalanceLoad delegates to the installed balancer with the current child
// set and their metrics.
func (k *kernel) BalanceLoad(ctx context.Context, tasks []types.TaskDescriptor) error {
	if k.kind != KindParent {
		return fabricerr.New(fabricerr.CapabilityUnavailable, "BalanceLoad is PARENT-only")
	}

	k.mu.RLock()
	balancer := k.balancer
	k.mu.RUnlock()
	if balancer == nil {
		return fabricerr.New(fabricerr.NotInitialized, "no load balancer set")
	}

	children := k.GetChildren()
	metrics := make([]types.KernelMetrics, len(children))
	for i, c := range children {
		metrics[i] = c.Metrics()
	}

	return balancer.Balance(ctx, children, tasks, metrics)
}

// OrchestrateTasks is PARENT-only sugar over BalanceLoad.
func (k *kernel) OrchestrateTasks(ctx context.Context, tasks []types.TaskDescriptor) error {
	return k.BalanceLoad(ctx, tasks)
}

// UpdateMetrics records the latest resource-usage sample. On a PARENT
// kernel it also aggregates child metrics and grows/shrinks the pool:
// +2 threads when average child load > 0.8, -1 when < 0.3, floor 2.
func (k *kernel) UpdateMetrics(sample PerformanceSample) {
	k.metricsMu.Lock()
	k.perf = sample
	k.metricsMu.Unlock()

	if k.kind != KindParent {
		return
	}

	children := k.GetChildren()
	if len(children) == 0 {
		return
	}

	var totalLoad float64
	for _, c := range children {
		totalLoad += c.Metrics().Load
	}
	avgLoad := totalLoad / float64(len(children))

	if k.pool == nil {
		return
	}
	stats := k.pool.Stats()
	switch {
	case avgLoad > 0.8:
		k.pool.SetMaxThreads(stats.TotalThreads + 2)
	case avgLoad < 0.3:
		next := stats.TotalThreads - 1
		if next < 2 {
			next = 2
		}
		k.pool.SetMaxThreads(next)
	}
}

// Metrics derives a KernelMetrics snapshot from performance, cache, and
// pool counters — no class-weight adjustment.
func (k *kernel) Metrics() types.KernelMetrics {
	k.metricsMu.Lock()
	perf := k.perf
	k.metricsMu.Unlock()

	cacheStats := k.cache.Stats()

	var queueSize, totalThreads int
	if k.pool != nil {
		s := k.pool.Stats()
		queueSize, totalThreads = s.QueueSize, s.TotalThreads
	}
	load := 0.0
	if totalThreads > 0 {
		load = clamp01(float64(queueSize) / float64(totalThreads))
	}

	return types.KernelMetrics{
		Load:              load,
		Latency:           0,
		CacheEfficiency:   clamp01(cacheStats.HitRate),
		ActiveTasks:       k.activeTasks.Load(),
		CPUUsage:          clamp01(perf.CPUUsage),
		MemoryUsage:       clamp01(perf.MemoryUsage),
		NetworkBandwidth:  perf.NetworkBandwidth,
		DiskIO:            perf.DiskIO,
		EnergyConsumption: clamp01(perf.EnergyConsumption),
	}
}

// ExtendedMetrics is Metrics plus the per-class efficiencies: a baseline
// of 1 - Load (Load being pool queue size over worker count) scaled by this
// kernel's kind-specific workload weight table.
func (k *kernel) ExtendedMetrics() types.KernelMetrics {
	m := k.Metrics()

	baseEfficiency := clamp01(1 - m.Load)
	w := weightsFor(k.kind)

	m.CPUTaskEfficiency = clamp01(baseEfficiency * w.cpu)
	m.IOTaskEfficiency = clamp01(baseEfficiency * w.io)
	m.MemoryTaskEfficiency = clamp01(baseEfficiency * w.memory)
	m.NetworkTaskEfficiency = clamp01(baseEfficiency * w.network)

	return m
}

// HealthCheck satisfies types.HealthChecker: a kernel is unhealthy once
// stopped.
func (k *kernel) HealthCheck(ctx context.Context) error {
	if k.getState() == StateStopped {
		return fabricerr.New(fabricerr.ServiceDegraded, "kernel is stopped")
	}
	return nil
}

func (k *kernel) ComponentName() string {
	return "kernel:" + k.id
}

var _ Kernel = (*kernel)(nil)
