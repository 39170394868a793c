// Package orchestrator implements the fabric's task orchestrator: the
// entry point external callers enqueue work through, plus a registry of
// live kernels the balancer runs against.
//
// The KernelRegistry is grounded on the teacher's
// internal/distributed.ClusterManager/NodeInfo liveness tracking (last-seen
// timestamp, status enum), stripped of the gossip/consensus/leader-election
// machinery that tracked membership across hosts — multi-host distribution
// is out of scope here, so a registry keyed by kernel id with a last-seen
// timestamp is all "liveness" means in a single process.
package orchestrator

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kernelfabric/fabric/internal/kernel"
	"github.com/kernelfabric/fabric/pkg/fabricerr"
	"github.com/kernelfabric/fabric/pkg/logging"
	"github.com/kernelfabric/fabric/pkg/types"
)

var taskIDSeq atomic.Uint64

// Balancer is the capability set Orchestrate delegates to.
type Balancer interface {
	Balance(ctx context.Context, kernels []kernel.Kernel, tasks []types.TaskDescriptor, metrics []types.KernelMetrics) error
}

// KernelRegistry tracks live kernels by id with last-seen liveness,
// grounded on the teacher's ClusterManager.GetNodes()/UpdateNodeInfo
// pattern narrowed to a single process.
type KernelRegistry struct {
	mu    sync.RWMutex
	nodes map[string]*registeredKernel
}

type registeredKernel struct {
	k        kernel.Kernel
	lastSeen time.Time
}

// NewKernelRegistry creates an empty registry.
func NewKernelRegistry() *KernelRegistry {
	return &KernelRegistry{nodes: make(map[string]*registeredKernel)}
}

// Register adds or refreshes k's liveness entry.
func (r *KernelRegistry) Register(k kernel.Kernel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[k.ID()] = &registeredKernel{k: k, lastSeen: time.Now()}
}

// Unregister removes id from the registry.
func (r *KernelRegistry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, id)
}

// Touch refreshes id's last-seen timestamp.
func (r *KernelRegistry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[id]; ok {
		n.lastSeen = time.Now()
	}
}

// Running returns every registered kernel currently IsRunning, sorted by
// id for deterministic dispatch order.
func (r *KernelRegistry) Running() []kernel.Kernel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]kernel.Kernel, 0, len(r.nodes))
	for _, n := range r.nodes {
		if n.k.IsRunning() {
			out = append(out, n.k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Orchestrator accepts tasks via Enqueue, and either dispatches them with
// the legacy least-loaded-by-local-tracking BalanceTasks or delegates to a
// Balancer via Orchestrate.
type Orchestrator struct {
	mu          sync.Mutex
	descriptors []types.TaskDescriptor
	loadTrack   map[string]float64

	registry *KernelRegistry
	balancer Balancer
	logger   *logging.Logger
}

// New creates an Orchestrator backed by registry.
func New(registry *KernelRegistry, balancer Balancer, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger, _ = logging.New(logging.DefaultConfig())
	}
	if registry == nil {
		registry = NewKernelRegistry()
	}
	return &Orchestrator{
		loadTrack: make(map[string]float64),
		registry:  registry,
		balancer:  balancer,
		logger:    logger.WithComponent("orchestrator"),
	}
}

// Registry returns the orchestrator's kernel registry.
func (o *Orchestrator) Registry() *KernelRegistry { return o.registry }

// Enqueue stores data as a TaskDescriptor with the current timestamp,
// defaulting priority to types.DefaultPriority when <= 0.
func (o *Orchestrator) Enqueue(data []byte, priority int) types.TaskDescriptor {
	if priority <= 0 {
		priority = types.DefaultPriority
	}
	task := types.TaskDescriptor{
		ID:         taskIDSeq.Add(1),
		Payload:    data,
		Priority:   priority,
		EnqueuedAt: time.Now(),
		Class:      types.TaskMixed,
	}

	o.mu.Lock()
	o.descriptors = append(o.descriptors, task)
	o.mu.Unlock()

	return task
}

// BalanceTasks is the legacy path: sorts local descriptors by priority,
// reads each kernel's current metrics, and assigns each task to the
// least-loaded kernel, bumping that kernel's tracked load by +0.1 per
// assignment to simulate saturation.
func (o *Orchestrator) BalanceTasks(kernels []kernel.Kernel) error {
	if len(kernels) == 0 {
		return fabricerr.New(fabricerr.NotFound, "no kernels available")
	}

	o.mu.Lock()
	tasks := make([]types.TaskDescriptor, len(o.descriptors))
	copy(tasks, o.descriptors)
	o.mu.Unlock()

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Priority > tasks[j].Priority })

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, task := range tasks {
		best := kernels[0]
		bestLoad := o.trackedLoad(best.ID(), best.Metrics().Load)
		for _, k := range kernels[1:] {
			load := o.trackedLoad(k.ID(), k.Metrics().Load)
			if load < bestLoad {
				best, bestLoad = k, load
			}
		}
		o.loadTrack[best.ID()] = bestLoad + 0.1
		if _, err := best.Schedule(func() { _ = best.ProcessTask(context.Background(), task) }, task.Priority); err != nil {
			o.logger.Warn("balance_tasks schedule failed", map[string]interface{}{"kernel_id": best.ID(), "error": err.Error()})
		}
	}

	return nil
}

func (o *Orchestrator) trackedLoad(id string, reported float64) float64 {
	if tracked, ok := o.loadTrack[id]; ok && tracked > reported {
		return tracked
	}
	return reported
}

// Orchestrate delegates to the installed balancer and clears the local
// descriptor list. When kernels is nil, it defaults to every currently
// registered, running kernel.
func (o *Orchestrator) Orchestrate(ctx context.Context, kernels []kernel.Kernel) error {
	if o.balancer == nil {
		return fabricerr.New(fabricerr.NotInitialized, "no balancer installed")
	}
	if kernels == nil {
		kernels = o.registry.Running()
	}
	if len(kernels) == 0 {
		return fabricerr.New(fabricerr.NotFound, "no kernels available")
	}

	o.mu.Lock()
	tasks := o.descriptors
	o.descriptors = nil
	o.mu.Unlock()

	metrics := make([]types.KernelMetrics, len(kernels))
	for i, k := range kernels {
		metrics[i] = k.Metrics()
	}

	return o.balancer.Balance(ctx, kernels, tasks, metrics)
}
