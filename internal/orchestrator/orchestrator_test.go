package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kernelfabric/fabric/internal/kernel"
	"github.com/kernelfabric/fabric/pkg/types"
)

func newTestKernel(t *testing.T, id string) kernel.Kernel {
	k := kernel.New(kernel.Config{ID: id}, nil)
	require.NoError(t, k.Initialize(context.Background()))
	return k
}

type stubBalancer struct {
	called bool
	tasks  []types.TaskDescriptor
}

func (s *stubBalancer) Balance(ctx context.Context, kernels []kernel.Kernel, tasks []types.TaskDescriptor, metrics []types.KernelMetrics) error {
	s.called = true
	s.tasks = tasks
	return nil
}

func TestEnqueueDefaultsPriority(t *testing.T) {
	o := New(nil, nil, nil)
	task := o.Enqueue([]byte("x"), 0)
	require.Equal(t, types.DefaultPriority, task.Priority)
}

func TestBalanceTasksSucceedsWithKernels(t *testing.T) {
	o := New(nil, nil, nil)
	o.Enqueue([]byte("a"), 5)

	k1 := newTestKernel(t, "k1")
	k2 := newTestKernel(t, "k2")

	require.NoError(t, o.BalanceTasks([]kernel.Kernel{k1, k2}))
}

func TestBalanceTasksFailsWithNoKernels(t *testing.T) {
	o := New(nil, nil, nil)
	require.Error(t, o.BalanceTasks(nil))
}

func TestOrchestrateDelegatesAndClearsDescriptors(t *testing.T) {
	b := &stubBalancer{}
	o := New(nil, b, nil)
	o.Enqueue([]byte("a"), 5)
	o.Enqueue([]byte("b"), 9)

	k1 := newTestKernel(t, "k1")
	require.NoError(t, o.Orchestrate(context.Background(), []kernel.Kernel{k1}))

	require.True(t, b.called)
	require.Len(t, b.tasks, 2)

	// descriptors cleared: a second call with an explicit kernel but no new
	// Enqueue should hand the balancer zero tasks.
	b.tasks = nil
	require.NoError(t, o.Orchestrate(context.Background(), []kernel.Kernel{k1}))
	require.Empty(t, b.tasks)
}

func TestOrchestrateDefaultsToRegisteredRunningKernels(t *testing.T) {
	reg := NewKernelRegistry()
	k1 := newTestKernel(t, "k1")
	reg.Register(k1)

	b := &stubBalancer{}
	o := New(reg, b, nil)
	o.Enqueue([]byte("a"), 5)

	require.NoError(t, o.Orchestrate(context.Background(), nil))
	require.True(t, b.called)
}

func TestOrchestrateFailsWithoutBalancer(t *testing.T) {
	o := New(nil, nil, nil)
	err := o.Orchestrate(context.Background(), []kernel.Kernel{newTestKernel(t, "k1")})
	require.Error(t, err)
}

func TestKernelRegistryRunningFiltersStoppedKernels(t *testing.T) {
	reg := NewKernelRegistry()
	k1 := newTestKernel(t, "k1")
	k2 := newTestKernel(t, "k2")
	reg.Register(k1)
	reg.Register(k2)
	require.NoError(t, k2.Shutdown(context.Background()))

	running := reg.Running()
	require.Len(t, running, 1)
	require.Equal(t, "k1", running[0].ID())
}
