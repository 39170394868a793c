package balancer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kernelfabric/fabric/internal/kernel"
	"github.com/kernelfabric/fabric/pkg/types"
)

func newKernels(t *testing.T, n int) []kernel.Kernel {
	kernels := make([]kernel.Kernel, n)
	for i := 0; i < n; i++ {
		k := kernel.New(kernel.Config{ID: string(rune('a' + i))}, nil)
		require.NoError(t, k.Initialize(context.Background()))
		kernels[i] = k
	}
	return kernels
}

func TestBalanceRejectsMismatchedMetricsLength(t *testing.T) {
	b := New(DefaultConfig(), nil)
	kernels := newKernels(t, 2)
	err := b.Balance(context.Background(), kernels, nil, []types.KernelMetrics{{}})
	require.Error(t, err)
}

func TestBalanceRejectsNoKernels(t *testing.T) {
	b := New(DefaultConfig(), nil)
	err := b.Balance(context.Background(), nil, nil, nil)
	require.Error(t, err)
}

func TestLeastLoadedSelectsLowestLoad(t *testing.T) {
	metrics := []types.KernelMetrics{{Load: 0.9}, {Load: 0.1}, {Load: 0.5}}
	idx := leastLoadedIndex(metrics)
	require.Equal(t, 1, idx)
}

func TestRoundRobinCyclesThroughKernels(t *testing.T) {
	b := New(Config{Strategy: StrategyRoundRobin}, nil)
	kernels := newKernels(t, 3)
	metrics := make([]types.KernelMetrics, 3)

	tasks := []types.TaskDescriptor{{Priority: 1}, {Priority: 1}, {Priority: 1}, {Priority: 1}}
	var seen []int
	for _, task := range tasks {
		idx := b.selectIndex(kernels, metrics, task)
		seen = append(seen, idx)
	}
	require.Equal(t, []int{0, 1, 2, 0}, seen)
}

func TestSetResourceWeightsRenormalizes(t *testing.T) {
	b := New(DefaultConfig(), nil)
	b.SetResourceWeights(ResourceWeights{CPU: 1, Memory: 1, Network: 1, Energy: 1})

	sum := b.weights.CPU + b.weights.Memory + b.weights.Network + b.weights.Energy
	require.InDelta(t, 1.0, sum, 1e-9)
}

func TestUnknownStrategyFallsBackToHybrid(t *testing.T) {
	b := New(Config{Strategy: Strategy("bogus")}, nil)
	kernels := newKernels(t, 2)
	metrics := []types.KernelMetrics{{CPUUsage: 0.1}, {CPUUsage: 0.1}}

	idx := b.selectIndex(kernels, metrics, types.TaskDescriptor{Class: types.TaskCPU})
	require.GreaterOrEqual(t, idx, 0)
	require.Less(t, idx, len(kernels))
}

func TestHybridAdaptiveFlipsStrategyUnderSustainedUtilization(t *testing.T) {
	b := New(Config{Strategy: StrategyResourceAware}, nil)
	metrics := []types.KernelMetrics{{CPUUsage: 0.95}, {CPUUsage: 0.95}}
	b.maybeFlipStrategy(metrics)
	require.Equal(t, StrategyWorkloadSpecific, b.Strategy())
}

func TestBalanceCountsOneDecisionPerTask(t *testing.T) {
	b := New(DefaultConfig(), nil)
	kernels := newKernels(t, 1)
	metrics := []types.KernelMetrics{{}}

	tasks := []types.TaskDescriptor{
		{Priority: 2, Class: types.TaskCPU},
		{Priority: 9, Class: types.TaskCPU},
	}
	require.NoError(t, b.Balance(context.Background(), kernels, tasks, metrics))

	_, _, total := b.DecisionCounts()
	require.Equal(t, int64(2), total)
}
