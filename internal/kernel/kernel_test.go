package kernel

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kernelfabric/fabric/internal/threadpool"
	"github.com/kernelfabric/fabric/pkg/fabricerr"
	"github.com/kernelfabric/fabric/pkg/types"
)

func newTestKernel(t *testing.T, kind Kind) *kernel {
	pool := threadpool.New(threadpool.Config{MinThreads: 1, MaxThreads: 2, QueueSize: 16}, nil)
	require.NoError(t, pool.Start())
	t.Cleanup(func() { _ = pool.Stop() })

	k := New(Config{ID: "test", Kind: kind, Pool: pool}, nil).(*kernel)
	require.NoError(t, k.Initialize(context.Background()))
	return k
}

func TestInitializeTransitionsToRunning(t *testing.T) {
	k := newTestKernel(t, KindMicro)
	require.True(t, k.IsRunning())
}

func TestDoubleInitializeFails(t *testing.T) {
	k := newTestKernel(t, KindMicro)
	err := k.Initialize(context.Background())
	require.True(t, fabricerr.Is(err, fabricerr.AlreadyStarted))
}

func TestPauseBlocksResume(t *testing.T) {
	k := newTestKernel(t, KindMicro)
	require.NoError(t, k.Pause())
	require.False(t, k.IsRunning())
	require.NoError(t, k.Resume())
	require.True(t, k.IsRunning())
}

func TestResetPreservesID(t *testing.T) {
	k := newTestKernel(t, KindMicro)
	id := k.ID()
	require.NoError(t, k.Reset(context.Background()))
	require.Equal(t, id, k.ID())
	require.True(t, k.IsRunning())
}

func TestScheduleRunsEveryScheduledTask(t *testing.T) {
	k := newTestKernel(t, KindMicro)

	var order []int
	var mu sync.Mutex
	done := make(chan struct{}, 2)

	record := func(n int) func() {
		return func() {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			done <- struct{}{}
		}
	}

	_, err := k.Schedule(record(1), 1)
	require.NoError(t, err)
	_, err = k.Schedule(record(9), 9)
	require.NoError(t, err)

	<-done
	<-done
	require.Contains(t, order, 1)
	require.Contains(t, order, 9)
}

func TestCancelDropsQueuedTask(t *testing.T) {
	k := newTestKernel(t, KindMicro)
	require.NoError(t, k.Pause())

	var ran atomic.Bool
	id, err := k.Schedule(func() { ran.Store(true) }, 5)
	require.NoError(t, err)
	k.Cancel(id)

	require.NoError(t, k.Resume())
	time.Sleep(20 * time.Millisecond)
	require.False(t, ran.Load())
}

func TestProcessTaskFiresTaskProcessed(t *testing.T) {
	k := newTestKernel(t, KindMicro)

	fired := make(chan EventPayload, 1)
	k.SetEventCallback(EventTaskProcessed, func(p EventPayload) { fired <- p })

	task := types.TaskDescriptor{ID: 1, Payload: []byte("x"), Priority: 5, EnqueuedAt: time.Now()}
	require.NoError(t, k.ProcessTask(context.Background(), task))

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("task_processed not fired")
	}
}

func TestProcessTaskFiresTaskFailedOnCallbackError(t *testing.T) {
	k := newTestKernel(t, KindMicro)
	k.SetTaskCallback(func(types.TaskDescriptor) error { return fabricerr.New(fabricerr.InternalError, "boom") })

	fired := make(chan EventPayload, 1)
	k.SetEventCallback(EventTaskFailed, func(p EventPayload) { fired <- p })

	task := types.TaskDescriptor{ID: 2, EnqueuedAt: time.Now()}
	err := k.ProcessTask(context.Background(), task)
	require.Error(t, err)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("task_failed not fired")
	}
}

func TestWarmupFromPreloadPrimesCache(t *testing.T) {
	k := newTestKernel(t, KindMicro)
	k.SetPreload(fakePreload{"a": []byte("1"), "b": []byte("2")})

	require.NoError(t, k.WarmupFromPreload(context.Background()))

	v, ok := k.cache.Get("a")
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)
}

func TestWarmupWithoutPreloadFails(t *testing.T) {
	k := newTestKernel(t, KindMicro)
	err := k.WarmupFromPreload(context.Background())
	require.True(t, fabricerr.Is(err, fabricerr.NotInitialized))
}

func TestAddChildOnlyPermittedOnParent(t *testing.T) {
	micro := newTestKernel(t, KindMicro)
	child := newTestKernel(t, KindMicro)
	require.True(t, fabricerr.Is(micro.AddChild(child), fabricerr.CapabilityUnavailable))

	parent := newTestKernel(t, KindParent)
	require.NoError(t, parent.AddChild(child))
	require.Len(t, parent.GetChildren(), 1)
}

func TestExtendedMetricsAppliesComputationalWeight(t *testing.T) {
	k := newTestKernel(t, KindComputational)
	m := k.ExtendedMetrics()
	require.GreaterOrEqual(t, m.CPUTaskEfficiency, m.IOTaskEfficiency)
}

func TestHealthCheckFailsAfterShutdown(t *testing.T) {
	k := newTestKernel(t, KindMicro)
	require.NoError(t, k.Shutdown(context.Background()))
	require.Error(t, k.HealthCheck(context.Background()))
}

type fakePreload map[string][]byte

func (f fakePreload) GetAllKeys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	return keys
}

func (f fakePreload) GetDataForKey(key string) []byte { return f[key] }
