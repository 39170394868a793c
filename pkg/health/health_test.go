package health

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kernelfabric/fabric/pkg/fabricerr"
)

func TestRegisterStartsHealthy(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	tr.Register("kernel-1")
	require.Equal(t, StateHealthy, tr.State("kernel-1"))
}

func TestRecordErrorDegradesAfterThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorThreshold = 2
	cfg.UnavailableThreshold = 4
	tr := NewTracker(cfg)
	tr.Register("kernel-1")

	tr.RecordError("kernel-1", fabricerr.New(fabricerr.OperationTimeout, "slow"))
	require.Equal(t, StateHealthy, tr.State("kernel-1"))

	tr.RecordError("kernel-1", fabricerr.New(fabricerr.OperationTimeout, "slow"))
	require.Equal(t, StateDegraded, tr.State("kernel-1"))
}

func TestRecordErrorGoesReadOnlyOnWriteFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorThreshold = 1
	tr := NewTracker(cfg)
	tr.Register("recovery")

	tr.RecordError("recovery", fabricerr.New(fabricerr.IoFailure, "checkpoint write failed"))
	require.Equal(t, StateReadOnly, tr.State("recovery"))
}

func TestRecordErrorGoesUnavailableAtThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorThreshold = 1
	cfg.UnavailableThreshold = 2
	tr := NewTracker(cfg)
	tr.Register("kernel-1")

	tr.RecordError("kernel-1", fabricerr.New(fabricerr.InternalError, "panic"))
	tr.RecordError("kernel-1", fabricerr.New(fabricerr.InternalError, "panic"))

	require.Equal(t, StateUnavailable, tr.State("kernel-1"))
}

func TestRecordSuccessRecoversToHealthy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorThreshold = 1
	cfg.EnableAutoRecovery = true
	tr := NewTracker(cfg)
	tr.Register("kernel-1")

	tr.RecordError("kernel-1", fabricerr.New(fabricerr.InternalError, "x"))
	require.NotEqual(t, StateHealthy, tr.State("kernel-1"))

	tr.RecordSuccess("kernel-1")
	require.Equal(t, StateHealthy, tr.State("kernel-1"))
}

func TestOverallReflectsWorstComponent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorThreshold = 1
	tr := NewTracker(cfg)
	tr.Register("kernel-1")
	tr.Register("kernel-2")

	tr.RecordError("kernel-2", fabricerr.New(fabricerr.InternalError, "boom"))
	require.Equal(t, StateDegraded, tr.Overall())
}

func TestOnTransitionToFiresCallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorThreshold = 1
	cfg.UnavailableThreshold = 1
	tr := NewTracker(cfg)
	tr.Register("kernel-1")

	var fired atomic.Bool
	tr.OnTransitionTo(StateUnavailable, func(component string, from, to State, err error) {
		fired.Store(true)
	})

	tr.RecordError("kernel-1", fabricerr.New(fabricerr.InternalError, "fatal"))

	require.Eventually(t, fired.Load, time.Second, time.Millisecond)
}
