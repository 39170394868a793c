package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	pkghealth "github.com/kernelfabric/fabric/pkg/health"
)

type fakeChecker struct {
	name string
	err  error
}

func (f *fakeChecker) ComponentName() string { return f.name }
func (f *fakeChecker) HealthCheck(ctx context.Context) error { return f.err }

func TestRegisterComponentStartsHealthy(t *testing.T) {
	tracker := pkghealth.NewTracker(pkghealth.DefaultConfig())
	mon := New(DefaultConfig(), tracker, nil)

	mon.RegisterComponent(&fakeChecker{name: "cache"}, CategoryCache, PriorityHigh)
	require.Equal(t, pkghealth.StateHealthy, tracker.State("cache"))
}

func TestRunAllRecordsFailureAndAlert(t *testing.T) {
	tracker := pkghealth.NewTracker(pkghealth.DefaultConfig())
	cfg := DefaultConfig()
	cfg.Interval = time.Hour
	mon := New(cfg, tracker, nil)

	mon.RegisterComponent(&fakeChecker{name: "recovery", err: context.DeadlineExceeded}, CategoryRecovery, PriorityCritical)
	mon.RunAll(context.Background())

	stats, err := mon.Stats("recovery")
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.RunCount)
	require.Equal(t, int64(1), stats.Failures)
	require.NotEmpty(t, mon.Alerts())
}

func TestStartStopLifecycle(t *testing.T) {
	tracker := pkghealth.NewTracker(pkghealth.DefaultConfig())
	cfg := DefaultConfig()
	cfg.Interval = 2 * time.Millisecond
	mon := New(cfg, tracker, nil)
	mon.RegisterComponent(&fakeChecker{name: "kernel-1"}, CategoryCore, PriorityLow)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, mon.Start(ctx))
	require.Error(t, mon.Start(ctx))

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, mon.Stop())
	require.True(t, mon.IsHealthy())
}

func TestRunUnknownCheckErrors(t *testing.T) {
	tracker := pkghealth.NewTracker(pkghealth.DefaultConfig())
	mon := New(DefaultConfig(), tracker, nil)

	_, err := mon.Run(context.Background(), "missing")
	require.Error(t, err)
}

func TestDetailedStatusReflectsOverall(t *testing.T) {
	tracker := pkghealth.NewTracker(pkghealth.DefaultConfig())
	mon := New(DefaultConfig(), tracker, nil)
	mon.RegisterComponent(&fakeChecker{name: "kernel-1"}, CategoryCore, PriorityLow)

	report := mon.DetailedStatus()
	require.Equal(t, "healthy", report.Overall)
	require.Contains(t, report.Components, "kernel-1")
}
