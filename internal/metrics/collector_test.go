package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kernelfabric/fabric/pkg/types"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	t.Run("with valid config", func(t *testing.T) {
		config := &Config{Enabled: true, Port: 9090, Path: "/metrics", Namespace: "test"}
		c, err := NewCollector(config)
		if err != nil {
			t.Fatalf("NewCollector() error = %v, want nil", err)
		}
		if c.registry == nil {
			t.Error("collector.registry is nil")
		}
	})

	t.Run("with nil config uses defaults", func(t *testing.T) {
		c, err := NewCollector(nil)
		if err != nil {
			t.Fatalf("NewCollector(nil) error = %v, want nil", err)
		}
		if c.config.Namespace != "kernelfabric" {
			t.Errorf("default namespace = %q, want kernelfabric", c.config.Namespace)
		}
	})

	t.Run("with disabled config", func(t *testing.T) {
		c, err := NewCollector(&Config{Enabled: false})
		if err != nil {
			t.Fatalf("NewCollector() error = %v, want nil", err)
		}
		if c.registry != nil {
			t.Error("disabled collector should not have a registry")
		}
	})
}

func TestRecordTask(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(&Config{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	c.RecordTask("kernel-1", types.TaskCPU, 10*time.Millisecond, true)
	c.RecordTask("kernel-1", types.TaskCPU, 20*time.Millisecond, false)
	c.RecordTask("kernel-2", types.TaskIO, 5*time.Millisecond, true)

	snap := c.Snapshot()
	if snap["kernel-1"].Count != 2 {
		t.Errorf("kernel-1 count = %d, want 2", snap["kernel-1"].Count)
	}
	if snap["kernel-1"].Errors != 1 {
		t.Errorf("kernel-1 errors = %d, want 1", snap["kernel-1"].Errors)
	}
	if snap["kernel-2"].Count != 1 {
		t.Errorf("kernel-2 count = %d, want 1", snap["kernel-2"].Count)
	}
}

func TestRecordTaskDisabledIsNoop(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(&Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	c.RecordTask("kernel-1", types.TaskCPU, time.Millisecond, true)
	if len(c.Snapshot()) != 0 {
		t.Error("disabled collector should not track tasks")
	}
}

func TestRecordCacheAndQueueMetrics(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(&Config{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	// Should not panic.
	c.RecordCacheHit("warm")
	c.RecordCacheMiss("warm")
	c.UpdateCacheSize("warm", 128)
	c.UpdateQueueDepth("compute-pool", 4)
	c.RecordBalancerDecision("hybrid_adaptive")
}

func TestRecordRecoveryMetricsIsMonotonic(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(&Config{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	c.RecordRecoveryMetrics(types.RecoveryMetrics{TotalPoints: 2, SuccessfulRecoveries: 1, FailedRecoveries: 0})
	c.RecordRecoveryMetrics(types.RecoveryMetrics{TotalPoints: 3, SuccessfulRecoveries: 2, FailedRecoveries: 1})

	if c.lastRecoverySuccess != 2 {
		t.Errorf("lastRecoverySuccess = %d, want 2", c.lastRecoverySuccess)
	}
	if c.lastRecoveryFailure != 1 {
		t.Errorf("lastRecoveryFailure = %d, want 1", c.lastRecoveryFailure)
	}
}

func TestResetSnapshotCounters(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(&Config{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	c.RecordTask("kernel-1", types.TaskCPU, time.Millisecond, true)
	if len(c.Snapshot()) != 1 {
		t.Fatal("expected one tracked kernel before reset")
	}

	oldReset := c.lastReset
	time.Sleep(time.Millisecond)
	c.ResetSnapshotCounters()

	if len(c.Snapshot()) != 0 {
		t.Error("expected snapshot cleared after reset")
	}
	if !c.lastReset.After(oldReset) {
		t.Error("lastReset should advance after reset")
	}
}

func TestHandlerServesPrometheusFormat(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(&Config{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	c.RecordTask("kernel-1", types.TaskCPU, time.Millisecond, true)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("expected non-empty metrics body")
	}
}

func TestHandlerDisabledReturnsUnavailable(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(&Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(&Config{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	if err := c.Stop(context.Background()); err != nil {
		t.Errorf("Stop() without Start() error = %v, want nil", err)
	}
}
