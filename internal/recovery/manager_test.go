package recovery

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kernelfabric/fabric/internal/config"
)

func newTestManager(t *testing.T, cfg config.RecoveryConfig) *Manager {
	t.Helper()
	if cfg.StoragePath == "" {
		cfg.StoragePath = t.TempDir()
	}
	m, err := New(Config{Recovery: cfg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestManager_CreateAndRestoreRoundTrip(t *testing.T) {
	m := newTestManager(t, config.RecoveryConfig{MaxRecoveryPoints: 5})
	ctx := context.Background()

	want := []byte("kernel state snapshot")
	id := m.CreateRecoveryPoint(ctx, func() ([]byte, error) { return want, nil }, map[string]string{"kernel": "matmul"})
	if id == "" {
		t.Fatal("expected non-empty point id")
	}

	var got []byte
	ok := m.RestoreFromPoint(ctx, id, func(data []byte) error {
		got = data
		return nil
	})
	if !ok {
		t.Fatal("expected restore to succeed")
	}
	if string(got) != string(want) {
		t.Errorf("restored payload mismatch: got %q want %q", got, want)
	}

	metrics := m.Metrics()
	if metrics.SuccessfulRecoveries != 1 {
		t.Errorf("expected 1 successful recovery, got %d", metrics.SuccessfulRecoveries)
	}
	if metrics.TotalPoints != 1 {
		t.Errorf("expected 1 total point, got %d", metrics.TotalPoints)
	}
}

func TestManager_CreateAndRestoreCompressed(t *testing.T) {
	m := newTestManager(t, config.RecoveryConfig{MaxRecoveryPoints: 5, Compression: true})
	ctx := context.Background()

	want := []byte("this payload should round-trip through gzip compression correctly")
	id := m.CreateRecoveryPoint(ctx, func() ([]byte, error) { return want, nil }, nil)
	if id == "" {
		t.Fatal("expected non-empty point id")
	}

	points := m.Points()
	if len(points) != 1 || !points[0].Compressed {
		t.Fatalf("expected one compressed point, got %+v", points)
	}

	var got []byte
	ok := m.RestoreFromPoint(ctx, id, func(data []byte) error {
		got = data
		return nil
	})
	if !ok {
		t.Fatal("expected restore to succeed")
	}
	if string(got) != string(want) {
		t.Errorf("restored payload mismatch: got %q want %q", got, want)
	}
}

func TestManager_RestoreChecksumMismatchQuarantines(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, config.RecoveryConfig{MaxRecoveryPoints: 5, StoragePath: dir})
	ctx := context.Background()

	id := m.CreateRecoveryPoint(ctx, func() ([]byte, error) { return []byte("original"), nil }, nil)
	if id == "" {
		t.Fatal("expected non-empty point id")
	}

	// Tamper with the persisted payload so its checksum no longer matches.
	path := filepath.Join(dir, id+pointExt)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	rec.Payload = base64.StdEncoding.EncodeToString([]byte("tampered"))
	tampered, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := os.WriteFile(path, tampered, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var callbackErr error
	m.OnError(func(gotID string, err error) {
		if gotID == id {
			callbackErr = err
		}
	})

	ok := m.RestoreFromPoint(ctx, id, func([]byte) error { return nil })
	if ok {
		t.Fatal("expected restore to fail on checksum mismatch")
	}
	if callbackErr == nil {
		t.Error("expected error callback to fire")
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected original record removed, err = %v", err)
	}
	if _, err := os.Stat(path + badExt); err != nil {
		t.Errorf("expected quarantined .bad file, err = %v", err)
	}

	if len(m.Points()) != 0 {
		t.Errorf("expected quarantined point removed from table, got %d", len(m.Points()))
	}

	metrics := m.Metrics()
	if metrics.FailedRecoveries != 1 {
		t.Errorf("expected 1 failed recovery, got %d", metrics.FailedRecoveries)
	}
}

func TestManager_RestoreMissingPointFires(t *testing.T) {
	m := newTestManager(t, config.RecoveryConfig{MaxRecoveryPoints: 5})
	ctx := context.Background()

	var callbackErr error
	m.OnError(func(id string, err error) { callbackErr = err })

	ok := m.RestoreFromPoint(ctx, "does-not-exist", func([]byte) error { return nil })
	if ok {
		t.Fatal("expected restore of missing point to fail")
	}
	if callbackErr == nil {
		t.Error("expected error callback to fire for missing point")
	}
}

func TestManager_RetentionEviction(t *testing.T) {
	m := newTestManager(t, config.RecoveryConfig{MaxRecoveryPoints: 2})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		id := m.CreateRecoveryPoint(ctx, func() ([]byte, error) { return []byte("state"), nil }, nil)
		if id == "" {
			t.Fatalf("expected point %d to be created", i)
		}
		ids = append(ids, id)
	}

	points := m.Points()
	if len(points) != 2 {
		t.Fatalf("expected retention to cap at 2 points, got %d", len(points))
	}

	// The two oldest points should have been evicted from the store.
	for _, id := range ids[:2] {
		if m.RestoreFromPoint(ctx, id, func([]byte) error { return nil }) {
			t.Errorf("expected evicted point %s to no longer restore", id)
		}
	}
	// The two newest should remain.
	for _, id := range ids[2:] {
		if !m.RestoreFromPoint(ctx, id, func([]byte) error { return nil }) {
			t.Errorf("expected retained point %s to restore", id)
		}
	}
}

func TestManager_LoadExistingQuarantinesUnparseable(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad-point"+pointExt), []byte("not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	m := newTestManager(t, config.RecoveryConfig{MaxRecoveryPoints: 5, StoragePath: dir})

	if len(m.Points()) != 0 {
		t.Errorf("expected unparseable record not loaded into table, got %d", len(m.Points()))
	}
	if _, err := os.Stat(filepath.Join(dir, "bad-point"+pointExt+badExt)); err != nil {
		t.Errorf("expected unparseable record quarantined, err = %v", err)
	}
}

func TestManager_LoadExistingRebuildsTable(t *testing.T) {
	dir := t.TempDir()
	cfg := config.RecoveryConfig{MaxRecoveryPoints: 5, StoragePath: dir}

	first := newTestManager(t, cfg)
	ctx := context.Background()
	id := first.CreateRecoveryPoint(ctx, func() ([]byte, error) { return []byte("persisted state"), nil }, nil)
	if id == "" {
		t.Fatal("expected non-empty point id")
	}

	second := newTestManager(t, cfg)
	points := second.Points()
	if len(points) != 1 || points[0].ID != id {
		t.Fatalf("expected reloaded manager to see point %s, got %+v", id, points)
	}

	var got []byte
	if !second.RestoreFromPoint(ctx, id, func(data []byte) error { got = data; return nil }) {
		t.Fatal("expected restore from reloaded manager to succeed")
	}
	if string(got) != "persisted state" {
		t.Errorf("restored payload mismatch: got %q", got)
	}
}

func TestManager_RestoreCallbackErrorFiresCallback(t *testing.T) {
	m := newTestManager(t, config.RecoveryConfig{MaxRecoveryPoints: 5})
	ctx := context.Background()

	id := m.CreateRecoveryPoint(ctx, func() ([]byte, error) { return []byte("state"), nil }, nil)
	if id == "" {
		t.Fatal("expected non-empty point id")
	}

	wantErr := errors.New("apply failed")
	var callbackErr error
	m.OnError(func(gotID string, err error) {
		if gotID == id {
			callbackErr = err
		}
	})

	if m.RestoreFromPoint(ctx, id, func([]byte) error { return wantErr }) {
		t.Fatal("expected restore to fail when callback errors")
	}
	if callbackErr == nil {
		t.Error("expected error callback to fire when restore callback errors")
	}
}

func TestManager_HealthCheckAndComponentName(t *testing.T) {
	m := newTestManager(t, config.RecoveryConfig{MaxRecoveryPoints: 5})

	if m.ComponentName() != "recovery" {
		t.Errorf("expected component name 'recovery', got %q", m.ComponentName())
	}
	if err := m.HealthCheck(context.Background()); err != nil {
		t.Errorf("expected healthy store, got %v", err)
	}
}

func TestManager_HealthCheckFailsOnUnreadableStore(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, config.RecoveryConfig{MaxRecoveryPoints: 5, StoragePath: dir})

	if err := os.Chmod(dir, 0o000); err != nil {
		t.Fatalf("Chmod: %v", err)
	}
	defer func() { _ = os.Chmod(dir, 0o755) }()

	if os.Geteuid() == 0 {
		t.Skip("running as root, permission bits are not enforced")
	}
	if err := m.HealthCheck(context.Background()); err == nil {
		t.Error("expected health check to fail on unreadable store directory")
	}
}

func TestManager_Shutdown(t *testing.T) {
	m := newTestManager(t, config.RecoveryConfig{MaxRecoveryPoints: 5})
	if err := m.Shutdown(context.Background()); err != nil {
		t.Errorf("expected clean shutdown, got %v", err)
	}
}

func TestManager_CreateRecoveryPointCaptureFailure(t *testing.T) {
	m := newTestManager(t, config.RecoveryConfig{MaxRecoveryPoints: 5})

	id := m.CreateRecoveryPoint(context.Background(), func() ([]byte, error) {
		return nil, errors.New("capture failed")
	}, nil)
	if id != "" {
		t.Errorf("expected empty id on capture failure, got %q", id)
	}
	if len(m.Points()) != 0 {
		t.Errorf("expected no points tracked after capture failure, got %d", len(m.Points()))
	}
}
