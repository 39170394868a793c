package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kernelfabric/fabric/pkg/fabricerr"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateCatchesInvalidLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "NOISY"

	err := cfg.Validate()
	require.Error(t, err)
	require.True(t, fabricerr.Is(err, fabricerr.ConfigInvalid))
}

func TestValidateCatchesUnknownStrategy(t *testing.T) {
	cfg := Default()
	cfg.LoadBalancer.Strategy = "fastest_wins"

	require.Error(t, cfg.Validate())
}

func TestValidateCatchesCacheSizeInversion(t *testing.T) {
	cfg := Default()
	cfg.Cache.Dynamic.InitialSize = cfg.Cache.Dynamic.MaxSize + 1

	require.Error(t, cfg.Validate())
}

func TestValidateCatchesBadDuration(t *testing.T) {
	cfg := Default()
	cfg.Recovery.CheckpointInterval = "soon"

	require.Error(t, cfg.Validate())
}

func TestResolvedMaxThreadsAuto(t *testing.T) {
	cfg := Default()
	n, err := cfg.ThreadPool.ResolvedMaxThreads()
	require.NoError(t, err)
	require.Greater(t, n, 0)
}

func TestResolvedMaxThreadsExplicit(t *testing.T) {
	cfg := Default()
	cfg.ThreadPool.MaxThreads = "16"
	n, err := cfg.ThreadPool.ResolvedMaxThreads()
	require.NoError(t, err)
	require.Equal(t, 16, n)
}

func TestLoadFromFileRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fabric.json")

	original := Default()
	original.LoadBalancer.Strategy = StrategyLeastLoaded
	require.NoError(t, original.SaveToFile(path))

	loaded := &Configuration{}
	require.NoError(t, loaded.LoadFromFile(path))
	require.Equal(t, StrategyLeastLoaded, loaded.LoadBalancer.Strategy)
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := Default()
	require.Error(t, cfg.LoadFromFile("/nonexistent/fabric.json"))
}

func TestLoadFromEnvOverridesSelectedFields(t *testing.T) {
	t.Setenv("FABRIC_LOG_LEVEL", "DEBUG")
	t.Setenv("FABRIC_LOAD_BALANCER_STRATEGY", "round_robin")
	t.Setenv("FABRIC_AUDIT_ENABLED", "true")

	cfg := Default()
	require.NoError(t, cfg.LoadFromEnv())

	require.Equal(t, "DEBUG", cfg.Logging.Level)
	require.Equal(t, StrategyRoundRobin, cfg.LoadBalancer.Strategy)
	require.True(t, cfg.Security.AuditEnabled)
}

func TestSaveToFileCreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "fabric.json")

	require.NoError(t, Default().SaveToFile(path))

	_, err := os.Stat(path)
	require.NoError(t, err)
}
