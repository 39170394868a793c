package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRotatorCreatesFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "fabric.log")

	rotator, err := NewRotator(&RotationConfig{
		Filename:   logFile,
		MaxSize:    1,
		MaxAge:     7,
		MaxBackups: 3,
	})
	require.NoError(t, err)
	defer func() { _ = rotator.Close() }()

	_, err = os.Stat(logFile)
	require.NoError(t, err)
}

func TestRotatorWriteTracksSize(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "fabric.log")

	rotator, err := NewRotator(&RotationConfig{Filename: logFile, MaxSize: 1})
	require.NoError(t, err)
	defer func() { _ = rotator.Close() }()

	message := []byte("dispatch fabric started\n")
	n, err := rotator.Write(message)
	require.NoError(t, err)
	require.Equal(t, len(message), n)
	require.Equal(t, int64(len(message)), rotator.size)
}

func TestForceRotateCreatesBackup(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "fabric.log")

	rotator, err := NewRotator(&RotationConfig{Filename: logFile, MaxBackups: 2})
	require.NoError(t, err)
	defer func() { _ = rotator.Close() }()

	_, err = rotator.Write([]byte("before rotation\n"))
	require.NoError(t, err)

	require.NoError(t, rotator.ForceRotate())

	entries, err := os.ReadDir(filepath.Dir(logFile))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(entries), 2)
}

func TestMissingFilenameRejected(t *testing.T) {
	_, err := NewRotator(&RotationConfig{})
	require.Error(t, err)
}
