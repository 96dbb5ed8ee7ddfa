package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootDirHonorsEnvOverride(t *testing.T) {
	t.Setenv(RuntimeDirEnv, "/tmp/custom-runtime")
	dir, err := RootDir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom-runtime", dir)
}

func TestEnsureRootDirCreatesWithStrictMode(t *testing.T) {
	base := t.TempDir()
	t.Setenv(RuntimeDirEnv, filepath.Join(base, "runtime"))

	dir, err := EnsureRootDir()
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}

func TestEnsureRootDirRejectsLoosePermissions(t *testing.T) {
	base := t.TempDir()
	loose := filepath.Join(base, "loose")
	require.NoError(t, os.MkdirAll(loose, 0o755))
	t.Setenv(RuntimeDirEnv, loose)

	_, err := EnsureRootDir()
	assert.Error(t, err)
}

func TestWriteAndReadPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp-queue.pid")
	require.NoError(t, WritePIDFile(path))
	assert.Equal(t, os.Getpid(), ReadPIDFile(path))
}

func TestReadPIDFileMissingReturnsZero(t *testing.T) {
	assert.Zero(t, ReadPIDFile(filepath.Join(t.TempDir(), "missing.pid")))
}

func TestIsProcessAliveForSelf(t *testing.T) {
	assert.True(t, IsProcessAlive(os.Getpid()))
}

func TestRemoveStaleCleansUpDeadDaemon(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "mcp-queue.sock")
	pidPath := filepath.Join(dir, "mcp-queue.pid")

	require.NoError(t, os.WriteFile(socketPath, []byte{}, 0o600))
	require.NoError(t, os.WriteFile(pidPath, []byte("999999999"), 0o600)) // very unlikely to be a live pid

	cleaned, err := RemoveStale(socketPath, pidPath)
	require.NoError(t, err)
	assert.True(t, cleaned)

	_, statErr := os.Stat(socketPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRemoveStaleRefusesWhenDaemonAlive(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "mcp-queue.sock")
	pidPath := filepath.Join(dir, "mcp-queue.pid")
	require.NoError(t, WritePIDFile(pidPath))

	_, err := RemoveStale(socketPath, pidPath)
	assert.Error(t, err)
}
