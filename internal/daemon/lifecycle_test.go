package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLifecycleManager(t *testing.T) {
	daemon, _ := createTestDaemon(t, nil)

	lm := NewLifecycleManager(daemon)
	assert.Equal(t, daemon, lm.daemon)
	assert.Equal(t, filepath.Join(daemon.config.DataDir, "nexus.pid"), lm.pidFile)
}

func TestLifecycleManagerStartStop(t *testing.T) {
	daemon, _ := createTestDaemon(t, nil)
	daemon.config.DataDir = filepath.Join(daemon.config.DataDir, "nested")
	lm := NewLifecycleManager(daemon)

	require.NoError(t, lm.Start())
	pid, err := lm.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, lm.IsRunning())

	require.NoError(t, lm.Stop())
	assert.NoFileExists(t, lm.pidFile)
	assert.False(t, lm.IsRunning())

	// Stopping twice is fine.
	require.NoError(t, lm.Stop())
}

func TestLifecycleManager_RefusesLiveOwner(t *testing.T) {
	daemon, _ := createTestDaemon(t, nil)
	lm := NewLifecycleManager(daemon)

	require.NoError(t, os.WriteFile(lm.pidFile, []byte(strconv.Itoa(os.Getppid())), 0644))
	err := lm.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another daemon is running")
}

func TestReadPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.pid")

	_, err := ReadPID(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("abc"), 0644))
	_, err = ReadPID(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("42\n"), 0644))
	pid, err := ReadPID(path)
	require.NoError(t, err)
	assert.Equal(t, 42, pid)
}
