package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFile_AcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "gateway.pid")
	p := NewPIDFile(path)

	require.NoError(t, p.Acquire())
	assert.Equal(t, os.Getpid(), p.Running())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	// Re-acquiring from the same process is allowed.
	require.NoError(t, p.Acquire())

	p.Release()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.Zero(t, p.Running())
}

func TestPIDFile_RefusesLiveProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.pid")
	// The test's parent process is alive and is not us.
	parent := os.Getppid()
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(parent)), 0o644))

	err := NewPIDFile(path).Acquire()
	var running *ProcessRunningError
	require.True(t, errors.As(err, &running))
	assert.Equal(t, parent, running.PID)
	assert.Equal(t, path, running.Path)
}

func TestPIDFile_ReplacesStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o644))

	p := NewPIDFile(path)
	require.NoError(t, p.Acquire())
	assert.Equal(t, os.Getpid(), p.Running())
}

func TestPIDFile_ReleaseLeavesForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getppid())), 0o644))

	NewPIDFile(path).Release()
	_, err := os.Stat(path)
	assert.NoError(t, err)
}
