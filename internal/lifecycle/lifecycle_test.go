//go:build unix

package lifecycle

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newController(t *testing.T, argv ...string) (*ProcessController, Paths) {
	t.Helper()
	paths := PathsIn(t.TempDir())
	c := NewProcessController(ProcessOptions{
		Paths:        paths,
		Argv:         argv,
		StartTimeout: 2 * time.Second,
		ExitTimeout:  2 * time.Second,
	})
	return c, paths
}

// killOnCleanup makes sure a launched test process does not outlive the test.
func killOnCleanup(t *testing.T, paths Paths) {
	t.Cleanup(func() {
		if pid, err := ReadPID(paths.PIDFile); err == nil {
			_ = syscall.Kill(pid, syscall.SIGKILL)
		}
	})
}

func assertNotRunning(t *testing.T, c *ProcessController, paths Paths) {
	t.Helper()

	status, err := c.Status()
	require.NoError(t, err)
	assert.False(t, status.Running())
	assert.False(t, status.Stale)

	_, statErr := os.Stat(paths.PIDFile)
	assert.True(t, os.IsNotExist(statErr), "pid file should be removed after a failed start")
}

func TestPathsIn(t *testing.T) {
	p := PathsIn("/tmp")
	assert.Equal(t, "/tmp/termsfx_daemon.pid", p.PIDFile)
	assert.Equal(t, "/tmp/termsfx_daemon.out", p.StdoutLog)
	assert.Equal(t, "/tmp/termsfx_daemon.err", p.StderrLog)
	assert.Equal(t, "/tmp/termsfx_daemon.sock", p.Socket)
	assert.Equal(t, "/tmp/termsfx_daemon.lock", p.LockFile)
}

func TestStatus_NoPIDFile(t *testing.T) {
	c, _ := newController(t)

	status, err := c.Status()
	require.NoError(t, err)
	assert.False(t, status.Running())
	assert.Zero(t, status.PID)
	assert.False(t, status.Stale)
}

func TestStatus_InvalidPIDFile(t *testing.T) {
	tests := []string{"", "abc", "-4", "0", "12 34"}

	for _, content := range tests {
		t.Run(strconv.Quote(content), func(t *testing.T) {
			c, paths := newController(t)
			require.NoError(t, os.WriteFile(paths.PIDFile, []byte(content), 0o644))

			status, err := c.Status()
			assert.ErrorIs(t, err, ErrInvalidPID)
			assert.False(t, status.Running())

			_, err = c.Stop(context.Background())
			assert.ErrorIs(t, err, ErrInvalidPID)
		})
	}
}

func TestStatus_StalePIDFile(t *testing.T) {
	c, paths := newController(t)

	cmd := exec.Command("/bin/sh", "-c", "exit 0")
	require.NoError(t, cmd.Run())
	require.NoError(t, WritePID(paths.PIDFile, cmd.Process.Pid))

	status, err := c.Status()
	require.NoError(t, err)
	assert.False(t, status.Running())
	assert.True(t, status.Stale)
	assert.Equal(t, cmd.Process.Pid, status.PID)

	_, err = c.Stop(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
	_, statErr := os.Stat(paths.PIDFile)
	assert.True(t, os.IsNotExist(statErr), "stale pid file should be removed")
}

func TestStop_NoPIDFile(t *testing.T) {
	c, _ := newController(t)

	_, err := c.Stop(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestLifecycle_RoundTrip(t *testing.T) {
	c, paths := newController(t, "/bin/sh", "-c", "exec sleep 30")
	killOnCleanup(t, paths)

	status, err := c.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Running())
	assert.Positive(t, status.PID)
	assert.False(t, status.Since.IsZero())

	status, err = c.Status()
	require.NoError(t, err)
	assert.True(t, status.Running())

	_, err = c.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	pid, err := c.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, status.PID, pid)

	require.Eventually(t, func() bool {
		s, err := c.Status()
		return err == nil && !s.Running()
	}, 2*time.Second, 20*time.Millisecond)

	_, err = os.Stat(paths.StdoutLog)
	assert.NoError(t, err)
	_, err = os.Stat(paths.StderrLog)
	assert.NoError(t, err)
}

func TestLifecycle_Restart(t *testing.T) {
	c, paths := newController(t, "/bin/sh", "-c", "exec sleep 30")
	killOnCleanup(t, paths)

	first, err := c.Start(context.Background())
	require.NoError(t, err)

	second, err := c.Restart(context.Background())
	require.NoError(t, err)
	assert.True(t, second.Running())
	assert.NotEqual(t, first.PID, second.PID)
	assert.False(t, processAlive(first.PID))
}

func TestLifecycle_RestartWhenNotRunning(t *testing.T) {
	c, paths := newController(t, "/bin/sh", "-c", "exec sleep 30")
	killOnCleanup(t, paths)

	status, err := c.Restart(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Running())
}

func TestStart_ReportsEarlyExit(t *testing.T) {
	paths := PathsIn(t.TempDir())
	c := NewProcessController(ProcessOptions{
		Paths:        paths,
		Argv:         []string{"/bin/sh", "-c", "echo broken >&2; exit 3"},
		Ready:        func() bool { return false },
		StartTimeout: 2 * time.Second,
	})

	_, err := c.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited during startup")

	data, readErr := os.ReadFile(paths.StderrLog)
	require.NoError(t, readErr)
	assert.Equal(t, "broken\n", string(data))

	assertNotRunning(t, c, paths)
}

func TestStart_ReadyTimeoutTerminatesChild(t *testing.T) {
	paths := PathsIn(t.TempDir())
	killOnCleanup(t, paths)
	c := NewProcessController(ProcessOptions{
		Paths:        paths,
		Argv:         []string{"/bin/sh", "-c", "exec sleep 30"},
		Ready:        func() bool { return false },
		StartTimeout: 200 * time.Millisecond,
		ExitTimeout:  2 * time.Second,
	})

	_, err := c.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not become ready")

	assertNotRunning(t, c, paths)
}

func TestStart_CancelledTerminatesStubbornChild(t *testing.T) {
	paths := PathsIn(t.TempDir())
	killOnCleanup(t, paths)

	var launched int
	c := NewProcessController(ProcessOptions{
		Paths: paths,
		// Ignores SIGTERM, so only the kill fallback stops it.
		Argv: []string{"/bin/sh", "-c", "trap '' TERM; while :; do sleep 1; done"},
		Ready: func() bool {
			if launched == 0 {
				launched, _ = ReadPID(paths.PIDFile)
			}
			return false
		},
		ExitTimeout: 200 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := c.Start(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assertNotRunning(t, c, paths)
	require.Positive(t, launched)
	assert.False(t, processAlive(launched))
}

func TestStart_LogFileFailure(t *testing.T) {
	dir := t.TempDir()
	paths := PathsIn(dir)
	paths.StdoutLog = filepath.Join(dir, "missing", "out")
	c := NewProcessController(ProcessOptions{
		Paths: paths,
		Argv:  []string{"/bin/sh", "-c", "exec sleep 30"},
	})

	_, err := c.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stdout log file")

	_, statErr := os.Stat(paths.PIDFile)
	assert.True(t, os.IsNotExist(statErr))
}

func TestWaitForExit_Timeout(t *testing.T) {
	err := WaitForExit(context.Background(), os.Getpid(), 60*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not exit")
}

func TestInstance_SingleInstance(t *testing.T) {
	paths := PathsIn(t.TempDir())

	first, err := Acquire(paths, nil)
	require.NoError(t, err)

	pid, err := ReadPID(paths.PIDFile)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	_, err = Acquire(paths, nil)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, first.Release())
	require.NoError(t, first.Release())

	_, err = os.Stat(paths.PIDFile)
	assert.True(t, os.IsNotExist(err))

	again, err := Acquire(paths, nil)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestInstance_ReleaseKeepsForeignPIDFile(t *testing.T) {
	paths := PathsIn(t.TempDir())

	inst, err := Acquire(paths, nil)
	require.NoError(t, err)
	require.NoError(t, WritePID(paths.PIDFile, 1))

	require.NoError(t, inst.Release())
	pid, err := ReadPID(paths.PIDFile)
	require.NoError(t, err)
	assert.Equal(t, 1, pid)
}

func TestStatus_Uptime(t *testing.T) {
	now := time.Now()
	running := Status{State: StateRunning, Since: now.Add(-time.Minute)}
	assert.Equal(t, time.Minute, running.Uptime(now))

	stopped := Status{State: StateNotRunning, Since: now.Add(-time.Minute)}
	assert.Zero(t, stopped.Uptime(now))

	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "not running", StateNotRunning.String())
}
