//go:build unix

package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// DefaultStartTimeout bounds the wait for a launched daemon to become ready.
	DefaultStartTimeout = 5 * time.Second
	// DefaultExitTimeout bounds the wait for a stopped daemon to exit on restart.
	DefaultExitTimeout = 5 * time.Second

	pollInterval = 50 * time.Millisecond
)

// ProcessOptions configures a ProcessController.
type ProcessOptions struct {
	Paths Paths

	// Argv is the command that runs the daemon in the foreground.
	Argv []string

	// Ready reports whether a launched daemon is serving. Nil treats the
	// daemon as ready as soon as the process is started.
	Ready func() bool

	StartTimeout time.Duration
	ExitTimeout  time.Duration

	Logger *slog.Logger
}

// ProcessController controls the daemon as a detached child process,
// using the PID file for bookkeeping and signals for termination.
type ProcessController struct {
	opts   ProcessOptions
	logger *slog.Logger
}

// NewProcessController creates a controller.
func NewProcessController(opts ProcessOptions) *ProcessController {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = DefaultStartTimeout
	}
	if opts.ExitTimeout <= 0 {
		opts.ExitTimeout = DefaultExitTimeout
	}
	return &ProcessController{
		opts:   opts,
		logger: opts.Logger,
	}
}

// Paths returns the side-channel files the controller uses.
func (c *ProcessController) Paths() Paths {
	return c.opts.Paths
}

// Status implements Controller.
func (c *ProcessController) Status() (Status, error) {
	pid, err := ReadPID(c.opts.Paths.PIDFile)
	if errors.Is(err, ErrNotRunning) {
		return Status{State: StateNotRunning}, nil
	}
	if err != nil {
		return Status{State: StateNotRunning}, err
	}

	status := Status{State: StateNotRunning, PID: pid}
	if info, statErr := os.Stat(c.opts.Paths.PIDFile); statErr == nil {
		status.Since = info.ModTime()
	}

	if processAlive(pid) {
		status.State = StateRunning
	} else {
		status.Stale = true
	}
	return status, nil
}

// Start implements Controller. The daemon runs in its own session with
// stdout and stderr redirected to the fixed log files.
func (c *ProcessController) Start(ctx context.Context) (Status, error) {
	if len(c.opts.Argv) == 0 {
		return Status{}, errors.New("no daemon command configured")
	}

	status, err := c.Status()
	if err != nil && !errors.Is(err, ErrInvalidPID) {
		return status, err
	}
	if status.Running() {
		return status, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, status.PID)
	}

	stdout, err := os.Create(c.opts.Paths.StdoutLog)
	if err != nil {
		return Status{}, fmt.Errorf("failed to create stdout log file: %w", err)
	}
	defer func() { _ = stdout.Close() }()

	stderr, err := os.Create(c.opts.Paths.StderrLog)
	if err != nil {
		return Status{}, fmt.Errorf("failed to create stderr log file: %w", err)
	}
	defer func() { _ = stderr.Close() }()

	cmd := exec.Command(c.opts.Argv[0], c.opts.Argv[1:]...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Dir = "/"
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return Status{}, fmt.Errorf("failed to launch daemon: %w", err)
	}
	pid := cmd.Process.Pid

	// Reaps the child if it exits while this process is still around.
	child := &launchedChild{pid: pid, done: make(chan struct{})}
	go func() {
		child.err = cmd.Wait()
		close(child.done)
	}()

	if err := WritePID(c.opts.Paths.PIDFile, pid); err != nil {
		c.abortStart(child)
		return Status{}, err
	}
	c.logger.Debug("daemon launched", "pid", pid, "argv", c.opts.Argv)

	if err := c.waitReady(ctx, child); err != nil {
		c.abortStart(child)
		return Status{}, err
	}

	return c.Status()
}

type launchedChild struct {
	pid  int
	done chan struct{}
	err  error // valid once done is closed
}

func (c *ProcessController) waitReady(ctx context.Context, child *launchedChild) error {
	if c.opts.Ready == nil {
		return nil
	}

	deadline := time.NewTimer(c.opts.StartTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if c.opts.Ready() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-child.done:
			return fmt.Errorf("daemon exited during startup (see %s): %v", c.opts.Paths.StderrLog, child.err)
		case <-deadline.C:
			return fmt.Errorf("daemon did not become ready within %s (see %s)", c.opts.StartTimeout, c.opts.Paths.StderrLog)
		case <-ticker.C:
		}
	}
}

// abortStart undoes a failed launch: the child is terminated (killed if it
// ignores SIGTERM) and reaped, and its PID file removed.
func (c *ProcessController) abortStart(child *launchedChild) {
	select {
	case <-child.done:
	default:
		if err := unix.Kill(child.pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			c.logger.Warn("failed to signal daemon after failed start", "pid", child.pid, "error", err)
		}
		select {
		case <-child.done:
		case <-time.After(c.opts.ExitTimeout):
			c.logger.Warn("daemon ignored SIGTERM after failed start, killing", "pid", child.pid)
			_ = unix.Kill(child.pid, unix.SIGKILL)
			<-child.done
		}
	}
	c.removeStalePID(child.pid)
}

// Stop implements Controller.
func (c *ProcessController) Stop(ctx context.Context) (int, error) {
	pid, err := ReadPID(c.opts.Paths.PIDFile)
	if err != nil {
		return 0, err
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}

	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			c.removeStalePID(pid)
			return pid, fmt.Errorf("%w: no process with pid %d", ErrNotRunning, pid)
		}
		return pid, fmt.Errorf("failed to signal daemon (pid %d): %w", pid, err)
	}

	c.logger.Debug("sent SIGTERM to daemon", "pid", pid)
	return pid, nil
}

// Restart implements Controller. Unlike a bare stop followed by start, it
// waits for the previous process to exit so the socket is free to bind.
func (c *ProcessController) Restart(ctx context.Context) (Status, error) {
	pid, err := c.Stop(ctx)
	switch {
	case err == nil:
		if waitErr := WaitForExit(ctx, pid, c.opts.ExitTimeout); waitErr != nil {
			return Status{}, waitErr
		}
	case errors.Is(err, ErrNotRunning), errors.Is(err, ErrInvalidPID):
		c.logger.Debug("daemon was not running before restart", "error", err)
	default:
		return Status{}, err
	}

	return c.Start(ctx)
}

func (c *ProcessController) removeStalePID(pid int) {
	current, err := ReadPID(c.opts.Paths.PIDFile)
	if err != nil || current != pid {
		return
	}
	if err := os.Remove(c.opts.Paths.PIDFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("failed to remove stale pid file", "path", c.opts.Paths.PIDFile, "error", err)
	}
}

// WaitForExit polls until pid no longer exists or timeout elapses.
func WaitForExit(ctx context.Context, pid int, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for processAlive(pid) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("daemon (pid %d) did not exit within %s", pid, timeout)
		case <-ticker.C:
		}
	}
	return nil
}

// processAlive reports whether pid names a live process. A process that
// exists but belongs to another user still counts; a zombie does not.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err != nil && !errors.Is(err, unix.EPERM) {
		return false
	}
	return !isZombie(pid)
}

// isZombie reads the process state from procfs where available.
func isZombie(pid int) bool {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return false
	}
	// The state follows the parenthesised command name.
	i := bytes.LastIndexByte(data, ')')
	if i < 0 || i+2 >= len(data) {
		return false
	}
	return data[i+2] == 'Z'
}
