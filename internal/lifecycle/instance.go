package lifecycle

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/gofrs/flock"
)

// Instance is held by the running daemon. It owns the single instance lock
// and the PID file for the lifetime of the process.
type Instance struct {
	paths  Paths
	lock   *flock.Flock
	pid    int
	logger *slog.Logger
}

// Acquire takes the daemon lock and records the current process id. It
// fails with ErrAlreadyRunning if another daemon holds the lock.
func Acquire(paths Paths, logger *slog.Logger) (*Instance, error) {
	if logger == nil {
		logger = slog.Default()
	}

	lock := flock.New(paths.LockFile)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, paths.LockFile)
	}

	pid := os.Getpid()
	if err := WritePID(paths.PIDFile, pid); err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	logger.Debug("daemon instance acquired", "pid", pid, "lock", paths.LockFile)
	return &Instance{
		paths:  paths,
		lock:   lock,
		pid:    pid,
		logger: logger,
	}, nil
}

// Release removes the PID file if it still names this process and releases
// the lock. It is safe to call more than once.
func (i *Instance) Release() error {
	if i == nil || i.lock == nil {
		return nil
	}

	if pid, err := ReadPID(i.paths.PIDFile); err == nil && pid == i.pid {
		if err := os.Remove(i.paths.PIDFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			i.logger.Warn("failed to remove pid file", "path", i.paths.PIDFile, "error", err)
		}
	}

	err := i.lock.Unlock()
	i.lock = nil
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
