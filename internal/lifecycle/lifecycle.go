// Package lifecycle starts, stops and inspects the detached termsfx daemon
// through its fixed PID file, and holds the daemon-side single instance lock.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const filePrefix = "termsfx_daemon"

var (
	// ErrNotRunning is returned when no daemon process is recorded or alive.
	ErrNotRunning = errors.New("daemon is not running")
	// ErrInvalidPID is returned when the PID file does not hold a usable process id.
	ErrInvalidPID = errors.New("invalid pid file")
	// ErrAlreadyRunning is returned when a live daemon already holds the PID file or lock.
	ErrAlreadyRunning = errors.New("daemon is already running")
)

// Paths are the fixed side-channel files of the daemon. Only one daemon may
// run per machine, so the names carry no per-instance component.
type Paths struct {
	PIDFile   string
	StdoutLog string
	StderrLog string
	Socket    string
	LockFile  string
}

// DefaultPaths returns the paths under the system temporary directory.
func DefaultPaths() Paths {
	return PathsIn(os.TempDir())
}

// PathsIn returns the paths under dir.
func PathsIn(dir string) Paths {
	name := func(ext string) string {
		return filepath.Join(dir, filePrefix+"."+ext)
	}
	return Paths{
		PIDFile:   name("pid"),
		StdoutLog: name("out"),
		StderrLog: name("err"),
		Socket:    name("sock"),
		LockFile:  name("lock"),
	}
}

// State is the daemon's run state as seen from the PID file.
type State int

const (
	StateNotRunning State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "not running"
}

// Status describes the recorded daemon process.
type Status struct {
	State State

	// PID is the recorded process id, zero when no PID file exists.
	PID int

	// Stale is set when a PID file exists but its process is gone.
	Stale bool

	// Since is when the PID file was written.
	Since time.Time
}

// Running reports whether the daemon is running.
func (s Status) Running() bool {
	return s.State == StateRunning
}

// Uptime returns how long the daemon has been running, relative to now.
func (s Status) Uptime(now time.Time) time.Duration {
	if !s.Running() || s.Since.IsZero() {
		return 0
	}
	return now.Sub(s.Since)
}

// Controller drives the daemon's NOT_RUNNING/RUNNING state machine.
type Controller interface {
	// Start launches a detached daemon. It fails with ErrAlreadyRunning if
	// one is alive.
	Start(ctx context.Context) (Status, error)

	// Stop signals the recorded daemon to terminate and returns its PID.
	// Success means the signal was delivered, not that the process exited.
	Stop(ctx context.Context) (int, error)

	// Status reports whether the recorded daemon is alive. A missing PID
	// file is reported as not running without error.
	Status() (Status, error)

	// Restart stops the daemon if it is running, waits for it to exit and
	// starts a new one.
	Restart(ctx context.Context) (Status, error)
}

// ReadPID reads the process id recorded at path.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNotRunning
		}
		return 0, fmt.Errorf("failed to read pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidPID, path)
	}
	return pid, nil
}

// WritePID records pid at path.
func WritePID(path string, pid int) error {
	value := strconv.Itoa(pid) + "\n"
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}
