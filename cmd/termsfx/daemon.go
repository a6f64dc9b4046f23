package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/termsfx/internal/daemon"
	"github.com/jmylchreest/termsfx/internal/lifecycle"
)

// daemonCmd represents the daemon command group.
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Control the termsfx daemon",
	Long: `Control the background termsfx daemon.

The daemon detaches from the terminal and writes its output to
termsfx_daemon.out and termsfx_daemon.err in the system temp directory.
Its process id is recorded in termsfx_daemon.pid next to them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to showing status
		return daemonStatusRun(cmd, args)
	},
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	Args:  cobra.NoArgs,
	RunE:  daemonStartRun,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	Long:  `Send SIGTERM to the recorded daemon process.`,
	Args:  cobra.NoArgs,
	RunE:  daemonStopRun,
}

var daemonRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the daemon",
	Long:  `Stop the daemon, wait for it to exit and start it again.`,
	Args:  cobra.NoArgs,
	RunE:  daemonRestartRun,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the daemon is running",
	Args:  cobra.NoArgs,
	RunE:  daemonStatusRun,
}

// daemonRunCmd runs the daemon in the foreground. daemon start launches it
// detached.
var daemonRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run the daemon in the foreground",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   daemonRunRun,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonRestartCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonRunCmd)
}

// newController builds the process controller that re-executes this binary
// with "daemon run".
func newController() (*lifecycle.ProcessController, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}

	path, err := configPath()
	if err != nil {
		return nil, err
	}
	// The daemon runs from /, so relative paths must be made absolute here.
	if abs, absErr := filepath.Abs(path); absErr == nil {
		path = abs
	}

	paths := runtimePaths()
	argv := []string{exe, "daemon", "run", "--config", path}
	if globalOpts.runtimeDir != "" {
		dir, _ := filepath.Abs(globalOpts.runtimeDir)
		argv = append(argv, "--runtime-dir", dir)
	}
	if globalOpts.verbose {
		argv = append(argv, "--verbose")
	}

	return lifecycle.NewProcessController(lifecycle.ProcessOptions{
		Paths: paths,
		Argv:  argv,
		Ready: func() bool { return socketReady(paths.Socket) },
	}), nil
}

func socketReady(path string) bool {
	conn, err := net.DialTimeout("unix", path, 100*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func daemonStartRun(cmd *cobra.Command, args []string) error {
	ctl, err := newController()
	if err != nil {
		return err
	}

	status, err := ctl.Start(cmd.Context())
	if errors.Is(err, lifecycle.ErrAlreadyRunning) {
		fmt.Fprintf(cmd.OutOrStdout(), "Daemon is already running with PID %d\n", status.PID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Daemon started with PID %d\n", status.PID)
	return nil
}

func daemonStopRun(cmd *cobra.Command, args []string) error {
	ctl, err := newController()
	if err != nil {
		return err
	}

	pid, err := ctl.Stop(cmd.Context())
	switch {
	case errors.Is(err, lifecycle.ErrNotRunning):
		fmt.Fprintln(cmd.OutOrStdout(), "Daemon is not running")
		return nil
	case err != nil:
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Daemon stopped (PID %d)\n", pid)
	return nil
}

func daemonRestartRun(cmd *cobra.Command, args []string) error {
	ctl, err := newController()
	if err != nil {
		return err
	}

	status, err := ctl.Restart(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to restart daemon: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Daemon restarted with PID %d\n", status.PID)
	return nil
}

func daemonStatusRun(cmd *cobra.Command, args []string) error {
	ctl, err := newController()
	if err != nil {
		return err
	}

	status, err := ctl.Status()
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), formatStatus(status, ctl.Paths(), time.Now()))
	return nil
}

func formatStatus(status lifecycle.Status, paths lifecycle.Paths, now time.Time) string {
	switch {
	case status.Running():
		line := fmt.Sprintf("Daemon is running with PID %d", status.PID)
		if !status.Since.IsZero() {
			line += fmt.Sprintf(" (started %s)", humanize.RelTime(status.Since, now, "ago", "from now"))
		}
		return line
	case status.Stale:
		return fmt.Sprintf("Daemon PID file found but process %d is not running (%s)", status.PID, paths.PIDFile)
	default:
		return "Daemon is not running"
	}
}

func daemonRunRun(cmd *cobra.Command, args []string) error {
	setupLogger(slog.LevelInfo)

	path, err := configPath()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	paths := runtimePaths()
	instance, err := lifecycle.Acquire(paths, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := instance.Release(); err != nil {
			logger.Warn("failed to release daemon instance", "error", err)
		}
	}()

	logger.Info("starting termsfx daemon", "version", version, "pid", os.Getpid(), "config", path)

	d := daemon.New(daemon.Options{
		ConfigPath: path,
		SocketPath: paths.Socket,
		Logger:     logger,
	})
	if err := d.Run(ctx); err != nil {
		logger.Error("daemon failed", "error", err)
		return err
	}
	return nil
}
