// Package main provides the CLI entrypoint for termsfx.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/termsfx/internal/config"
	"github.com/jmylchreest/termsfx/internal/lifecycle"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// Global configuration and state
var (
	globalOpts struct {
		verbose    bool
		configPath string
		runtimeDir string
	}
	logger *slog.Logger
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "termsfx",
	Short: "Play sound effects for shell commands",
	Long: `termsfx plays configured sound effects when shell commands match a pattern.

A background daemon owns the audio device and keeps the rules loaded, so the
shell hook only has to send a small request over a unix socket:

  preexec() { termsfx play "$1" }

Rules are read from ~/.config/termsfx/termsfx.json and reloaded on change.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogger(slog.LevelWarn)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&globalOpts.verbose, "verbose", "v", false,
		"Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&globalOpts.configPath, "config", "",
		"Path to config file (default: ~/.config/termsfx/termsfx.json)")
	rootCmd.PersistentFlags().StringVar(&globalOpts.runtimeDir, "runtime-dir", "",
		"Directory for the daemon socket, pid and log files (default: system temp dir)")
	_ = rootCmd.PersistentFlags().MarkHidden("runtime-dir")
}

// setupLogger configures the global slog logger. Verbose always means debug.
func setupLogger(level slog.Level) {
	if globalOpts.verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	// Log to stderr so stdout is clean for output
	handler := slog.NewTextHandler(os.Stderr, opts)
	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// configPath returns the config file in effect.
func configPath() (string, error) {
	if globalOpts.configPath != "" {
		return globalOpts.configPath, nil
	}
	return config.DefaultPath()
}

// runtimePaths returns the daemon's side-channel files.
func runtimePaths() lifecycle.Paths {
	if globalOpts.runtimeDir != "" {
		return lifecycle.PathsIn(globalOpts.runtimeDir)
	}
	return lifecycle.DefaultPaths()
}
