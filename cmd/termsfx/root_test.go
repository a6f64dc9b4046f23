package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/termsfx/internal/client"
	"github.com/jmylchreest/termsfx/internal/config"
	"github.com/jmylchreest/termsfx/internal/lifecycle"
)

const testConfig = `{
  "volume": 40,
  "commands": [
    {"command": "^git push", "audioFilePath": "sounds/push.wav"},
    {"command": "make", "audioFilePaths": ["a.wav", "b.wav"]}
  ]
}`

// execute runs the root command with fresh option state.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	globalOpts.verbose = false
	globalOpts.configPath = ""
	globalOpts.runtimeDir = ""
	configOpts.local = false
	configOpts.format = "json"

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	return out.String(), err
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "termsfx.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func runtimeDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "tsfx")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func TestConfigPath(t *testing.T) {
	t.Run("flag", func(t *testing.T) {
		out, err := execute(t, "config", "path", "--config", "/etc/termsfx.json")
		require.NoError(t, err)
		assert.Equal(t, "/etc/termsfx.json\n", out)
	})

	t.Run("xdg", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/xdg")
		out, err := execute(t, "config", "path")
		require.NoError(t, err)
		assert.Equal(t, "/xdg/termsfx/termsfx.json\n", out)
	})
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		path := writeTestConfig(t, testConfig)
		out, err := execute(t, "config", "validate", path)
		require.NoError(t, err)
		assert.Contains(t, out, "2 rules, 3 sounds, volume 40%")
	})

	t.Run("invalid rule", func(t *testing.T) {
		path := writeTestConfig(t, `{"commands": [{"command": "ls", "audioFilePath": "a.wav", "audioFilePaths": ["b.wav"]}]}`)
		_, err := execute(t, "config", "validate", "--config", path)
		require.Error(t, err)
		assert.ErrorIs(t, err, config.ErrInvalidRule)
		assert.Contains(t, err.Error(), "rule 0")
	})
}

func TestConfigPrintLocal(t *testing.T) {
	path := writeTestConfig(t, testConfig)
	dir := filepath.Dir(path)

	t.Run("json", func(t *testing.T) {
		out, err := execute(t, "config", "print", "--local", "--config", path)
		require.NoError(t, err)

		var doc config.Document
		require.NoError(t, json.Unmarshal([]byte(out), &doc))
		assert.Equal(t, path, doc.Path)
		require.Len(t, doc.Commands, 2)
		assert.Equal(t, filepath.Join(dir, "sounds", "push.wav"), *doc.Commands[0].AudioFilePath)
	})

	t.Run("yaml", func(t *testing.T) {
		out, err := execute(t, "config", "print", "--local", "--format", "yaml", "--config", path)
		require.NoError(t, err)

		var doc map[string]any
		require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
		assert.Equal(t, path, doc["path"])
		assert.Equal(t, 40, doc["volume"])
		assert.Len(t, doc["commands"], 2)
	})

	t.Run("table", func(t *testing.T) {
		out, err := execute(t, "config", "print", "--local", "--format", "table", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "^git push")
		assert.Contains(t, out, filepath.Join(dir, "b.wav"))
		assert.Contains(t, out, "volume 40%")
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := execute(t, "config", "print", "--local", "--format", "xml", "--config", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown format")
	})
}

func TestConfigPrint_DaemonNotRunning(t *testing.T) {
	_, err := execute(t, "config", "print", "--runtime-dir", runtimeDir(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrDaemonUnavailable)
	assert.Contains(t, err.Error(), "--local")
}

func TestPlay_SilentWithoutDaemon(t *testing.T) {
	out, err := execute(t, "play", "--runtime-dir", runtimeDir(t), "ls", "-la")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDaemonStatus_NotRunning(t *testing.T) {
	dir := runtimeDir(t)

	out, err := execute(t, "daemon", "status", "--runtime-dir", dir)
	require.NoError(t, err)
	assert.Equal(t, "Daemon is not running\n", out)

	out, err = execute(t, "daemon", "stop", "--runtime-dir", dir)
	require.NoError(t, err)
	assert.Equal(t, "Daemon is not running\n", out)
}

func TestDaemonStatus_InvalidPID(t *testing.T) {
	dir := runtimeDir(t)
	require.NoError(t, os.WriteFile(lifecycle.PathsIn(dir).PIDFile, []byte("garbage"), 0644))

	_, err := execute(t, "daemon", "stop", "--runtime-dir", dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidPID)
}

func TestFormatStatus(t *testing.T) {
	now := time.Now()
	paths := lifecycle.PathsIn("/tmp")

	running := formatStatus(lifecycle.Status{State: lifecycle.StateRunning, PID: 42, Since: now.Add(-3 * time.Minute)}, paths, now)
	assert.Equal(t, "Daemon is running with PID 42 (started 3 minutes ago)", running)

	stale := formatStatus(lifecycle.Status{PID: 42, Stale: true}, paths, now)
	assert.True(t, strings.HasPrefix(stale, "Daemon PID file found but process 42 is not running"))

	assert.Equal(t, "Daemon is not running", formatStatus(lifecycle.Status{}, paths, now))
}
