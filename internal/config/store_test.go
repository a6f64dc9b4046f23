package config

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validRules = `{"commands": [
  {"command": "ls", "audioFilePath": "/A.wav"},
  {"command": "l.*", "audioFilePath": "/B.wav"}
]}`

func TestStore_SnapshotNilBeforeLoad(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "termsfx.json"), nil)
	assert.Nil(t, s.Snapshot())
}

func TestStore_LoadFailsWithoutPriorConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "termsfx.json", `{"commands": [{"command": "ls"}]}`)

	s := NewStore(path, nil)
	err := s.Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRule)
	assert.Nil(t, s.Snapshot())
}

func TestStore_ReloadKeepsPreviousOnInvalidUpdate(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "termsfx.json", validRules)

	s := NewStore(path, nil)
	require.NoError(t, s.Load())
	before := s.Snapshot()
	require.Len(t, before.Commands, 2)

	// Syntactically broken file
	writeConfig(t, dir, "termsfx.json", `{"commands": [ {"command": `)
	_, err := s.Reload()
	require.Error(t, err)
	assert.Same(t, before, s.Snapshot())

	// Well-formed but invalid rule
	writeConfig(t, dir, "termsfx.json", `{"commands": [{"command": "x", "audioFilePath": "a", "audioFilePaths": ["b"]}]}`)
	_, err = s.Reload()
	require.Error(t, err)
	assert.Same(t, before, s.Snapshot())

	// Valid document followed by a half-written one
	writeConfig(t, dir, "termsfx.json", `{"commands": [{"command": "x", "audioFilePath": "/C.wav"}]} {"commands": [`)
	_, err = s.Reload()
	require.Error(t, err)
	assert.Same(t, before, s.Snapshot())

	assert.Len(t, s.Snapshot().Match("ls"), 2)
}

func TestStore_ReloadReplacesOnValidUpdate(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "termsfx.json", validRules)

	s := NewStore(path, nil)
	require.NoError(t, s.Load())

	writeConfig(t, dir, "termsfx.json", `{"commands": [{"command": "git", "audioFilePath": "/G.wav"}]}`)
	cfg, err := s.Reload()
	require.NoError(t, err)
	assert.Same(t, cfg, s.Snapshot())

	assert.Empty(t, s.Snapshot().Match("ls"))
	assert.Len(t, s.Snapshot().Match("git status"), 1)
}

func TestStore_IdempotentReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "termsfx.json", validRules)

	s := NewStore(path, nil)
	require.NoError(t, s.Load())
	first := s.Snapshot().Match("ls -la")

	_, err := s.Reload()
	require.NoError(t, err)
	_, err = s.Reload()
	require.NoError(t, err)
	second := s.Snapshot().Match("ls -la")

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Command, second[i].Command)
		assert.Equal(t, first[i].Targets.Paths(), second[i].Targets.Paths())
	}
}

func TestStore_ConcurrentReadersDuringReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "termsfx.json", validRules)

	s := NewStore(path, nil)
	require.NoError(t, s.Load())

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				cfg := s.Snapshot()
				// Every snapshot is a complete model: both rules or neither.
				if n := len(cfg.Commands); n != 2 {
					t.Errorf("torn snapshot with %d rules", n)
					return
				}
			}
		}()
	}

	for range 20 {
		_, err := s.Reload()
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
}
