package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jmylchreest/termsfx/internal/config"
)

// DefaultQueueSize is the number of pending play requests held before new
// requests are dropped.
const DefaultQueueSize = 64

var (
	// ErrQueueFull is returned by Play when the playback queue is saturated.
	ErrQueueFull = errors.New("playback queue full")
	// ErrStopped is returned by Play when the manager is not running.
	ErrStopped = errors.New("audio manager not running")
)

// Sink renders a sound file. *Player is the production implementation.
type Sink interface {
	Play(path string) error
}

// Optional capabilities a Sink may provide.
type (
	volumeSetter interface{ SetVolume(volume float64) }
	preloader    interface{ Preload(path string) error }
	cacheClearer interface{ ClearCache() }
)

// Stats counts playback outcomes since the manager was created.
type Stats struct {
	Played  uint64
	Failed  uint64
	Dropped uint64
}

// Manager owns the output device and serializes playback submissions onto a
// single worker. Play only enqueues, so callers never wait on decoding or
// the device.
type Manager struct {
	mu      sync.RWMutex
	logger  *slog.Logger
	sink    Sink
	watcher *Watcher

	queue  chan string
	stopCh chan struct{}
	doneCh chan struct{}

	running bool

	// Preloads run in the background; a newer config or Stop bumps the
	// generation and older preloads give up at the next file.
	generation atomic.Uint64
	preloads   sync.WaitGroup

	played  atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// NewManager creates a manager backed by the beep speaker.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return NewManagerWithSink(NewPlayer(logger), DefaultQueueSize, logger)
}

// NewManagerWithSink creates a manager that renders through sink.
func NewManagerWithSink(sink Sink, queueSize int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	var invalidator CacheInvalidator
	if inv, ok := sink.(CacheInvalidator); ok {
		invalidator = inv
	}

	return &Manager{
		logger:  logger,
		sink:    sink,
		watcher: NewWatcher(invalidator, logger),
		queue:   make(chan string, queueSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the playback worker and the sound file watcher.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	if err := m.watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sound watcher: %w", err)
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.worker(ctx)

	m.logger.Info("audio manager started", "queue_size", cap(m.queue))
	return nil
}

// Stop shuts down the worker and releases the output device. Pending
// requests are discarded.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	<-m.doneCh
	m.watcher.Stop()
	m.generation.Add(1)
	m.preloads.Wait()

	if p, ok := m.sink.(*Player); ok {
		p.Close()
	}
	m.logger.Debug("audio manager stopped")
}

// Play submits a sound for playback and returns immediately.
func (m *Manager) Play(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.running {
		return ErrStopped
	}

	select {
	case m.queue <- path:
		return nil
	default:
		m.dropped.Add(1)
		return ErrQueueFull
	}
}

// UpdateConfig applies volume and refreshes the sound cache for a newly
// loaded rule set. Sounds are decoded in the background, so it returns
// without waiting on file I/O.
func (m *Manager) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}

	if vs, ok := m.sink.(volumeSetter); ok {
		vs.SetVolume(float64(cfg.Volume) / 100.0)
	}
	if cc, ok := m.sink.(cacheClearer); ok {
		cc.ClearCache()
	}

	files := cfg.AudioFiles()
	m.watcher.Reset(files)

	if pl, ok := m.sink.(preloader); ok {
		gen := m.generation.Add(1)
		m.preloads.Add(1)
		go func() {
			defer m.preloads.Done()
			m.preload(pl, files, gen)
		}()
	}

	m.logger.Debug("audio manager config updated", "sounds", len(files), "volume", cfg.Volume)
}

func (m *Manager) preload(pl preloader, files []string, gen uint64) {
	for i, path := range files {
		if m.generation.Load() != gen {
			m.logger.Debug("sound preload superseded", "remaining", len(files)-i)
			return
		}
		if err := pl.Preload(path); err != nil {
			m.logger.Warn("failed to preload sound", "path", path, "error", err)
		}
	}
	m.logger.Debug("sounds preloaded", "count", len(files))
}

// Stats returns playback counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Played:  m.played.Load(),
		Failed:  m.failed.Load(),
		Dropped: m.dropped.Load(),
	}
}

func (m *Manager) worker(ctx context.Context) {
	defer close(m.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case path := <-m.queue:
			m.render(path)
		}
	}
}

// render plays one sound. Failures are logged and counted; they never stop
// the worker.
func (m *Manager) render(path string) {
	defer func() {
		if r := recover(); r != nil {
			m.failed.Add(1)
			m.logger.Error("panic during playback", "path", path, "panic", r)
		}
	}()

	if err := m.sink.Play(path); err != nil {
		m.failed.Add(1)
		m.logger.Warn("failed to play sound", "path", path, "error", err)
		return
	}
	m.played.Add(1)
	m.logger.Debug("playing sound", "path", path)
}
