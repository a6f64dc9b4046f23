package daemon

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jmylchreest/termsfx/internal/config"
)

// DefaultReloadInterval is how often pending change notifications are acted on.
const DefaultReloadInterval = 2 * time.Second

// ConfigWatcher watches the directory holding the rules file and reloads the
// store when the file is modified. Change notifications are collected from
// fsnotify and acted on once per poll interval; the file's modification time
// is checked on every tick as well in case a notification was missed.
type ConfigWatcher struct {
	mu     sync.RWMutex
	logger *slog.Logger

	store      *config.Store
	configPath string

	// Set by a notification, cleared when the tick reloads.
	pending bool

	lastModTime  time.Time
	pollInterval time.Duration

	onReloadCallback func(newConfig *config.Config)
	onErrorCallback  func(err error)

	stopCh chan struct{}
	doneCh chan struct{}

	running bool
}

// NewConfigWatcher creates a watcher that reloads store.
func NewConfigWatcher(store *config.Store, logger *slog.Logger) *ConfigWatcher {
	if logger == nil {
		logger = slog.Default()
	}

	path := store.Path()
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	return &ConfigWatcher{
		logger:       logger,
		store:        store,
		configPath:   path,
		pollInterval: DefaultReloadInterval,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// SetPollInterval sets the interval at which changes are acted on.
// It must be called before Start.
func (w *ConfigWatcher) SetPollInterval(interval time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pollInterval = interval
}

// SetReloadCallback sets the callback invoked after a successful reload.
func (w *ConfigWatcher) SetReloadCallback(callback func(newConfig *config.Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReloadCallback = callback
}

// SetErrorCallback sets the callback invoked when a reload is rejected.
func (w *ConfigWatcher) SetErrorCallback(callback func(err error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onErrorCallback = callback
}

// Start begins watching. If directory notifications are unavailable the
// watcher falls back to modification time polling alone.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.lastModTime = modTime(w.configPath)
	w.pending = false
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	interval := w.pollInterval
	w.mu.Unlock()

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		if addErr := fsw.Add(filepath.Dir(w.configPath)); addErr != nil {
			_ = fsw.Close()
			fsw, err = nil, addErr
		}
	}
	if err != nil {
		w.logger.Warn("directory notifications unavailable, polling only", "path", w.configPath, "error", err)
	}

	go w.watchLoop(ctx, fsw, interval)

	w.logger.Debug("config watcher started", "path", w.configPath, "interval", interval)
	return nil
}

// Stop stops watching and waits for the loop to exit.
func (w *ConfigWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	<-w.doneCh
	w.logger.Debug("config watcher stopped")
}

// IsRunning returns whether the watcher is currently running.
func (w *ConfigWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func (w *ConfigWatcher) watchLoop(ctx context.Context, fsw *fsnotify.Watcher, interval time.Duration) {
	defer close(w.doneCh)

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if fsw != nil {
		defer func() { _ = fsw.Close() }()
		events = fsw.Events
		errs = fsw.Errors
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			w.handleEvent(event)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Warn("config watcher error", "error", err)
		case <-ticker.C:
			w.checkForChanges()
		}
	}
}

// handleEvent marks a reload as pending when the rules file itself was
// written. Editors that save by rename show up as a create of the file.
func (w *ConfigWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.configPath {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	w.mu.Lock()
	w.pending = true
	w.mu.Unlock()
}

// checkForChanges reloads the store if the file changed since the last tick.
func (w *ConfigWatcher) checkForChanges() {
	current := modTime(w.configPath)

	w.mu.Lock()
	changed := w.pending || (!current.IsZero() && !current.Equal(w.lastModTime))
	w.pending = false
	if !current.IsZero() {
		w.lastModTime = current
	}
	reloadCallback := w.onReloadCallback
	errorCallback := w.onErrorCallback
	w.mu.Unlock()

	if !changed {
		return
	}

	w.logger.Debug("config file changed", "path", w.configPath, "modTime", current)

	newConfig, err := w.store.Reload()
	if err != nil {
		// Store has already logged and kept the previous rules.
		if errorCallback != nil {
			errorCallback(err)
		}
		return
	}

	if reloadCallback != nil {
		reloadCallback(newConfig)
	}
}

func modTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
