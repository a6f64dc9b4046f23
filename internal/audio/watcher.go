package audio

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// CacheInvalidator drops a decoded sound so the next play re-reads it.
type CacheInvalidator interface {
	InvalidateCache(path string)
}

// Watcher invalidates the decoded clip of a sound file when the file is
// rewritten, replaced or removed. It watches the directories holding the
// configured sounds.
type Watcher struct {
	mu     sync.Mutex
	logger *slog.Logger
	cache  CacheInvalidator

	sounds map[string]struct{}
	dirs   map[string]struct{}

	fsw     *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewWatcher creates a watcher that reports changes to cache.
func NewWatcher(cache CacheInvalidator, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		logger: logger,
		cache:  cache,
		sounds: make(map[string]struct{}),
		dirs:   make(map[string]struct{}),
	}
}

// Reset replaces the set of watched sound files.
func (w *Watcher) Reset(paths []string) {
	next := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		if path != "" {
			next[filepath.Clean(path)] = struct{}{}
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.sounds = next
	if w.fsw != nil {
		w.syncDirsLocked()
	}
}

// Watched returns the number of sound files being watched.
func (w *Watcher) Watched() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sounds)
}

// syncDirsLocked adds and removes directory watches to match w.sounds.
func (w *Watcher) syncDirsLocked() {
	want := make(map[string]struct{})
	for path := range w.sounds {
		want[filepath.Dir(path)] = struct{}{}
	}

	for dir := range w.dirs {
		if _, ok := want[dir]; !ok {
			_ = w.fsw.Remove(dir)
			delete(w.dirs, dir)
		}
	}
	for dir := range want {
		if _, ok := w.dirs[dir]; ok {
			continue
		}
		if err := w.fsw.Add(dir); err != nil {
			w.logger.Warn("cannot watch sound directory", "dir", dir, "error", err)
			continue
		}
		w.dirs[dir] = struct{}{}
	}
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create sound file watcher: %w", err)
	}
	w.fsw = fsw
	w.syncDirsLocked()

	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.loop(ctx, fsw, w.stopCh, w.doneCh)

	w.logger.Debug("sound watcher started", "dirs", len(w.dirs))
	return nil
}

// Stop stops watching and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	done := w.doneCh
	w.mu.Unlock()

	<-done

	w.mu.Lock()
	_ = w.fsw.Close()
	w.fsw = nil
	clear(w.dirs)
	w.mu.Unlock()
	w.logger.Debug("sound watcher stopped")
}

// IsRunning returns whether the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("sound watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	path := filepath.Clean(event.Name)
	w.mu.Lock()
	_, watched := w.sounds[path]
	w.mu.Unlock()
	if !watched {
		return
	}

	w.logger.Debug("sound file changed, invalidating cache", "path", path, "op", event.Op.String())
	if w.cache != nil {
		w.cache.InvalidateCache(path)
	}
}
