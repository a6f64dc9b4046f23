package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/termsfx/internal/audio"
	"github.com/jmylchreest/termsfx/internal/config"
)

// Options configures a Daemon.
type Options struct {
	ConfigPath string
	SocketPath string

	// Sink renders sounds. Nil uses the speaker.
	Sink audio.Sink

	// ReloadInterval overrides DefaultReloadInterval when non-zero.
	ReloadInterval time.Duration

	// Notifier surfaces rejected reloads when the config enables it.
	// Nil uses the session bus.
	Notifier *DesktopNotifier

	Logger *slog.Logger
}

// Daemon ties the rule store, config watcher, audio gateway and request
// server together for the lifetime of one daemon process.
type Daemon struct {
	opts   Options
	logger *slog.Logger

	store    *config.Store
	audio    *audio.Manager
	watcher  *ConfigWatcher
	notifier *DesktopNotifier
	server   *Server

	// Set while the file on disk is rejected.
	reloadFailed atomic.Bool
}

// New creates a daemon. Nothing is started until Run.
func New(opts Options) *Daemon {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store := config.NewStore(opts.ConfigPath, logger)

	var gateway *audio.Manager
	if opts.Sink != nil {
		gateway = audio.NewManagerWithSink(opts.Sink, audio.DefaultQueueSize, logger)
	} else {
		gateway = audio.NewManager(logger)
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifier = NewDesktopNotifier(logger)
	}

	watcher := NewConfigWatcher(store, logger)
	if opts.ReloadInterval > 0 {
		watcher.SetPollInterval(opts.ReloadInterval)
	}

	dispatcher := NewDispatcher(store, gateway, logger)

	return &Daemon{
		opts:     opts,
		logger:   logger,
		store:    store,
		audio:    gateway,
		watcher:  watcher,
		notifier: notifier,
		server:   NewServer(opts.SocketPath, dispatcher, logger),
	}
}

// Run loads the rules, starts the background components and serves requests
// until ctx is cancelled. Only a failed initial load or bind returns an
// error; later failures are logged and the daemon keeps running.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.store.Load(); err != nil {
		return fmt.Errorf("failed to load initial config: %w", err)
	}
	cfg := d.store.Snapshot()

	d.notifier.SetEnabled(cfg.NotifyOnError)
	d.audio.UpdateConfig(cfg)

	if err := d.audio.Start(ctx); err != nil {
		return err
	}
	defer d.audio.Stop()

	d.watcher.SetReloadCallback(d.onReload)
	d.watcher.SetErrorCallback(d.onReloadError)
	if err := d.watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start config watcher: %w", err)
	}
	defer d.watcher.Stop()

	if err := d.server.Listen(); err != nil {
		return err
	}

	d.logger.Info("termsfx daemon ready", "socket", d.server.Path())
	err := d.server.Serve(ctx)
	if closeErr := d.server.Close(); closeErr != nil {
		d.logger.Warn("failed to close server", "error", closeErr)
	}

	stats := d.audio.Stats()
	d.logger.Info("termsfx daemon stopped", "played", stats.Played, "failed", stats.Failed, "dropped", stats.Dropped)
	return err
}

func (d *Daemon) onReload(cfg *config.Config) {
	d.logger.Debug("applying reloaded config", "rules", len(cfg.Commands))
	d.notifier.SetEnabled(cfg.NotifyOnError)
	d.audio.UpdateConfig(cfg)
	if d.reloadFailed.Swap(false) {
		d.notifier.NotifyConfigReloaded(len(cfg.Commands))
	}
}

func (d *Daemon) onReloadError(err error) {
	d.reloadFailed.Store(true)
	d.notifier.NotifyConfigError(err)
}
