package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/termsfx/internal/config"
	"github.com/jmylchreest/termsfx/internal/protocol"
)

// ErrNoConfig is returned when a request arrives before any rules are loaded.
var ErrNoConfig = errors.New("no configuration loaded")

// Snapshotter provides the current rule set.
type Snapshotter interface {
	Snapshot() *config.Config
}

// AudioGateway accepts sound files for playback. Play must return quickly;
// rendering happens elsewhere.
type AudioGateway interface {
	Play(path string) error
}

// Dispatcher maps decoded requests onto the current rule set.
type Dispatcher struct {
	rules  Snapshotter
	audio  AudioGateway
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(rules Snapshotter, audio AudioGateway, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		rules:  rules,
		audio:  audio,
		logger: logger,
	}
}

// Dispatch handles one action and returns the reply payload, if the action
// has one. The rule set is read once per call.
func (d *Dispatcher) Dispatch(action protocol.Action, logger *slog.Logger) ([]byte, error) {
	if logger == nil {
		logger = d.logger
	}

	cfg := d.rules.Snapshot()
	if cfg == nil {
		return nil, ErrNoConfig
	}

	switch action.Kind {
	case protocol.KindPlay:
		d.play(cfg, action.Command, logger)
		return nil, nil
	case protocol.KindPrintConfig:
		return d.printConfig(cfg)
	default:
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnknownAction, action.Kind)
	}
}

// play submits the audio of every matching rule, in rule order, and returns
// the number of sounds submitted. Submission failures are logged per sound
// and do not affect the remaining sounds.
func (d *Dispatcher) play(cfg *config.Config, command string, logger *slog.Logger) int {
	submitted := 0
	for _, rule := range cfg.Match(command) {
		logger.Info("playing sound for command", "command", command, "rule", rule.Command)
		for _, path := range rule.Targets.Paths() {
			if err := d.audio.Play(path); err != nil {
				logger.Warn("failed to submit sound", "path", path, "rule", rule.Command, "error", err)
				continue
			}
			submitted++
		}
	}
	if submitted == 0 {
		logger.Debug("no rule matched", "command", command)
	}
	return submitted
}

func (d *Dispatcher) printConfig(cfg *config.Config) ([]byte, error) {
	data, err := json.MarshalIndent(cfg.Document(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}
