package audio

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
)

const (
	// deviceRate is the rate the speaker is opened at. Clips are converted
	// to it once, when decoded.
	deviceRate      = beep.SampleRate(44100)
	deviceLatency   = 100 * time.Millisecond
	resampleQuality = 4
)

type decodeFunc func(io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error)

var decoders = map[string]decodeFunc{
	".wav": func(rc io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error) { return wav.Decode(rc) },
	".ogg": vorbis.Decode,
	".mp3": mp3.Decode,
}

// Player keeps decoded clips in memory and mixes them on the speaker.
// Decoding never touches the output device, which is opened on the first
// Play.
type Player struct {
	logger *slog.Logger

	mu     sync.Mutex
	volume float64
	open   bool

	clipsMu sync.RWMutex
	clips   map[string]*beep.Buffer
}

// NewPlayer creates a player at full volume.
func NewPlayer(logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{
		logger: logger,
		volume: 1.0,
		clips:  make(map[string]*beep.Buffer),
	}
}

// SetVolume sets the playback volume (0.0 to 1.0).
func (p *Player) SetVolume(volume float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.volume = min(max(volume, 0), 1)
	p.logger.Debug("volume set", "volume", p.volume)
}

// Volume returns the current volume.
func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Play mixes the clip for path into the speaker output and returns without
// waiting for it to finish.
func (p *Player) Play(path string) error {
	if path == "" {
		return nil
	}

	clip, err := p.clip(path)
	if err != nil {
		return err
	}

	volume, err := p.openDevice()
	if err != nil {
		return err
	}

	var s beep.Streamer = clip.Streamer(0, clip.Len())
	if volume < 1.0 {
		s = &effects.Volume{
			Streamer: s,
			Base:     2,
			Volume:   volumeToExponent(volume),
			Silent:   volume == 0,
		}
	}
	speaker.Play(s)
	return nil
}

// Preload decodes path into memory so the first Play does no file I/O.
func (p *Player) Preload(path string) error {
	if path == "" {
		return nil
	}
	if _, err := p.clip(path); err != nil {
		return err
	}
	p.logger.Debug("preloaded sound", "path", path)
	return nil
}

func (p *Player) clip(path string) (*beep.Buffer, error) {
	p.clipsMu.RLock()
	clip, ok := p.clips[path]
	p.clipsMu.RUnlock()
	if ok {
		return clip, nil
	}

	clip, err := decodeClip(path)
	if err != nil {
		return nil, err
	}

	p.clipsMu.Lock()
	p.clips[path] = clip
	p.clipsMu.Unlock()
	return clip, nil
}

// decodeClip reads a whole sound file and converts it to deviceRate.
func decodeClip(path string) (*beep.Buffer, error) {
	ext := strings.ToLower(filepath.Ext(path))
	decode, ok := decoders[ext]
	if !ok {
		return nil, fmt.Errorf("unsupported audio format: %q", ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sound file: %w", err)
	}
	defer func() { _ = f.Close() }()

	stream, format, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = stream.Close() }()

	var s beep.Streamer = stream
	if format.SampleRate != deviceRate {
		s = beep.Resample(resampleQuality, format.SampleRate, deviceRate, s)
		format.SampleRate = deviceRate
	}

	clip := beep.NewBuffer(format)
	clip.Append(s)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return clip, nil
}

// openDevice opens the speaker on first use and returns the volume to play at.
func (p *Player) openDevice() (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.open {
		if err := speaker.Init(deviceRate, deviceRate.N(deviceLatency)); err != nil {
			return 0, fmt.Errorf("failed to open audio device: %w", err)
		}
		p.open = true
		p.logger.Debug("audio device opened", "sample_rate", deviceRate)
	}
	return p.volume, nil
}

// ClearCache drops every decoded clip.
func (p *Player) ClearCache() {
	p.clipsMu.Lock()
	defer p.clipsMu.Unlock()
	clear(p.clips)
}

// InvalidateCache drops the clip for path so the next Play re-reads it.
func (p *Player) InvalidateCache(path string) {
	p.clipsMu.Lock()
	defer p.clipsMu.Unlock()
	delete(p.clips, path)
}

// Close stops all playback and releases the output device.
func (p *Player) Close() {
	p.mu.Lock()
	if p.open {
		speaker.Close()
		p.open = false
	}
	p.mu.Unlock()

	p.ClearCache()
}

// volumeToExponent maps a linear volume (0-1] onto the base-2 exponent used
// by effects.Volume, so that 0.5 is one halving of amplitude.
func volumeToExponent(volume float64) float64 {
	if volume <= 0 {
		return -10
	}
	return math.Log2(volume)
}
