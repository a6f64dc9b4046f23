package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DefaultPath returns the path to the rules file.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config.
func DefaultPath() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, DefaultDirName, DefaultFile), nil
}

// Load reads, decodes and validates the rules file at path. Relative audio
// paths are resolved against the directory containing the file.
func Load(path string) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	src, err := Decode(abs, data)
	if err != nil {
		return nil, err
	}

	cfg, err := Compile(src, filepath.Dir(abs))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.Path = abs
	return cfg, nil
}

// Decode parses data according to the file extension of path.
// JSON is assumed when the extension is not recognised. Unknown keys and
// trailing content are rejected in every format.
func Decode(path string, data []byte) (Source, error) {
	var src Source
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&src)
	case ".yaml", ".yml":
		err = decodeYAML(data, &src)
	default:
		err = decodeJSON(data, &src)
	}
	if err != nil {
		return Source{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	return src, nil
}

func decodeJSON(data []byte, src *Source) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(src); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected content after JSON document")
	}
	return nil
}

func decodeYAML(data []byte, src *Source) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(src); err != nil {
		// An empty file holds no document.
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return errors.New("unexpected second YAML document")
	}
	return nil
}

// Compile validates src and builds a Config from it. dir is the directory
// relative audio paths are resolved against.
func Compile(src Source, dir string) (*Config, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}

	cfg := &Config{
		Commands:      make([]CommandRule, 0, len(src.Commands)),
		Volume:        DefaultVolume,
		NotifyOnError: src.NotifyOnError,
	}
	if src.Volume != nil {
		cfg.Volume = *src.Volume
	}

	for i, cs := range src.Commands {
		pattern, err := compilePattern(cs.Command)
		if err != nil {
			return nil, &ValidationError{Index: i, Command: cs.Command, Reason: "invalid pattern", Err: err}
		}

		var targets AudioTargets
		if cs.AudioFilePath != nil {
			targets = SingleTarget(ResolvePath(dir, *cs.AudioFilePath))
		} else {
			paths := make([]string, len(cs.AudioFilePaths))
			for j, p := range cs.AudioFilePaths {
				paths[j] = ResolvePath(dir, p)
			}
			targets = TargetList(paths...)
		}

		cfg.Commands = append(cfg.Commands, CommandRule{
			Command: cs.Command,
			Pattern: pattern,
			Targets: targets,
		})
	}

	return cfg, nil
}

// ResolvePath expands a leading ~ and anchors relative paths at dir.
func ResolvePath(dir, path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(dir, path)
}
