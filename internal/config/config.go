// Package config handles loading, validating and holding the termsfx rule set.
package config

import (
	"regexp"
	"slices"
)

// Default configuration values.
const (
	DefaultVolume  = 100
	DefaultDirName = "termsfx"
	DefaultFile    = "termsfx.json"
)

// Config is a validated, immutable rule set. A Config is never modified after
// it has been returned by Load; reloads produce a new value.
type Config struct {
	// Path is the absolute path of the file the rules were loaded from.
	Path string

	// Commands are evaluated in declaration order.
	Commands []CommandRule

	Volume        int
	NotifyOnError bool
}

// CommandRule pairs a compiled pattern with the audio it triggers.
type CommandRule struct {
	Command string // Source pattern text
	Pattern *regexp.Regexp
	Targets AudioTargets
}

// Matches reports whether the rule's pattern occurs anywhere in command.
func (r CommandRule) Matches(command string) bool {
	return r.Pattern != nil && r.Pattern.MatchString(command)
}

// AudioTargets holds exactly one of a single file or an ordered list of files.
type AudioTargets struct {
	single string
	list   []string
}

// SingleTarget returns targets consisting of one file.
func SingleTarget(path string) AudioTargets {
	return AudioTargets{single: path}
}

// TargetList returns targets consisting of an ordered list of files.
func TargetList(paths ...string) AudioTargets {
	return AudioTargets{list: slices.Clone(paths)}
}

// IsList reports whether the targets came from audioFilePaths.
func (t AudioTargets) IsList() bool {
	return t.list != nil
}

// Paths returns the files to play, in order.
func (t AudioTargets) Paths() []string {
	if t.list != nil {
		return slices.Clone(t.list)
	}
	if t.single == "" {
		return nil
	}
	return []string{t.single}
}

// Match returns every rule whose pattern matches command, in declaration order.
// Matching does not stop at the first hit.
func (c *Config) Match(command string) []CommandRule {
	if c == nil {
		return nil
	}
	var matched []CommandRule
	for _, rule := range c.Commands {
		if rule.Matches(command) {
			matched = append(matched, rule)
		}
	}
	return matched
}

// AudioFiles returns the distinct audio files referenced by the rule set.
func (c *Config) AudioFiles() []string {
	if c == nil {
		return nil
	}
	seen := make(map[string]bool)
	var files []string
	for _, rule := range c.Commands {
		for _, path := range rule.Targets.Paths() {
			if seen[path] {
				continue
			}
			seen[path] = true
			files = append(files, path)
		}
	}
	return files
}

// Source converts the rule set back into its on-disk shape, with audio paths
// already resolved.
func (c *Config) Source() Source {
	volume := c.Volume
	src := Source{
		Commands:      make([]CommandSource, 0, len(c.Commands)),
		Volume:        &volume,
		NotifyOnError: c.NotifyOnError,
	}
	for _, rule := range c.Commands {
		cs := CommandSource{Command: rule.Command}
		if rule.Targets.IsList() {
			cs.AudioFilePaths = rule.Targets.Paths()
		} else {
			single := rule.Targets.single
			cs.AudioFilePath = &single
		}
		src.Commands = append(src.Commands, cs)
	}
	return src
}

// Source is the on-disk representation of the configuration file.
type Source struct {
	Commands      []CommandSource `json:"commands" toml:"commands" yaml:"commands"`
	Volume        *int            `json:"volume,omitempty" toml:"volume,omitempty" yaml:"volume,omitempty"`
	NotifyOnError bool            `json:"notifyOnError,omitempty" toml:"notifyOnError,omitempty" yaml:"notifyOnError,omitempty"`
}

// CommandSource is a single rule as written by the user.
type CommandSource struct {
	Command        string   `json:"command" toml:"command" yaml:"command"`
	AudioFilePath  *string  `json:"audioFilePath,omitempty" toml:"audioFilePath,omitempty" yaml:"audioFilePath,omitempty"`
	AudioFilePaths []string `json:"audioFilePaths,omitempty" toml:"audioFilePaths,omitempty" yaml:"audioFilePaths,omitempty"`
}

// Document is the printable form of a loaded rule set.
type Document struct {
	Path   string `json:"path" yaml:"path"`
	Source `yaml:",inline"`
}

// Document returns the rule set in printable form.
func (c *Config) Document() Document {
	return Document{Path: c.Path, Source: c.Source()}
}
