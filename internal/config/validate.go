package config

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidRule is wrapped by every ValidationError.
var ErrInvalidRule = errors.New("invalid rule")

// ValidationError describes why a single rule was rejected.
type ValidationError struct {
	Index   int
	Command string
	Reason  string
	Err     error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("rule %d", e.Index)
	if e.Command != "" {
		msg += fmt.Sprintf(" (%q)", e.Command)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap allows errors.Is against ErrInvalidRule and the underlying cause.
func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidRule, e.Err}
	}
	return []error{ErrInvalidRule}
}

// Validate checks every rule and the top-level settings. The first problem
// found is returned.
func (s Source) Validate() error {
	if s.Volume != nil && (*s.Volume < 0 || *s.Volume > 100) {
		return fmt.Errorf("volume must be between 0 and 100, got %d", *s.Volume)
	}

	for i, cs := range s.Commands {
		if err := cs.validate(); err != nil {
			err.Index = i
			return err
		}
	}
	return nil
}

func (c CommandSource) validate() *ValidationError {
	fail := func(reason string) *ValidationError {
		return &ValidationError{Command: c.Command, Reason: reason}
	}

	if c.Command == "" {
		return fail("command must be provided")
	}

	hasSingle := c.AudioFilePath != nil
	hasList := c.AudioFilePaths != nil

	switch {
	case !hasSingle && !hasList:
		return fail("audioFilePath or audioFilePaths must be provided")
	case hasSingle && hasList:
		return fail("audioFilePath and audioFilePaths cannot both be provided")
	case hasSingle && *c.AudioFilePath == "":
		return fail("audioFilePath must not be empty")
	case hasList && len(c.AudioFilePaths) == 0:
		return fail("audioFilePaths must not be empty")
	}

	for _, p := range c.AudioFilePaths {
		if p == "" {
			return fail("audioFilePaths must not contain empty entries")
		}
	}

	if _, err := compilePattern(c.Command); err != nil {
		v := fail("invalid pattern")
		v.Err = err
		return v
	}
	return nil
}

// compilePattern compiles a rule pattern. Patterns are unanchored: a match
// anywhere in the command text counts.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(pattern)
}
