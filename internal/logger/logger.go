// Package logger installs the process-wide zerolog logger.
package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options selects the outputs of the process logger
type Options struct {
	Level     string    // debug, info, warn, error; info when empty or unknown
	Console   bool      // write to Output
	Pretty    bool      // human readable console lines
	Output    io.Writer // console destination, stderr when nil
	File      string    // append JSON lines to this path
	Redaction bool      // mask secrets before they reach any output

	// RedactPatterns are masked in addition to the built-in rules
	RedactPatterns []string

	// Rotation applies to File when MaxBytes is positive
	Rotation RotationPolicy
}

// Handle owns the outputs of an installed logger
type Handle struct {
	Logger   zerolog.Logger
	Redactor *Redactor // nil without redaction

	closers []io.Closer
}

// Install builds a logger from opts and makes it the global log.Logger
func Install(opts Options) (*Handle, error) {
	h := &Handle{}

	var redactor *Redactor
	if opts.Redaction {
		redactor = NewRedactor()
		for _, pattern := range opts.RedactPatterns {
			if err := redactor.AddPattern(pattern); err != nil {
				return nil, fmt.Errorf("invalid redact pattern %q: %w", pattern, err)
			}
		}
	}

	var outputs []io.Writer
	if opts.Console {
		outputs = append(outputs, consoleOutput(opts))
	}
	if opts.File != "" {
		file, err := openFile(opts.File, opts.Rotation)
		if err != nil {
			return nil, err
		}
		h.closers = append(h.closers, file)
		outputs = append(outputs, file)
	}

	var out io.Writer
	switch len(outputs) {
	case 0:
		out = io.Discard
	case 1:
		out = outputs[0]
	default:
		out = zerolog.MultiLevelWriter(outputs...)
	}

	if redactor != nil {
		h.Redactor = redactor
		out = redactor.Wrap(out)
	}

	h.Logger = zerolog.New(out).Level(parseLevel(opts.Level)).With().Timestamp().Logger()
	log.Logger = h.Logger
	return h, nil
}

// Close releases file outputs
func (h *Handle) Close() error {
	var errs []error
	for _, c := range h.closers {
		errs = append(errs, c.Close())
	}
	h.closers = nil
	return errors.Join(errs...)
}

func parseLevel(s string) zerolog.Level {
	if s == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func consoleOutput(opts Options) io.Writer {
	out := opts.Output
	if out == nil {
		// stdout carries command output
		out = os.Stderr
	}
	if !opts.Pretty {
		return out
	}
	return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
}

func openFile(path string, policy RotationPolicy) (io.WriteCloser, error) {
	if policy.MaxBytes > 0 {
		return OpenRotating(path, policy)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}
