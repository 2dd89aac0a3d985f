// Package logging provides Magpie's logging infrastructure built on charmbracelet/log.
//
// It wraps charmbracelet/log with a component-scoped logger factory, level
// configuration, and stderr-only output. All log output goes to stderr;
// stdout is reserved for structured output (JSON results, rendered tables).
//
// Usage:
//
//	// During CLI initialization (PersistentPreRun):
//	logging.Setup(verbose, quiet, jsonFormat)
//
//	// In each package:
//	var logger = logging.New("engine")
//	logger.Info("node finished", "step", id, "status", st)
//
// Setup must be called before New: charmbracelet/log child loggers copy
// state at creation time, so later changes to the default logger do not
// propagate to existing children.
package logging

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// Level aliases re-exported so consumers do not need to import
// charmbracelet/log directly.
const (
	LevelDebug = log.DebugLevel
	LevelInfo  = log.InfoLevel
	LevelWarn  = log.WarnLevel
	LevelError = log.ErrorLevel
	LevelFatal = log.FatalLevel
)

// Setup configures the global logging defaults. Call once at CLI start.
//
//   - verbose: Debug level
//   - quiet: Error level (hides Info and Warn)
//   - jsonFormat: NDJSON formatter for CI and log aggregation
//
// If both verbose and quiet are set, quiet wins: in scripted environments
// --quiet must suppress noise regardless of other flags.
func Setup(verbose, quiet, jsonFormat bool) {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	if quiet {
		level = log.ErrorLevel
	}

	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	if jsonFormat {
		log.SetFormatter(log.JSONFormatter)
	} else {
		log.SetFormatter(log.TextFormatter)
	}
}

// New creates a logger with the given component prefix. The returned logger
// inherits global level and output settings at creation time; call Setup
// first. An empty component produces a logger without a prefix.
func New(component string) *log.Logger {
	return log.WithPrefix(component)
}

// SetOutput overrides the output writer for the default logger. Primarily
// useful in tests, where output is captured with a bytes.Buffer; restore
// the original writer with t.Cleanup.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}
