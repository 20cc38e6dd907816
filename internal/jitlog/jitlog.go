// Package jitlog is hollyjit's structured logging seam: a single
// package-level logrus.Logger, swappable per Compiler instance for
// testability (tests install a discard logger instead of writing to the
// process-wide default).
//
// Grounded on moby/moby's pervasive logrus.WithFields convention and its
// go.mod dependency on github.com/sirupsen/logrus.
package jitlog

import (
	"io"

	"github.com/sirupsen/logrus"
)

var defaultLogger = newDefault()

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Logger returns the package-default logger. Compiler instances use this
// unless constructed with compiler.WithLogger.
func Logger() *logrus.Logger {
	return defaultLogger
}

// SetLevel adjusts the default logger's verbosity, e.g. logrus.DebugLevel
// to surface the per-compile diagnostics spec.md §7 describes.
func SetLevel(level logrus.Level) {
	defaultLogger.SetLevel(level)
}

// Discard returns a logger that writes nowhere, for tests that exercise
// code paths which log but shouldn't spam test output.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
