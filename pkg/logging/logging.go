// Package logging configures the service's logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the logging interface handed to components. Components derive
// their own logger with WithField("component", name).
type Logger = logrus.FieldLogger

// New creates a text logger at the given level writing to stderr and, when
// tail is non-nil, to tail as well.
func New(level string, tail io.Writer) (*logrus.Logger, error) {
	log := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if tail != nil {
		log.SetOutput(io.MultiWriter(os.Stderr, tail))
	}
	return log, nil
}

// Discard returns a logger that drops every entry.
func Discard() Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
