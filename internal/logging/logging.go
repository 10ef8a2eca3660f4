// Package logging centralizes the logrus setup shared by every component
// in the pack model, following a per-object "logger.With(fields)"
// convention so every log line is scoped to its component.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New returns the process-wide base logger. It is safe to call more than
// once; each call returns an independent *logrus.Logger with the same
// configuration.
func New(level logrus.Level) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return logger
}

// For returns a component-scoped entry, e.g. For(base, "balancer") so every
// log line from the balancer carries component="balancer".
func For(base *logrus.Logger, component string) *logrus.Entry {
	return base.WithField("component", component)
}
