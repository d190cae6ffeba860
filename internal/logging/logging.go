// Package logging centralizes the structured logging setup used by
// every component. The teacher prefixes every trace line with the
// acting role ("PREPARE: ", "ACCEPTREQUEST: ", ...); the rewrite keeps
// that habit but through logrus fields instead of string prefixes.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel adjusts verbosity for every component logger.
func SetLevel(level logrus.Level) {
	base.SetLevel(level)
}

// For returns a logger scoped to one component and node, e.g.
// For("coordinator", "10.0.0.4:7000").
func For(component string, node string) *logrus.Entry {
	return base.WithFields(logrus.Fields{
		"component": component,
		"node":      node,
	})
}
