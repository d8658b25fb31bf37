// Package logging pins the structured logger type the rest of the module
// shares. Components never log by default: each takes an injected Logger
// and falls back to Discard, so a library user opts into output instead
// of opting out.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is the leveled, field-structured logger accepted by every
// component option. The alias keeps call sites decoupled from logrus:
// any *logrus.Logger or Entry satisfies it.
type Logger = logrus.FieldLogger

// Discard returns a Logger that drops everything. It is the default for
// every component constructed without WithLogger.
func Discard() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
