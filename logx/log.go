// Package logx is the diagnostics sink shared by every package in this
// module: a thin zap wrapper so callers depend on an interface instead of
// zap's concrete types directly (§10.1).
package logx

import (
	"time"

	"go.uber.org/zap"
)

// Field is a structured logging field. Aliasing zap.Field lets callers build
// fields with this package's constructors without importing zap themselves.
type Field = zap.Field

func String(key, value string) Field          { return zap.String(key, value) }
func Int(key string, value int) Field         { return zap.Int(key, value) }
func Duration(key string, d time.Duration) Field { return zap.Duration(key, d) }
func Error(err error) Field                   { return zap.Error(err) }
func Bool(key string, value bool) Field       { return zap.Bool(key, value) }

// Logger is the subset of *zap.Logger's API this module logs through.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Sync() error
}

// New returns a production logger: JSON output, info level and above.
func New() (Logger, error) {
	return zap.NewProduction()
}

// NewDevelopment returns a human-readable logger with caller/stack traces on
// warn and above, for local runs of cmd/mxserver and cmd/mxclient.
func NewDevelopment() (Logger, error) {
	return zap.NewDevelopment()
}

// Nop returns a Logger that discards everything, for tests and for
// middleware chains built without an explicit logger.
func Nop() Logger {
	return zap.NewNop()
}
