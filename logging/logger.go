// Package logging defines the structured logging surface used by every
// internal component (stage workers, the coordinator, the factory). It is
// injected, never a package-level global, so callers can swap in whatever
// sink their deployment uses.
package logging

import (
	"log"
)

// Logger is the structured logging interface used throughout the core.
// Bind returns a child logger that prepends keysAndValues to every call
// made through it, the way request-scoped loggers accumulate context
// (trace id, stage id) as a message flows deeper into the runtime.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
	Bind(keysAndValues ...any) Logger
}

// defaultLogger wraps the standard log package.
type defaultLogger struct {
	bound []any
}

// NewDefaultLogger returns a Logger that writes to the standard log
// package's default logger, prefixed with a level tag.
func NewDefaultLogger() Logger {
	return &defaultLogger{}
}

func (l *defaultLogger) args(keysAndValues ...any) []any {
	if len(l.bound) == 0 {
		return keysAndValues
	}
	combined := make([]any, 0, len(l.bound)+len(keysAndValues))
	combined = append(combined, l.bound...)
	combined = append(combined, keysAndValues...)
	return combined
}

func (l *defaultLogger) Debug(msg string, keysAndValues ...any) {
	log.Printf("[DEBUG] %s %v", msg, l.args(keysAndValues...))
}

func (l *defaultLogger) Info(msg string, keysAndValues ...any) {
	log.Printf("[INFO] %s %v", msg, l.args(keysAndValues...))
}

func (l *defaultLogger) Warn(msg string, keysAndValues ...any) {
	log.Printf("[WARN] %s %v", msg, l.args(keysAndValues...))
}

func (l *defaultLogger) Error(msg string, keysAndValues ...any) {
	log.Printf("[ERROR] %s %v", msg, l.args(keysAndValues...))
}

func (l *defaultLogger) Bind(keysAndValues ...any) Logger {
	return &defaultLogger{bound: l.args(keysAndValues...)}
}

// noopLogger discards everything; used in tests and by library consumers
// who don't want log output.
type noopLogger struct{}

// NewNoopLogger returns a Logger that discards all output.
func NewNoopLogger() Logger {
	return &noopLogger{}
}

func (l *noopLogger) Debug(msg string, keysAndValues ...any) {}
func (l *noopLogger) Info(msg string, keysAndValues ...any)  {}
func (l *noopLogger) Warn(msg string, keysAndValues ...any)  {}
func (l *noopLogger) Error(msg string, keysAndValues ...any) {}
func (l *noopLogger) Bind(keysAndValues ...any) Logger       { return l }

var _ Logger = (*defaultLogger)(nil)
var _ Logger = (*noopLogger)(nil)
