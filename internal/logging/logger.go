// Package logging provides the leveled Logger used across every component.
package logging

import (
	"os"

	charmlog "github.com/charmbracelet/log"
)

// Logger is the leveled logging capability every component takes at
// construction time.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOpLogger discards everything. Used by tests that don't care about log
// output.
type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

// charmLogger adapts charmbracelet/log to the Logger interface.
type charmLogger struct {
	l *charmlog.Logger
}

// New builds a Logger writing to stderr at the given level ("debug",
// "info", "warn", "error"). An unrecognized level falls back to "info".
func New(level string) Logger {
	l := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		ReportCaller:    false,
	})
	l.SetLevel(parseLevel(level))
	return &charmLogger{l: l}
}

func parseLevel(level string) charmlog.Level {
	switch level {
	case "debug":
		return charmlog.DebugLevel
	case "warn", "warning":
		return charmlog.WarnLevel
	case "error":
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

func (c *charmLogger) Debug(msg string, args ...interface{}) { c.l.Debug(msg, args...) }
func (c *charmLogger) Info(msg string, args ...interface{})  { c.l.Info(msg, args...) }
func (c *charmLogger) Warn(msg string, args ...interface{})  { c.l.Warn(msg, args...) }
func (c *charmLogger) Error(msg string, args ...interface{}) { c.l.Error(msg, args...) }
