// Package telemetry provides the engine's ambient observability: a leveled
// structured Logger, the latency ring buffer (C10), and the bounded event
// log (C11). None of it is package-global; callers construct and hold these
// values as part of the engine they own, per the no-global-state design note.
package telemetry

import (
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"
)

// LogLevel is the severity of a log message, least to most severe.
type LogLevel int

const (
	LogLevelOff LogLevel = iota
	LogLevelError
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelOff:
		return "OFF"
	case LogLevelError:
		return "ERROR"
	case LogLevelWarn:
		return "WARN"
	case LogLevelInfo:
		return "INFO"
	case LogLevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel maps a config string to a LogLevel, defaulting to Info on an
// unrecognized value.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToUpper(s) {
	case "OFF":
		return LogLevelOff
	case "ERROR":
		return LogLevelError
	case "WARN":
		return LogLevelWarn
	case "DEBUG":
		return LogLevelDebug
	default:
		return LogLevelInfo
	}
}

// Logger is the structured, leveled logging interface every component in
// ragcore takes as a dependency. Implementations support key-value pairs for
// log aggregation.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	SetLevel(level LogLevel)
}

// charmLogger backs Logger with github.com/charmbracelet/log, the default
// for the reference CLI (cmd/ragctl): structured, leveled, colorized.
type charmLogger struct {
	l *charmlog.Logger
}

// NewLogger returns the default Logger, writing structured, colorized
// output to stderr at the given level.
func NewLogger(level LogLevel) Logger {
	l := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
	})
	cl := &charmLogger{l: l}
	cl.SetLevel(level)
	return cl
}

func (c *charmLogger) SetLevel(level LogLevel) {
	switch level {
	case LogLevelOff:
		c.l.SetLevel(charmlog.FatalLevel + 1)
	case LogLevelError:
		c.l.SetLevel(charmlog.ErrorLevel)
	case LogLevelWarn:
		c.l.SetLevel(charmlog.WarnLevel)
	case LogLevelInfo:
		c.l.SetLevel(charmlog.InfoLevel)
	case LogLevelDebug:
		c.l.SetLevel(charmlog.DebugLevel)
	}
}

func (c *charmLogger) Debug(msg string, kv ...interface{}) { c.l.Debug(msg, kv...) }
func (c *charmLogger) Info(msg string, kv ...interface{})  { c.l.Info(msg, kv...) }
func (c *charmLogger) Warn(msg string, kv ...interface{})  { c.l.Warn(msg, kv...) }
func (c *charmLogger) Error(msg string, kv ...interface{}) { c.l.Error(msg, kv...) }

// NopLogger discards everything. Useful for tests and for embedding this
// module into a program that has no stderr to write to.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
func (NopLogger) SetLevel(LogLevel)            {}
