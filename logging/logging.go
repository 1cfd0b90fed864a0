// Package logging adapts a structured logger to the small interface the
// rest of the engine depends on, the same way the teacher injected a
// cursor.Logger into its API clients via a functional option.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the minimal logging contract consumed by every component that
// needs to log. Debug is expected to be conditionally gated by the caller's
// own "debug enabled" configuration, exactly as Plugin.logDebug gated debug
// output in the teacher.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

// logrusLogger backs Logger with a *logrus.Logger.
type logrusLogger struct {
	entry *logrus.Entry
}

// New builds a Logger writing structured (text) output to w. level controls
// the minimum emitted severity.
func New(w io.Writer, level logrus.Level) Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

// NewStderr is the default Logger used when no explicit one is configured.
func NewStderr(debug bool) Logger {
	level := logrus.InfoLevel
	if debug {
		level = logrus.DebugLevel
	}
	return New(os.Stderr, level)
}

func (l *logrusLogger) withFields(kv []any) *logrus.Entry {
	if len(kv) == 0 {
		return l.entry
	}
	fields := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields[key] = kv[i+1]
	}
	return l.entry.WithFields(fields)
}

func (l *logrusLogger) Debug(msg string, kv ...any) { l.withFields(kv).Debug(msg) }
func (l *logrusLogger) Info(msg string, kv ...any)  { l.withFields(kv).Info(msg) }
func (l *logrusLogger) Warn(msg string, kv ...any)  { l.withFields(kv).Warn(msg) }
func (l *logrusLogger) Error(msg string, kv ...any) { l.withFields(kv).Error(msg) }

// Nop is a Logger that discards everything, used in tests the way the
// teacher's tests pass a nil/no-op Logger to avoid noisy output.
type Nop struct{}

func (Nop) Debug(string, ...any) {}
func (Nop) Info(string, ...any)  {}
func (Nop) Warn(string, ...any)  {}
func (Nop) Error(string, ...any) {}
