// Package log wraps logrus with the level names and call shape this codebase
// expects (Infoln/Warnln/Debugln/... with printf-style args), so callers never
// touch logrus directly.
package log

import (
	"os"

	"github.com/sirupsen/logrus"
)

// LevelName is one of the five levels the Config's LOG_LEVEL recognizes.
type LevelName string

const (
	LevelError LevelName = "ERROR"
	LevelWarn  LevelName = "WARN"
	LevelInfo  LevelName = "INFO"
	LevelDebug LevelName = "DEBUG"
	LevelTrace LevelName = "TRACE"
)

func (l LevelName) logrusLevel() logrus.Level {
	switch l {
	case LevelError:
		return logrus.ErrorLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelDebug:
		return logrus.DebugLevel
	case LevelTrace:
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger is a per-component logger bound to a fixed prefix, e.g. "[lesspass]".
// Components receive one explicitly instead of reaching for a package-level
// singleton (see SPEC_FULL.md §9 — no global logger).
//
// The underlying logrus.Logger always runs at TraceLevel; level gates what
// actually gets emitted. This lets WithLevel hand out a per-request override
// (SPEC_FULL.md §6's "log" query parameter) without mutating the shared
// logrus instance's level, which concurrent requests would race on.
type Logger struct {
	prefix string
	level  logrus.Level
	entry  *logrus.Logger
}

// New constructs the process logger at the given level. Call once in main and
// thread the result down through every component.
func New(level LevelName) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.TraceLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Logger{entry: l, level: level.logrusLevel()}
}

// With returns a child logger that prefixes every line, e.g. log.With("[vless]").
func (lg *Logger) With(prefix string) *Logger {
	return &Logger{prefix: lg.prefix + prefix + " ", level: lg.level, entry: lg.entry}
}

// WithLevel returns a copy of lg gated at level instead of lg's current
// level, for the single request it's built for — it never touches the
// shared logrus output level, so two concurrent requests with different
// "log" overrides can't race each other.
func (lg *Logger) WithLevel(level LevelName) *Logger {
	cp := *lg
	cp.level = level.logrusLevel()
	return &cp
}

func (lg *Logger) enabled(callLevel logrus.Level) bool {
	return callLevel <= lg.level
}

func (lg *Logger) Infoln(format string, args ...any) {
	if !lg.enabled(logrus.InfoLevel) {
		return
	}
	lg.entry.Infof(lg.prefix+format, args...)
}

func (lg *Logger) Warnln(format string, args ...any) {
	if !lg.enabled(logrus.WarnLevel) {
		return
	}
	lg.entry.Warnf(lg.prefix+format, args...)
}

func (lg *Logger) Debugln(format string, args ...any) {
	if !lg.enabled(logrus.DebugLevel) {
		return
	}
	lg.entry.Debugf(lg.prefix+format, args...)
}

func (lg *Logger) Traceln(format string, args ...any) {
	if !lg.enabled(logrus.TraceLevel) {
		return
	}
	lg.entry.Tracef(lg.prefix+format, args...)
}

func (lg *Logger) Errorln(format string, args ...any) {
	if !lg.enabled(logrus.ErrorLevel) {
		return
	}
	lg.entry.Errorf(lg.prefix+format, args...)
}
