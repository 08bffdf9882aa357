package log

import (
	"github.com/tryfix/log"
	"strings"
)

const (
	LevelOff   = `off`
	LevelDebug = `debug`
	LevelError = `error`
)

// Logger gates the underlying tryfix logger so that a disabled
// instance can be handed to components which always log.
type Logger struct {
	logEnabled bool
	log.Logger
}

func NewLogger(level string) *Logger {
	l := &Logger{logEnabled: true}
	switch strings.ToLower(strings.TrimSpace(level)) {
	case LevelOff, ``:
		l.logEnabled = false
		l.Logger = log.Constructor.Log(log.WithLevel("ERROR"))
	case LevelError:
		l.Logger = log.Constructor.Log(
			log.WithColors(true),
			log.WithLevel("ERROR"),
			log.WithFilePath(true),
			log.WithSkipFrameCount(4),
		)
	default:
		l.Logger = log.Constructor.Log(
			log.WithColors(true),
			log.WithLevel("TRACE"),
			log.WithFilePath(true),
			log.WithSkipFrameCount(4),
		)
	}

	return l
}

func ValidLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case LevelOff, LevelDebug, LevelError:
		return true
	}
	return false
}

func (l *Logger) Error(message interface{}, params ...interface{}) {
	if l.logEnabled {
		l.Logger.Error(message, params...)
	}
}

func (l *Logger) Warn(message interface{}, params ...interface{}) {
	if l.logEnabled {
		l.Logger.Warn(message, params...)
	}
}

func (l *Logger) Trace(message interface{}, params ...interface{}) {
	if l.logEnabled {
		l.Logger.Trace(message, params...)
	}
}

func (l *Logger) Debug(message interface{}, params ...interface{}) {
	if l.logEnabled {
		l.Logger.Debug(message, params...)
	}
}

func (l *Logger) Info(message interface{}, params ...interface{}) {
	if l.logEnabled {
		l.Logger.Info(message, params...)
	}
}
