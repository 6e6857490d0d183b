// Package log wraps logrus behind a small interface so callers never import
// logrus directly.
package log

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

type Logger interface {
	Print(args ...interface{})
	Printf(format string, args ...interface{})

	Trace(args ...interface{})
	Tracef(format string, args ...interface{})

	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	Panic(args ...interface{})
	Panicf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsTraceEnabled() bool
	IsDebugEnabled() bool
	IsInfoEnabled() bool
}

var (
	once     sync.Once
	mu       sync.RWMutex
	logger   Logger
	fallback = sync.OnceValue(func() Logger {
		l := logrus.New()
		l.SetFormatter(newFormatter(DefaultPattern, DefaultTimeLayout))
		l.SetOutput(os.Stderr)
		l.SetLevel(logrus.InfoLevel)
		return &logrusAdapter{entry: logrus.NewEntry(l)}
	})
)

// GetLogger returns the configured logger, or an info-level stderr logger
// when Init has not run.
func GetLogger() Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l == nil {
		return fallback()
	}
	return l
}

// Init configures the global logger. Only the first call has an effect.
func Init(cfg *LoggerConfig) error {
	var err error
	once.Do(func() {
		var l Logger
		l, err = New(cfg)
		if err != nil {
			return
		}
		SetLogger(l)
	})
	return err
}

// SetLogger replaces the global logger.
func SetLogger(l Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}
