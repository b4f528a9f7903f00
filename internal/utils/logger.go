package utils

import (
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogLevel represents an enumeration of log levels
type LogLevel int

const (
	Critical LogLevel = 50
	Fatal    LogLevel = Critical
	Error    LogLevel = 40
	Warning  LogLevel = 30
	Info     LogLevel = 20
	Debug    LogLevel = 10
	NotSet   LogLevel = 0
)

var (
	rootOnce sync.Once
	root     *logrus.Logger
)

// Root returns the process-wide logrus logger shared by every component logger.
// LOCAL=true switches to a human readable text format and debug level;
// LOG_LEVEL overrides the level.
func Root() *logrus.Logger {
	rootOnce.Do(func() {
		root = logrus.New()
		root.SetOutput(os.Stdout)

		local := strings.ToLower(os.Getenv("LOCAL"))
		if local == "true" || local == "1" {
			root.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			root.SetLevel(logrus.DebugLevel)
		} else {
			root.SetFormatter(&logrus.JSONFormatter{})
			root.SetLevel(logrus.InfoLevel)
		}

		if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
			if parsed, err := logrus.ParseLevel(lvl); err == nil {
				root.SetLevel(parsed)
			}
		}
	})
	return root
}

// Logger provides structured logging with a component prefix
type Logger struct {
	prefix        string
	entry         *logrus.Entry
	logLevel      LogLevel
	logLevelMutex sync.Mutex
}

// NewLogger creates a new logger with a given prefix.
// Without an explicit level the root logger's level decides.
func NewLogger(prefix string, logLevel ...LogLevel) *Logger {
	logLevelValue := NotSet
	if len(logLevel) > 0 {
		logLevelValue = logLevel[0]
	}
	return &Logger{
		prefix:   prefix,
		entry:    Root().WithField("component", prefix),
		logLevel: logLevelValue,
	}
}

// SetLogLevel sets the logging level
func (l *Logger) SetLogLevel(logLevel LogLevel) {
	l.logLevelMutex.Lock()
	defer l.logLevelMutex.Unlock()
	l.logLevel = logLevel
}

// With returns a child logger that always carries the given key-value pairs
func (l *Logger) With(keyvals ...interface{}) *Logger {
	l.logLevelMutex.Lock()
	defer l.logLevelMutex.Unlock()
	return &Logger{
		prefix:   l.prefix,
		entry:    l.entry.WithFields(fields(keyvals)),
		logLevel: l.logLevel,
	}
}

// Info logs an informational message
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	if !l.enabled(Info) {
		return
	}
	l.entry.WithFields(fields(keyvals)).Info(msg)
}

// Error logs an error message
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	if !l.enabled(Error) {
		return
	}
	l.entry.WithFields(fields(keyvals)).Error(msg)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	if !l.enabled(Warning) {
		return
	}
	l.entry.WithFields(fields(keyvals)).Warn(msg)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	if !l.enabled(Debug) {
		return
	}
	l.entry.WithFields(fields(keyvals)).Debug(msg)
}

func (l *Logger) enabled(level LogLevel) bool {
	l.logLevelMutex.Lock()
	defer l.logLevelMutex.Unlock()
	return l.logLevel <= level
}

// fields turns alternating key-value pairs into logrus fields.
// A trailing key without a value is dropped.
func fields(keyvals []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		if err, isErr := keyvals[i+1].(error); isErr && err != nil {
			f[key] = err.Error()
			continue
		}
		f[key] = keyvals[i+1]
	}
	return f
}
