package observability

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/coursehub/pkg/contextkeys"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	return []string{"DEBUG", "INFO", "WARN", "ERROR"}[l]
}

func (l LogLevel) toLogrusLevel() logrus.Level {
	switch l {
	case DebugLevel:
		return logrus.DebugLevel
	case InfoLevel:
		return logrus.InfoLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// ParseLogLevel parses a level name, defaulting to info
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Logger provides structured JSON logging backed by logrus
type Logger struct {
	base  *logrus.Logger
	entry *logrus.Entry
}

// NewLogger creates a new structured logger
func NewLogger(level LogLevel, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	base := logrus.New()
	base.SetOutput(output)
	base.SetLevel(level.toLogrusLevel())
	base.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyMsg: "message",
		},
	})

	return &Logger{base: base, entry: logrus.NewEntry(base)}
}

// SetLevel changes the level for this logger and every logger derived from it
func (l *Logger) SetLevel(level LogLevel) {
	l.base.SetLevel(level.toLogrusLevel())
}

// Logrus exposes the underlying entry for libraries that accept logrus directly
func (l *Logger) Logrus() *logrus.Entry {
	return l.entry
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{base: l.base, entry: l.entry.WithField(key, value)}
}

// WithFields adds multiple fields to the logger context
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{base: l.base, entry: l.entry.WithFields(logrus.Fields(fields))}
}

// WithError adds an error to the logger context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

// Debug logs a debug message
func (l *Logger) Debug(message string) {
	l.entry.Debug(message)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

// Info logs an info message
func (l *Logger) Info(message string) {
	l.entry.Info(message)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(message string) {
	l.entry.Warn(message)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(message string) {
	l.entry.Error(message)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return contextkeys.WithLogger(ctx, logger)
}

// FromContext returns the request-scoped logger, or a default one
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(contextkeys.LoggerKey).(*Logger); ok {
		return logger
	}
	logger := NewLogger(InfoLevel, os.Stdout)
	if requestID := contextkeys.GetRequestID(ctx); requestID != "" {
		logger = logger.WithField("request_id", requestID)
	}
	return logger
}
