package internal

import (
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel represents different logging verbosity levels
type LogLevel int32

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
	LogLevelTrace
)

// Logger provides leveled logging on top of the standard logger
type Logger struct {
	level atomic.Int32
}

// NewLogger creates a new logger with the specified level
func NewLogger(level LogLevel) *Logger {
	l := &Logger{}
	l.SetLevel(level)
	return l
}

// NewDefaultLogger creates a logger based on LOG_LEVEL environment variable
func NewDefaultLogger() *Logger {
	level, ok := ParseLogLevel(os.Getenv("LOG_LEVEL"))
	if !ok {
		level = LogLevelInfo
	}
	return NewLogger(level)
}

// ParseLogLevel maps ERROR, WARN, INFO, DEBUG or TRACE (any case) to a level.
func ParseLogLevel(s string) (LogLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return LogLevelError, true
	case "WARN":
		return LogLevelWarn, true
	case "INFO":
		return LogLevelInfo, true
	case "DEBUG":
		return LogLevelDebug, true
	case "TRACE":
		return LogLevelTrace, true
	}
	return LogLevelInfo, false
}

// SetLevel changes the verbosity
func (l *Logger) SetLevel(level LogLevel) {
	l.level.Store(int32(level))
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	return LogLevel(l.level.Load())
}

func (l *Logger) logf(level LogLevel, prefix, format string, args ...interface{}) {
	if l.GetLevel() >= level {
		log.Printf(prefix+format, args...)
	}
}

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.logf(LogLevelError, "[ERROR] ", format, args...)
}

// Warn logs warning messages
func (l *Logger) Warn(format string, args ...interface{}) {
	l.logf(LogLevelWarn, "[WARN] ", format, args...)
}

// Info logs info messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.logf(LogLevelInfo, "[INFO] ", format, args...)
}

// Debug logs debug messages
func (l *Logger) Debug(format string, args ...interface{}) {
	l.logf(LogLevelDebug, "[DEBUG] ", format, args...)
}

// Trace logs trace messages
func (l *Logger) Trace(format string, args ...interface{}) {
	l.logf(LogLevelTrace, "[TRACE] ", format, args...)
}

// Global logger instance
var DefaultLogger = NewDefaultLogger()
