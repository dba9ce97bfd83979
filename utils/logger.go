package utils

import (
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the severity of a log message
type LogLevel int8

const (
	DEBUG = LogLevel(zapcore.DebugLevel)
	INFO  = LogLevel(zapcore.InfoLevel)
	WARN  = LogLevel(zapcore.WarnLevel)
	ERROR = LogLevel(zapcore.ErrorLevel)
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DEBUG, INFO, WARN, ERROR:
		return strings.ToUpper(zapcore.Level(l).String())
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel maps "debug", "info", "warn" and "error" to a LogLevel.
// Anything else yields INFO.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Logger is a leveled printf-style logger backed by zap
type Logger struct {
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
}

// NewLogger creates a development (console) logger with the specified level
func NewLogger(level LogLevel) *Logger {
	return NewLoggerWithEnv("dev", level)
}

// NewLoggerWithEnv builds a console logger for "dev" and a JSON logger for "prod".
func NewLoggerWithEnv(env string, level LogLevel) *Logger {
	atom := zap.NewAtomicLevelAt(zapcore.Level(level))

	var zcfg zap.Config
	if strings.EqualFold(env, "prod") {
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zcfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		zcfg.DisableStacktrace = true
	}
	zcfg.Level = atom
	zcfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	l, err := zcfg.Build(zap.AddCaller(), zap.AddCallerSkip(1))
	if err != nil {
		l = zap.NewExample()
	}
	return &Logger{sugar: l.Sugar(), level: atom}
}

// NewLoggerFromCore wraps an existing zap core. Used by tests with zaptest/observer.
func NewLoggerFromCore(core zapcore.Core, level LogLevel) *Logger {
	return &Logger{
		sugar: zap.New(core).Sugar(),
		level: zap.NewAtomicLevelAt(zapcore.Level(level)),
	}
}

func (l *Logger) enabled(level zapcore.Level) bool {
	return l.level.Enabled(level)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	if l.enabled(zapcore.DebugLevel) {
		l.sugar.Debugf(format, v...)
	}
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	if l.enabled(zapcore.InfoLevel) {
		l.sugar.Infof(format, v...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	if l.enabled(zapcore.WarnLevel) {
		l.sugar.Warnf(format, v...)
	}
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	if l.enabled(zapcore.ErrorLevel) {
		l.sugar.Errorf(format, v...)
	}
}

// WithFields returns a new logger with the specified fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kv := make([]interface{}, 0, len(fields)*2)
	for _, k := range keys {
		kv = append(kv, k, fields[k])
	}
	return &Logger{sugar: l.sugar.With(kv...), level: l.level}
}

// WithField returns a new logger with a single field added
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// SetLevel changes the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level.SetLevel(zapcore.Level(level))
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// Global logger instance
var Log = NewLogger(INFO)

// ConfigureLogger replaces the global logger according to environment and level names.
func ConfigureLogger(env, level string) {
	Log = NewLoggerWithEnv(env, ParseLogLevel(level))
}
