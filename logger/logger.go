package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "clinipratica-api"

var log = zap.NewNop()

// LogLevel is the LOG_LEVEL value from config.
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

// Level maps l to a zap level. Unknown or empty values fall back to info.
func (l LogLevel) Level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(string(l))))
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// Init builds the process logger. Development mode uses the console encoder.
func Init(development bool, level LogLevel) error {
	var config zap.Config
	if development {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	config.Level = zap.NewAtomicLevelAt(level.Level())
	config.InitialFields = map[string]interface{}{"service": serviceName}

	built, err := config.Build()
	if err != nil {
		return err
	}
	log = built
	return nil
}

// Get returns the logger instance. Until Init is called it is a no-op logger.
func Get() *zap.Logger {
	return log
}

// Set replaces the logger instance, mostly for tests that want to observe output.
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	log = l
}

// Sync flushes any buffered log entries
func Sync() error {
	return log.Sync()
}
