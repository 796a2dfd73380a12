// Package logging provides structured logging for the sync core.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// global logger instance
	global *zap.SugaredLogger
	once   sync.Once
)

// Init initializes the global logger with the given minimum level
// ("debug", "info", "warn", "error"). Output is JSON on stderr.
func Init(level string) {
	once.Do(func() {
		global = build(level)
	})
}

// Get returns the global logger instance.
func Get() *zap.SugaredLogger {
	if global == nil {
		Init("info")
	}
	return global
}

func build(level string) *zap.SugaredLogger {
	lvl := zapcore.InfoLevel
	if parsed, err := zapcore.ParseLevel(level); err == nil {
		lvl = parsed
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Fall back to a no-op logger rather than failing startup.
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}

// Convenience functions using the global logger. Key/value pairs follow
// the message, e.g. logging.Info("queued", "request_id", id).

func Debug(message string, keysAndValues ...interface{}) {
	Get().Debugw(message, keysAndValues...)
}

func Info(message string, keysAndValues ...interface{}) {
	Get().Infow(message, keysAndValues...)
}

func Warn(message string, keysAndValues ...interface{}) {
	Get().Warnw(message, keysAndValues...)
}

func Error(message string, err error, keysAndValues ...interface{}) {
	if err != nil {
		keysAndValues = append(keysAndValues, "error", err.Error())
	}
	Get().Errorw(message, keysAndValues...)
}

// Sync flushes any buffered log entries.
func Sync() {
	if global != nil {
		_ = global.Sync()
	}
}
