package logger

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is a structured log field.
type Field = zap.Field

// Config contains logger configuration
type Config struct {
	Level  string // "debug", "info", "warn", or "error"
	Format string // "json" or "console"
}

// Logger wraps a zap logger
type Logger struct {
	zl *zap.Logger
}

// New creates a new logger from the given configuration
func New(cfg Config) (*Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info", "":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		return nil, fmt.Errorf("unknown log level: %q", cfg.Level)
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.Encoding = "json"
	if cfg.Format == "console" {
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zl, err := zapCfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("failed to build zap logger: %w", err)
	}

	return &Logger{zl: zl}, nil
}

// NewNop returns a logger that discards everything. Useful in tests.
func NewNop() *Logger {
	return &Logger{zl: zap.NewNop()}
}

// Named returns a logger with the given name segment appended
func (l *Logger) Named(name string) *Logger {
	return &Logger{zl: l.zl.Named(name)}
}

// With returns a logger with the given fields attached to every entry
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{zl: l.zl.With(fields...)}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.zl.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.zl.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.zl.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.zl.Error(msg, fields...) }

// Sync flushes any buffered log entries
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

// Field constructors re-exported so callers don't import zap directly

func String(key, value string) Field            { return zap.String(key, value) }
func Int(key string, value int) Field           { return zap.Int(key, value) }
func Int64(key string, value int64) Field       { return zap.Int64(key, value) }
func Float64(key string, value float64) Field   { return zap.Float64(key, value) }
func Bool(key string, value bool) Field         { return zap.Bool(key, value) }
func Duration(key string, d time.Duration) Field { return zap.Duration(key, d) }
func Any(key string, value any) Field           { return zap.Any(key, value) }
func Error(err error) Field                     { return zap.Error(err) }
