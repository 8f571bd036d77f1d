package log

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	logger = mustBuildDefault()
)

func mustBuildDefault() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}

	return l
}

// SetLogger replaces the process-wide zap logger, e.g. after
// internal/config has parsed the configured level/encoding.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()

	logger = l
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()

	return logger
}

func withHooks(ctx context.Context, msg string, fields []Field) []Field {
	for _, h := range defaultHooks {
		fields = append(fields, h.Apply(ctx, msg)...)
	}

	return fields
}

func Debug(ctx context.Context, msg string, fields ...Field) {
	current().Debug(msg, withHooks(ctx, msg, fields)...)
}

func Info(ctx context.Context, msg string, fields ...Field) {
	current().Info(msg, withHooks(ctx, msg, fields)...)
}

func Warn(ctx context.Context, msg string, fields ...Field) {
	current().Warn(msg, withHooks(ctx, msg, fields)...)
}

func Error(ctx context.Context, msg string, fields ...Field) {
	current().Error(msg, withHooks(ctx, msg, fields)...)
}

// Fatal logs and then terminates the process; used only by the Memory
// Guard's deliberate self-termination path (spec.md §4.6/§7).
func Fatal(ctx context.Context, msg string, fields ...Field) {
	current().Fatal(msg, withHooks(ctx, msg, fields)...)
}

func DebugEnabled(_ context.Context) bool {
	return current().Core().Enabled(zapcore.DebugLevel)
}
