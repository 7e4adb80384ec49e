package obs

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu    sync.RWMutex
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	base  *zap.Logger
	once  sync.Once
)

// EnableDebug globally enables debug logs.
func EnableDebug(v bool) {
	if v {
		level.SetLevel(zapcore.DebugLevel)
		return
	}
	level.SetLevel(zapcore.InfoLevel)
}

// SetLogger replaces the backing logger, e.g. zap.NewNop() in tests.
func SetLogger(l *zap.Logger) {
	once.Do(func() {})
	mu.Lock()
	base = l
	mu.Unlock()
}

// Logger returns the backing zap logger.
func Logger() *zap.Logger {
	once.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = level
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
		cfg.EncoderConfig.MessageKey = "msg"
		cfg.Sampling = nil
		l, err := cfg.Build()
		if err != nil {
			l = zap.NewNop()
		}
		mu.Lock()
		base = l
		mu.Unlock()
	})
	mu.RLock()
	defer mu.RUnlock()
	return base
}

type Fields map[string]any

func (f Fields) toZap() []zap.Field {
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func Info(msg string, f Fields)  { Logger().Info(msg, f.toZap()...) }
func Error(msg string, f Fields) { Logger().Error(msg, f.toZap()...) }
func Debug(msg string, f Fields) {
	l := Logger()
	if l.Core().Enabled(zapcore.DebugLevel) {
		l.Debug(msg, f.toZap()...)
	}
}

// Sync flushes buffered log entries.
func Sync() { _ = Logger().Sync() }
