// Package logging owns the process-wide zap logger.
package logging

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fentz26/creatorloop/internal/requestctx"
)

// Config selects the logger level and encoding.
type Config struct {
	Level   string
	Format  string
	Verbose bool
}

var (
	mu     sync.RWMutex
	global *zap.Logger
	once   sync.Once
)

// New builds a production logger from cfg.
func New(cfg Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
	}
	if cfg.Verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// L returns the process-wide logger. Until SetGlobal is called it is a
// production logger built on first use.
func L() *zap.Logger {
	once.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		if global != nil {
			return
		}
		logger, err := New(Config{})
		if err != nil {
			logger = zap.NewNop()
		}
		global = logger
	})
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// SetGlobal replaces the process-wide logger.
func SetGlobal(logger *zap.Logger) {
	once.Do(func() {})
	mu.Lock()
	global = logger
	mu.Unlock()
}

// FromContext returns L() annotated with the request id carried by ctx.
func FromContext(ctx context.Context) *zap.Logger {
	logger := L()
	if id := requestctx.RequestIDFromContext(ctx); id != "" {
		logger = logger.With(zap.String("request_id", id))
	}
	return logger
}

// ForStory annotates a logger with the story being decided.
func ForStory(logger *zap.Logger, slug string) *zap.Logger {
	return logger.With(zap.String("story", slug))
}

// Sync flushes the process-wide logger.
func Sync() {
	_ = L().Sync()
}
