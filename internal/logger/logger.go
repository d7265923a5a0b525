// Package logger provides a package-level structured logger for code paths
// that cannot take a *zap.SugaredLogger by dependency injection (config
// validation, package init, CLI bootstrap).
package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu  sync.RWMutex
	log *zap.SugaredLogger
)

// Initialize sets up the package-level logger. Safe to call multiple times;
// the last call wins. If never called, a no-op logger is used so that
// library code never panics on a nil logger.
func Initialize(debug bool) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}

	l, err := cfg.Build()
	if err != nil {
		l = zap.NewNop()
	}

	mu.Lock()
	log = l.Sugar()
	mu.Unlock()
}

func sugared() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	if log == nil {
		return zap.NewNop().Sugar()
	}
	return log
}

// Debugw logs a debug message with structured key/value pairs.
func Debugw(msg string, kv ...any) { sugared().Debugw(msg, kv...) }

// Infow logs an info message with structured key/value pairs.
func Infow(msg string, kv ...any) { sugared().Infow(msg, kv...) }

// Warnw logs a warn message with structured key/value pairs.
func Warnw(msg string, kv ...any) { sugared().Warnw(msg, kv...) }

// Errorw logs an error message with structured key/value pairs.
func Errorw(msg string, kv ...any) { sugared().Errorw(msg, kv...) }

// Debug logs a debug message.
func Debug(msg string) { sugared().Debug(msg) }

// Sugared returns the current package-level logger, for components that
// want to hold their own reference rather than calling through the
// package functions on every log line.
func Sugared() *zap.SugaredLogger { return sugared() }
