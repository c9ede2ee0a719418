// Package logging provides the relay's per-package structured logger,
// mirroring the `logger = log.NewModuleLogger(log.X)` convention used
// throughout the teacher codebase's storage and datasync packages, but
// backed by go.uber.org/zap's SugaredLogger instead of the unavailable
// internal log15-style package.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
)

var (
	base *zap.Logger
	mu   sync.Mutex
)

func root() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if base != nil {
		return base
	}
	cfg := zap.NewProductionConfig()
	if os.Getenv("LOG_FORMAT") == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	l, err := cfg.Build()
	if err != nil {
		l = zap.NewNop()
	}
	base = l
	return base
}

// Module returns a named, structured logger for the given package/module,
// e.g. logging.Module("subscriber").
func Module(name string) *zap.SugaredLogger {
	return root().Named(name).Sugar()
}

// Sync flushes any buffered log entries. Call before process exit.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	if base != nil {
		_ = base.Sync()
	}
}
