// Package logging constructs the zap loggers used across the pool, reaper,
// coordinator, and driver adapters. The library stays silent unless a
// caller opts in: Nop returns a no-op logger, while New always builds a
// real logger (at "info" when the level is empty).
package logging

import "go.uber.org/zap"

// New builds a production-style JSON logger at the given level
// ("debug", "info", "warn", "error"). An empty level defaults to "info".
func New(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		var lvl zap.AtomicLevel
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, err
		}
		cfg.Level = lvl
	}
	return cfg.Build()
}

// Nop returns a logger that discards everything, used as the pool's
// default when no logger is injected.
func Nop() *zap.Logger {
	return zap.NewNop()
}
