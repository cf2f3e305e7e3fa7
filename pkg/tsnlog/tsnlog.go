// Package tsnlog builds the zap loggers every tsnkit component takes as a
// constructor argument. There is no package-level logger: callers build
// loggers in their command code and thread them down, the way caddyserver-caddy wires its
// per-module loggers.
package tsnlog

import "go.uber.org/zap"

// New returns a development-style console logger named component, or a nop
// logger if debug is false. CLI tools call this in their command handlers and
// pass the result into the constructors that accept a *zap.Logger.
func New(component string, debug bool) *zap.Logger {
	if !debug {
		return zap.NewNop()
	}
	cfg := zap.NewDevelopmentConfig()
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger.Named(component)
}

// OrNop returns l if non-nil, otherwise a no-op logger. Every constructor
// that accepts an optional *zap.Logger calls this first so callers can pass
// nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
