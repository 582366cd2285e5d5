// Package logging builds the process logger and hands it to every package
// that logs.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/scriptbridge/bridge"
	"github.com/wippyai/scriptbridge/config"
	"github.com/wippyai/scriptbridge/hook"
	"github.com/wippyai/scriptbridge/mainthread"
	"github.com/wippyai/scriptbridge/server"
	"github.com/wippyai/scriptbridge/symbols"
)

// New builds a production logger at level ("debug", "info", "warn", "error").
func New(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl == zapcore.DebugLevel {
		cfg.Development = true
	}
	return cfg.Build()
}

// Install sets l as the logger of every package, each under its own name.
func Install(l *zap.Logger) {
	bridge.SetLogger(l.Named("bridge"))
	config.SetLogger(l.Named("config"))
	hook.SetLogger(l.Named("hook"))
	mainthread.SetLogger(l.Named("mainthread"))
	server.SetLogger(l.Named("server"))
	symbols.SetLogger(l.Named("symbols"))
}
