// Package logging builds the zap loggers shared by the CLI, the HTTP service,
// and the C boundary.
package logging

import (
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Environment variables read by FromEnv. The shared library loaded by a
// foreign process has no config file to consult before its first call.
const (
	DevelopmentEnv = "TBPROGRESS_LOGGING_DEVELOPMENT"
	LevelEnv       = "TBPROGRESS_LOGGING_LEVEL"
)

// Options selects the logger flavor.
type Options struct {
	Development bool
	// Level is a zap level name ("debug", "info", ...). Empty keeps the
	// flavor's default.
	Level string
}

// New builds a zap.Logger configured for development or production. Every
// entry carries service=tbprogress.
func New(opts Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = false
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.InitialFields = map[string]any{"service": "tbprogress"}
	if opts.Level != "" {
		level, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(level)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// FromEnv builds a logger from DevelopmentEnv and LevelEnv. It never fails:
// a broken configuration degrades to a no-op logger.
func FromEnv() *zap.Logger {
	development, _ := strconv.ParseBool(os.Getenv(DevelopmentEnv))
	logger, err := New(Options{Development: development, Level: os.Getenv(LevelEnv)})
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
