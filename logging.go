package main

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.SugaredLogger

func init() {
	logger = newLogger(false)
}

// Logger returns the process-wide structured logger.
func Logger() *zap.SugaredLogger {
	return logger
}

// SetVerboseLogging switches the global logger to debug level.
func SetVerboseLogging(verbose bool) {
	logger = newLogger(verbose)
}

func newLogger(verbose bool) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	base, err := cfg.Build()
	if err != nil {
		// Config is static; Build can only fail on a programming error
		panic(err)
	}
	return base.Sugar()
}
