package telemetry

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process-wide logger. Set MESHSTORE_LOG_DEV=1 for a
// human-readable development encoder; otherwise logs are JSON.
func NewLogger(component string) *zap.Logger {
	var cfg zap.Config
	if os.Getenv("MESHSTORE_LOG_DEV") != "" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}

	logger, err := cfg.Build()
	if err != nil {
		// Build only fails on malformed config; fall back rather than
		// leave callers without a logger.
		logger = zap.NewNop()
	}
	return logger.Named(component)
}

// Nop returns a logger that discards everything, used as the default for
// constructors that accept a nil *zap.Logger.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// OrNop returns l if non-nil, otherwise a no-op logger. Constructors use
// this so callers aren't forced to plumb a logger through tests.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return Nop()
	}
	return l
}
