package util

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// InitLogger builds the process logger for the POS server and posctl. Every
// entry carries the service name and ENV so sale and stock logs from several
// tills can share one sink.
//
// production: JSON, info and up, no sampling so no sale record is dropped.
// test: console, warnings only.
// anything else: colored console at debug.
func InitLogger(env string) error {
	var cfg zap.Config

	switch env {
	case "production":
		cfg = zap.NewProductionConfig()
		cfg.Sampling = nil
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "test":
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	built, err := cfg.Build(zap.Fields(
		zap.String("service", ServiceName),
		zap.String("env", env),
	))
	if err != nil {
		return err
	}

	logger = built
	zap.ReplaceGlobals(logger)
	return nil
}

// GetLogger returns the process logger, falling back to a development logger
// when InitLogger was never called.
func GetLogger() *zap.Logger {
	if logger == nil {
		logger, _ = zap.NewDevelopment()
	}
	return logger
}

// ForOrder scopes l to one order.
func ForOrder(l *zap.Logger, orderID int64) *zap.Logger {
	return l.With(zap.Int64("order_id", orderID))
}

// SyncLogger flushes buffered entries; call it before exit.
func SyncLogger() {
	if logger != nil {
		_ = logger.Sync()
	}
}
