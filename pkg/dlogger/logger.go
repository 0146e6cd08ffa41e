// Package dlogger exposes a simple zap logger, with log levels
package dlogger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// LogLevelError only reports errors
	LogLevelError = "error"

	// LogLevelWarn reports warnings and errors
	LogLevelWarn = "warn"

	// LogLevelInfo sets the log level to info
	LogLevelInfo = "info"

	// LogLevelDebug sets the log level to debug
	LogLevelDebug = "debug"

	// LogLevelNone sets logger to no logging
	LogLevelNone = "none"
)

const (
	// FormatJSON selects the production JSON encoder
	FormatJSON = "json"

	// FormatConsole selects a human readable encoder, suited to interactive runs
	FormatConsole = "console"
)

// GetLogger returns a JSON zap logger with the specified level
func GetLogger(logLevel string) (*zap.Logger, error) {
	return build(logLevel, zap.NewProductionConfig())
}

// GetConsoleLogger returns a console-encoded zap logger with the specified level
func GetConsoleLogger(logLevel string) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Development = false
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	return build(logLevel, cfg)
}

// GetLoggerWithFormat picks the encoder by name (json or console)
func GetLoggerWithFormat(logLevel, format string) (*zap.Logger, error) {
	if format == FormatConsole {
		return GetConsoleLogger(logLevel)
	}
	return GetLogger(logLevel)
}

func build(logLevel string, zapConfig zap.Config) (*zap.Logger, error) {
	if logLevel == LogLevelNone {
		return zap.NewNop(), nil
	}
	var lvl zapcore.Level
	err := lvl.UnmarshalText([]byte(logLevel))
	if err != nil {
		return nil, err
	}
	zapConfig.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}
	return logger, nil
}

// MustGetLogger returns a zap logger with the specified level or panics
func MustGetLogger(logLevel string) *zap.Logger {
	l, err := GetLogger(logLevel)
	if err != nil {
		panic(err)
	}
	return l
}
