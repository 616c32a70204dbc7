// Package dlogger exposes a simple zap logger, with log levels.
//
// Loggers built here always write to stderr (or an explicit writer):
// in a content filter, stdout carries the file payload and must stay
// clean of diagnostics.
package dlogger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// LogLevelInfo sets the log level to info
	LogLevelInfo = "info"

	// LogLevelDebug sets the log level to debug
	LogLevelDebug = "debug"

	// LogLevelNone sets logger to no logging
	LogLevelNone = "none"
)

// Option alters the logger construction
type Option func(*options)

type options struct {
	w io.Writer
}

// WithWriter redirects log output, e.g. to capture it in tests
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.w = w
	}
}

// GetLogger returns a zap logger with the specified level
func GetLogger(logLevel string, opts ...Option) (*zap.Logger, error) {
	if logLevel == LogLevelNone {
		return zap.NewNop(), nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, err
	}
	o := options{w: os.Stderr}
	for _, apply := range opts {
		apply(&o)
	}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "" // keep filter output reproducible across runs
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(o.w),
		lvl,
	)
	return zap.New(core), nil
}

// MustGetLogger returns a zap logger with the specified level or panics
func MustGetLogger(logLevel string, opts ...Option) *zap.Logger {
	l, err := GetLogger(logLevel, opts...)
	if err != nil {
		panic(err)
	}
	return l
}
