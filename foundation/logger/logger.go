// Package logger provides a convenience function to construct the
// application logger. Every entry is teed into a bounded ring so the
// operator RPC surface can dump recent activity.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New constructs a Sugared Logger that writes to stdout and provides
// human readable timestamps, plus the ring capturing recent entries.
func New(service string) (*zap.SugaredLogger, *Ring, error) {
	ring := NewRing(ringCapacity)

	log, err := NewWithRing(service, ring)
	if err != nil {
		return nil, nil, err
	}

	return log, ring, nil
}

// NewWithRing constructs the logger around a caller supplied ring.
func NewWithRing(service string, ring *Ring) (*zap.SugaredLogger, error) {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.DisableStacktrace = true
	config.InitialFields = map[string]any{
		"service": service,
	}

	log, err := config.Build(zap.WithCaller(true), zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, newRingCore(ring, zapcore.DebugLevel, config.EncoderConfig))
	}))
	if err != nil {
		return nil, err
	}

	return log.Sugar(), nil
}
