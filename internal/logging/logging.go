// Package logging builds the process-wide zap logger. Components derive
// their own scope with log.Named(...).
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
}

func New(cfg Config) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(cfg.Level); err != nil {
		return nil, err
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	// Unreachable devices warn on every cycle; stacktraces below error
	// level only add noise.
	zcfg.DisableStacktrace = true
	return zcfg.Build()
}
