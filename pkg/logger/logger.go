package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. Production emits JSON; anything else
// gets the colored console encoder. level overrides the default level when it
// parses.
func NewLogger(environment, level string) (*zap.Logger, error) {
	var config zap.Config

	if environment == "production" {
		config = zap.NewProductionConfig()
		config.DisableCaller = false
		config.DisableStacktrace = false
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if lvl, ok := ParseLevel(level); ok {
		config.Level = zap.NewAtomicLevelAt(lvl)
	}

	return config.Build()
}

// ParseLevel accepts zap level names in any case
func ParseLevel(raw string) (zapcore.Level, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return zapcore.InfoLevel, false
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(raw))); err != nil {
		return zapcore.InfoLevel, false
	}
	return level, true
}
