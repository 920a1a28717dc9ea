package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger from the logging section. Level is one of
// debug, info, warn, error; format is json or console.
func NewLogger(l Logging) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", l.Level, err)
	}

	var cfg zap.Config
	switch l.Format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
	case "json", "":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q: must be \"json\" or \"console\"", l.Format)
	}

	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}
