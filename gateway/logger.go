package gateway

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger builds a zap logger from the log section of the config. The
// console format uses the development encoder.
func NewLogger(s LogSetting) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(s.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", s.Level, err)
	}

	cfg := zap.NewProductionConfig()
	if s.Format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = level

	return cfg.Build()
}
