package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the run logger from the logging block of the loaded
// configuration. Console output is tuned for an operator watching a
// lab run live; json is for runs captured by a log collector.
func NewLogger(v *viper.Viper) (*zap.Logger, error) {
	raw := v.GetString("logging.level")
	level, err := zapcore.ParseLevel(strings.ToLower(raw))
	if err != nil {
		return nil, fmt.Errorf("logging.level %q: %w", raw, err)
	}

	var cfg zap.Config
	switch format := v.GetString("logging.format"); format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	case "json", "":
		cfg = zap.NewProductionConfig()
		// Runs are short and every line matters when reconstructing
		// what broke the lab. Never sample.
		cfg.Sampling = nil
	default:
		return nil, fmt.Errorf("logging.format %q: want json or console", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	return cfg.Build()
}
