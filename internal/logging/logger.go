// Package logging builds the zap loggers shared by the resolver commands.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is attached to every log line.
const ServiceName = "license-resolver"

// New builds a zap.Logger configured for development or production.
// Production output is JSON with sampling; development output is colored console text.
func New(development bool) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.DisableStacktrace = true
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.InitialFields = map[string]any{"service": ServiceName}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger (development=%t): %w", development, err)
	}
	return logger, nil
}

// Record returns the fields that identify a listing in log lines.
func Record(urlID, url string) []zap.Field {
	return []zap.Field{zap.String("url_id", urlID), zap.String("url", url)}
}
