package logger

import (
	"go.uber.org/zap"
)

// New builds a zap logger, human readable in development and JSON otherwise.
func New(dev bool) (*zap.Logger, error) {
	if dev {
		cfg := zap.NewDevelopmentConfig()
		return cfg.Build()
	}
	return zap.NewProduction()
}
