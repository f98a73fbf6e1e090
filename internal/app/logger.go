// internal/app/logger.go
package app

import (
	"recipe-gateway/internal/config"

	"go.uber.org/zap"
)

// NewLogger returns a development logger when APP_ENV says so, a production
// logger otherwise.
func NewLogger(cfg config.AppConfig) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
