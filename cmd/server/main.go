package main

import (
	"github.com/zep-us/alert-relay/internal/app"
	"github.com/zep-us/alert-relay/internal/config"
	"github.com/zep-us/alert-relay/pkg/logger"
)

func main() {
	// Load configuration from config.toml (+ .env and ALERT_RELAY_* overrides)
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration: %v", err)
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	application := app.NewApp(cfg)

	logger.Info("Alert relay starting...")

	if err := application.Run(); err != nil {
		logger.Fatal("Server error: %v", err)
	}
}
