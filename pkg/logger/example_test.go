package logger_test

import (
	"log/slog"

	"github.com/soundprediction/ipifhub/pkg/config"
	"github.com/soundprediction/ipifhub/pkg/logger"
)

func ExampleNewDefaultLogger() {
	// Create a logger with default settings
	log := logger.NewDefaultLogger(slog.LevelDebug)

	// Log different levels
	log.Debug("This is a debug message")
	log.Info("This is an info message")
	log.Info("coalesced clusters", "into", "m1") // Will be green in terminal
	log.Warn("This is a warning message")        // Will be yellow in terminal
	log.Error("This is an error message")        // Will be red in terminal
}

func ExampleNew() {
	// Create a logger from configuration
	log := logger.New(config.LogConfig{Level: "info", Format: "json"})

	log.Info("Processing request", "repo", "alpha", "action", "save")
	log.Warn("Rate limit approaching", "current", 95, "limit", 100)
}
