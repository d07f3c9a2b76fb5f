package logger_test

import (
	"log/slog"

	"github.com/soundprediction/memoria/pkg/logger"
)

func ExampleNewDefaultLogger() {
	// Create a logger with default settings
	log := logger.NewDefaultLogger(slog.LevelDebug)

	// Log different levels
	log.Debug("This is a debug message")
	log.Info("This is an info message")
	log.Warn("This is a warning message") // Will be yellow in terminal
	log.Error("This is an error message") // Will be red in terminal
}

func ExampleNew() {
	// Create a logger from config strings
	log := logger.New("info", "text")

	// Log with attributes
	log.Info("Capturing memory", "memory_id", "mem-12345", "domain", "acme/apollo")
	log.Info("Entities stored", "created", 4, "updated", 2)
	log.Warn("Extraction degraded, pattern fallback used", "memory_id", "mem-12345")
	log.Error("Backend unavailable", "error", "timeout", "retry_count", 3)
}
