package main

import (
	"log/slog"

	"github.com/soundprediction/memoria/pkg/logger"
)

func main() {
	// Create a colored logger
	log := logger.NewDefaultLogger(slog.LevelDebug)

	log.Info("============================================")
	log.Info("    Memoria Colored Logger Demo")
	log.Info("============================================")
	log.Info("")

	log.Debug("Debug message - gray")
	log.Info("Info message - standard color")
	log.Warn("Warning message - yellow!")
	log.Error("Error message - red!")

	log.Info("")
	log.Info("Attributes render as key=value pairs:")
	log.Info("Capturing memory", "memory_id", "mem-42", "domain", "acme/apollo")
	log.Info("Entities stored", "created", 4, "updated", 2, "duration", "120ms")
	log.Warn("Circuit breaker state changed", "from", "closed", "to", "open")

	log.Info("")
	log.Info("Demo complete!")
}
