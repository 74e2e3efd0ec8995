package main

import (
	"log/slog"

	"github.com/soundprediction/ipifhub/pkg/logger"
)

func main() {
	// Create a colored logger
	log := logger.NewDefaultLogger(slog.LevelDebug)

	log.Info("============================================")
	log.Info("    ipifhub Colored Logger Demo")
	log.Info("============================================")
	log.Info("")

	log.Debug("Debug message - standard color")
	log.Info("Info message - standard color")
	log.Warn("Warning message - yellow!")
	log.Error("Error message - red!")

	log.Info("")
	log.Info("Partition changes are highlighted in green:")
	log.Info("coalesced clusters", "entity", "p3", "from", []string{"m1", "m2"}, "into", "m3")
	log.Info("split cluster", "cluster", "m3", "into", []string{"m4", "m5"})
	log.Info("rebuilt partition", "kind", "person", "entities", 1200, "clusters", 870)
	log.Info("reindex enqueued", "tasks", 4211)

	log.Info("")
	log.Info("Demo complete!")
}
