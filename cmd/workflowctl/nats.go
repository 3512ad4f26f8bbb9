package main

import (
	"log/slog"
	"os"

	"github.com/nats-io/nats.go"
)

// connectNATS dials NATS_URL if set, returning nil when unset or
// unreachable — event publishing is best-effort, never load-bearing for a
// run's outcome (engine.Manager works with a nil Publisher).
func connectNATS() *nats.Conn {
	url := os.Getenv("NATS_URL")
	if url == "" {
		return nil
	}
	nc, err := nats.Connect(url)
	if err != nil {
		slog.Warn("nats connect failed, running without event publishing", "error", err)
		return nil
	}
	return nc
}
