package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"trackgate/internal/platform/config"
)

// main loads configuration, wires the application and blocks until a signal
// asks it to drain and stop.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}
	if err := app.Run(ctx); err != nil {
		log.Fatalf("application error: %v", err)
	}
}
