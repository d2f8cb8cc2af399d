package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/drafterhq/drafter-core/internal/config"
	"github.com/drafterhq/drafter-core/internal/runtime"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Command line arg overrides RUN_MODE
	if len(os.Args) > 1 {
		cfg.RunMode = os.Args[1]
	}

	log.Printf("drafter-core %s starting in %s mode", version, cfg.RunMode)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutdown signal received, stopping...")
		cancel()
	}()

	svc, err := runtime.New(ctx, cfg, slog.Default())
	if err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}
	defer svc.Close()

	switch cfg.RunMode {
	case "worker", "all":
		runWorkerMode(ctx, svc)

	default:
		log.Fatalf("Unknown mode: %s (use: worker or all)", cfg.RunMode)
	}
}

// runWorkerMode starts the job worker and the janitor.
// It processes pipeline jobs from the queue until shutdown.
func runWorkerMode(ctx context.Context, svc *runtime.Services) {
	log.Println("Starting worker mode...")

	if err := svc.Worker.Start(ctx); err != nil {
		log.Fatalf("Failed to start worker: %v", err)
	}
	if svc.Janitor != nil {
		if err := svc.Janitor.Start(ctx); err != nil {
			log.Fatalf("Failed to start janitor: %v", err)
		}
	}

	log.Println("Worker started, processing jobs...")
	log.Println("Worker handles:")
	log.Println("  - PARSE: extract the structural model of an uploaded template version")
	log.Println("  - CLASSIFY: label template sections as static or dynamic")
	log.Println("  - GENERATE: assemble the first version of a new document")
	log.Println("  - REGENERATE_SECTION: regenerate a single document section")
	log.Println("  - REGENERATE_DOCUMENT: regenerate a whole document")

	// Wait for context cancellation
	<-ctx.Done()

	// Graceful shutdown
	log.Println("Stopping worker...")
	if svc.Janitor != nil {
		svc.Janitor.Stop()
	}
	svc.Worker.Stop()
	log.Println("Worker stopped")
}
