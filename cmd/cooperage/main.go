package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cooperage/internal/ai"
	"github.com/cooperage/internal/api"
	"github.com/cooperage/internal/config"
	"github.com/cooperage/internal/events"
	"github.com/cooperage/internal/extraction"
	"github.com/cooperage/internal/graph"
	"github.com/cooperage/internal/pipeline"
	"github.com/cooperage/internal/search"
	"github.com/cooperage/internal/settings"
	"github.com/cooperage/internal/store"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	log.Printf("Starting Cooperage v%s (commit: %s)", version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Relational store
	maltStore, err := store.NewPostgresStore(cfg.Postgres)
	if err != nil {
		log.Fatalf("Failed to initialize postgres store: %v", err)
	}
	defer maltStore.Close()

	// Knowledge graph
	graphStore, err := graph.NewNeo4jStore(cfg.Graph)
	if err != nil {
		log.Fatalf("Failed to initialize graph store: %v", err)
	}
	defer graphStore.Close()

	// Settings services, each with its own cache
	pipelineSettings := settings.NewPipelineService(maltStore)
	aiSettings := settings.NewAIService(maltStore)

	// AI providers
	resolver := ai.NewResolver(cfg.AI.OpenAIAPIKey, aiSettings)
	extractor := extraction.NewExtractor(resolver)

	// Event publisher
	publisher := events.NewPublisher(cfg.Kafka)
	defer publisher.Close()

	// Pipeline and scheduler
	pipelineService := pipeline.NewService(maltStore, graphStore, resolver, extractor, pipelineSettings, publisher)
	scheduler := pipeline.NewScheduler(pipelineService, pipelineSettings)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	// Backfill cycle
	go runBackfillCycle(ctx, pipelineService, cfg.Backfill.Interval)

	// Search router
	searcher := search.NewRouter(resolver, resolver, maltStore, graphStore)

	// HTTP gateway
	gateway := api.NewGateway(cfg.API, pipelineService, searcher, scheduler,
		pipelineSettings, aiSettings, publisher, maltStore, graphStore)

	errCh := make(chan error, 1)
	go func() {
		errCh <- gateway.Start()
	}()

	waitForShutdown(cancel, gateway, errCh)
}

// runBackfillCycle re-evaluates isolated nodes on a long fixed interval,
// independent of the pipeline schedule
func runBackfillCycle(ctx context.Context, pipelineService *pipeline.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("Backfill cycle started, interval %s", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := pipelineService.Backfill(ctx); err != nil {
				log.Printf("Backfill cycle failed: %v", err)
			}
		}
	}
}

func waitForShutdown(cancel context.CancelFunc, gateway *api.Gateway, errCh chan error) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Printf("Shutdown signal received (%s), stopping services...", sig)
	case err := <-errCh:
		if err != nil {
			log.Printf("Gateway stopped: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := gateway.Stop(shutdownCtx); err != nil {
		log.Printf("Error during gateway shutdown: %v", err)
	}

	cancel()
	fmt.Println("Cooperage stopped")
}
