package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/htmlchunk/internal/api"
	"github.com/dgallion1/htmlchunk/internal/config"
	"github.com/dgallion1/htmlchunk/internal/pathstore"
	"github.com/dgallion1/htmlchunk/internal/pipeline"
	"github.com/dgallion1/htmlchunk/internal/stats"
)

func main() {
	cfg := config.Load()
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Chunk storage is optional; without it chunks stay on the job.
	var store pipeline.ChunkStore
	var ps *pathstore.Client
	if cfg.StoreEnabled() {
		ps = pathstore.NewClient(cfg.PathstoreURL, cfg.PathstoreAPIKey)
		store = ps
	} else {
		log.Warn("PATHSTORE_URL not set, chunks will not be persisted")
	}

	chunkStats := stats.New(cfg.StatsWindow)

	orch := pipeline.NewOrchestrator(cfg, store, chunkStats, log)
	orch.Start(ctx)

	srv := api.NewServer(orch, chunkStats, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		orch.Stop()
		if ps != nil {
			ps.Close()
		}
	}()

	log.Info("starting htmlchunk", "port", cfg.Port, "workers", cfg.WorkerCount, "storage", store != nil)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	<-done
	log.Info("stopped")
}
