// meetsumd - meeting summarization server: HTTP/WebSocket ingest API plus
// the background job engine that turns transcripts into structured
// summaries.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/open-meetsum/meetsum/pkg/api"
	"github.com/open-meetsum/meetsum/pkg/chunker"
	"github.com/open-meetsum/meetsum/pkg/cleanup"
	"github.com/open-meetsum/meetsum/pkg/config"
	"github.com/open-meetsum/meetsum/pkg/database"
	"github.com/open-meetsum/meetsum/pkg/events"
	"github.com/open-meetsum/meetsum/pkg/inference"
	"github.com/open-meetsum/meetsum/pkg/merger"
	"github.com/open-meetsum/meetsum/pkg/monitor"
	"github.com/open-meetsum/meetsum/pkg/pipeline"
	"github.com/open-meetsum/meetsum/pkg/queue"
	"github.com/open-meetsum/meetsum/pkg/store"
	"github.com/open-meetsum/meetsum/pkg/version"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	setupLogging()
	slog.Info("starting meetsum", "version", version.Full())

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := database.NewClient(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("error closing database client", "error", err)
		}
	}()
	slog.Info("connected to PostgreSQL, schema migrated")

	// Repositories over the shared pool.
	db := dbClient.DB()
	meetings := store.NewMeetingRepository(db)
	segments := store.NewSegmentRepository(db)
	summaries := store.NewSummaryRepository(db)
	jobs := store.NewJobRepository(db)

	// Notification bus: per-meeting WS registry plus the cross-pod
	// LISTEN/NOTIFY bridge.
	publisher := events.NewPublisher()
	connManager := events.NewConnectionManager(cfg.Server.WSWriteTimeout)
	listener := events.NewNotifyListener(dbClient.DSN(), connManager)
	if err := listener.Start(ctx); err != nil {
		log.Fatalf("Failed to start NOTIFY listener: %v", err)
	}
	connManager.SetListener(listener)

	// Pipeline components.
	chk, err := chunker.New(cfg.Pipeline.ChunkSize, cfg.Pipeline.OverlapRatio, cfg.Pipeline.CharsPerToken)
	if err != nil {
		log.Fatalf("Invalid chunker configuration: %v", err)
	}
	mrg := merger.New(0)
	inferenceClient := inference.New(
		cfg.Inference.BaseURL(),
		cfg.Inference.APIKey,
		cfg.Inference.Model,
		cfg.Inference.RequestTimeout,
		cfg.Pipeline.MaxPromptTokens,
		cfg.Pipeline.CharsPerToken,
	)

	service := pipeline.NewService(db, meetings, segments, summaries, jobs, publisher, cfg.Pipeline, cfg.Server.InputDir)
	dispatcher := pipeline.NewDispatcher(db, segments, summaries, jobs, publisher, chk, mrg, inferenceClient, nil, cfg.Pipeline)

	// Job engine.
	podID := uuid.NewString()[:8]
	pool := queue.NewWorkerPool(podID, jobs, cfg.Queue, cfg.Pipeline, dispatcher)
	pool.Start(ctx)

	// Batch monitor: the safety net behind ingest's advisory threshold check.
	batchMonitor := monitor.NewService(cfg.Pipeline, meetings, segments, jobs)
	batchMonitor.Start(ctx)

	// Retention sweeper for terminal job rows.
	retention := cleanup.NewService(cfg.Retention, jobs)
	retention.Start(ctx)

	server := api.NewServer(service, dbClient, pool, connManager, inferenceClient)
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.ListenAddr)
		serverErr <- server.Start(cfg.Server.ListenAddr)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
		}
	}

	// Drain in dependency order: stop accepting requests, let workers
	// finish their current jobs, then tear down the periodic services and
	// the listener.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	pool.Stop()
	batchMonitor.Stop()
	retention.Stop()
	listener.Stop(shutdownCtx)

	slog.Info("meetsum stopped")
}

// setupLogging configures the default slog logger from LOG_LEVEL and
// LOG_FORMAT (text by default, json for log aggregation setups).
func setupLogging() {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if os.Getenv("LOG_FORMAT") == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
