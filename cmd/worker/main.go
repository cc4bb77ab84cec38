package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/streamvault/streamvault/internal/cache"
	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/internal/database"
	"github.com/streamvault/streamvault/internal/downloader"
	"github.com/streamvault/streamvault/internal/logging"
	"github.com/streamvault/streamvault/internal/metrics"
	"github.com/streamvault/streamvault/internal/muxer"
	"github.com/streamvault/streamvault/internal/queue"
	"github.com/streamvault/streamvault/internal/storage"
	"github.com/streamvault/streamvault/internal/tracing"
	"github.com/streamvault/streamvault/internal/transport"
	"github.com/streamvault/streamvault/internal/webhook"
	"github.com/streamvault/streamvault/pkg/models"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewDefaultLogger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	if cfg.Tracing.Enabled {
		_, closer, err := tracing.InitTracer("streamvault-worker", cfg.Tracing.JaegerEndpoint)
		if err != nil {
			log.Fatalf("Failed to initialize tracer: %v", err)
		}
		defer closer.Close()
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	repo := database.NewRepository(db)

	stor, err := storage.New(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	uploader := storage.NewOptimizedStorage(stor, 0)

	q, err := queue.New(cfg.Queue)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	if err := q.SetupDeadLetterQueue(); err != nil {
		log.Fatalf("Failed to set up dead letter queue: %v", err)
	}

	redisCache, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisCache.Close()

	fetcher := transport.New(cfg.Downloader.RequestTimeout, cfg.Downloader.UserAgent)
	mux := muxer.New(cfg.Muxer.FFmpegPath, logger)

	coordinator := downloader.NewCoordinator(repo, q, redisCache, uploader, fetcher, mux, cfg.Downloader, logger)
	coordinator.SetNotifier(webhook.NewNotifier(cfg.Webhook.Endpoints, cfg.Webhook.Secret, logger))

	metricsServer := metrics.NewServer(cfg.Server.MetricsPort)
	go func() {
		if err := metricsServer.Start(); err != nil {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("shutting down worker")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		metricsServer.Shutdown(shutdownCtx)
	}()

	// Requeue downloads interrupted by a previous worker crash before
	// accepting new work.
	if err := coordinator.Rehydrate(ctx); err != nil {
		logger.WithError(err).Warn("failed to rehydrate interrupted downloads")
	}

	logger.Info("worker started, waiting for downloads")
	if err := q.ConsumeDownloads(ctx, func(d *models.Download) error {
		return coordinator.Process(ctx, d)
	}); err != nil {
		log.Fatalf("Failed to consume downloads: %v", err)
	}

	<-ctx.Done()
	logger.Info("worker stopped")
}
