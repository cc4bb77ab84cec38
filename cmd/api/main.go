package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamvault/streamvault/internal/cache"
	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/internal/database"
	"github.com/streamvault/streamvault/internal/detector"
	"github.com/streamvault/streamvault/internal/logging"
	"github.com/streamvault/streamvault/internal/middleware"
	"github.com/streamvault/streamvault/internal/monitoring"
	"github.com/streamvault/streamvault/internal/queue"
	"github.com/streamvault/streamvault/internal/storage"
	"github.com/streamvault/streamvault/internal/tracing"
	"github.com/streamvault/streamvault/internal/transport"
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
		_, closer, err := tracing.InitTracer("streamvault-api", cfg.Tracing.JaegerEndpoint)
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

	fetcher := transport.New(cfg.Transport.Timeout, cfg.Transport.UserAgent)
	det := detector.New(cfg.Detector, fetcher, logger)

	monitor := monitoring.NewMonitor(repo, q, logger, 10*time.Second)
	monitorCtx, cancelMonitor := context.WithCancel(context.Background())
	defer cancelMonitor()
	monitor.Start(monitorCtx)

	api := &API{
		repo:     repo,
		storage:  stor,
		queue:    q,
		cache:    redisCache,
		detector: det,
		monitor:  monitor,
		logger:   logger,
	}

	router := setupRouter(api, cfg, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithField("addr", addr).Info("starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("server stopped")
}

func setupRouter(api *API, cfg *config.Config, logger *logging.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)

	router.GET("/health", api.healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimit(limiter))
	{
		// Detection events from the capture collaborator
		v1.POST("/detections", api.observeDetection)
		v1.GET("/streams", api.listStreams)
		v1.GET("/streams/:id", api.getStream)
		v1.DELETE("/streams", api.clearStreams)

		// Downloads
		v1.POST("/streams/:id/download", api.commitDownload)
		v1.GET("/downloads", api.listDownloads)
		v1.GET("/downloads/:id", api.getDownload)
		v1.GET("/downloads/:id/progress", api.getDownloadProgress)
		v1.POST("/downloads/:id/cancel", api.cancelDownload)
		v1.POST("/downloads/:id/pause", api.pauseDownload)
		v1.POST("/downloads/:id/resume", api.resumeDownload)

		// Library
		v1.GET("/videos", api.listVideos)
		v1.GET("/videos/:id", api.getVideo)
		v1.DELETE("/videos/:id", api.deleteVideo)

		// Preferences
		v1.GET("/preferences/quality", api.getPreferredQuality)
		v1.PUT("/preferences/quality", api.setPreferredQuality)

		// Pipeline status
		v1.GET("/stats", api.getStats)
	}

	return router
}
