package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httphandlers "streamcast/internal/handlers/http"
	"streamcast/internal/infrastructure/directory"
	"streamcast/internal/infrastructure/middleware"
	"streamcast/internal/infrastructure/monitoring"
	"streamcast/internal/infrastructure/repositories/memory"
	redisrepo "streamcast/internal/infrastructure/repositories/redis"
	signalrelay "streamcast/internal/infrastructure/signal"
	"streamcast/pkg/circuitbreaker"
	"streamcast/pkg/config"
	"streamcast/pkg/logger"
	"streamcast/pkg/retry"
	"streamcast/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/streamcast/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	// Tracing
	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "streamcast-signal",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	registry := memory.NewRoomRegistry()

	relayOpts := []signalrelay.Option{
		signalrelay.WithPingInterval(cfg.Signal.PingInterval),
		signalrelay.WithTimeouts(cfg.Signal.PongTimeout, cfg.Signal.WriteTimeout),
	}

	collector := monitoring.NewPrometheusCollector()
	relayOpts = append(relayOpts, signalrelay.WithMetrics(collector))

	// Optional Redis presence mirror
	if cfg.Redis.Enabled {
		redisClient, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			log,
		)
		if err != nil {
			log.Fatalw("failed to connect to redis", "error", err)
		}
		defer redisClient.Close()
		mirror := redisrepo.NewBatchedPresenceMirror(redisClient, 64, 250*time.Millisecond)
		if closer, ok := mirror.(interface{ Close() }); ok {
			defer closer.Close()
		}
		relayOpts = append(relayOpts, signalrelay.WithPresenceMirror(mirror))
	}

	// Optional stream directory
	if cfg.Directory.Enabled {
		retryCfg := retry.DefaultConfig()
		retryCfg.MaxAttempts = cfg.Directory.RetryAttempts
		directoryClient := directory.NewClient(directory.Config{
			BaseURL:        cfg.Directory.BaseURL,
			RequestTimeout: cfg.Directory.RequestTimeout,
			Retry:          retryCfg,
			Breaker:        circuitbreaker.DefaultConfig(),
		}, logger.Named(zapLogger, "directory"))
		relayOpts = append(relayOpts, signalrelay.WithStreamDirectory(directoryClient))
	}

	if cfg.RateLimiting.Enabled {
		relayOpts = append(relayOpts,
			signalrelay.WithMessageRate(cfg.RateLimiting.WebSocket.MessagesPerSecond, cfg.RateLimiting.WebSocket.Burst),
			signalrelay.WithMaxMessageSize(cfg.RateLimiting.WebSocket.MaxMessageSizeBytes),
		)
	}

	relay := signalrelay.NewRelay(registry, logger.Named(zapLogger, "relay"), relayOpts...)

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	router.Use(middleware.ErrorHandlerMiddleware(log))

	router.GET("/ws", gin.WrapF(relay.HandleWebSocket))

	roomHandler := httphandlers.NewRoomHandler(registry, relay)
	roomHandler.SetupRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":          "ready",
			"timestamp":       time.Now(),
			"connected_peers": len(relay.ConnectedPeers()),
		})
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting StreamCast signaling server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down StreamCast signaling server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer", "error", err)
	}

	log.Info("Shutdown complete")
}
