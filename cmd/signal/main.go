package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"telesession/internal/core/services"
	httphandlers "telesession/internal/handlers/http"
	"telesession/internal/infrastructure/middleware"
	"telesession/internal/infrastructure/monitoring"
	redisstore "telesession/internal/infrastructure/persistence/redis"
	signalws "telesession/internal/infrastructure/signal"
	"telesession/pkg/config"
	"telesession/pkg/logger"
	"telesession/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
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

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "telesession-signal",
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	redisClient, err := redisstore.NewClient(
		cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, log)
	if err != nil {
		log.Fatalw("failed to connect to Redis", "error", err)
	}
	defer redisstore.CloseClient(redisClient)

	store := redisstore.NewSessionStore(redisClient)
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	collector := monitoring.NewPrometheusCollector()

	wsServer := signalws.NewServer(authService, store, collector, signalws.ServerConfig{
		AuthTimeout:  cfg.Signal.ConnectTimeout,
		PingInterval: cfg.Signal.HeartbeatInterval,
		ReadTimeout:  3 * cfg.Signal.HeartbeatInterval,
		WriteTimeout: 10 * time.Second,
	}, log)

	health := monitoring.NewHealthChecker(3 * time.Second)
	health.Register("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.Recovery(log),
		middleware.ErrorHandler(log),
		middleware.Tracing(),
		middleware.RateLimit(cfg.Signal.SendRatePerSecond, cfg.Signal.SendBurst),
	)

	tokenHandler := httphandlers.NewTokenHandler(authService)
	tokenHandler.SetupRoutes(router)

	sessionHandler := httphandlers.NewSessionHandler(store, log)
	api := router.Group("/api/v1")
	api.Use(middleware.Auth(authService))
	sessionHandler.SetupRoutes(api)

	router.GET("/ws", gin.WrapF(wsServer.HandleWebSocket))
	router.GET("/health", health.Handler())

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:        cfg.Signal.Address,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting signaling server", "address", cfg.Signal.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Signal.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		srv.Close()
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracer", "error", err)
	}
	log.Info("signaling server stopped")
}
