package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	chromedp_adapter "github.com/sorinflow/divar-crawler/internal/adapter/chromedp"
	"github.com/sorinflow/divar-crawler/internal/adapter/imagestore"
	"github.com/sorinflow/divar-crawler/internal/adapter/postgres"
	redis_adapter "github.com/sorinflow/divar-crawler/internal/adapter/redis"
	"github.com/sorinflow/divar-crawler/internal/delivery/http/handler"
	"github.com/sorinflow/divar-crawler/internal/delivery/http/router"
	"github.com/sorinflow/divar-crawler/internal/extractor"
	"github.com/sorinflow/divar-crawler/internal/usecase"
	"github.com/sorinflow/divar-crawler/pkg/config"
	"github.com/sorinflow/divar-crawler/pkg/logger"
	"github.com/sorinflow/divar-crawler/pkg/metrics"
)

func main() {
	// --- Configuration ---
	cfg := config.Load()

	// --- Logger ---
	logLevel := logger.ParseLevel(cfg.LogLevel)
	logger.Init(os.Stdout, logLevel)
	slog.Info("Logger initialized", "level", logLevel.String())

	// --- Metrics ---
	metrics.Init()
	slog.Info("Metrics initialized")

	// --- Database Connections ---
	ctx := context.Background()

	// PostgreSQL
	pgConnString := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresDB)
	dbpool, err := pgxpool.New(ctx, pgConnString)
	if err != nil {
		slog.Error("Unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	slog.Info("PostgreSQL connection pool established")

	// Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		slog.Error("Unable to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("Redis connection established")

	// --- Repositories ---
	listingRepo := postgres.NewListingRepo(dbpool)
	jobRepo := postgres.NewJobRepo(dbpool)
	proxyRepo := postgres.NewProxyRepo(dbpool)
	sessionRepo := postgres.NewSessionRepo(dbpool)
	cooldownStore := redis_adapter.NewCooldownStore(rdb)

	// --- Adapters ---
	fetcher := chromedp_adapter.NewPageFetcher(cfg.PageLoadTimeout, "/login")
	prober := chromedp_adapter.NewProxyProber(cfg.BaseURL, 15*time.Second)
	otpGateway := chromedp_adapter.NewOtpGateway(cfg.LoginURL, cfg.LoginURL, cfg.PageLoadTimeout, fetcher)
	imageSink := imagestore.NewLocalStore(cfg.ImagesPath, 30*time.Second)

	// --- Use Cases ---
	proxyPool := usecase.NewProxyPool(proxyRepo, prober)
	if err := proxyPool.Load(ctx); err != nil {
		slog.Error("Failed to load proxies", "error", err)
		os.Exit(1)
	}

	sessionManager := usecase.NewSessionManager(sessionRepo, otpGateway, cooldownStore, cfg.OtpCooldownWindow, cfg.OtpValidity)
	if err := sessionManager.Load(ctx); err != nil {
		slog.Error("Failed to load sessions", "error", err)
		os.Exit(1)
	}

	ex, err := extractor.New(cfg.BaseURL)
	if err != nil {
		slog.Error("Invalid base URL", "url", cfg.BaseURL, "error", err)
		os.Exit(1)
	}

	orchestrator := usecase.NewOrchestrator(usecase.OrchestratorConfig{
		BaseURL:             cfg.BaseURL,
		RequestsPerMinute:   cfg.RequestsPerMinute,
		JitterMax:           cfg.JitterMax,
		DetailConcurrency:   cfg.DetailConcurrency,
		SessionWaitInterval: cfg.SessionWaitInterval,
	}, proxyPool, sessionManager, fetcher, ex, listingRepo, jobRepo, imageSink)

	// --- HTTP Server ---
	apiHandler := handler.NewHandler(orchestrator, sessionManager, proxyPool)
	httpRouter := router.New(apiHandler)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      httpRouter,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Could not listen on port", "port", cfg.ServerPort, "error", err)
			os.Exit(1)
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		slog.Error("Orchestrator shutdown incomplete", "error", err)
	}
	slog.Info("Shutdown complete")
}
