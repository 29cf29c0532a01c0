package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finboard/price-cache/shared/pkg/quotes"
	"github.com/finboard/price-cache/shared/pkg/utils"

	"github.com/finboard/price-cache/services/price-cache/internal/api"
	"github.com/finboard/price-cache/services/price-cache/internal/backend"
	"github.com/finboard/price-cache/services/price-cache/internal/cache"
	"github.com/finboard/price-cache/services/price-cache/internal/config"
	"github.com/finboard/price-cache/services/price-cache/internal/health"
	"github.com/finboard/price-cache/services/price-cache/internal/scheduler"
	"github.com/finboard/price-cache/services/price-cache/internal/service"
	"github.com/finboard/price-cache/services/price-cache/internal/source"
	"github.com/finboard/price-cache/services/price-cache/internal/syncstate"
	"github.com/finboard/price-cache/services/price-cache/pkg/models"

	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	logger := utils.NewLogger("price-cache")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	logger.WithFields(logrus.Fields{
		"backend":            cfg.Backend,
		"ttl_minutes":        cfg.Cache.TTLMinutes,
		"max_stale_hours":    cfg.Cache.MaxStaleHours,
		"batch_size":         cfg.Cache.BatchSize,
		"enable_auto_update": cfg.Cache.EnableAutoUpdate,
	}).Info("Configuration loaded")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize document store
	store, backendName, err := backend.Open(ctx, cfg, true, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open cache backend")
	}
	defer store.Close()

	// Initialize quote providers
	eodhd := quotes.NewEODHDClient(cfg.Source.EODHD, cfg.Source.HTTP, logger)
	kucoin := quotes.NewKuCoinClient(cfg.Source.KuCoin, cfg.Source.HTTP, logger)
	defer kucoin.Close()

	router := source.NewRouter(cfg.Source.HTTP.Timeout, logger).
		Register(models.AssetStock, models.SourceEODHD, eodhd).
		Register(models.AssetCrypto, models.SourceKuCoin, kucoin)

	// Initialize stores and the cache service
	prices := cache.NewStore(store, cfg.Cache.BatchSize, logger)
	syncs := syncstate.NewStore(store, logger)
	svc := service.New(cfg.Cache, prices, syncs, store, router, logger)

	sched := scheduler.NewScheduler(scheduler.Config{
		Retention:        cfg.Retention(),
		EnableAutoUpdate: cfg.Cache.EnableAutoUpdate,
		AutoUpdateSpec:   cfg.AutoUpdateCron,
		TTLMinutes:       cfg.Cache.TTLMinutes,
	}, prices, svc, logger)
	if err := sched.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start scheduler")
	}

	// Initialize HTTP server with health checks
	healthChecker := health.NewHealthChecker(logger)
	healthChecker.Register(backendName, store)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.NewEngine(logger, api.NewHandler(svc, logger), healthChecker),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.Source.HTTP.Timeout*time.Duration(cfg.Source.HTTP.RetryCount+1) + 5*time.Second,
	}

	go func() {
		logger.WithField("port", cfg.HTTPPort).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("HTTP server failed")
		}
	}()

	logger.Info("Price cache service started successfully")

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down price cache service...")

	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to shutdown HTTP server gracefully")
	}

	cancel()

	logger.Info("Price cache service stopped")
}
