package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sigic/georef/internal/catalog"
	"github.com/sigic/georef/internal/config"
	"github.com/sigic/georef/internal/geodata"
	"github.com/sigic/georef/internal/georeference"
	"github.com/sigic/georef/internal/geoserver"
	"github.com/sigic/georef/internal/httpapi"
	"github.com/sigic/georef/internal/join"
	"github.com/sigic/georef/internal/lease"
	"github.com/sigic/georef/internal/logging"
	"github.com/sigic/georef/internal/migrations"
	"github.com/sigic/georef/internal/queue"
	"github.com/sigic/georef/internal/resync"
	"github.com/sigic/georef/internal/sweeper"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env file: %v\n", err)
	}

	bootLogger, _ := zap.NewProduction()
	zap.ReplaceGlobals(bootLogger)
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		bootLogger.Fatal("Failed to build logger", zap.Error(err))
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("Starting georef server...")

	if err := migrations.RunMigrations(cfg.CatalogOptions.URL, logger); err != nil {
		logger.Fatal("Catalog migration failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	catalogDB, err := openCatalog(cfg)
	if err != nil {
		logger.Fatal("Catalog setup failed", zap.Error(err))
	}
	defer func() {
		if sqlDB, err := catalogDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	pgPool, err := geodata.Connect(ctx, cfg.GeodataOptions.URL,
		time.Duration(cfg.GeodataOptions.StatementTimeoutSecs)*time.Second, logger)
	if err != nil {
		logger.Fatal("Geodata setup failed", zap.Error(err))
	}
	defer pgPool.Close()

	instanceID := lease.InstanceID()
	locker := lease.NewLocker(catalogDB, instanceID, logger)
	defer locker.ReleaseAll()
	logger.Info("Starting instance", zap.String("instance_id", instanceID))

	taskQueue, err := queue.New(cfg.QueueOptions, logger)
	if err != nil {
		logger.Fatal("Task queue setup failed", zap.Error(err))
	}

	gsClient, err := geoserver.NewClient(cfg.GeoServerOptions, logger)
	if err != nil {
		logger.Fatal("GeoServer client setup failed", zap.Error(err))
	}

	store := catalog.NewStore(catalogDB)
	executor := join.NewExecutor(geodata.NewPool(pgPool), cfg.GeodataOptions.RowKey, cfg.GeodataOptions.GeometryColumn, logger)

	opts, err := georeference.OptionsFrom(cfg)
	if err != nil {
		logger.Fatal("Invalid join options", zap.Error(err))
	}
	service := georeference.NewService(store, executor, taskQueue, locker, opts, logger)

	var wg sync.WaitGroup
	bgTaskCtx, bgTaskCancel := context.WithCancel(ctx)

	leaseTTL := time.Duration(cfg.WorkerOptions.LeaseSecs) * time.Second
	syncer := resync.NewSyncer(store, gsClient, locker, cfg.GeodataOptions.Namespace, leaseTTL, logger)
	startWorker(bgTaskCtx, &wg, taskQueue, syncer, cfg, logger)

	sw := sweeper.New(store, taskQueue, locker,
		time.Duration(cfg.SweeperOptions.IntervalSecs)*time.Second,
		time.Duration(cfg.SweeperOptions.StaleAfterSecs)*time.Second,
		logger)
	sw.Start(bgTaskCtx, &wg)

	httpServer := startHTTPServer(&wg, service, cfg, logger)

	waitForShutdownSignal()
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	logger.Info("Signalling background tasks to stop...")
	sw.Stop()
	bgTaskCancel()

	logger.Info("Waiting for background tasks to stop...")
	wg.Wait()
	if err := taskQueue.Close(); err != nil {
		logger.Warn("Failed to close task queue", zap.Error(err))
	}
	logger.Info("Server stopped gracefully.")
}

func openCatalog(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.CatalogOptions.URL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to catalog database: %w", err)
	}
	return db, nil
}

func startWorker(ctx context.Context, wg *sync.WaitGroup, q queue.Queue, syncer *resync.Syncer, cfg *config.Config, logger *zap.Logger) {
	worker := resync.NewWorker(q, syncer, resync.WorkerConfigFrom(cfg.WorkerOptions), logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()
}

func startHTTPServer(wg *sync.WaitGroup, service *georeference.Service, cfg *config.Config, logger *zap.Logger) *http.Server {
	if cfg.HTTPOptions.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	api := httpapi.NewServer(service, cfg.HTTPOptions, logger)
	srv := &http.Server{
		Addr:              cfg.HTTPOptions.Listen,
		Handler:           api.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPOptions.Listen))
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				logger.Error("CRITICAL: HTTP server failed", zap.Error(err))
			} else {
				logger.Info("HTTP server stopped gracefully.")
			}
		}
	}()
	return srv
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}
