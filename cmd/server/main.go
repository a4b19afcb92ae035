package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/garyjia/nfe-danfe/internal/batch"
	"github.com/garyjia/nfe-danfe/internal/config"
	"github.com/garyjia/nfe-danfe/internal/export"
	httpapi "github.com/garyjia/nfe-danfe/internal/interfaces/http"
	"github.com/garyjia/nfe-danfe/internal/label"
	"github.com/garyjia/nfe-danfe/internal/pipeline"
	"github.com/garyjia/nfe-danfe/internal/repository"
	"github.com/garyjia/nfe-danfe/internal/storage"
	"github.com/garyjia/nfe-danfe/internal/worker"
	"github.com/garyjia/nfe-danfe/pkg/database"
	"github.com/garyjia/nfe-danfe/pkg/utils"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	// Local .env is optional
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := utils.NewLogger(cfg.LoggerSettings())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting NF-e DANFE service",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port))

	// Initialize database
	db, err := database.New(cfg.DatabaseSettings(), logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	if err := repository.Migrate(db, logger); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Dangerous goods catalog is optional
	var catalog *label.HazmatCatalog
	if path := cfg.Hazmat.CatalogPath; path != "" {
		catalog, err = label.LoadHazmatCatalog(path)
		if err != nil {
			logger.Fatal("Failed to load hazmat catalog", zap.String("path", path), zap.Error(err))
		}
		logger.Info("Hazmat catalog loaded", zap.Int("entries", catalog.Len()))
	}

	// Pipeline and persistence
	proc := pipeline.NewDefault(cfg.QRCodeSettings(), catalog, logger)
	archive := cfg.Storage.ArchiveDir
	store := repository.NewStore(db,
		storage.NewLocalFileStorage(archive, logger),
		storage.NewFolderManager(archive, logger),
		logger.Named("store"))
	coordinator := batch.NewCoordinator(proc, store, cfg.BatchSettings(), logger.Named("batch"))

	reports := repository.NewBatchRepository(db, logger)

	handlers := httpapi.NewHandlers(httpapi.Dependencies{
		Processor: proc,
		Batches:   coordinator,
		Invoices:  store.Invoices(),
		Reports:   reports,
		Workbooks: export.NewWriter(logger),
		Database:  db,
	}, logger.Sugar())

	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}, handlers, logger.Sugar())

	// Run until interrupted
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Background workers
	workers := worker.NewManager(logger.Named("worker"))
	if cfg.Inbox.Enabled {
		workers.Register(worker.NewInboxWatcher(worker.InboxConfig{
			Dir:          cfg.Inbox.Dir,
			PollInterval: cfg.Inbox.PollInterval,
			MaxFiles:     cfg.Inbox.MaxFiles,
		}, coordinator, reports, logger.Named("inbox")))
	}
	if err := workers.StartAll(ctx); err != nil {
		logger.Fatal("Failed to start workers", zap.Error(err))
	}
	defer workers.StopAll()

	if err := server.Start(ctx); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		return
	}

	logger.Info("Server exited successfully")
}
