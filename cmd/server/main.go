package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/procuresight/procuresight/internal/config"
	"github.com/procuresight/procuresight/internal/extract"
	"github.com/procuresight/procuresight/internal/ingest"
	httpapi "github.com/procuresight/procuresight/internal/interfaces/http"
	"github.com/procuresight/procuresight/internal/notification"
	"github.com/procuresight/procuresight/internal/repository"
	"github.com/procuresight/procuresight/internal/scoring"
	"github.com/procuresight/procuresight/internal/storage"
	"github.com/procuresight/procuresight/internal/stream"
	"github.com/procuresight/procuresight/pkg/database"
	"github.com/procuresight/procuresight/pkg/utils"
)

func main() {
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting ProcureSight invoice engine",
		zap.Int("port", cfg.Server.Port))

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(context.Background(), cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Repositories
	vendorRepo := repository.NewVendorRepository(db.DB, logger)
	invoiceRepo := repository.NewInvoiceRepository(db.DB, logger)
	baselineRepo := repository.NewBaselineRepository(db.DB, logger)
	alertRepo := repository.NewAlertRepository(db.DB, logger)
	rawDocRepo := repository.NewRawDocRepository(db.DB, logger)

	// Storage and extraction
	blobs := storage.NewLocalBlobStore(cfg.Storage.BaseDir, logger)
	var extractor httpapi.PDFExtractor
	if cfg.OpenAI.APIKey != "" {
		extractor = extract.NewVisionExtractor(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model, cfg.OpenAI.Timeout, logger)
	} else {
		logger.Warn("OPENAI_API_KEY not set, PDF extraction disabled")
	}

	// Alert fan-out
	registry := stream.NewRegistry(cfg.Notify.SubscriberBuffer, logger)
	sinks := []notification.Sink{
		notification.NewSlackSink(cfg.Notify.SlackWebhookURL, cfg.Notify.AppBaseURL, cfg.Notify.DeliveryTimeout, logger),
		stream.NewSink(registry),
	}
	dispatcher := notification.NewDispatcher(sinks, logger,
		notification.WithWorkers(cfg.Notify.Workers),
		notification.WithQueueSize(cfg.Notify.QueueSize),
		notification.WithDeliveryTimeout(cfg.Notify.DeliveryTimeout))
	dispatcher.Start()

	// Scoring and pipeline
	engine := scoring.NewEngine(invoiceRepo, baselineRepo, invoiceRepo, logger)
	pipeline := ingest.NewService(db.DB, vendorRepo, invoiceRepo, alertRepo, engine, dispatcher, logger)

	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		DefaultOrgID: cfg.Org.DefaultID,
	}, pipeline, extractor, blobs, rawDocRepo, invoiceRepo, vendorRepo, alertRepo, registry, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		logger.Error("HTTP server exited with error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.Warn("Dispatcher did not drain in time", zap.Error(err))
	}

	logger.Info("Shutdown complete")
}
