// Command seed loads historical invoices from a CSV or XLSX file straight
// through the validation pipeline, so a fresh database has the vendor
// baselines the anomaly rules need. Alerts raised during seeding are
// persisted but not delivered anywhere.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/procuresight/procuresight/internal/config"
	"github.com/procuresight/procuresight/internal/extract"
	"github.com/procuresight/procuresight/internal/ingest"
	"github.com/procuresight/procuresight/internal/models"
	"github.com/procuresight/procuresight/internal/repository"
	"github.com/procuresight/procuresight/internal/scoring"
	"github.com/procuresight/procuresight/pkg/database"
	"github.com/procuresight/procuresight/pkg/utils"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	orgID := flag.String("org", "", "org to seed (defaults to the configured org)")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: seed [-config path] [-org id] <file.csv|file.xlsx>...")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *orgID == "" {
		*orgID = cfg.Org.DefaultID
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     "console",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

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

	ctx := context.Background()
	if err := database.NewMigrator(db, logger).RunMigrations(ctx, cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	vendorRepo := repository.NewVendorRepository(db.DB, logger)
	invoiceRepo := repository.NewInvoiceRepository(db.DB, logger)
	baselineRepo := repository.NewBaselineRepository(db.DB, logger)
	alertRepo := repository.NewAlertRepository(db.DB, logger)
	engine := scoring.NewEngine(invoiceRepo, baselineRepo, invoiceRepo, logger)
	pipeline := ingest.NewService(db.DB, vendorRepo, invoiceRepo, alertRepo, engine, nil, logger)

	var accepted, rejected int
	for _, path := range flag.Args() {
		invoices, err := parseFile(path)
		if err != nil {
			logger.Fatal("Failed to parse seed file", zap.String("file", path), zap.Error(err))
		}

		results, err := pipeline.ProcessBatch(ctx, *orgID, invoices, "")
		if err != nil {
			logger.Fatal("Seeding failed", zap.String("file", path), zap.Error(err))
		}
		for _, r := range results {
			if r.Accepted {
				accepted++
			} else {
				rejected++
				logger.Warn("Seed invoice rejected",
					zap.String("invoice_no", r.InvoiceNo),
					zap.Int("errors", len(r.Errors)))
			}
		}
		logger.Info("Seed file processed",
			zap.String("file", path), zap.Int("invoices", len(results)))
	}

	logger.Info("Seeding complete",
		zap.Int("accepted", accepted), zap.Int("rejected", rejected))
}

func parseFile(path string) ([]models.Invoice, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return extract.ParseCSV(content)
	case ".xlsx":
		return extract.ParseXLSX(content)
	case ".json":
		inv, err := extract.ParseJSON(content)
		if err != nil {
			return nil, err
		}
		return []models.Invoice{*inv}, nil
	default:
		return nil, fmt.Errorf("unsupported seed file type %q", filepath.Ext(path))
	}
}
