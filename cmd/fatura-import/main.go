package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fatura/internal/amqp"
	"fatura/internal/config"
	"fatura/internal/importsrc"
	"fatura/internal/importsrc/google"
	"fatura/internal/importsrc/memory"
	"fatura/internal/log"
	"fatura/internal/services"
	"fatura/internal/storage"
)

// fatura-import pulls statement rows from the configured source and
// records them against one account.
func main() {
	accountFlag := flag.String("account", "", "billing account id to import into (required)")
	flag.Parse()

	_ = godotenv.Load()

	logger := log.New(log.Config{Component: log.ComponentImport})
	log.SetDefault(logger)

	accountID, err := strconv.ParseInt(*accountFlag, 10, 64)
	if err != nil || accountID < 1 {
		logger.Error("Missing or invalid -account flag", "value", *accountFlag)
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, err := newSource(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize import source", "backend", cfg.ImportBackend, "error", err)
		os.Exit(1)
	}

	// Publishing is best effort; without a broker the periodic
	// reconciliation still converges every touched period.
	var publisher services.RecomputePublisher
	if amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue); err != nil {
		logger.Warn("AMQP unavailable, continuing without recompute messages", "error", err)
	} else {
		defer amqpClient.Close()
		publisher = amqpClient
	}

	ledger := services.NewLedgerService(repo)
	entries := services.NewEntryService(repo, ledger, publisher)
	importer := services.NewImportService(source, entries, services.ImportConfig{
		ApplyFirstInstallmentLagOffset: cfg.ApplyFirstInstallmentLagOffset,
	})

	start := time.Now()
	report, err := importer.Run(ctx, accountID)
	if err != nil {
		logger.ErrorContext(ctx, "Import failed", log.NewFields().
			WithOperation(log.OpImport).
			WithError(err).
			WithOutcome(time.Since(start).Milliseconds(), false).
			ToSlice()...)
		os.Exit(1)
	}

	fields := log.NewFields().
		WithOperation(log.OpImport).
		WithOutcome(time.Since(start).Milliseconds(), report.OK()).
		ToSlice()
	logger.InfoContext(ctx, "Import finished", append(fields,
		"account_id", accountID,
		"rows", report.Rows,
		"purchases", report.Purchases,
		"failures", len(report.Failures))...)
	for _, f := range report.Failures {
		logger.WarnContext(ctx, "Import group failed",
			"description", f.Description,
			"reason", f.Reason)
	}
	if !report.OK() {
		os.Exit(1)
	}
}

func newSource(ctx context.Context, cfg *config.Config) (importsrc.RowSource, error) {
	switch cfg.ImportBackend {
	case "sheets":
		return google.NewFromEnv(ctx)
	case "memory":
		// Empty in-process source; useful for exercising the pipeline
		// without spreadsheet credentials.
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown import backend %q", cfg.ImportBackend)
	}
}
