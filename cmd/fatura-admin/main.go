package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fatura/internal/config"
	"fatura/internal/log"
	"fatura/internal/services"
	"fatura/internal/storage"
)

// fatura-admin runs the reconciliation jobs once and exits, for manual
// repair and for scheduled runs outside the worker.
func main() {
	job := flag.String("job", "all", "job to run: backfill, recalculate or all")
	flag.Parse()

	_ = godotenv.Load()

	logger := log.New(log.Config{Component: log.ComponentReconcile})
	log.SetDefault(logger)

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

	ledger := services.NewLedgerService(repo)
	reconcile := services.NewReconcileService(repo, ledger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ok := true
	switch *job {
	case "backfill":
		ok = runBackfill(ctx, logger, reconcile)
	case "recalculate":
		ok = runRecalculate(ctx, logger, reconcile)
	case "all":
		ok = runBackfill(ctx, logger, reconcile)
		ok = runRecalculate(ctx, logger, reconcile) && ok
	default:
		logger.Error("Unknown job", "job", *job)
		flag.Usage()
		os.Exit(2)
	}

	if !ok {
		os.Exit(1)
	}
}

func runBackfill(ctx context.Context, logger *log.Logger, reconcile *services.ReconcileService) bool {
	start := time.Now()
	report, err := reconcile.BackfillPeriods(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Backfill failed", log.NewFields().
			WithOperation(log.OpBackfill).
			WithError(err).
			WithOutcome(time.Since(start).Milliseconds(), false).
			ToSlice()...)
		return false
	}
	fields := log.NewFields().
		WithOperation(log.OpBackfill).
		WithOutcome(time.Since(start).Milliseconds(), report.OK()).
		ToSlice()
	logger.InfoContext(ctx, "Backfill finished", append(fields,
		"scanned", report.Scanned,
		"created", report.Created,
		"failures", len(report.Failures))...)
	for _, f := range report.Failures {
		unit := log.NewFields().
			WithOperation(log.OpBackfill).
			WithPeriodKey(f.AccountID, f.Period.String()).
			ToSlice()
		logger.WarnContext(ctx, "Backfill unit failed", append(unit, "reason", f.Reason)...)
	}
	return report.OK()
}

func runRecalculate(ctx context.Context, logger *log.Logger, reconcile *services.ReconcileService) bool {
	start := time.Now()
	report, err := reconcile.RecalculateAllTotals(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Recalculation failed", log.NewFields().
			WithOperation(log.OpRecalculate).
			WithError(err).
			WithOutcome(time.Since(start).Milliseconds(), false).
			ToSlice()...)
		return false
	}
	fields := log.NewFields().
		WithOperation(log.OpRecalculate).
		WithOutcome(time.Since(start).Milliseconds(), report.OK()).
		ToSlice()
	logger.InfoContext(ctx, "Recalculation finished", append(fields,
		"checked", report.Checked,
		"corrected", len(report.Diffs),
		"failures", len(report.Failures))...)
	for _, diff := range report.Diffs {
		corrected := log.NewFields().
			WithOperation(log.OpRecalculate).
			WithPeriodKey(diff.AccountID, diff.Period.String()).
			WithTotals(diff.OldTotal.Cents, diff.NewTotal.Cents).
			ToSlice()
		logger.InfoContext(ctx, "Total corrected", append(corrected, "period_id", diff.PeriodID)...)
	}
	for _, f := range report.Failures {
		unit := log.NewFields().
			WithOperation(log.OpRecalculate).
			WithPeriodKey(f.AccountID, f.Period.String()).
			ToSlice()
		logger.WarnContext(ctx, "Recalculation unit failed", append(unit, "reason", f.Reason)...)
	}
	return report.OK()
}
