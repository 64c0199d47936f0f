package services

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"fatura/internal/core"
	"fatura/internal/storage"
)

// ReconcileStore is the storage port for the batch repair jobs.
type ReconcileStore interface {
	LedgerStore
	MissingPeriodKeys(ctx context.Context) ([]storage.PeriodKey, error)
	ListPeriods(ctx context.Context) ([]core.BillingPeriod, error)
}

// UnitFailure records one period key that could not be processed. Batch
// jobs collect these instead of aborting, so one bad row never blocks the
// rest of the ledger.
type UnitFailure struct {
	AccountID int64
	Period    core.Period
	Reason    string
}

// BackfillReport summarizes one backfill run.
type BackfillReport struct {
	Scanned  int
	Created  int
	Failures []UnitFailure
}

// TotalDiff is one corrected aggregate, reported for auditability.
type TotalDiff struct {
	PeriodID  int64
	AccountID int64
	Period    core.Period
	OldTotal  core.Money
	NewTotal  core.Money
}

// RecalculateReport summarizes one recalculation run.
type RecalculateReport struct {
	Checked  int
	Diffs    []TotalDiff
	Failures []UnitFailure
}

// OK reports whether every unit succeeded.
func (r BackfillReport) OK() bool    { return len(r.Failures) == 0 }
func (r RecalculateReport) OK() bool { return len(r.Failures) == 0 }

// recalcParallelism bounds how many period keys are recomputed at once.
// Each key still gets its own transaction, so parallel units cannot tear
// each other's totals.
const recalcParallelism = 4

// ReconcileService replays the ledger rules over existing data to restore
// consistency after manual edits, bugs or historical gaps. It only ever
// writes the derived aggregate, never installments or refunds.
type ReconcileService struct {
	store  ReconcileStore
	ledger *LedgerService
}

func NewReconcileService(store ReconcileStore, ledger *LedgerService) *ReconcileService {
	return &ReconcileService{store: store, ledger: ledger}
}

// BackfillPeriods creates the aggregate rows for every (account, period)
// pair that has installments but no billing_periods row. Safe to re-run:
// the second pass finds nothing to create.
func (s *ReconcileService) BackfillPeriods(ctx context.Context) (BackfillReport, error) {
	keys, err := s.store.MissingPeriodKeys(ctx)
	if err != nil {
		return BackfillReport{}, storageErr("backfill periods", err)
	}

	report := BackfillReport{Scanned: len(keys)}
	for _, key := range keys {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		_, created, err := s.ledger.UpsertPeriod(ctx, key.AccountID, key.Period)
		if err != nil {
			report.Failures = append(report.Failures, UnitFailure{
				AccountID: key.AccountID,
				Period:    key.Period,
				Reason:    err.Error(),
			})
			continue
		}
		if created {
			report.Created++
			// A freshly backfilled row starts at zero; bring it in
			// line with its entries right away.
			if _, err := s.ledger.RecomputeTotal(ctx, key.AccountID, key.Period); err != nil {
				report.Failures = append(report.Failures, UnitFailure{
					AccountID: key.AccountID,
					Period:    key.Period,
					Reason:    err.Error(),
				})
			}
		}
	}

	slog.InfoContext(ctx, "Backfill completed",
		"scanned", report.Scanned,
		"created", report.Created,
		"failures", len(report.Failures))
	return report, nil
}

// RecalculateAllTotals recomputes every stored aggregate and reports the
// ones that changed. Units run in bounded parallel batches; a cancelled
// run keeps whatever units already committed.
func (s *ReconcileService) RecalculateAllTotals(ctx context.Context) (RecalculateReport, error) {
	periods, err := s.store.ListPeriods(ctx)
	if err != nil {
		return RecalculateReport{}, storageErr("recalculate totals", err)
	}

	var (
		mu     sync.Mutex
		report = RecalculateReport{Checked: len(periods)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(recalcParallelism)
	for _, bp := range periods {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			oldTotal, newTotal, changed, err := s.store.RecomputePeriodTotal(gctx, bp.AccountID, bp.Period)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failures = append(report.Failures, UnitFailure{
					AccountID: bp.AccountID,
					Period:    bp.Period,
					Reason:    err.Error(),
				})
				return nil // collected, not fatal
			}
			if changed {
				report.Diffs = append(report.Diffs, TotalDiff{
					PeriodID:  bp.ID,
					AccountID: bp.AccountID,
					Period:    bp.Period,
					OldTotal:  core.Money{Cents: oldTotal},
					NewTotal:  core.Money{Cents: newTotal},
				})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	slog.InfoContext(ctx, "Recalculation completed",
		"checked", report.Checked,
		"corrected", len(report.Diffs),
		"failures", len(report.Failures))
	return report, nil
}
