package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ReconcileLoopConfig holds the periodic reconciliation settings.
type ReconcileLoopConfig struct {
	// Interval is how often the jobs run (default: 1h).
	Interval time.Duration
}

func DefaultReconcileLoopConfig() ReconcileLoopConfig {
	return ReconcileLoopConfig{Interval: time.Hour}
}

// ReconcileLoop runs the reconciliation jobs on a schedule inside the
// worker process. Each cycle is independent; a failed cycle is logged and
// the next tick tries again.
type ReconcileLoop struct {
	reconcile *ReconcileService
	config    ReconcileLoopConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewReconcileLoop(reconcile *ReconcileService, config ReconcileLoopConfig) *ReconcileLoop {
	if config.Interval <= 0 {
		config.Interval = DefaultReconcileLoopConfig().Interval
	}
	return &ReconcileLoop{reconcile: reconcile, config: config}
}

// Start begins the loop. Returns an error if already running.
func (l *ReconcileLoop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("reconcile loop is already running")
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	l.mu.Unlock()

	go l.run(ctx)

	slog.InfoContext(ctx, "Reconcile loop started", "interval", l.config.Interval)
	return nil
}

// Stop waits for the current cycle to finish or the context to expire.
func (l *ReconcileLoop) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	close(l.stopCh)

	select {
	case <-l.doneCh:
		slog.InfoContext(ctx, "Reconcile loop stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Reconcile loop stop timed out")
		return ctx.Err()
	}

	l.mu.Lock()
	l.running = false
	l.mu.Unlock()
	return nil
}

func (l *ReconcileLoop) run(ctx context.Context) {
	defer close(l.doneCh)

	ticker := time.NewTicker(l.config.Interval)
	defer ticker.Stop()

	// One cycle on startup closes any gap accumulated while the worker
	// was down.
	l.runCycle(ctx)

	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.runCycle(ctx)
		}
	}
}

// runCycle backfills missing periods, then recalculates every total.
// Partial progress is valid progress: units persisted before an error or
// cancellation stay persisted.
func (l *ReconcileLoop) runCycle(ctx context.Context) {
	backfill, err := l.reconcile.BackfillPeriods(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Backfill cycle failed", "error", err)
	} else if !backfill.OK() {
		slog.WarnContext(ctx, "Backfill cycle finished with unit failures",
			"created", backfill.Created,
			"failures", len(backfill.Failures))
	}

	recalc, err := l.reconcile.RecalculateAllTotals(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Recalculation cycle failed", "error", err)
		return
	}
	for _, diff := range recalc.Diffs {
		slog.WarnContext(ctx, "Period total drifted and was corrected",
			"period_id", diff.PeriodID,
			"account_id", diff.AccountID,
			"period", diff.Period,
			"old_total_cents", diff.OldTotal.Cents,
			"new_total_cents", diff.NewTotal.Cents)
	}
	if !recalc.OK() {
		slog.WarnContext(ctx, "Recalculation cycle finished with unit failures",
			"checked", recalc.Checked,
			"failures", len(recalc.Failures))
	}
}
