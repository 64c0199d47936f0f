// Package services orchestrates the billing ledger: period lifecycle,
// purchase and refund recording, and the batch reconciliation jobs.
package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"fatura/internal/core"
	"fatura/internal/storage"
)

// LedgerStore is the storage port the statement ledger needs. The
// SQLiteRepository implements it; tests use an in-memory fake.
type LedgerStore interface {
	GetAccount(ctx context.Context, id int64) (core.BillingAccount, error)
	UpsertPeriod(ctx context.Context, bp core.BillingPeriod) (created bool, err error)
	GetPeriod(ctx context.Context, accountID int64, period core.Period) (core.BillingPeriod, error)
	GetPeriodByID(ctx context.Context, id int64) (core.BillingPeriod, error)
	RecomputePeriodTotal(ctx context.Context, accountID int64, period core.Period) (oldTotal, newTotal int64, changed bool, err error)
	MarkPeriodPaid(ctx context.Context, periodID, fromAccountID int64, paidAt time.Time) error
	MarkPeriodUnpaid(ctx context.Context, periodID int64) error
}

// LedgerService owns the BillingPeriod aggregate and keeps it consistent
// with the installments and refunds it summarizes.
type LedgerService struct {
	store LedgerStore
	now   func() time.Time
}

func NewLedgerService(store LedgerStore) *LedgerService {
	return &LedgerService{store: store, now: time.Now}
}

// UpsertPeriod ensures the aggregate row exists for an account and period,
// deriving its window from the account's billing configuration. Calling it
// again for the same key is a successful no-op.
func (s *LedgerService) UpsertPeriod(ctx context.Context, accountID int64, period core.Period) (core.BillingPeriod, bool, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return core.BillingPeriod{}, false, storageErr("upsert period", err)
	}

	bp := buildPeriod(account, period)
	created, err := s.store.UpsertPeriod(ctx, bp)
	if err != nil {
		return core.BillingPeriod{}, false, storageErr("upsert period", err)
	}
	if created {
		slog.InfoContext(ctx, "Billing period created",
			"account_id", accountID,
			"period", period,
			"closing_date", bp.ClosingDate.Format("2006-01-02"),
			"due_date", bp.DueDate.Format("2006-01-02"))
	}

	stored, err := s.store.GetPeriod(ctx, accountID, period)
	if err != nil {
		return core.BillingPeriod{}, created, storageErr("upsert period", err)
	}
	return stored, created, nil
}

// buildPeriod derives the statement window. Accounts without a billing
// cycle aggregate by calendar month: the window is the month itself and
// the due date its last day.
func buildPeriod(account core.BillingAccount, period core.Period) core.BillingPeriod {
	bp := core.BillingPeriod{AccountID: account.ID, Period: period}
	if account.Billing != nil {
		bp.ClosingDate = core.ClosingDateForPeriod(period, account.Billing.ClosingDay)
		bp.StartDate = core.PeriodWindowStart(period, account.Billing.ClosingDay)
		bp.DueDate = core.DueDateForPeriod(period, account.Billing.PaymentDueDay)
		return bp
	}
	bp.StartDate = time.Date(period.Year(), period.Month(), 1, 0, 0, 0, 0, time.UTC)
	bp.ClosingDate = bp.StartDate.AddDate(0, 1, -1)
	bp.DueDate = bp.ClosingDate
	return bp
}

// RecomputeTotal re-derives a period's total from its rows. This is the
// self-healing entry point: whatever the stored aggregate says, after this
// call it equals sum(installments) - sum(refunds) for the key.
func (s *LedgerService) RecomputeTotal(ctx context.Context, accountID int64, period core.Period) (core.Money, error) {
	oldTotal, newTotal, changed, err := s.store.RecomputePeriodTotal(ctx, accountID, period)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return core.Money{}, invariantErr("recompute total", err)
		}
		return core.Money{}, storageErr("recompute total", err)
	}
	if changed {
		slog.InfoContext(ctx, "Period total updated",
			"account_id", accountID,
			"period", period,
			"old_total_cents", oldTotal,
			"new_total_cents", newTotal)
	}
	return core.Money{Cents: newTotal}, nil
}

// MarkPaid records a payment for the period. The paying account must not
// itself be a credit card; that is a business invariant, not a storage
// constraint, so it is checked here and surfaced as a rejected operation.
func (s *LedgerService) MarkPaid(ctx context.Context, periodID, paidFromAccountID int64) error {
	payer, err := s.store.GetAccount(ctx, paidFromAccountID)
	if err != nil {
		return storageErr("mark paid", err)
	}
	if payer.IsCreditCard() {
		return invariantErr("mark paid",
			errors.New("a billing period cannot be paid from another credit-card account"))
	}

	err = s.store.MarkPeriodPaid(ctx, periodID, paidFromAccountID, s.now())
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrPeriodAlreadyPaid):
		return conflictErr("mark paid", err)
	case errors.Is(err, storage.ErrNotFound):
		return invariantErr("mark paid", err)
	default:
		return storageErr("mark paid", err)
	}

	slog.InfoContext(ctx, "Billing period paid",
		"period_id", periodID,
		"paid_from_account_id", paidFromAccountID)
	return nil
}

// MarkUnpaid reverses a recorded payment, reopening the period.
func (s *LedgerService) MarkUnpaid(ctx context.Context, periodID int64) error {
	err := s.store.MarkPeriodUnpaid(ctx, periodID)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrPeriodNotPaid):
		return conflictErr("mark unpaid", err)
	case errors.Is(err, storage.ErrNotFound):
		return invariantErr("mark unpaid", err)
	default:
		return storageErr("mark unpaid", err)
	}

	slog.InfoContext(ctx, "Billing period payment reversed", "period_id", periodID)
	return nil
}
