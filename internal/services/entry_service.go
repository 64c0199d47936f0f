package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fatura/internal/core"
	"fatura/internal/storage"
)

// EntryStore is the storage port for purchases, installments and refunds.
type EntryStore interface {
	LedgerStore
	CreatePurchase(ctx context.Context, p core.Purchase, installments []core.Installment) (int64, error)
	GetPurchase(ctx context.Context, id int64) (core.Purchase, error)
	DeletePurchase(ctx context.Context, id int64) error
	PurchasePeriodKeys(ctx context.Context, purchaseID int64) ([]storage.PeriodKey, error)
	CreateRefund(ctx context.Context, ref core.Refund) (int64, error)
}

// RecomputePublisher notifies the worker that a period's aggregate went
// stale. Publishing is best effort: the periodic reconciliation job covers
// any message that gets lost.
type RecomputePublisher interface {
	PublishPeriodRecompute(ctx context.Context, accountID int64, period core.Period) error
}

// NewPurchase is the request to record a purchase and its installments.
type NewPurchase struct {
	AccountID         int64
	Description       string
	TotalAmountCents  int64
	TotalInstallments int
	PurchaseDate      time.Time

	// ClosingDateHint carries the explicit closing date reported by an
	// import source, when one exists.
	ClosingDateHint *time.Time
	// PeriodOverride anchors re-derived historical chains to their
	// original first period.
	PeriodOverride *core.Period
}

// EntryService records purchases and refunds, keeping the touched period
// aggregates consistent through the ledger.
type EntryService struct {
	store     EntryStore
	ledger    *LedgerService
	publisher RecomputePublisher
}

func NewEntryService(store EntryStore, ledger *LedgerService, publisher RecomputePublisher) *EntryService {
	return &EntryService{store: store, ledger: ledger, publisher: publisher}
}

// RecordPurchase plans the installment chain, splits the amount, persists
// everything and brings the touched periods up to date.
func (s *EntryService) RecordPurchase(ctx context.Context, req NewPurchase) (int64, error) {
	purchase := core.Purchase{
		AccountID:         req.AccountID,
		Description:       req.Description,
		TotalAmount:       core.Money{Cents: req.TotalAmountCents},
		TotalInstallments: req.TotalInstallments,
		BasePurchaseDate:  req.PurchaseDate,
	}
	if err := purchase.Validate(); err != nil {
		return 0, invariantErr("record purchase", err)
	}

	account, err := s.store.GetAccount(ctx, req.AccountID)
	if err != nil {
		return 0, storageErr("record purchase", err)
	}

	plan, err := core.PlanInstallments(core.PlanRequest{
		BasePurchaseDate:  req.PurchaseDate,
		TotalInstallments: req.TotalInstallments,
		Billing:           account.Billing,
		ClosingDateHint:   req.ClosingDateHint,
		PeriodOverride:    req.PeriodOverride,
	})
	if err != nil {
		return 0, configErr("record purchase", err)
	}

	amounts, err := core.SplitAmount(req.TotalAmountCents, req.TotalInstallments)
	if err != nil {
		return 0, invariantErr("record purchase", err)
	}

	installments := make([]core.Installment, len(plan))
	for i, planned := range plan {
		installments[i] = core.Installment{
			AccountID:     req.AccountID,
			Number:        planned.Number,
			Amount:        core.Money{Cents: amounts[i]},
			PurchaseDate:  planned.PurchaseDate,
			BillingPeriod: planned.BillingPeriod,
			DueDate:       planned.DueDate,
		}
	}

	purchaseID, err := s.store.CreatePurchase(ctx, purchase, installments)
	if err != nil {
		return 0, storageErr("record purchase", err)
	}

	for _, period := range distinctPeriods(installments) {
		if err := s.refreshPeriod(ctx, req.AccountID, period); err != nil {
			return purchaseID, err
		}
	}
	return purchaseID, nil
}

// RecordRefund credits a purchase. The refund's period is resolved from
// its own date with the same rule a purchase date would use; the original
// installment rows are never touched.
func (s *EntryService) RecordRefund(ctx context.Context, purchaseID, amountCents int64, refundDate time.Time) (int64, error) {
	purchase, err := s.store.GetPurchase(ctx, purchaseID)
	if err != nil {
		return 0, storageErr("record refund", err)
	}
	account, err := s.store.GetAccount(ctx, purchase.AccountID)
	if err != nil {
		return 0, storageErr("record refund", err)
	}

	var period core.Period
	if account.Billing != nil {
		period = core.PeriodForDate(refundDate, account.Billing.ClosingDay)
	} else {
		d := core.DateOnly(refundDate)
		period = core.NewPeriod(d.Year(), d.Month())
	}

	refund := core.Refund{
		PurchaseID:    purchaseID,
		AccountID:     purchase.AccountID,
		Amount:        core.Money{Cents: amountCents},
		RefundDate:    refundDate,
		BillingPeriod: period,
	}
	if err := refund.Validate(); err != nil {
		return 0, invariantErr("record refund", err)
	}

	refundID, err := s.store.CreateRefund(ctx, refund)
	if err != nil {
		return 0, storageErr("record refund", err)
	}

	if err := s.refreshPeriod(ctx, purchase.AccountID, period); err != nil {
		return refundID, err
	}
	return refundID, nil
}

// DeletePurchase removes a purchase and its whole installment chain, then
// recomputes every period the chain had touched.
func (s *EntryService) DeletePurchase(ctx context.Context, purchaseID int64) error {
	keys, err := s.store.PurchasePeriodKeys(ctx, purchaseID)
	if err != nil {
		return storageErr("delete purchase", err)
	}
	if err := s.store.DeletePurchase(ctx, purchaseID); err != nil {
		return storageErr("delete purchase", err)
	}
	for _, key := range keys {
		if _, err := s.ledger.RecomputeTotal(ctx, key.AccountID, key.Period); err != nil {
			return fmt.Errorf("recompute %d/%s after delete: %w", key.AccountID, key.Period, err)
		}
		s.publishRecompute(ctx, key.AccountID, key.Period)
	}
	return nil
}

// refreshPeriod makes sure the aggregate row exists, recomputes its total
// and fans out the recompute message.
func (s *EntryService) refreshPeriod(ctx context.Context, accountID int64, period core.Period) error {
	if _, _, err := s.ledger.UpsertPeriod(ctx, accountID, period); err != nil {
		return err
	}
	if _, err := s.ledger.RecomputeTotal(ctx, accountID, period); err != nil {
		return err
	}
	s.publishRecompute(ctx, accountID, period)
	return nil
}

func (s *EntryService) publishRecompute(ctx context.Context, accountID int64, period core.Period) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishPeriodRecompute(ctx, accountID, period); err != nil {
		// The write already succeeded locally; reconciliation picks up
		// anything the bus drops.
		slog.WarnContext(ctx, "Failed to publish recompute message",
			"account_id", accountID,
			"period", period,
			"error", err)
	}
}

func distinctPeriods(installments []core.Installment) []core.Period {
	seen := make(map[core.Period]struct{}, len(installments))
	out := make([]core.Period, 0, len(installments))
	for _, inst := range installments {
		if _, ok := seen[inst.BillingPeriod]; ok {
			continue
		}
		seen[inst.BillingPeriod] = struct{}{}
		out = append(out, inst.BillingPeriod)
	}
	return out
}
