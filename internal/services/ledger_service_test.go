package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"fatura/internal/core"
)

func creditCardAccount(store *fakeStore) core.BillingAccount {
	return store.addAccount(core.BillingAccount{
		Name: "nubank",
		Kind: core.AccountCreditCard,
		Billing: &core.BillingConfig{
			ClosingDay:    15,
			PaymentDueDay: 5,
		},
	})
}

func regularAccount(store *fakeStore) core.BillingAccount {
	return store.addAccount(core.BillingAccount{
		Name: "checking",
		Kind: core.AccountRegular,
	})
}

func assertKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	var lerr *LedgerError
	if !errors.As(err, &lerr) {
		t.Fatalf("error %v is not a LedgerError", err)
	}
	if lerr.Kind != kind {
		t.Fatalf("error kind = %s, want %s (err: %v)", lerr.Kind, kind, err)
	}
}

func TestLedgerService_UpsertPeriod(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	ledger := NewLedgerService(store)
	account := creditCardAccount(store)

	bp, created, err := ledger.UpsertPeriod(ctx, account.ID, core.Period("2025-12"))
	if err != nil {
		t.Fatalf("UpsertPeriod() error = %v", err)
	}
	if !created {
		t.Error("first upsert should create the row")
	}

	wantClosing := time.Date(2025, 12, 15, 0, 0, 0, 0, time.UTC)
	wantStart := time.Date(2025, 11, 16, 0, 0, 0, 0, time.UTC)
	wantDue := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	if !bp.ClosingDate.Equal(wantClosing) {
		t.Errorf("closing date = %v, want %v", bp.ClosingDate, wantClosing)
	}
	if !bp.StartDate.Equal(wantStart) {
		t.Errorf("start date = %v, want %v", bp.StartDate, wantStart)
	}
	if !bp.DueDate.Equal(wantDue) {
		t.Errorf("due date = %v, want %v", bp.DueDate, wantDue)
	}
	if bp.Total.Cents != 0 {
		t.Errorf("fresh period total = %d, want 0", bp.Total.Cents)
	}

	again, created, err := ledger.UpsertPeriod(ctx, account.ID, core.Period("2025-12"))
	if err != nil {
		t.Fatalf("second UpsertPeriod() error = %v", err)
	}
	if created {
		t.Error("second upsert must be a no-op")
	}
	if again.ID != bp.ID {
		t.Errorf("second upsert returned a different row: %d != %d", again.ID, bp.ID)
	}
}

func TestLedgerService_UpsertPeriod_NoBillingCycle(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	ledger := NewLedgerService(store)
	account := regularAccount(store)

	bp, _, err := ledger.UpsertPeriod(ctx, account.ID, core.Period("2025-02"))
	if err != nil {
		t.Fatalf("UpsertPeriod() error = %v", err)
	}

	wantStart := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)
	if !bp.StartDate.Equal(wantStart) {
		t.Errorf("start date = %v, want %v", bp.StartDate, wantStart)
	}
	if !bp.ClosingDate.Equal(wantEnd) {
		t.Errorf("closing date = %v, want %v", bp.ClosingDate, wantEnd)
	}
	if !bp.DueDate.Equal(wantEnd) {
		t.Errorf("due date = %v, want %v", bp.DueDate, wantEnd)
	}
}

func TestLedgerService_UpsertPeriod_UnknownAccount(t *testing.T) {
	store := newFakeStore()
	ledger := NewLedgerService(store)

	_, _, err := ledger.UpsertPeriod(context.Background(), 99, core.Period("2025-12"))
	assertKind(t, err, KindStorage)
}

func TestLedgerService_RecomputeTotal_MissingPeriod(t *testing.T) {
	store := newFakeStore()
	ledger := NewLedgerService(store)
	account := creditCardAccount(store)

	_, err := ledger.RecomputeTotal(context.Background(), account.ID, core.Period("2025-12"))
	assertKind(t, err, KindInvariant)
}

func TestLedgerService_Payment(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	ledger := NewLedgerService(store)
	card := creditCardAccount(store)
	checking := regularAccount(store)
	otherCard := store.addAccount(core.BillingAccount{
		Name:    "visa",
		Kind:    core.AccountCreditCard,
		Billing: &core.BillingConfig{ClosingDay: 10, PaymentDueDay: 20},
	})

	bp, _, err := ledger.UpsertPeriod(ctx, card.ID, core.Period("2025-12"))
	if err != nil {
		t.Fatalf("UpsertPeriod() error = %v", err)
	}

	t.Run("credit card payer rejected", func(t *testing.T) {
		err := ledger.MarkPaid(ctx, bp.ID, otherCard.ID)
		assertKind(t, err, KindInvariant)

		stored := store.periodFor(t, card.ID, core.Period("2025-12"))
		if stored.IsPaid() {
			t.Error("period must stay open after a rejected payment")
		}
	})

	t.Run("regular payer accepted", func(t *testing.T) {
		if err := ledger.MarkPaid(ctx, bp.ID, checking.ID); err != nil {
			t.Fatalf("MarkPaid() error = %v", err)
		}
		stored := store.periodFor(t, card.ID, core.Period("2025-12"))
		if !stored.IsPaid() {
			t.Fatal("period should be paid")
		}
		if stored.PaidFromAccountID == nil || *stored.PaidFromAccountID != checking.ID {
			t.Errorf("paid_from_account_id = %v, want %d", stored.PaidFromAccountID, checking.ID)
		}
	})

	t.Run("double payment conflicts", func(t *testing.T) {
		err := ledger.MarkPaid(ctx, bp.ID, checking.ID)
		assertKind(t, err, KindConflict)
	})

	t.Run("unpaid reopens", func(t *testing.T) {
		if err := ledger.MarkUnpaid(ctx, bp.ID); err != nil {
			t.Fatalf("MarkUnpaid() error = %v", err)
		}
		stored := store.periodFor(t, card.ID, core.Period("2025-12"))
		if stored.IsPaid() {
			t.Error("period should be open again")
		}
		if stored.PaidFromAccountID != nil {
			t.Error("paid_from_account_id should be cleared")
		}
	})

	t.Run("unpaid on open period conflicts", func(t *testing.T) {
		err := ledger.MarkUnpaid(ctx, bp.ID)
		assertKind(t, err, KindConflict)
	})

	t.Run("unknown period is an invariant error", func(t *testing.T) {
		err := ledger.MarkPaid(ctx, 9999, checking.ID)
		assertKind(t, err, KindInvariant)
	})
}

func TestLedgerService_PaymentStampsInstallments(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	ledger := NewLedgerService(store)
	entries := NewEntryService(store, ledger, nil)
	card := creditCardAccount(store)
	checking := regularAccount(store)

	_, err := entries.RecordPurchase(ctx, NewPurchase{
		AccountID:         card.ID,
		Description:       "headphones",
		TotalAmountCents:  20000,
		TotalInstallments: 1,
		PurchaseDate:      time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("RecordPurchase() error = %v", err)
	}

	bp := store.periodFor(t, card.ID, core.Period("2025-12"))
	if err := ledger.MarkPaid(ctx, bp.ID, checking.ID); err != nil {
		t.Fatalf("MarkPaid() error = %v", err)
	}

	for _, inst := range store.installments {
		if inst.BillingPeriod == core.Period("2025-12") && inst.PaidAt == nil {
			t.Error("installments of a paid period should carry the payment timestamp")
		}
	}
}
