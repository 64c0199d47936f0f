package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"fatura/internal/core"
)

func newEntryFixture() (*fakeStore, *EntryService, *fakePublisher) {
	store := newFakeStore()
	ledger := NewLedgerService(store)
	publisher := &fakePublisher{}
	return store, NewEntryService(store, ledger, publisher), publisher
}

func TestEntryService_RecordPurchase_InstallmentChain(t *testing.T) {
	ctx := context.Background()
	store, entries, publisher := newEntryFixture()
	card := creditCardAccount(store)

	purchaseID, err := entries.RecordPurchase(ctx, NewPurchase{
		AccountID:         card.ID,
		Description:       "washing machine",
		TotalAmountCents:  30000,
		TotalInstallments: 3,
		PurchaseDate:      time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("RecordPurchase() error = %v", err)
	}
	if purchaseID == 0 {
		t.Fatal("purchase id should be assigned")
	}

	wantPeriods := []core.Period{"2025-12", "2026-01", "2026-02"}
	for _, period := range wantPeriods {
		bp := store.periodFor(t, card.ID, period)
		if bp.Total.Cents != 10000 {
			t.Errorf("period %s total = %d, want 10000", period, bp.Total.Cents)
		}
	}

	wantDue := []time.Time{
		time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
	}
	secondDate := time.Date(2025, 12, 16, 0, 0, 0, 0, time.UTC)
	for _, inst := range store.installments {
		if !inst.DueDate.Equal(wantDue[inst.Number-1]) {
			t.Errorf("installment %d due = %v, want %v", inst.Number, inst.DueDate, wantDue[inst.Number-1])
		}
		if inst.Number == 2 && !inst.PurchaseDate.Equal(secondDate) {
			t.Errorf("installment 2 date = %v, want %v (window start)", inst.PurchaseDate, secondDate)
		}
	}

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if len(publisher.published) != len(wantPeriods) {
		t.Errorf("published %d recompute messages, want %d", len(publisher.published), len(wantPeriods))
	}
}

func TestEntryService_RecordPurchase_RemainderConserved(t *testing.T) {
	ctx := context.Background()
	store, entries, _ := newEntryFixture()
	card := creditCardAccount(store)

	_, err := entries.RecordPurchase(ctx, NewPurchase{
		AccountID:         card.ID,
		Description:       "odd split",
		TotalAmountCents:  10000,
		TotalInstallments: 3,
		PurchaseDate:      time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("RecordPurchase() error = %v", err)
	}

	var sum int64
	for _, bp := range store.periods {
		sum += bp.Total.Cents
	}
	if sum != 10000 {
		t.Errorf("sum of period totals = %d, want 10000", sum)
	}

	last := store.periodFor(t, card.ID, core.Period("2026-02"))
	if last.Total.Cents != 3334 {
		t.Errorf("last installment = %d, want 3334 (absorbs remainder)", last.Total.Cents)
	}
}

func TestEntryService_RecordPurchase_Invalid(t *testing.T) {
	ctx := context.Background()
	store, entries, _ := newEntryFixture()
	card := creditCardAccount(store)

	tests := []struct {
		name string
		req  NewPurchase
		kind ErrorKind
	}{
		{
			name: "empty description",
			req: NewPurchase{
				AccountID:         card.ID,
				Description:       "   ",
				TotalAmountCents:  1000,
				TotalInstallments: 1,
				PurchaseDate:      time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC),
			},
			kind: KindInvariant,
		},
		{
			name: "zero amount",
			req: NewPurchase{
				AccountID:         card.ID,
				Description:       "x",
				TotalAmountCents:  0,
				TotalInstallments: 1,
				PurchaseDate:      time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC),
			},
			kind: KindInvariant,
		},
		{
			name: "unknown account",
			req: NewPurchase{
				AccountID:         999,
				Description:       "x",
				TotalAmountCents:  1000,
				TotalInstallments: 1,
				PurchaseDate:      time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC),
			},
			kind: KindStorage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := entries.RecordPurchase(ctx, tt.req)
			assertKind(t, err, tt.kind)
		})
	}

	if len(store.purchases) != 0 {
		t.Errorf("no purchase should be stored, got %d", len(store.purchases))
	}
}

func TestEntryService_RecordRefund(t *testing.T) {
	ctx := context.Background()
	store, entries, _ := newEntryFixture()
	card := creditCardAccount(store)

	purchaseID, err := entries.RecordPurchase(ctx, NewPurchase{
		AccountID:         card.ID,
		Description:       "jacket",
		TotalAmountCents:  20000,
		TotalInstallments: 1,
		PurchaseDate:      time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("RecordPurchase() error = %v", err)
	}

	if _, err := entries.RecordRefund(ctx, purchaseID, 5000, time.Date(2025, 11, 25, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("RecordRefund() error = %v", err)
	}

	bp := store.periodFor(t, card.ID, core.Period("2025-12"))
	if bp.Total.Cents != 15000 {
		t.Errorf("period total after refund = %d, want 15000", bp.Total.Cents)
	}
}

func TestEntryService_RecordRefund_NextPeriod(t *testing.T) {
	ctx := context.Background()
	store, entries, _ := newEntryFixture()
	card := creditCardAccount(store)

	purchaseID, err := entries.RecordPurchase(ctx, NewPurchase{
		AccountID:         card.ID,
		Description:       "jacket",
		TotalAmountCents:  20000,
		TotalInstallments: 1,
		PurchaseDate:      time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("RecordPurchase() error = %v", err)
	}

	// Refunded after the December statement closed, so it credits January.
	if _, err := entries.RecordRefund(ctx, purchaseID, 5000, time.Date(2025, 12, 20, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("RecordRefund() error = %v", err)
	}

	dec := store.periodFor(t, card.ID, core.Period("2025-12"))
	if dec.Total.Cents != 20000 {
		t.Errorf("december total = %d, want 20000", dec.Total.Cents)
	}
	jan := store.periodFor(t, card.ID, core.Period("2026-01"))
	if jan.Total.Cents != -5000 {
		t.Errorf("january total = %d, want -5000", jan.Total.Cents)
	}
}

func TestEntryService_DeletePurchase(t *testing.T) {
	ctx := context.Background()
	store, entries, publisher := newEntryFixture()
	card := creditCardAccount(store)

	purchaseID, err := entries.RecordPurchase(ctx, NewPurchase{
		AccountID:         card.ID,
		Description:       "tv",
		TotalAmountCents:  30000,
		TotalInstallments: 3,
		PurchaseDate:      time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("RecordPurchase() error = %v", err)
	}

	if err := entries.DeletePurchase(ctx, purchaseID); err != nil {
		t.Fatalf("DeletePurchase() error = %v", err)
	}

	for _, period := range []core.Period{"2025-12", "2026-01", "2026-02"} {
		bp := store.periodFor(t, card.ID, period)
		if bp.Total.Cents != 0 {
			t.Errorf("period %s total after delete = %d, want 0", period, bp.Total.Cents)
		}
	}
	if len(store.installments) != 0 {
		t.Errorf("installments left after delete: %d", len(store.installments))
	}

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if len(publisher.published) < 6 {
		t.Errorf("published %d messages, want at least 6 (record + delete)", len(publisher.published))
	}
}

func TestEntryService_PublishFailureIsBestEffort(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	ledger := NewLedgerService(store)
	publisher := &fakePublisher{err: errors.New("broker down")}
	entries := NewEntryService(store, ledger, publisher)
	card := creditCardAccount(store)

	_, err := entries.RecordPurchase(ctx, NewPurchase{
		AccountID:         card.ID,
		Description:       "coffee",
		TotalAmountCents:  900,
		TotalInstallments: 1,
		PurchaseDate:      time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("RecordPurchase() error = %v, want nil despite publish failure", err)
	}

	bp := store.periodFor(t, card.ID, core.Period("2025-12"))
	if bp.Total.Cents != 900 {
		t.Errorf("period total = %d, want 900", bp.Total.Cents)
	}
}

func TestEntryService_RecordPurchase_NoBillingCycle(t *testing.T) {
	ctx := context.Background()
	store, entries, _ := newEntryFixture()
	checking := regularAccount(store)

	_, err := entries.RecordPurchase(ctx, NewPurchase{
		AccountID:         checking.ID,
		Description:       "rent",
		TotalAmountCents:  120000,
		TotalInstallments: 2,
		PurchaseDate:      time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("RecordPurchase() error = %v", err)
	}

	// Without a cycle the period is the purchase's own month and the
	// chain advances by calendar months.
	nov := store.periodFor(t, checking.ID, core.Period("2025-11"))
	if nov.Total.Cents != 60000 {
		t.Errorf("november total = %d, want 60000", nov.Total.Cents)
	}
	dec := store.periodFor(t, checking.ID, core.Period("2025-12"))
	if dec.Total.Cents != 60000 {
		t.Errorf("december total = %d, want 60000", dec.Total.Cents)
	}
}
