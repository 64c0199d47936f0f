package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"fatura/internal/core"
	"fatura/internal/storage"
)

// fakeStore is an in-memory EntryStore/ReconcileStore with the same
// observable semantics as the SQLite repository.
type fakeStore struct {
	mu           sync.Mutex
	nextID       int64
	accounts     map[int64]core.BillingAccount
	purchases    map[int64]core.Purchase
	installments map[int64]core.Installment
	refunds      map[int64]core.Refund
	periods      map[int64]core.BillingPeriod

	// recomputeErr injects a per-key failure into RecomputePeriodTotal.
	recomputeErr map[storage.PeriodKey]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts:     map[int64]core.BillingAccount{},
		purchases:    map[int64]core.Purchase{},
		installments: map[int64]core.Installment{},
		refunds:      map[int64]core.Refund{},
		periods:      map[int64]core.BillingPeriod{},
		recomputeErr: map[storage.PeriodKey]error{},
	}
}

func (f *fakeStore) addAccount(a core.BillingAccount) core.BillingAccount {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	a.ID = f.nextID
	f.accounts[a.ID] = a
	return a
}

func (f *fakeStore) GetAccount(_ context.Context, id int64) (core.BillingAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return core.BillingAccount{}, fmt.Errorf("account %d: %w", id, storage.ErrNotFound)
	}
	return a, nil
}

func (f *fakeStore) CreatePurchase(_ context.Context, p core.Purchase, installments []core.Installment) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	p.ID = f.nextID
	f.purchases[p.ID] = p
	for _, inst := range installments {
		f.nextID++
		inst.ID = f.nextID
		inst.PurchaseID = p.ID
		f.installments[inst.ID] = inst
	}
	return p.ID, nil
}

func (f *fakeStore) GetPurchase(_ context.Context, id int64) (core.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.purchases[id]
	if !ok {
		return core.Purchase{}, fmt.Errorf("purchase %d: %w", id, storage.ErrNotFound)
	}
	return p, nil
}

func (f *fakeStore) DeletePurchase(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.purchases[id]; !ok {
		return fmt.Errorf("purchase %d: %w", id, storage.ErrNotFound)
	}
	delete(f.purchases, id)
	for instID, inst := range f.installments {
		if inst.PurchaseID == id {
			delete(f.installments, instID)
		}
	}
	for refID, ref := range f.refunds {
		if ref.PurchaseID == id {
			delete(f.refunds, refID)
		}
	}
	return nil
}

func (f *fakeStore) PurchasePeriodKeys(_ context.Context, purchaseID int64) ([]storage.PeriodKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[storage.PeriodKey]struct{}{}
	var keys []storage.PeriodKey
	add := func(accountID int64, period core.Period) {
		k := storage.PeriodKey{AccountID: accountID, Period: period}
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	for _, inst := range f.installments {
		if inst.PurchaseID == purchaseID {
			add(inst.AccountID, inst.BillingPeriod)
		}
	}
	for _, ref := range f.refunds {
		if ref.PurchaseID == purchaseID {
			add(ref.AccountID, ref.BillingPeriod)
		}
	}
	return keys, nil
}

func (f *fakeStore) CreateRefund(_ context.Context, ref core.Refund) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.purchases[ref.PurchaseID]; !ok {
		return 0, fmt.Errorf("purchase %d: %w", ref.PurchaseID, storage.ErrNotFound)
	}
	f.nextID++
	ref.ID = f.nextID
	f.refunds[ref.ID] = ref
	return ref.ID, nil
}

func (f *fakeStore) UpsertPeriod(_ context.Context, bp core.BillingPeriod) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.periods {
		if existing.AccountID == bp.AccountID && existing.Period == bp.Period {
			return false, nil
		}
	}
	f.nextID++
	bp.ID = f.nextID
	f.periods[bp.ID] = bp
	return true, nil
}

func (f *fakeStore) GetPeriod(_ context.Context, accountID int64, period core.Period) (core.BillingPeriod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, bp := range f.periods {
		if bp.AccountID == accountID && bp.Period == period {
			return bp, nil
		}
	}
	return core.BillingPeriod{}, fmt.Errorf("period %d/%s: %w", accountID, period, storage.ErrNotFound)
}

func (f *fakeStore) GetPeriodByID(_ context.Context, id int64) (core.BillingPeriod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bp, ok := f.periods[id]
	if !ok {
		return core.BillingPeriod{}, fmt.Errorf("period %d: %w", id, storage.ErrNotFound)
	}
	return bp, nil
}

func (f *fakeStore) RecomputePeriodTotal(_ context.Context, accountID int64, period core.Period) (int64, int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.recomputeErr[storage.PeriodKey{AccountID: accountID, Period: period}]; err != nil {
		return 0, 0, false, err
	}
	for id, bp := range f.periods {
		if bp.AccountID != accountID || bp.Period != period {
			continue
		}
		var total int64
		for _, inst := range f.installments {
			if inst.AccountID == accountID && inst.BillingPeriod == period {
				total += inst.Amount.Cents
			}
		}
		for _, ref := range f.refunds {
			if ref.AccountID == accountID && ref.BillingPeriod == period {
				total -= ref.Amount.Cents
			}
		}
		old := bp.Total.Cents
		bp.Total = core.Money{Cents: total}
		f.periods[id] = bp
		return old, total, old != total, nil
	}
	return 0, 0, false, fmt.Errorf("period %d/%s: %w", accountID, period, storage.ErrNotFound)
}

func (f *fakeStore) MarkPeriodPaid(_ context.Context, periodID, fromAccountID int64, paidAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	bp, ok := f.periods[periodID]
	if !ok {
		return fmt.Errorf("period %d: %w", periodID, storage.ErrNotFound)
	}
	if bp.PaidAt != nil {
		return storage.ErrPeriodAlreadyPaid
	}
	bp.PaidAt = &paidAt
	bp.PaidFromAccountID = &fromAccountID
	f.periods[periodID] = bp
	for id, inst := range f.installments {
		if inst.AccountID == bp.AccountID && inst.BillingPeriod == bp.Period {
			inst.PaidAt = &paidAt
			f.installments[id] = inst
		}
	}
	return nil
}

func (f *fakeStore) MarkPeriodUnpaid(_ context.Context, periodID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	bp, ok := f.periods[periodID]
	if !ok {
		return fmt.Errorf("period %d: %w", periodID, storage.ErrNotFound)
	}
	if bp.PaidAt == nil {
		return storage.ErrPeriodNotPaid
	}
	bp.PaidAt = nil
	bp.PaidFromAccountID = nil
	f.periods[periodID] = bp
	for id, inst := range f.installments {
		if inst.AccountID == bp.AccountID && inst.BillingPeriod == bp.Period {
			inst.PaidAt = nil
			f.installments[id] = inst
		}
	}
	return nil
}

func (f *fakeStore) MissingPeriodKeys(_ context.Context) ([]storage.PeriodKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	have := map[storage.PeriodKey]struct{}{}
	for _, bp := range f.periods {
		have[storage.PeriodKey{AccountID: bp.AccountID, Period: bp.Period}] = struct{}{}
	}
	seen := map[storage.PeriodKey]struct{}{}
	var missing []storage.PeriodKey
	for _, inst := range f.installments {
		k := storage.PeriodKey{AccountID: inst.AccountID, Period: inst.BillingPeriod}
		if _, ok := have[k]; ok {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		missing = append(missing, k)
	}
	return missing, nil
}

func (f *fakeStore) ListPeriods(_ context.Context) ([]core.BillingPeriod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.BillingPeriod, 0, len(f.periods))
	for _, bp := range f.periods {
		out = append(out, bp)
	}
	return out, nil
}

// periodFor is a test helper that fetches the aggregate row or fails.
func (f *fakeStore) periodFor(t *testing.T, accountID int64, period core.Period) core.BillingPeriod {
	t.Helper()
	bp, err := f.GetPeriod(context.Background(), accountID, period)
	if err != nil {
		t.Fatalf("period %d/%s not found: %v", accountID, period, err)
	}
	return bp
}

// fakePublisher records recompute notifications.
type fakePublisher struct {
	mu        sync.Mutex
	published []storage.PeriodKey
	err       error
}

func (p *fakePublisher) PublishPeriodRecompute(_ context.Context, accountID int64, period core.Period) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, storage.PeriodKey{AccountID: accountID, Period: period})
	return nil
}
