package core

import (
	"errors"
	"sort"
	"time"
)

// PlanRequest describes one purchase to be spread across installments.
//
// The base period for installment 1 is resolved with the first rule that
// applies: an explicit closing date observed by an import source, a caller
// supplied override period (used when re-deriving historical chains whose
// first known row is not installment #1), or plain PeriodForDate.
type PlanRequest struct {
	BasePurchaseDate  time.Time
	TotalInstallments int
	Billing           *BillingConfig
	ClosingDateHint   *time.Time
	PeriodOverride    *Period
}

// PlannedInstallment is one (purchaseDate, billingPeriod, dueDate) triple.
type PlannedInstallment struct {
	Number        int
	PurchaseDate  time.Time
	BillingPeriod Period
	DueDate       time.Time
}

// PlanInstallments produces the full date plan for a purchase.
//
// Installment 1 keeps the literal purchase date. Later installments get a
// synthesized date at the start of their period's window, since no real
// transaction happened on any particular day of that month. Accounts
// without a billing configuration fall back to plain month advancement.
func PlanInstallments(req PlanRequest) ([]PlannedInstallment, error) {
	if req.TotalInstallments < 1 {
		return nil, ErrInvalidInstallments
	}
	if req.BasePurchaseDate.IsZero() {
		return nil, ErrZeroDate
	}

	if req.Billing == nil {
		return planWithoutBilling(req), nil
	}
	if err := req.Billing.Validate(); err != nil {
		return nil, err
	}

	base := DateOnly(req.BasePurchaseDate)
	var basePeriod Period
	switch {
	case req.ClosingDateHint != nil:
		basePeriod = PeriodForClosingDate(base, *req.ClosingDateHint)
	case req.PeriodOverride != nil:
		basePeriod = *req.PeriodOverride
	default:
		basePeriod = PeriodForDate(base, req.Billing.ClosingDay)
	}

	plan := make([]PlannedInstallment, 0, req.TotalInstallments)
	for k := 1; k <= req.TotalInstallments; k++ {
		period := basePeriod.AddMonths(k - 1)
		date := base
		if k > 1 {
			date = PeriodWindowStart(period, req.Billing.ClosingDay)
		}
		plan = append(plan, PlannedInstallment{
			Number:        k,
			PurchaseDate:  date,
			BillingPeriod: period,
			DueDate:       DueDateForPeriod(period, req.Billing.PaymentDueDay),
		})
	}
	return plan, nil
}

// planWithoutBilling covers debit/cash accounts: the period is the purchase
// month and the due date is the purchase date itself, each installment one
// calendar month after the last.
func planWithoutBilling(req PlanRequest) []PlannedInstallment {
	base := DateOnly(req.BasePurchaseDate)
	plan := make([]PlannedInstallment, 0, req.TotalInstallments)
	for k := 1; k <= req.TotalInstallments; k++ {
		date := AddMonthsClamped(base, k-1)
		plan = append(plan, PlannedInstallment{
			Number:        k,
			PurchaseDate:  date,
			BillingPeriod: NewPeriod(date.Year(), date.Month()),
			DueDate:       date,
		})
	}
	return plan
}

// SplitAmount divides totalCents across n installments in integer cents.
// Every installment gets the truncated share and the last one absorbs the
// rounding remainder, so the parts always sum back to the total.
func SplitAmount(totalCents int64, n int) ([]int64, error) {
	if n < 1 {
		return nil, ErrInvalidInstallments
	}
	share := totalCents / int64(n)
	parts := make([]int64, n)
	for i := range parts {
		parts[i] = share
	}
	parts[n-1] = totalCents - share*int64(n-1)
	return parts, nil
}

// ImportedInstallment is the minimal shape of an already-imported row used
// to re-derive the purchase it came from.
type ImportedInstallment struct {
	Date   time.Time
	Number int
}

// ReconstructBaseDate recovers the original purchase date from whatever
// installment rows a batch happens to contain: take the earliest-known
// installment and walk back (number-1) months.
//
// One import source records a purchase a day late when it lands on
// installment #1, so an optional one-day offset compensates there. It must
// never be applied to any other installment; doing so would compound the
// drift across the chain.
func ReconstructBaseDate(rows []ImportedInstallment, applyFirstLagOffset bool) (time.Time, error) {
	if len(rows) == 0 {
		return time.Time{}, errors.New("no installment rows to reconstruct from")
	}
	sorted := make([]ImportedInstallment, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	first := sorted[0]
	if first.Number < 1 {
		return time.Time{}, ErrInvalidInstallments
	}
	if first.Date.IsZero() {
		return time.Time{}, ErrZeroDate
	}

	base := AddMonthsClamped(first.Date, -(first.Number - 1))
	if applyFirstLagOffset && first.Number == 1 {
		base = base.AddDate(0, 0, -1)
	}
	return base, nil
}
