package core

import (
	"errors"
	"strings"
	"time"
)

const (
	AccountCreditCard AccountKind = "credit_card"
	AccountRegular    AccountKind = "regular"
)

// Closing and due days are restricted to 1..28 so every configured day
// exists in every month. Clamping inside the calendar functions only
// covers days beyond a short month's length.
const (
	MinCycleDay = 1
	MaxCycleDay = 28
)

type (
	AccountKind string

	Money struct {
		Cents int64
	}

	// BillingConfig is the credit-card cycle configuration. Both days are
	// set together; accounts without one are debit/cash accounts.
	BillingConfig struct {
		ClosingDay    int
		PaymentDueDay int
	}

	BillingAccount struct {
		ID      int64
		Name    string
		Kind    AccountKind
		Billing *BillingConfig
	}

	// Purchase is the logical transaction. Core fields are immutable after
	// creation; edits upstream go through delete and recreate.
	Purchase struct {
		ID                int64
		AccountID         int64
		Description       string
		TotalAmount       Money
		TotalInstallments int
		BasePurchaseDate  time.Time
	}

	// Installment is one unit of a purchase assigned to exactly one
	// billing period.
	Installment struct {
		ID            int64
		PurchaseID    int64
		AccountID     int64
		Number        int
		Amount        Money
		PurchaseDate  time.Time
		BillingPeriod Period
		DueDate       time.Time
		PaidAt        *time.Time
	}

	// Refund credits a purchase without touching its installment rows.
	Refund struct {
		ID            int64
		PurchaseID    int64
		AccountID     int64
		Amount        Money
		RefundDate    time.Time
		BillingPeriod Period
	}

	// BillingPeriod is the fatura: a materialized aggregate over the
	// installments and refunds of one account and year-month. Total is
	// derived and must stay recomputable from the rows themselves.
	BillingPeriod struct {
		ID                int64
		AccountID         int64
		Period            Period
		ClosingDate       time.Time
		StartDate         time.Time
		DueDate           time.Time
		Total             Money
		PaidAt            *time.Time
		PaidFromAccountID *int64
	}
)

var (
	ErrInvalidClosingDay   = errors.New("closing day out of range (1-28)")
	ErrInvalidDueDay       = errors.New("payment due day out of range (1-28)")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidInstallments = errors.New("installment count must be at least 1")
	ErrEmptyDescription    = errors.New("empty description")
	ErrZeroDate            = errors.New("date cannot be zero")
	ErrNoBillingConfig     = errors.New("account has no billing configuration")
	ErrHalfBillingConfig   = errors.New("closing day and payment due day must be set together")
)

func (c BillingConfig) Validate() error {
	if c.ClosingDay < MinCycleDay || c.ClosingDay > MaxCycleDay {
		return ErrInvalidClosingDay
	}
	if c.PaymentDueDay < MinCycleDay || c.PaymentDueDay > MaxCycleDay {
		return ErrInvalidDueDay
	}
	return nil
}

func (a BillingAccount) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return errors.New("empty account name")
	}
	switch a.Kind {
	case AccountCreditCard:
		if a.Billing == nil {
			return ErrHalfBillingConfig
		}
		return a.Billing.Validate()
	case AccountRegular:
		if a.Billing != nil {
			return ErrHalfBillingConfig
		}
		return nil
	default:
		return errors.New("unknown account kind: " + string(a.Kind))
	}
}

// IsCreditCard reports whether the account carries a billing cycle.
func (a BillingAccount) IsCreditCard() bool {
	return a.Kind == AccountCreditCard && a.Billing != nil
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (p Purchase) Validate() error {
	if len(strings.TrimSpace(p.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(p.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	if err := p.TotalAmount.Validate(); err != nil {
		return err
	}
	if p.TotalInstallments < 1 {
		return ErrInvalidInstallments
	}
	if p.BasePurchaseDate.IsZero() {
		return ErrZeroDate
	}
	return nil
}

func (r Refund) Validate() error {
	if err := r.Amount.Validate(); err != nil {
		return err
	}
	if r.RefundDate.IsZero() {
		return ErrZeroDate
	}
	return nil
}

// IsPaid reports whether the period has a recorded payment.
func (bp BillingPeriod) IsPaid() bool {
	return bp.PaidAt != nil
}
