// Package importsrc defines the import-source port and the row shape that
// external statement feeds deliver into the allocation engine.
package importsrc

import (
	"context"
	"time"
)

// ValidatedImportRow is one statement line as delivered by an import
// source, already syntactically validated. Amounts are integer cents.
type ValidatedImportRow struct {
	Date        time.Time
	Description string
	AmountCents int64

	// InstallmentNumber and TotalInstallments are zero for plain rows.
	// For installment rows both are >= 1.
	InstallmentNumber int
	TotalInstallments int

	// ClosingDate is the cycle closing date the source reported for this
	// row, when it reports one at all.
	ClosingDate *time.Time
}

// IsInstallment reports whether the row belongs to a multi-installment
// purchase.
func (r ValidatedImportRow) IsInstallment() bool {
	return r.InstallmentNumber >= 1 && r.TotalInstallments >= 1
}

// RowSource supplies validated row batches.
type RowSource interface {
	FetchRows(ctx context.Context) ([]ValidatedImportRow, error)
}
