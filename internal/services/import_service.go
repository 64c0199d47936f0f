package services

import (
	"context"
	"fmt"
	"log/slog"

	"fatura/internal/core"
	"fatura/internal/importsrc"
)

// ImportConfig controls source-specific quirks of an import run.
type ImportConfig struct {
	// ApplyFirstInstallmentLagOffset shifts the reconstructed purchase
	// date back one day when the batch's earliest row is installment #1.
	// One upstream feed posts first installments a day late; the offset
	// is a heuristic for that feed only and must stay off for others.
	ApplyFirstInstallmentLagOffset bool
}

// ImportFailure records one row or group that could not be recorded.
type ImportFailure struct {
	Description string
	Reason      string
}

// ImportReport summarizes one import run.
type ImportReport struct {
	Rows      int
	Purchases int
	Failures  []ImportFailure
}

func (r ImportReport) OK() bool { return len(r.Failures) == 0 }

// ImportService pulls validated rows from a source and records them as
// purchases. Row groups that belong to one multi-installment purchase are
// collapsed and re-anchored to their original first period.
type ImportService struct {
	source  importsrc.RowSource
	entries *EntryService
	config  ImportConfig
}

func NewImportService(source importsrc.RowSource, entries *EntryService, config ImportConfig) *ImportService {
	return &ImportService{source: source, entries: entries, config: config}
}

// Run fetches one batch and records everything in it for the account.
// Failures are collected per row group; one bad line never aborts the
// batch.
func (s *ImportService) Run(ctx context.Context, accountID int64) (ImportReport, error) {
	rows, err := s.source.FetchRows(ctx)
	if err != nil {
		return ImportReport{}, fmt.Errorf("fetch import rows: %w", err)
	}

	report := ImportReport{Rows: len(rows)}

	account, err := s.entries.store.GetAccount(ctx, accountID)
	if err != nil {
		return report, storageErr("import", err)
	}

	for _, group := range groupRows(rows) {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		req, err := s.buildPurchase(account, group)
		if err != nil {
			report.Failures = append(report.Failures, ImportFailure{
				Description: group[0].Description,
				Reason:      err.Error(),
			})
			continue
		}
		if _, err := s.entries.RecordPurchase(ctx, req); err != nil {
			report.Failures = append(report.Failures, ImportFailure{
				Description: group[0].Description,
				Reason:      err.Error(),
			})
			continue
		}
		report.Purchases++
	}

	slog.InfoContext(ctx, "Import run completed",
		"account_id", accountID,
		"rows", report.Rows,
		"purchases", report.Purchases,
		"failures", len(report.Failures))
	return report, nil
}

// groupRows collapses installment rows of the same purchase. The source
// has no purchase identifier, so description plus total-installments is
// the grouping key; plain rows each form their own group.
func groupRows(rows []importsrc.ValidatedImportRow) [][]importsrc.ValidatedImportRow {
	type key struct {
		desc  string
		total int
	}
	var (
		groups  [][]importsrc.ValidatedImportRow
		indexOf = map[key]int{}
	)
	for _, row := range rows {
		if !row.IsInstallment() {
			groups = append(groups, []importsrc.ValidatedImportRow{row})
			continue
		}
		k := key{desc: row.Description, total: row.TotalInstallments}
		if i, ok := indexOf[k]; ok {
			groups[i] = append(groups[i], row)
			continue
		}
		indexOf[k] = len(groups)
		groups = append(groups, []importsrc.ValidatedImportRow{row})
	}
	return groups
}

// buildPurchase turns one row group into a purchase request.
//
// For installment groups the base purchase date is reconstructed from the
// earliest known row, and the chain is anchored with a period override so
// it stays on its original statements even when the batch starts mid-chain.
// The purchase total assumes the uniform per-installment share the source
// reports, which keeps conservation exact by construction.
func (s *ImportService) buildPurchase(account core.BillingAccount, group []importsrc.ValidatedImportRow) (NewPurchase, error) {
	first := group[0]
	if !first.IsInstallment() {
		return NewPurchase{
			AccountID:         account.ID,
			Description:       first.Description,
			TotalAmountCents:  first.AmountCents,
			TotalInstallments: 1,
			PurchaseDate:      first.Date,
			ClosingDateHint:   first.ClosingDate,
		}, nil
	}

	earliest := group[0]
	imported := make([]core.ImportedInstallment, 0, len(group))
	for _, row := range group {
		imported = append(imported, core.ImportedInstallment{Date: row.Date, Number: row.InstallmentNumber})
		if row.InstallmentNumber < earliest.InstallmentNumber {
			earliest = row
		}
	}

	baseDate, err := core.ReconstructBaseDate(imported, s.config.ApplyFirstInstallmentLagOffset)
	if err != nil {
		return NewPurchase{}, fmt.Errorf("reconstruct base date: %w", err)
	}

	req := NewPurchase{
		AccountID:         account.ID,
		Description:       earliest.Description,
		TotalAmountCents:  earliest.AmountCents * int64(earliest.TotalInstallments),
		TotalInstallments: earliest.TotalInstallments,
		PurchaseDate:      baseDate,
	}

	// Anchor the chain: the earliest row's own statement, walked back to
	// installment #1, is the chain's first period. Without this a lag
	// offset crossing a closing boundary would shift every installment.
	if account.Billing != nil {
		var observed core.Period
		if earliest.ClosingDate != nil {
			observed = core.PeriodForClosingDate(earliest.Date, *earliest.ClosingDate)
		} else {
			observed = core.PeriodForDate(earliest.Date, account.Billing.ClosingDay)
		}
		base := observed.AddMonths(-(earliest.InstallmentNumber - 1))
		req.PeriodOverride = &base
	}

	return req, nil
}
