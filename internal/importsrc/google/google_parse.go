package google

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"fatura/internal/core"
	"fatura/internal/importsrc"
)

// Statement sheet columns:
//
//	A date, B description, C amount, D installment ("3/5", optional),
//	E closing date (optional).
var dateLayouts = []string{"2006-01-02", "02/01/2006", "2/1/2006"}

func parseRow(raw []any) (importsrc.ValidatedImportRow, bool, error) {
	cols := make([]string, len(raw))
	for i, v := range raw {
		cols[i] = strings.TrimSpace(fmt.Sprint(v))
	}

	// Fully empty lines are common padding at the end of a range.
	if isBlank(cols) {
		return importsrc.ValidatedImportRow{}, false, nil
	}
	if len(cols) < 3 {
		return importsrc.ValidatedImportRow{}, false, fmt.Errorf("need at least date, description and amount, got %d columns", len(cols))
	}

	date, err := parseDate(cols[0])
	if err != nil {
		return importsrc.ValidatedImportRow{}, false, err
	}

	desc := cols[1]
	if desc == "" {
		return importsrc.ValidatedImportRow{}, false, fmt.Errorf("empty description")
	}

	cents, err := core.ParseAmountCents(cols[2])
	if err != nil {
		return importsrc.ValidatedImportRow{}, false, fmt.Errorf("amount %q: %w", cols[2], err)
	}

	row := importsrc.ValidatedImportRow{
		Date:        date,
		Description: desc,
		AmountCents: cents,
	}

	if len(cols) > 3 && cols[3] != "" {
		num, total, err := parseInstallmentRef(cols[3])
		if err != nil {
			return importsrc.ValidatedImportRow{}, false, err
		}
		row.InstallmentNumber = num
		row.TotalInstallments = total
	}

	if len(cols) > 4 && cols[4] != "" {
		closing, err := parseDate(cols[4])
		if err != nil {
			return importsrc.ValidatedImportRow{}, false, fmt.Errorf("closing date: %w", err)
		}
		row.ClosingDate = &closing
	}

	return row, true, nil
}

func isBlank(cols []string) bool {
	for _, c := range cols {
		if c != "" {
			return false
		}
	}
	return true
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// parseInstallmentRef reads "k/n" installment markers.
func parseInstallmentRef(s string) (num, total int, err error) {
	left, right, found := strings.Cut(s, "/")
	if !found {
		return 0, 0, fmt.Errorf("installment ref %q: want k/n", s)
	}
	num, err = strconv.Atoi(strings.TrimSpace(left))
	if err != nil {
		return 0, 0, fmt.Errorf("installment number %q: %w", left, err)
	}
	total, err = strconv.Atoi(strings.TrimSpace(right))
	if err != nil {
		return 0, 0, fmt.Errorf("installment total %q: %w", right, err)
	}
	if num < 1 || total < 1 || num > total {
		return 0, 0, fmt.Errorf("installment ref %q out of range", s)
	}
	return num, total, nil
}
