package memory

import (
	"context"
	"testing"
	"time"

	"fatura/internal/importsrc"
)

func TestSource_FetchConsumesRows(t *testing.T) {
	src := New(importsrc.ValidatedImportRow{
		Date:        time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Description: "groceries",
		AmountCents: 4500,
	})

	rows, err := src.FetchRows(context.Background())
	if err != nil {
		t.Fatalf("FetchRows() error = %v", err)
	}
	if len(rows) != 1 || rows[0].Description != "groceries" {
		t.Fatalf("FetchRows() = %+v, want one groceries row", rows)
	}

	rows, err = src.FetchRows(context.Background())
	if err != nil {
		t.Fatalf("second FetchRows() error = %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("second fetch returned %d rows, want 0", len(rows))
	}
}

func TestSource_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := New().FetchRows(ctx); err == nil {
		t.Error("FetchRows() with cancelled context should fail")
	}
}
