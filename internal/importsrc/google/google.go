// Package google reads validated statement rows from a Google Sheets
// spreadsheet. Authentication uses service-account credentials supplied
// through the environment.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"fatura/internal/importsrc"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

type Source struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	readRange     string
}

var _ importsrc.RowSource = (*Source)(nil)

// NewFromEnv creates a Sheets-backed import source.
// Required: IMPORT_SPREADSHEET_ID.
// Optional: IMPORT_SHEET_NAME (default "Statement"), IMPORT_SHEET_RANGE
// (default "A2:E"), and service-account credentials via
// GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or
// GOOGLE_APPLICATION_CREDENTIALS.
func NewFromEnv(ctx context.Context) (*Source, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("IMPORT_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing IMPORT_SPREADSHEET_ID")
	}

	sheetName := strings.TrimSpace(os.Getenv("IMPORT_SHEET_NAME"))
	if sheetName == "" {
		sheetName = "Statement"
	}
	readRange := strings.TrimSpace(os.Getenv("IMPORT_SHEET_RANGE"))
	if readRange == "" {
		readRange = "A2:E"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Source{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		readRange:     readRange,
	}, nil
}

func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	inlineJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	credFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if inlineJSON == "" && credFile == "" {
		credFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case inlineJSON != "":
		credentialsJSON = []byte(inlineJSON)
	case credFile != "":
		data, err := os.ReadFile(credFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = data
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsReadonlyScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return svc, nil
}

// FetchRows reads the configured range and parses every non-empty line.
// Rows that fail to parse are skipped with a warning; a half-broken sheet
// still yields its good rows.
func (s *Source) FetchRows(ctx context.Context) ([]importsrc.ValidatedImportRow, error) {
	if s.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}

	rng := fmt.Sprintf("%s!%s", s.sheetName, s.readRange)
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}

	rows := make([]importsrc.ValidatedImportRow, 0, len(resp.Values))
	for i, raw := range resp.Values {
		row, ok, err := parseRow(raw)
		if err != nil {
			slog.WarnContext(ctx, "Skipping unparseable import row",
				"range", rng,
				"row", i+2, // sheet rows are 1-based and the header is row 1
				"error", err)
			continue
		}
		if !ok {
			continue
		}
		rows = append(rows, row)
	}

	slog.InfoContext(ctx, "Fetched import rows", "range", rng, "rows", len(rows))
	return rows, nil
}
