// Package google appends ledger export rows to a Google Sheet using a
// service account.
package google

import (
	"context"
	"fmt"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	sheetsport "budgeit/internal/sheets"
)

type Config struct {
	SpreadsheetID      string
	SheetName          string
	ServiceAccountFile string
	ServiceAccountJSON string
}

type Appender struct {
	svc           *sheets.Service
	spreadsheetID string
	sheetName     string
}

var _ sheetsport.RowAppender = (*Appender)(nil)

func New(ctx context.Context, cfg Config) (*Appender, error) {
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet ID is required")
	}
	if cfg.SheetName == "" {
		cfg.SheetName = "Ledger"
	}

	opts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	switch {
	case cfg.ServiceAccountJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON)))
	case cfg.ServiceAccountFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.ServiceAccountFile))
	default:
		return nil, fmt.Errorf("service account credentials are required")
	}

	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	return &Appender{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     cfg.SheetName,
	}, nil
}

// AppendRow appends one audit line below the sheet's existing data.
func (a *Appender) AppendRow(ctx context.Context, row sheetsport.LedgerRow) error {
	values := &sheets.ValueRange{Values: [][]any{row.Cells()}}
	_, err := a.svc.Spreadsheets.Values.
		Append(a.spreadsheetID, a.sheetName, values).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append row to sheet %q: %w", a.sheetName, err)
	}
	return nil
}
