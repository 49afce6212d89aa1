// Package sheets writes export rows to a Google Sheets tab.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"dormpay/internal/export"
	"dormpay/internal/log"
)

var _ export.RowsWriter = (*Exporter)(nil)

// Config selects the target spreadsheet and the service account used to
// reach it. CredentialsJSON wins over CredentialsFile.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

type Exporter struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	logger        *log.Logger
}

// New creates an exporter with service account credentials. Extra client
// options are appended after the credentials.
func New(ctx context.Context, cfg Config, logger *log.Logger, opts ...goption.ClientOption) (*Exporter, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if logger == nil {
		logger = log.FromSlog(nil, log.ComponentSheets)
	}

	credentialsJSON, err := loadCredentials(cfg)
	if err != nil {
		return nil, err
	}

	clientOpts := []goption.ClientOption{
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope),
	}
	svc, err := gsheet.NewService(ctx, append(clientOpts, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	logger.InfoContext(ctx, "Google Sheets exporter ready", "sheet", sheetName(cfg))
	return NewWithService(svc, cfg.SpreadsheetID, sheetName(cfg), logger), nil
}

// NewWithService wraps an existing service, e.g. one built without
// authentication against a test endpoint.
func NewWithService(svc *gsheet.Service, spreadsheetID, sheet string, logger *log.Logger) *Exporter {
	if logger == nil {
		logger = log.FromSlog(nil, log.ComponentSheets)
	}
	if sheet == "" {
		sheet = "Students"
	}
	return &Exporter{svc: svc, spreadsheetID: spreadsheetID, sheetName: sheet, logger: logger}
}

func sheetName(cfg Config) string {
	if name := strings.TrimSpace(cfg.SheetName); name != "" {
		return name
	}
	return "Students"
}

func loadCredentials(cfg Config) ([]byte, error) {
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		return []byte(cfg.CredentialsJSON), nil
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return data, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}
}

// WriteRows clears the tab and writes rows from A1.
func (e *Exporter) WriteRows(ctx context.Context, rows [][]string) error {
	if e.svc == nil {
		return errors.New("sheets service not initialized")
	}

	clearRange := fmt.Sprintf("%s!A:Z", e.sheetName)
	if _, err := e.svc.Spreadsheets.Values.Clear(e.spreadsheetID, clearRange, &gsheet.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear %s: %w", clearRange, err)
	}

	values := make([][]any, len(rows))
	for i, row := range rows {
		values[i] = make([]any, len(row))
		for j, cell := range row {
			values[i][j] = cell
		}
	}

	rng := fmt.Sprintf("%s!A1", e.sheetName)
	_, err := e.svc.Spreadsheets.Values.Update(e.spreadsheetID, rng, &gsheet.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", rng, err)
	}

	e.logger.InfoContext(ctx, "Rows exported to Google Sheets", "sheet", e.sheetName, log.FieldCount, len(rows))
	return nil
}
