package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"calco/internal/core"
	"calco/internal/log"
)

// Config selects the spreadsheet tab the totals are mirrored to.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

// Enabled reports whether a mirror target is configured.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.SpreadsheetID) != ""
}

// valuesAPI is the slice of the Sheets values API the mirror needs.
type valuesAPI interface {
	Get(ctx context.Context, spreadsheetID, rng string) ([][]any, error)
	Update(ctx context.Context, spreadsheetID, rng string, rows [][]any) error
	Clear(ctx context.Context, spreadsheetID, rng string) error
}

// Client mirrors sheet totals into a Google spreadsheet. The mirror is
// write-only from the ledger's point of view and never read back into it.
type Client struct {
	values        valuesAPI
	spreadsheetID string
	sheetName     string
	logger        *log.Logger
}

func New(ctx context.Context, cfg Config, logger *log.Logger) (*Client, error) {
	if !cfg.Enabled() {
		return nil, errors.New("missing spreadsheet id")
	}
	if logger == nil {
		logger = log.Discard()
	}
	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newClient(&serviceValues{svc: svc}, cfg, logger), nil
}

func newClient(values valuesAPI, cfg Config, logger *log.Logger) *Client {
	name := strings.TrimSpace(cfg.SheetName)
	if name == "" {
		name = "Totals"
	}
	return &Client{
		values:        values,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     name,
		logger:        logger.WithComponent(log.ComponentMirror),
	}
}

// newSheetsService authenticates with service account credentials, given
// inline, as a file, or through GOOGLE_APPLICATION_CREDENTIALS.
func newSheetsService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	credentialsFile := strings.TrimSpace(cfg.CredentialsFile)
	if cfg.CredentialsJSON == "" && credentialsFile == "" {
		credentialsFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case cfg.CredentialsJSON != "":
		credentialsJSON = []byte(cfg.CredentialsJSON)
	case credentialsFile != "":
		data, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = data
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

type serviceValues struct {
	svc *gsheet.Service
}

func (v *serviceValues) Get(ctx context.Context, spreadsheetID, rng string) ([][]any, error) {
	resp, err := v.svc.Spreadsheets.Values.Get(spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (v *serviceValues) Update(ctx context.Context, spreadsheetID, rng string, rows [][]any) error {
	_, err := v.svc.Spreadsheets.Values.Update(spreadsheetID, rng, &gsheet.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	return err
}

func (v *serviceValues) Clear(ctx context.Context, spreadsheetID, rng string) error {
	_, err := v.svc.Spreadsheets.Values.Clear(spreadsheetID, rng, &gsheet.ClearValuesRequest{}).Context(ctx).Do()
	return err
}

// ReadTotals returns what the mirror tab currently holds.
func (c *Client) ReadTotals(ctx context.Context) ([]MirroredTotal, error) {
	rng := fmt.Sprintf("%s!A:C", c.sheetName)
	values, err := c.values.Get(ctx, c.spreadsheetID, rng)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return parseTotals(values)
}

// WriteTotals replaces the mirror tab with one row per sheet.
func (c *Client) WriteTotals(ctx context.Context, sheets []core.Sheet) error {
	clearRng := fmt.Sprintf("%s!A:C", c.sheetName)
	if err := c.values.Clear(ctx, c.spreadsheetID, clearRng); err != nil {
		return fmt.Errorf("clear %s: %w", clearRng, err)
	}
	rows := totalsRows(sheets)
	rng := fmt.Sprintf("%s!A1:C%d", c.sheetName, len(rows))
	if err := c.values.Update(ctx, c.spreadsheetID, rng, rows); err != nil {
		return fmt.Errorf("update %s: %w", rng, err)
	}
	return nil
}

// SyncTotals writes the totals only when the mirror differs from them. It
// reports whether a write happened.
func (c *Client) SyncTotals(ctx context.Context, sheets []core.Sheet) (bool, error) {
	current, err := c.ReadTotals(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "Could not read mirror, rewriting it", log.FieldError, err)
	} else if sameTotals(current, sheets) {
		return false, nil
	}
	if err := c.WriteTotals(ctx, sheets); err != nil {
		return false, err
	}
	c.logger.InfoContext(ctx, "Mirrored sheet totals",
		log.FieldOperation, log.OpMirror,
		"sheets", len(sheets),
		"spreadsheet_id", c.spreadsheetID)
	return true, nil
}
