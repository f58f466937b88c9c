// Package google keeps the settlement and refund ledger spreadsheet in sync.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"rentalcore/internal/config"
	"rentalcore/internal/domain"
	"rentalcore/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

var _ domain.LedgerWriter = (*LedgerService)(nil)

const (
	ledgerSheet   = "Ledger"
	ledgerIDRange = ledgerSheet + "!A:A"
	dateLayout    = "2006-01-02 15:04:05"
)

var errRowNotFound = errors.New("ledger row not found")

var ledgerHeaders = []interface{}{
	"Booking ID", "Customer", "Car", "Booking Status", "Payment Status", "Final Amount",
	"Late Fee", "Damage", "Collected", "Refund Status", "Refund Amount", "Updated At",
}

// LedgerService upserts one row per booking in Ledger!A:L.
type LedgerService struct {
	service       *sheets.Service
	spreadsheetID string
	rowCache      map[int64]int
	cacheMu       sync.RWMutex
	now           func() time.Time
}

// NewLedgerService authenticates with the service account in cfg.CredentialsFile.
// Extra client options replace that step, which tests use to point at a fake endpoint.
func NewLedgerService(ctx context.Context, cfg config.GoogleConfig, opts ...option.ClientOption) (*LedgerService, error) {
	if cfg.LedgerSpreadsheetID == "" {
		return nil, errors.New("ledger spreadsheet id is required")
	}

	if len(opts) == 0 {
		credentialsJSON, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read credentials file: %w", err)
		}
		jwt, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse credentials: %w", err)
		}
		opts = []option.ClientOption{option.WithHTTPClient(jwt.Client(ctx))}
	}

	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}

	return &LedgerService{
		service:       srv,
		spreadsheetID: cfg.LedgerSpreadsheetID,
		rowCache:      make(map[int64]int),
		now:           time.Now,
	}, nil
}

// ServiceAccountEmail reads client_email from a credentials file.
func ServiceAccountEmail(credentialsFile string) (string, error) {
	file, err := os.ReadFile(credentialsFile)
	if err != nil {
		return "", err
	}

	var creds struct {
		ClientEmail string `json:"client_email"`
	}
	if err := json.Unmarshal(file, &creds); err != nil {
		return "", err
	}
	return creds.ClientEmail, nil
}

// TestConnection reads the header cell.
func (s *LedgerService) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, ledgerSheet+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// EnsureHeader writes the column titles into row 1.
func (s *LedgerService) EnsureHeader(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, ledgerSheet+"!A1:L1", &sheets.ValueRange{
		Values: [][]interface{}{ledgerHeaders},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

// WarmUpCache rebuilds the booking id to row index cache from column A.
func (s *LedgerService) WarmUpCache(ctx context.Context) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, ledgerIDRange).Context(ctx).Do()
	if err != nil {
		return err
	}

	cache := make(map[int64]int, len(resp.Values))
	for i, row := range resp.Values {
		if id, ok := rowID(row); ok {
			cache[id] = i + 1
		}
	}

	s.cacheMu.Lock()
	s.rowCache = cache
	s.cacheMu.Unlock()
	return nil
}

func (s *LedgerService) UpsertSettlement(ctx context.Context, b *models.Booking) error {
	return s.upsert(ctx, b)
}

func (s *LedgerService) UpsertRefund(ctx context.Context, b *models.Booking) error {
	return s.upsert(ctx, b)
}

func (s *LedgerService) upsert(ctx context.Context, b *models.Booking) error {
	if b == nil {
		return errors.New("booking is nil")
	}

	values := [][]interface{}{s.rowValues(b)}
	rowIdx, err := s.findRow(ctx, b.ID)
	if errors.Is(err, errRowNotFound) {
		_, err = s.service.Spreadsheets.Values.Append(s.spreadsheetID, ledgerIDRange, &sheets.ValueRange{Values: values}).
			ValueInputOption("RAW").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).
			Do()
		if err == nil {
			// the appended row index is unknown until the next warm-up
			s.deleteCachedRow(b.ID)
		}
		return err
	}
	if err != nil {
		return err
	}

	rangeData := fmt.Sprintf("%s!A%d:L%d", ledgerSheet, rowIdx, rowIdx)
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return err
}

// findRow returns the 1-based row of bookingID, scanning column A on a cache miss.
func (s *LedgerService) findRow(ctx context.Context, bookingID int64) (int, error) {
	if bookingID == 0 {
		return 0, errors.New("booking id is required")
	}
	if row, ok := s.getCachedRow(bookingID); ok {
		return row, nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, ledgerIDRange).Context(ctx).Do()
	if err != nil {
		return 0, err
	}
	for i, row := range resp.Values {
		if id, ok := rowID(row); ok && id == bookingID {
			s.setCachedRow(bookingID, i+1)
			return i + 1, nil
		}
	}
	return 0, errRowNotFound
}

func (s *LedgerService) rowValues(b *models.Booking) []interface{} {
	refund := string(b.RefundStatus)
	if refund == "" {
		refund = string(models.RefundNone)
	}
	return []interface{}{
		b.ID,
		b.UserID,
		b.CarID,
		string(b.BookingStatus),
		string(b.PaymentStatus),
		b.ResolveFinalAmount(),
		b.LateFee,
		b.ChargedDamage(),
		b.FullPaymentAmount,
		refund,
		b.RefundAmount,
		s.now().Format(dateLayout),
	}
}

func rowID(row []interface{}) (int64, bool) {
	if len(row) == 0 {
		return 0, false
	}
	switch v := row[0].(type) {
	case float64:
		return int64(v), v > 0
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		return id, err == nil && id > 0
	}
	return 0, false
}

func (s *LedgerService) getCachedRow(id int64) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[id]
	return row, ok
}

func (s *LedgerService) setCachedRow(id int64, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache[id] = row
}

func (s *LedgerService) deleteCachedRow(id int64) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	delete(s.rowCache, id)
}
