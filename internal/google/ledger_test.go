package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rentalcore/internal/config"
	"rentalcore/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

func setupLedger(t *testing.T) (*http.ServeMux, *LedgerService) {
	t.Helper()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	s, err := NewLedgerService(context.Background(), config.GoogleConfig{LedgerSpreadsheetID: "ledger_id"},
		option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2026, 3, 12, 11, 0, 0, 0, time.UTC) }
	return mux, s
}

func ledgerBooking() *models.Booking {
	return &models.Booking{
		ID:                123,
		UserID:            3,
		CarID:             4,
		BookingStatus:     models.BookingCompleted,
		PaymentStatus:     models.PaymentFullyPaid,
		TotalAmount:       2400,
		LateFee:           450,
		DamageCharge:      300,
		FullPaymentAmount: 2150,
	}
}

func TestLedgerService_WarmUpCache(t *testing.T) {
	mux, s := setupLedger(t)
	mux.HandleFunc("/v4/spreadsheets/ledger_id/values/Ledger!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{
			Values: [][]interface{}{{"Booking ID"}, {"123"}, {}, {"456"}},
		})
	})

	require.NoError(t, s.WarmUpCache(context.Background()))
	row, ok := s.getCachedRow(123)
	assert.True(t, ok)
	assert.Equal(t, 2, row)
	row, ok = s.getCachedRow(456)
	assert.True(t, ok)
	assert.Equal(t, 4, row)
}

func TestLedgerService_UpsertUpdatesKnownRow(t *testing.T) {
	mux, s := setupLedger(t)
	s.setCachedRow(123, 7)

	var got sheets.ValueRange
	mux.HandleFunc("/v4/spreadsheets/ledger_id/values/Ledger!A7:L7", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "RAW", r.URL.Query().Get("valueInputOption"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})
	})

	require.NoError(t, s.UpsertSettlement(context.Background(), ledgerBooking()))
	require.Len(t, got.Values, 1)
	row := got.Values[0]
	require.Len(t, row, 12)
	assert.Equal(t, "completed", row[3])
	assert.EqualValues(t, 2150, row[8])
	assert.Equal(t, "none", row[9])
	assert.Equal(t, "2026-03-12 11:00:00", row[11])
}

func TestLedgerService_UpsertAppendsUnknownRow(t *testing.T) {
	mux, s := setupLedger(t)

	mux.HandleFunc("/v4/spreadsheets/ledger_id/values/Ledger!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"Booking ID"}, {"9"}}})
	})
	appended := false
	mux.HandleFunc("/v4/spreadsheets/ledger_id/values/Ledger!A:A:append", func(w http.ResponseWriter, r *http.Request) {
		appended = true
		assert.Equal(t, "INSERT_ROWS", r.URL.Query().Get("insertDataOption"))
		_ = json.NewEncoder(w).Encode(sheets.AppendValuesResponse{})
	})

	b := ledgerBooking()
	b.RefundStatus = models.RefundProcessed
	b.RefundAmount = 500
	require.NoError(t, s.UpsertRefund(context.Background(), b))
	assert.True(t, appended)
}

func TestLedgerService_FindRowScansColumn(t *testing.T) {
	mux, s := setupLedger(t)
	mux.HandleFunc("/v4/spreadsheets/ledger_id/values/Ledger!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"Booking ID"}, {float64(5)}, {"123"}}})
	})

	row, err := s.findRow(context.Background(), 123)
	require.NoError(t, err)
	assert.Equal(t, 3, row)

	_, err = s.findRow(context.Background(), 77)
	assert.ErrorIs(t, err, errRowNotFound)

	_, err = s.findRow(context.Background(), 0)
	assert.Error(t, err)
}

func TestLedgerService_EnsureHeader(t *testing.T) {
	mux, s := setupLedger(t)
	mux.HandleFunc("/v4/spreadsheets/ledger_id/values/Ledger!A1:L1", func(w http.ResponseWriter, r *http.Request) {
		var vr sheets.ValueRange
		require.NoError(t, json.NewDecoder(r.Body).Decode(&vr))
		assert.Equal(t, "Booking ID", vr.Values[0][0])
		_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})
	})
	mux.HandleFunc("/v4/spreadsheets/ledger_id/values/Ledger!A1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{})
	})

	require.NoError(t, s.EnsureHeader(context.Background()))
	require.NoError(t, s.TestConnection(context.Background()))
}

func TestNewLedgerService_Validation(t *testing.T) {
	_, err := NewLedgerService(context.Background(), config.GoogleConfig{})
	assert.Error(t, err)

	_, err = NewLedgerService(context.Background(), config.GoogleConfig{
		LedgerSpreadsheetID: "x",
		CredentialsFile:     filepath.Join(t.TempDir(), "missing.json"),
	})
	assert.Error(t, err)
}

func TestServiceAccountEmail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"client_email":"ledger@project.iam.gserviceaccount.com"}`), 0o600))

	email, err := ServiceAccountEmail(path)
	require.NoError(t, err)
	assert.Equal(t, "ledger@project.iam.gserviceaccount.com", email)

	_, err = ServiceAccountEmail(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
