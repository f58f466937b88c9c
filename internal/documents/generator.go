// Package documents renders settlement and refund statements as .xlsx files.
package documents

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"rentalcore/internal/config"
	"rentalcore/internal/domain"
	"rentalcore/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

var _ domain.DocumentGenerator = (*Generator)(nil)

const sheetName = "Statement"

const timeLayout = "02.01.2006 15:04"

type Generator struct {
	dir    string
	logger *zerolog.Logger
}

func NewGenerator(cfg config.DocumentsConfig, logger *zerolog.Logger) *Generator {
	dir := cfg.Path
	if dir == "" {
		dir = "./documents"
	}
	return &Generator{dir: dir, logger: logger}
}

type row struct {
	label string
	value interface{}
}

// SettlementStatement writes settlement_<id>.xlsx and returns its path.
func (g *Generator) SettlementStatement(ctx context.Context, b *models.Booking) (string, error) {
	if b.RentalStage != models.StageCompleted {
		return "", fmt.Errorf("booking %d is not settled", b.ID)
	}

	rows := append(bookingRows(b),
		row{"Final amount", b.ResolveFinalAmount()},
		row{"Covered hours", b.CoveredHours},
		row{"Coverage amount", b.CoverageAmount},
		row{"Advance paid", b.AdvancePaid},
		row{"Late hours", b.LateHours},
		row{"Hourly late rate", b.HourlyLateRate},
		row{"Late fee", b.LateFee},
		row{"Damage charge", b.ChargedDamage()},
		row{"Collected", b.FullPaymentAmount},
		row{"Payment method", string(b.FullPaymentMethod)},
		row{"Paid at", formatTime(b.FullPaymentAt)},
		row{"Returned at", formatTime(b.ReturnedAt)},
	)
	return g.write(ctx, fmt.Sprintf("settlement_%d.xlsx", b.ID), fmt.Sprintf("Settlement statement #%d", b.ID), rows)
}

// RefundStatement writes refund_<id>.xlsx and returns its path.
func (g *Generator) RefundStatement(ctx context.Context, b *models.Booking) (string, error) {
	if b.RefundStatus == "" || b.RefundStatus == models.RefundNone {
		return "", fmt.Errorf("booking %d has no refund decision", b.ID)
	}

	rows := append(bookingRows(b),
		row{"Refund status", string(b.RefundStatus)},
		row{"Refund type", string(b.RefundType)},
		row{"Refund amount", b.RefundAmount},
		row{"Reason", b.RefundReason},
		row{"Advance paid", b.AdvancePaid},
		row{"Full payment", b.FullPaymentAmount},
		row{"Processed at", formatTime(b.RefundProcessedAt)},
	)
	return g.write(ctx, fmt.Sprintf("refund_%d.xlsx", b.ID), fmt.Sprintf("Refund statement #%d", b.ID), rows)
}

func bookingRows(b *models.Booking) []row {
	return []row{
		{"Booking", b.ID},
		{"Customer", b.UserID},
		{"Car", b.CarID},
		{"Rental type", string(b.RentalType)},
		{"Pickup", b.PickupAt.Format(timeLayout)},
		{"Drop", b.DropAt.Format(timeLayout)},
		{"Booking status", string(b.BookingStatus)},
		{"Payment status", string(b.PaymentStatus)},
		{"Total amount", b.TotalAmount},
	}
}

func (g *Generator) write(ctx context.Context, fileName, title string, rows []row) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating documents directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	_ = f.SetCellValue(sheetName, "A1", title)
	_ = f.MergeCell(sheetName, "A1", "B1")
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "A1", titleStyle)

	labelStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E2EFDA"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})

	for i, r := range rows {
		label, _ := excelize.CoordinatesToCellName(1, i+3)
		value, _ := excelize.CoordinatesToCellName(2, i+3)
		if err := f.SetCellValue(sheetName, label, r.label); err != nil {
			return "", err
		}
		if err := f.SetCellValue(sheetName, value, r.value); err != nil {
			return "", err
		}
		_ = f.SetCellStyle(sheetName, label, label, labelStyle)
	}
	_ = f.SetColWidth(sheetName, "A", "A", 22)
	_ = f.SetColWidth(sheetName, "B", "B", 28)

	path := filepath.Join(g.dir, fileName)
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}

	g.logger.Info().Str("file_path", path).Msg("statement created")
	return path, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(timeLayout)
}

// ReadStatement returns the label/value pairs of a generated statement.
func ReadStatement(path string) (map[string]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New("empty statement")
	}

	out := make(map[string]string, len(rows))
	for _, r := range rows[1:] {
		if len(r) < 2 {
			continue
		}
		out[r[0]] = r[1]
	}
	return out, nil
}
