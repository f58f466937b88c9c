package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rentalcore/internal/models"
)

// BookingColumns is the select list shared by every booking query.
const BookingColumns = `id, user_id, car_id, driver_id, subscription_id, rental_type,
	pickup_at, drop_at, grace_period_hours,
	rental_stage, booking_status, payment_status,
	per_day_price, total_amount, final_amount, advance_amount, advance_paid,
	covered_hours, coverage_amount,
	hourly_late_rate, late_hours, late_fee,
	remaining_amount, full_payment_amount, full_payment_method, full_payment_at, damage_charge,
	trip_completed, returned_at, completed_at, cancelled_at, inspection,
	refund_status, refund_amount, refund_type, refund_reason, refund_processed_at,
	version, created_at, updated_at`

// RowScanner is satisfied by *sql.Row, *sql.Rows and pgx rows.
type RowScanner interface {
	Scan(dest ...interface{}) error
}

// ScanBooking reads one row selected with BookingColumns.
func ScanBooking(row RowScanner) (*models.Booking, error) {
	var (
		b          models.Booking
		inspection sql.NullString
	)
	err := row.Scan(
		&b.ID, &b.UserID, &b.CarID, &b.DriverID, &b.SubscriptionID, &b.RentalType,
		&b.PickupAt, &b.DropAt, &b.GracePeriodHours,
		&b.RentalStage, &b.BookingStatus, &b.PaymentStatus,
		&b.PerDayPrice, &b.TotalAmount, &b.FinalAmount, &b.AdvanceAmount, &b.AdvancePaid,
		&b.CoveredHours, &b.CoverageAmount,
		&b.HourlyLateRate, &b.LateHours, &b.LateFee,
		&b.RemainingAmount, &b.FullPaymentAmount, &b.FullPaymentMethod, &b.FullPaymentAt, &b.DamageCharge,
		&b.TripCompleted, &b.ReturnedAt, &b.CompletedAt, &b.CancelledAt, &inspection,
		&b.RefundStatus, &b.RefundAmount, &b.RefundType, &b.RefundReason, &b.RefundProcessedAt,
		&b.Version, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if inspection.Valid && inspection.String != "" {
		var ri models.ReturnInspection
		if err := json.Unmarshal([]byte(inspection.String), &ri); err != nil {
			return nil, fmt.Errorf("decode inspection for booking %d: %w", b.ID, err)
		}
		b.Inspection = &ri
	}
	return &b, nil
}

// BookingInsertArgs returns the values for an INSERT of every column except id.
func BookingInsertArgs(b *models.Booking) ([]interface{}, error) {
	var inspection interface{}
	if b.Inspection != nil {
		raw, err := json.Marshal(b.Inspection)
		if err != nil {
			return nil, fmt.Errorf("encode inspection: %w", err)
		}
		inspection = string(raw)
	}

	return []interface{}{
		b.UserID, b.CarID, b.DriverID, b.SubscriptionID, string(b.RentalType),
		b.PickupAt.UTC(), b.DropAt.UTC(), b.GracePeriodHours,
		string(b.RentalStage), string(b.BookingStatus), string(b.PaymentStatus),
		b.PerDayPrice, b.TotalAmount, b.FinalAmount, b.AdvanceAmount, b.AdvancePaid,
		b.CoveredHours, b.CoverageAmount,
		b.HourlyLateRate, b.LateHours, b.LateFee,
		b.RemainingAmount, b.FullPaymentAmount, string(b.FullPaymentMethod), utcPtr(b.FullPaymentAt), b.DamageCharge,
		b.TripCompleted, utcPtr(b.ReturnedAt), utcPtr(b.CompletedAt), utcPtr(b.CancelledAt), inspection,
		string(b.RefundStatus), b.RefundAmount, string(b.RefundType), b.RefundReason, utcPtr(b.RefundProcessedAt),
		b.Version, b.CreatedAt.UTC(), b.UpdatedAt.UTC(),
	}, nil
}

// NormalizeNewBooking fills the defaults a freshly created booking must carry.
func NormalizeNewBooking(b *models.Booking, now time.Time) {
	if b.RentalType == "" {
		b.RentalType = models.RentalStandard
	}
	if b.RentalStage == "" {
		b.RentalStage = models.StageScheduled
	}
	if b.BookingStatus == "" {
		b.BookingStatus = models.BookingPending
	}
	if b.PaymentStatus == "" {
		b.PaymentStatus = models.PaymentPending
	}
	if b.RefundStatus == "" {
		b.RefundStatus = models.RefundNone
	}
	b.Version = 1
	b.CreatedAt = now
	b.UpdatedAt = now
}

func utcPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	NormalizeNewBooking(booking, time.Now().UTC())

	args, err := BookingInsertArgs(booking)
	if err != nil {
		return err
	}

	query := `INSERT INTO bookings (` + insertColumns + `) VALUES (` + placeholders(len(args)) + `)`
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	booking.ID = id
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + BookingColumns + ` FROM bookings WHERE id = ?`
	b, err := ScanBooking(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

// UpdateBookingFields applies the patch only if the row still matches the guard.
func (db *DB) UpdateBookingFields(ctx context.Context, id int64, patch models.BookingPatch, guard models.BookingGuard) error {
	if patch.IsEmpty() {
		return nil
	}

	query, args := BuildBookingUpdate(id, patch, guard, time.Now(), QuestionMark)
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update booking %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists int
	err = db.QueryRowContext(ctx, `SELECT 1 FROM bookings WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrBookingNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check booking %d: %w", id, err)
	}
	return ErrConditionFailed
}

// SetInspection stores the staff return inspection.
func (db *DB) SetInspection(ctx context.Context, id int64, inspection models.ReturnInspection) error {
	raw, err := json.Marshal(inspection)
	if err != nil {
		return fmt.Errorf("encode inspection: %w", err)
	}

	result, err := db.ExecContext(ctx,
		`UPDATE bookings SET inspection = ?, version = version + 1, updated_at = ? WHERE id = ? AND rental_stage <> ?`,
		string(raw), time.Now().UTC(), id, string(models.StageCompleted))
	if err != nil {
		return fmt.Errorf("failed to set inspection: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		if _, err := db.GetBooking(ctx, id); err != nil {
			return err
		}
		return ErrConditionFailed
	}
	return nil
}

// ListOpenBookings returns confirmed bookings that are not yet completed,
// earliest drop first.
func (db *DB) ListOpenBookings(ctx context.Context, limit int) ([]*models.Booking, error) {
	query := `SELECT ` + BookingColumns + ` FROM bookings
              WHERE booking_status = ? AND rental_stage <> ?
              ORDER BY drop_at ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, query,
		string(models.BookingConfirmed), string(models.StageCompleted), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list open bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := ScanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

const insertColumns = `user_id, car_id, driver_id, subscription_id, rental_type,
	pickup_at, drop_at, grace_period_hours,
	rental_stage, booking_status, payment_status,
	per_day_price, total_amount, final_amount, advance_amount, advance_paid,
	covered_hours, coverage_amount,
	hourly_late_rate, late_hours, late_fee,
	remaining_amount, full_payment_amount, full_payment_method, full_payment_at, damage_charge,
	trip_completed, returned_at, completed_at, cancelled_at, inspection,
	refund_status, refund_amount, refund_type, refund_reason, refund_processed_at,
	version, created_at, updated_at`

// BookingInsertColumns lists the columns matching BookingInsertArgs.
func BookingInsertColumns() string {
	return insertColumns
}

func placeholders(n int) string {
	return PlaceholderList(n, QuestionMark)
}

// PlaceholderList renders n comma separated bind parameters.
func PlaceholderList(n int, ph Placeholder) string {
	out := make([]byte, 0, n*4)
	for i := 1; i <= n; i++ {
		if i > 1 {
			out = append(out, ", "...)
		}
		out = append(out, ph(i)...)
	}
	return string(out)
}
