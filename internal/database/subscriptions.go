package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rentalcore/internal/models"
)

const SubscriptionColumns = `id, user_id, plan_name, status, payment_status, start_date, end_date,
	total_rental_hours, remaining_rental_hours, total_used_hours, created_at, updated_at`

func ScanSubscription(row RowScanner) (*models.UserSubscription, error) {
	var s models.UserSubscription
	err := row.Scan(
		&s.ID, &s.UserID, &s.PlanName, &s.Status, &s.PaymentStatus, &s.StartDate, &s.EndDate,
		&s.TotalRentalHours, &s.RemainingRentalHours, &s.TotalUsedHours, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (db *DB) CreateSubscription(ctx context.Context, sub *models.UserSubscription) error {
	now := time.Now().UTC()
	query := `INSERT INTO subscriptions (user_id, plan_name, status, payment_status, start_date, end_date,
	              total_rental_hours, remaining_rental_hours, total_used_hours, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query,
		sub.UserID, sub.PlanName, string(sub.Status), string(sub.PaymentStatus),
		sub.StartDate.UTC(), sub.EndDate.UTC(),
		sub.TotalRentalHours, sub.RemainingRentalHours, sub.TotalUsedHours, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	sub.ID = id
	sub.CreatedAt = now
	sub.UpdatedAt = now
	return nil
}

// GetSubscription loads the subscription together with its usage history, newest first.
func (db *DB) GetSubscription(ctx context.Context, id int64) (*models.UserSubscription, error) {
	query := `SELECT ` + SubscriptionColumns + ` FROM subscriptions WHERE id = ?`
	sub, err := ScanSubscription(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	sub.UsageHistory, err = db.usageHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// GetActiveSubscriptionByUser returns the usable subscription that ends soonest.
func (db *DB) GetActiveSubscriptionByUser(ctx context.Context, userID int64, now time.Time) (*models.UserSubscription, error) {
	query := `SELECT ` + SubscriptionColumns + ` FROM subscriptions
              WHERE user_id = ? AND status = ? AND payment_status = ? AND start_date <= ? AND end_date > ?
              ORDER BY end_date ASC LIMIT 1`
	sub, err := ScanSubscription(db.QueryRowContext(ctx, query,
		userID, string(models.SubscriptionActive), string(models.SubscriptionPaymentPaid), now.UTC(), now.UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active subscription: %w", err)
	}
	return sub, nil
}

// ReserveHours atomically takes hours from the subscription if it is still
// usable at now and has enough left. It reports whether the row matched.
func (db *DB) ReserveHours(ctx context.Context, id int64, hours float64, now time.Time) (bool, error) {
	query := `UPDATE subscriptions
              SET remaining_rental_hours = remaining_rental_hours - ?,
                  total_used_hours = total_used_hours + ?,
                  updated_at = ?
              WHERE id = ? AND status = ? AND payment_status = ?
                AND start_date <= ? AND end_date > ?
                AND remaining_rental_hours >= ?`
	result, err := db.ExecContext(ctx, query,
		hours, hours, now.UTC(),
		id, string(models.SubscriptionActive), string(models.SubscriptionPaymentPaid),
		now.UTC(), now.UTC(), hours,
	)
	if err != nil {
		return false, fmt.Errorf("failed to reserve hours: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return rows == 1, nil
}

// RestoreHours gives hours back after a failed booking. Used hours never go below zero.
func (db *DB) RestoreHours(ctx context.Context, id int64, hours float64) error {
	query := `UPDATE subscriptions
              SET remaining_rental_hours = remaining_rental_hours + ?,
                  total_used_hours = MAX(total_used_hours - ?, 0),
                  updated_at = ?
              WHERE id = ?`
	result, err := db.ExecContext(ctx, query, hours, hours, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to restore hours: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// AppendUsage records a usage entry and prunes history beyond limit.
func (db *DB) AppendUsage(ctx context.Context, id int64, entry models.UsageEntry, limit int) error {
	if limit <= 0 {
		limit = models.DefaultUsageHistoryLimit
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO subscription_usage (subscription_id, booking_id, hours_used, amount_covered, amount_charged, recorded_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		id, entry.BookingID, entry.HoursUsed, entry.AmountCovered, entry.AmountCharged, entry.RecordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM subscription_usage
         WHERE subscription_id = ? AND id NOT IN (
             SELECT id FROM subscription_usage WHERE subscription_id = ?
             ORDER BY recorded_at DESC, id DESC LIMIT ?
         )`,
		id, id, limit,
	)
	if err != nil {
		return fmt.Errorf("failed to prune usage: %w", err)
	}

	return tx.Commit()
}

func (db *DB) usageHistory(ctx context.Context, id int64) ([]models.UsageEntry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT booking_id, hours_used, amount_covered, amount_charged, recorded_at
         FROM subscription_usage WHERE subscription_id = ?
         ORDER BY recorded_at DESC, id DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get usage history: %w", err)
	}
	defer rows.Close()

	var history []models.UsageEntry
	for rows.Next() {
		var e models.UsageEntry
		if err := rows.Scan(&e.BookingID, &e.HoursUsed, &e.AmountCovered, &e.AmountCharged, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		history = append(history, e)
	}
	return history, rows.Err()
}
