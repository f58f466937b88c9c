// Package postgres is the PostgreSQL implementation of the booking,
// subscription, customer and hook-queue stores.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"rentalcore/internal/config"
	"rentalcore/internal/database"
	"rentalcore/internal/domain"
	"rentalcore/internal/models"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// retryDelays are the waits between attempts on serialization failures and deadlocks.
var retryDelays = []time.Duration{50 * time.Millisecond, 200 * time.Millisecond, 500 * time.Millisecond}

var _ domain.Store = (*Store)(nil)

type Store struct {
	pool   *pgxpool.Pool
	logger *zerolog.Logger
}

// NewStore connects, pings and migrates.
func NewStore(ctx context.Context, cfg config.PostgresConfig, logger *zerolog.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{pool: pool, logger: logger}
	if err := s.migrate(connectCtx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info().Int32("max_conns", poolCfg.MaxConns).Msg("postgres store initialized")
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i <= len(retryDelays); i++ {
		err = fn()
		if err == nil || !retryable(err) || i == len(retryDelays) {
			return err
		}

		s.logger.Debug().Err(err).Int("attempt", i+1).Msg("retrying postgres statement")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelays[i]):
		}
	}
	return err
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "broken pipe")
}

// Bookings

func (s *Store) CreateBooking(ctx context.Context, booking *models.Booking) error {
	database.NormalizeNewBooking(booking, time.Now().UTC())

	args, err := database.BookingInsertArgs(booking)
	if err != nil {
		return err
	}

	query := `INSERT INTO bookings (` + database.BookingInsertColumns() + `) VALUES (` +
		database.PlaceholderList(len(args), database.Dollar) + `) RETURNING id`
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&booking.ID); err != nil {
		return fmt.Errorf("create booking: %w", err)
	}
	return nil
}

func (s *Store) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	b, err := database.ScanBooking(s.pool.QueryRow(ctx,
		`SELECT `+database.BookingColumns+` FROM bookings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, database.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

func (s *Store) UpdateBookingFields(ctx context.Context, id int64, patch models.BookingPatch, guard models.BookingGuard) error {
	if patch.IsEmpty() {
		return nil
	}

	query, args := database.BuildBookingUpdate(id, patch, guard, time.Now(), database.Dollar)

	var affected int64
	err := s.withRetry(ctx, func() error {
		tag, err := s.pool.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("update booking %d: %w", id, err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM bookings WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check booking %d: %w", id, err)
	}
	if !exists {
		return database.ErrBookingNotFound
	}
	return database.ErrConditionFailed
}

func (s *Store) SetInspection(ctx context.Context, id int64, inspection models.ReturnInspection) error {
	raw, err := json.Marshal(inspection)
	if err != nil {
		return fmt.Errorf("encode inspection: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE bookings SET inspection = $1, version = version + 1, updated_at = $2 WHERE id = $3 AND rental_stage <> $4`,
		string(raw), time.Now().UTC(), id, string(models.StageCompleted))
	if err != nil {
		return fmt.Errorf("set inspection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetBooking(ctx, id); err != nil {
			return err
		}
		return database.ErrConditionFailed
	}
	return nil
}

func (s *Store) ListOpenBookings(ctx context.Context, limit int) ([]*models.Booking, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+database.BookingColumns+` FROM bookings
         WHERE booking_status = $1 AND rental_stage <> $2
         ORDER BY drop_at ASC LIMIT $3`,
		string(models.BookingConfirmed), string(models.StageCompleted), limit)
	if err != nil {
		return nil, fmt.Errorf("list open bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := database.ScanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// Subscriptions

func (s *Store) CreateSubscription(ctx context.Context, sub *models.UserSubscription) error {
	now := time.Now().UTC()
	err := s.pool.QueryRow(ctx,
		`INSERT INTO subscriptions (user_id, plan_name, status, payment_status, start_date, end_date,
             total_rental_hours, remaining_rental_hours, total_used_hours, created_at, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10) RETURNING id`,
		sub.UserID, sub.PlanName, string(sub.Status), string(sub.PaymentStatus),
		sub.StartDate.UTC(), sub.EndDate.UTC(),
		sub.TotalRentalHours, sub.RemainingRentalHours, sub.TotalUsedHours, now,
	).Scan(&sub.ID)
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	sub.CreatedAt = now
	sub.UpdatedAt = now
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, id int64) (*models.UserSubscription, error) {
	sub, err := database.ScanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+database.SubscriptionColumns+` FROM subscriptions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, database.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT booking_id, hours_used, amount_covered, amount_charged, recorded_at
         FROM subscription_usage WHERE subscription_id = $1
         ORDER BY recorded_at DESC, id DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("get usage history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e models.UsageEntry
		if err := rows.Scan(&e.BookingID, &e.HoursUsed, &e.AmountCovered, &e.AmountCharged, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		sub.UsageHistory = append(sub.UsageHistory, e)
	}
	return sub, rows.Err()
}

func (s *Store) GetActiveSubscriptionByUser(ctx context.Context, userID int64, now time.Time) (*models.UserSubscription, error) {
	sub, err := database.ScanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+database.SubscriptionColumns+` FROM subscriptions
         WHERE user_id = $1 AND status = $2 AND payment_status = $3 AND start_date <= $4 AND end_date > $4
         ORDER BY end_date ASC LIMIT 1`,
		userID, string(models.SubscriptionActive), string(models.SubscriptionPaymentPaid), now.UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, database.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active subscription: %w", err)
	}
	return sub, nil
}

func (s *Store) ReserveHours(ctx context.Context, id int64, hours float64, now time.Time) (bool, error) {
	var affected int64
	err := s.withRetry(ctx, func() error {
		tag, err := s.pool.Exec(ctx,
			`UPDATE subscriptions
             SET remaining_rental_hours = remaining_rental_hours - $1,
                 total_used_hours = total_used_hours + $1,
                 updated_at = $2
             WHERE id = $3 AND status = $4 AND payment_status = $5
               AND start_date <= $2 AND end_date > $2
               AND remaining_rental_hours >= $1`,
			hours, now.UTC(), id, string(models.SubscriptionActive), string(models.SubscriptionPaymentPaid))
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("reserve hours: %w", err)
	}
	return affected == 1, nil
}

func (s *Store) RestoreHours(ctx context.Context, id int64, hours float64) error {
	var affected int64
	err := s.withRetry(ctx, func() error {
		tag, err := s.pool.Exec(ctx,
			`UPDATE subscriptions
             SET remaining_rental_hours = remaining_rental_hours + $1,
                 total_used_hours = GREATEST(total_used_hours - $1, 0),
                 updated_at = $2
             WHERE id = $3`,
			hours, time.Now().UTC(), id)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("restore hours: %w", err)
	}
	if affected == 0 {
		return database.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) AppendUsage(ctx context.Context, id int64, entry models.UsageEntry, limit int) error {
	if limit <= 0 {
		limit = models.DefaultUsageHistoryLimit
	}

	return s.withRetry(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		_, err = tx.Exec(ctx,
			`INSERT INTO subscription_usage (subscription_id, booking_id, hours_used, amount_covered, amount_charged, recorded_at)
             VALUES ($1, $2, $3, $4, $5, $6)`,
			id, entry.BookingID, entry.HoursUsed, entry.AmountCovered, entry.AmountCharged, entry.RecordedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert usage: %w", err)
		}

		_, err = tx.Exec(ctx,
			`DELETE FROM subscription_usage
             WHERE subscription_id = $1 AND id NOT IN (
                 SELECT id FROM subscription_usage WHERE subscription_id = $1
                 ORDER BY recorded_at DESC, id DESC LIMIT $2
             )`,
			id, limit)
		if err != nil {
			return fmt.Errorf("prune usage: %w", err)
		}

		return tx.Commit(ctx)
	})
}

// Customers

func (s *Store) UpsertCustomer(ctx context.Context, c *models.Customer) error {
	now := time.Now().UTC()
	if c.ID == 0 {
		err := s.pool.QueryRow(ctx,
			`INSERT INTO customers (name, phone, telegram_chat_id, created_at, updated_at)
             VALUES ($1, $2, $3, $4, $4) RETURNING id`,
			c.Name, c.Phone, c.TelegramChatID, now).Scan(&c.ID)
		if err != nil {
			return fmt.Errorf("create customer: %w", err)
		}
		c.CreatedAt = now
		c.UpdatedAt = now
		return nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE customers SET name = $1, phone = $2, telegram_chat_id = $3, updated_at = $4 WHERE id = $5`,
		c.Name, c.Phone, c.TelegramChatID, now, c.ID)
	if err != nil {
		return fmt.Errorf("update customer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return database.ErrCustomerNotFound
	}
	c.UpdatedAt = now
	return nil
}

func (s *Store) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	var c models.Customer
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, phone, telegram_chat_id, created_at, updated_at FROM customers WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.Phone, &c.TelegramChatID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, database.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return &c, nil
}

// Hook queue

func (s *Store) CreateHookTask(ctx context.Context, task *models.HookTask) error {
	if task.Status == "" {
		task.Status = models.HookStatusPending
	}
	if task.Payload == "" {
		task.Payload = "{}"
	}

	now := time.Now().UTC()
	err := s.pool.QueryRow(ctx,
		`INSERT INTO hook_queue (task_type, booking_id, payload, status, retry_count, last_error, created_at, next_retry_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		task.TaskType, task.BookingID, task.Payload, task.Status, task.RetryCount, task.LastError, now, task.NextRetryAt,
	).Scan(&task.ID)
	if err != nil {
		return fmt.Errorf("create hook task: %w", err)
	}
	task.CreatedAt = now
	return nil
}

func (s *Store) GetHookTask(ctx context.Context, id int64) (*models.HookTask, error) {
	t, err := database.ScanHookTask(s.pool.QueryRow(ctx,
		`SELECT `+database.HookColumns+` FROM hook_queue WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, database.ErrHookTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get hook task: %w", err)
	}
	return &t, nil
}

func (s *Store) GetPendingHookTasks(ctx context.Context, limit int, staleAfter time.Duration) ([]models.HookTask, error) {
	now := time.Now().UTC()
	rows, err := s.pool.Query(ctx,
		`SELECT `+database.HookColumns+` FROM hook_queue
         WHERE (status IN ($1, $2) AND (next_retry_at IS NULL OR next_retry_at <= $3))
            OR (status = $4 AND claimed_at <= $5)
         ORDER BY created_at ASC LIMIT $6`,
		models.HookStatusPending, models.HookStatusRetry, now,
		models.HookStatusProcessing, now.Add(-staleAfter), limit)
	if err != nil {
		return nil, fmt.Errorf("get pending hook tasks: %w", err)
	}
	return collectHookTasks(rows)
}

func (s *Store) ClaimHookTask(ctx context.Context, id int64, staleAfter time.Duration) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE hook_queue SET status = $1, claimed_at = $2
         WHERE id = $3 AND (status IN ($4, $5) OR (status = $1 AND claimed_at <= $6))`,
		models.HookStatusProcessing, now, id,
		models.HookStatusPending, models.HookStatusRetry, now.Add(-staleAfter))
	if err != nil {
		return false, fmt.Errorf("claim hook task: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) UpdateHookTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var lastErr *string
	if errMsg != "" {
		lastErr = &errMsg
	}

	var err error
	switch status {
	case models.HookStatusRetry:
		_, err = s.pool.Exec(ctx,
			`UPDATE hook_queue SET status = $1, last_error = $2, next_retry_at = $3, claimed_at = NULL,
                 retry_count = retry_count + 1 WHERE id = $4`,
			status, lastErr, nextRetryAt, id)
	case models.HookStatusCompleted, models.HookStatusFailed:
		_, err = s.pool.Exec(ctx,
			`UPDATE hook_queue SET status = $1, last_error = $2, next_retry_at = NULL, processed_at = $3 WHERE id = $4`,
			status, lastErr, time.Now().UTC(), id)
	default:
		_, err = s.pool.Exec(ctx,
			`UPDATE hook_queue SET status = $1, last_error = $2, next_retry_at = $3 WHERE id = $4`,
			status, lastErr, nextRetryAt, id)
	}
	if err != nil {
		return fmt.Errorf("update hook task status: %w", err)
	}
	return nil
}

func (s *Store) GetFailedHookTasks(ctx context.Context) ([]models.HookTask, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+database.HookColumns+` FROM hook_queue WHERE status = $1 ORDER BY created_at DESC`,
		models.HookStatusFailed)
	if err != nil {
		return nil, fmt.Errorf("get failed hook tasks: %w", err)
	}
	return collectHookTasks(rows)
}

func collectHookTasks(rows pgx.Rows) ([]models.HookTask, error) {
	defer rows.Close()

	var tasks []models.HookTask
	for rows.Next() {
		t, err := database.ScanHookTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan hook task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
