package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"rentalcore/internal/domain"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

var (
	ErrBookingNotFound      = errors.New("booking not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrCustomerNotFound     = errors.New("customer not found")
	ErrHookTaskNotFound     = errors.New("hook task not found")
	// ErrConditionFailed means the row exists but no longer matches the update guard.
	ErrConditionFailed = errors.New("conditional update matched no rows")
)

var _ domain.Store = (*DB)(nil)

// DB is the SQLite store. It embeds *sql.DB so callers can still ping and close it.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	memory := path == ":memory:" || strings.HasPrefix(path, "file::memory:")
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", dsn(path, memory))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// every pooled connection would otherwise get its own empty database
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{DB: sqlDB, path: path, logger: logger}, nil
}

// Path is the file the store was opened from.
func (db *DB) Path() string {
	return db.path
}

func dsn(path string, memory bool) string {
	if memory {
		return path
	}
	return path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id INTEGER NOT NULL,
            car_id INTEGER NOT NULL,
            driver_id INTEGER NOT NULL DEFAULT 0,
            subscription_id INTEGER NOT NULL DEFAULT 0,
            rental_type TEXT NOT NULL DEFAULT 'standard',
            pickup_at DATETIME NOT NULL,
            drop_at DATETIME NOT NULL,
            grace_period_hours REAL NOT NULL DEFAULT 0,
            rental_stage TEXT NOT NULL DEFAULT 'scheduled',
            booking_status TEXT NOT NULL DEFAULT 'pending',
            payment_status TEXT NOT NULL DEFAULT 'pending',
            per_day_price REAL NOT NULL DEFAULT 0,
            total_amount REAL NOT NULL DEFAULT 0,
            final_amount REAL NOT NULL DEFAULT 0,
            advance_amount REAL NOT NULL DEFAULT 0,
            advance_paid REAL NOT NULL DEFAULT 0,
            covered_hours REAL NOT NULL DEFAULT 0,
            coverage_amount REAL NOT NULL DEFAULT 0,
            hourly_late_rate REAL NOT NULL DEFAULT 0,
            late_hours INTEGER NOT NULL DEFAULT 0,
            late_fee REAL NOT NULL DEFAULT 0,
            remaining_amount REAL NOT NULL DEFAULT 0,
            full_payment_amount REAL NOT NULL DEFAULT 0,
            full_payment_method TEXT NOT NULL DEFAULT '',
            full_payment_at DATETIME,
            damage_charge REAL NOT NULL DEFAULT 0,
            trip_completed BOOLEAN NOT NULL DEFAULT 0,
            returned_at DATETIME,
            completed_at DATETIME,
            cancelled_at DATETIME,
            inspection TEXT,
            refund_status TEXT NOT NULL DEFAULT 'none',
            refund_amount REAL NOT NULL DEFAULT 0,
            refund_type TEXT NOT NULL DEFAULT '',
            refund_reason TEXT NOT NULL DEFAULT '',
            refund_processed_at DATETIME,
            version INTEGER NOT NULL DEFAULT 1,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id INTEGER NOT NULL,
            plan_name TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL,
            payment_status TEXT NOT NULL,
            start_date DATETIME NOT NULL,
            end_date DATETIME NOT NULL,
            total_rental_hours REAL NOT NULL DEFAULT 0,
            remaining_rental_hours REAL NOT NULL DEFAULT 0 CHECK (remaining_rental_hours >= 0),
            total_used_hours REAL NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS subscription_usage (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            subscription_id INTEGER NOT NULL REFERENCES subscriptions(id),
            booking_id INTEGER NOT NULL,
            hours_used REAL NOT NULL,
            amount_covered REAL NOT NULL,
            amount_charged REAL NOT NULL,
            recorded_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS customers (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            phone TEXT NOT NULL DEFAULT '',
            telegram_chat_id INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS hook_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            task_type TEXT NOT NULL,
            booking_id INTEGER NOT NULL,
            payload TEXT NOT NULL DEFAULT '{}',
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            next_retry_at DATETIME,
            claimed_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_open ON bookings(booking_status, rental_stage)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_user_id ON bookings(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_user ON subscriptions(user_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_subscription ON subscription_usage(subscription_id, recorded_at)`,
		`CREATE INDEX IF NOT EXISTS idx_hook_queue_status ON hook_queue(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}
