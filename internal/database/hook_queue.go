package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rentalcore/internal/models"
)

const HookColumns = `id, task_type, booking_id, payload, status, retry_count, last_error,
	created_at, processed_at, next_retry_at, claimed_at`

func ScanHookTask(row RowScanner) (models.HookTask, error) {
	var t models.HookTask
	err := row.Scan(
		&t.ID, &t.TaskType, &t.BookingID, &t.Payload, &t.Status, &t.RetryCount, &t.LastError,
		&t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt, &t.ClaimedAt,
	)
	return t, err
}

func (db *DB) CreateHookTask(ctx context.Context, task *models.HookTask) error {
	if task.Status == "" {
		task.Status = models.HookStatusPending
	}
	if task.Payload == "" {
		task.Payload = "{}"
	}

	query := `INSERT INTO hook_queue (task_type, booking_id, payload, status, retry_count, last_error, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx, query,
		task.TaskType,
		task.BookingID,
		task.Payload,
		task.Status,
		task.RetryCount,
		task.LastError,
		now,
		utcPtr(task.NextRetryAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create hook task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = now

	return nil
}

func (db *DB) GetHookTask(ctx context.Context, id int64) (*models.HookTask, error) {
	t, err := ScanHookTask(db.QueryRowContext(ctx, `SELECT `+HookColumns+` FROM hook_queue WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrHookTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hook task: %w", err)
	}
	return &t, nil
}

// GetPendingHookTasks returns due tasks, plus processing tasks whose claim is
// older than staleAfter (their worker most likely died).
func (db *DB) GetPendingHookTasks(ctx context.Context, limit int, staleAfter time.Duration) ([]models.HookTask, error) {
	now := time.Now().UTC()
	query := `SELECT ` + HookColumns + `
              FROM hook_queue
              WHERE (status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?))
                 OR (status = ? AND claimed_at <= ?)
              ORDER BY created_at ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, query,
		models.HookStatusPending, models.HookStatusRetry, now,
		models.HookStatusProcessing, now.Add(-staleAfter),
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending hook tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.HookTask
	for rows.Next() {
		t, err := ScanHookTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan hook task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ClaimHookTask marks a task as processing. It returns false when another
// worker got there first or the task is already done.
func (db *DB) ClaimHookTask(ctx context.Context, id int64, staleAfter time.Duration) (bool, error) {
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx,
		`UPDATE hook_queue SET status = ?, claimed_at = ?
         WHERE id = ? AND (status IN (?, ?) OR (status = ? AND claimed_at <= ?))`,
		models.HookStatusProcessing, now,
		id, models.HookStatusPending, models.HookStatusRetry,
		models.HookStatusProcessing, now.Add(-staleAfter),
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim hook task: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return rows == 1, nil
}

func (db *DB) UpdateHookTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var query string
	var args []interface{}
	now := time.Now().UTC()

	var lastErr interface{}
	if errMsg != "" {
		lastErr = errMsg
	}

	switch status {
	case models.HookStatusRetry:
		query = `UPDATE hook_queue SET status = ?, last_error = ?, next_retry_at = ?, claimed_at = NULL, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{status, lastErr, utcPtr(nextRetryAt), id}
	case models.HookStatusCompleted, models.HookStatusFailed:
		query = `UPDATE hook_queue SET status = ?, last_error = ?, next_retry_at = NULL, processed_at = ? WHERE id = ?`
		args = []interface{}{status, lastErr, now, id}
	default:
		query = `UPDATE hook_queue SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []interface{}{status, lastErr, utcPtr(nextRetryAt), id}
	}

	_, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update hook task status: %w", err)
	}
	return nil
}

func (db *DB) GetFailedHookTasks(ctx context.Context) ([]models.HookTask, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+HookColumns+` FROM hook_queue WHERE status = ? ORDER BY created_at DESC`,
		models.HookStatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed hook tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.HookTask
	for rows.Next() {
		t, err := ScanHookTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan hook task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
