package models

import "time"

const (
	HookStatusPending    = "pending"
	HookStatusRetry      = "retry"
	HookStatusProcessing = "processing"
	HookStatusCompleted  = "completed"
	HookStatusFailed     = "failed"
)

// HookTask is a queued best-effort side effect of a committed booking change.
type HookTask struct {
	ID          int64      `json:"id"`
	TaskType    string     `json:"task_type"`
	BookingID   int64      `json:"booking_id"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   *string    `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
	NextRetryAt *time.Time `json:"next_retry_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
}
