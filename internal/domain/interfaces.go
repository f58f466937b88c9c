package domain

import (
	"context"
	"time"

	"rentalcore/internal/models"
)

type BookingRepository interface {
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	CreateBooking(ctx context.Context, booking *models.Booking) error
	UpdateBookingFields(ctx context.Context, id int64, patch models.BookingPatch, guard models.BookingGuard) error
	SetInspection(ctx context.Context, id int64, inspection models.ReturnInspection) error
	ListOpenBookings(ctx context.Context, limit int) ([]*models.Booking, error)
}

type SubscriptionRepository interface {
	GetSubscription(ctx context.Context, id int64) (*models.UserSubscription, error)
	GetActiveSubscriptionByUser(ctx context.Context, userID int64, now time.Time) (*models.UserSubscription, error)
	ReserveHours(ctx context.Context, id int64, hours float64, now time.Time) (bool, error)
	RestoreHours(ctx context.Context, id int64, hours float64) error
	AppendUsage(ctx context.Context, id int64, entry models.UsageEntry, limit int) error
}

type CustomerRepository interface {
	GetCustomer(ctx context.Context, id int64) (*models.Customer, error)
	UpsertCustomer(ctx context.Context, c *models.Customer) error
}

// HookStore is the durable side of the hook task queue.
type HookStore interface {
	CreateHookTask(ctx context.Context, task *models.HookTask) error
	GetHookTask(ctx context.Context, id int64) (*models.HookTask, error)
	GetPendingHookTasks(ctx context.Context, limit int, staleAfter time.Duration) ([]models.HookTask, error)
	ClaimHookTask(ctx context.Context, id int64, staleAfter time.Duration) (bool, error)
	UpdateHookTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
	GetFailedHookTasks(ctx context.Context) ([]models.HookTask, error)
}

// Store is everything a storage backend provides. Both the SQLite and the
// PostgreSQL stores satisfy it.
type Store interface {
	BookingRepository
	SubscriptionRepository
	CustomerRepository
	HookStore
	CreateSubscription(ctx context.Context, sub *models.UserSubscription) error
	Close() error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// LeaseRepository hands out short exclusive leases keyed by name.
type LeaseRepository interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
}

type HookQueue interface {
	EnqueueTask(ctx context.Context, taskType string, bookingID int64, payload interface{}) error
}

type FleetReleaser interface {
	ReleaseCar(ctx context.Context, carID int64) error
}

type DriverReleaser interface {
	ReleaseDriver(ctx context.Context, driverID int64) error
}

type DocumentGenerator interface {
	SettlementStatement(ctx context.Context, booking *models.Booking) (string, error)
	RefundStatement(ctx context.Context, booking *models.Booking) (string, error)
}

type Notifier interface {
	NotifySettlement(ctx context.Context, booking *models.Booking) error
	NotifyRefund(ctx context.Context, booking *models.Booking) error
}

type LedgerWriter interface {
	UpsertSettlement(ctx context.Context, booking *models.Booking) error
	UpsertRefund(ctx context.Context, booking *models.Booking) error
}
