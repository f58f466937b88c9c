package service

import (
	"context"
	"io"
	"time"

	"rentalcore/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
)

func nopLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

type mockBookingRepo struct {
	mock.Mock
}

func (m *mockBookingRepo) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	// hand out a copy so tests can compare against the original
	b := *args.Get(0).(*models.Booking)
	return &b, args.Error(1)
}

func (m *mockBookingRepo) CreateBooking(ctx context.Context, b *models.Booking) error {
	return m.Called(ctx, b).Error(0)
}

func (m *mockBookingRepo) UpdateBookingFields(ctx context.Context, id int64, p models.BookingPatch, g models.BookingGuard) error {
	return m.Called(ctx, id, p, g).Error(0)
}

func (m *mockBookingRepo) SetInspection(ctx context.Context, id int64, i models.ReturnInspection) error {
	return m.Called(ctx, id, i).Error(0)
}

func (m *mockBookingRepo) ListOpenBookings(ctx context.Context, limit int) ([]*models.Booking, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}

type mockSubscriptionRepo struct {
	mock.Mock
}

func (m *mockSubscriptionRepo) GetSubscription(ctx context.Context, id int64) (*models.UserSubscription, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	s := *args.Get(0).(*models.UserSubscription)
	return &s, args.Error(1)
}

func (m *mockSubscriptionRepo) GetActiveSubscriptionByUser(ctx context.Context, userID int64, now time.Time) (*models.UserSubscription, error) {
	args := m.Called(ctx, userID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	s := *args.Get(0).(*models.UserSubscription)
	return &s, args.Error(1)
}

func (m *mockSubscriptionRepo) ReserveHours(ctx context.Context, id int64, hours float64, now time.Time) (bool, error) {
	args := m.Called(ctx, id, hours, now)
	return args.Bool(0), args.Error(1)
}

func (m *mockSubscriptionRepo) RestoreHours(ctx context.Context, id int64, hours float64) error {
	return m.Called(ctx, id, hours).Error(0)
}

func (m *mockSubscriptionRepo) AppendUsage(ctx context.Context, id int64, e models.UsageEntry, limit int) error {
	return m.Called(ctx, id, e, limit).Error(0)
}

type mockLeases struct {
	mock.Mock
}

func (m *mockLeases) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, owner, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *mockLeases) Release(ctx context.Context, key, owner string) error {
	return m.Called(ctx, key, owner).Error(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishJSON(eventType string, payload interface{}) error {
	return m.Called(eventType, payload).Error(0)
}
