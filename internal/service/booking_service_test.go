package service

import (
	"context"
	"testing"
	"time"

	"rentalcore/internal/database"
	"rentalcore/internal/domain"
	"rentalcore/internal/events"
	"rentalcore/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func subscriptionDraft() BookingDraft {
	return BookingDraft{
		UserID:         1,
		CarID:          3,
		SubscriptionID: 11,
		RentalType:     models.RentalSubscription,
		PickupAt:       subNow.Add(time.Hour),
		DropAt:         subNow.Add(6 * time.Hour),
		PerDayPrice:    4800,
		TotalAmount:    1000,
	}
}

func TestBookingService_CreateBooking(t *testing.T) {
	ctx := context.Background()

	t.Run("SubscriptionCoverageIsCharged", func(t *testing.T) {
		repo := new(mockBookingRepo)
		subs := new(mockSubscriptionRepo)
		bus := new(mockPublisher)
		svc := NewBookingService(repo, NewReservationService(subs, 3, 20, nopLogger()), bus, nopLogger())

		subs.On("GetSubscription", ctx, int64(11)).Return(activeSubscription(2), nil).Once()
		subs.On("ReserveHours", ctx, int64(11), 2.0, subNow).Return(true, nil).Once()
		repo.On("CreateBooking", ctx, mock.MatchedBy(func(b *models.Booking) bool {
			return b.SubscriptionID == 11 &&
				b.CoveredHours == 2 &&
				b.CoverageAmount == 400 &&
				b.FinalAmount == 600 &&
				b.RemainingAmount == 600 &&
				b.RentalStage == models.StageScheduled &&
				b.BookingStatus == models.BookingConfirmed
		})).Run(func(args mock.Arguments) {
			args.Get(1).(*models.Booking).ID = 42
		}).Return(nil).Once()
		subs.On("AppendUsage", ctx, int64(11), mock.MatchedBy(func(e models.UsageEntry) bool {
			return e.BookingID == 42 && e.HoursUsed == 2 && e.AmountCharged == 600
		}), 20).Return(nil).Once()
		bus.On("PublishJSON", events.EventBookingCreated, mock.Anything).Return(nil).Once()

		b, err := svc.CreateBooking(ctx, subscriptionDraft(), subNow)
		require.NoError(t, err)
		assert.Equal(t, int64(42), b.ID)
		subs.AssertExpectations(t)
		repo.AssertExpectations(t)
		bus.AssertExpectations(t)
	})

	t.Run("PersistFailureRollsBack", func(t *testing.T) {
		repo := new(mockBookingRepo)
		subs := new(mockSubscriptionRepo)
		svc := NewBookingService(repo, NewReservationService(subs, 3, 20, nopLogger()), nil, nopLogger())

		subs.On("GetSubscription", ctx, int64(11)).Return(activeSubscription(8), nil).Once()
		subs.On("ReserveHours", ctx, int64(11), 5.0, subNow).Return(true, nil).Once()
		repo.On("CreateBooking", ctx, mock.Anything).Return(assert.AnError).Once()
		subs.On("RestoreHours", ctx, int64(11), 5.0).Return(nil).Once()

		_, err := svc.CreateBooking(ctx, subscriptionDraft(), subNow)
		assert.ErrorIs(t, err, assert.AnError)
		subs.AssertExpectations(t)
		subs.AssertNotCalled(t, "AppendUsage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("ReservationFailureBlocksBooking", func(t *testing.T) {
		repo := new(mockBookingRepo)
		subs := new(mockSubscriptionRepo)
		svc := NewBookingService(repo, NewReservationService(subs, 1, 20, nopLogger()), nil, nopLogger())

		subs.On("GetSubscription", ctx, int64(11)).Return(activeSubscription(8), nil).Once()
		subs.On("ReserveHours", ctx, int64(11), 5.0, subNow).Return(false, nil).Once()

		_, err := svc.CreateBooking(ctx, subscriptionDraft(), subNow)
		assert.ErrorIs(t, err, domain.ErrReservationConflict)
		repo.AssertNotCalled(t, "CreateBooking", mock.Anything, mock.Anything)
	})

	t.Run("UsageFailureKeepsBooking", func(t *testing.T) {
		repo := new(mockBookingRepo)
		subs := new(mockSubscriptionRepo)
		svc := NewBookingService(repo, NewReservationService(subs, 3, 20, nopLogger()), nil, nopLogger())

		subs.On("GetSubscription", ctx, int64(11)).Return(activeSubscription(8), nil).Once()
		subs.On("ReserveHours", ctx, int64(11), 5.0, subNow).Return(true, nil).Once()
		repo.On("CreateBooking", ctx, mock.Anything).Return(nil).Once()
		subs.On("AppendUsage", ctx, int64(11), mock.Anything, 20).Return(assert.AnError).Once()

		b, err := svc.CreateBooking(ctx, subscriptionDraft(), subNow)
		require.NoError(t, err)
		assert.Equal(t, 0.0, b.RemainingAmount)
	})

	t.Run("StandardRentalSkipsReservation", func(t *testing.T) {
		repo := new(mockBookingRepo)
		subs := new(mockSubscriptionRepo)
		svc := NewBookingService(repo, NewReservationService(subs, 3, 20, nopLogger()), nil, nopLogger())

		draft := subscriptionDraft()
		draft.RentalType = ""
		draft.AdvancePaid = 300
		repo.On("CreateBooking", ctx, mock.MatchedBy(func(b *models.Booking) bool {
			return b.RentalType == models.RentalStandard &&
				b.PaymentStatus == models.PaymentPartiallyPaid &&
				b.RemainingAmount == 700
		})).Return(nil).Once()

		_, err := svc.CreateBooking(ctx, draft, subNow)
		require.NoError(t, err)
		subs.AssertNotCalled(t, "GetSubscription", mock.Anything, mock.Anything)
	})

	t.Run("InvalidDraft", func(t *testing.T) {
		svc := NewBookingService(new(mockBookingRepo), nil, nil, nopLogger())

		draft := subscriptionDraft()
		draft.DropAt = draft.PickupAt
		_, err := svc.CreateBooking(ctx, draft, subNow)
		assert.ErrorIs(t, err, domain.ErrInvalidBooking)

		draft = subscriptionDraft()
		draft.RentalType = "lease"
		_, err = svc.CreateBooking(ctx, draft, subNow)
		assert.ErrorIs(t, err, domain.ErrInvalidBooking)
	})
}

func TestBookingService_RecordInspection(t *testing.T) {
	ctx := context.Background()
	repo := new(mockBookingRepo)
	svc := NewBookingService(repo, nil, nil, nopLogger())

	now := pickup.Add(30 * time.Hour)
	repo.On("SetInspection", ctx, int64(7), mock.MatchedBy(func(i models.ReturnInspection) bool {
		return i.Locked && i.InspectedAt != nil && i.InspectedAt.Equal(now)
	})).Return(nil).Once()
	repo.On("GetBooking", ctx, int64(7)).Return(returnedBooking(), nil).Once()

	_, err := svc.RecordInspection(ctx, 7, models.ReturnInspection{Locked: true, DamageFound: true, DamageCost: 300}, now)
	require.NoError(t, err)

	repo.On("SetInspection", ctx, int64(8), mock.Anything).Return(database.ErrConditionFailed).Once()
	_, err = svc.RecordInspection(ctx, 8, models.ReturnInspection{Locked: true}, now)
	assert.ErrorIs(t, err, domain.ErrAlreadyCompleted)

	_, err = svc.RecordInspection(ctx, 9, models.ReturnInspection{DamageCost: -1}, now)
	assert.ErrorIs(t, err, domain.ErrInvalidBooking)
}

func TestBookingService_CancelBooking(t *testing.T) {
	ctx := context.Background()
	now := pickup.Add(-2 * time.Hour)

	t.Run("Cancels", func(t *testing.T) {
		repo := new(mockBookingRepo)
		svc := NewBookingService(repo, nil, nil, nopLogger())

		b := confirmedBooking()
		repo.On("GetBooking", ctx, b.ID).Return(b, nil).Once()
		repo.On("UpdateBookingFields", ctx, b.ID, models.BookingPatch{
			BookingStatus: models.Ptr(models.BookingCancelled),
			CancelledAt:   models.Ptr(now),
		}, mock.Anything).Return(nil).Once()

		got, err := svc.CancelBooking(ctx, b.ID, now)
		require.NoError(t, err)
		assert.Equal(t, models.BookingCancelled, got.BookingStatus)
		require.NotNil(t, got.CancelledAt)
		assert.True(t, got.CancelledAt.Before(got.PickupAt))
	})

	t.Run("CompletedCannotBeCancelled", func(t *testing.T) {
		repo := new(mockBookingRepo)
		svc := NewBookingService(repo, nil, nil, nopLogger())

		b := settledBooking()
		repo.On("GetBooking", ctx, b.ID).Return(b, nil).Once()

		_, err := svc.CancelBooking(ctx, b.ID, now)
		assert.ErrorIs(t, err, domain.ErrAlreadyCompleted)
	})
}
