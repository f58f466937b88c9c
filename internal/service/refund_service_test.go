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

func cancelledEarly() *models.Booking {
	b := confirmedBooking()
	cancelled := pickup.Add(-24 * time.Hour)
	b.BookingStatus = models.BookingCancelled
	b.CancelledAt = &cancelled
	return b
}

func settledBooking() *models.Booking {
	b := returnedBooking()
	completed := b.DropAt.Add(2 * time.Hour)
	b.RentalStage = models.StageCompleted
	b.BookingStatus = models.BookingCompleted
	b.PaymentStatus = models.PaymentFullyPaid
	b.FullPaymentAmount = 2150
	b.DamageCharge = 300
	b.CompletedAt = &completed
	b.RemainingAmount = 0
	return b
}

func newRefundService(repo *mockBookingRepo, bus *mockPublisher) (*RefundService, *mockLeases) {
	leases := new(mockLeases)
	leases.On("Acquire", mock.Anything, mock.AnythingOfType("string"), mock.AnythingOfType("string"), 30*time.Second).Return(true, nil).Maybe()
	leases.On("Release", mock.Anything, mock.AnythingOfType("string"), mock.AnythingOfType("string")).Return(nil).Maybe()

	var publisher domain.EventPublisher
	if bus != nil {
		publisher = bus
	}
	return NewRefundService(repo, leases, publisher, 0, nopLogger()), leases
}

func TestRefundService_FullRefund(t *testing.T) {
	ctx := context.Background()
	now := pickup.Add(-12 * time.Hour)

	t.Run("Quote", func(t *testing.T) {
		repo := new(mockBookingRepo)
		svc, _ := newRefundService(repo, nil)

		b := cancelledEarly()
		repo.On("GetBooking", ctx, b.ID).Return(b, nil).Once()

		q, err := svc.Quote(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RefundFull, q.Type)
		assert.Equal(t, 1000.0, q.Amount)
	})

	t.Run("ManualAmountRejected", func(t *testing.T) {
		repo := new(mockBookingRepo)
		svc, _ := newRefundService(repo, nil)

		b := cancelledEarly()
		repo.On("GetBooking", ctx, b.ID).Return(b, nil).Once()

		_, err := svc.Process(ctx, b.ID, RefundRequest{Amount: 800}, now)
		assert.ErrorIs(t, err, domain.ErrRefundAmountMismatch)
		repo.AssertNotCalled(t, "UpdateBookingFields", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("AppliesEntitlement", func(t *testing.T) {
		repo := new(mockBookingRepo)
		bus := new(mockPublisher)
		svc, leases := newRefundService(repo, bus)

		b := cancelledEarly()
		repo.On("GetBooking", ctx, b.ID).Return(b, nil).Once()
		repo.On("UpdateBookingFields", ctx, b.ID, mock.MatchedBy(func(p models.BookingPatch) bool {
			return *p.RefundAmount == 1000 &&
				*p.RefundType == models.RefundFull &&
				*p.RefundStatus == models.RefundProcessed &&
				*p.PaymentStatus == models.PaymentRefunded &&
				*p.AdvancePaid == 0 &&
				*p.FullPaymentAmount == 0 &&
				*p.RemainingAmount == 0
		}), models.BookingGuard{
			Statuses:           []models.BookingStatus{models.BookingCancelled, models.BookingCompleted},
			RefundNotProcessed: true,
			Version:            b.Version,
		}).Return(nil).Once()
		bus.On("PublishJSON", events.EventRefundProcessed, mock.Anything).Return(nil).Once()

		got, err := svc.Process(ctx, b.ID, RefundRequest{Amount: 1000}, now)
		require.NoError(t, err)
		assert.Equal(t, models.RefundProcessed, got.RefundStatus)
		assert.Equal(t, models.PaymentRefunded, got.PaymentStatus)
		leases.AssertCalled(t, "Acquire", mock.Anything, "refund:7", mock.AnythingOfType("string"), 30*time.Second)
		leases.AssertCalled(t, "Release", mock.Anything, "refund:7", mock.AnythingOfType("string"))
		repo.AssertExpectations(t)
		bus.AssertExpectations(t)
	})
}

func TestRefundService_PartialRefund(t *testing.T) {
	ctx := context.Background()
	now := pickup.Add(72 * time.Hour)

	t.Run("DrainsFullPaymentFirst", func(t *testing.T) {
		repo := new(mockBookingRepo)
		svc, _ := newRefundService(repo, nil)

		b := settledBooking()
		repo.On("GetBooking", ctx, b.ID).Return(b, nil).Once()
		repo.On("UpdateBookingFields", ctx, b.ID, mock.MatchedBy(func(p models.BookingPatch) bool {
			return *p.RefundAmount == 500 &&
				*p.RefundType == models.RefundPartial &&
				*p.FullPaymentAmount == 1650 &&
				*p.AdvancePaid == 1000 &&
				*p.PaymentStatus == models.PaymentFullyPaid &&
				*p.RefundReason == "scratch was pre-existing"
		}), mock.Anything).Return(nil).Once()

		_, err := svc.Process(ctx, b.ID, RefundRequest{Amount: 500, Reason: " scratch was pre-existing "}, now)
		require.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("CeilingExcludesDamage", func(t *testing.T) {
		repo := new(mockBookingRepo)
		svc, _ := newRefundService(repo, nil)

		b := settledBooking()
		repo.On("GetBooking", ctx, b.ID).Return(b, nil).Twice()

		q, err := svc.Quote(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, 3150.0, q.TotalPaid)
		assert.Equal(t, 2850.0, q.Ceiling)

		_, err = svc.Process(ctx, b.ID, RefundRequest{Amount: 2850.01}, now)
		assert.ErrorIs(t, err, domain.ErrRefundAmountInvalid)
	})

	t.Run("SpillsIntoAdvance", func(t *testing.T) {
		repo := new(mockBookingRepo)
		svc, _ := newRefundService(repo, nil)

		b := settledBooking()
		repo.On("GetBooking", ctx, b.ID).Return(b, nil).Once()
		repo.On("UpdateBookingFields", ctx, b.ID, mock.MatchedBy(func(p models.BookingPatch) bool {
			return *p.FullPaymentAmount == 0 && *p.AdvancePaid == 300 && *p.PaymentStatus == models.PaymentFullyPaid
		}), mock.Anything).Return(nil).Once()

		_, err := svc.Process(ctx, b.ID, RefundRequest{Amount: 2850}, now)
		require.NoError(t, err)
		repo.AssertExpectations(t)
	})
}

func TestRefundService_Eligibility(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(b *models.Booking)
		want   error
	}{
		{"ConfirmedBooking", func(b *models.Booking) { b.BookingStatus = models.BookingConfirmed }, domain.ErrRefundNotEligible},
		{"UnpaidBooking", func(b *models.Booking) { b.PaymentStatus = models.PaymentPending }, domain.ErrRefundNotEligible},
		{"AlreadyProcessed", func(b *models.Booking) { b.RefundStatus = models.RefundProcessed }, domain.ErrRefundAlreadyProcessed},
		{"NothingPaid", func(b *models.Booking) {
			b.AdvancePaid = 0
			b.AdvanceAmount = 0
			b.FullPaymentAmount = 0
		}, domain.ErrRefundNothingPaid},
		{"DamageEatsEverything", func(b *models.Booking) { b.DamageCharge = 3150 }, domain.ErrRefundNoCeiling},
		{"LateFeeForfeits", func(b *models.Booking) {
			b.LateHours = 8
			b.LateFee = 1200
		}, domain.ErrRefundForfeited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mockBookingRepo)
			svc, _ := newRefundService(repo, nil)

			b := settledBooking()
			tt.mutate(b)
			repo.On("GetBooking", ctx, b.ID).Return(b, nil).Once()

			_, err := svc.Quote(ctx, b.ID)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRefundService_Idempotency(t *testing.T) {
	ctx := context.Background()
	now := pickup.Add(72 * time.Hour)

	t.Run("LeaseHeld", func(t *testing.T) {
		repo := new(mockBookingRepo)
		leases := new(mockLeases)
		svc := NewRefundService(repo, leases, nil, time.Second, nopLogger())

		leases.On("Acquire", ctx, "refund:7", mock.AnythingOfType("string"), time.Second).Return(false, nil).Once()

		_, err := svc.Process(ctx, 7, RefundRequest{Amount: 100}, now)
		assert.ErrorIs(t, err, domain.ErrRefundInProgress)
		assert.True(t, domain.IsConflict(err))
		repo.AssertNotCalled(t, "GetBooking", mock.Anything, mock.Anything)
	})

	t.Run("LeaseBackendDown", func(t *testing.T) {
		repo := new(mockBookingRepo)
		leases := new(mockLeases)
		svc := NewRefundService(repo, leases, nil, time.Second, nopLogger())

		leases.On("Acquire", ctx, "refund:7", mock.AnythingOfType("string"), time.Second).Return(false, assert.AnError).Once()

		_, err := svc.Process(ctx, 7, RefundRequest{Amount: 100}, now)
		assert.ErrorIs(t, err, assert.AnError)
	})

	t.Run("ConcurrentProcessLoses", func(t *testing.T) {
		repo := new(mockBookingRepo)
		svc, _ := newRefundService(repo, nil)

		b := settledBooking()
		winner := *b
		winner.RefundStatus = models.RefundProcessed
		winner.Version++
		repo.On("GetBooking", ctx, b.ID).Return(b, nil).Once()
		repo.On("UpdateBookingFields", ctx, b.ID, mock.Anything, mock.Anything).Return(database.ErrConditionFailed).Once()
		repo.On("GetBooking", ctx, b.ID).Return(&winner, nil).Once()

		_, err := svc.Process(ctx, b.ID, RefundRequest{Amount: 100}, now)
		assert.ErrorIs(t, err, domain.ErrRefundAlreadyProcessed)
		repo.AssertExpectations(t)
	})

	t.Run("UnrelatedWriteIsGenericConflict", func(t *testing.T) {
		repo := new(mockBookingRepo)
		svc, _ := newRefundService(repo, nil)

		b := settledBooking()
		moved := *b
		moved.Version++
		repo.On("GetBooking", ctx, b.ID).Return(b, nil).Once()
		repo.On("UpdateBookingFields", ctx, b.ID, mock.Anything, mock.Anything).Return(database.ErrConditionFailed).Once()
		repo.On("GetBooking", ctx, b.ID).Return(&moved, nil).Once()

		_, err := svc.Process(ctx, b.ID, RefundRequest{Amount: 100}, now)
		assert.ErrorIs(t, err, domain.ErrBookingConflict)
		assert.NotErrorIs(t, err, domain.ErrRefundAlreadyProcessed)
		assert.True(t, domain.IsConflict(err))
		repo.AssertExpectations(t)
	})
}

func TestRefundService_Reject(t *testing.T) {
	ctx := context.Background()
	now := pickup.Add(72 * time.Hour)

	t.Run("ReasonRequired", func(t *testing.T) {
		svc, _ := newRefundService(new(mockBookingRepo), nil)
		_, err := svc.Reject(ctx, 7, "   ", now)
		assert.ErrorIs(t, err, domain.ErrRefundReasonRequired)
	})

	t.Run("Rejects", func(t *testing.T) {
		repo := new(mockBookingRepo)
		bus := new(mockPublisher)
		svc, _ := newRefundService(repo, bus)

		b := settledBooking()
		repo.On("GetBooking", ctx, b.ID).Return(b, nil).Once()
		repo.On("UpdateBookingFields", ctx, b.ID, models.BookingPatch{
			RefundStatus: models.Ptr(models.RefundRejected),
			RefundReason: models.Ptr("outside policy"),
		}, models.BookingGuard{RefundNotProcessed: true}).Return(nil).Once()
		bus.On("PublishJSON", events.EventRefundRejected, mock.MatchedBy(func(p events.RefundPayload) bool {
			return p.Reason == "outside policy"
		})).Return(nil).Once()

		got, err := svc.Reject(ctx, b.ID, "outside policy", now)
		require.NoError(t, err)
		assert.Equal(t, models.RefundRejected, got.RefundStatus)
		bus.AssertExpectations(t)
	})

	t.Run("NotAfterProcessing", func(t *testing.T) {
		repo := new(mockBookingRepo)
		svc, _ := newRefundService(repo, nil)

		b := settledBooking()
		b.RefundStatus = models.RefundProcessed
		repo.On("GetBooking", ctx, b.ID).Return(b, nil).Once()

		_, err := svc.Reject(ctx, b.ID, "late", now)
		assert.ErrorIs(t, err, domain.ErrRefundAlreadyProcessed)
	})
}

func TestDrain(t *testing.T) {
	full, adv := drain(2000, 1000, 500)
	assert.Equal(t, 1500.0, full)
	assert.Equal(t, 1000.0, adv)

	full, adv = drain(200, 1000, 500)
	assert.Equal(t, 0.0, full)
	assert.Equal(t, 700.0, adv)

	full, adv = drain(0, 100, 500)
	assert.Equal(t, 0.0, full)
	assert.Equal(t, 0.0, adv)
}
