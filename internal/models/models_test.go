package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRentalStageRank(t *testing.T) {
	assert.Less(t, StageScheduled.Rank(), StageActive.Rank())
	assert.Less(t, StageActive.Rank(), StageOverdue.Rank())
	assert.Less(t, StageOverdue.Rank(), StageCompleted.Rank())
	assert.Equal(t, 0, RentalStage("bogus").Rank())

	assert.Equal(t, []RentalStage{StageScheduled, StageActive}, StagesUpTo(StageActive))
	assert.Len(t, StagesUpTo(StageCompleted), 4)
}

func TestBooking_Resolvers(t *testing.T) {
	t.Run("FinalAmountFallsBackToTotal", func(t *testing.T) {
		b := &Booking{TotalAmount: 5000}
		assert.Equal(t, 5000.0, b.ResolveFinalAmount())
		b.FinalAmount = 4200
		assert.Equal(t, 4200.0, b.ResolveFinalAmount())
	})

	t.Run("AdvanceFromPaymentFlag", func(t *testing.T) {
		b := &Booking{AdvanceAmount: 1000, PaymentStatus: PaymentPending}
		assert.Equal(t, 0.0, b.ResolveAdvancePaid())
		b.PaymentStatus = PaymentPartiallyPaid
		assert.Equal(t, 1000.0, b.ResolveAdvancePaid())
		b.AdvancePaid = 700
		assert.Equal(t, 700.0, b.ResolveAdvancePaid())
	})

	t.Run("DamageOnlyFromLockedInspection", func(t *testing.T) {
		b := &Booking{Inspection: &ReturnInspection{DamageFound: true, DamageCost: 300}}
		assert.Equal(t, 0.0, b.DamageCost())
		b.Inspection.Locked = true
		assert.Equal(t, 300.0, b.DamageCost())
		b.Inspection.DamageFound = false
		assert.Equal(t, 0.0, b.DamageCost())
	})

	t.Run("CompletionSignals", func(t *testing.T) {
		now := time.Now()
		assert.False(t, (&Booking{RentalStage: StageOverdue}).HasCompletionSignal())
		assert.True(t, (&Booking{TripCompleted: true}).HasCompletionSignal())
		assert.True(t, (&Booking{ReturnedAt: &now}).HasCompletionSignal())
		assert.True(t, (&Booking{BookingStatus: BookingCompleted}).HasCompletionSignal())
	})
}

func TestBookingPatch_IsEmpty(t *testing.T) {
	assert.True(t, BookingPatch{}.IsEmpty())
	assert.False(t, BookingPatch{LateFee: Ptr(1.0)}.IsEmpty())
}

func TestUserSubscription_IsUsableAt(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	sub := &UserSubscription{
		Status:        SubscriptionActive,
		PaymentStatus: SubscriptionPaymentPaid,
		StartDate:     start,
		EndDate:       start.AddDate(0, 1, 0),
	}

	assert.True(t, sub.IsUsableAt(start))
	assert.False(t, sub.IsUsableAt(start.Add(-time.Second)))
	assert.False(t, sub.IsUsableAt(sub.EndDate))

	sub.PaymentStatus = SubscriptionPaymentPending
	assert.False(t, sub.IsUsableAt(start.Add(time.Hour)))

	var nilSub *UserSubscription
	assert.False(t, nilSub.IsUsableAt(start))
}

func TestMoney(t *testing.T) {
	assert.Equal(t, 10.13, Round2(10.125))
	assert.Equal(t, 400.0, RoundWhole(399.6))
	assert.True(t, AmountsEqual(1000, 1000.004))
	assert.False(t, AmountsEqual(1000, 800))
}

func TestBooking_SubscriptionFinalAmount(t *testing.T) {
	b := &Booking{RentalType: RentalSubscription, TotalAmount: 1000, CoverageAmount: 400}
	assert.Equal(t, 600.0, b.ResolveFinalAmount())

	b.CoverageAmount = 1000
	assert.Equal(t, 0.0, b.ResolveFinalAmount())
}

func TestBooking_Apply(t *testing.T) {
	now := time.Now()
	b := &Booking{RentalStage: StageActive, LateFee: 10, Version: 3}
	b.Apply(BookingPatch{
		RentalStage: Ptr(StageOverdue),
		LateHours:   Ptr(int64(2)),
		CancelledAt: &now,
	})

	assert.Equal(t, StageOverdue, b.RentalStage)
	assert.Equal(t, int64(2), b.LateHours)
	assert.Equal(t, 10.0, b.LateFee)
	assert.Equal(t, &now, b.CancelledAt)
	assert.Equal(t, int64(4), b.Version)
}
