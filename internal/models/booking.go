package models

import (
	"math"
	"time"
)

// Booking is a single car rental and everything needed to settle or refund it.
type Booking struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"user_id"`
	CarID          int64      `json:"car_id"`
	DriverID       int64      `json:"driver_id,omitempty"`
	SubscriptionID int64      `json:"subscription_id,omitempty"`
	RentalType     RentalType `json:"rental_type"`

	PickupAt         time.Time `json:"pickup_at"`
	DropAt           time.Time `json:"drop_at"`
	GracePeriodHours float64   `json:"grace_period_hours"`

	RentalStage   RentalStage   `json:"rental_stage"`
	BookingStatus BookingStatus `json:"booking_status"`
	PaymentStatus PaymentStatus `json:"payment_status"`

	PerDayPrice    float64 `json:"per_day_price"`
	TotalAmount    float64 `json:"total_amount"`
	FinalAmount    float64 `json:"final_amount"`
	AdvanceAmount  float64 `json:"advance_amount"`
	AdvancePaid    float64 `json:"advance_paid"`
	CoveredHours   float64 `json:"covered_hours"`
	CoverageAmount float64 `json:"coverage_amount"`

	HourlyLateRate float64 `json:"hourly_late_rate"`
	LateHours      int64   `json:"late_hours"`
	LateFee        float64 `json:"late_fee"`

	RemainingAmount   float64       `json:"remaining_amount"`
	FullPaymentAmount float64       `json:"full_payment_amount"`
	FullPaymentMethod PaymentMethod `json:"full_payment_method,omitempty"`
	FullPaymentAt     *time.Time    `json:"full_payment_at,omitempty"`
	DamageCharge      float64       `json:"damage_charge"`

	TripCompleted bool       `json:"trip_completed"`
	ReturnedAt    *time.Time `json:"returned_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`

	Inspection *ReturnInspection `json:"inspection,omitempty"`

	RefundStatus      RefundStatus `json:"refund_status"`
	RefundAmount      float64      `json:"refund_amount"`
	RefundType        RefundType   `json:"refund_type,omitempty"`
	RefundReason      string       `json:"refund_reason,omitempty"`
	RefundProcessedAt *time.Time   `json:"refund_processed_at,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReturnInspection is filled by staff when the car comes back. Settlement
// only trusts it once Locked is set.
type ReturnInspection struct {
	Locked      bool       `json:"locked"`
	DamageFound bool       `json:"damage_found"`
	DamageCost  float64    `json:"damage_cost"`
	InspectedAt *time.Time `json:"inspected_at,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}

// ResolveFinalAmount returns the explicit final amount or the booking total.
// Subscription rentals fall back to the part of the total the plan did not cover.
func (b *Booking) ResolveFinalAmount() float64 {
	if b.FinalAmount > 0 {
		return b.FinalAmount
	}
	if b.RentalType == RentalSubscription {
		return math.Max(b.TotalAmount-b.CoverageAmount, 0)
	}
	return b.TotalAmount
}

// ResolveAdvancePaid returns the recorded advance, falling back to the
// required advance when the payment status says it was paid.
func (b *Booking) ResolveAdvancePaid() float64 {
	if b.AdvancePaid > 0 {
		return b.AdvancePaid
	}
	if b.PaymentStatus == PaymentPartiallyPaid || b.PaymentStatus == PaymentFullyPaid {
		return b.AdvanceAmount
	}
	return 0
}

// DamageCost is the damage charge from a locked inspection, zero otherwise.
func (b *Booking) DamageCost() float64 {
	if b.Inspection == nil || !b.Inspection.Locked || !b.Inspection.DamageFound {
		return 0
	}
	return b.Inspection.DamageCost
}

// ChargedDamage prefers the damage recorded at settlement over the inspection.
func (b *Booking) ChargedDamage() float64 {
	if b.DamageCharge > 0 {
		return b.DamageCharge
	}
	return b.DamageCost()
}

// HasCompletionSignal reports whether anything already marks the rental as finished.
func (b *Booking) HasCompletionSignal() bool {
	return b.RentalStage == StageCompleted ||
		b.BookingStatus == BookingCompleted ||
		b.TripCompleted ||
		b.ReturnedAt != nil
}

// IsSettled reports whether no more money can be owed on the booking.
func (b *Booking) IsSettled() bool {
	return b.PaymentStatus == PaymentFullyPaid || b.PaymentStatus == PaymentRefunded
}

// BookingPatch lists the columns a conditional update writes. Nil fields are left untouched.
type BookingPatch struct {
	RentalStage   *RentalStage
	BookingStatus *BookingStatus
	PaymentStatus *PaymentStatus

	FinalAmount *float64
	AdvancePaid *float64

	HourlyLateRate *float64
	LateHours      *int64
	LateFee        *float64

	RemainingAmount   *float64
	FullPaymentAmount *float64
	FullPaymentMethod *PaymentMethod
	FullPaymentAt     *time.Time
	DamageCharge      *float64

	TripCompleted *bool
	ReturnedAt    *time.Time
	CompletedAt   *time.Time
	CancelledAt   *time.Time

	RefundStatus      *RefundStatus
	RefundAmount      *float64
	RefundType        *RefundType
	RefundReason      *string
	RefundProcessedAt *time.Time
}

// IsEmpty reports whether the patch would write nothing.
func (p BookingPatch) IsEmpty() bool {
	return p == BookingPatch{}
}

// BookingGuard narrows a conditional update to rows still in the expected state.
type BookingGuard struct {
	Statuses           []BookingStatus
	Stages             []RentalStage
	RefundNotProcessed bool
	Version            int64
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}

// Apply copies the set patch fields onto b.
func (b *Booking) Apply(p BookingPatch) {
	if p.RentalStage != nil {
		b.RentalStage = *p.RentalStage
	}
	if p.BookingStatus != nil {
		b.BookingStatus = *p.BookingStatus
	}
	if p.PaymentStatus != nil {
		b.PaymentStatus = *p.PaymentStatus
	}
	if p.FinalAmount != nil {
		b.FinalAmount = *p.FinalAmount
	}
	if p.AdvancePaid != nil {
		b.AdvancePaid = *p.AdvancePaid
	}
	if p.HourlyLateRate != nil {
		b.HourlyLateRate = *p.HourlyLateRate
	}
	if p.LateHours != nil {
		b.LateHours = *p.LateHours
	}
	if p.LateFee != nil {
		b.LateFee = *p.LateFee
	}
	if p.RemainingAmount != nil {
		b.RemainingAmount = *p.RemainingAmount
	}
	if p.FullPaymentAmount != nil {
		b.FullPaymentAmount = *p.FullPaymentAmount
	}
	if p.FullPaymentMethod != nil {
		b.FullPaymentMethod = *p.FullPaymentMethod
	}
	if p.FullPaymentAt != nil {
		b.FullPaymentAt = p.FullPaymentAt
	}
	if p.DamageCharge != nil {
		b.DamageCharge = *p.DamageCharge
	}
	if p.TripCompleted != nil {
		b.TripCompleted = *p.TripCompleted
	}
	if p.ReturnedAt != nil {
		b.ReturnedAt = p.ReturnedAt
	}
	if p.CompletedAt != nil {
		b.CompletedAt = p.CompletedAt
	}
	if p.CancelledAt != nil {
		b.CancelledAt = p.CancelledAt
	}
	if p.RefundStatus != nil {
		b.RefundStatus = *p.RefundStatus
	}
	if p.RefundAmount != nil {
		b.RefundAmount = *p.RefundAmount
	}
	if p.RefundType != nil {
		b.RefundType = *p.RefundType
	}
	if p.RefundReason != nil {
		b.RefundReason = *p.RefundReason
	}
	if p.RefundProcessedAt != nil {
		b.RefundProcessedAt = p.RefundProcessedAt
	}
	b.Version++
}
