package domain

import (
	"errors"
	"fmt"
)

// Kind tells callers whether to fix the request or retry it.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error is a classified failure from the booking core.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newValidation(code, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: msg}
}

func newConflict(code, msg string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: msg}
}

var (
	// Bookings
	ErrBookingNotFound      = newValidation("booking_not_found", "booking not found")
	ErrInvalidBookingStatus = newValidation("invalid_booking_status", "booking status does not allow this operation")
	ErrAlreadyCompleted     = newValidation("booking_already_completed", "booking is already completed")
	ErrInvalidBooking       = newValidation("invalid_booking", "booking is invalid")
	ErrBookingConflict      = newConflict("booking_conflict", "booking changed concurrently")

	// Settlement
	ErrInspectionMissing    = newValidation("inspection_missing", "return inspection is missing")
	ErrInspectionNotLocked  = newValidation("inspection_not_locked", "return inspection is not locked")
	ErrInspectionIncomplete = newValidation("inspection_incomplete", "return inspection has no timestamp")
	ErrInvalidPaymentMethod = newValidation("invalid_payment_method", "payment method is not allowed")
	ErrSettlementConflict   = newConflict("settlement_conflict", "booking changed while settling")

	// Refunds
	ErrRefundNotEligible      = newValidation("refund_not_eligible", "booking is not eligible for a refund")
	ErrRefundNothingPaid      = newValidation("refund_nothing_paid", "nothing has been paid on this booking")
	ErrRefundNoCeiling        = newValidation("refund_no_ceiling", "damage charges consume the refundable amount")
	ErrRefundForfeited        = newValidation("refund_forfeited", "late fee exceeds the advance, refund forfeited")
	ErrRefundAmountMismatch   = newValidation("refund_amount_mismatch", "refund amount must equal the full refund entitlement")
	ErrRefundAmountInvalid    = newValidation("refund_amount_invalid", "refund amount is out of range")
	ErrRefundReasonRequired   = newValidation("refund_reason_required", "a rejection reason is required")
	ErrRefundAlreadyProcessed = newConflict("refund_already_processed", "refund already processed")
	ErrRefundInProgress       = newConflict("refund_in_progress", "another refund attempt is in progress")

	// Subscriptions
	ErrSubscriptionNotFound = newValidation("subscription_not_found", "subscription not found")
	ErrNoActiveSubscription = newValidation("no_active_subscription", "no active paid subscription covers this time")
	ErrInvalidHours         = newValidation("invalid_hours", "requested hours must be positive")
	ErrReservationConflict  = newConflict("reservation_conflict", "subscription hours changed concurrently, retry the booking")
)

// Validationf wraps a validation sentinel with detail.
func Validationf(base *Error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", base, fmt.Sprintf(format, args...))
}

// KindOf returns the classification of err, or 0 when it is not a domain error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}

// CodeOf returns the stable code of a domain error, or "internal".
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return "internal"
}

func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}
