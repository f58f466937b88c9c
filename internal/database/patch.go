package database

import (
	"fmt"
	"strings"
	"time"

	"rentalcore/internal/models"
)

// Placeholder renders the n-th (1-based) bind parameter for a SQL dialect.
type Placeholder func(n int) string

func QuestionMark(int) string { return "?" }

func Dollar(n int) string { return fmt.Sprintf("$%d", n) }

type assignment struct {
	column string
	value  interface{}
}

func patchAssignments(p models.BookingPatch) []assignment {
	var out []assignment
	add := func(column string, value interface{}) {
		out = append(out, assignment{column, value})
	}

	if p.RentalStage != nil {
		add("rental_stage", string(*p.RentalStage))
	}
	if p.BookingStatus != nil {
		add("booking_status", string(*p.BookingStatus))
	}
	if p.PaymentStatus != nil {
		add("payment_status", string(*p.PaymentStatus))
	}
	if p.FinalAmount != nil {
		add("final_amount", *p.FinalAmount)
	}
	if p.AdvancePaid != nil {
		add("advance_paid", *p.AdvancePaid)
	}
	if p.HourlyLateRate != nil {
		add("hourly_late_rate", *p.HourlyLateRate)
	}
	if p.LateHours != nil {
		add("late_hours", *p.LateHours)
	}
	if p.LateFee != nil {
		add("late_fee", *p.LateFee)
	}
	if p.RemainingAmount != nil {
		add("remaining_amount", *p.RemainingAmount)
	}
	if p.FullPaymentAmount != nil {
		add("full_payment_amount", *p.FullPaymentAmount)
	}
	if p.FullPaymentMethod != nil {
		add("full_payment_method", string(*p.FullPaymentMethod))
	}
	if p.FullPaymentAt != nil {
		add("full_payment_at", p.FullPaymentAt.UTC())
	}
	if p.DamageCharge != nil {
		add("damage_charge", *p.DamageCharge)
	}
	if p.TripCompleted != nil {
		add("trip_completed", *p.TripCompleted)
	}
	if p.ReturnedAt != nil {
		add("returned_at", p.ReturnedAt.UTC())
	}
	if p.CompletedAt != nil {
		add("completed_at", p.CompletedAt.UTC())
	}
	if p.CancelledAt != nil {
		add("cancelled_at", p.CancelledAt.UTC())
	}
	if p.RefundStatus != nil {
		add("refund_status", string(*p.RefundStatus))
	}
	if p.RefundAmount != nil {
		add("refund_amount", *p.RefundAmount)
	}
	if p.RefundType != nil {
		add("refund_type", string(*p.RefundType))
	}
	if p.RefundReason != nil {
		add("refund_reason", *p.RefundReason)
	}
	if p.RefundProcessedAt != nil {
		add("refund_processed_at", p.RefundProcessedAt.UTC())
	}
	return out
}

// BuildBookingUpdate renders a conditional UPDATE that writes only the set
// patch fields and matches only rows that still satisfy the guard. Every
// successful write bumps version.
func BuildBookingUpdate(id int64, patch models.BookingPatch, guard models.BookingGuard, now time.Time, ph Placeholder) (string, []interface{}) {
	var (
		sets  []string
		where []string
		args  []interface{}
	)
	bind := func(v interface{}) string {
		args = append(args, v)
		return ph(len(args))
	}

	for _, a := range patchAssignments(patch) {
		sets = append(sets, a.column+" = "+bind(a.value))
	}
	sets = append(sets, "version = version + 1", "updated_at = "+bind(now.UTC()))

	where = append(where, "id = "+bind(id))
	if len(guard.Statuses) > 0 {
		marks := make([]string, len(guard.Statuses))
		for i, s := range guard.Statuses {
			marks[i] = bind(string(s))
		}
		where = append(where, "booking_status IN ("+strings.Join(marks, ", ")+")")
	}
	if len(guard.Stages) > 0 {
		marks := make([]string, len(guard.Stages))
		for i, s := range guard.Stages {
			marks[i] = bind(string(s))
		}
		where = append(where, "rental_stage IN ("+strings.Join(marks, ", ")+")")
	}
	if guard.RefundNotProcessed {
		where = append(where, "refund_status <> "+bind(string(models.RefundProcessed)))
	}
	if guard.Version > 0 {
		where = append(where, "version = "+bind(guard.Version))
	}

	query := "UPDATE bookings SET " + strings.Join(sets, ", ") + " WHERE " + strings.Join(where, " AND ")
	return query, args
}
