package models

import "time"

type UserSubscription struct {
	ID                   int64                     `json:"id"`
	UserID               int64                     `json:"user_id"`
	PlanName             string                    `json:"plan_name"`
	Status               SubscriptionStatus        `json:"status"`
	PaymentStatus        SubscriptionPaymentStatus `json:"payment_status"`
	StartDate            time.Time                 `json:"start_date"`
	EndDate              time.Time                 `json:"end_date"`
	TotalRentalHours     float64                   `json:"total_rental_hours"`
	RemainingRentalHours float64                   `json:"remaining_rental_hours"`
	TotalUsedHours       float64                   `json:"total_used_hours"`
	UsageHistory         []UsageEntry              `json:"usage_history,omitempty"`
	CreatedAt            time.Time                 `json:"created_at"`
	UpdatedAt            time.Time                 `json:"updated_at"`
}

// UsageEntry records one booking's draw on a subscription.
type UsageEntry struct {
	BookingID     int64     `json:"booking_id"`
	HoursUsed     float64   `json:"hours_used"`
	AmountCovered float64   `json:"amount_covered"`
	AmountCharged float64   `json:"amount_charged"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// IsUsableAt reports whether the subscription may cover a rental at now:
// active, paid and inside [StartDate, EndDate).
func (s *UserSubscription) IsUsableAt(now time.Time) bool {
	if s == nil {
		return false
	}
	return s.Status == SubscriptionActive &&
		s.PaymentStatus == SubscriptionPaymentPaid &&
		!now.Before(s.StartDate) &&
		now.Before(s.EndDate)
}
