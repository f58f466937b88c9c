package models

type RentalStage string

const (
	StageScheduled RentalStage = "scheduled"
	StageActive    RentalStage = "active"
	StageOverdue   RentalStage = "overdue"
	StageCompleted RentalStage = "completed"
)

// Rank orders stages; a booking never moves to a lower rank.
func (s RentalStage) Rank() int {
	switch s {
	case StageScheduled:
		return 1
	case StageActive:
		return 2
	case StageOverdue:
		return 3
	case StageCompleted:
		return 4
	default:
		return 0
	}
}

// StagesUpTo returns every known stage whose rank does not exceed s.
func StagesUpTo(s RentalStage) []RentalStage {
	all := []RentalStage{StageScheduled, StageActive, StageOverdue, StageCompleted}
	out := make([]RentalStage, 0, len(all))
	for _, st := range all {
		if st.Rank() <= s.Rank() {
			out = append(out, st)
		}
	}
	return out
}

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
)

type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "pending"
	PaymentPartiallyPaid PaymentStatus = "partially_paid"
	PaymentFullyPaid     PaymentStatus = "fully_paid"
	PaymentRefunded      PaymentStatus = "refunded"
)

type PaymentMethod string

const (
	MethodCard         PaymentMethod = "card"
	MethodWallet       PaymentMethod = "wallet"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCash         PaymentMethod = "cash"
)

// DefaultPaymentMethods is the allowed set when config does not narrow it.
var DefaultPaymentMethods = []PaymentMethod{MethodCard, MethodWallet, MethodBankTransfer, MethodCash}

func IsKnownPaymentMethod(m PaymentMethod) bool {
	for _, known := range DefaultPaymentMethods {
		if m == known {
			return true
		}
	}
	return false
}

type RefundStatus string

const (
	RefundNone      RefundStatus = "none"
	RefundProcessed RefundStatus = "processed"
	RefundRejected  RefundStatus = "rejected"
)

type RefundType string

const (
	RefundFull    RefundType = "full"
	RefundPartial RefundType = "partial"
)

type RentalType string

const (
	RentalStandard     RentalType = "standard"
	RentalSubscription RentalType = "subscription"
)

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

type SubscriptionPaymentStatus string

const (
	SubscriptionPaymentPending SubscriptionPaymentStatus = "pending"
	SubscriptionPaymentPaid    SubscriptionPaymentStatus = "paid"
	SubscriptionPaymentFailed  SubscriptionPaymentStatus = "failed"
)

const (
	// LateRateMultiplier is applied to the hourly share of the daily price.
	LateRateMultiplier = 1.5

	// DefaultUsageHistoryLimit caps UserSubscription.UsageHistory.
	DefaultUsageHistoryLimit = 20

	// DefaultReservationAttempts is the CAS retry budget for hour reservations.
	DefaultReservationAttempts = 3

	// MaxReservationAttempts bounds a configured retry budget.
	MaxReservationAttempts = 10
)

const (
	ParseModeMarkdown = "Markdown"
)
