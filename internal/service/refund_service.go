package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"rentalcore/internal/database"
	"rentalcore/internal/domain"
	"rentalcore/internal/events"
	"rentalcore/internal/metrics"
	"rentalcore/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultLeaseTTL = 30 * time.Second

type RefundRequest struct {
	// Amount is required for partial refunds. For a full refund it may be
	// omitted; when given it must match the entitlement.
	Amount float64 `json:"amount,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

// RefundQuote is what a booking is entitled to right now.
type RefundQuote struct {
	BookingID   int64             `json:"booking_id"`
	Type        models.RefundType `json:"type"`
	Amount      float64           `json:"amount"`
	Ceiling     float64           `json:"ceiling"`
	TotalPaid   float64           `json:"total_paid"`
	AdvancePaid float64           `json:"advance_paid"`
	DamageCost  float64           `json:"damage_cost"`
}

type RefundService struct {
	repo     domain.BookingRepository
	leases   domain.LeaseRepository
	eventBus domain.EventPublisher
	leaseTTL time.Duration
	logger   *zerolog.Logger
}

func NewRefundService(repo domain.BookingRepository, leases domain.LeaseRepository, eventBus domain.EventPublisher, leaseTTL time.Duration, logger *zerolog.Logger) *RefundService {
	if leaseTTL <= 0 {
		leaseTTL = defaultLeaseTTL
	}
	return &RefundService{
		repo:     repo,
		leases:   leases,
		eventBus: eventBus,
		leaseTTL: leaseTTL,
		logger:   logger,
	}
}

// Quote checks eligibility and, for full refunds, returns the fixed amount.
// For partial refunds Amount is the ceiling.
func (s *RefundService) Quote(ctx context.Context, bookingID int64) (*RefundQuote, error) {
	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeErr(err, nil)
	}
	return quote(b)
}

// Process applies a refund. Attempts on the same booking are serialized by
// a lease and the write only lands while the refund is still unprocessed.
func (s *RefundService) Process(ctx context.Context, bookingID int64, req RefundRequest, now time.Time) (*models.Booking, error) {
	release, err := s.lock(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	defer release()

	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeErr(err, nil)
	}

	q, err := quote(b)
	if err != nil {
		return nil, err
	}

	amount, err := q.Resolve(req.Amount)
	if err != nil {
		return nil, err
	}

	fullLeft, advanceLeft := drain(b.FullPaymentAmount, q.AdvancePaid, amount)

	status := models.PaymentPartiallyPaid
	switch {
	case fullLeft+advanceLeft <= 0.01:
		status = models.PaymentRefunded
	case b.BookingStatus == models.BookingCompleted:
		status = models.PaymentFullyPaid
	}

	patch := models.BookingPatch{
		PaymentStatus:     models.Ptr(status),
		FullPaymentAmount: models.Ptr(fullLeft),
		AdvancePaid:       models.Ptr(advanceLeft),
		RemainingAmount:   models.Ptr(0.0),
		RefundStatus:      models.Ptr(models.RefundProcessed),
		RefundAmount:      models.Ptr(amount),
		RefundType:        models.Ptr(q.Type),
		RefundReason:      models.Ptr(strings.TrimSpace(req.Reason)),
		RefundProcessedAt: models.Ptr(now),
	}
	guard := models.BookingGuard{
		Statuses:           []models.BookingStatus{models.BookingCancelled, models.BookingCompleted},
		RefundNotProcessed: true,
		Version:            b.Version,
	}
	if err := s.repo.UpdateBookingFields(ctx, b.ID, patch, guard); err != nil {
		return nil, s.guardMiss(ctx, b.ID, err)
	}
	b.Apply(patch)
	metrics.IncRefund(string(q.Type))

	s.logger.Info().
		Int64("booking_id", b.ID).
		Float64("amount", amount).
		Str("type", string(q.Type)).
		Str("payment_status", string(status)).
		Msg("refund processed")

	publish(s.eventBus, s.logger, events.EventRefundProcessed, b.ID, events.RefundPayload{
		BookingEventPayload: bookingPayload(b, now),
		Amount:              amount,
		Type:                string(q.Type),
		Reason:              b.RefundReason,
	})
	return b, nil
}

// Reject closes a refund request without paying anything.
func (s *RefundService) Reject(ctx context.Context, bookingID int64, reason string, now time.Time) (*models.Booking, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.ErrRefundReasonRequired
	}

	release, err := s.lock(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	defer release()

	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeErr(err, nil)
	}
	if b.RefundStatus == models.RefundProcessed {
		return nil, domain.ErrRefundAlreadyProcessed
	}

	patch := models.BookingPatch{
		RefundStatus: models.Ptr(models.RefundRejected),
		RefundReason: models.Ptr(reason),
	}
	if err := s.repo.UpdateBookingFields(ctx, b.ID, patch, models.BookingGuard{RefundNotProcessed: true}); err != nil {
		return nil, storeErr(err, domain.ErrRefundAlreadyProcessed)
	}
	b.Apply(patch)
	metrics.IncRefund("rejected")

	s.logger.Info().Int64("booking_id", b.ID).Str("reason", reason).Msg("refund rejected")

	publish(s.eventBus, s.logger, events.EventRefundRejected, b.ID, events.RefundPayload{
		BookingEventPayload: bookingPayload(b, now),
		Reason:              reason,
	})
	return b, nil
}

// guardMiss tells a refund that landed meanwhile apart from any other
// concurrent write that moved the booking's version.
func (s *RefundService) guardMiss(ctx context.Context, bookingID int64, err error) error {
	if !errors.Is(err, database.ErrConditionFailed) {
		return storeErr(err, nil)
	}
	current, getErr := s.repo.GetBooking(ctx, bookingID)
	if getErr != nil {
		return storeErr(getErr, nil)
	}
	if current.RefundStatus == models.RefundProcessed {
		return domain.ErrRefundAlreadyProcessed
	}
	return storeErr(err, domain.ErrBookingConflict)
}

func (s *RefundService) lock(ctx context.Context, bookingID int64) (func(), error) {
	if s.leases == nil {
		return func() {}, nil
	}

	key := fmt.Sprintf("refund:%d", bookingID)
	owner := uuid.NewString()

	ok, err := s.leases.Acquire(ctx, key, owner, s.leaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire refund lease: %w", err)
	}
	if !ok {
		return nil, domain.ErrRefundInProgress
	}

	return func() {
		// the request context may already be cancelled
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.leases.Release(releaseCtx, key, owner); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("failed to release refund lease")
		}
	}, nil
}

func quote(b *models.Booking) (*RefundQuote, error) {
	if b.BookingStatus != models.BookingCancelled && b.BookingStatus != models.BookingCompleted {
		return nil, domain.Validationf(domain.ErrRefundNotEligible, "booking status %s", b.BookingStatus)
	}
	if b.PaymentStatus != models.PaymentPartiallyPaid && b.PaymentStatus != models.PaymentFullyPaid {
		return nil, domain.Validationf(domain.ErrRefundNotEligible, "payment status %s", b.PaymentStatus)
	}
	if b.RefundStatus == models.RefundProcessed {
		return nil, domain.ErrRefundAlreadyProcessed
	}

	advance := b.ResolveAdvancePaid()
	totalPaid := models.Round2(advance + b.FullPaymentAmount)
	if totalPaid <= 0 {
		return nil, domain.ErrRefundNothingPaid
	}

	damage := b.ChargedDamage()
	ceiling := models.Round2(totalPaid - damage)
	if ceiling <= 0 {
		return nil, domain.ErrRefundNoCeiling
	}

	if b.LateHours > 0 && b.LateFee > advance {
		return nil, domain.Validationf(domain.ErrRefundForfeited, "late fee %.2f, advance %.2f", b.LateFee, advance)
	}

	q := &RefundQuote{
		BookingID:   b.ID,
		Type:        models.RefundPartial,
		Amount:      ceiling,
		Ceiling:     ceiling,
		TotalPaid:   totalPaid,
		AdvancePaid: advance,
		DamageCost:  damage,
	}
	if b.CancelledAt != nil && b.CancelledAt.Before(b.PickupAt) {
		q.Type = models.RefundFull
		q.Amount = models.Round2(math.Min(advance, ceiling))
	}
	return q, nil
}

// Resolve checks the caller's amount against the quote and returns the amount to refund.
func (q *RefundQuote) Resolve(requested float64) (float64, error) {
	if q.Type == models.RefundFull {
		if q.Amount <= 0 {
			return 0, domain.Validationf(domain.ErrRefundAmountInvalid, "no advance to refund")
		}
		if requested != 0 && !models.AmountsEqual(requested, q.Amount) {
			return 0, domain.Validationf(domain.ErrRefundAmountMismatch, "want %.2f, got %.2f", q.Amount, requested)
		}
		return q.Amount, nil
	}

	amount := models.Round2(requested)
	if amount <= 0 || amount > q.Ceiling {
		return 0, domain.Validationf(domain.ErrRefundAmountInvalid, "amount %.2f, ceiling %.2f", requested, q.Ceiling)
	}
	return amount, nil
}

// drain takes the refund out of the full payment first, then the advance.
func drain(fullPayment, advance, amount float64) (float64, float64) {
	fromFull := math.Min(fullPayment, amount)
	if fromFull < 0 {
		fromFull = 0
	}
	fullLeft := math.Max(models.Round2(fullPayment-fromFull), 0)
	advanceLeft := math.Max(models.Round2(advance-(amount-fromFull)), 0)
	return fullLeft, advanceLeft
}
