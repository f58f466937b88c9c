package service

import (
	"context"
	"math"
	"time"

	"rentalcore/internal/domain"
	"rentalcore/internal/events"
	"rentalcore/internal/lifecycle"
	"rentalcore/internal/metrics"
	"rentalcore/internal/models"

	"github.com/rs/zerolog"
)

type SettleRequest struct {
	Method models.PaymentMethod `json:"method"`
}

type SettlementService struct {
	repo     domain.BookingRepository
	eventBus domain.EventPublisher
	methods  map[models.PaymentMethod]struct{}
	logger   *zerolog.Logger
}

func NewSettlementService(repo domain.BookingRepository, eventBus domain.EventPublisher, methods []models.PaymentMethod, logger *zerolog.Logger) *SettlementService {
	if len(methods) == 0 {
		methods = models.DefaultPaymentMethods
	}
	allowed := make(map[models.PaymentMethod]struct{}, len(methods))
	for _, m := range methods {
		allowed[m] = struct{}{}
	}
	return &SettlementService{
		repo:     repo,
		eventBus: eventBus,
		methods:  allowed,
		logger:   logger,
	}
}

// Settle finalizes a returned rental: it freezes the late metrics, collects
// what is still owed and moves the booking to its terminal state.
func (s *SettlementService) Settle(ctx context.Context, bookingID int64, req SettleRequest, now time.Time) (*models.Booking, error) {
	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeErr(err, nil)
	}

	if err := s.validate(b, req); err != nil {
		metrics.IncSettlement("rejected")
		return nil, err
	}

	result := lifecycle.Compute(lifecycle.SnapshotOf(b), now)

	// a fully covered subscription rental legitimately resolves to zero
	finalAmount := b.ResolveFinalAmount()
	advancePaid := b.ResolveAdvancePaid()
	damage := b.DamageCost()

	collectible := models.Round2(math.Max(b.RemainingAmount, finalAmount-advancePaid+result.LateFee+damage))
	if collectible < 0 {
		collectible = 0
	}

	patch := models.BookingPatch{
		RentalStage:       models.Ptr(models.StageCompleted),
		BookingStatus:     models.Ptr(models.BookingCompleted),
		PaymentStatus:     models.Ptr(models.PaymentFullyPaid),
		FinalAmount:       models.Ptr(finalAmount),
		AdvancePaid:       models.Ptr(advancePaid),
		HourlyLateRate:    models.Ptr(result.HourlyLateRate),
		LateHours:         models.Ptr(result.LateHours),
		LateFee:           models.Ptr(result.LateFee),
		RemainingAmount:   models.Ptr(0.0),
		FullPaymentAmount: models.Ptr(collectible),
		FullPaymentMethod: models.Ptr(req.Method),
		FullPaymentAt:     models.Ptr(now),
		DamageCharge:      models.Ptr(damage),
		TripCompleted:     models.Ptr(true),
		CompletedAt:       models.Ptr(now),
	}
	if b.ReturnedAt == nil {
		patch.ReturnedAt = models.Ptr(now)
	}

	guard := models.BookingGuard{
		Statuses: []models.BookingStatus{models.BookingConfirmed},
		Stages:   models.StagesUpTo(models.StageOverdue),
	}
	if err := s.repo.UpdateBookingFields(ctx, b.ID, patch, guard); err != nil {
		err = storeErr(err, domain.ErrSettlementConflict)
		if domain.IsConflict(err) {
			metrics.IncSettlement("conflict")
		}
		return nil, err
	}
	b.Apply(patch)
	metrics.IncSettlement("settled")

	s.logger.Info().
		Int64("booking_id", b.ID).
		Float64("amount", collectible).
		Str("method", string(req.Method)).
		Float64("late_fee", result.LateFee).
		Float64("damage", damage).
		Msg("booking settled")

	publish(s.eventBus, s.logger, events.EventSettlementCompleted, b.ID, events.SettlementPayload{
		BookingEventPayload: bookingPayload(b, now),
		Amount:              collectible,
		Method:              string(req.Method),
		LateFee:             result.LateFee,
		Damage:              damage,
		LateHours:           result.LateHours,
	})
	return b, nil
}

func (s *SettlementService) validate(b *models.Booking, req SettleRequest) error {
	if _, ok := s.methods[req.Method]; !ok {
		return domain.Validationf(domain.ErrInvalidPaymentMethod, "method %q", req.Method)
	}
	if b.RentalStage == models.StageCompleted || b.BookingStatus == models.BookingCompleted {
		return domain.ErrAlreadyCompleted
	}
	if b.BookingStatus != models.BookingConfirmed {
		return domain.Validationf(domain.ErrInvalidBookingStatus, "status %s", b.BookingStatus)
	}

	switch {
	case b.Inspection == nil:
		return domain.ErrInspectionMissing
	case !b.Inspection.Locked:
		return domain.ErrInspectionNotLocked
	case b.Inspection.InspectedAt == nil:
		return domain.ErrInspectionIncomplete
	}
	return nil
}
