package service

import (
	"context"
	"time"

	"rentalcore/internal/domain"
	"rentalcore/internal/events"
	"rentalcore/internal/models"

	"github.com/rs/zerolog"
)

// BookingDraft is what a caller supplies to open a rental.
type BookingDraft struct {
	UserID           int64             `json:"user_id"`
	CarID            int64             `json:"car_id"`
	DriverID         int64             `json:"driver_id,omitempty"`
	SubscriptionID   int64             `json:"subscription_id,omitempty"`
	RentalType       models.RentalType `json:"rental_type"`
	PickupAt         time.Time         `json:"pickup_at"`
	DropAt           time.Time         `json:"drop_at"`
	GracePeriodHours float64           `json:"grace_period_hours"`
	PerDayPrice      float64           `json:"per_day_price"`
	TotalAmount      float64           `json:"total_amount"`
	AdvanceAmount    float64           `json:"advance_amount"`
	AdvancePaid      float64           `json:"advance_paid"`
}

type BookingService struct {
	repo         domain.BookingRepository
	reservations *ReservationService
	eventBus     domain.EventPublisher
	logger       *zerolog.Logger
}

func NewBookingService(repo domain.BookingRepository, reservations *ReservationService, eventBus domain.EventPublisher, logger *zerolog.Logger) *BookingService {
	return &BookingService{
		repo:         repo,
		reservations: reservations,
		eventBus:     eventBus,
		logger:       logger,
	}
}

func (s *BookingService) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	b, err := s.repo.GetBooking(ctx, id)
	return b, storeErr(err, nil)
}

// CreateBooking persists a confirmed, scheduled booking. Subscription
// rentals reserve their hours first and fail closed; the reservation is
// rolled back if the booking cannot be stored.
func (s *BookingService) CreateBooking(ctx context.Context, draft BookingDraft, now time.Time) (*models.Booking, error) {
	if err := validateDraft(draft); err != nil {
		return nil, err
	}

	b := &models.Booking{
		UserID:           draft.UserID,
		CarID:            draft.CarID,
		DriverID:         draft.DriverID,
		RentalType:       draft.RentalType,
		PickupAt:         draft.PickupAt.UTC(),
		DropAt:           draft.DropAt.UTC(),
		GracePeriodHours: draft.GracePeriodHours,
		PerDayPrice:      draft.PerDayPrice,
		TotalAmount:      draft.TotalAmount,
		AdvanceAmount:    draft.AdvanceAmount,
		AdvancePaid:      draft.AdvancePaid,
		RentalStage:      models.StageScheduled,
		BookingStatus:    models.BookingConfirmed,
		PaymentStatus:    models.PaymentPending,
		RefundStatus:     models.RefundNone,
	}
	if b.RentalType == "" {
		b.RentalType = models.RentalStandard
	}
	if b.AdvancePaid > 0 {
		b.PaymentStatus = models.PaymentPartiallyPaid
	}

	var reservation *Reservation
	if b.RentalType == models.RentalSubscription {
		res, err := s.reservations.Reserve(ctx, ReserveRequest{
			UserID:         draft.UserID,
			SubscriptionID: draft.SubscriptionID,
			BaseAmount:     draft.TotalAmount,
			RequestedHours: b.DropAt.Sub(b.PickupAt).Hours(),
		}, now)
		if err != nil {
			return nil, err
		}
		reservation = &res

		b.SubscriptionID = res.SubscriptionID
		b.CoveredHours = res.CoveredHours
		b.CoverageAmount = res.CoverageAmount
		b.FinalAmount = res.ExtraAmount
	}
	b.RemainingAmount = models.Round2(max(b.ResolveFinalAmount()-b.AdvancePaid, 0))

	if err := s.repo.CreateBooking(ctx, b); err != nil {
		if reservation != nil {
			if rbErr := s.reservations.Rollback(ctx, *reservation); rbErr != nil {
				s.logger.Error().Err(rbErr).
					Int64("subscription_id", reservation.SubscriptionID).
					Float64("hours", reservation.CoveredHours).
					Msg("failed to roll back subscription hours")
			}
		}
		return nil, err
	}

	if reservation != nil && reservation.CoveredHours > 0 {
		if err := s.reservations.RecordUsage(ctx, *reservation, b.ID, reservation.ExtraAmount, now); err != nil {
			s.logger.Error().Err(err).Int64("booking_id", b.ID).Msg("failed to record subscription usage")
		}
	}

	s.logger.Info().
		Int64("booking_id", b.ID).
		Int64("car_id", b.CarID).
		Str("rental_type", string(b.RentalType)).
		Float64("covered_hours", b.CoveredHours).
		Msg("booking created")

	publish(s.eventBus, s.logger, events.EventBookingCreated, b.ID, bookingPayload(b, now))
	return b, nil
}

// RecordInspection stores the staff return inspection. A locked inspection
// without a timestamp is stamped with now.
func (s *BookingService) RecordInspection(ctx context.Context, id int64, inspection models.ReturnInspection, now time.Time) (*models.Booking, error) {
	if inspection.DamageCost < 0 {
		return nil, domain.Validationf(domain.ErrInvalidBooking, "damage cost must not be negative")
	}
	if inspection.Locked && inspection.InspectedAt == nil {
		inspection.InspectedAt = models.Ptr(now.UTC())
	}

	if err := s.repo.SetInspection(ctx, id, inspection); err != nil {
		return nil, storeErr(err, domain.ErrAlreadyCompleted)
	}
	return s.GetBooking(ctx, id)
}

// CancelBooking cancels a booking that has not finished yet.
func (s *BookingService) CancelBooking(ctx context.Context, id int64, now time.Time) (*models.Booking, error) {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, storeErr(err, nil)
	}
	if b.HasCompletionSignal() {
		return nil, domain.ErrAlreadyCompleted
	}
	if b.BookingStatus != models.BookingPending && b.BookingStatus != models.BookingConfirmed {
		return nil, domain.Validationf(domain.ErrInvalidBookingStatus, "status %s", b.BookingStatus)
	}

	patch := models.BookingPatch{
		BookingStatus: models.Ptr(models.BookingCancelled),
		CancelledAt:   models.Ptr(now),
	}
	guard := models.BookingGuard{
		Statuses: []models.BookingStatus{models.BookingPending, models.BookingConfirmed},
		Stages:   models.StagesUpTo(models.StageOverdue),
	}
	if err := s.repo.UpdateBookingFields(ctx, id, patch, guard); err != nil {
		return nil, storeErr(err, domain.ErrBookingConflict)
	}
	b.Apply(patch)

	s.logger.Info().Int64("booking_id", id).Msg("booking cancelled")
	return b, nil
}

func validateDraft(d BookingDraft) error {
	switch {
	case d.UserID <= 0 || d.CarID <= 0:
		return domain.Validationf(domain.ErrInvalidBooking, "user and car are required")
	case d.PickupAt.IsZero() || !d.DropAt.After(d.PickupAt):
		return domain.Validationf(domain.ErrInvalidBooking, "drop must be after pickup")
	case d.TotalAmount < 0 || d.PerDayPrice < 0 || d.AdvanceAmount < 0 || d.AdvancePaid < 0:
		return domain.Validationf(domain.ErrInvalidBooking, "amounts must not be negative")
	case d.GracePeriodHours < 0:
		return domain.Validationf(domain.ErrInvalidBooking, "grace period must not be negative")
	case d.RentalType != "" && d.RentalType != models.RentalStandard && d.RentalType != models.RentalSubscription:
		return domain.Validationf(domain.ErrInvalidBooking, "unknown rental type %q", d.RentalType)
	}
	return nil
}
