package service

import (
	"context"
	"errors"
	"time"

	"rentalcore/internal/database"
	"rentalcore/internal/domain"
	"rentalcore/internal/events"
	"rentalcore/internal/lifecycle"
	"rentalcore/internal/metrics"
	"rentalcore/internal/models"

	"github.com/rs/zerolog"
)

// StageService persists stage engine results.
type StageService struct {
	repo     domain.BookingRepository
	eventBus domain.EventPublisher
	logger   *zerolog.Logger
}

func NewStageService(repo domain.BookingRepository, eventBus domain.EventPublisher, logger *zerolog.Logger) *StageService {
	return &StageService{
		repo:     repo,
		eventBus: eventBus,
		logger:   logger,
	}
}

// Recompute loads the booking, evaluates it at now and writes back whatever changed.
func (s *StageService) Recompute(ctx context.Context, bookingID int64, now time.Time) (*models.Booking, error) {
	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeErr(err, nil)
	}
	if _, err := s.Apply(ctx, b, now); err != nil {
		return nil, err
	}
	return b, nil
}

// Apply evaluates b at now and persists the diff. b is updated in place on
// success. It reports whether anything was written. Losing the stage guard
// to a writer that already moved further is not an error. Only confirmed
// bookings are evaluated; cancelled ones never accrue late fees.
func (s *StageService) Apply(ctx context.Context, b *models.Booking, now time.Time) (bool, error) {
	if b.BookingStatus != models.BookingConfirmed {
		return false, nil
	}

	snap := lifecycle.SnapshotOf(b)
	result := lifecycle.Compute(snap, now)
	patch := result.Diff(snap)
	if patch.IsEmpty() {
		return false, nil
	}

	guard := models.BookingGuard{
		Statuses: []models.BookingStatus{models.BookingConfirmed},
		Stages:   models.StagesUpTo(result.Stage),
	}
	err := s.repo.UpdateBookingFields(ctx, b.ID, patch, guard)
	if errors.Is(err, database.ErrConditionFailed) {
		s.logger.Debug().Int64("booking_id", b.ID).Str("stage", string(result.Stage)).Msg("stage already advanced elsewhere")
		return false, nil
	}
	if err != nil {
		return false, storeErr(err, nil)
	}

	from := b.RentalStage
	b.Apply(patch)

	if patch.RentalStage != nil {
		metrics.IncStageTransition(string(result.Stage))
		s.logger.Info().
			Int64("booking_id", b.ID).
			Str("from", string(from)).
			Str("to", string(result.Stage)).
			Int64("late_hours", result.LateHours).
			Float64("late_fee", result.LateFee).
			Msg("rental stage changed")
		publish(s.eventBus, s.logger, events.EventStageChanged, b.ID, events.StageChangedPayload{
			BookingID: b.ID,
			From:      string(from),
			To:        string(result.Stage),
			LateHours: result.LateHours,
			LateFee:   result.LateFee,
		})
	}
	return true, nil
}

// Sweep re-evaluates up to batch open bookings. Per-booking failures are
// logged and skipped. It returns how many bookings were updated.
func (s *StageService) Sweep(ctx context.Context, now time.Time, batch int) (int, error) {
	bookings, err := s.repo.ListOpenBookings(ctx, batch)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, b := range bookings {
		if ctx.Err() != nil {
			return updated, ctx.Err()
		}
		changed, err := s.Apply(ctx, b, now)
		if err != nil {
			s.logger.Error().Err(err).Int64("booking_id", b.ID).Msg("stage sweep failed for booking")
			continue
		}
		if changed {
			updated++
		}
	}
	return updated, nil
}
