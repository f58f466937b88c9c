package service

import (
	"time"

	"rentalcore/internal/domain"
	"rentalcore/internal/events"
	"rentalcore/internal/models"

	"github.com/rs/zerolog"
)

func bookingPayload(b *models.Booking, now time.Time) events.BookingEventPayload {
	return events.BookingEventPayload{
		BookingID:     b.ID,
		UserID:        b.UserID,
		CarID:         b.CarID,
		DriverID:      b.DriverID,
		Stage:         string(b.RentalStage),
		BookingStatus: string(b.BookingStatus),
		PaymentStatus: string(b.PaymentStatus),
		OccurredAt:    now,
	}
}

// publish never fails the caller; the state change is already committed.
func publish(bus domain.EventPublisher, logger *zerolog.Logger, eventType string, bookingID int64, payload interface{}) {
	if bus == nil {
		return
	}
	if err := bus.PublishJSON(eventType, payload); err != nil {
		logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", bookingID).Msg("publish event error")
	}
}
