package worker

import (
	"context"
	"time"

	"rentalcore/internal/domain"
	"rentalcore/internal/events"

	"github.com/rs/zerolog"
)

const enqueueTimeout = 5 * time.Second

// SubscribeHooks turns committed booking events into hook tasks. Enqueue
// failures are logged; the event that triggered them is already durable.
func SubscribeHooks(bus *events.EventBus, queue domain.HookQueue, logger *zerolog.Logger) {
	bus.Subscribe(events.EventSettlementCompleted, func(e *events.Event) error {
		var p events.SettlementPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		tasks := []string{TaskReleaseCar}
		if p.DriverID != 0 {
			tasks = append(tasks, TaskReleaseDriver)
		}
		tasks = append(tasks, TaskGenerateDocument, TaskNotify, TaskLedgerAppend)
		enqueueAll(queue, logger, tasks, HookPayload{
			BookingID: p.BookingID,
			CarID:     p.CarID,
			DriverID:  p.DriverID,
			Kind:      KindSettlement,
		})
		return nil
	})

	bus.Subscribe(events.EventRefundProcessed, func(e *events.Event) error {
		var p events.RefundPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		enqueueAll(queue, logger, []string{TaskNotify, TaskLedgerAppend, TaskGenerateDocument}, HookPayload{
			BookingID: p.BookingID,
			Kind:      KindRefund,
		})
		return nil
	})

	bus.Subscribe(events.EventRefundRejected, func(e *events.Event) error {
		var p events.RefundPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		enqueueAll(queue, logger, []string{TaskNotify, TaskLedgerAppend}, HookPayload{
			BookingID: p.BookingID,
			Kind:      KindRefund,
		})
		return nil
	})
}

func enqueueAll(queue domain.HookQueue, logger *zerolog.Logger, tasks []string, payload HookPayload) {
	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()

	for _, taskType := range tasks {
		if err := queue.EnqueueTask(ctx, taskType, payload.BookingID, payload); err != nil {
			logger.Error().Err(err).
				Str("task_type", taskType).
				Int64("booking_id", payload.BookingID).
				Msg("failed to enqueue hook task")
		}
	}
}
