package events

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

const (
	EventBookingCreated      = "booking_created"
	EventStageChanged        = "stage_changed"
	EventSettlementCompleted = "settlement_completed"
	EventRefundProcessed     = "refund_processed"
	EventRefundRejected      = "refund_rejected"
)

// BookingEventPayload is the booking snapshot handed to subscribers.
type BookingEventPayload struct {
	BookingID     int64     `json:"booking_id"`
	UserID        int64     `json:"user_id"`
	CarID         int64     `json:"car_id"`
	DriverID      int64     `json:"driver_id,omitempty"`
	Stage         string    `json:"stage"`
	BookingStatus string    `json:"booking_status"`
	PaymentStatus string    `json:"payment_status"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// SettlementPayload describes a committed settlement.
type SettlementPayload struct {
	BookingEventPayload
	Amount    float64 `json:"amount"`
	Method    string  `json:"method"`
	LateFee   float64 `json:"late_fee"`
	Damage    float64 `json:"damage"`
	LateHours int64   `json:"late_hours"`
}

// RefundPayload describes a processed or rejected refund.
type RefundPayload struct {
	BookingEventPayload
	Amount float64 `json:"amount,omitempty"`
	Type   string  `json:"type,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

// StageChangedPayload is published when a recompute persists a higher stage.
type StageChangedPayload struct {
	BookingID int64   `json:"booking_id"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	LateHours int64   `json:"late_hours"`
	LateFee   float64 `json:"late_fee"`
}

type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

type EventHandler func(event *Event) error

// EventBus is an in-process pub/sub for post-commit events. Handlers run
// synchronously in subscription order.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish runs every handler for the event type. A failing handler does not
// stop the others; their errors are joined.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var errs []error
	for _, handler := range handlers {
		if err := handler(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishJSON serializes the payload and publishes an event. A nil bus is a no-op.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	return b.Publish(&event)
}

func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
