package events

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"seasonbook/internal/models"
)

const (
	EventBookingCreated    = "booking.created"
	EventBookingUpdated    = "booking.updated"
	EventBookingConfirmed  = "booking.confirmed"
	EventBookingPaid       = "booking.paid"
	EventBookingCompleted  = "booking.completed"
	EventBookingCancelled  = "booking.cancelled"
	EventBookingNoShow     = "booking.no_show"
	EventBookingDeleted    = "booking.deleted"
	EventPaymentRecorded   = "booking.payment_recorded"
	EventEquipmentRented   = "equipment.rented"
	EventEquipmentReturned = "equipment.returned"
	EventLoyaltyUpdated    = "client.loyalty_updated"
	EventFeedbackRequested = "client.feedback_requested"

	// AllEvents subscribes a handler to every event type.
	AllEvents = "*"
)

var statusEvents = map[models.Status]string{
	models.StatusConfirmed: EventBookingConfirmed,
	models.StatusPaid:      EventBookingPaid,
	models.StatusCompleted: EventBookingCompleted,
	models.StatusCancelled: EventBookingCancelled,
	models.StatusNoShow:    EventBookingNoShow,
}

// StatusEvent returns the event published when a booking enters status.
func StatusEvent(status models.Status) string {
	if e, ok := statusEvents[status]; ok {
		return e
	}
	return EventBookingUpdated
}

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID      int64              `json:"booking_id"`
	Reference      string             `json:"reference"`
	SeasonID       int64              `json:"season_id"`
	SchoolID       int64              `json:"school_id"`
	ClientID       int64              `json:"client_id"`
	Type           models.BookingType `json:"type"`
	Status         models.Status      `json:"status"`
	PreviousStatus models.Status      `json:"previous_status,omitempty"`
	TotalPrice     float64            `json:"total_price"`
	Currency       string             `json:"currency"`
	StartDate      time.Time          `json:"start_date"`
	EndDate        time.Time          `json:"end_date"`
	Reason         string             `json:"reason,omitempty"`
	RefundAmount   float64            `json:"refund_amount,omitempty"`
	OccurredAt     time.Time          `json:"occurred_at"`
}

// NewBookingPayload snapshots b.
func NewBookingPayload(b *models.Booking, previous models.Status, at time.Time) BookingEventPayload {
	return BookingEventPayload{
		BookingID:      b.ID,
		Reference:      b.Reference,
		SeasonID:       b.SeasonID,
		SchoolID:       b.SchoolID,
		ClientID:       b.ClientID,
		Type:           b.Type,
		Status:         b.Status,
		PreviousStatus: previous,
		TotalPrice:     b.TotalPrice,
		Currency:       b.Currency,
		StartDate:      b.StartDate,
		EndDate:        b.EndDate,
		Reason:         b.CancellationReason,
		RefundAmount:   b.RefundAmount,
		OccurredAt:     at,
	}
}

type EquipmentEventPayload struct {
	BookingID     int64            `json:"booking_id"`
	Reference     string           `json:"reference"`
	SeasonID      int64            `json:"season_id"`
	SchoolID      int64            `json:"school_id"`
	EquipmentID   int64            `json:"equipment_id"`
	EquipmentType string           `json:"equipment_type"`
	Condition     models.Condition `json:"condition"`
	DamageFee     float64          `json:"damage_fee,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

type PaymentEventPayload struct {
	BookingID   int64                `json:"booking_id"`
	Reference   string               `json:"reference"`
	SeasonID    int64                `json:"season_id"`
	SchoolID    int64                `json:"school_id"`
	PaymentID   int64                `json:"payment_id"`
	Amount      float64              `json:"amount"`
	PaymentType models.PaymentType   `json:"payment_type"`
	Status      models.PaymentStatus `json:"status"`
	PaidAmount  float64              `json:"paid_amount"`
	OccurredAt  time.Time            `json:"occurred_at"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type, or for AllEvents.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish runs every matching handler synchronously and joins their errors.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.subscribers[AllEvents]...)
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

// PublishJSON serializes the payload and publishes an event.
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

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
