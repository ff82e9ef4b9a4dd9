package broker

import (
	"context"
	"fmt"

	"inventory-service/internal/models"
)

// EventPublisher publishes reservation lifecycle events. The stream is
// diagnostic only; nothing in the core consumes it and publish failures are
// left to the caller to log.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishReservationEvent publishes one lifecycle event keyed by reservation
func (ep *EventPublisher) PublishReservationEvent(ctx context.Context, event *models.ReservationEvent) error {
	key := fmt.Sprintf("reservation-%s", event.ReservationID)
	return ep.producer.PublishEvent(ctx, key, event)
}
