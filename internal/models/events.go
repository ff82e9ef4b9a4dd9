package models

import "time"

// Event types published to the reservation event stream
const (
	EventTypeHoldCreated        = "HOLD_CREATED"
	EventTypeAllocationCreated  = "ALLOCATION_CREATED"
	EventTypeHoldConverted      = "HOLD_CONVERTED"
	EventTypeHoldReleased       = "HOLD_RELEASED"
	EventTypeReservationExpired = "RESERVATION_EXPIRED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// ReservationEvent is published on every reservation lifecycle transition.
// The stream is diagnostic only; nothing in the core consumes it.
type ReservationEvent struct {
	BaseEvent
	ReservationID string                `json:"reservation_id"`
	ClientToken   string                `json:"client_token"`
	Status        string                `json:"status"`
	Items         []ReservationItemData `json:"items,omitempty"`
}

// ReservationItemData represents item data in events
type ReservationItemData struct {
	SKUID string `json:"sku_id"`
	Qty   int64  `json:"qty"`
}
