package models

import "time"

// SKU represents a stock-keeping unit in the catalog
type SKU struct {
	ID        string    `db:"sku_id" json:"sku_id"`
	Code      string    `db:"sku_code" json:"sku_code"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Inventory represents the canonical counters for one SKU.
// Available quantity is derived as total - reserved - allocated and
// must never go negative; version increments on every successful mutation.
type Inventory struct {
	SKUID     string    `db:"sku_id" json:"sku_id"`
	TotalQty  int64     `db:"total_qty" json:"total_qty"`
	Reserved  int64     `db:"reserved_qty" json:"reserved_qty"`
	Allocated int64     `db:"allocated_qty" json:"allocated_qty"`
	Version   int64     `db:"version" json:"version"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Available returns the derived available quantity
func (inv *Inventory) Available() int64 {
	return inv.TotalQty - inv.Reserved - inv.Allocated
}

// Reservation represents a hold or allocation header
type Reservation struct {
	ID          string     `db:"reservation_id" json:"reservation_id"`
	ClientToken string     `db:"client_token" json:"client_token"`
	Status      string     `db:"status" json:"status"`
	Type        string     `db:"type" json:"type"`
	TotalItems  int        `db:"total_items" json:"total_items"`
	ExpiresAt   *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// ReservationItem represents one (reservation, SKU) line.
// Items are immutable once the reservation is created.
type ReservationItem struct {
	ID            string `db:"reservation_item_id" json:"reservation_item_id"`
	ReservationID string `db:"reservation_id" json:"reservation_id"`
	SKUID         string `db:"sku_id" json:"sku_id"`
	Qty           int64  `db:"qty" json:"qty"`
}

// AuditRecord is an append-only fact about one counter mutation
type AuditRecord struct {
	ID            string    `db:"audit_id" json:"audit_id"`
	ReservationID string    `db:"reservation_id" json:"reservation_id,omitempty"`
	SKUID         string    `db:"sku_id" json:"sku_id"`
	Operation     string    `db:"operation" json:"operation"`
	Delta         int64     `db:"delta" json:"delta"`
	PrevReserved  int64     `db:"prev_reserved_qty" json:"prev_reserved_qty"`
	NewReserved   int64     `db:"new_reserved_qty" json:"new_reserved_qty"`
	PrevAllocated int64     `db:"prev_allocated_qty" json:"prev_allocated_qty"`
	NewAllocated  int64     `db:"new_allocated_qty" json:"new_allocated_qty"`
	Actor         string    `db:"actor" json:"actor"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Availability is the reporter's per-SKU snapshot
type Availability struct {
	SKUID     string `json:"sku_id"`
	TotalQty  int64  `json:"total_qty"`
	Reserved  int64  `json:"reserved_qty"`
	Allocated int64  `json:"allocated_qty"`
	Available int64  `json:"available_qty"`
	Version   int64  `json:"version"`
}

// InconsistentSKU describes one SKU failing the consistency check
type InconsistentSKU struct {
	SKUID     string `json:"sku_id"`
	Issue     string `json:"issue"`
	TotalQty  int64  `json:"total_qty"`
	Reserved  int64  `json:"reserved_qty"`
	Allocated int64  `json:"allocated_qty"`
	Available int64  `json:"available_qty"`
}

// ConsistencyReport aggregates the consistency check over all SKUs
type ConsistencyReport struct {
	Consistent   bool              `json:"is_consistent"`
	TotalSKUs    int               `json:"total_skus"`
	Inconsistent []InconsistentSKU `json:"inconsistent_skus"`
	CheckedAt    time.Time         `json:"checked_at"`
}

// Reservation statuses
const (
	StatusPending   = "PENDING"
	StatusHeld      = "HELD"
	StatusAllocated = "ALLOCATED"
	StatusReleased  = "RELEASED"
	StatusExpired   = "EXPIRED"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
)

// IsTerminalStatus reports whether no transition out of status is legal
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusAllocated, StatusReleased, StatusExpired, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Reservation types
const (
	TypeHold     = "HOLD"
	TypeAllocate = "ALLOCATE"
)

// Audit operations
const (
	OpHoldCreated  = "HOLD_CREATED"
	OpHoldReleased = "HOLD_RELEASED"
	OpAllocated    = "ALLOCATED"
	OpExpired      = "EXPIRED"
)
