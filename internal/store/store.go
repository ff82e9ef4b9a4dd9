package store

import (
	"context"
	"errors"
	"time"

	"inventory-service/internal/models"
)

// Sentinel errors surfaced by both backends. Callers match with errors.Is.
var (
	ErrNotFound              = errors.New("not found")
	ErrDuplicateToken        = errors.New("duplicate client token")
	ErrVersionConflict       = errors.New("inventory version conflict")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrInvalidState          = errors.New("invalid reservation state")
)

// Store is the persistence contract shared by the Postgres and in-memory
// backends. Reads outside a transaction are snapshot reads; all writes go
// through WithTx so a batch either fully commits or fully aborts.
type Store interface {
	// WithTx runs fn inside a single transaction. Any error returned by fn
	// rolls back every write performed through the Tx.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	CreateSKU(ctx context.Context, sku *models.SKU, initialQty int64) error
	GetSKU(ctx context.Context, skuID string) (*models.SKU, error)
	ListSKUs(ctx context.Context) ([]models.SKU, error)

	GetInventory(ctx context.Context, skuID string) (*models.Inventory, error)
	ListInventory(ctx context.Context, skuIDs []string) ([]models.Inventory, error)

	GetReservationByID(ctx context.Context, id string) (*models.Reservation, error)
	GetReservationByToken(ctx context.Context, token string) (*models.Reservation, error)
	GetReservationItems(ctx context.Context, reservationID string) ([]models.ReservationItem, error)
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error)
	ListAuditByReservation(ctx context.Context, reservationID string) ([]models.AuditRecord, error)

	Close() error
}

// Tx exposes the writes that must happen atomically.
type Tx interface {
	GetInventory(ctx context.Context, skuID string) (*models.Inventory, error)

	// GetInventoryForUpdate reads the inventory row under an exclusive row
	// lock held until the transaction ends.
	GetInventoryForUpdate(ctx context.Context, skuID string) (*models.Inventory, error)

	// ApplyDelta moves the counters iff the stored version equals
	// expectedVersion and the resulting counters keep
	// reserved + allocated <= total with no counter negative. On success the
	// version increments by exactly one and the post-apply record is
	// returned; on failure nothing is mutated and ErrVersionConflict or
	// ErrInsufficientInventory is returned.
	ApplyDelta(ctx context.Context, skuID string, reservedDelta, allocatedDelta, expectedVersion int64) (*models.Inventory, error)

	// CreateReservation persists the header with its full item set.
	// ErrDuplicateToken if the client token is already taken.
	CreateReservation(ctx context.Context, r *models.Reservation, items []models.ReservationItem) error

	// TransitionReservation flips status only if the row is still in from,
	// so concurrent transitions get exactly one winner. ErrInvalidState if
	// the row has already left from.
	TransitionReservation(ctx context.Context, reservationID, from, to string, completedAt *time.Time) error

	AppendAudit(ctx context.Context, rec *models.AuditRecord) error
}
