package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"inventory-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Postgres is the production Store backed by PostgreSQL
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres connects to the database and returns a Postgres store
func NewPostgres(databaseURL string) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{db: db}, nil
}

// Close closes the database connection
func (s *Postgres) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a single database transaction
func (s *Postgres) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateSKU registers a SKU and seeds its inventory record
func (s *Postgres) CreateSKU(ctx context.Context, sku *models.SKU, initialQty int64) error {
	return s.WithTx(ctx, func(tx Tx) error {
		pt := tx.(*pgTx)
		query := `
			INSERT INTO skus (sku_id, sku_code, name)
			VALUES ($1, $2, $3)
			RETURNING created_at`
		if err := pt.tx.GetContext(ctx, &sku.CreatedAt, query, sku.ID, sku.Code, sku.Name); err != nil {
			return fmt.Errorf("failed to create sku: %w", err)
		}

		_, err := pt.tx.ExecContext(ctx,
			`INSERT INTO inventory (sku_id, total_qty, reserved_qty, allocated_qty, version)
			 VALUES ($1, $2, 0, 0, 1)`,
			sku.ID, initialQty)
		if err != nil {
			return fmt.Errorf("failed to seed inventory: %w", err)
		}
		return nil
	})
}

// GetSKU retrieves a SKU by ID
func (s *Postgres) GetSKU(ctx context.Context, skuID string) (*models.SKU, error) {
	var sku models.SKU
	err := s.db.GetContext(ctx, &sku, "SELECT * FROM skus WHERE sku_id = $1", skuID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sku, nil
}

// ListSKUs retrieves all SKUs
func (s *Postgres) ListSKUs(ctx context.Context) ([]models.SKU, error) {
	var skus []models.SKU
	err := s.db.SelectContext(ctx, &skus, "SELECT * FROM skus ORDER BY sku_code")
	return skus, err
}

// GetInventory retrieves inventory for a SKU
func (s *Postgres) GetInventory(ctx context.Context, skuID string) (*models.Inventory, error) {
	var inv models.Inventory
	err := s.db.GetContext(ctx, &inv, "SELECT * FROM inventory WHERE sku_id = $1", skuID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListInventory retrieves inventory records; all SKUs when skuIDs is empty
func (s *Postgres) ListInventory(ctx context.Context, skuIDs []string) ([]models.Inventory, error) {
	var invs []models.Inventory
	if len(skuIDs) == 0 {
		err := s.db.SelectContext(ctx, &invs, "SELECT * FROM inventory ORDER BY sku_id")
		return invs, err
	}

	query, args, err := sqlx.In("SELECT * FROM inventory WHERE sku_id IN (?) ORDER BY sku_id", skuIDs)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)
	err = s.db.SelectContext(ctx, &invs, query, args...)
	return invs, err
}

// GetReservationByID retrieves a reservation by ID
func (s *Postgres) GetReservationByID(ctx context.Context, id string) (*models.Reservation, error) {
	var r models.Reservation
	err := s.db.GetContext(ctx, &r, "SELECT * FROM reservations WHERE reservation_id = $1", id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetReservationByToken retrieves a reservation by its client token
func (s *Postgres) GetReservationByToken(ctx context.Context, token string) (*models.Reservation, error) {
	var r models.Reservation
	err := s.db.GetContext(ctx, &r, "SELECT * FROM reservations WHERE client_token = $1", token)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetReservationItems retrieves all items for a reservation
func (s *Postgres) GetReservationItems(ctx context.Context, reservationID string) ([]models.ReservationItem, error) {
	var items []models.ReservationItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM reservation_items WHERE reservation_id = $1 ORDER BY sku_id", reservationID)
	return items, err
}

// ListExpiredHolds retrieves HELD reservations whose expiry has passed
func (s *Postgres) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error) {
	var rs []models.Reservation
	err := s.db.SelectContext(ctx, &rs,
		`SELECT * FROM reservations
		 WHERE status = $1 AND expires_at <= $2
		 ORDER BY expires_at
		 LIMIT $3`,
		models.StatusHeld, now, limit)
	return rs, err
}

// ListAuditByReservation retrieves audit records for a reservation
func (s *Postgres) ListAuditByReservation(ctx context.Context, reservationID string) ([]models.AuditRecord, error) {
	var recs []models.AuditRecord
	err := s.db.SelectContext(ctx, &recs,
		"SELECT * FROM audit_log WHERE reservation_id = $1 ORDER BY created_at", reservationID)
	return recs, err
}

type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) GetInventory(ctx context.Context, skuID string) (*models.Inventory, error) {
	var inv models.Inventory
	err := t.tx.GetContext(ctx, &inv, "SELECT * FROM inventory WHERE sku_id = $1", skuID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (t *pgTx) GetInventoryForUpdate(ctx context.Context, skuID string) (*models.Inventory, error) {
	var inv models.Inventory
	err := t.tx.GetContext(ctx, &inv, "SELECT * FROM inventory WHERE sku_id = $1 FOR UPDATE", skuID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock inventory: %w", err)
	}
	return &inv, nil
}

func (t *pgTx) ApplyDelta(ctx context.Context, skuID string, reservedDelta, allocatedDelta, expectedVersion int64) (*models.Inventory, error) {
	var inv models.Inventory
	err := t.tx.GetContext(ctx, &inv,
		`UPDATE inventory
		 SET reserved_qty = reserved_qty + $1,
		     allocated_qty = allocated_qty + $2,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE sku_id = $3 AND version = $4
		   AND reserved_qty + $1 >= 0
		   AND allocated_qty + $2 >= 0
		   AND reserved_qty + $1 + allocated_qty + $2 <= total_qty
		 RETURNING *`,
		reservedDelta, allocatedDelta, skuID, expectedVersion)
	if err == nil {
		return &inv, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to apply inventory delta: %w", err)
	}

	// Nothing updated: tell version conflicts apart from invariant violations.
	current, rerr := t.GetInventory(ctx, skuID)
	if rerr != nil {
		return nil, rerr
	}
	if current.Version != expectedVersion {
		return nil, ErrVersionConflict
	}
	return nil, ErrInsufficientInventory
}

func (t *pgTx) CreateReservation(ctx context.Context, r *models.Reservation, items []models.ReservationItem) error {
	query := `
		INSERT INTO reservations (reservation_id, client_token, status, type, total_items, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	err := t.tx.QueryRowxContext(ctx, query,
		r.ID, r.ClientToken, r.Status, r.Type, r.TotalItems, r.ExpiresAt).
		Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateToken
		}
		return fmt.Errorf("failed to create reservation: %w", err)
	}

	for i := range items {
		_, err := t.tx.ExecContext(ctx,
			`INSERT INTO reservation_items (reservation_item_id, reservation_id, sku_id, qty)
			 VALUES ($1, $2, $3, $4)`,
			items[i].ID, items[i].ReservationID, items[i].SKUID, items[i].Qty)
		if err != nil {
			return fmt.Errorf("failed to create reservation item: %w", err)
		}
	}
	return nil
}

func (t *pgTx) TransitionReservation(ctx context.Context, reservationID, from, to string, completedAt *time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE reservations
		 SET status = $1, completed_at = COALESCE($2, completed_at), updated_at = NOW()
		 WHERE reservation_id = $3 AND status = $4`,
		to, completedAt, reservationID, from)
	if err != nil {
		return fmt.Errorf("failed to transition reservation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	var exists bool
	if err := t.tx.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM reservations WHERE reservation_id = $1)", reservationID); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidState
}

func (t *pgTx) AppendAudit(ctx context.Context, rec *models.AuditRecord) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO audit_log (audit_id, reservation_id, sku_id, operation, delta,
		                        prev_reserved_qty, new_reserved_qty, prev_allocated_qty, new_allocated_qty, actor)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.ReservationID, rec.SKUID, rec.Operation, rec.Delta,
		rec.PrevReserved, rec.NewReserved, rec.PrevAllocated, rec.NewAllocated, rec.Actor)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}
