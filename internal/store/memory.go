package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"inventory-service/internal/models"
)

// Memory is an in-process Store used by tests and the dependency-free demo
// mode. A single mutex serializes transactions; rollback restores a
// pre-transaction snapshot so failed batches leave no partial effects.
type Memory struct {
	mu           sync.Mutex
	skus         map[string]*models.SKU
	inventory    map[string]*models.Inventory
	reservations map[string]*models.Reservation
	byToken      map[string]string
	items        map[string][]models.ReservationItem
	audit        []models.AuditRecord
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		skus:         make(map[string]*models.SKU),
		inventory:    make(map[string]*models.Inventory),
		reservations: make(map[string]*models.Reservation),
		byToken:      make(map[string]string),
		items:        make(map[string][]models.ReservationItem),
	}
}

// Close is a no-op for the in-memory store
func (s *Memory) Close() error {
	return nil
}

type memSnapshot struct {
	inventory    map[string]*models.Inventory
	reservations map[string]*models.Reservation
	byToken      map[string]string
	items        map[string][]models.ReservationItem
	auditLen     int
}

func (s *Memory) snapshot() *memSnapshot {
	snap := &memSnapshot{
		inventory:    make(map[string]*models.Inventory, len(s.inventory)),
		reservations: make(map[string]*models.Reservation, len(s.reservations)),
		byToken:      make(map[string]string, len(s.byToken)),
		items:        make(map[string][]models.ReservationItem, len(s.items)),
		auditLen:     len(s.audit),
	}
	for k, v := range s.inventory {
		c := *v
		snap.inventory[k] = &c
	}
	for k, v := range s.reservations {
		c := *v
		snap.reservations[k] = &c
	}
	for k, v := range s.byToken {
		snap.byToken[k] = v
	}
	for k, v := range s.items {
		snap.items[k] = v
	}
	return snap
}

func (s *Memory) restore(snap *memSnapshot) {
	s.inventory = snap.inventory
	s.reservations = snap.reservations
	s.byToken = snap.byToken
	s.items = snap.items
	s.audit = s.audit[:snap.auditLen]
}

// WithTx runs fn under the store mutex, rolling every write back on error
func (s *Memory) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&memTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// CreateSKU registers a SKU and seeds its inventory record
func (s *Memory) CreateSKU(ctx context.Context, sku *models.SKU, initialQty int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	sku.CreatedAt = now
	c := *sku
	s.skus[sku.ID] = &c
	s.inventory[sku.ID] = &models.Inventory{
		SKUID:     sku.ID,
		TotalQty:  initialQty,
		Version:   1,
		UpdatedAt: now,
	}
	return nil
}

// GetSKU retrieves a SKU by ID
func (s *Memory) GetSKU(ctx context.Context, skuID string) (*models.SKU, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sku, ok := s.skus[skuID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *sku
	return &c, nil
}

// ListSKUs retrieves all SKUs ordered by code
func (s *Memory) ListSKUs(ctx context.Context) ([]models.SKU, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	skus := make([]models.SKU, 0, len(s.skus))
	for _, sku := range s.skus {
		skus = append(skus, *sku)
	}
	sort.Slice(skus, func(i, j int) bool { return skus[i].Code < skus[j].Code })
	return skus, nil
}

// GetInventory retrieves inventory for a SKU
func (s *Memory) GetInventory(ctx context.Context, skuID string) (*models.Inventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getInventoryLocked(skuID)
}

func (s *Memory) getInventoryLocked(skuID string) (*models.Inventory, error) {
	inv, ok := s.inventory[skuID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *inv
	return &c, nil
}

// ListInventory retrieves inventory records; all SKUs when skuIDs is empty
func (s *Memory) ListInventory(ctx context.Context, skuIDs []string) ([]models.Inventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var invs []models.Inventory
	if len(skuIDs) == 0 {
		for _, inv := range s.inventory {
			invs = append(invs, *inv)
		}
	} else {
		for _, id := range skuIDs {
			if inv, ok := s.inventory[id]; ok {
				invs = append(invs, *inv)
			}
		}
	}
	sort.Slice(invs, func(i, j int) bool { return invs[i].SKUID < invs[j].SKUID })
	return invs, nil
}

// GetReservationByID retrieves a reservation by ID
func (s *Memory) GetReservationByID(ctx context.Context, id string) (*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *r
	return &c, nil
}

// GetReservationByToken retrieves a reservation by its client token
func (s *Memory) GetReservationByToken(ctx context.Context, token string) (*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	c := *s.reservations[id]
	return &c, nil
}

// GetReservationItems retrieves all items for a reservation
func (s *Memory) GetReservationItems(ctx context.Context, reservationID string) ([]models.ReservationItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]models.ReservationItem, len(s.items[reservationID]))
	copy(items, s.items[reservationID])
	sort.Slice(items, func(i, j int) bool { return items[i].SKUID < items[j].SKUID })
	return items, nil
}

// ListExpiredHolds retrieves HELD reservations whose expiry has passed
func (s *Memory) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rs []models.Reservation
	for _, r := range s.reservations {
		if r.Status == models.StatusHeld && r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
			rs = append(rs, *r)
		}
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].ExpiresAt.Before(*rs[j].ExpiresAt) })
	if limit > 0 && len(rs) > limit {
		rs = rs[:limit]
	}
	return rs, nil
}

// ListAuditByReservation retrieves audit records for a reservation
func (s *Memory) ListAuditByReservation(ctx context.Context, reservationID string) ([]models.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recs []models.AuditRecord
	for _, rec := range s.audit {
		if rec.ReservationID == reservationID {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

// memTx operates on the live maps; the store mutex is held for the whole
// transaction by WithTx.
type memTx struct {
	s *Memory
}

func (t *memTx) GetInventory(ctx context.Context, skuID string) (*models.Inventory, error) {
	return t.s.getInventoryLocked(skuID)
}

func (t *memTx) GetInventoryForUpdate(ctx context.Context, skuID string) (*models.Inventory, error) {
	// The transaction mutex already excludes every other writer.
	return t.s.getInventoryLocked(skuID)
}

func (t *memTx) ApplyDelta(ctx context.Context, skuID string, reservedDelta, allocatedDelta, expectedVersion int64) (*models.Inventory, error) {
	inv, ok := t.s.inventory[skuID]
	if !ok {
		return nil, ErrNotFound
	}
	if inv.Version != expectedVersion {
		return nil, ErrVersionConflict
	}

	newReserved := inv.Reserved + reservedDelta
	newAllocated := inv.Allocated + allocatedDelta
	if newReserved < 0 || newAllocated < 0 || newReserved+newAllocated > inv.TotalQty {
		return nil, ErrInsufficientInventory
	}

	inv.Reserved = newReserved
	inv.Allocated = newAllocated
	inv.Version++
	inv.UpdatedAt = time.Now().UTC()

	c := *inv
	return &c, nil
}

func (t *memTx) CreateReservation(ctx context.Context, r *models.Reservation, items []models.ReservationItem) error {
	if _, taken := t.s.byToken[r.ClientToken]; taken {
		return ErrDuplicateToken
	}

	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	c := *r
	t.s.reservations[r.ID] = &c
	t.s.byToken[r.ClientToken] = r.ID

	stored := make([]models.ReservationItem, len(items))
	copy(stored, items)
	t.s.items[r.ID] = stored
	return nil
}

func (t *memTx) TransitionReservation(ctx context.Context, reservationID, from, to string, completedAt *time.Time) error {
	r, ok := t.s.reservations[reservationID]
	if !ok {
		return ErrNotFound
	}
	if r.Status != from {
		return ErrInvalidState
	}

	r.Status = to
	if completedAt != nil {
		c := *completedAt
		r.CompletedAt = &c
	}
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *memTx) AppendAudit(ctx context.Context, rec *models.AuditRecord) error {
	c := *rec
	c.CreatedAt = time.Now().UTC()
	t.s.audit = append(t.s.audit, c)
	return nil
}
