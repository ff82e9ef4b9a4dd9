package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"inventory-service/internal/lockpool"
	"inventory-service/internal/models"
	"inventory-service/internal/store"
	"inventory-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Strategy names selectable per request
const (
	StrategyOptimistic  = "optimistic"
	StrategyPessimistic = "pessimistic"
)

// Delta describes the counter movement for one SKU in a batch
type Delta struct {
	SKUID     string
	Reserved  int64
	Allocated int64
}

// Batch is one atomic set of ledger mutations plus its audit attribution
type Batch struct {
	ReservationID string
	Operation     string
	Actor         string
	Deltas        []Delta
}

// Strategy serializes conflicting ledger updates. ApplyBatch applies every
// delta and runs commit inside the same transaction; on any error no
// mutation persists. Implementations differ only in how they obtain
// exclusivity before touching the ledger.
type Strategy interface {
	Name() string
	ApplyBatch(ctx context.Context, batch Batch, commit func(tx store.Tx) error) error
}

// sortedDeltas returns a copy ordered by ascending SKU ID. Both strategies
// apply in this order so their end-states match and the pessimistic lock
// order is globally fixed.
func sortedDeltas(deltas []Delta) []Delta {
	out := make([]Delta, len(deltas))
	copy(out, deltas)
	sort.Slice(out, func(i, j int) bool { return out[i].SKUID < out[j].SKUID })
	return out
}

func applyAndAudit(ctx context.Context, tx store.Tx, batch Batch, d Delta, expectedVersion int64) error {
	after, err := tx.ApplyDelta(ctx, d.SKUID, d.Reserved, d.Allocated, expectedVersion)
	if err != nil {
		return err
	}

	delta := d.Reserved
	if d.Allocated != 0 {
		delta = d.Allocated
	}
	return tx.AppendAudit(ctx, &models.AuditRecord{
		ID:            uuid.New().String(),
		ReservationID: batch.ReservationID,
		SKUID:         d.SKUID,
		Operation:     batch.Operation,
		Delta:         delta,
		PrevReserved:  after.Reserved - d.Reserved,
		NewReserved:   after.Reserved,
		PrevAllocated: after.Allocated - d.Allocated,
		NewAllocated:  after.Allocated,
		Actor:         batch.Actor,
	})
}

// OptimisticStrategy detects conflicts after the fact: it snapshots every
// SKU's version, applies the batch against those versions in one
// transaction, and retries the whole batch from scratch when any apply
// reports a version conflict. It never blocks.
type OptimisticStrategy struct {
	store      store.Store
	maxRetries int
	logger     *zap.Logger
}

// NewOptimisticStrategy creates an optimistic strategy with the given retry ceiling
func NewOptimisticStrategy(st store.Store, maxRetries int) *OptimisticStrategy {
	return &OptimisticStrategy{
		store:      st,
		maxRetries: maxRetries,
		logger:     util.GetLogger(),
	}
}

// Name returns the strategy's selection name
func (s *OptimisticStrategy) Name() string { return StrategyOptimistic }

// ApplyBatch applies the batch, retrying on version conflicts up to the ceiling
func (s *OptimisticStrategy) ApplyBatch(ctx context.Context, batch Batch, commit func(tx store.Tx) error) error {
	start := time.Now()
	defer func() {
		util.StrategyApplyLatency.WithLabelValues(StrategyOptimistic).Observe(time.Since(start).Seconds())
	}()

	deltas := sortedDeltas(batch.Deltas)

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if attempt > 0 {
			util.OptimisticRetriesTotal.Inc()
		}

		versions := make(map[string]int64, len(deltas))
		for _, d := range deltas {
			inv, err := s.store.GetInventory(ctx, d.SKUID)
			if err != nil {
				return err
			}
			versions[d.SKUID] = inv.Version
		}

		err := s.store.WithTx(ctx, func(tx store.Tx) error {
			for _, d := range deltas {
				if err := applyAndAudit(ctx, tx, batch, d, versions[d.SKUID]); err != nil {
					return err
				}
			}
			return commit(tx)
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return err
		}

		s.logger.Debug("Version conflict, retrying batch",
			zap.String("reservation_id", batch.ReservationID),
			zap.Int("attempt", attempt+1))
	}

	return ErrConcurrencyExhausted
}

// PessimisticStrategy prevents conflicts up front: it acquires the keyed
// lock for every SKU in the batch in ascending order, then applies in a
// single pass. Acquisition blocks up to the configured timeout; locks are
// released on every exit path.
type PessimisticStrategy struct {
	store   store.Store
	locks   *lockpool.Pool
	timeout time.Duration
	logger  *zap.Logger
}

// NewPessimisticStrategy creates a pessimistic strategy over the shared lock pool
func NewPessimisticStrategy(st store.Store, locks *lockpool.Pool, timeout time.Duration) *PessimisticStrategy {
	return &PessimisticStrategy{
		store:   st,
		locks:   locks,
		timeout: timeout,
		logger:  util.GetLogger(),
	}
}

// Name returns the strategy's selection name
func (s *PessimisticStrategy) Name() string { return StrategyPessimistic }

// ApplyBatch locks every SKU, applies the batch once, and releases the locks
func (s *PessimisticStrategy) ApplyBatch(ctx context.Context, batch Batch, commit func(tx store.Tx) error) error {
	start := time.Now()
	defer func() {
		util.StrategyApplyLatency.WithLabelValues(StrategyPessimistic).Observe(time.Since(start).Seconds())
	}()

	deltas := sortedDeltas(batch.Deltas)

	keys := make([]string, len(deltas))
	for i, d := range deltas {
		keys[i] = d.SKUID
	}

	lockCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	release, err := s.locks.AcquireAll(lockCtx, keys)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			util.LockTimeoutsTotal.Inc()
			s.logger.Warn("Lock acquisition timed out",
				zap.String("reservation_id", batch.ReservationID),
				zap.Duration("timeout", s.timeout))
			return ErrLockTimeout
		}
		return err
	}
	defer release()

	return s.store.WithTx(ctx, func(tx store.Tx) error {
		for _, d := range deltas {
			// No concurrent writer can interleave while the keyed lock and
			// the row lock are held, so the version check trivially passes.
			inv, err := tx.GetInventoryForUpdate(ctx, d.SKUID)
			if err != nil {
				return err
			}
			if err := applyAndAudit(ctx, tx, batch, d, inv.Version); err != nil {
				return err
			}
		}
		return commit(tx)
	})
}
