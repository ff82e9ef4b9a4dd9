package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"inventory-service/internal/lockpool"
	"inventory-service/internal/models"
	"inventory-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, totals map[string]int64) (*ReservationService, *store.Memory) {
	t.Helper()
	s := newTestStore(t, totals)
	strategies := map[string]Strategy{
		StrategyOptimistic:  NewOptimisticStrategy(s, 3),
		StrategyPessimistic: NewPessimisticStrategy(s, lockpool.New(), time.Second),
	}
	svc := NewReservationService(s, strategies, nil, nil, 5*time.Minute)
	return svc, s
}

func requireCounters(t *testing.T, s *store.Memory, skuID string, reserved, allocated int64) {
	t.Helper()
	inv, err := s.GetInventory(context.Background(), skuID)
	require.NoError(t, err)
	assert.Equal(t, reserved, inv.Reserved, "reserved for %s", skuID)
	assert.Equal(t, allocated, inv.Allocated, "allocated for %s", skuID)
}

// End-to-end walk: hold, idempotent replay, convert, and an oversized hold
// that must bounce without moving anything.
func TestHoldConvertScenario(t *testing.T) {
	svc, s := newTestService(t, map[string]int64{"sku-x": 100})
	ctx := context.Background()

	hold, err := svc.CreateHold(ctx, &HoldRequest{
		ClientToken: "t1",
		Items:       []ItemRequest{{SKUID: "sku-x", Qty: 10}},
		Strategy:    StrategyOptimistic,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusHeld, hold.Status)
	assert.Equal(t, models.TypeHold, hold.Type)
	require.NotNil(t, hold.ExpiresAt)
	requireCounters(t, s, "sku-x", 10, 0)

	// Identical token replays the original; the ledger does not move.
	replayed, err := svc.CreateHold(ctx, &HoldRequest{
		ClientToken: "t1",
		Items:       []ItemRequest{{SKUID: "sku-x", Qty: 10}},
	})
	require.NoError(t, err)
	assert.Equal(t, hold.ID, replayed.ID)
	requireCounters(t, s, "sku-x", 10, 0)

	converted, err := svc.Convert(ctx, hold.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAllocated, converted.Status)
	require.NotNil(t, converted.CompletedAt)
	requireCounters(t, s, "sku-x", 0, 10)

	// 200 > 90 available: rejected, nothing moves.
	_, err = svc.CreateHold(ctx, &HoldRequest{
		ClientToken: "t2",
		Items:       []ItemRequest{{SKUID: "sku-x", Qty: 200}},
	})
	assert.ErrorIs(t, err, ErrInsufficientInventory)
	requireCounters(t, s, "sku-x", 0, 10)
}

func TestIdempotencyIgnoresDifferingPayload(t *testing.T) {
	svc, s := newTestService(t, map[string]int64{"sku-a": 100, "sku-b": 100})
	ctx := context.Background()

	first, err := svc.CreateHold(ctx, &HoldRequest{
		ClientToken: "tok",
		Items:       []ItemRequest{{SKUID: "sku-a", Qty: 10}},
	})
	require.NoError(t, err)

	// Same token, different items and even a different operation: the
	// original reservation wins and nothing else is touched.
	second, err := svc.CreateHold(ctx, &HoldRequest{
		ClientToken: "tok",
		Items:       []ItemRequest{{SKUID: "sku-b", Qty: 99}},
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	third, err := svc.CreateAllocation(ctx, &AllocationRequest{
		ClientToken: "tok",
		Items:       []ItemRequest{{SKUID: "sku-b", Qty: 99}},
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)

	requireCounters(t, s, "sku-a", 10, 0)
	requireCounters(t, s, "sku-b", 0, 0)
}

func TestConcurrentSameTokenYieldsOneReservation(t *testing.T) {
	svc, s := newTestService(t, map[string]int64{"sku-a": 1000})

	const workers = 10
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			detail, err := svc.CreateHold(context.Background(), &HoldRequest{
				ClientToken: "shared",
				Items:       []ItemRequest{{SKUID: "sku-a", Qty: 7}},
			})
			if assert.NoError(t, err) {
				ids[n] = detail.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
	// Exactly one set of ledger mutations.
	requireCounters(t, s, "sku-a", 7, 0)
}

func TestHoldValidation(t *testing.T) {
	svc, _ := newTestService(t, map[string]int64{"sku-a": 100})
	ctx := context.Background()

	_, err := svc.CreateHold(ctx, &HoldRequest{Items: nil})
	assert.ErrorIs(t, err, ErrEmptyBatch)

	_, err = svc.CreateHold(ctx, &HoldRequest{Items: []ItemRequest{{SKUID: "sku-a", Qty: 0}}})
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.CreateHold(ctx, &HoldRequest{Items: []ItemRequest{{SKUID: "sku-a", Qty: 1}, {SKUID: "sku-a", Qty: 2}}})
	assert.ErrorIs(t, err, ErrDuplicateItem)

	_, err = svc.CreateHold(ctx, &HoldRequest{Items: []ItemRequest{{SKUID: "missing", Qty: 1}}})
	assert.ErrorIs(t, err, ErrSKUNotFound)

	_, err = svc.CreateHold(ctx, &HoldRequest{
		Items:    []ItemRequest{{SKUID: "sku-a", Qty: 1}},
		Strategy: "hopeful",
	})
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestBatchAtomicityAcrossSKUs(t *testing.T) {
	svc, s := newTestService(t, map[string]int64{"sku-a": 100, "sku-b": 3})
	ctx := context.Background()

	for _, strategy := range []string{StrategyOptimistic, StrategyPessimistic} {
		_, err := svc.CreateHold(ctx, &HoldRequest{
			ClientToken: "tok-" + strategy,
			Items: []ItemRequest{
				{SKUID: "sku-a", Qty: 10},
				{SKUID: "sku-b", Qty: 10},
			},
			Strategy: strategy,
		})
		assert.ErrorIs(t, err, ErrInsufficientInventory, strategy)

		requireCounters(t, s, "sku-a", 0, 0)
		requireCounters(t, s, "sku-b", 0, 0)

		// No reservation may survive a rejected batch.
		_, err = s.GetReservationByToken(ctx, "tok-"+strategy)
		assert.ErrorIs(t, err, store.ErrNotFound, strategy)
	}
}

func TestCreateAllocationDirect(t *testing.T) {
	svc, s := newTestService(t, map[string]int64{"sku-a": 100})
	ctx := context.Background()

	alloc, err := svc.CreateAllocation(ctx, &AllocationRequest{
		ClientToken: "tok",
		Items:       []ItemRequest{{SKUID: "sku-a", Qty: 25}},
		Strategy:    StrategyPessimistic,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusAllocated, alloc.Status)
	assert.Equal(t, models.TypeAllocate, alloc.Type)
	assert.Nil(t, alloc.ExpiresAt)
	require.NotNil(t, alloc.CompletedAt)
	requireCounters(t, s, "sku-a", 0, 25)

	// Direct allocations are terminal; no conversion or release applies.
	_, err = svc.Convert(ctx, alloc.ID, "")
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = svc.Release(ctx, alloc.ID, "")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestReleaseReturnsStock(t *testing.T) {
	svc, s := newTestService(t, map[string]int64{"sku-a": 100})
	ctx := context.Background()

	hold, err := svc.CreateHold(ctx, &HoldRequest{
		ClientToken: "tok",
		Items:       []ItemRequest{{SKUID: "sku-a", Qty: 40}},
	})
	require.NoError(t, err)
	requireCounters(t, s, "sku-a", 40, 0)

	released, err := svc.Release(ctx, hold.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReleased, released.Status)
	requireCounters(t, s, "sku-a", 0, 0)

	// Terminal: a second release must not double-credit.
	_, err = svc.Release(ctx, hold.ID, "")
	assert.ErrorIs(t, err, ErrInvalidState)
	requireCounters(t, s, "sku-a", 0, 0)
}

func TestConvertFailures(t *testing.T) {
	svc, _ := newTestService(t, map[string]int64{"sku-a": 100})
	ctx := context.Background()

	_, err := svc.Convert(ctx, "missing", "")
	assert.ErrorIs(t, err, ErrReservationNotFound)

	expired, err := svc.CreateHold(ctx, &HoldRequest{
		ClientToken:      "tok-expired",
		Items:            []ItemRequest{{SKUID: "sku-a", Qty: 5}},
		ExpiresInSeconds: -1,
	})
	require.NoError(t, err)

	_, err = svc.Convert(ctx, expired.ID, "")
	assert.ErrorIs(t, err, ErrHoldExpired)

	held, err := svc.CreateHold(ctx, &HoldRequest{
		ClientToken: "tok-live",
		Items:       []ItemRequest{{SKUID: "sku-a", Qty: 5}},
	})
	require.NoError(t, err)

	_, err = svc.Release(ctx, held.ID, "")
	require.NoError(t, err)
	_, err = svc.Convert(ctx, held.ID, "")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestExpireTransition(t *testing.T) {
	svc, s := newTestService(t, map[string]int64{"sku-a": 100})
	ctx := context.Background()

	hold, err := svc.CreateHold(ctx, &HoldRequest{
		ClientToken:      "tok",
		Items:            []ItemRequest{{SKUID: "sku-a", Qty: 30}},
		ExpiresInSeconds: -1,
	})
	require.NoError(t, err)
	requireCounters(t, s, "sku-a", 30, 0)

	expired, err := svc.Expire(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, expired.Status)
	requireCounters(t, s, "sku-a", 0, 0)

	// Exactly one winner: a second expiry finds the row already terminal.
	_, err = svc.Expire(ctx, hold.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	requireCounters(t, s, "sku-a", 0, 0)
}

func TestAuditTrail(t *testing.T) {
	svc, s := newTestService(t, map[string]int64{"sku-a": 100})
	ctx := context.Background()

	hold, err := svc.CreateHold(ctx, &HoldRequest{
		ClientToken: "tok",
		Items:       []ItemRequest{{SKUID: "sku-a", Qty: 10}},
	})
	require.NoError(t, err)

	_, err = svc.Convert(ctx, hold.ID, "")
	require.NoError(t, err)

	recs, err := s.ListAuditByReservation(ctx, hold.ID)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, models.OpHoldCreated, recs[0].Operation)
	assert.Equal(t, int64(0), recs[0].PrevReserved)
	assert.Equal(t, int64(10), recs[0].NewReserved)

	assert.Equal(t, models.OpAllocated, recs[1].Operation)
	assert.Equal(t, int64(10), recs[1].PrevReserved)
	assert.Equal(t, int64(0), recs[1].NewReserved)
	assert.Equal(t, int64(10), recs[1].NewAllocated)
}

// The ledger invariant must hold at every observable point under mixed
// concurrent traffic.
func TestInvariantUnderConcurrentTraffic(t *testing.T) {
	svc, s := newTestService(t, map[string]int64{"sku-a": 60, "sku-b": 40})

	check := func() {
		invs, err := s.ListInventory(context.Background(), nil)
		require.NoError(t, err)
		for _, inv := range invs {
			assert.GreaterOrEqual(t, inv.Reserved, int64(0))
			assert.GreaterOrEqual(t, inv.Allocated, int64(0))
			assert.LessOrEqual(t, inv.Reserved+inv.Allocated, inv.TotalQty)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ctx := context.Background()
			strategy := StrategyOptimistic
			if n%2 == 0 {
				strategy = StrategyPessimistic
			}

			hold, err := svc.CreateHold(ctx, &HoldRequest{
				Items: []ItemRequest{
					{SKUID: "sku-a", Qty: 3},
					{SKUID: "sku-b", Qty: 2},
				},
				Strategy: strategy,
			})
			if err != nil {
				// Contention outcomes are acceptable; oversell is not.
				return
			}

			switch n % 3 {
			case 0:
				_, _ = svc.Convert(ctx, hold.ID, strategy)
			case 1:
				_, _ = svc.Release(ctx, hold.ID, strategy)
			}
		}(i)
		check()
	}
	wg.Wait()
	check()
}
