package worker

import (
	"context"
	"testing"
	"time"

	"inventory-service/internal/lockpool"
	"inventory-service/internal/models"
	"inventory-service/internal/service"
	"inventory-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSweeperEnv(t *testing.T, totals map[string]int64) (*Sweeper, *service.ReservationService, *store.Memory) {
	t.Helper()
	s := store.NewMemory()
	for id, qty := range totals {
		err := s.CreateSKU(context.Background(), &models.SKU{ID: id, Code: "code-" + id, Name: id}, qty)
		require.NoError(t, err)
	}

	strategies := map[string]service.Strategy{
		service.StrategyOptimistic:  service.NewOptimisticStrategy(s, 3),
		service.StrategyPessimistic: service.NewPessimisticStrategy(s, lockpool.New(), time.Second),
	}
	svc := service.NewReservationService(s, strategies, nil, nil, 5*time.Minute)
	return NewSweeper(s, svc, time.Minute), svc, s
}

func reserved(t *testing.T, s *store.Memory, skuID string) int64 {
	t.Helper()
	inv, err := s.GetInventory(context.Background(), skuID)
	require.NoError(t, err)
	return inv.Reserved
}

func TestSweepExpiresPastDueHolds(t *testing.T) {
	sweeper, svc, s := newSweeperEnv(t, map[string]int64{"sku-a": 100})
	ctx := context.Background()

	h1, err := svc.CreateHold(ctx, &service.HoldRequest{
		ClientToken:      "t1",
		Items:            []service.ItemRequest{{SKUID: "sku-a", Qty: 10}},
		ExpiresInSeconds: -1,
	})
	require.NoError(t, err)

	h2, err := svc.CreateHold(ctx, &service.HoldRequest{
		ClientToken:      "t2",
		Items:            []service.ItemRequest{{SKUID: "sku-a", Qty: 5}},
		ExpiresInSeconds: -1,
	})
	require.NoError(t, err)

	live, err := svc.CreateHold(ctx, &service.HoldRequest{
		ClientToken: "t3",
		Items:       []service.ItemRequest{{SKUID: "sku-a", Qty: 7}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(22), reserved(t, s, "sku-a"))

	expired, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, expired)

	// Past-due quantity returned; the live hold keeps its stock.
	assert.Equal(t, int64(7), reserved(t, s, "sku-a"))

	for _, id := range []string{h1.ID, h2.ID} {
		r, err := s.GetReservationByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusExpired, r.Status)
		require.NotNil(t, r.CompletedAt)
	}

	r, err := s.GetReservationByID(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusHeld, r.Status)

	// Nothing left to do; the next cycle is a no-op.
	expired, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, expired)
}

// staleListStore replays a hold list captured before a concurrent
// transition, imitating a sweep racing a release.
type staleListStore struct {
	store.Store
	holds []models.Reservation
}

func (s *staleListStore) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error) {
	return s.holds, nil
}

func TestSweepLosesRaceCleanly(t *testing.T) {
	_, svc, s := newSweeperEnv(t, map[string]int64{"sku-a": 100})
	ctx := context.Background()

	hold, err := svc.CreateHold(ctx, &service.HoldRequest{
		ClientToken:      "t1",
		Items:            []service.ItemRequest{{SKUID: "sku-a", Qty: 10}},
		ExpiresInSeconds: -1,
	})
	require.NoError(t, err)

	header, err := s.GetReservationByID(ctx, hold.ID)
	require.NoError(t, err)

	// The hold is released after the sweep observed it as expired.
	_, err = svc.Release(ctx, hold.ID, "")
	require.NoError(t, err)
	require.Equal(t, int64(0), reserved(t, s, "sku-a"))

	stale := &staleListStore{Store: s, holds: []models.Reservation{*header}}
	sweeper := NewSweeper(stale, svc, time.Minute)

	expired, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, expired)

	// No double release, and the winner's terminal state stands.
	assert.Equal(t, int64(0), reserved(t, s, "sku-a"))
	r, err := s.GetReservationByID(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReleased, r.Status)
}

func TestSweepIsolatesPerReservationFailures(t *testing.T) {
	sweeper, svc, s := newSweeperEnv(t, map[string]int64{"sku-a": 100})
	ctx := context.Background()

	// A hold whose item references a vanished SKU cannot be expired; it
	// must not block the healthy one behind it.
	past := time.Now().UTC().Add(-2 * time.Hour)
	broken := &models.Reservation{
		ID:          "r-broken",
		ClientToken: "t-broken",
		Status:      models.StatusHeld,
		Type:        models.TypeHold,
		TotalItems:  1,
		ExpiresAt:   &past,
	}
	err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateReservation(ctx, broken, []models.ReservationItem{
			{ID: "i-broken", ReservationID: "r-broken", SKUID: "sku-gone", Qty: 1},
		})
	})
	require.NoError(t, err)

	healthy, err := svc.CreateHold(ctx, &service.HoldRequest{
		ClientToken:      "t-ok",
		Items:            []service.ItemRequest{{SKUID: "sku-a", Qty: 10}},
		ExpiresInSeconds: -1,
	})
	require.NoError(t, err)

	expired, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	r, err := s.GetReservationByID(ctx, healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, r.Status)

	// The broken one stays HELD for the next cycle.
	r, err = s.GetReservationByID(ctx, "r-broken")
	require.NoError(t, err)
	assert.Equal(t, models.StatusHeld, r.Status)
}
