package service

import (
	"context"
	"time"

	"inventory-service/internal/models"
	"inventory-service/internal/store"
	"inventory-service/internal/util"

	"go.uber.org/zap"
)

// SnapshotCache caches per-SKU availability snapshots on the read side.
// It is never consulted on the write path.
type SnapshotCache interface {
	GetAvailability(ctx context.Context, skuID string) (*models.Availability, error)
	SetAvailability(ctx context.Context, av *models.Availability, ttl time.Duration) error
}

// Reporter answers availability and consistency queries. It only reads; a
// positive consistency finding is a defect elsewhere, never auto-corrected.
type Reporter struct {
	store    store.Store
	cache    SnapshotCache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewReporter creates a reporter; cache may be nil
func NewReporter(st store.Store, cache SnapshotCache, cacheTTL time.Duration) *Reporter {
	return &Reporter{
		store:    st,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   util.GetLogger(),
	}
}

// Availability returns counter snapshots for the given SKUs, or all SKUs
// when none are given
func (r *Reporter) Availability(ctx context.Context, skuIDs []string) ([]models.Availability, error) {
	ctx, span := util.StartSpan(ctx, "Reporter.Availability")
	defer span.End()

	if len(skuIDs) == 1 && r.cache != nil {
		if av, err := r.cache.GetAvailability(ctx, skuIDs[0]); err == nil && av != nil {
			return []models.Availability{*av}, nil
		}
	}

	invs, err := r.store.ListInventory(ctx, skuIDs)
	if err != nil {
		return nil, err
	}

	out := make([]models.Availability, len(invs))
	for i := range invs {
		inv := &invs[i]
		out[i] = models.Availability{
			SKUID:     inv.SKUID,
			TotalQty:  inv.TotalQty,
			Reserved:  inv.Reserved,
			Allocated: inv.Allocated,
			Available: inv.Available(),
			Version:   inv.Version,
		}
		if r.cache != nil {
			if err := r.cache.SetAvailability(ctx, &out[i], r.cacheTTL); err != nil {
				r.logger.Warn("Failed to cache availability snapshot",
					zap.String("sku_id", inv.SKUID),
					zap.Error(err))
			}
		}
	}
	return out, nil
}

// CheckConsistency recomputes availability for every SKU and flags any
// record violating the ledger invariant
func (r *Reporter) CheckConsistency(ctx context.Context) (*models.ConsistencyReport, error) {
	ctx, span := util.StartSpan(ctx, "Reporter.CheckConsistency")
	defer span.End()

	invs, err := r.store.ListInventory(ctx, nil)
	if err != nil {
		return nil, err
	}

	report := &models.ConsistencyReport{
		Consistent:   true,
		TotalSKUs:    len(invs),
		Inconsistent: []models.InconsistentSKU{},
		CheckedAt:    time.Now().UTC(),
	}

	for i := range invs {
		inv := &invs[i]
		issue := ""
		switch {
		case inv.Reserved < 0 || inv.Allocated < 0 || inv.TotalQty < 0:
			issue = "negative_counter"
		case inv.Available() < 0:
			issue = "negative_available"
		}
		if issue == "" {
			continue
		}

		report.Consistent = false
		report.Inconsistent = append(report.Inconsistent, models.InconsistentSKU{
			SKUID:     inv.SKUID,
			Issue:     issue,
			TotalQty:  inv.TotalQty,
			Reserved:  inv.Reserved,
			Allocated: inv.Allocated,
			Available: inv.Available(),
		})
		r.logger.Error("Inventory invariant breach detected",
			zap.String("sku_id", inv.SKUID),
			zap.String("issue", issue))
	}

	return report, nil
}
