package worker

import (
	"context"
	"errors"
	"time"

	"inventory-service/internal/service"
	"inventory-service/internal/store"
	"inventory-service/internal/util"

	"go.uber.org/zap"
)

const sweepBatchLimit = 500

// Sweeper periodically expires past-due holds, returning their reserved
// quantity to available. Each reservation's expiry is its own atomic unit,
// so one failure never blocks the rest of the cycle.
type Sweeper struct {
	store        store.Store
	reservations *service.ReservationService
	interval     time.Duration
	logger       *zap.Logger
}

// NewSweeper creates an expiry sweeper running on the given interval
func NewSweeper(st store.Store, reservations *service.ReservationService, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:        st,
		reservations: reservations,
		interval:     interval,
		logger:       util.GetLogger(),
	}
}

// Start runs sweep cycles until ctx is cancelled
func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.Info("Starting expiry sweeper", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Expiry sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("Sweep cycle failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce expires every past-due hold it can and reports how many it
// transitioned. Per-reservation failures are logged and left for the next
// cycle.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	holds, err := s.store.ListExpiredHolds(ctx, time.Now().UTC(), sweepBatchLimit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, hold := range holds {
		_, err := s.reservations.Expire(ctx, hold.ID)
		if err != nil {
			if errors.Is(err, service.ErrInvalidState) {
				// Converted or released while we swept; the other
				// transition won and there is nothing left to reclaim.
				s.logger.Debug("Hold left HELD before expiry",
					zap.String("reservation_id", hold.ID))
				continue
			}
			util.SweepFailuresTotal.Inc()
			s.logger.Warn("Failed to expire hold, will retry next cycle",
				zap.String("reservation_id", hold.ID),
				zap.Error(err))
			continue
		}

		expired++
		util.SweepExpiredTotal.Inc()
	}

	if expired > 0 {
		s.logger.Info("Sweep cycle completed", zap.Int("expired", expired))
	}
	return expired, nil
}
