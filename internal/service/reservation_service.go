package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"inventory-service/internal/models"
	"inventory-service/internal/store"
	"inventory-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReservationEventPublisher publishes lifecycle events for diagnostics.
// Implementations are best-effort; a publish failure never fails the operation.
type ReservationEventPublisher interface {
	PublishReservationEvent(ctx context.Context, event *models.ReservationEvent) error
}

// AvailabilityCache drops cached availability snapshots after a mutation
type AvailabilityCache interface {
	Invalidate(ctx context.Context, skuIDs []string) error
}

// ReservationService drives the reservation state machine and delegates all
// counter mutations to a per-request concurrency strategy. It is the only
// writer allowed to change ledger and reservation state, and always does so
// within one atomic unit.
type ReservationService struct {
	store      store.Store
	strategies map[string]Strategy
	publisher  ReservationEventPublisher
	cache      AvailabilityCache
	defaultTTL time.Duration
	logger     *zap.Logger
}

// NewReservationService creates the lifecycle manager. publisher and cache
// may be nil.
func NewReservationService(
	st store.Store,
	strategies map[string]Strategy,
	publisher ReservationEventPublisher,
	cache AvailabilityCache,
	defaultTTL time.Duration,
) *ReservationService {
	return &ReservationService{
		store:      st,
		strategies: strategies,
		publisher:  publisher,
		cache:      cache,
		defaultTTL: defaultTTL,
		logger:     util.GetLogger(),
	}
}

// ItemRequest represents one SKU line in a reservation request
type ItemRequest struct {
	SKUID string `json:"sku_id" binding:"required"`
	Qty   int64  `json:"qty" binding:"required"`
}

// HoldRequest represents a request to create a time-bounded hold
type HoldRequest struct {
	ClientToken      string        `json:"client_token,omitempty"`
	Items            []ItemRequest `json:"items" binding:"required,min=1"`
	ExpiresInSeconds int           `json:"expires_in_seconds,omitempty"`
	Strategy         string        `json:"strategy,omitempty"`
}

// AllocationRequest represents a request for a direct, non-expiring allocation
type AllocationRequest struct {
	ClientToken string        `json:"client_token,omitempty"`
	Items       []ItemRequest `json:"items" binding:"required,min=1"`
	Strategy    string        `json:"strategy,omitempty"`
}

// ReservationDetail is a reservation header with its full item set
type ReservationDetail struct {
	models.Reservation
	Items []models.ReservationItem `json:"items"`
}

func (s *ReservationService) strategy(name string) (Strategy, error) {
	if name == "" {
		name = StrategyOptimistic
	}
	st, ok := s.strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	return st, nil
}

func (s *ReservationService) validateItems(ctx context.Context, items []ItemRequest) error {
	if len(items) == 0 {
		return ErrEmptyBatch
	}

	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if item.Qty <= 0 {
			return fmt.Errorf("%w: sku %s", ErrInvalidQuantity, item.SKUID)
		}
		if seen[item.SKUID] {
			return fmt.Errorf("%w: %s", ErrDuplicateItem, item.SKUID)
		}
		seen[item.SKUID] = true

		if _, err := s.store.GetSKU(ctx, item.SKUID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrSKUNotFound, item.SKUID)
			}
			return err
		}
	}
	return nil
}

// replay returns the existing reservation for a duplicate client token.
// The new request's payload is ignored entirely; the original wins.
func (s *ReservationService) replay(ctx context.Context, token string) (*ReservationDetail, error) {
	existing, err := s.store.GetReservationByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	util.IdempotentReplaysTotal.Inc()
	s.logger.Info("Duplicate request replayed",
		zap.String("client_token", token),
		zap.String("reservation_id", existing.ID))
	return s.detail(ctx, existing)
}

func (s *ReservationService) detail(ctx context.Context, r *models.Reservation) (*ReservationDetail, error) {
	items, err := s.store.GetReservationItems(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	return &ReservationDetail{Reservation: *r, Items: items}, nil
}

func (s *ReservationService) invalidate(ctx context.Context, items []models.ReservationItem) {
	if s.cache == nil {
		return
	}
	skuIDs := make([]string, len(items))
	for i, item := range items {
		skuIDs[i] = item.SKUID
	}
	if err := s.cache.Invalidate(ctx, skuIDs); err != nil {
		s.logger.Warn("Failed to invalidate availability cache", zap.Error(err))
	}
}

func (s *ReservationService) publish(ctx context.Context, eventType string, r *models.Reservation, items []models.ReservationItem) {
	if s.publisher == nil {
		return
	}

	event := &models.ReservationEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: time.Now().UTC(),
		},
		ReservationID: r.ID,
		ClientToken:   r.ClientToken,
		Status:        r.Status,
	}
	for _, item := range items {
		event.Items = append(event.Items, models.ReservationItemData{SKUID: item.SKUID, Qty: item.Qty})
	}

	if err := s.publisher.PublishReservationEvent(ctx, event); err != nil {
		s.logger.Error("Failed to publish reservation event",
			zap.String("event_type", eventType),
			zap.String("reservation_id", r.ID),
			zap.Error(err))
	}
}

// CreateHold reserves stock for every item as one atomic batch and persists
// a HELD reservation with the requested expiry. A duplicate client token
// replays the original reservation without touching the ledger.
func (s *ReservationService) CreateHold(ctx context.Context, req *HoldRequest) (*ReservationDetail, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.CreateHold")
	defer span.End()

	if req.ClientToken == "" {
		req.ClientToken = uuid.New().String()
	}

	if _, err := s.store.GetReservationByToken(ctx, req.ClientToken); err == nil {
		return s.replay(ctx, req.ClientToken)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}

	if err := s.validateItems(ctx, req.Items); err != nil {
		util.ReservationsFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	strategy, err := s.strategy(req.Strategy)
	if err != nil {
		return nil, err
	}

	ttl := s.defaultTTL
	if req.ExpiresInSeconds != 0 {
		ttl = time.Duration(req.ExpiresInSeconds) * time.Second
	}
	expiresAt := time.Now().UTC().Add(ttl)

	reservation := &models.Reservation{
		ID:          uuid.New().String(),
		ClientToken: req.ClientToken,
		Status:      models.StatusHeld,
		Type:        models.TypeHold,
		TotalItems:  len(req.Items),
		ExpiresAt:   &expiresAt,
	}

	items := make([]models.ReservationItem, len(req.Items))
	deltas := make([]Delta, len(req.Items))
	for i, item := range req.Items {
		items[i] = models.ReservationItem{
			ID:            uuid.New().String(),
			ReservationID: reservation.ID,
			SKUID:         item.SKUID,
			Qty:           item.Qty,
		}
		deltas[i] = Delta{SKUID: item.SKUID, Reserved: item.Qty}
	}

	batch := Batch{
		ReservationID: reservation.ID,
		Operation:     models.OpHoldCreated,
		Actor:         "api",
		Deltas:        deltas,
	}

	err = strategy.ApplyBatch(ctx, batch, func(tx store.Tx) error {
		return tx.CreateReservation(ctx, reservation, items)
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateToken) {
			// Lost a race with an identical request; the winner's
			// reservation is the answer.
			return s.replay(ctx, req.ClientToken)
		}
		util.ReservationsFailedTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	util.HoldsCreatedTotal.Inc()
	s.logger.Info("Hold created",
		zap.String("reservation_id", reservation.ID),
		zap.String("strategy", strategy.Name()),
		zap.Int("items", len(items)))

	s.invalidate(ctx, items)
	s.publish(ctx, models.EventTypeHoldCreated, reservation, items)

	return &ReservationDetail{Reservation: *reservation, Items: items}, nil
}

// CreateAllocation claims stock immediately and permanently, bypassing the
// hold stage. Idempotency and batch atomicity follow the same rules as holds.
func (s *ReservationService) CreateAllocation(ctx context.Context, req *AllocationRequest) (*ReservationDetail, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.CreateAllocation")
	defer span.End()

	if req.ClientToken == "" {
		req.ClientToken = uuid.New().String()
	}

	if _, err := s.store.GetReservationByToken(ctx, req.ClientToken); err == nil {
		return s.replay(ctx, req.ClientToken)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}

	if err := s.validateItems(ctx, req.Items); err != nil {
		util.ReservationsFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	strategy, err := s.strategy(req.Strategy)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	reservation := &models.Reservation{
		ID:          uuid.New().String(),
		ClientToken: req.ClientToken,
		Status:      models.StatusAllocated,
		Type:        models.TypeAllocate,
		TotalItems:  len(req.Items),
		CompletedAt: &now,
	}

	items := make([]models.ReservationItem, len(req.Items))
	deltas := make([]Delta, len(req.Items))
	for i, item := range req.Items {
		items[i] = models.ReservationItem{
			ID:            uuid.New().String(),
			ReservationID: reservation.ID,
			SKUID:         item.SKUID,
			Qty:           item.Qty,
		}
		deltas[i] = Delta{SKUID: item.SKUID, Allocated: item.Qty}
	}

	batch := Batch{
		ReservationID: reservation.ID,
		Operation:     models.OpAllocated,
		Actor:         "api",
		Deltas:        deltas,
	}

	err = strategy.ApplyBatch(ctx, batch, func(tx store.Tx) error {
		return tx.CreateReservation(ctx, reservation, items)
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateToken) {
			return s.replay(ctx, req.ClientToken)
		}
		util.ReservationsFailedTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	util.AllocationsCreatedTotal.Inc()
	s.logger.Info("Allocation created",
		zap.String("reservation_id", reservation.ID),
		zap.String("strategy", strategy.Name()))

	s.invalidate(ctx, items)
	s.publish(ctx, models.EventTypeAllocationCreated, reservation, items)

	return &ReservationDetail{Reservation: *reservation, Items: items}, nil
}

// Convert moves a live hold's quantity from reserved to allocated. The
// status flip is conditioned on the row still being HELD at commit time, so
// a race with release or expiry has exactly one winner.
func (s *ReservationService) Convert(ctx context.Context, reservationID, strategyName string) (*ReservationDetail, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.Convert")
	defer span.End()

	now := time.Now().UTC()
	detail, err := s.transition(ctx, reservationID, strategyName, transitionSpec{
		operation: models.OpAllocated,
		toStatus:  models.StatusAllocated,
		deltas: func(item models.ReservationItem) Delta {
			return Delta{SKUID: item.SKUID, Reserved: -item.Qty, Allocated: item.Qty}
		},
		checkExpiry: true,
		completedAt: &now,
	})
	if err != nil {
		return nil, err
	}

	util.HoldsConvertedTotal.Inc()
	s.logger.Info("Hold converted to allocation", zap.String("reservation_id", reservationID))
	s.publish(ctx, models.EventTypeHoldConverted, &detail.Reservation, detail.Items)
	return detail, nil
}

// Release returns a live hold's reserved quantity to available
func (s *ReservationService) Release(ctx context.Context, reservationID, strategyName string) (*ReservationDetail, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.Release")
	defer span.End()

	now := time.Now().UTC()
	detail, err := s.transition(ctx, reservationID, strategyName, transitionSpec{
		operation: models.OpHoldReleased,
		toStatus:  models.StatusReleased,
		deltas: func(item models.ReservationItem) Delta {
			return Delta{SKUID: item.SKUID, Reserved: -item.Qty}
		},
		completedAt: &now,
	})
	if err != nil {
		return nil, err
	}

	util.HoldsReleasedTotal.Inc()
	s.logger.Info("Hold released", zap.String("reservation_id", reservationID))
	s.publish(ctx, models.EventTypeHoldReleased, &detail.Reservation, detail.Items)
	return detail, nil
}

// Expire transitions a past-due hold to EXPIRED, returning its reserved
// quantity. Called by the sweeper; the same single-winner discipline as
// Convert applies.
func (s *ReservationService) Expire(ctx context.Context, reservationID string) (*ReservationDetail, error) {
	detail, err := s.transition(ctx, reservationID, StrategyOptimistic, transitionSpec{
		operation: models.OpExpired,
		toStatus:  models.StatusExpired,
		deltas: func(item models.ReservationItem) Delta {
			return Delta{SKUID: item.SKUID, Reserved: -item.Qty}
		},
		actor:       "sweeper",
		completedAt: timePtr(time.Now().UTC()),
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, models.EventTypeReservationExpired, &detail.Reservation, detail.Items)
	return detail, nil
}

type transitionSpec struct {
	operation   string
	toStatus    string
	deltas      func(models.ReservationItem) Delta
	actor       string
	checkExpiry bool
	completedAt *time.Time
}

// transition applies the counter movement for every item of a HELD
// reservation and flips its status, all within one atomic unit.
func (s *ReservationService) transition(ctx context.Context, reservationID, strategyName string, spec transitionSpec) (*ReservationDetail, error) {
	reservation, err := s.store.GetReservationByID(ctx, reservationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}

	if reservation.Status != models.StatusHeld {
		return nil, fmt.Errorf("%w: reservation is %s", ErrInvalidState, reservation.Status)
	}
	if spec.checkExpiry && reservation.ExpiresAt != nil && !time.Now().UTC().Before(*reservation.ExpiresAt) {
		return nil, ErrHoldExpired
	}

	items, err := s.store.GetReservationItems(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	strategy, err := s.strategy(strategyName)
	if err != nil {
		return nil, err
	}

	actor := spec.actor
	if actor == "" {
		actor = "api"
	}

	deltas := make([]Delta, len(items))
	for i, item := range items {
		deltas[i] = spec.deltas(item)
	}

	batch := Batch{
		ReservationID: reservationID,
		Operation:     spec.operation,
		Actor:         actor,
		Deltas:        deltas,
	}

	err = strategy.ApplyBatch(ctx, batch, func(tx store.Tx) error {
		return tx.TransitionReservation(ctx, reservationID, models.StatusHeld, spec.toStatus, spec.completedAt)
	})
	if err != nil {
		if errors.Is(err, store.ErrInvalidState) {
			// The row left HELD while we worked; the other transition won.
			return nil, fmt.Errorf("%w: concurrent transition won", ErrInvalidState)
		}
		util.ReservationsFailedTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	reservation.Status = spec.toStatus
	reservation.CompletedAt = spec.completedAt

	s.invalidate(ctx, items)
	return &ReservationDetail{Reservation: *reservation, Items: items}, nil
}

// GetReservation retrieves a reservation with its items
func (s *ReservationService) GetReservation(ctx context.Context, reservationID string) (*ReservationDetail, error) {
	reservation, err := s.store.GetReservationByID(ctx, reservationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	return s.detail(ctx, reservation)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientInventory):
		return "insufficient_inventory"
	case errors.Is(err, ErrConcurrencyExhausted):
		return "concurrency_exhausted"
	case errors.Is(err, ErrLockTimeout):
		return "lock_timeout"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	default:
		return "error"
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
