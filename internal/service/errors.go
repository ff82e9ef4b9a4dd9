package service

import (
	"errors"

	"inventory-service/internal/store"
)

// Typed failures surfaced by the lifecycle manager. Ledger-level sentinels
// are re-exported so callers can match the whole taxonomy in one place.
var (
	ErrInsufficientInventory = store.ErrInsufficientInventory
	ErrVersionConflict       = store.ErrVersionConflict

	ErrConcurrencyExhausted = errors.New("optimistic retry ceiling exceeded")
	ErrLockTimeout          = errors.New("pessimistic lock acquisition timed out")
	ErrInvalidState         = errors.New("illegal reservation state transition")
	ErrHoldExpired          = errors.New("hold has expired")
	ErrReservationNotFound  = errors.New("reservation not found")
	ErrSKUNotFound          = errors.New("sku not found")
	ErrInvalidQuantity      = errors.New("item quantity must be positive")
	ErrDuplicateItem        = errors.New("sku appears more than once in batch")
	ErrEmptyBatch           = errors.New("reservation requires at least one item")
	ErrUnknownStrategy      = errors.New("unknown concurrency strategy")
)
