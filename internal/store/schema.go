package store

import (
	"context"
	"fmt"
)

// Schema is the DDL for the Postgres backend. The CHECK constraints are the
// database-level backstop for the ledger invariant; ApplyDelta must never
// rely on them firing.
const Schema = `
CREATE TABLE IF NOT EXISTS skus (
    sku_id     TEXT PRIMARY KEY,
    sku_code   TEXT NOT NULL UNIQUE,
    name       TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS inventory (
    sku_id        TEXT PRIMARY KEY REFERENCES skus (sku_id),
    total_qty     BIGINT NOT NULL CHECK (total_qty >= 0),
    reserved_qty  BIGINT NOT NULL DEFAULT 0 CHECK (reserved_qty >= 0),
    allocated_qty BIGINT NOT NULL DEFAULT 0 CHECK (allocated_qty >= 0),
    version       BIGINT NOT NULL DEFAULT 1,
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (reserved_qty + allocated_qty <= total_qty)
);

CREATE TABLE IF NOT EXISTS reservations (
    reservation_id TEXT PRIMARY KEY,
    client_token   TEXT NOT NULL UNIQUE,
    status         TEXT NOT NULL,
    type           TEXT NOT NULL,
    total_items    INT NOT NULL,
    expires_at     TIMESTAMPTZ,
    completed_at   TIMESTAMPTZ,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_reservations_expiry
    ON reservations (status, expires_at);

CREATE TABLE IF NOT EXISTS reservation_items (
    reservation_item_id TEXT PRIMARY KEY,
    reservation_id      TEXT NOT NULL REFERENCES reservations (reservation_id),
    sku_id              TEXT NOT NULL REFERENCES skus (sku_id),
    qty                 BIGINT NOT NULL CHECK (qty > 0),
    UNIQUE (reservation_id, sku_id)
);

CREATE TABLE IF NOT EXISTS audit_log (
    audit_id           TEXT PRIMARY KEY,
    reservation_id     TEXT NOT NULL,
    sku_id             TEXT NOT NULL,
    operation          TEXT NOT NULL,
    delta              BIGINT NOT NULL,
    prev_reserved_qty  BIGINT NOT NULL,
    new_reserved_qty   BIGINT NOT NULL,
    prev_allocated_qty BIGINT NOT NULL,
    new_allocated_qty  BIGINT NOT NULL,
    actor              TEXT NOT NULL,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_audit_log_reservation
    ON audit_log (reservation_id, created_at);
`

// EnsureSchema creates any missing tables and indexes
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
