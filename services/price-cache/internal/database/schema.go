package database

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS price_cache (
    asset_type   VARCHAR(16)    NOT NULL,
    symbol       VARCHAR(32)    NOT NULL,
    price        NUMERIC(30,10) NOT NULL CHECK (price > 0),
    currency     VARCHAR(8)     NOT NULL,
    source       VARCHAR(32)    NOT NULL,
    metadata     JSONB,
    last_updated TIMESTAMPTZ    NOT NULL,
    PRIMARY KEY (asset_type, symbol)
);
CREATE INDEX IF NOT EXISTS idx_price_cache_last_updated ON price_cache (asset_type, last_updated);

CREATE TABLE IF NOT EXISTS user_sync (
    user_id             VARCHAR(128) PRIMARY KEY,
    last_sync_timestamp TIMESTAMPTZ  NOT NULL,
    stocks              TEXT[]       NOT NULL DEFAULT '{}',
    crypto              TEXT[]       NOT NULL DEFAULT '{}',
    updated_at          TIMESTAMPTZ  NOT NULL
);

CREATE TABLE IF NOT EXISTS cache_update_requests (
    id              UUID PRIMARY KEY,
    user_id         VARCHAR(128) NOT NULL,
    symbols         TEXT[]       NOT NULL,
    requested_at    TIMESTAMPTZ  NOT NULL,
    status          VARCHAR(16)  NOT NULL,
    updated_symbols TEXT[]       NOT NULL DEFAULT '{}',
    completed_at    TIMESTAMPTZ,
    error           TEXT         NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_cache_update_requests_user ON cache_update_requests (user_id, requested_at);
`

func (r *Repository) InitSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	r.logger.Info("Database schema ready")
	return nil
}
