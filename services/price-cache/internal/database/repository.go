package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/finboard/price-cache/services/price-cache/pkg/models"
	"github.com/finboard/price-cache/shared/pkg/database"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// upsertChunk keeps a single INSERT below Postgres' 65535 bind parameter limit.
const upsertChunk = 1000

// Repository is the Postgres document store. It serves prices, per-user sync
// records and the update audit trail.
type Repository struct {
	db     *database.DB
	logger *logrus.Logger
}

func NewRepository(db *database.DB, logger *logrus.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) GetBatch(ctx context.Context, assetType models.AssetType, symbols []string) (map[string]models.PriceCacheEntry, error) {
	found := make(map[string]models.PriceCacheEntry, len(symbols))
	if len(symbols) == 0 {
		return found, nil
	}

	query := `
        SELECT symbol, price, currency, source, metadata, last_updated
        FROM price_cache
        WHERE asset_type = $1 AND symbol = ANY($2)
    `

	rows, err := r.db.QueryContext(ctx, query, string(assetType), pq.Array(symbols))
	if err != nil {
		return nil, fmt.Errorf("failed to query price cache: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			entry    models.PriceCacheEntry
			price    database.Decimal
			source   string
			metadata []byte
		)
		if err := rows.Scan(&entry.Symbol, &price, &entry.Currency, &source, &metadata, &entry.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan price cache row: %w", err)
		}
		entry.AssetType = assetType
		entry.Price = price.Decimal
		entry.Source = models.Source(source)
		if len(metadata) > 0 {
			var meta models.PriceMetadata
			if err := json.Unmarshal(metadata, &meta); err != nil {
				r.logger.WithError(err).WithField("symbol", entry.Symbol).Warn("Ignoring unreadable price metadata")
			} else {
				entry.Metadata = &meta
			}
		}
		found[entry.Symbol] = entry
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price cache: %w", err)
	}

	return found, nil
}

// PutBatch upserts entries, overwriting existing rows (last writer wins).
func (r *Repository) PutBatch(ctx context.Context, entries []models.PriceCacheEntry) error {
	if len(entries) == 0 {
		return nil
	}

	start := time.Now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin price cache write: %w", err)
	}
	defer tx.Rollback()

	for offset := 0; offset < len(entries); offset += upsertChunk {
		end := min(offset+upsertChunk, len(entries))
		query, args, err := buildUpsert(entries[offset:end])
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithError(err).Error("Failed to upsert price cache")
			return fmt.Errorf("failed to upsert price cache: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit price cache write: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"records_count": len(entries),
		"duration_ms":   time.Since(start).Milliseconds(),
	}).Debug("Upserted price cache entries")

	return nil
}

func buildUpsert(entries []models.PriceCacheEntry) (string, []interface{}, error) {
	const cols = 7

	query := `
        INSERT INTO price_cache (asset_type, symbol, price, currency, source, metadata, last_updated)
        VALUES `

	values := make([]string, 0, len(entries))
	args := make([]interface{}, 0, len(entries)*cols)

	for i, e := range entries {
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			i*cols+1, i*cols+2, i*cols+3, i*cols+4, i*cols+5, i*cols+6, i*cols+7))

		var metadata interface{}
		if e.Metadata != nil {
			data, err := json.Marshal(e.Metadata)
			if err != nil {
				return "", nil, fmt.Errorf("failed to marshal metadata for %s: %w", e.Key(), err)
			}
			metadata = data
		}

		args = append(args, string(e.AssetType), e.Symbol, database.Decimal{Decimal: e.Price},
			e.Currency, string(e.Source), metadata, e.LastUpdated)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (asset_type, symbol) DO UPDATE SET " +
		"price = EXCLUDED.price, currency = EXCLUDED.currency, source = EXCLUDED.source, " +
		"metadata = EXCLUDED.metadata, last_updated = EXCLUDED.last_updated"

	return query, args, nil
}

func (r *Repository) ListOlderThan(ctx context.Context, assetType models.AssetType, cutoff time.Time) ([]string, error) {
	query := `
        SELECT symbol
        FROM price_cache
        WHERE asset_type = $1 AND last_updated < $2
        ORDER BY last_updated ASC, symbol ASC
    `

	rows, err := r.db.QueryContext(ctx, query, string(assetType), cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale prices: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, fmt.Errorf("failed to scan stale symbol: %w", err)
		}
		symbols = append(symbols, symbol)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stale prices: %w", err)
	}

	return symbols, nil
}

func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM price_cache WHERE last_updated < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old prices: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	return rowsAffected, nil
}

func (r *Repository) GetSyncRecord(ctx context.Context, userID string) (*models.UserSyncRecord, error) {
	query := `
        SELECT user_id, last_sync_timestamp, stocks, crypto, updated_at
        FROM user_sync
        WHERE user_id = $1
    `

	var rec models.UserSyncRecord
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&rec.UserID, &rec.LastSyncTimestamp,
		pq.Array(&rec.PortfolioSymbols.Stocks), pq.Array(&rec.PortfolioSymbols.Crypto),
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sync record: %w", err)
	}

	return &rec, nil
}

// UpsertSyncRecord replaces the whole record; symbol sets are not merged.
func (r *Repository) UpsertSyncRecord(ctx context.Context, rec models.UserSyncRecord) error {
	query := `
        INSERT INTO user_sync (user_id, last_sync_timestamp, stocks, crypto, updated_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (user_id) DO UPDATE SET
            last_sync_timestamp = EXCLUDED.last_sync_timestamp,
            stocks = EXCLUDED.stocks,
            crypto = EXCLUDED.crypto,
            updated_at = EXCLUDED.updated_at
    `

	_, err := r.db.ExecContext(ctx, query, rec.UserID, rec.LastSyncTimestamp,
		pq.Array(nonNil(rec.PortfolioSymbols.Stocks)), pq.Array(nonNil(rec.PortfolioSymbols.Crypto)), rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert sync record: %w", err)
	}
	return nil
}

func (r *Repository) CreateUpdateRequest(ctx context.Context, req models.CacheUpdateRequest) error {
	query := `
        INSERT INTO cache_update_requests (id, user_id, symbols, requested_at, status)
        VALUES ($1, $2, $3, $4, $5)
    `

	_, err := r.db.ExecContext(ctx, query, req.ID, req.UserID, pq.Array(nonNil(req.Symbols)), req.RequestedAt, string(req.Status))
	if err != nil {
		return fmt.Errorf("failed to create update request: %w", err)
	}
	return nil
}

func (r *Repository) FinishUpdateRequest(ctx context.Context, req models.CacheUpdateRequest) error {
	query := `
        UPDATE cache_update_requests
        SET status = $2, updated_symbols = $3, completed_at = $4, error = $5
        WHERE id = $1
    `

	_, err := r.db.ExecContext(ctx, query, req.ID, string(req.Status),
		pq.Array(nonNil(req.UpdatedSymbols)), req.CompletedAt, req.Error)
	if err != nil {
		return fmt.Errorf("failed to finish update request: %w", err)
	}
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
