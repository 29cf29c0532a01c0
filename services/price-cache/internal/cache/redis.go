package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/finboard/price-cache/services/price-cache/pkg/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	priceKeyPrefix   = "price_cache:"
	updatedIndexKey  = "price_cache_updated:"
	syncKeyPrefix    = "user_sync:"
	requestKeyPrefix = "cache_update_request:"
)

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RedisBackend keeps one JSON document per entry plus a per-asset-type sorted
// set scored by LastUpdated (unix millis) for the age queries.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisBackend{client: client}, nil
}

func priceKey(assetType models.AssetType, symbol string) string {
	return priceKeyPrefix + models.CacheKey(assetType, symbol)
}

func indexKey(assetType models.AssetType) string {
	return updatedIndexKey + string(assetType)
}

func (b *RedisBackend) GetBatch(ctx context.Context, assetType models.AssetType, symbols []string) (map[string]models.PriceCacheEntry, error) {
	found := make(map[string]models.PriceCacheEntry, len(symbols))
	if len(symbols) == 0 {
		return found, nil
	}

	keys := make([]string, len(symbols))
	for i, s := range symbols {
		keys[i] = priceKey(assetType, s)
	}

	values, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to mget prices: %w", err)
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var entry models.PriceCacheEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal price %s: %w", keys[i], err)
		}
		found[entry.Symbol] = entry
	}
	return found, nil
}

// PutBatch writes documents and index scores in one MULTI/EXEC transaction.
func (b *RedisBackend) PutBatch(ctx context.Context, entries []models.PriceCacheEntry) error {
	if len(entries) == 0 {
		return nil
	}

	payloads := make([][]byte, len(entries))
	for i, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal price %s: %w", e.Key(), err)
		}
		payloads[i] = data
	}

	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, e := range entries {
			pipe.Set(ctx, priceKey(e.AssetType, e.Symbol), payloads[i], 0)
			pipe.ZAdd(ctx, indexKey(e.AssetType), redis.Z{
				Score:  float64(e.LastUpdated.UnixMilli()),
				Member: e.Symbol,
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write prices: %w", err)
	}
	return nil
}

func (b *RedisBackend) ListOlderThan(ctx context.Context, assetType models.AssetType, cutoff time.Time) ([]string, error) {
	symbols, err := b.client.ZRangeByScore(ctx, indexKey(assetType), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to range %s index: %w", assetType, err)
	}
	return symbols, nil
}

func (b *RedisBackend) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	for _, assetType := range models.AssetTypes {
		symbols, err := b.ListOlderThan(ctx, assetType, cutoff)
		if err != nil {
			return deleted, err
		}
		if len(symbols) == 0 {
			continue
		}

		keys := make([]string, len(symbols))
		members := make([]interface{}, len(symbols))
		for i, s := range symbols {
			keys[i] = priceKey(assetType, s)
			members[i] = s
		}

		_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, keys...)
			pipe.ZRem(ctx, indexKey(assetType), members...)
			return nil
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to delete old %s prices: %w", assetType, err)
		}
		deleted += int64(len(symbols))
	}
	return deleted, nil
}

func (b *RedisBackend) GetSyncRecord(ctx context.Context, userID string) (*models.UserSyncRecord, error) {
	data, err := b.client.Get(ctx, syncKeyPrefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sync record: %w", err)
	}

	var rec models.UserSyncRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sync record: %w", err)
	}
	return &rec, nil
}

func (b *RedisBackend) UpsertSyncRecord(ctx context.Context, rec models.UserSyncRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal sync record: %w", err)
	}
	if err := b.client.Set(ctx, syncKeyPrefix+rec.UserID, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to upsert sync record: %w", err)
	}
	return nil
}

func (b *RedisBackend) CreateUpdateRequest(ctx context.Context, req models.CacheUpdateRequest) error {
	return b.saveRequest(ctx, req)
}

func (b *RedisBackend) FinishUpdateRequest(ctx context.Context, req models.CacheUpdateRequest) error {
	return b.saveRequest(ctx, req)
}

func (b *RedisBackend) saveRequest(ctx context.Context, req models.CacheUpdateRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal update request: %w", err)
	}
	if err := b.client.Set(ctx, requestKeyPrefix+req.ID.String(), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save update request: %w", err)
	}
	return nil
}

// UpdateRequest loads an audit row by id.
func (b *RedisBackend) UpdateRequest(ctx context.Context, id uuid.UUID) (*models.CacheUpdateRequest, error) {
	data, err := b.client.Get(ctx, requestKeyPrefix+id.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get update request: %w", err)
	}

	var req models.CacheUpdateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal update request: %w", err)
	}
	return &req, nil
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
