package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/finboard/price-cache/services/price-cache/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *RedisBackend {
	t.Helper()
	mr := miniredis.RunT(t)
	backend, err := NewRedisBackend(context.Background(), RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return backend
}

func TestRedisBackend_PutAndGetBatch(t *testing.T) {
	backend := newTestRedis(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	change := decimal.NewFromFloat(1.25)
	withMeta := entry("AAPL", models.AssetStock, 190.5, now)
	withMeta.Metadata = &models.PriceMetadata{Change: &change}

	require.NoError(t, backend.PutBatch(ctx, []models.PriceCacheEntry{
		withMeta,
		entry("MSFT", models.AssetStock, 410, now),
		entry("BTC", models.AssetCrypto, 65000, now),
	}))

	got, err := backend.GetBatch(ctx, models.AssetStock, []string{"AAPL", "MSFT", "NVDA"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got["AAPL"].Price.Equal(decimal.NewFromFloat(190.5)))
	assert.True(t, got["AAPL"].LastUpdated.Equal(now))
	require.NotNil(t, got["AAPL"].Metadata)
	assert.True(t, got["AAPL"].Metadata.Change.Equal(change))

	crypto, err := backend.GetBatch(ctx, models.AssetCrypto, []string{"AAPL", "BTC"})
	require.NoError(t, err)
	assert.Len(t, crypto, 1)
}

func TestRedisBackend_ListAndDeleteOlderThan(t *testing.T) {
	backend := newTestRedis(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, backend.PutBatch(ctx, []models.PriceCacheEntry{
		entry("NEW", models.AssetStock, 1, now),
		entry("OLD", models.AssetStock, 1, now.Add(-2*time.Hour)),
		entry("OLDEST", models.AssetStock, 1, now.Add(-5*time.Hour)),
		entry("ETH", models.AssetCrypto, 1, now.Add(-5*time.Hour)),
	}))

	stale, err := backend.ListOlderThan(ctx, models.AssetStock, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"OLDEST", "OLD"}, stale)

	deleted, err := backend.DeleteOlderThan(ctx, now.Add(-3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	left, err := backend.GetBatch(ctx, models.AssetStock, []string{"NEW", "OLD", "OLDEST"})
	require.NoError(t, err)
	assert.Len(t, left, 2)
	assert.NotContains(t, left, "OLDEST")
}

func TestRedisBackend_SyncRecords(t *testing.T) {
	backend := newTestRedis(t)
	ctx := context.Background()

	missing, err := backend.GetSyncRecord(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	rec := models.UserSyncRecord{
		UserID:            "u1",
		LastSyncTimestamp: time.Now().UTC().Truncate(time.Second),
		PortfolioSymbols:  models.PortfolioSymbols{Stocks: []string{"AAPL"}, Crypto: []string{"BTC"}},
	}
	require.NoError(t, backend.UpsertSyncRecord(ctx, rec))

	got, err := backend.GetSyncRecord(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.PortfolioSymbols, got.PortfolioSymbols)
	assert.True(t, rec.LastSyncTimestamp.Equal(got.LastSyncTimestamp))
}

func TestRedisBackend_UpdateRequests(t *testing.T) {
	backend := newTestRedis(t)
	ctx := context.Background()

	req := models.CacheUpdateRequest{ID: uuid.New(), UserID: "u1", Symbols: []string{"AAPL"}, Status: models.UpdateProcessing, RequestedAt: time.Now()}
	require.NoError(t, backend.CreateUpdateRequest(ctx, req))

	req.Status = models.UpdateCompleted
	req.UpdatedSymbols = []string{"AAPL"}
	require.NoError(t, backend.FinishUpdateRequest(ctx, req))

	got, err := backend.UpdateRequest(ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.UpdateCompleted, got.Status)
	assert.Equal(t, []string{"AAPL"}, got.UpdatedSymbols)
}
