package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/finboard/price-cache/services/price-cache/pkg/models"
	"github.com/google/uuid"
)

// MemoryBackend is an in-process document store. It backs local runs when
// neither Postgres nor Redis is reachable, and tests.
type MemoryBackend struct {
	mu       sync.RWMutex
	prices   map[string]models.PriceCacheEntry
	syncs    map[string]models.UserSyncRecord
	requests map[uuid.UUID]models.CacheUpdateRequest
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		prices:   make(map[string]models.PriceCacheEntry),
		syncs:    make(map[string]models.UserSyncRecord),
		requests: make(map[uuid.UUID]models.CacheUpdateRequest),
	}
}

func (m *MemoryBackend) GetBatch(_ context.Context, assetType models.AssetType, symbols []string) (map[string]models.PriceCacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	found := make(map[string]models.PriceCacheEntry, len(symbols))
	for _, s := range symbols {
		if e, ok := m.prices[models.CacheKey(assetType, s)]; ok {
			found[e.Symbol] = e
		}
	}
	return found, nil
}

// PutBatch stores entries as given; validation and stamping belong to Store.
func (m *MemoryBackend) PutBatch(_ context.Context, entries []models.PriceCacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		m.prices[e.Key()] = e
	}
	return nil
}

func (m *MemoryBackend) ListOlderThan(_ context.Context, assetType models.AssetType, cutoff time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stale []models.PriceCacheEntry
	for _, e := range m.prices {
		if e.AssetType == assetType && e.LastUpdated.Before(cutoff) {
			stale = append(stale, e)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		if stale[i].LastUpdated.Equal(stale[j].LastUpdated) {
			return stale[i].Symbol < stale[j].Symbol
		}
		return stale[i].LastUpdated.Before(stale[j].LastUpdated)
	})

	symbols := make([]string, 0, len(stale))
	for _, e := range stale {
		symbols = append(symbols, e.Symbol)
	}
	return symbols, nil
}

func (m *MemoryBackend) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for key, e := range m.prices {
		if e.LastUpdated.Before(cutoff) {
			delete(m.prices, key)
			deleted++
		}
	}
	return deleted, nil
}

// Len reports the number of cached prices.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.prices)
}

func (m *MemoryBackend) GetSyncRecord(_ context.Context, userID string) (*models.UserSyncRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.syncs[userID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryBackend) UpsertSyncRecord(_ context.Context, rec models.UserSyncRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.syncs[rec.UserID] = rec
	return nil
}

func (m *MemoryBackend) CreateUpdateRequest(_ context.Context, req models.CacheUpdateRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests[req.ID] = req
	return nil
}

func (m *MemoryBackend) FinishUpdateRequest(_ context.Context, req models.CacheUpdateRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests[req.ID] = req
	return nil
}

// UpdateRequest returns a stored audit row.
func (m *MemoryBackend) UpdateRequest(id uuid.UUID) (models.CacheUpdateRequest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	req, ok := m.requests[id]
	return req, ok
}

// UpdateRequests returns every audit row, oldest first.
func (m *MemoryBackend) UpdateRequests() []models.CacheUpdateRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.CacheUpdateRequest, 0, len(m.requests))
	for _, r := range m.requests {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}

func (m *MemoryBackend) Ping(context.Context) error {
	return nil
}

func (m *MemoryBackend) Close() error {
	return nil
}
