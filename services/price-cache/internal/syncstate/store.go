// Package syncstate keeps each user's bookmark into the shared cache timeline.
package syncstate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/finboard/price-cache/services/price-cache/pkg/models"
	"github.com/sirupsen/logrus"
)

type Backend interface {
	// GetSyncRecord returns nil, nil when the user has no record.
	GetSyncRecord(ctx context.Context, userID string) (*models.UserSyncRecord, error)
	UpsertSyncRecord(ctx context.Context, rec models.UserSyncRecord) error
}

// Store is the SyncTimestampStore. Concurrent upserts for one user are
// last-writer-wins.
type Store struct {
	backend Backend
	logger  *logrus.Logger
	now     func() time.Time
}

func NewStore(backend Backend, logger *logrus.Logger) *Store {
	return &Store{backend: backend, logger: logger, now: time.Now}
}

// Get returns nil when the user has never synced.
func (s *Store) Get(ctx context.Context, userID string) (*models.UserSyncRecord, error) {
	rec, err := s.backend.GetSyncRecord(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync record for %s: %w", userID, err)
	}
	return rec, nil
}

// Upsert replaces the user's record wholesale and stamps it with the current time.
func (s *Store) Upsert(ctx context.Context, userID string, symbols models.PortfolioSymbols) (*models.UserSyncRecord, error) {
	now := s.now().UTC()
	rec := models.UserSyncRecord{
		UserID:            userID,
		LastSyncTimestamp: now,
		PortfolioSymbols:  symbols.Normalize(),
		UpdatedAt:         now,
	}

	if err := s.backend.UpsertSyncRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to upsert sync record for %s: %w", userID, err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"stocks":  len(rec.PortfolioSymbols.Stocks),
		"crypto":  len(rec.PortfolioSymbols.Crypto),
	}).Debug("Advanced user sync timestamp")

	return &rec, nil
}

// Comparison partitions symbols by whether the user's bookmark or the cache
// entry is more recent. Advisory only.
type Comparison struct {
	UserNewer  []string `json:"user_newer"`
	CacheNewer []string `json:"cache_newer"`
	Equal      []string `json:"equal"`
}

// CacheNewerCount is how many symbols changed in the cache since the user last synced.
func (c Comparison) CacheNewerCount() int {
	return len(c.CacheNewer)
}

// CompareToCache buckets every symbol of cacheTimestamps. Each bucket is sorted.
func CompareToCache(userLastSync time.Time, cacheTimestamps map[string]time.Time) Comparison {
	cmp := Comparison{
		UserNewer:  []string{},
		CacheNewer: []string{},
		Equal:      []string{},
	}

	for symbol, ts := range cacheTimestamps {
		switch {
		case userLastSync.After(ts):
			cmp.UserNewer = append(cmp.UserNewer, symbol)
		case ts.After(userLastSync):
			cmp.CacheNewer = append(cmp.CacheNewer, symbol)
		default:
			cmp.Equal = append(cmp.Equal, symbol)
		}
	}

	sort.Strings(cmp.UserNewer)
	sort.Strings(cmp.CacheNewer)
	sort.Strings(cmp.Equal)
	return cmp
}

// Timestamps extracts LastUpdated per symbol from a cache read.
func Timestamps(entries map[string]models.PriceCacheEntry) map[string]time.Time {
	out := make(map[string]time.Time, len(entries))
	for symbol, e := range entries {
		out[symbol] = e.LastUpdated
	}
	return out
}
