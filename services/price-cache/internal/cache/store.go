// Package cache holds the shared, multi-tenant price store and the document
// store backends it runs on.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/finboard/price-cache/services/price-cache/pkg/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize is the multi-key query limit of the reference document store.
const DefaultBatchSize = 10

// Backend is the document store contract the price store needs: keyed
// multi-get limited to a batch of keys, whole-entry upserts, and an age
// range query.
type Backend interface {
	GetBatch(ctx context.Context, assetType models.AssetType, symbols []string) (map[string]models.PriceCacheEntry, error)
	PutBatch(ctx context.Context, entries []models.PriceCacheEntry) error
	// ListOlderThan returns symbols whose entry was updated before cutoff, oldest first.
	ListOlderThan(ctx context.Context, assetType models.AssetType, cutoff time.Time) ([]string, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store is the PriceCacheStore. Writes are last-writer-wins; there are no
// locks or version checks.
type Store struct {
	backend   Backend
	batchSize int
	logger    *logrus.Logger
	now       func() time.Time
}

func NewStore(backend Backend, batchSize int, logger *logrus.Logger) *Store {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Store{
		backend:   backend,
		batchSize: batchSize,
		logger:    logger,
		now:       time.Now,
	}
}

// Get returns the entries that exist for symbols. Unknown symbols are simply
// absent. Sub-batches of at most batchSize keys are fetched concurrently.
func (s *Store) Get(ctx context.Context, symbols []string, assetType models.AssetType) (map[string]models.PriceCacheEntry, error) {
	normalized := models.NormalizeSymbols(symbols)
	if len(normalized) == 0 {
		return map[string]models.PriceCacheEntry{}, nil
	}

	chunks := chunk(normalized, s.batchSize)
	results := make([]map[string]models.PriceCacheEntry, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range chunks {
		g.Go(func() error {
			found, err := s.backend.GetBatch(gctx, assetType, c)
			if err != nil {
				return fmt.Errorf("failed to get %s batch %d: %w", assetType, i, err)
			}
			results[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"asset_type": assetType,
			"symbols":    len(normalized),
		}).Error("Failed to read price cache")
		return nil, err
	}

	merged := make(map[string]models.PriceCacheEntry, len(normalized))
	for _, found := range results {
		for symbol, entry := range found {
			merged[symbol] = entry
		}
	}

	s.logger.WithFields(logrus.Fields{
		"asset_type": assetType,
		"requested":  len(normalized),
		"found":      len(merged),
		"batches":    len(chunks),
	}).Debug("Read price cache")

	return merged, nil
}

func (s *Store) Put(ctx context.Context, entry models.PriceCacheEntry) error {
	return s.PutMany(ctx, []models.PriceCacheEntry{entry})
}

// PutMany stamps LastUpdated on every entry and writes them. If any entry
// fails validation nothing is written.
func (s *Store) PutMany(ctx context.Context, entries []models.PriceCacheEntry) error {
	if len(entries) == 0 {
		return nil
	}

	start := s.now()
	stamped := make([]models.PriceCacheEntry, 0, len(entries))
	for _, e := range entries {
		e.Symbol = models.NormalizeSymbol(e.Symbol)
		e.Currency = models.NormalizeSymbol(e.Currency)
		e.LastUpdated = start.UTC()
		if err := e.Validate(); err != nil {
			s.logger.WithError(err).WithField("entries", len(entries)).Warn("Rejected price cache batch")
			return err
		}
		stamped = append(stamped, e)
	}

	if err := s.backend.PutBatch(ctx, stamped); err != nil {
		s.logger.WithError(err).WithField("entries", len(stamped)).Error("Failed to write price cache")
		return fmt.Errorf("failed to write price cache: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"entries":     len(stamped),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Wrote price cache entries")

	return nil
}

// ListStale returns symbols not refreshed within thresholdMinutes, oldest first.
func (s *Store) ListStale(ctx context.Context, assetType models.AssetType, thresholdMinutes int) ([]string, error) {
	cutoff := s.now().Add(-time.Duration(thresholdMinutes) * time.Minute)
	symbols, err := s.backend.ListOlderThan(ctx, assetType, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale %s entries: %w", assetType, err)
	}
	return symbols, nil
}

// Purge removes entries older than maxAge.
func (s *Store) Purge(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := s.now().Add(-maxAge)
	deleted, err := s.backend.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge price cache: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"rows_deleted": deleted,
		"cutoff_time":  cutoff,
	}).Info("Purged old price cache entries")

	return deleted, nil
}

func chunk(symbols []string, size int) [][]string {
	chunks := make([][]string, 0, (len(symbols)+size-1)/size)
	for start := 0; start < len(symbols); start += size {
		end := min(start+size, len(symbols))
		chunks = append(chunks, symbols[start:end])
	}
	return chunks
}
