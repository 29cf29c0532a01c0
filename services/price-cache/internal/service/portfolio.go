package service

import (
	"context"
	"fmt"
	"time"

	"github.com/finboard/price-cache/services/price-cache/internal/planner"
	"github.com/finboard/price-cache/services/price-cache/internal/syncstate"
	"github.com/finboard/price-cache/services/price-cache/pkg/models"
	"github.com/finboard/price-cache/shared/pkg/utils"
	"github.com/sirupsen/logrus"
)

type PortfolioMetadata struct {
	CacheHitRate   float64    `json:"cache_hit_rate"`
	TotalSymbols   int        `json:"total_symbols"`
	FreshSymbols   int        `json:"fresh_symbols"`
	StaleSymbols   int        `json:"stale_symbols"`
	MissingSymbols int        `json:"missing_symbols"`
	LastSync       *time.Time `json:"last_sync,omitempty"`
}

// PortfolioData holds fresh entries only. Stale and missing symbols are listed
// in Refetch for the caller to resolve and pass to UpdatePortfolioCache.
type PortfolioData struct {
	Stocks   map[string]models.PriceCacheEntry `json:"stocks"`
	Crypto   map[string]models.PriceCacheEntry `json:"crypto"`
	Metadata PortfolioMetadata                 `json:"metadata"`
	Plans    map[models.AssetType]planner.Plan `json:"plans"`
	Refetch  models.PortfolioSymbols           `json:"refetch"`
	Errors   []string                          `json:"errors,omitempty"`
}

func (s *Service) GetPortfolioData(ctx context.Context, userID string, symbols models.PortfolioSymbols) *PortfolioData {
	start := time.Now()
	symbols = symbols.Normalize()
	rec := s.lastSync(ctx, userID)
	views := s.readPortfolio(ctx, symbols)

	data := &PortfolioData{
		Stocks:  map[string]models.PriceCacheEntry{},
		Crypto:  map[string]models.PriceCacheEntry{},
		Plans:   make(map[models.AssetType]planner.Plan, len(views)),
		Refetch: models.PortfolioSymbols{Stocks: []string{}, Crypto: []string{}},
		Errors:  errorStrings(views),
	}

	cached := 0
	for _, v := range views {
		var cmp *syncstate.Comparison
		if rec != nil {
			c := syncstate.CompareToCache(rec.LastSyncTimestamp, syncstate.Timestamps(v.entries))
			cmp = &c
		}
		plan := s.planner.Plan(v.classification, cmp)
		data.Plans[v.assetType] = plan

		target := data.Stocks
		if v.assetType == models.AssetCrypto {
			target = data.Crypto
			data.Refetch.Crypto = plan.UpdateRequired
		} else {
			data.Refetch.Stocks = plan.UpdateRequired
		}
		for _, symbol := range plan.UseCache {
			target[symbol] = v.entries[symbol]
		}

		cached += v.classification.Cached()
		data.Metadata.FreshSymbols += len(v.classification.Fresh)
		data.Metadata.StaleSymbols += len(v.classification.Stale)
		data.Metadata.MissingSymbols += len(v.classification.Missing)
	}

	data.Metadata.TotalSymbols = symbols.Total()
	data.Metadata.CacheHitRate = utils.Percentage(cached, data.Metadata.TotalSymbols)
	data.Metadata.LastSync = syncTime(rec)

	s.logger.WithFields(logrus.Fields{
		"user_id":        userID,
		"total_symbols":  data.Metadata.TotalSymbols,
		"fresh_symbols":  data.Metadata.FreshSymbols,
		"stale_symbols":  data.Metadata.StaleSymbols,
		"cache_hit_rate": data.Metadata.CacheHitRate,
		"duration_ms":    time.Since(start).Milliseconds(),
	}).Info("Served portfolio data from cache")

	return data
}

type Staleness struct {
	Stocks  float64 `json:"stocks"`
	Crypto  float64 `json:"crypto"`
	Overall float64 `json:"overall"`
}

type UpdateRecommendation struct {
	ShouldUpdate bool      `json:"should_update"`
	Reason       string    `json:"reason"`
	Staleness    Staleness `json:"staleness"`
	Errors       []string  `json:"errors,omitempty"`
}

// ShouldUpdateCache averages the fresh percentage over the asset types that
// have symbols and recommends a refresh below the recommendation threshold.
func (s *Service) ShouldUpdateCache(ctx context.Context, userID string, symbols models.PortfolioSymbols) *UpdateRecommendation {
	symbols = symbols.Normalize()
	views := s.readPortfolio(ctx, symbols)

	rec := &UpdateRecommendation{Errors: errorStrings(views)}
	var percentages []float64
	for _, v := range views {
		if len(v.symbols) == 0 {
			continue
		}
		staleness := 100 - v.classification.FreshPercentage
		if v.assetType == models.AssetCrypto {
			rec.Staleness.Crypto = staleness
		} else {
			rec.Staleness.Stocks = staleness
		}
		percentages = append(percentages, v.classification.FreshPercentage)
	}

	if len(percentages) == 0 {
		rec.Reason = "no symbols to check"
		return rec
	}

	average := utils.Mean(percentages)
	rec.Staleness.Overall = 100 - average
	rec.ShouldUpdate = s.planner.ShouldRecommendUpdate(average)
	if rec.ShouldUpdate {
		rec.Reason = fmt.Sprintf("only %.1f%% of prices are fresh (threshold %.0f%%)", average, s.planner.UpdateRecommendationThreshold)
	} else {
		rec.Reason = fmt.Sprintf("%.1f%% of prices are fresh", average)
	}
	if len(rec.Errors) > 0 {
		rec.Reason += "; price cache unavailable"
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":       userID,
		"should_update": rec.ShouldUpdate,
		"staleness":     rec.Staleness.Overall,
	}).Debug("Checked cache staleness")

	return rec
}

type CacheStats struct {
	TotalSymbols   int        `json:"total_symbols"`
	CachedSymbols  int        `json:"cached_symbols"`
	FreshSymbols   int        `json:"fresh_symbols"`
	StaleSymbols   int        `json:"stale_symbols"`
	MissingSymbols int        `json:"missing_symbols"`
	CacheHitRate   float64    `json:"cache_hit_rate"`
	AverageAge     float64    `json:"average_age"`
	LastSync       *time.Time `json:"last_sync"`
	Errors         []string   `json:"errors,omitempty"`
}

// GetCacheStats averages age over the entries actually present, not over all symbols.
func (s *Service) GetCacheStats(ctx context.Context, userID string, symbols models.PortfolioSymbols) *CacheStats {
	symbols = symbols.Normalize()
	rec := s.lastSync(ctx, userID)
	views := s.readPortfolio(ctx, symbols)

	stats := &CacheStats{
		TotalSymbols: symbols.Total(),
		LastSync:     syncTime(rec),
		Errors:       errorStrings(views),
	}

	var ages []float64
	for _, v := range views {
		stats.CachedSymbols += v.classification.Cached()
		stats.FreshSymbols += len(v.classification.Fresh)
		stats.StaleSymbols += len(v.classification.Stale)
		stats.MissingSymbols += len(v.classification.Missing)
		for _, verdict := range v.classification.Symbols {
			if verdict.AgeMinutes != nil {
				ages = append(ages, float64(*verdict.AgeMinutes))
			}
		}
	}

	stats.CacheHitRate = utils.Percentage(stats.CachedSymbols, stats.TotalSymbols)
	stats.AverageAge = utils.NormalizeTo(utils.Mean(ages), 2)
	return stats
}
