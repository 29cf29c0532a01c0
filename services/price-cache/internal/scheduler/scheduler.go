// Package scheduler runs the optional cache maintenance jobs: the daily purge
// of expired entries and the periodic stale-symbol refresh.
package scheduler

import (
	"context"
	"time"

	"github.com/finboard/price-cache/services/price-cache/internal/service"
	"github.com/finboard/price-cache/services/price-cache/pkg/models"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// AutoUpdateUser is the user id the refresh job writes audit rows under.
const AutoUpdateUser = "system:auto-update"

const (
	purgeSpec             = "0 0 2 * * *"
	defaultAutoUpdateSpec = "0 */5 * * * *"
	defaultMaxSymbols     = 100
)

type CacheMaintainer interface {
	ListStale(ctx context.Context, assetType models.AssetType, thresholdMinutes int) ([]string, error)
	Purge(ctx context.Context, maxAge time.Duration) (int64, error)
}

type PortfolioUpdater interface {
	UpdatePortfolioCache(ctx context.Context, userID string, symbols models.PortfolioSymbols) *service.CacheUpdateResult
}

type Config struct {
	Retention        time.Duration
	EnableAutoUpdate bool
	AutoUpdateSpec   string
	TTLMinutes       int
	// MaxSymbolsPerRun caps each asset type's refresh, oldest first.
	MaxSymbolsPerRun int
}

type Scheduler struct {
	cfg     Config
	store   CacheMaintainer
	updater PortfolioUpdater
	cron    *cron.Cron
	logger  *logrus.Logger
}

func NewScheduler(cfg Config, store CacheMaintainer, updater PortfolioUpdater, logger *logrus.Logger) *Scheduler {
	if cfg.AutoUpdateSpec == "" {
		cfg.AutoUpdateSpec = defaultAutoUpdateSpec
	}
	if cfg.MaxSymbolsPerRun <= 0 {
		cfg.MaxSymbolsPerRun = defaultMaxSymbols
	}

	return &Scheduler{
		cfg:     cfg,
		store:   store,
		updater: updater,
		cron:    cron.New(cron.WithSeconds()),
		logger:  logger,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.WithFields(logrus.Fields{
		"retention":   s.cfg.Retention,
		"auto_update": s.cfg.EnableAutoUpdate,
	}).Info("Starting cache maintenance scheduler")

	// Purge daily at 2 AM
	if s.cfg.Retention > 0 {
		if _, err := s.cron.AddFunc(purgeSpec, func() {
			s.RunPurge(ctx)
		}); err != nil {
			return err
		}
	}

	if s.cfg.EnableAutoUpdate {
		if _, err := s.cron.AddFunc(s.cfg.AutoUpdateSpec, func() {
			s.RunAutoUpdate(ctx)
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.WithField("jobs", len(s.cron.Entries())).Info("Cache maintenance scheduler started")
	return nil
}

func (s *Scheduler) Stop() {
	s.logger.Info("Stopping cache maintenance scheduler")
	<-s.cron.Stop().Done()
}

// RunPurge deletes entries older than the retention window.
func (s *Scheduler) RunPurge(ctx context.Context) int64 {
	s.logger.Info("Starting cache purge cycle")

	deleted, err := s.store.Purge(ctx, s.cfg.Retention)
	if err != nil {
		s.logger.WithError(err).Error("Failed to purge price cache")
		return 0
	}

	s.logger.WithField("rows_deleted", deleted).Info("Cache purge cycle completed")
	return deleted
}

// RunAutoUpdate refreshes every symbol whose entry is older than the TTL.
// It returns nil when nothing was stale.
func (s *Scheduler) RunAutoUpdate(ctx context.Context) *service.CacheUpdateResult {
	start := time.Now()

	var symbols models.PortfolioSymbols
	for _, assetType := range models.AssetTypes {
		stale, err := s.store.ListStale(ctx, assetType, s.cfg.TTLMinutes)
		if err != nil {
			s.logger.WithError(err).WithField("asset_type", assetType).Error("Failed to list stale entries")
			continue
		}
		if len(stale) > s.cfg.MaxSymbolsPerRun {
			stale = stale[:s.cfg.MaxSymbolsPerRun]
		}
		if assetType == models.AssetCrypto {
			symbols.Crypto = stale
		} else {
			symbols.Stocks = stale
		}
	}

	if symbols.Total() == 0 {
		s.logger.Debug("No stale entries to refresh")
		return nil
	}

	result := s.updater.UpdatePortfolioCache(ctx, AutoUpdateUser, symbols)
	s.logger.WithFields(logrus.Fields{
		"stale_symbols": symbols.Total(),
		"updated":       len(result.UpdatedSymbols),
		"failed":        len(result.FailedSymbols),
		"duration_ms":   time.Since(start).Milliseconds(),
	}).Info("Auto-update cycle completed")

	return result
}
