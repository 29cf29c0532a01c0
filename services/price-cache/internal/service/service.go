// Package service is the CachePriceService facade: the only entry point
// callers use to read, refresh and audit the shared price cache.
package service

import (
	"context"
	"time"

	"github.com/finboard/price-cache/services/price-cache/internal/freshness"
	"github.com/finboard/price-cache/services/price-cache/internal/planner"
	"github.com/finboard/price-cache/services/price-cache/pkg/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type PriceStore interface {
	Get(ctx context.Context, symbols []string, assetType models.AssetType) (map[string]models.PriceCacheEntry, error)
	PutMany(ctx context.Context, entries []models.PriceCacheEntry) error
	ListStale(ctx context.Context, assetType models.AssetType, thresholdMinutes int) ([]string, error)
}

type SyncStore interface {
	Get(ctx context.Context, userID string) (*models.UserSyncRecord, error)
	Upsert(ctx context.Context, userID string, symbols models.PortfolioSymbols) (*models.UserSyncRecord, error)
}

// AuditLedger records update attempts. It is never read for cache decisions.
type AuditLedger interface {
	CreateUpdateRequest(ctx context.Context, req models.CacheUpdateRequest) error
	FinishUpdateRequest(ctx context.Context, req models.CacheUpdateRequest) error
}

// PriceSource resolves symbols against external providers. It reports a
// per-symbol error instead of failing the whole call.
type PriceSource interface {
	FetchQuotes(ctx context.Context, reqs []models.SymbolRequest) []models.QuoteResult
}

type Config struct {
	TTLMinutes    int `yaml:"ttl_minutes"`
	MaxStaleHours int `yaml:"max_stale_hours"`
	BatchSize     int `yaml:"batch_size"`
	// EnableAutoUpdate is read by the hosting process to schedule refreshes.
	EnableAutoUpdate bool `yaml:"enable_auto_update"`
}

func DefaultConfig() Config {
	return Config{
		TTLMinutes:    freshness.DefaultTTLMinutes,
		MaxStaleHours: freshness.DefaultMaxStaleHours,
		BatchSize:     10,
	}
}

type Service struct {
	cfg      Config
	prices   PriceStore
	syncs    SyncStore
	ledger   AuditLedger
	source   PriceSource
	analyzer *freshness.Analyzer
	planner  *planner.Planner
	logger   *logrus.Logger
}

func New(cfg Config, prices PriceStore, syncs SyncStore, ledger AuditLedger, source PriceSource, logger *logrus.Logger) *Service {
	defaults := DefaultConfig()
	if cfg.TTLMinutes <= 0 {
		cfg.TTLMinutes = defaults.TTLMinutes
	}
	if cfg.MaxStaleHours <= 0 {
		cfg.MaxStaleHours = defaults.MaxStaleHours
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}

	return &Service{
		cfg:      cfg,
		prices:   prices,
		syncs:    syncs,
		ledger:   ledger,
		source:   source,
		analyzer: freshness.NewAnalyzer(),
		planner:  planner.DefaultPlanner(),
		logger:   logger,
	}
}

// WithAnalyzer swaps the freshness analyzer, mainly to pin the clock.
func (s *Service) WithAnalyzer(a *freshness.Analyzer) *Service {
	s.analyzer = a
	return s
}

func (s *Service) WithPlanner(p *planner.Planner) *Service {
	s.planner = p
	return s
}

func (s *Service) Config() Config {
	return s.cfg
}

// assetView is one asset type's cache read and its classification.
type assetView struct {
	assetType      models.AssetType
	symbols        []string
	entries        map[string]models.PriceCacheEntry
	classification freshness.Classification
	err            error
}

// readPortfolio reads and classifies stocks and crypto concurrently. A
// storage error degrades that asset type to "everything missing".
func (s *Service) readPortfolio(ctx context.Context, symbols models.PortfolioSymbols) []*assetView {
	views := make([]*assetView, len(models.AssetTypes))

	var g errgroup.Group
	for i, assetType := range models.AssetTypes {
		view := &assetView{assetType: assetType, symbols: symbols.ForType(assetType)}
		views[i] = view
		g.Go(func() error {
			view.entries = map[string]models.PriceCacheEntry{}
			if len(view.symbols) > 0 {
				entries, err := s.prices.Get(ctx, view.symbols, assetType)
				if err != nil {
					s.logger.WithError(err).WithField("asset_type", assetType).Warn("Price cache unavailable, treating symbols as missing")
					view.err = err
				} else {
					view.entries = entries
				}
			}
			view.classification = s.analyzer.Classify(view.symbols, assetType, view.entries, s.cfg.TTLMinutes)
			return nil
		})
	}
	_ = g.Wait()

	return views
}

func (s *Service) lastSync(ctx context.Context, userID string) *models.UserSyncRecord {
	if userID == "" {
		return nil
	}
	rec, err := s.syncs.Get(ctx, userID)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("Failed to read user sync record")
		return nil
	}
	return rec
}

func errorStrings(views []*assetView) []string {
	var errs []string
	for _, v := range views {
		if v.err != nil {
			errs = append(errs, v.err.Error())
		}
	}
	return errs
}

func syncTime(rec *models.UserSyncRecord) *time.Time {
	if rec == nil {
		return nil
	}
	t := rec.LastSyncTimestamp
	return &t
}
