package main

import (
	"context"
	"strings"

	"github.com/finboard/price-cache/services/price-cache/internal/backend"
	"github.com/finboard/price-cache/services/price-cache/internal/cache"
	"github.com/finboard/price-cache/services/price-cache/internal/config"
	"github.com/finboard/price-cache/services/price-cache/internal/scheduler"
	"github.com/finboard/price-cache/services/price-cache/internal/service"
	"github.com/finboard/price-cache/services/price-cache/internal/source"
	"github.com/finboard/price-cache/services/price-cache/internal/syncstate"
	"github.com/finboard/price-cache/services/price-cache/pkg/models"
	"github.com/finboard/price-cache/shared/pkg/quotes"
	"github.com/finboard/price-cache/shared/pkg/utils"
	"github.com/sirupsen/logrus"
)

// app is what a subcommand runs against; it lives for one invocation.
type app struct {
	svc   *service.Service
	sched *scheduler.Scheduler
	close func() error
}

type opener func(ctx context.Context) (*app, error)

// openApp connects to the configured backend. Unlike the server it never
// falls back to memory: an empty cache would make every report misleading.
func openApp(ctx context.Context) (*app, error) {
	logger := utils.NewLogger("cachectl")

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	store, _, err := backend.Open(ctx, cfg, false, logger)
	if err != nil {
		return nil, err
	}

	kucoin := quotes.NewKuCoinClient(cfg.Source.KuCoin, cfg.Source.HTTP, logger)
	router := source.NewRouter(cfg.Source.HTTP.Timeout, logger).
		Register(models.AssetStock, models.SourceEODHD, quotes.NewEODHDClient(cfg.Source.EODHD, cfg.Source.HTTP, logger)).
		Register(models.AssetCrypto, models.SourceKuCoin, kucoin)

	a := newApp(cfg, store, router, logger)
	a.close = func() error {
		kucoin.Close()
		return store.Close()
	}
	return a, nil
}

func newApp(cfg *config.Config, store backend.DocumentStore, src service.PriceSource, logger *logrus.Logger) *app {
	prices := cache.NewStore(store, cfg.Cache.BatchSize, logger)
	svc := service.New(cfg.Cache, prices, syncstate.NewStore(store, logger), store, src, logger)

	return &app{
		svc: svc,
		sched: scheduler.NewScheduler(scheduler.Config{
			Retention:  cfg.Retention(),
			TTLMinutes: cfg.Cache.TTLMinutes,
		}, prices, svc, logger),
		close: store.Close,
	}
}

// symbolFlags is the -stocks/-crypto pair shared by the read commands.
type symbolFlags struct {
	stocks string
	crypto string
}

func (s symbolFlags) portfolio() models.PortfolioSymbols {
	return models.PortfolioSymbols{
		Stocks: splitCSV(s.stocks),
		Crypto: splitCSV(s.crypto),
	}
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
