// Package source resolves portfolio symbols against the external quote providers.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/finboard/price-cache/services/price-cache/pkg/models"
	"github.com/finboard/price-cache/shared/pkg/quotes"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 8

// ErrNoProvider is returned for asset types with no configured provider.
var ErrNoProvider = errors.New("no price provider for asset type")

// Quoter is a single-symbol quote provider.
type Quoter interface {
	Quote(ctx context.Context, symbol string) (*quotes.Quote, error)
}

type provider struct {
	quoter Quoter
	source models.Source
}

// Router sends stock symbols to one provider and crypto symbols to another.
// Each symbol gets its own timeout and its own error; one failure never
// affects siblings.
type Router struct {
	providers   map[models.AssetType]provider
	timeout     time.Duration
	concurrency int
	logger      *logrus.Logger
}

func NewRouter(timeout time.Duration, logger *logrus.Logger) *Router {
	if timeout <= 0 {
		timeout = quotes.DefaultConfig().Timeout
	}
	return &Router{
		providers:   make(map[models.AssetType]provider),
		timeout:     timeout,
		concurrency: defaultConcurrency,
		logger:      logger,
	}
}

// Register sets the provider for assetType, replacing any previous one.
func (r *Router) Register(assetType models.AssetType, src models.Source, q Quoter) *Router {
	r.providers[assetType] = provider{quoter: q, source: src}
	return r
}

func (r *Router) SetConcurrency(n int) {
	if n > 0 {
		r.concurrency = n
	}
}

// FetchQuotes resolves every request. Results are in request order.
func (r *Router) FetchQuotes(ctx context.Context, reqs []models.SymbolRequest) []models.QuoteResult {
	results := make([]models.QuoteResult, len(reqs))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			q, err := r.fetchOne(ctx, req)
			results[i] = models.QuoteResult{Request: req, Quote: q, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			r.logger.WithError(res.Err).WithFields(logrus.Fields{
				"symbol":     res.Request.Symbol,
				"asset_type": res.Request.AssetType,
			}).Warn("Failed to fetch quote")
		}
	}
	r.logger.WithFields(logrus.Fields{
		"requested": len(reqs),
		"failed":    failed,
	}).Debug("Fetched quotes")

	return results
}

func (r *Router) fetchOne(ctx context.Context, req models.SymbolRequest) (*models.Quote, error) {
	p, ok := r.providers[req.AssetType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoProvider, req.AssetType)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	q, err := p.quoter.Quote(callCtx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", p.source, req.Symbol, err)
	}

	return &models.Quote{
		Symbol:    req.Symbol,
		AssetType: req.AssetType,
		Price:     q.Price,
		Currency:  q.Currency,
		Source:    p.source,
		Metadata: &models.PriceMetadata{
			Change:        q.Change,
			ChangePercent: q.ChangePercent,
			Volume:        q.Volume,
			MarketCap:     q.MarketCap,
			High:          q.High,
			Low:           q.Low,
			Open:          q.Open,
			PreviousClose: q.PreviousClose,
		},
	}, nil
}
