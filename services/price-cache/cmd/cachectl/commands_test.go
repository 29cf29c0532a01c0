package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io"
	"testing"
	"time"

	"github.com/finboard/price-cache/services/price-cache/internal/cache"
	"github.com/finboard/price-cache/services/price-cache/internal/config"
	"github.com/finboard/price-cache/services/price-cache/internal/service"
	"github.com/finboard/price-cache/services/price-cache/pkg/models"
	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource map[string]decimal.Decimal

func (s staticSource) FetchQuotes(_ context.Context, reqs []models.SymbolRequest) []models.QuoteResult {
	out := make([]models.QuoteResult, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, models.QuoteResult{
			Request: r,
			Quote:   &models.Quote{Symbol: r.Symbol, AssetType: r.AssetType, Price: s[r.Symbol], Currency: "USD", Source: models.SourceEODHD},
		})
	}
	return out
}

func seededOpener(t *testing.T, entries ...models.PriceCacheEntry) (opener, *cache.MemoryBackend) {
	t.Helper()
	backend := cache.NewMemoryBackend()
	require.NoError(t, backend.PutBatch(context.Background(), entries))

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cfg := config.Default()
	cfg.Backend = config.BackendMemory

	return func(context.Context) (*app, error) {
		return newApp(cfg, backend, staticSource{"AAPL": decimal.NewFromInt(191)}, logger), nil
	}, backend
}

func entry(symbol string, price int64, age time.Duration) models.PriceCacheEntry {
	return models.PriceCacheEntry{
		Symbol:      symbol,
		AssetType:   models.AssetStock,
		Price:       decimal.NewFromInt(price),
		Currency:    "USD",
		Source:      models.SourceEODHD,
		LastUpdated: time.Now().UTC().Add(-age),
	}
}

func run(t *testing.T, cmd subcommands.Command, args ...string) subcommands.ExitStatus {
	t.Helper()
	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	cmd.SetFlags(fs)
	require.NoError(t, fs.Parse(args))
	return cmd.Execute(context.Background(), fs)
}

func TestStatsCmd(t *testing.T) {
	open, _ := seededOpener(t, entry("AAPL", 190, 0))
	var out bytes.Buffer

	status := run(t, &statsCmd{open: open, out: &out}, "-stocks", "AAPL,MSFT")

	assert.Equal(t, subcommands.ExitSuccess, status)
	var stats service.CacheStats
	require.NoError(t, json.Unmarshal(out.Bytes(), &stats))
	assert.Equal(t, 2, stats.TotalSymbols)
	assert.Equal(t, 1, stats.FreshSymbols)
	assert.Equal(t, 50.0, stats.CacheHitRate)
}

func TestValidateCmdFailsOnHighSeverity(t *testing.T) {
	open, _ := seededOpener(t, entry("AAPL", 190, 0), entry("BAD", -5, 0))
	var out bytes.Buffer

	status := run(t, &validateCmd{open: open, out: &out}, "-stocks", "AAPL,BAD")

	assert.Equal(t, subcommands.ExitFailure, status)
	assert.Contains(t, out.String(), `"severity": "high"`)
}

func TestSweepCmdRefreshesStale(t *testing.T) {
	open, backend := seededOpener(t, entry("AAPL", 190, time.Hour))
	var out bytes.Buffer

	status := run(t, &sweepCmd{open: open, out: &out}, "-refresh")

	assert.Equal(t, subcommands.ExitSuccess, status)
	assert.Contains(t, out.String(), "refreshed 1, failed 0")

	found, err := backend.GetBatch(context.Background(), models.AssetStock, []string{"AAPL"})
	require.NoError(t, err)
	assert.True(t, found["AAPL"].Price.Equal(decimal.NewFromInt(191)))
}

func TestSweepCmdPurges(t *testing.T) {
	open, backend := seededOpener(t, entry("OLD", 1, 40*24*time.Hour), entry("AAPL", 190, 0))
	var out bytes.Buffer

	status := run(t, &sweepCmd{open: open, out: &out}, "-purge")

	assert.Equal(t, subcommands.ExitSuccess, status)
	assert.Contains(t, out.String(), "purged 1 entries")
	assert.Equal(t, 1, backend.Len())
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"A", "B"}, splitCSV(" A, ,B"))
	assert.Nil(t, splitCSV(""))
}
