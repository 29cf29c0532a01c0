package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/finboard/price-cache/services/price-cache/internal/cache"
	"github.com/finboard/price-cache/services/price-cache/internal/freshness"
	"github.com/finboard/price-cache/services/price-cache/internal/planner"
	"github.com/finboard/price-cache/services/price-cache/internal/syncstate"
	"github.com/finboard/price-cache/services/price-cache/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPriceSource struct {
	mock.Mock
}

func (m *MockPriceSource) FetchQuotes(ctx context.Context, reqs []models.SymbolRequest) []models.QuoteResult {
	args := m.Called(ctx, reqs)
	return args.Get(0).([]models.QuoteResult)
}

// eventLog records the order in which collaborators are written to.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

// recordingBackend wraps the memory backend, logs writes and can fail them.
type recordingBackend struct {
	*cache.MemoryBackend
	log       *eventLog
	putErr    error
	getErr    error
	upsertErr error
}

func (b *recordingBackend) GetBatch(ctx context.Context, assetType models.AssetType, symbols []string) (map[string]models.PriceCacheEntry, error) {
	if b.getErr != nil {
		return nil, b.getErr
	}
	return b.MemoryBackend.GetBatch(ctx, assetType, symbols)
}

func (b *recordingBackend) PutBatch(ctx context.Context, entries []models.PriceCacheEntry) error {
	b.log.add("prices")
	if b.putErr != nil {
		return b.putErr
	}
	return b.MemoryBackend.PutBatch(ctx, entries)
}

func (b *recordingBackend) UpsertSyncRecord(ctx context.Context, rec models.UserSyncRecord) error {
	b.log.add("sync")
	if b.upsertErr != nil {
		return b.upsertErr
	}
	return b.MemoryBackend.UpsertSyncRecord(ctx, rec)
}

func (b *recordingBackend) CreateUpdateRequest(ctx context.Context, req models.CacheUpdateRequest) error {
	b.log.add("audit:" + string(req.Status))
	return b.MemoryBackend.CreateUpdateRequest(ctx, req)
}

func (b *recordingBackend) FinishUpdateRequest(ctx context.Context, req models.CacheUpdateRequest) error {
	b.log.add("audit:" + string(req.Status))
	return b.MemoryBackend.FinishUpdateRequest(ctx, req)
}

type fixture struct {
	svc     *Service
	backend *recordingBackend
	source  *MockPriceSource
	log     *eventLog
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := quietLogger()
	log := &eventLog{}
	backend := &recordingBackend{MemoryBackend: cache.NewMemoryBackend(), log: log}
	source := new(MockPriceSource)

	svc := New(DefaultConfig(),
		cache.NewStore(backend, 10, logger),
		syncstate.NewStore(backend, logger),
		backend,
		source,
		logger,
	)
	return &fixture{svc: svc, backend: backend, source: source, log: log}
}

// seed writes entries straight to the backend, bypassing validation and stamping.
func (f *fixture) seed(t *testing.T, entries ...models.PriceCacheEntry) {
	t.Helper()
	require.NoError(t, f.backend.MemoryBackend.PutBatch(context.Background(), entries))
}

func cached(symbol string, assetType models.AssetType, price float64, updated time.Time) models.PriceCacheEntry {
	return models.PriceCacheEntry{
		Symbol:      symbol,
		AssetType:   assetType,
		Price:       decimal.NewFromFloat(price),
		Currency:    "USD",
		Source:      models.SourceEODHD,
		LastUpdated: updated,
	}
}

func quote(symbol string, assetType models.AssetType, price float64, src models.Source) models.QuoteResult {
	return models.QuoteResult{
		Request: models.SymbolRequest{Symbol: symbol, AssetType: assetType},
		Quote: &models.Quote{
			Symbol:    symbol,
			AssetType: assetType,
			Price:     decimal.NewFromFloat(price),
			Currency:  "usd",
			Source:    src,
		},
	}
}

func TestService_UpdateThenReadRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	portfolio := models.PortfolioSymbols{Stocks: []string{"aapl"}, Crypto: []string{"btc"}}

	f.source.On("FetchQuotes", mock.Anything, []models.SymbolRequest{
		{Symbol: "AAPL", AssetType: models.AssetStock},
		{Symbol: "BTC", AssetType: models.AssetCrypto},
	}).Return([]models.QuoteResult{
		quote("AAPL", models.AssetStock, 190.25, models.SourceEODHD),
		quote("BTC", models.AssetCrypto, 65000, models.SourceKuCoin),
	})

	result := f.svc.UpdatePortfolioCache(ctx, "u1", portfolio)

	require.True(t, result.Success, result.Errors)
	assert.Equal(t, []string{"AAPL", "BTC"}, result.UpdatedSymbols)
	assert.Empty(t, result.FailedSymbols)
	assert.Equal(t, 0, result.CacheHits)
	assert.Equal(t, 2, result.APICalls)

	data := f.svc.GetPortfolioData(ctx, "u1", portfolio)
	require.Contains(t, data.Stocks, "AAPL")
	assert.True(t, data.Stocks["AAPL"].Price.Equal(decimal.NewFromFloat(190.25)))
	assert.Equal(t, "USD", data.Stocks["AAPL"].Currency)
	assert.Equal(t, models.SourceEODHD, data.Stocks["AAPL"].Source)
	require.Contains(t, data.Crypto, "BTC")
	assert.Equal(t, models.SourceKuCoin, data.Crypto["BTC"].Source)
	assert.Equal(t, 100.0, data.Metadata.CacheHitRate)
	assert.Equal(t, 2, data.Metadata.FreshSymbols)
	assert.Equal(t, planner.StrategyUseCache, data.Plans[models.AssetStock].Strategy)
	assert.NotNil(t, data.Metadata.LastSync)

	audit, ok := f.backend.UpdateRequest(result.RequestID)
	require.True(t, ok)
	assert.Equal(t, models.UpdateCompleted, audit.Status)
	assert.Equal(t, []string{"AAPL", "BTC"}, audit.UpdatedSymbols)
	assert.NotNil(t, audit.CompletedAt)

	rec, err := f.backend.GetSyncRecord(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, []string{"AAPL"}, rec.PortfolioSymbols.Stocks)
	f.source.AssertExpectations(t)
}

func TestService_UpdateWritesInOrder(t *testing.T) {
	f := newFixture(t)
	f.source.On("FetchQuotes", mock.Anything, mock.Anything).Return([]models.QuoteResult{
		quote("AAPL", models.AssetStock, 190, models.SourceEODHD),
	})

	f.svc.UpdatePortfolioCache(context.Background(), "u1", models.PortfolioSymbols{Stocks: []string{"AAPL"}})

	assert.Equal(t, []string{"audit:processing", "prices", "sync", "audit:completed"}, f.log.events)
}

func TestService_UpdateSourceFailureIsPerSymbol(t *testing.T) {
	f := newFixture(t)
	f.source.On("FetchQuotes", mock.Anything, mock.Anything).Return([]models.QuoteResult{
		quote("AAPL", models.AssetStock, 190, models.SourceEODHD),
		{Request: models.SymbolRequest{Symbol: "NOPE", AssetType: models.AssetStock}, Err: errors.New("symbol not found")},
		quote("ZERO", models.AssetStock, 0, models.SourceEODHD),
	})

	result := f.svc.UpdatePortfolioCache(context.Background(), "u1", models.PortfolioSymbols{Stocks: []string{"AAPL", "NOPE", "ZERO"}})

	assert.False(t, result.Success)
	assert.Equal(t, []string{"AAPL"}, result.UpdatedSymbols)
	assert.Equal(t, []string{"NOPE", "ZERO"}, result.FailedSymbols)
	assert.Len(t, result.Errors, 2)

	audit, ok := f.backend.UpdateRequest(result.RequestID)
	require.True(t, ok)
	assert.Equal(t, models.UpdateCompleted, audit.Status)
	assert.NotEmpty(t, audit.Error)
}

func TestService_UpdateStorageFailureFailsEverything(t *testing.T) {
	f := newFixture(t)
	f.backend.putErr = errors.New("document store unavailable")
	f.source.On("FetchQuotes", mock.Anything, mock.Anything).Return([]models.QuoteResult{
		quote("AAPL", models.AssetStock, 190, models.SourceEODHD),
		quote("ETH", models.AssetCrypto, 3000, models.SourceKuCoin),
	})

	result := f.svc.UpdatePortfolioCache(context.Background(), "u1", models.PortfolioSymbols{Stocks: []string{"AAPL"}, Crypto: []string{"ETH"}})

	assert.False(t, result.Success)
	assert.Empty(t, result.UpdatedSymbols)
	assert.Equal(t, []string{"AAPL", "ETH"}, result.FailedSymbols)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "document store unavailable")

	audit, ok := f.backend.UpdateRequest(result.RequestID)
	require.True(t, ok)
	assert.Equal(t, models.UpdateFailed, audit.Status)

	rec, err := f.backend.GetSyncRecord(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NotContains(t, f.log.events, "sync")
}

func TestService_UpdateSyncFailureFailsEverything(t *testing.T) {
	f := newFixture(t)
	f.backend.upsertErr = errors.New("conflict")
	f.source.On("FetchQuotes", mock.Anything, mock.Anything).Return([]models.QuoteResult{
		quote("AAPL", models.AssetStock, 190, models.SourceEODHD),
	})

	result := f.svc.UpdatePortfolioCache(context.Background(), "u1", models.PortfolioSymbols{Stocks: []string{"AAPL"}})

	assert.False(t, result.Success)
	assert.Equal(t, []string{"AAPL"}, result.FailedSymbols)
	audit, _ := f.backend.UpdateRequest(result.RequestID)
	assert.Equal(t, models.UpdateFailed, audit.Status)
}

func TestService_UpdateCountsCacheHits(t *testing.T) {
	f := newFixture(t)
	f.seed(t, cached("AAPL", models.AssetStock, 190, time.Now().UTC()))
	f.source.On("FetchQuotes", mock.Anything, mock.Anything).Return([]models.QuoteResult{
		quote("AAPL", models.AssetStock, 191, models.SourceEODHD),
		quote("MSFT", models.AssetStock, 410, models.SourceEODHD),
	})

	result := f.svc.UpdatePortfolioCache(context.Background(), "u1", models.PortfolioSymbols{Stocks: []string{"AAPL", "MSFT"}})

	assert.Equal(t, 1, result.CacheHits)
	assert.Equal(t, 2, result.APICalls)
}

func TestService_UpdateNoSymbols(t *testing.T) {
	f := newFixture(t)

	result := f.svc.UpdatePortfolioCache(context.Background(), "u1", models.PortfolioSymbols{})

	assert.True(t, result.Success)
	assert.Equal(t, uuid.Nil, result.RequestID)
	assert.Empty(t, f.backend.UpdateRequests())
	f.source.AssertNotCalled(t, "FetchQuotes", mock.Anything, mock.Anything)
}

func TestService_GetPortfolioDataHitRate(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	f.seed(t,
		cached("AAPL", models.AssetStock, 190, now),
		cached("MSFT", models.AssetStock, 410, now.Add(-10*time.Minute)),
		cached("BTC", models.AssetCrypto, 65000, now),
	)

	data := f.svc.GetPortfolioData(context.Background(), "u1", models.PortfolioSymbols{
		Stocks: []string{"AAPL", "MSFT", "GOOGL"},
		Crypto: []string{"BTC"},
	})

	assert.Equal(t, 4, data.Metadata.TotalSymbols)
	assert.Equal(t, 75.0, data.Metadata.CacheHitRate)
	assert.Equal(t, 2, data.Metadata.FreshSymbols)
	assert.Equal(t, 1, data.Metadata.StaleSymbols)
	assert.Equal(t, 1, data.Metadata.MissingSymbols)
	assert.Len(t, data.Stocks, 1)
	assert.Contains(t, data.Stocks, "AAPL")
	assert.NotContains(t, data.Stocks, "MSFT")
	assert.Equal(t, []string{"MSFT", "GOOGL"}, data.Refetch.Stocks)
	assert.Empty(t, data.Refetch.Crypto)
	assert.Nil(t, data.Metadata.LastSync)
	assert.Empty(t, data.Errors)
}

func TestService_GetPortfolioDataNoSymbols(t *testing.T) {
	f := newFixture(t)

	data := f.svc.GetPortfolioData(context.Background(), "u1", models.PortfolioSymbols{})

	assert.Equal(t, 0, data.Metadata.TotalSymbols)
	assert.Equal(t, 0.0, data.Metadata.CacheHitRate)
	assert.Equal(t, planner.StrategyFullUpdate, data.Plans[models.AssetStock].Strategy)
}

func TestService_GetPortfolioDataStorageFailure(t *testing.T) {
	f := newFixture(t)
	f.backend.getErr = errors.New("connection refused")

	data := f.svc.GetPortfolioData(context.Background(), "u1", models.PortfolioSymbols{Stocks: []string{"AAPL"}, Crypto: []string{"BTC"}})

	assert.Empty(t, data.Stocks)
	assert.Empty(t, data.Crypto)
	assert.Equal(t, 2, data.Metadata.MissingSymbols)
	assert.Equal(t, 0.0, data.Metadata.CacheHitRate)
	assert.Len(t, data.Errors, 2)
}

func TestService_ShouldUpdateCache(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	f.seed(t,
		cached("AAPL", models.AssetStock, 190, now),
		cached("MSFT", models.AssetStock, 410, now),
		cached("BTC", models.AssetCrypto, 65000, now),
		cached("ETH", models.AssetCrypto, 3000, now.Add(-time.Hour)),
	)
	ctx := context.Background()

	fresh := f.svc.ShouldUpdateCache(ctx, "u1", models.PortfolioSymbols{Stocks: []string{"AAPL", "MSFT"}, Crypto: []string{"BTC"}})
	assert.False(t, fresh.ShouldUpdate)
	assert.Equal(t, 0.0, fresh.Staleness.Overall)

	// stocks 100% fresh, crypto 50% fresh: average 75 is not below the threshold
	borderline := f.svc.ShouldUpdateCache(ctx, "u1", models.PortfolioSymbols{Stocks: []string{"AAPL"}, Crypto: []string{"BTC", "ETH"}})
	assert.False(t, borderline.ShouldUpdate)
	assert.Equal(t, 50.0, borderline.Staleness.Crypto)
	assert.Equal(t, 25.0, borderline.Staleness.Overall)

	cold := f.svc.ShouldUpdateCache(ctx, "u1", models.PortfolioSymbols{Stocks: []string{"GOOGL"}})
	assert.True(t, cold.ShouldUpdate)
	assert.Equal(t, 100.0, cold.Staleness.Stocks)
	assert.Equal(t, 0.0, cold.Staleness.Crypto)
	assert.Equal(t, 100.0, cold.Staleness.Overall)

	empty := f.svc.ShouldUpdateCache(ctx, "u1", models.PortfolioSymbols{})
	assert.False(t, empty.ShouldUpdate)
}

func TestService_GetCacheStats(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	f.svc.WithAnalyzer(freshness.NewAnalyzerWithClock(func() time.Time { return now }))
	f.seed(t,
		cached("AAPL", models.AssetStock, 190, now.Add(-2*time.Minute)),
		cached("GOOGL", models.AssetStock, 140, now.Add(-6*time.Minute)),
	)

	stats := f.svc.GetCacheStats(context.Background(), "u1", models.PortfolioSymbols{Stocks: []string{"AAPL", "GOOGL", "MSFT"}})

	assert.Equal(t, 3, stats.TotalSymbols)
	assert.Equal(t, 2, stats.CachedSymbols)
	assert.Equal(t, 1, stats.FreshSymbols)
	assert.Equal(t, 1, stats.StaleSymbols)
	assert.Equal(t, 1, stats.MissingSymbols)
	assert.Equal(t, 4.0, stats.AverageAge)
	assert.InDelta(t, 66.67, stats.CacheHitRate, 0.01)
	assert.Nil(t, stats.LastSync)
}

func TestService_GetCacheStatsEmptyCache(t *testing.T) {
	f := newFixture(t)

	stats := f.svc.GetCacheStats(context.Background(), "u1", models.PortfolioSymbols{Crypto: []string{"BTC"}})

	assert.Equal(t, 0.0, stats.AverageAge)
	assert.Equal(t, 0.0, stats.CacheHitRate)
	assert.Equal(t, 1, stats.MissingSymbols)
}

func TestService_ValidateCacheIntegrity(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	f.seed(t,
		cached("AAPL", models.AssetStock, 190, now),
		cached("BAD", models.AssetStock, -5, now),
		cached("OLD", models.AssetStock, 12, now.Add(-30*time.Hour)),
	)

	report := f.svc.ValidateCacheIntegrity(context.Background(), models.PortfolioSymbols{Stocks: []string{"AAPL", "BAD", "OLD", "MISSING"}})

	assert.False(t, report.IsValid)
	assert.Equal(t, 3, report.Checked)
	require.Len(t, report.Issues, 2)
	assert.Equal(t, "BAD", report.Issues[0].Symbol)
	assert.Equal(t, SeverityHigh, report.Issues[0].Severity)
	assert.Equal(t, IssueInvalidPrice, report.Issues[0].Type)
	assert.Equal(t, "OLD", report.Issues[1].Symbol)
	assert.Equal(t, SeverityMedium, report.Issues[1].Severity)
	assert.Len(t, report.Recommendations, 2)
}

func TestService_ValidateCacheIntegrityStaleOnlyIsValid(t *testing.T) {
	f := newFixture(t)
	old := cached("OLD", models.AssetStock, 12, time.Now().UTC().Add(-48*time.Hour))
	old.Currency = "XYZ"
	f.seed(t, old)

	report := f.svc.ValidateCacheIntegrity(context.Background(), models.PortfolioSymbols{Stocks: []string{"OLD"}})

	assert.True(t, report.IsValid)
	require.Len(t, report.Issues, 2)
	assert.Equal(t, SeverityMedium, report.Issues[0].Severity)
	assert.Equal(t, IssueUnknownCurrency, report.Issues[1].Type)
	assert.Equal(t, SeverityLow, report.Issues[1].Severity)
}

func TestService_ValidateCacheIntegrityStorageFailure(t *testing.T) {
	f := newFixture(t)
	f.backend.getErr = errors.New("timeout")

	report := f.svc.ValidateCacheIntegrity(context.Background(), models.PortfolioSymbols{Crypto: []string{"BTC"}})

	assert.False(t, report.IsValid)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, "*", report.Issues[0].Symbol)
	assert.Equal(t, IssueStorage, report.Issues[0].Type)
}
