package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/finboard/price-cache/shared/pkg/utils"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	KuCoinBaseURL    = "https://api.kucoin.com"
	KuCoinSandboxURL = "https://openapi-sandbox.kucoin.com"

	kucoinOK = "200000"
)

type KuCoinConfig struct {
	Sandbox bool   `yaml:"sandbox"`
	BaseURL string `yaml:"base_url"`
	// QuoteAsset is the pair suffix, e.g. BTC -> BTC-USDT.
	QuoteAsset string `yaml:"quote_asset"`
}

// KuCoinClient reads public 24h market stats for crypto symbols.
type KuCoinClient struct {
	client      *resty.Client
	quoteAsset  string
	logger      *logrus.Logger
	rateLimiter *RateLimiter
}

func NewKuCoinClient(cfg KuCoinConfig, httpCfg Config, logger *logrus.Logger) *KuCoinClient {
	baseURL := KuCoinBaseURL
	if cfg.Sandbox {
		baseURL = KuCoinSandboxURL
	}
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}
	quoteAsset := cfg.QuoteAsset
	if quoteAsset == "" {
		quoteAsset = "USDT"
	}

	// KuCoin allows 30 public requests per second; stay below it.
	return &KuCoinClient{
		client:      newRestyClient(baseURL, httpCfg),
		quoteAsset:  strings.ToUpper(quoteAsset),
		logger:      logger,
		rateLimiter: NewRateLimiter(25),
	}
}

// Quote returns the last traded price of symbol against the configured quote asset.
func (c *KuCoinClient) Quote(ctx context.Context, symbol string) (*Quote, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	pair := c.pair(symbol)
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("symbol", pair).
		Get("/api/v1/market/stats")
	if err != nil {
		c.logger.WithError(err).WithField("symbol", pair).Error("Failed to fetch KuCoin market stats")
		return nil, fmt.Errorf("failed to fetch market stats for %s: %w", pair, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("kucoin %s: unexpected status %s", pair, resp.Status())
	}

	var apiResp kucoinResponse
	if err := json.Unmarshal(resp.Body(), &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if apiResp.Code != kucoinOK {
		return nil, fmt.Errorf("API error: %s", apiResp.Msg)
	}

	var stats kucoinStats
	if err := json.Unmarshal(apiResp.Data, &stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal market stats: %w", err)
	}
	if stats.Last == "" {
		return nil, fmt.Errorf("kucoin %s: %w", pair, ErrSymbolNotFound)
	}

	last := utils.ParseDecimalSafe(stats.Last)
	quote := &Quote{
		Symbol:   strings.ToUpper(symbol),
		Price:    last,
		Currency: currencyForAsset(c.quoteAsset),
		Change:   utils.ParseDecimalPtr(stats.ChangePrice),
		Volume:   utils.ParseDecimalPtr(stats.Vol),
		High:     utils.ParseDecimalPtr(stats.High),
		Low:      utils.ParseDecimalPtr(stats.Low),
	}
	if rate := utils.ParseDecimalPtr(stats.ChangeRate); rate != nil {
		pct := rate.Mul(decimal.NewFromInt(100))
		quote.ChangePercent = &pct
	}
	if quote.Change != nil {
		prev := last.Sub(*quote.Change)
		quote.PreviousClose = &prev
	}

	return quote, nil
}

func (c *KuCoinClient) pair(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(symbol, "-") {
		return symbol
	}
	return symbol + "-" + c.quoteAsset
}

func (c *KuCoinClient) Close() {
	c.rateLimiter.Stop()
}

// currencyForAsset maps USD stablecoins onto the ISO code they track.
func currencyForAsset(asset string) string {
	switch asset {
	case "USDT", "USDC", "DAI", "TUSD":
		return "USD"
	}
	return asset
}

func newRestyClient(baseURL string, cfg Config) *resty.Client {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(cfg.Timeout)
	client.SetRetryCount(cfg.RetryCount)
	client.SetRetryWaitTime(cfg.RetryWait)
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err == nil && r.StatusCode() >= http.StatusInternalServerError
	})
	return client
}
