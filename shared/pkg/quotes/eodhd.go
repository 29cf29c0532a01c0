package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/finboard/price-cache/shared/pkg/utils"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const EODHDBaseURL = "https://eodhd.com"

type EODHDConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	// Exchange is appended to bare tickers, e.g. AAPL -> AAPL.US.
	Exchange string `yaml:"exchange"`
	Currency string `yaml:"currency"`
}

// EODHDClient reads delayed real-time stock quotes from eodhd.com.
type EODHDClient struct {
	cfg    EODHDConfig
	client *resty.Client
	logger *logrus.Logger
}

func NewEODHDClient(cfg EODHDConfig, httpCfg Config, logger *logrus.Logger) *EODHDClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = EODHDBaseURL
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "US"
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}

	return &EODHDClient{
		cfg:    cfg,
		client: newRestyClient(cfg.BaseURL, httpCfg),
		logger: logger,
	}
}

// Quote returns the latest price for a stock ticker.
func (c *EODHDClient) Quote(ctx context.Context, symbol string) (*Quote, error) {
	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("eodhd: missing api key")
	}

	ticker := c.ticker(symbol)
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"api_token": c.cfg.APIKey,
			"fmt":       "json",
		}).
		Get("/api/real-time/" + url.PathEscape(ticker))
	if err != nil {
		c.logger.WithError(err).WithField("symbol", ticker).Error("Failed to fetch EODHD quote")
		return nil, fmt.Errorf("failed to fetch quote for %s: %w", ticker, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("eodhd %s: %w", ticker, ErrSymbolNotFound)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("eodhd %s: unexpected status %s", ticker, resp.Status())
	}

	var rt eodhdRealTime
	if err := json.Unmarshal(resp.Body(), &rt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal quote: %w", err)
	}
	if rt.Close.v == nil {
		return nil, fmt.Errorf("eodhd %s: %w", ticker, ErrSymbolNotFound)
	}

	return &Quote{
		Symbol:        strings.ToUpper(symbol),
		Price:         decimal.NewFromFloat(*rt.Close.v),
		Currency:      c.cfg.Currency,
		Change:        utils.FloatPtr(rt.Change.v),
		ChangePercent: utils.FloatPtr(rt.ChangeP.v),
		Volume:        utils.FloatPtr(rt.Volume.v),
		High:          utils.FloatPtr(rt.High.v),
		Low:           utils.FloatPtr(rt.Low.v),
		Open:          utils.FloatPtr(rt.Open.v),
		PreviousClose: utils.FloatPtr(rt.PreviousClose.v),
	}, nil
}

func (c *EODHDClient) ticker(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(symbol, ".") {
		return symbol
	}
	return symbol + "." + c.cfg.Exchange
}
