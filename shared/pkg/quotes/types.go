package quotes

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrSymbolNotFound is returned when a provider has no quote for a symbol.
var ErrSymbolNotFound = errors.New("symbol not found")

// Config is the HTTP policy shared by all quote clients.
type Config struct {
	Timeout    time.Duration `yaml:"timeout"`
	RetryCount int           `yaml:"retry_count"`
	RetryWait  time.Duration `yaml:"retry_wait"`
}

// DefaultConfig mirrors RETRY_ATTEMPTS=3 and RETRY_DELAY_MS=1000.
func DefaultConfig() Config {
	return Config{
		Timeout:    10 * time.Second,
		RetryCount: 3,
		RetryWait:  time.Second,
	}
}

// Quote is the provider-neutral price snapshot for one symbol.
type Quote struct {
	Symbol        string
	Price         decimal.Decimal
	Currency      string
	Change        *decimal.Decimal
	ChangePercent *decimal.Decimal
	Volume        *decimal.Decimal
	MarketCap     *decimal.Decimal
	High          *decimal.Decimal
	Low           *decimal.Decimal
	Open          *decimal.Decimal
	PreviousClose *decimal.Decimal
}

type kucoinResponse struct {
	Code string          `json:"code"`
	Data json.RawMessage `json:"data"`
	Msg  string          `json:"msg"`
}

type kucoinStats struct {
	Time        int64  `json:"time"`
	Symbol      string `json:"symbol"`
	Buy         string `json:"buy"`
	Sell        string `json:"sell"`
	ChangeRate  string `json:"changeRate"`
	ChangePrice string `json:"changePrice"`
	High        string `json:"high"`
	Low         string `json:"low"`
	Vol         string `json:"vol"`
	VolValue    string `json:"volValue"`
	Last        string `json:"last"`
}

type eodhdRealTime struct {
	Code          string   `json:"code"`
	Timestamp     optFloat `json:"timestamp"`
	Open          optFloat `json:"open"`
	High          optFloat `json:"high"`
	Low           optFloat `json:"low"`
	Close         optFloat `json:"close"`
	Volume        optFloat `json:"volume"`
	PreviousClose optFloat `json:"previousClose"`
	Change        optFloat `json:"change"`
	ChangeP       optFloat `json:"change_p"`
}

// optFloat accepts numbers, numeric strings and the "NA" placeholder EODHD
// returns outside trading hours.
type optFloat struct {
	v *float64
}

func (o *optFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" || strings.EqualFold(s, "NA") {
		o.v = nil
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	o.v = &f
	return nil
}
