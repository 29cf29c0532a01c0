package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type AssetType string

const (
	AssetStock  AssetType = "stock"
	AssetCrypto AssetType = "crypto"
)

// AssetTypes lists every supported asset type in a stable order.
var AssetTypes = []AssetType{AssetStock, AssetCrypto}

func (a AssetType) Valid() bool {
	return a == AssetStock || a == AssetCrypto
}

// Source identifies the external price source that produced a value.
type Source string

const (
	SourceEODHD  Source = "eodhd"
	SourceKuCoin Source = "kucoin"
)

// PriceMetadata carries the optional market fields a source may report.
type PriceMetadata struct {
	Change        *decimal.Decimal `json:"change,omitempty"`
	ChangePercent *decimal.Decimal `json:"change_percent,omitempty"`
	Volume        *decimal.Decimal `json:"volume,omitempty"`
	MarketCap     *decimal.Decimal `json:"market_cap,omitempty"`
	High          *decimal.Decimal `json:"high,omitempty"`
	Low           *decimal.Decimal `json:"low,omitempty"`
	Open          *decimal.Decimal `json:"open,omitempty"`
	PreviousClose *decimal.Decimal `json:"previous_close,omitempty"`
}

// PriceCacheEntry is the latest known price for one (asset type, symbol).
type PriceCacheEntry struct {
	Symbol      string          `json:"symbol"`
	AssetType   AssetType       `json:"asset_type"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	LastUpdated time.Time       `json:"last_updated"`
	Source      Source          `json:"source"`
	Metadata    *PriceMetadata  `json:"metadata,omitempty"`
}

func (e PriceCacheEntry) Key() string {
	return CacheKey(e.AssetType, e.Symbol)
}

// CacheKey is the derived "{assetType}_{SYMBOL}" identity of an entry.
func CacheKey(assetType AssetType, symbol string) string {
	return fmt.Sprintf("%s_%s", assetType, NormalizeSymbol(symbol))
}

func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// NormalizeSymbols upper-cases, drops blanks and removes duplicates while
// keeping first-seen order.
func NormalizeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		n := NormalizeSymbol(s)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// SymbolRequest asks a price source for one symbol.
type SymbolRequest struct {
	Symbol    string    `json:"symbol"`
	AssetType AssetType `json:"asset_type"`
}

// Quote is what a price source returns for a symbol.
type Quote struct {
	Symbol    string
	AssetType AssetType
	Price     decimal.Decimal
	Currency  string
	Source    Source
	Metadata  *PriceMetadata
}

// Entry converts the quote into a cache entry; LastUpdated is left for the store.
func (q Quote) Entry() PriceCacheEntry {
	return PriceCacheEntry{
		Symbol:    NormalizeSymbol(q.Symbol),
		AssetType: q.AssetType,
		Price:     q.Price,
		Currency:  strings.ToUpper(strings.TrimSpace(q.Currency)),
		Source:    q.Source,
		Metadata:  q.Metadata,
	}
}

// QuoteResult is the per-symbol outcome of a price source call.
type QuoteResult struct {
	Request SymbolRequest
	Quote   *Quote
	Err     error
}
