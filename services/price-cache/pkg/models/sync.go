package models

import (
	"time"

	"github.com/google/uuid"
)

// PortfolioSymbols is a user's holdings split by asset type.
type PortfolioSymbols struct {
	Stocks []string `json:"stocks" yaml:"stocks"`
	Crypto []string `json:"crypto" yaml:"crypto"`
}

func (p PortfolioSymbols) Normalize() PortfolioSymbols {
	return PortfolioSymbols{
		Stocks: NormalizeSymbols(p.Stocks),
		Crypto: NormalizeSymbols(p.Crypto),
	}
}

func (p PortfolioSymbols) ForType(assetType AssetType) []string {
	if assetType == AssetCrypto {
		return p.Crypto
	}
	return p.Stocks
}

func (p PortfolioSymbols) Total() int {
	return len(p.Stocks) + len(p.Crypto)
}

// Requests flattens the portfolio into per-symbol source requests, stocks first.
func (p PortfolioSymbols) Requests() []SymbolRequest {
	reqs := make([]SymbolRequest, 0, p.Total())
	for _, assetType := range AssetTypes {
		for _, s := range p.ForType(assetType) {
			reqs = append(reqs, SymbolRequest{Symbol: s, AssetType: assetType})
		}
	}
	return reqs
}

// Keys returns the derived cache keys of all symbols, stocks first.
func (p PortfolioSymbols) Keys() []string {
	keys := make([]string, 0, p.Total())
	for _, r := range p.Requests() {
		keys = append(keys, CacheKey(r.AssetType, r.Symbol))
	}
	return keys
}

// UserSyncRecord is a user's bookmark into the shared cache timeline.
type UserSyncRecord struct {
	UserID            string           `json:"user_id"`
	LastSyncTimestamp time.Time        `json:"last_sync_timestamp"`
	PortfolioSymbols  PortfolioSymbols `json:"portfolio_symbols"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

type UpdateStatus string

const (
	UpdateProcessing UpdateStatus = "processing"
	UpdateCompleted  UpdateStatus = "completed"
	UpdateFailed     UpdateStatus = "failed"
)

// CacheUpdateRequest is an audit row for one update attempt.
type CacheUpdateRequest struct {
	ID             uuid.UUID    `json:"id"`
	UserID         string       `json:"user_id"`
	Symbols        []string     `json:"symbols"`
	RequestedAt    time.Time    `json:"requested_at"`
	Status         UpdateStatus `json:"status"`
	UpdatedSymbols []string     `json:"updated_symbols"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	Error          string       `json:"error,omitempty"`
}
