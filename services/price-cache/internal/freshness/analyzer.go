// Package freshness classifies cache entry ages against a TTL policy.
package freshness

import (
	"time"

	"github.com/finboard/price-cache/services/price-cache/pkg/models"
	"github.com/finboard/price-cache/shared/pkg/utils"
)

// Default policy knobs.
const (
	DefaultTTLMinutes    = 4
	DefaultMaxStaleHours = 24
)

type Status string

const (
	StatusFresh   Status = "fresh"
	StatusStale   Status = "stale"
	StatusMissing Status = "missing"
)

// SymbolFreshness is the per-symbol verdict. AgeMinutes is nil for missing symbols.
type SymbolFreshness struct {
	Symbol       string `json:"symbol"`
	Status       Status `json:"status"`
	AgeMinutes   *int   `json:"age_minutes,omitempty"`
	ShouldUpdate bool   `json:"should_update"`
}

// Classification splits a symbol set into fresh, stale and missing buckets.
// Every input symbol lands in exactly one bucket.
type Classification struct {
	AssetType       models.AssetType  `json:"asset_type"`
	Fresh           []string          `json:"fresh"`
	Stale           []string          `json:"stale"`
	Missing         []string          `json:"missing"`
	FreshPercentage float64           `json:"fresh_percentage"`
	Symbols         []SymbolFreshness `json:"symbols"`
}

func (c Classification) Total() int {
	return len(c.Fresh) + len(c.Stale) + len(c.Missing)
}

// Cached is the number of symbols that had an entry, fresh or stale.
func (c Classification) Cached() int {
	return len(c.Fresh) + len(c.Stale)
}

// Analyzer holds only a clock; all methods are otherwise pure.
type Analyzer struct {
	now func() time.Time
}

func NewAnalyzer() *Analyzer {
	return &Analyzer{now: time.Now}
}

func NewAnalyzerWithClock(now func() time.Time) *Analyzer {
	return &Analyzer{now: now}
}

func (a *Analyzer) Now() time.Time {
	return a.now()
}

// Age is whole minutes since lastUpdated, floored. Clock skew can make it negative.
func (a *Analyzer) Age(lastUpdated time.Time) int {
	return int(a.now().Sub(lastUpdated) / time.Minute)
}

func (a *Analyzer) IsFresh(lastUpdated time.Time, ttlMinutes int) bool {
	return a.Age(lastUpdated) <= ttlMinutes
}

// IsUsable reports whether stale data may still be shown with a stale badge.
func (a *Analyzer) IsUsable(lastUpdated time.Time, maxStaleHours int) bool {
	return a.Age(lastUpdated) <= maxStaleHours*60
}

// Classify buckets symbols by the age of their entry in cached. Entries of a
// different asset type count as missing.
func (a *Analyzer) Classify(symbols []string, assetType models.AssetType, cached map[string]models.PriceCacheEntry, ttlMinutes int) Classification {
	c := Classification{
		AssetType: assetType,
		Fresh:     []string{},
		Stale:     []string{},
		Missing:   []string{},
		Symbols:   make([]SymbolFreshness, 0, len(symbols)),
	}

	for _, raw := range symbols {
		symbol := models.NormalizeSymbol(raw)
		entry, ok := cached[symbol]
		if !ok || (entry.AssetType != "" && entry.AssetType != assetType) {
			c.Missing = append(c.Missing, symbol)
			c.Symbols = append(c.Symbols, SymbolFreshness{Symbol: symbol, Status: StatusMissing, ShouldUpdate: true})
			continue
		}

		age := a.Age(entry.LastUpdated)
		verdict := SymbolFreshness{Symbol: symbol, AgeMinutes: &age}
		if age <= ttlMinutes {
			verdict.Status = StatusFresh
			c.Fresh = append(c.Fresh, symbol)
		} else {
			verdict.Status = StatusStale
			verdict.ShouldUpdate = true
			c.Stale = append(c.Stale, symbol)
		}
		c.Symbols = append(c.Symbols, verdict)
	}

	c.FreshPercentage = utils.Percentage(len(c.Fresh), len(symbols))
	return c
}
