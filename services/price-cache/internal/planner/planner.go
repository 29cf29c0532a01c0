// Package planner turns a freshness classification into a refetch plan.
package planner

import (
	"fmt"

	"github.com/finboard/price-cache/services/price-cache/internal/freshness"
	"github.com/finboard/price-cache/services/price-cache/internal/syncstate"
)

type Strategy string

const (
	StrategyFullUpdate    Strategy = "full_update"
	StrategyUseCache      Strategy = "use_cache"
	StrategyPartialUpdate Strategy = "partial_update"
	StrategyMixed         Strategy = "mixed"
)

// DefaultStrategyThresholds are the [none, partial, all] fresh-percentage
// boundaries of the strategy bands.
var DefaultStrategyThresholds = [3]float64{0, 50, 100}

// DefaultUpdateRecommendationThreshold is the average fresh percentage below
// which a refresh is recommended. Independent of the strategy bands.
const DefaultUpdateRecommendationThreshold = 75.0

type Planner struct {
	StrategyThresholds            [3]float64
	UpdateRecommendationThreshold float64
}

func DefaultPlanner() *Planner {
	return &Planner{
		StrategyThresholds:            DefaultStrategyThresholds,
		UpdateRecommendationThreshold: DefaultUpdateRecommendationThreshold,
	}
}

type Plan struct {
	UpdateRequired []string              `json:"update_required"`
	UseCache       []string              `json:"use_cache"`
	Strategy       Strategy              `json:"strategy"`
	Reasoning      string                `json:"reasoning"`
	Sync           *syncstate.Comparison `json:"sync,omitempty"`
}

// StrategyFor maps a fresh percentage onto the four bands. The bands
// partition [0,100]; the middle boundary belongs to partial_update.
func (p *Planner) StrategyFor(freshPercentage float64) Strategy {
	none, partial, all := p.StrategyThresholds[0], p.StrategyThresholds[1], p.StrategyThresholds[2]
	switch {
	case freshPercentage <= none:
		return StrategyFullUpdate
	case freshPercentage >= all:
		return StrategyUseCache
	case freshPercentage >= partial:
		return StrategyPartialUpdate
	default:
		return StrategyMixed
	}
}

// Plan refetches stale and missing symbols and serves fresh ones from cache.
// sync may be nil.
func (p *Planner) Plan(c freshness.Classification, sync *syncstate.Comparison) Plan {
	update := make([]string, 0, len(c.Stale)+len(c.Missing))
	update = append(update, c.Stale...)
	update = append(update, c.Missing...)

	strategy := p.StrategyFor(c.FreshPercentage)
	return Plan{
		UpdateRequired: update,
		UseCache:       append([]string{}, c.Fresh...),
		Strategy:       strategy,
		Reasoning:      p.reasoning(strategy, c, sync),
		Sync:           sync,
	}
}

func (p *Planner) reasoning(strategy Strategy, c freshness.Classification, sync *syncstate.Comparison) string {
	var msg string
	switch strategy {
	case StrategyFullUpdate:
		msg = fmt.Sprintf("no fresh %s prices, fetching all %d symbols", c.AssetType, c.Total())
	case StrategyUseCache:
		msg = fmt.Sprintf("all %d %s prices are fresh", c.Total(), c.AssetType)
	case StrategyPartialUpdate:
		msg = fmt.Sprintf("%.0f%% of %s prices fresh (>= %.0f%%), refreshing %d stale or missing",
			c.FreshPercentage, c.AssetType, p.StrategyThresholds[1], len(c.Stale)+len(c.Missing))
	default:
		msg = fmt.Sprintf("only %.0f%% of %s prices fresh (< %.0f%%), refreshing %d stale or missing",
			c.FreshPercentage, c.AssetType, p.StrategyThresholds[1], len(c.Stale)+len(c.Missing))
	}

	if sync != nil && sync.CacheNewerCount() > 0 {
		msg += fmt.Sprintf("; %d updated by other users since last sync", sync.CacheNewerCount())
	}
	return msg
}

// ShouldRecommendUpdate applies the coarse recommendation gate to an
// average fresh percentage.
func (p *Planner) ShouldRecommendUpdate(averageFreshPercentage float64) bool {
	return averageFreshPercentage < p.UpdateRecommendationThreshold
}
