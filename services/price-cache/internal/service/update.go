package service

import (
	"context"
	"fmt"
	"time"

	"github.com/finboard/price-cache/services/price-cache/pkg/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type CacheUpdateResult struct {
	RequestID      uuid.UUID `json:"request_id"`
	Success        bool      `json:"success"`
	UpdatedSymbols []string  `json:"updated_symbols"`
	FailedSymbols  []string  `json:"failed_symbols"`
	CacheHits      int       `json:"cache_hits"`
	APICalls       int       `json:"api_calls"`
	Errors         []string  `json:"errors"`
}

// fail marks every requested symbol failed. Nothing is reported as updated.
func (r *CacheUpdateResult) fail(symbols []string, err error) {
	r.Success = false
	r.UpdatedSymbols = []string{}
	r.FailedSymbols = append([]string{}, symbols...)
	r.Errors = append(r.Errors, err.Error())
}

// UpdatePortfolioCache refreshes every requested symbol from the price
// source. The audit row is written first, then prices, then the user's sync
// record, and the audit row is closed last. A source failure only fails its
// own symbol; a storage failure fails the whole call.
func (s *Service) UpdatePortfolioCache(ctx context.Context, userID string, symbols models.PortfolioSymbols) *CacheUpdateResult {
	start := time.Now()
	symbols = symbols.Normalize()
	reqs := symbols.Requests()
	requested := make([]string, 0, len(reqs))
	for _, r := range reqs {
		requested = append(requested, r.Symbol)
	}

	result := &CacheUpdateResult{
		Success:        true,
		UpdatedSymbols: []string{},
		FailedSymbols:  []string{},
		Errors:         []string{},
	}
	if len(reqs) == 0 {
		return result
	}

	logger := s.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"symbols": len(reqs),
	})

	for _, v := range s.readPortfolio(ctx, symbols) {
		result.CacheHits += len(v.classification.Fresh)
	}

	audit := models.CacheUpdateRequest{
		ID:             uuid.New(),
		UserID:         userID,
		Symbols:        requested,
		RequestedAt:    time.Now().UTC(),
		Status:         models.UpdateProcessing,
		UpdatedSymbols: []string{},
	}
	result.RequestID = audit.ID
	logger = logger.WithField("request_id", audit.ID)

	if err := s.ledger.CreateUpdateRequest(ctx, audit); err != nil {
		logger.WithError(err).Error("Failed to record cache update request")
		result.fail(requested, fmt.Errorf("failed to record update request: %w", err))
		return result
	}

	result.APICalls = len(reqs)
	entries := make([]models.PriceCacheEntry, 0, len(reqs))
	resolved := make([]string, 0, len(reqs))
	for _, res := range s.source.FetchQuotes(ctx, reqs) {
		symbol := res.Request.Symbol
		if res.Err == nil && res.Quote == nil {
			res.Err = fmt.Errorf("%s: empty quote", symbol)
		}
		if res.Err != nil {
			result.FailedSymbols = append(result.FailedSymbols, symbol)
			result.Errors = append(result.Errors, res.Err.Error())
			continue
		}

		entry := res.Quote.Entry()
		entry.AssetType = res.Request.AssetType
		// LastUpdated is restamped by the store; set here only so the
		// pre-check sees a complete entry.
		entry.LastUpdated = start
		if err := entry.Validate(); err != nil {
			result.FailedSymbols = append(result.FailedSymbols, symbol)
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		entries = append(entries, entry)
		resolved = append(resolved, symbol)
	}

	var fatal error
	if len(entries) > 0 {
		if err := s.prices.PutMany(ctx, entries); err != nil {
			fatal = fmt.Errorf("failed to write prices: %w", err)
		} else if _, err := s.syncs.Upsert(ctx, userID, symbols); err != nil {
			fatal = fmt.Errorf("failed to advance sync timestamp: %w", err)
		}
	}

	if fatal != nil {
		logger.WithError(fatal).Error("Cache update failed")
		result.fail(requested, fatal)
	} else {
		result.UpdatedSymbols = resolved
		result.Success = len(result.FailedSymbols) == 0
	}

	s.finishAudit(ctx, logger, audit, result)

	logger.WithFields(logrus.Fields{
		"updated":     len(result.UpdatedSymbols),
		"failed":      len(result.FailedSymbols),
		"cache_hits":  result.CacheHits,
		"api_calls":   result.APICalls,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Portfolio cache update finished")

	return result
}

// finishAudit closes the audit row. The row is completed when anything was
// written and failed otherwise.
func (s *Service) finishAudit(ctx context.Context, logger *logrus.Entry, audit models.CacheUpdateRequest, result *CacheUpdateResult) {
	completedAt := time.Now().UTC()
	audit.CompletedAt = &completedAt
	audit.UpdatedSymbols = result.UpdatedSymbols
	audit.Status = models.UpdateCompleted
	if len(result.UpdatedSymbols) == 0 {
		audit.Status = models.UpdateFailed
	}
	if len(result.Errors) > 0 {
		audit.Error = fmt.Sprintf("%d error(s): %s", len(result.Errors), result.Errors[0])
	}

	if err := s.ledger.FinishUpdateRequest(ctx, audit); err != nil {
		logger.WithError(err).Warn("Failed to close cache update request")
		result.Errors = append(result.Errors, fmt.Sprintf("failed to close update request: %v", err))
	}
}
