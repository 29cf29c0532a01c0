package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/finboard/price-cache/services/price-cache/pkg/models"
	"github.com/sirupsen/logrus"
)

type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

const (
	IssueInvalidStructure = "invalid_structure"
	IssueInvalidPrice     = "invalid_price"
	IssueStaleData        = "stale_data"
	IssueUnknownCurrency  = "unknown_currency"
	IssueStorage          = "storage_error"
)

type IntegrityIssue struct {
	Symbol    string           `json:"symbol"`
	AssetType models.AssetType `json:"asset_type,omitempty"`
	Type      string           `json:"type"`
	Issue     string           `json:"issue"`
	Severity  Severity         `json:"severity"`
}

type IntegrityReport struct {
	IsValid         bool             `json:"is_valid"`
	Checked         int              `json:"checked"`
	Issues          []IntegrityIssue `json:"issues"`
	Recommendations []string         `json:"recommendations"`
}

// ValidateCacheIntegrity inspects every cached entry for symbols. The report
// is invalid only when some issue has high severity.
func (s *Service) ValidateCacheIntegrity(ctx context.Context, symbols models.PortfolioSymbols) *IntegrityReport {
	symbols = symbols.Normalize()
	report := &IntegrityReport{Issues: []IntegrityIssue{}, Recommendations: []string{}}

	for _, v := range s.readPortfolio(ctx, symbols) {
		if v.err != nil {
			report.Issues = append(report.Issues, IntegrityIssue{
				Symbol:    "*",
				AssetType: v.assetType,
				Type:      IssueStorage,
				Issue:     v.err.Error(),
				Severity:  SeverityHigh,
			})
			continue
		}

		for _, symbol := range v.symbols {
			entry, ok := v.entries[symbol]
			if !ok {
				continue
			}
			report.Checked++
			report.Issues = append(report.Issues, s.inspect(entry)...)
		}
	}

	report.IsValid = true
	for _, issue := range report.Issues {
		if issue.Severity == SeverityHigh {
			report.IsValid = false
		}
	}
	report.Recommendations = recommendations(report.Issues, s.cfg.MaxStaleHours)

	s.logger.WithFields(logrus.Fields{
		"checked":  report.Checked,
		"issues":   len(report.Issues),
		"is_valid": report.IsValid,
	}).Info("Validated price cache integrity")

	return report
}

func (s *Service) inspect(entry models.PriceCacheEntry) []IntegrityIssue {
	var issues []IntegrityIssue
	add := func(issueType, msg string, severity Severity) {
		issues = append(issues, IntegrityIssue{
			Symbol:    entry.Symbol,
			AssetType: entry.AssetType,
			Type:      issueType,
			Issue:     msg,
			Severity:  severity,
		})
	}

	if err := entry.Validate(); err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) && verr.Field == "price" {
			add(IssueInvalidPrice, err.Error(), SeverityHigh)
		} else {
			add(IssueInvalidStructure, err.Error(), SeverityHigh)
		}
	}
	// Validate stops at the first failure; price is checked on its own too.
	if !entry.Price.IsPositive() && !hasType(issues, IssueInvalidPrice) {
		add(IssueInvalidPrice, fmt.Sprintf("price must be positive, got %s", entry.Price), SeverityHigh)
	}

	if !entry.LastUpdated.IsZero() && !s.analyzer.IsUsable(entry.LastUpdated, s.cfg.MaxStaleHours) {
		add(IssueStaleData, fmt.Sprintf("last updated %d minutes ago", s.analyzer.Age(entry.LastUpdated)), SeverityMedium)
	}

	if entry.Currency != "" && money.GetCurrency(entry.Currency) == nil {
		add(IssueUnknownCurrency, fmt.Sprintf("%q is not an ISO 4217 currency", entry.Currency), SeverityLow)
	}

	return issues
}

func hasType(issues []IntegrityIssue, issueType string) bool {
	for _, i := range issues {
		if i.Type == issueType {
			return true
		}
	}
	return false
}

func recommendations(issues []IntegrityIssue, maxStaleHours int) []string {
	bySeverity := map[Severity][]string{}
	for _, i := range issues {
		bySeverity[i.Severity] = append(bySeverity[i.Severity], i.Symbol)
	}

	var recs []string
	if syms := bySeverity[SeverityHigh]; len(syms) > 0 {
		recs = append(recs, fmt.Sprintf("Refetch or purge invalid entries: %s", joinUnique(syms)))
	}
	if syms := bySeverity[SeverityMedium]; len(syms) > 0 {
		recs = append(recs, fmt.Sprintf("Refresh entries older than %dh: %s", maxStaleHours, joinUnique(syms)))
	}
	if syms := bySeverity[SeverityLow]; len(syms) > 0 {
		recs = append(recs, fmt.Sprintf("Check currency codes for: %s", joinUnique(syms)))
	}
	if len(recs) == 0 {
		recs = append(recs, "No action needed")
	}
	return recs
}

func joinUnique(symbols []string) string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}
