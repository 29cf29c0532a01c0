package utils

import (
	"github.com/shopspring/decimal"
)

// Parse string, fallback to zero on error
func ParseDecimalSafe(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ParseDecimalPtr returns nil for empty or unparseable input so optional
// quote fields stay absent instead of becoming zero.
func ParseDecimalPtr(s string) *decimal.Decimal {
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}

// FloatPtr converts an optional provider float into a decimal pointer.
func FloatPtr(val *float64) *decimal.Decimal {
	if val == nil {
		return nil
	}
	d := decimal.NewFromFloat(*val)
	return &d
}
