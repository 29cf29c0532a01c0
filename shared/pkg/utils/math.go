package utils

import (
	"math"
)

// Percentage returns part/total*100, or 0 when total is zero.
func Percentage(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// Mean of the values, 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func NormalizeTo(value float64, decimalPlaces int) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0.0
	}

	multiplier := math.Pow(10, float64(decimalPlaces))
	return math.Round(value*multiplier) / multiplier
}
