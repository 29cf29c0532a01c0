package utils

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentage(t *testing.T) {
	assert.Equal(t, 0.0, Percentage(0, 0))
	assert.Equal(t, 75.0, Percentage(3, 4))
	assert.Equal(t, 100.0, Percentage(2, 2))
}

func TestMean(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.Equal(t, 2.0, Mean([]float64{1, 2, 3}))
}

func TestNormalizeTo(t *testing.T) {
	assert.Equal(t, 33.33, NormalizeTo(100.0/3, 2))
	assert.Equal(t, 0.0, NormalizeTo(math.NaN(), 2))
	assert.Equal(t, 0.0, NormalizeTo(math.Inf(1), 2))
}
