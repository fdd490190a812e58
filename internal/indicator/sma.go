package indicator

import "math"

// SMA calculates a Simple Moving Average aligned with prices.
// out[i] is the mean of prices[i-period+1..i]; positions before the
// first full window are NaN.
func SMA(prices []float64, period int) []float64 {
	out := make([]float64, len(prices))
	for i := range out {
		out[i] = math.NaN()
	}
	if period <= 0 || len(prices) < period {
		return out
	}

	// Calculate first SMA
	var sum float64
	for i := 0; i < period; i++ {
		sum += prices[i]
	}
	out[period-1] = sum / float64(period)

	// Rolling calculation
	for i := period; i < len(prices); i++ {
		sum = sum - prices[i-period] + prices[i]
		out[i] = sum / float64(period)
	}

	return out
}

// PctChange returns (a/b - 1) * 100, or NaN when b is zero or either side is NaN
func PctChange(a, b float64) float64 {
	if b == 0 || math.IsNaN(a) || math.IsNaN(b) {
		return math.NaN()
	}
	return (a/b - 1) * 100
}
