package indicator

import (
	"math"
	"testing"
)

func TestSMA_Calculate(t *testing.T) {
	prices := []float64{10, 11, 12, 13, 14, 15}

	sma := SMA(prices, 3)

	// SMA(3) for [10,11,12,13,14,15], aligned with input:
	// [2] = (10+11+12)/3 = 11
	// [3] = 12, [4] = 13, [5] = 14

	if len(sma) != len(prices) {
		t.Fatalf("expected %d values, got %d", len(prices), len(sma))
	}
	for i := 0; i < 2; i++ {
		if !math.IsNaN(sma[i]) {
			t.Errorf("sma[%d] = %f, want NaN during warm-up", i, sma[i])
		}
	}

	expected := []float64{11, 12, 13, 14}
	for i, v := range expected {
		if sma[i+2] != v {
			t.Errorf("sma[%d] = %f, want %f", i+2, sma[i+2], v)
		}
	}
}

func TestSMA_NotEnoughData(t *testing.T) {
	prices := []float64{10, 11}
	sma := SMA(prices, 5)

	for i, v := range sma {
		if !math.IsNaN(v) {
			t.Errorf("sma[%d] = %f, want NaN", i, v)
		}
	}
}

func TestPctChange(t *testing.T) {
	if got := PctChange(102, 100); math.Abs(got-2) > 1e-9 {
		t.Errorf("PctChange(102, 100) = %f, want 2", got)
	}
	if got := PctChange(1, 0); !math.IsNaN(got) {
		t.Errorf("PctChange(1, 0) = %f, want NaN", got)
	}
	if got := PctChange(math.NaN(), 1); !math.IsNaN(got) {
		t.Errorf("PctChange(NaN, 1) = %f, want NaN", got)
	}
}
