package backtest

import (
	"fmt"
	"math"

	"github.com/newthinker/breakout/internal/core"
	"github.com/shopspring/decimal"
)

// CostModel charges a single round-trip fraction per trade: the sum of
// commission, tax and slippage. All zero means costs are already embedded
// in the input prices.
type CostModel struct {
	Commission float64
	Tax        float64
	Slippage   float64
}

// Validate rejects negative or non-finite fractions
func (c CostModel) Validate() error {
	fields := []struct {
		name string
		v    float64
	}{
		{"commission", c.Commission},
		{"tax", c.Tax},
		{"slippage", c.Slippage},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v < 0 {
			return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("cost %s must be a non-negative fraction, got %v", f.name, f.v))
		}
	}
	return nil
}

// RoundTrip returns the total cost fraction, summed exactly
func (c CostModel) RoundTrip() float64 {
	return decimal.NewFromFloat(c.Commission).
		Add(decimal.NewFromFloat(c.Tax)).
		Add(decimal.NewFromFloat(c.Slippage)).
		InexactFloat64()
}

// Net returns the raw price return and the return after costs
func (c CostModel) Net(entry, exit float64) (raw, net float64) {
	raw = (exit - entry) / entry
	return raw, raw - c.RoundTrip()
}
