package strategy

import "github.com/newthinker/breakout/internal/align"

// TrendFilter admits a date only when the prior close is above its 5-day average
type TrendFilter struct{}

func (TrendFilter) Name() string { return "trend" }

func (TrendFilter) Allow(ctx align.DailyContext) bool {
	v, ok := ctx.Indicator(align.IndTrendUp)
	return ok && v == 1
}

// LiquidityFilter requires a minimum 5-day average trading value
type LiquidityFilter struct {
	MinAvgValue float64
}

func (LiquidityFilter) Name() string { return "liquidity" }

func (f LiquidityFilter) Allow(ctx align.DailyContext) bool {
	v, ok := ctx.Indicator(align.IndAvgValue5)
	return ok && v >= f.MinAvgValue
}

// MomentumFilter requires the 5-day average to be rising by more than
// MinSlope percent and the prior close to sit more than MinDisparity
// percent above it.
type MomentumFilter struct {
	MinSlope     float64
	MinDisparity float64
}

func (MomentumFilter) Name() string { return "momentum" }

func (f MomentumFilter) Allow(ctx align.DailyContext) bool {
	slope, ok := ctx.Indicator(align.IndSlope5)
	if !ok || slope <= f.MinSlope {
		return false
	}
	disp, ok := ctx.Indicator(align.IndDisp5)
	return ok && disp > f.MinDisparity
}

// Chain applies filters in order
type Chain []Filter

// Check returns the name of the first filter rejecting ctx, or "" and true
func (c Chain) Check(ctx align.DailyContext) (string, bool) {
	for _, f := range c {
		if !f.Allow(ctx) {
			return f.Name(), false
		}
	}
	return "", true
}
