package breakout

import (
	"fmt"
	"math"

	"github.com/newthinker/breakout/internal/align"
	"github.com/newthinker/breakout/internal/core"
	"github.com/newthinker/breakout/internal/strategy"
)

// Name is the registry key of the volatility breakout strategy
const Name = "volatility_breakout"

// Params configures the breakout target and exit levels.
// A zero StopLoss or TakeProfit disables that level.
type Params struct {
	K          float64
	StopLoss   float64
	TakeProfit float64
}

// DefaultParams mirrors the most common research setting
func DefaultParams() Params {
	return Params{K: 0.5, StopLoss: 0.02}
}

// Validate rejects parameters that could produce an inverted target
func (p Params) Validate() error {
	switch {
	case !finite(p.K) || p.K <= 0:
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("k must be positive, got %v", p.K))
	case !finite(p.StopLoss) || p.StopLoss < 0 || p.StopLoss >= 1:
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("stop_loss must be in [0, 1), got %v", p.StopLoss))
	case !finite(p.TakeProfit) || p.TakeProfit < 0:
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("take_profit cannot be negative, got %v", p.TakeProfit))
	}
	return nil
}

// VolatilityBreakout sets the target at open + k * prior-day range
type VolatilityBreakout struct {
	params Params
}

// New creates the strategy after validating params
func New(params Params) (*VolatilityBreakout, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &VolatilityBreakout{params: params}, nil
}

// Factory adapts New to the strategy registry
func Factory(params map[string]any) (strategy.Strategy, error) {
	p := DefaultParams()
	var err error
	if p.K, err = floatParam(params, "k", p.K); err != nil {
		return nil, err
	}
	if p.StopLoss, err = floatParam(params, "stop_loss", p.StopLoss); err != nil {
		return nil, err
	}
	if p.TakeProfit, err = floatParam(params, "take_profit", p.TakeProfit); err != nil {
		return nil, err
	}
	return New(p)
}

func (v *VolatilityBreakout) Name() string {
	return Name
}

// Params returns the configured parameters
func (v *VolatilityBreakout) Params() Params {
	return v.params
}

// Target computes the date's breakout target. A non-positive range or any
// non-finite input leaves the target undefined.
func (v *VolatilityBreakout) Target(ctx align.DailyContext) (strategy.Target, bool) {
	if !finite(ctx.Open) || !finite(ctx.PrevHigh) || !finite(ctx.PrevLow) || ctx.Open <= 0 {
		return strategy.Target{}, false
	}
	rng := ctx.Range()
	if rng <= 0 {
		return strategy.Target{}, false
	}

	price := ctx.Open + v.params.K*rng
	if !finite(price) {
		return strategy.Target{}, false
	}

	t := strategy.Target{Date: ctx.Date, Price: price}
	// fractions too small to move the price in float64 leave the level unset
	if stop := price * (1 - v.params.StopLoss); v.params.StopLoss > 0 && stop < price {
		t.Stop = stop
		t.HasStop = true
	}
	if tp := price * (1 + v.params.TakeProfit); v.params.TakeProfit > 0 && tp > price && finite(tp) {
		t.TakeProfit = tp
		t.HasTakeProfit = true
	}
	return t, true
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func floatParam(params map[string]any, key string, def float64) (float64, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("param %s: expected number, got %T", key, raw))
	}
}
