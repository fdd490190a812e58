package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/newthinker/breakout/internal/align"
	"github.com/newthinker/breakout/internal/core"
	"github.com/newthinker/breakout/internal/strategy"
	"github.com/newthinker/breakout/internal/strategy/breakout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minuteAt(d core.Date, hhmm int, o, h, l, c float64) core.Bar {
	t := d.Time(kst).Add(time.Duration(hhmm/100)*time.Hour + time.Duration(hhmm%100)*time.Minute)
	return core.Bar{Symbol: "005930", Time: t, Open: o, High: h, Low: l, Close: c, Volume: 100}
}

func dailyAt(d core.Date, o, h, l, c float64) core.Bar {
	return core.Bar{Symbol: "005930", Time: d.Time(kst), Open: o, High: h, Low: l, Close: c, Volume: 300}
}

// threeDays: day two breaks 110 and closes at 109, day three breaks 112
// and closes at 114.
func threeDays() core.Instrument {
	return core.Instrument{
		Symbol: "005930",
		Daily: core.Series{Symbol: "005930", Interval: core.IntervalDaily, Bars: []core.Bar{
			dailyAt(20240102, 100, 110, 100, 105),
			dailyAt(20240103, 105, 112, 104, 109),
			dailyAt(20240104, 108, 115, 107, 114),
		}},
		Minute: core.Series{Symbol: "005930", Interval: core.IntervalMinute, Bars: []core.Bar{
			minuteAt(20240102, 901, 100, 110, 100, 105),
			minuteAt(20240103, 901, 105, 108, 104, 107),
			minuteAt(20240103, 902, 108, 111, 107, 110),
			minuteAt(20240103, 903, 110, 112, 108, 109),
			minuteAt(20240104, 901, 108, 113, 107, 112),
			minuteAt(20240104, 902, 112, 115, 111, 114),
		}},
	}
}

func newBreakout(t *testing.T, p breakout.Params) strategy.Strategy {
	t.Helper()
	s, err := breakout.New(p)
	require.NoError(t, err)
	return s
}

func TestBacktester_Run(t *testing.T) {
	bt := New(newBreakout(t, breakout.Params{K: 0.5}), DefaultConfig(), nil)
	res, err := bt.Run(context.Background(), threeDays())
	require.NoError(t, err)

	assert.Equal(t, "005930", res.Symbol)
	assert.Equal(t, breakout.Name, res.Strategy)
	assert.Equal(t, 3, res.Sessions)
	assert.Equal(t, 1, res.Skipped, "first day has no prior day")
	require.Len(t, res.Trades, 2)

	first := res.Trades[0]
	assert.Equal(t, core.Date(20240103), first.Date)
	assert.Equal(t, 110.0, first.TargetPrice)
	assert.Equal(t, 110.0, first.EntryPrice)
	assert.Equal(t, 109.0, first.ExitPrice)
	assert.Equal(t, ExitTargetClose, first.ExitReason)
	assert.InDelta(t, -1.0/110, first.NetReturn, 1e-12)

	second := res.Trades[1]
	assert.Equal(t, 112.0, second.EntryPrice)
	assert.Equal(t, 114.0, second.ExitPrice)

	assert.Equal(t, "005930", res.Summary.Scope)
	assert.Equal(t, 2, res.Summary.TradeCount)
	assert.InDelta(t, 0.5, res.Summary.WinRate.Value, 1e-12)
	require.Len(t, res.EquityCurve, 2)
	assert.InDelta(t, (1-1.0/110)*(1+2.0/112)-1, res.Summary.TotalReturn.Value, 1e-12)
}

func TestBacktester_StopLoss(t *testing.T) {
	inst := threeDays()
	// day two falls through the 2% stop at 107.8 after entry
	inst.Minute.Bars[3] = minuteAt(20240103, 903, 110, 110, 107, 107.5)

	bt := New(newBreakout(t, breakout.DefaultParams()), DefaultConfig(), nil)
	res, err := bt.Run(context.Background(), inst)
	require.NoError(t, err)
	require.NotEmpty(t, res.Trades)

	tr := res.Trades[0]
	assert.Equal(t, ExitStopLoss, tr.ExitReason)
	assert.InDelta(t, 107.8, tr.ExitPrice, 1e-9)
	assert.InDelta(t, -0.02, tr.NetReturn, 1e-12)
	assert.Equal(t, 1, res.Summary.StopLossCount)
}

func TestBacktester_Idempotent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cost = CostModel{Commission: 0.00015, Tax: 0.0018}
	bt := New(newBreakout(t, breakout.DefaultParams()), cfg, nil)

	a, err := bt.Run(context.Background(), threeDays())
	require.NoError(t, err)
	b, err := bt.Run(context.Background(), threeDays())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestBacktester_Window(t *testing.T) {
	cfg := DefaultConfig()
	cfg.From = 20240104
	bt := New(newBreakout(t, breakout.Params{K: 0.5}), cfg, nil)

	res, err := bt.Run(context.Background(), threeDays())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sessions)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, core.Date(20240104), res.Trades[0].Date)
}

func TestBacktester_FiltersRejectWithoutHistory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Filters = strategy.Chain{strategy.TrendFilter{}}
	bt := New(newBreakout(t, breakout.Params{K: 0.5}), cfg, nil)

	res, err := bt.Run(context.Background(), threeDays())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Filtered)
	assert.False(t, res.HasTrades())
	assert.False(t, res.Summary.TotalReturn.Defined)
	assert.Equal(t, "005930", res.Summary.Scope)
}

func TestBacktester_VolumeConfirmNeedsAverage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VolumeConfirm = 0.5
	bt := New(newBreakout(t, breakout.Params{K: 0.5}), cfg, nil)

	res, err := bt.Run(context.Background(), threeDays())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Filtered, "no five-day volume average yet")
}

type fixedTarget float64

func (fixedTarget) Name() string { return "fixed" }

func (f fixedTarget) Target(ctx align.DailyContext) (strategy.Target, bool) {
	return strategy.Target{Date: ctx.Date, Price: float64(f)}, true
}

func TestBacktester_RecentFilterRecovers(t *testing.T) {
	closes := []float64{100, 99, 99, 102, 102, 99}
	var minutes []core.Bar
	d := core.NewDate(2024, time.January, 2)
	for _, c := range closes {
		minutes = append(minutes,
			minuteAt(d, 901, 100, 100.5, 99.5, 100),
			minuteAt(d, 902, 100, max(101.5, c), min(99, c), c),
		)
		d = core.DateOf(d.Time(kst).AddDate(0, 0, 1))
	}
	minute := core.Series{Symbol: "005930", Interval: core.IntervalMinute, Bars: minutes}
	inst := core.Instrument{Symbol: "005930", Daily: align.ResampleDaily(minute), Minute: minute}

	cfg := DefaultConfig()
	cfg.RecentSize = 2
	cfg.Recent = strategy.RecentFilter{MinWinRate: 0.5}
	res, err := New(fixedTarget(101), cfg, nil).Run(context.Background(), inst)
	require.NoError(t, err)

	// two losses block the first win; its shadow result reopens the gate
	assert.Equal(t, 1, res.Blocked)
	require.Len(t, res.Trades, 4)
	var dates []core.Date
	for _, tr := range res.Trades {
		dates = append(dates, tr.Date)
	}
	assert.Equal(t, []core.Date{20240103, 20240104, 20240106, 20240107}, dates)
}

func TestBacktester_Errors(t *testing.T) {
	bt := New(newBreakout(t, breakout.DefaultParams()), DefaultConfig(), nil)

	_, err := bt.Run(context.Background(), core.Instrument{Symbol: "EMPTY"})
	assert.ErrorIs(t, err, core.ErrNoData)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = bt.Run(ctx, threeDays())
	assert.ErrorIs(t, err, context.Canceled)

	inst := threeDays()
	inst.Minute.Bars[2], inst.Minute.Bars[3] = inst.Minute.Bars[3], inst.Minute.Bars[2]
	_, err = bt.Run(context.Background(), inst)
	assert.ErrorIs(t, err, core.ErrDataQuality)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.From, cfg.To = 20240105, 20240101
	assert.ErrorIs(t, cfg.Validate(), core.ErrConfigInvalid)

	cfg = DefaultConfig()
	cfg.RecentSize = -1
	assert.ErrorIs(t, cfg.Validate(), core.ErrConfigInvalid)
}
