// Package align merges daily-derived context onto minute bars.
//
// Every value in a DailyContext except Open is computed from bars strictly
// before the context's date, so a session never sees its own close.
package align

import (
	"fmt"
	"math"
	"sort"

	"github.com/newthinker/breakout/internal/core"
	"github.com/newthinker/breakout/internal/indicator"
)

// Indicator keys computed for every context
const (
	IndMA5        = "ma5"
	IndMA5Prev    = "ma5_prev"
	IndSlope5     = "slope5"
	IndDisp5      = "disp5"
	IndAvgValue5  = "avg_value5"
	IndAvgVolume5 = "avg_volume5"
	IndTrendUp    = "trend_up"

	// ExtraPrefix marks prior-day columns copied from an enriched daily table
	ExtraPrefix = "d_"

	window = 5
)

// Options bounds how much missing daily coverage is tolerated
type Options struct {
	// MaxDerivedDays is the longest run of consecutive minute dates absent
	// from the daily series that may be rebuilt from minute bars.
	MaxDerivedDays int
	// MaxStaleDays is the largest calendar gap between a date and its prior
	// trading day before the context is treated as a data gap. Zero disables the check.
	MaxStaleDays int
}

// DefaultOptions returns the bounds used when none are configured
func DefaultOptions() Options {
	return Options{
		MaxDerivedDays: 1,
		MaxStaleDays:   10,
	}
}

// DailyContext is the per-date view of the daily series as of the open
type DailyContext struct {
	Date       core.Date
	Open       float64
	PrevDate   core.Date
	PrevHigh   float64
	PrevLow    float64
	PrevClose  float64
	Indicators map[string]float64
	Derived    bool
}

// Range returns the prior day's high-low range
func (c DailyContext) Range() float64 {
	return c.PrevHigh - c.PrevLow
}

// Indicator looks up an indicator value; absent means undefined
func (c DailyContext) Indicator(name string) (float64, bool) {
	v, ok := c.Indicators[name]
	return v, ok
}

// Session is one trading date of the merged table
type Session struct {
	Date    core.Date
	Context DailyContext
	// Valid is false when no usable prior day exists; Reason says why.
	Valid  bool
	Reason string
	Bars   []core.Bar
}

// Align produces one session per minute-bar date, each carrying that
// date's DailyContext. It fails with ErrDataQuality on malformed input and
// with ErrAlignment when a run of missing daily dates exceeds the bound.
func Align(daily, minute core.Series, opts Options) ([]Session, error) {
	if err := daily.Validate(); err != nil {
		return nil, err
	}
	if err := minute.Validate(); err != nil {
		return nil, err
	}
	if minute.Len() == 0 {
		return nil, nil
	}

	groups := groupByDate(minute.Bars)

	byDate := make(map[core.Date]core.Bar, daily.Len())
	for _, b := range daily.Bars {
		byDate[b.Date()] = b
	}

	derived := make(map[core.Date]bool)
	missingRun := 0
	for _, g := range groups {
		if _, ok := byDate[g.date]; ok {
			missingRun = 0
			continue
		}
		missingRun++
		if missingRun > opts.MaxDerivedDays {
			return nil, core.WrapError(core.ErrAlignment,
				fmt.Errorf("%s: %d consecutive minute dates without daily bars ending %s (max %d)",
					minute.Symbol, missingRun, g.date, opts.MaxDerivedDays))
		}
		byDate[g.date] = resample(g.bars)
		derived[g.date] = true
	}

	days := mergeDays(byDate)
	index := make(map[core.Date]int, len(days))
	for i, d := range days {
		index[d.Date()] = i
	}
	ind := computeIndicators(days)

	sessions := make([]Session, 0, len(groups))
	for _, g := range groups {
		j := index[g.date]
		s := Session{Date: g.date, Bars: g.bars}
		s.Context, s.Valid, s.Reason = contextAt(days, j, ind, opts)
		s.Context.Derived = derived[g.date]
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// ResampleDaily rebuilds a daily series from minute bars
func ResampleDaily(minute core.Series) core.Series {
	groups := groupByDate(minute.Bars)
	out := core.Series{Symbol: minute.Symbol, Interval: core.IntervalDaily, Bars: make([]core.Bar, 0, len(groups))}
	for _, g := range groups {
		out.Bars = append(out.Bars, resample(g.bars))
	}
	return out
}

type dateGroup struct {
	date core.Date
	bars []core.Bar
}

// groupByDate splits chronologically ordered bars into contiguous per-date slices
func groupByDate(bars []core.Bar) []dateGroup {
	var groups []dateGroup
	start := 0
	for i := 1; i <= len(bars); i++ {
		if i < len(bars) && bars[i].Date() == bars[start].Date() {
			continue
		}
		groups = append(groups, dateGroup{date: bars[start].Date(), bars: bars[start:i:i]})
		start = i
	}
	return groups
}

func resample(bars []core.Bar) core.Bar {
	first := bars[0]
	out := core.Bar{
		Symbol: first.Symbol,
		Time:   first.Date().Time(first.Time.Location()),
		Open:   first.Open,
		High:   first.High,
		Low:    first.Low,
		Close:  bars[len(bars)-1].Close,
	}
	for _, b := range bars {
		out.High = math.Max(out.High, b.High)
		out.Low = math.Min(out.Low, b.Low)
		out.Volume += b.Volume
	}
	return out
}

// mergeDays returns daily and derived bars in date order
func mergeDays(byDate map[core.Date]core.Bar) []core.Bar {
	days := make([]core.Bar, 0, len(byDate))
	for _, b := range byDate {
		days = append(days, b)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date() < days[j].Date() })
	return days
}

type indicators struct {
	ma5     []float64
	value5  []float64
	volume5 []float64
}

func computeIndicators(days []core.Bar) indicators {
	closes := make([]float64, len(days))
	values := make([]float64, len(days))
	volumes := make([]float64, len(days))
	for i, b := range days {
		closes[i] = b.Close
		values[i] = b.TradingValue()
		volumes[i] = float64(b.Volume)
	}
	return indicators{
		ma5:     indicator.SMA(closes, window),
		value5:  indicator.SMA(values, window),
		volume5: indicator.SMA(volumes, window),
	}
}

// contextAt builds the context of days[j] from days[:j]
func contextAt(days []core.Bar, j int, ind indicators, opts Options) (DailyContext, bool, string) {
	today := days[j]
	ctx := DailyContext{Date: today.Date(), Open: today.Open}
	if j == 0 {
		return ctx, false, "no prior trading day"
	}

	prev := days[j-1]
	ctx.PrevDate = prev.Date()
	ctx.PrevHigh = prev.High
	ctx.PrevLow = prev.Low
	ctx.PrevClose = prev.Close

	if opts.MaxStaleDays > 0 {
		if gap := ctx.Date.DaysSince(ctx.PrevDate); gap > opts.MaxStaleDays {
			return ctx, false, fmt.Sprintf("prior trading day %s is %d days old", ctx.PrevDate, gap)
		}
	}

	vals := make(map[string]float64, 8+len(prev.Extra))
	set := func(k string, v float64) {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			vals[k] = v
		}
	}
	ma5 := ind.ma5[j-1]
	set(IndMA5, ma5)
	set(IndAvgValue5, ind.value5[j-1])
	set(IndAvgVolume5, ind.volume5[j-1])
	if j >= 2 {
		set(IndMA5Prev, ind.ma5[j-2])
		set(IndSlope5, indicator.PctChange(ma5, ind.ma5[j-2]))
	}
	set(IndDisp5, indicator.PctChange(prev.Close, ma5))
	if !math.IsNaN(ma5) {
		trend := 0.0
		if prev.Close > ma5 {
			trend = 1
		}
		vals[IndTrendUp] = trend
	}
	for k, v := range prev.Extra {
		set(ExtraPrefix+k, v)
	}
	ctx.Indicators = vals
	return ctx, true, ""
}
