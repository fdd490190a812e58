package backtest

import (
	"time"

	"github.com/newthinker/breakout/internal/core"
	"github.com/newthinker/breakout/internal/strategy"
)

// ResolveOptions controls how a session's minute bars are scanned
type ResolveOptions struct {
	// CloseAt is the time of day of the forced exit; zero means the final bar
	CloseAt time.Duration
	// MinCumVolume, when positive, requires the day's cumulative volume
	// through the breakout bar to exceed it
	MinCumVolume float64
}

// Fill is the resolved entry and exit of one session
type Fill struct {
	EntryIndex int
	EntryTime  time.Time
	EntryPrice float64
	ExitIndex  int
	ExitTime   time.Time
	ExitPrice  float64
	Reason     ExitReason
}

// Resolve scans one session's minute bars for the first breakout of
// target.Price and the exit that follows it. The second return value is
// false when no bar breaks out.
//
// Entry fills at max(target, bar open) so a gap above the target fills at
// the open. A stop never fires on the entry bar since the intra-bar order
// of the low and the entry is unknown; a take-profit does only if the
// entry was below it. When one bar touches both levels the stop wins.
func Resolve(target strategy.Target, bars []core.Bar, opts ResolveOptions) (Fill, bool) {
	if len(bars) == 0 {
		return Fill{}, false
	}
	last := closeIndex(bars, opts.CloseAt)

	entry := -1
	var cum int64
	for i := 0; i <= last; i++ {
		cum += bars[i].Volume
		if bars[i].High < target.Price {
			continue
		}
		if opts.MinCumVolume > 0 && float64(cum) <= opts.MinCumVolume {
			continue
		}
		entry = i
		break
	}
	if entry < 0 {
		return Fill{}, false
	}

	f := Fill{
		EntryIndex: entry,
		EntryTime:  bars[entry].Time,
		EntryPrice: max(target.Price, bars[entry].Open),
	}

	for j := entry; j <= last; j++ {
		b := bars[j]
		if j > entry && target.HasStop && b.Low <= target.Stop {
			f.exit(j, b.Time, target.Stop, ExitStopLoss)
			return f, true
		}
		if target.HasTakeProfit && b.High >= target.TakeProfit && (j > entry || f.EntryPrice < target.TakeProfit) {
			price := target.TakeProfit
			if j > entry {
				// a bar opening above the level can only fill at its open
				price = max(price, b.Open)
			}
			f.exit(j, b.Time, price, ExitTakeProfit)
			return f, true
		}
	}
	f.exit(last, bars[last].Time, bars[last].Close, ExitTargetClose)
	return f, true
}

func (f *Fill) exit(i int, t time.Time, price float64, reason ExitReason) {
	f.ExitIndex = i
	f.ExitTime = t
	f.ExitPrice = price
	f.Reason = reason
}

// closeIndex returns the first bar at or after closeAt, or the final bar
func closeIndex(bars []core.Bar, closeAt time.Duration) int {
	last := len(bars) - 1
	if closeAt <= 0 {
		return last
	}
	for i, b := range bars {
		if timeOfDay(b.Time) >= closeAt {
			return i
		}
	}
	return last
}

func timeOfDay(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second
}
