package backtest

import (
	"fmt"
	"strings"

	"github.com/newthinker/breakout/internal/align"
	"github.com/newthinker/breakout/internal/core"
)

// Snapshot key prefixes. Computed daily indicators are stored under
// DailyPrefix as well; if a daily extra column shares a computed name the
// computed value is kept.
const (
	MinutePrefix = "m_"
	DailyPrefix  = align.ExtraPrefix
)

// Recorder accumulates the trade log of one instrument. It is append-only
// and holds at most one trade per date.
type Recorder struct {
	symbol string
	cost   CostModel
	trades []TradeRecord
	dates  map[core.Date]struct{}
}

// NewRecorder creates a recorder for one symbol
func NewRecorder(symbol string, cost CostModel) *Recorder {
	return &Recorder{
		symbol: symbol,
		cost:   cost,
		dates:  make(map[core.Date]struct{}),
	}
}

// Record turns a resolved fill into a trade. The context snapshot holds the
// daily indicators known at the open plus extras of the minute bar before
// entry; nothing from the entry bar onward leaks in.
func (r *Recorder) Record(s align.Session, target float64, f Fill) (TradeRecord, error) {
	if _, dup := r.dates[s.Date]; dup {
		return TradeRecord{}, fmt.Errorf("trade for %s on %s already recorded", r.symbol, s.Date)
	}

	raw, net := r.cost.Net(f.EntryPrice, f.ExitPrice)
	snap := make(map[string]float64, len(s.Context.Indicators)+4)
	for k, v := range s.Context.Indicators {
		if strings.HasPrefix(k, DailyPrefix) {
			snap[k] = v
		}
	}
	for k, v := range s.Context.Indicators {
		if !strings.HasPrefix(k, DailyPrefix) {
			snap[DailyPrefix+k] = v
		}
	}
	if f.EntryIndex > 0 {
		for k, v := range s.Bars[f.EntryIndex-1].Extra {
			snap[MinutePrefix+k] = v
		}
	}

	t := TradeRecord{
		Symbol:      r.symbol,
		Date:        s.Date,
		EntryTime:   f.EntryTime,
		EntryPrice:  f.EntryPrice,
		ExitTime:    f.ExitTime,
		ExitPrice:   f.ExitPrice,
		TargetPrice: target,
		RawReturn:   raw,
		NetReturn:   net,
		ExitReason:  f.Reason,
		Context:     snap,
	}
	r.dates[s.Date] = struct{}{}
	r.trades = append(r.trades, t)
	return t, nil
}

// Len returns the number of trades recorded
func (r *Recorder) Len() int {
	return len(r.trades)
}

// Trades returns a copy of the trade log in date order
func (r *Recorder) Trades() []TradeRecord {
	out := make([]TradeRecord, len(r.trades))
	copy(out, r.trades)
	return out
}
