package backtest

import (
	"math"
	"sort"
	"strings"
)

// IndicatorStat compares one snapshot column across winning and losing
// trades. A side with no values for the column leaves its mean undefined,
// and Diff is defined only when both means are.
type IndicatorStat struct {
	Key       string `json:"indicator"`
	WinCount  int    `json:"win_count"`
	WinMean   Metric `json:"win_mean"`
	LossCount int    `json:"loss_count"`
	LossMean  Metric `json:"loss_mean"`
	Diff      Metric `json:"diff"`
}

// snapshotKey reports whether a context key belongs to the snapshot columns
func snapshotKey(k string) bool {
	return strings.HasPrefix(k, MinutePrefix) || strings.HasPrefix(k, DailyPrefix)
}

// IndicatorProfit averages every snapshot column over winning and losing
// trades, one row per column in key order. Non-finite values are skipped.
// Sums follow trade order, so the same trade stream always yields the same
// values.
func IndicatorProfit(trades []TradeRecord) []IndicatorStat {
	type side struct {
		sum float64
		n   int
	}
	type acc struct{ win, loss side }

	cols := make(map[string]*acc)
	for _, t := range trades {
		for k, v := range t.Context {
			if !snapshotKey(k) || math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			a, ok := cols[k]
			if !ok {
				a = &acc{}
				cols[k] = a
			}
			s := &a.loss
			if t.IsWin() {
				s = &a.win
			}
			s.sum += v
			s.n++
		}
	}

	keys := make([]string, 0, len(cols))
	for k := range cols {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mean := func(s side) Metric {
		if s.n == 0 {
			return Undefined
		}
		return Known(s.sum / float64(s.n))
	}
	out := make([]IndicatorStat, 0, len(keys))
	for _, k := range keys {
		a := cols[k]
		st := IndicatorStat{
			Key:       k,
			WinCount:  a.win.n,
			WinMean:   mean(a.win),
			LossCount: a.loss.n,
			LossMean:  mean(a.loss),
			Diff:      Undefined,
		}
		if st.WinMean.Defined && st.LossMean.Defined {
			st.Diff = Known(st.WinMean.Value - st.LossMean.Value)
		}
		out = append(out, st)
	}
	return out
}
