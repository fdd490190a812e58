package backtest

import (
	"fmt"
	"math"
	"sort"

	"github.com/newthinker/breakout/internal/core"
)

// ProfitFactorSentinel is reported when there are wins but no losses
const ProfitFactorSentinel = 999.0

// flatStd is the deviation below which returns are treated as constant
const flatStd = 1e-12

// AggregateScope names the summary over every instrument in a run
const AggregateScope = "ALL"

// StatsOptions configures the metrics engine
type StatsOptions struct {
	Mode          EquityMode
	Annualization float64
}

// DefaultStatsOptions returns compounding equity annualized over 252 sessions
func DefaultStatsOptions() StatsOptions {
	return StatsOptions{Mode: EquityCompounding, Annualization: 252}
}

// EquityCurve accumulates net returns in trade order
func EquityCurve(returns []float64, mode EquityMode) []float64 {
	curve := make([]float64, len(returns))
	equity := origin(mode)
	for i, r := range returns {
		if mode == EquityAdditive {
			equity += r
		} else {
			equity *= 1 + r
		}
		curve[i] = equity
	}
	return curve
}

func origin(mode EquityMode) float64 {
	if mode == EquityAdditive {
		return 0
	}
	return 1
}

// MaxDrawdown finds the largest decline from a running peak that starts at
// the curve's origin, so a losing first trade already counts.
func MaxDrawdown(curve []float64, mode EquityMode) float64 {
	peak := origin(mode)
	var maxDD float64
	for _, v := range curve {
		if v > peak {
			peak = v
		}
		var dd float64
		if mode == EquityAdditive {
			dd = peak - v
		} else if peak > 0 {
			dd = (peak - v) / peak
		}
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// CalculateStats computes the summary of a trade stream taken in the given
// order. With no trades every metric is undefined and ErrInsufficientData
// is returned alongside the summary.
func CalculateStats(trades []TradeRecord, opts StatsOptions) (Summary, error) {
	if opts.Mode == "" {
		opts.Mode = EquityCompounding
	}
	if opts.Annualization <= 0 {
		opts.Annualization = 252
	}
	s := Summary{Mode: opts.Mode, TradeCount: len(trades)}
	if len(trades) == 0 {
		return s, core.WrapError(core.ErrInsufficientData, fmt.Errorf("no trades"))
	}

	n := float64(len(trades))
	returns := make([]float64, len(trades))
	var grossWin, grossLoss float64
	var wins, losses, streak, maxStreak int
	for i, t := range trades {
		r := t.NetReturn
		returns[i] = r
		if r > 0 {
			wins++
			grossWin += r
			streak = 0
		} else {
			losses++
			grossLoss += r
			streak++
			maxStreak = max(maxStreak, streak)
		}
		switch t.ExitReason {
		case ExitStopLoss:
			s.StopLossCount++
		case ExitTakeProfit:
			s.TakeProfitCount++
		}
	}

	curve := EquityCurve(returns, opts.Mode)
	total := curve[len(curve)-1] - origin(opts.Mode)
	mdd := MaxDrawdown(curve, opts.Mode)
	winRate := float64(wins) / n

	s.TotalReturn = Known(total)
	s.WinRate = Known(winRate)
	s.MaxDrawdown = Known(mdd)
	s.ConsecutiveLossMax = Known(float64(maxStreak))

	switch {
	case grossLoss < 0:
		s.ProfitFactor = Known(grossWin / -grossLoss)
	case grossWin > 0:
		s.ProfitFactor = Known(ProfitFactorSentinel)
	default:
		s.ProfitFactor = Known(0)
	}

	var avgWin, avgLoss float64
	if wins > 0 {
		avgWin = grossWin / float64(wins)
		s.AvgWin = Known(avgWin)
	}
	if losses > 0 {
		avgLoss = grossLoss / float64(losses)
		s.AvgLoss = Known(avgLoss)
	}
	s.Expectancy = Known(winRate*avgWin + (1-winRate)*avgLoss)
	if wins > 0 && avgLoss < 0 {
		s.RiskReward = Known(avgWin / -avgLoss)
	}
	if mdd > 0 {
		s.RecoveryFactor = Known(total / mdd)
	}

	mean, std := meanStd(returns)
	if len(returns) < 2 || std < flatStd {
		s.SharpeLike = Known(0)
	} else {
		s.SharpeLike = Known(mean / std * math.Sqrt(opts.Annualization))
		s.SQN = Known(math.Sqrt(n) * mean / std)
	}

	s.MonthlyReturns, s.AvgMonthly = monthly(trades)
	s.FirstDate = trades[0].Date
	s.LastDate = trades[0].Date
	for _, t := range trades[1:] {
		s.FirstDate = min(s.FirstDate, t.Date)
		s.LastDate = max(s.LastDate, t.Date)
	}
	return s, nil
}

// meanStd returns the mean and the sample standard deviation
func meanStd(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / float64(len(xs)-1))
}

// monthly sums net returns per calendar month. The average spans every
// month from the first to the last trade, counting empty months as zero.
// Month totals are added in key order so the float result is stable.
func monthly(trades []TradeRecord) (map[string]float64, Metric) {
	out := make(map[string]float64)
	first, last := trades[0].Date, trades[0].Date
	for _, t := range trades {
		out[t.Date.MonthKey()] += t.NetReturn
		first = min(first, t.Date)
		last = max(last, t.Date)
	}
	months := (last.Year()-first.Year())*12 + int(last.Month()-first.Month()) + 1
	keys := make([]string, 0, len(out))
	for k := range out {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sum float64
	for _, k := range keys {
		sum += out[k]
	}
	return out, Known(sum / float64(months))
}

// Aggregate merges per-instrument trade logs with MergeTrades and
// summarizes the stream under AggregateScope.
func Aggregate(logs [][]TradeRecord, opts StatsOptions) (Summary, error) {
	s, err := CalculateStats(MergeTrades(logs), opts)
	s.Scope = AggregateScope
	return s, err
}

// MergeTrades joins per-instrument trade logs into one stream ordered by
// (date, entry time, symbol). The order does not depend on the order of logs.
func MergeTrades(logs [][]TradeRecord) []TradeRecord {
	var merged []TradeRecord
	for _, l := range logs {
		merged = append(merged, l...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if !a.EntryTime.Equal(b.EntryTime) {
			return a.EntryTime.Before(b.EntryTime)
		}
		return a.Symbol < b.Symbol
	})
	return merged
}
