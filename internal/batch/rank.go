package batch

import (
	"sort"

	"github.com/newthinker/breakout/internal/backtest"
)

// TopTierOptions are the thresholds an instrument must meet to be listed
type TopTierOptions struct {
	MinProfitFactor float64
	MaxDrawdown     float64
	MinTrades       int
}

// DefaultTopTier returns the stock thresholds
func DefaultTopTier() TopTierOptions {
	return TopTierOptions{MinProfitFactor: 1.2, MaxDrawdown: 0.20, MinTrades: 15}
}

// Rank orders summaries by total return descending, then symbol. Summaries
// with an undefined return sort last. The input is not modified.
func Rank(summaries []backtest.Summary) []backtest.Summary {
	out := make([]backtest.Summary, len(summaries))
	copy(out, summaries)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].TotalReturn, out[j].TotalReturn
		if a.Defined != b.Defined {
			return a.Defined
		}
		if a.Defined && a.Value != b.Value {
			return a.Value > b.Value
		}
		return out[i].Scope < out[j].Scope
	})
	return out
}

// TopTier keeps the ranked summaries meeting every threshold, in order
func TopTier(ranked []backtest.Summary, opts TopTierOptions) []backtest.Summary {
	var out []backtest.Summary
	for _, s := range ranked {
		if s.TradeCount < opts.MinTrades {
			continue
		}
		if !s.ProfitFactor.Defined || s.ProfitFactor.Value < opts.MinProfitFactor {
			continue
		}
		if !s.MaxDrawdown.Defined || s.MaxDrawdown.Value > opts.MaxDrawdown {
			continue
		}
		out = append(out, s)
	}
	return out
}
