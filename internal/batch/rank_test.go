package batch

import (
	"testing"

	"github.com/newthinker/breakout/internal/backtest"
	"github.com/stretchr/testify/assert"
)

func summary(scope string, ret backtest.Metric, pf, dd float64, trades int) backtest.Summary {
	return backtest.Summary{
		Scope:        scope,
		TradeCount:   trades,
		TotalReturn:  ret,
		ProfitFactor: backtest.Known(pf),
		MaxDrawdown:  backtest.Known(dd),
	}
}

func TestRank(t *testing.T) {
	in := []backtest.Summary{
		summary("CCC", backtest.Known(0.10), 1.5, 0.1, 20),
		summary("ZZZ", backtest.Undefined, 0, 0, 0),
		summary("BBB", backtest.Known(0.25), 1.5, 0.1, 20),
		summary("AAA", backtest.Known(0.10), 1.5, 0.1, 20),
		summary("DDD", backtest.Known(-0.05), 0.8, 0.3, 20),
	}

	got := Rank(in)

	var order []string
	for _, s := range got {
		order = append(order, s.Scope)
	}
	assert.Equal(t, []string{"BBB", "AAA", "CCC", "DDD", "ZZZ"}, order)
	assert.Equal(t, "CCC", in[0].Scope, "input left untouched")
}

func TestTopTier(t *testing.T) {
	ranked := Rank([]backtest.Summary{
		summary("PASS", backtest.Known(0.3), 1.2, 0.20, 15),
		summary("FEWTRADES", backtest.Known(0.5), 3, 0.05, 14),
		summary("LOWPF", backtest.Known(0.2), 1.19, 0.05, 30),
		summary("DEEPDD", backtest.Known(0.4), 2, 0.21, 30),
		summary("SENTINEL", backtest.Known(0.1), backtest.ProfitFactorSentinel, 0, 16),
		{Scope: "UNDEF", TradeCount: 20, TotalReturn: backtest.Known(0.6)},
	})

	got := TopTier(ranked, DefaultTopTier())

	var names []string
	for _, s := range got {
		names = append(names, s.Scope)
	}
	assert.Equal(t, []string{"PASS", "SENTINEL"}, names)
}

func TestTopTier_Empty(t *testing.T) {
	assert.Empty(t, TopTier(nil, DefaultTopTier()))
}
