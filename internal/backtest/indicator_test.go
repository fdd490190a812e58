package backtest

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndicatorProfit(t *testing.T) {
	tr := trades(0.02, -0.01, 0.04, 0)
	tr[0].Context = map[string]float64{"d_ma5": 100, "m_vwap": 10}
	tr[1].Context = map[string]float64{"d_ma5": 90, "m_vwap": 7}
	tr[2].Context = map[string]float64{"d_ma5": 110, "m_rsi": 70}
	// a flat trade counts as a loss
	tr[3].Context = map[string]float64{"d_ma5": 80, "m_vwap": math.NaN(), "note": 1}

	stats := IndicatorProfit(tr)
	require.Len(t, stats, 3)
	assert.Equal(t, []string{"d_ma5", "m_rsi", "m_vwap"}, []string{stats[0].Key, stats[1].Key, stats[2].Key})

	ma := stats[0]
	assert.Equal(t, 2, ma.WinCount)
	assert.Equal(t, 2, ma.LossCount)
	assert.InDelta(t, 105, ma.WinMean.Value, 1e-12)
	assert.InDelta(t, 85, ma.LossMean.Value, 1e-12)
	assert.InDelta(t, 20, ma.Diff.Value, 1e-12)

	rsi := stats[1]
	assert.Equal(t, Known(70), rsi.WinMean)
	assert.Equal(t, 0, rsi.LossCount)
	assert.False(t, rsi.LossMean.Defined)
	assert.False(t, rsi.Diff.Defined, "diff needs both sides")

	vwap := stats[2]
	assert.Equal(t, 1, vwap.LossCount, "non-finite values are skipped")
	assert.InDelta(t, 3, vwap.Diff.Value, 1e-12)
}

func TestIndicatorProfit_Empty(t *testing.T) {
	assert.Empty(t, IndicatorProfit(nil))
	assert.Empty(t, IndicatorProfit(trades(0.01, -0.01)))
}

func TestMergeTrades_IgnoresLogOrder(t *testing.T) {
	a := trades(0.01, 0.02)
	b := trades(-0.03)
	for i := range b {
		b[i].Symbol = "OTHER"
	}
	assert.Equal(t, MergeTrades([][]TradeRecord{a, b}), MergeTrades([][]TradeRecord{b, a}))
}
