package backtest

import (
	"math"
	"testing"

	"github.com/newthinker/breakout/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCostModel_RoundTrip(t *testing.T) {
	c := CostModel{Commission: 0.00015, Tax: 0.0018, Slippage: 0.001}
	assert.Equal(t, 0.00295, c.RoundTrip())
	assert.Equal(t, 0.0, CostModel{}.RoundTrip())
}

func TestCostModel_Net(t *testing.T) {
	c := CostModel{Commission: 0.001, Tax: 0.001}
	raw, net := c.Net(100, 102)
	assert.InDelta(t, 0.02, raw, 1e-12)
	assert.InDelta(t, 0.018, net, 1e-12)

	raw, net = CostModel{}.Net(110, 109)
	assert.Equal(t, raw, net)
}

func TestCostModel_Validate(t *testing.T) {
	require.NoError(t, CostModel{Commission: 0.001}.Validate())

	for _, c := range []CostModel{
		{Commission: -0.001},
		{Tax: math.NaN()},
		{Slippage: math.Inf(1)},
	} {
		err := c.Validate()
		assert.ErrorIs(t, err, core.ErrConfigInvalid, "%+v", c)
	}
}

func TestCostModel_ValidateReportsFirstField(t *testing.T) {
	c := CostModel{Commission: -1, Tax: math.NaN(), Slippage: -2}
	for i := 0; i < 50; i++ {
		err := c.Validate()
		require.ErrorIs(t, err, core.ErrConfigInvalid)
		assert.Contains(t, err.Error(), "cost commission")
	}

	err := CostModel{Tax: -1, Slippage: -2}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cost tax")
}
