package backtest

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/newthinker/breakout/internal/core"
)

// ExitReason says how a position was closed
type ExitReason string

const (
	ExitTargetClose ExitReason = "target-close"
	ExitStopLoss    ExitReason = "stop-loss"
	ExitTakeProfit  ExitReason = "take-profit"
)

// TradeRecord is one completed intraday trade. Records are immutable
// once the recorder has produced them.
type TradeRecord struct {
	Symbol      string             `json:"symbol"`
	Date        core.Date          `json:"date"`
	EntryTime   time.Time          `json:"entry_time"`
	EntryPrice  float64            `json:"entry_price"`
	ExitTime    time.Time          `json:"exit_time"`
	ExitPrice   float64            `json:"exit_price"`
	TargetPrice float64            `json:"target_price"`
	RawReturn   float64            `json:"raw_return"`
	NetReturn   float64            `json:"net_return"`
	ExitReason  ExitReason         `json:"exit_reason"`
	Context     map[string]float64 `json:"context,omitempty"`
}

// IsWin returns true if the trade was profitable after costs
func (t TradeRecord) IsWin() bool {
	return t.NetReturn > 0
}

// EquityMode selects how trade returns accumulate into an equity curve
type EquityMode string

const (
	// EquityCompounding multiplies (1 + r); drawdown is relative to the peak
	EquityCompounding EquityMode = "compounding"
	// EquityAdditive sums r; drawdown is the absolute gap to the peak
	EquityAdditive EquityMode = "additive"
)

// ParseEquityMode validates a configured mode name
func ParseEquityMode(s string) (EquityMode, error) {
	switch m := EquityMode(s); m {
	case EquityCompounding, EquityAdditive:
		return m, nil
	default:
		return "", core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown equity mode %q", s))
	}
}

// Metric is a statistic that may be undefined. Undefined metrics encode
// as JSON null and are never silently replaced by zero.
type Metric struct {
	Value   float64
	Defined bool
}

// Known wraps a defined value
func Known(v float64) Metric {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Metric{}
	}
	return Metric{Value: v, Defined: true}
}

// Undefined is the zero Metric
var Undefined = Metric{}

func (m Metric) MarshalJSON() ([]byte, error) {
	if !m.Defined {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(m.Value, 'g', -1, 64)), nil
}

func (m *Metric) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = Metric{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = Known(v)
	return nil
}

func (m Metric) String() string {
	if !m.Defined {
		return "n/a"
	}
	return strconv.FormatFloat(m.Value, 'f', 4, 64)
}

// Summary holds performance statistics for one instrument or an aggregate scope.
// It is always recomputed from the trade stream, never updated in place.
type Summary struct {
	Scope              string             `json:"scope"`
	Mode               EquityMode         `json:"equity_mode"`
	TradeCount         int                `json:"trade_count"`
	TotalReturn        Metric             `json:"total_return"`
	WinRate            Metric             `json:"win_rate"`
	ProfitFactor       Metric             `json:"profit_factor"`
	MaxDrawdown        Metric             `json:"max_drawdown"`
	Expectancy         Metric             `json:"expectancy"`
	ConsecutiveLossMax Metric             `json:"consecutive_loss_max"`
	SharpeLike         Metric             `json:"sharpe_like_ratio"`
	SQN                Metric             `json:"sqn"`
	AvgWin             Metric             `json:"avg_win"`
	AvgLoss            Metric             `json:"avg_loss"`
	RiskReward         Metric             `json:"risk_reward"`
	RecoveryFactor     Metric             `json:"recovery_factor"`
	AvgMonthly         Metric             `json:"avg_monthly"`
	StopLossCount      int                `json:"stop_loss_count"`
	TakeProfitCount    int                `json:"take_profit_count"`
	MonthlyReturns     map[string]float64 `json:"monthly_returns,omitempty"`
	FirstDate          core.Date          `json:"first_date,omitempty"`
	LastDate           core.Date          `json:"last_date,omitempty"`
}

// Result holds the complete backtest output for one instrument
type Result struct {
	Symbol      string
	Strategy    string
	Sessions    int // dates inside the run window
	Skipped     int // dates with no usable context or an undefined target
	Filtered    int // dates rejected by entry filters
	Blocked     int // breakouts suppressed by the recent-results filter
	Trades      []TradeRecord
	Summary     Summary
	EquityCurve []float64
}

// HasTrades reports whether any trade was recorded
func (r *Result) HasTrades() bool {
	return len(r.Trades) > 0
}
