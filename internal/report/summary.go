package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/newthinker/breakout/internal/backtest"
	"github.com/shopspring/decimal"
)

// MarshalSummary encodes a summary as indented JSON; undefined metrics are null
func MarshalSummary(s backtest.Summary) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// UnmarshalSummary decodes a summary written by MarshalSummary
func UnmarshalSummary(data []byte) (backtest.Summary, error) {
	var s backtest.Summary
	err := json.Unmarshal(data, &s)
	return s, err
}

var rankingColumns = []string{
	"rank", "symbol", "trades", "total_return", "win_rate", "profit_factor",
	"max_drawdown", "expectancy", "consecutive_loss_max", "sharpe_like_ratio", "sqn",
}

func metricCell(m backtest.Metric) string {
	if !m.Defined {
		return ""
	}
	return formatFloat(m.Value)
}

// WriteRankingCSV writes summaries in the given order, numbering ranks from 1
func WriteRankingCSV(w io.Writer, ranked []backtest.Summary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(rankingColumns); err != nil {
		return err
	}
	for i, s := range ranked {
		row := []string{
			strconv.Itoa(i + 1),
			s.Scope,
			strconv.Itoa(s.TradeCount),
			metricCell(s.TotalReturn),
			metricCell(s.WinRate),
			metricCell(s.ProfitFactor),
			metricCell(s.MaxDrawdown),
			metricCell(s.Expectancy),
			metricCell(s.ConsecutiveLossMax),
			metricCell(s.SharpeLike),
			metricCell(s.SQN),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Percent formats a fraction as a fixed two-decimal percentage
func Percent(m backtest.Metric) string {
	if !m.Defined {
		return "n/a"
	}
	return decimal.NewFromFloat(m.Value).Shift(2).StringFixed(2) + "%"
}

// Ratio formats a metric with two decimals
func Ratio(m backtest.Metric) string {
	if !m.Defined {
		return "n/a"
	}
	return decimal.NewFromFloat(m.Value).StringFixed(2)
}

// RenderSummary prints a summary as an aligned two-column table
func RenderSummary(w io.Writer, s backtest.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"Scope", s.Scope},
		{"Equity mode", string(s.Mode)},
		{"Trades", strconv.Itoa(s.TradeCount)},
		{"Total return", Percent(s.TotalReturn)},
		{"Win rate", Percent(s.WinRate)},
		{"Profit factor", Ratio(s.ProfitFactor)},
		{"Max drawdown", Percent(s.MaxDrawdown)},
		{"Expectancy", Percent(s.Expectancy)},
		{"Max consecutive losses", Ratio(s.ConsecutiveLossMax)},
		{"Sharpe-like ratio", Ratio(s.SharpeLike)},
		{"SQN", Ratio(s.SQN)},
		{"Avg win / avg loss", Percent(s.AvgWin) + " / " + Percent(s.AvgLoss)},
		{"Risk/reward", Ratio(s.RiskReward)},
		{"Recovery factor", Ratio(s.RecoveryFactor)},
		{"Stop-loss / take-profit exits", fmt.Sprintf("%d / %d", s.StopLossCount, s.TakeProfitCount)},
		{"Avg monthly return", Percent(s.AvgMonthly)},
	}
	if s.TradeCount > 0 {
		rows = append(rows, [2]string{"Period", s.FirstDate.String() + " to " + s.LastDate.String()})
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", r[0], r[1])
	}

	if len(s.MonthlyReturns) > 0 {
		months := make([]string, 0, len(s.MonthlyReturns))
		for m := range s.MonthlyReturns {
			months = append(months, m)
		}
		sort.Strings(months)
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "MONTH\tRETURN")
		for _, m := range months {
			fmt.Fprintf(tw, "%s\t%s\n", m, Percent(backtest.Known(s.MonthlyReturns[m])))
		}
	}
	return tw.Flush()
}

// RenderRanking prints ranked summaries as a table
func RenderRanking(w io.Writer, ranked []backtest.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tSYMBOL\tTRADES\tTOTAL\tWIN RATE\tPF\tMDD\tSHARPE")
	for i, s := range ranked {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			i+1, s.Scope, s.TradeCount,
			Percent(s.TotalReturn), Percent(s.WinRate), Ratio(s.ProfitFactor),
			Percent(s.MaxDrawdown), Ratio(s.SharpeLike))
	}
	return tw.Flush()
}

var indicatorColumns = []string{"indicator", "win_count", "win_mean", "loss_count", "loss_mean", "diff"}

// WriteIndicatorProfitCSV writes one row per snapshot column; undefined
// means are empty cells.
func WriteIndicatorProfitCSV(w io.Writer, stats []backtest.IndicatorStat) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(indicatorColumns); err != nil {
		return err
	}
	for _, s := range stats {
		row := []string{
			s.Key,
			strconv.Itoa(s.WinCount),
			metricCell(s.WinMean),
			strconv.Itoa(s.LossCount),
			metricCell(s.LossMean),
			metricCell(s.Diff),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// RenderIndicatorProfit prints winning and losing means per snapshot column
func RenderIndicatorProfit(w io.Writer, stats []backtest.IndicatorStat) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDICATOR\tWINS\tWIN MEAN\tLOSSES\tLOSS MEAN\tDIFF")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%s\t%s\n",
			s.Key, s.WinCount, Ratio(s.WinMean), s.LossCount, Ratio(s.LossMean), Ratio(s.Diff))
	}
	return tw.Flush()
}
