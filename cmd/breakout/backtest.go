package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/newthinker/breakout/internal/backtest"
	"github.com/newthinker/breakout/internal/report"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	backtestFrom   string
	backtestTo     string
	backtestTrades string
	backtestInd    bool
)

var backtestCmd = &cobra.Command{
	Use:   "backtest <symbol>",
	Short: "Backtest one instrument",
	Long:  "Run the configured strategy over one instrument's history and show performance statistics",
	Args:  cobra.ExactArgs(1),
	RunE:  runBacktest,
}

func init() {
	backtestCmd.Flags().StringVar(&backtestFrom, "from", "", "First traded date YYYY-MM-DD (overrides strategy.from)")
	backtestCmd.Flags().StringVar(&backtestTo, "to", "", "Last traded date YYYY-MM-DD (overrides strategy.to)")
	backtestCmd.Flags().StringVar(&backtestTrades, "trades", "", "Write the trade log as CSV to this file")
	backtestCmd.Flags().BoolVar(&backtestInd, "indicators", false, "Compare snapshot indicators over winning and losing trades")

	rootCmd.AddCommand(backtestCmd)
}

func runBacktest(cmd *cobra.Command, args []string) error {
	symbol := args[0]

	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	if backtestFrom != "" {
		cfg.Strategy.From = backtestFrom
	}
	if backtestTo != "" {
		cfg.Strategy.To = backtestTo
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid window: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src, closeSource, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSource()

	bt, err := newBacktester(cfg, log)
	if err != nil {
		return err
	}

	inst, err := src.Load(ctx, symbol)
	if err != nil {
		return fmt.Errorf("loading %s: %w", symbol, err)
	}
	res, err := bt.Run(ctx, *inst)
	if err != nil {
		return fmt.Errorf("backtesting %s: %w", symbol, err)
	}

	fmt.Println("=== Breakout Backtest ===")
	fmt.Printf("Strategy: %s\n", res.Strategy)
	fmt.Printf("Symbol:   %s\n", res.Symbol)
	fmt.Printf("Sessions: %d (skipped %d, filtered %d, blocked %d)\n",
		res.Sessions, res.Skipped, res.Filtered, res.Blocked)
	fmt.Println()

	if !res.HasTrades() {
		fmt.Println("No trades: every metric is undefined")
	}
	if err := report.RenderSummary(os.Stdout, res.Summary); err != nil {
		return err
	}
	if backtestInd && res.HasTrades() {
		fmt.Println()
		if err := report.RenderIndicatorProfit(os.Stdout, backtest.IndicatorProfit(res.Trades)); err != nil {
			return err
		}
	}

	if backtestTrades != "" {
		f, err := os.Create(backtestTrades)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := report.WriteTradesCSV(f, res.Trades); err != nil {
			return fmt.Errorf("writing trades: %w", err)
		}
		log.Info("trade log written", zap.String("path", backtestTrades), zap.Int("trades", len(res.Trades)))
	}
	return nil
}
