package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newthinker/breakout/internal/batch"
	"github.com/newthinker/breakout/internal/config"
	"github.com/newthinker/breakout/internal/metrics"
	"github.com/newthinker/breakout/internal/report"
	"github.com/newthinker/breakout/internal/storage/archive"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var batchCmd = &cobra.Command{
	Use:   "batch [symbols...]",
	Short: "Backtest a universe of instruments",
	Long: `Run the configured strategy over every given symbol (or every symbol the data
source lists, or data.symbols when set) in parallel, then rank the results.`,
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)
}

func batchOptions(cfg *config.Config) (batch.Options, error) {
	bt, err := cfg.Backtest(nil)
	if err != nil {
		return batch.Options{}, err
	}
	return batch.Options{
		Workers:           cfg.Batch.Workers,
		InstrumentTimeout: cfg.Batch.InstrumentTimeout,
		TopTier: batch.TopTierOptions{
			MinProfitFactor: cfg.Batch.TopTier.MinProfitFactor,
			MaxDrawdown:     cfg.Batch.TopTier.MaxDrawdown,
			MinTrades:       cfg.Batch.TopTier.MinTrades,
		},
		Stats:  bt.Stats,
		Params: cfg.StrategyParams(),
	}, nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	// SIGINT/SIGTERM cancel the run; finished instruments keep their outputs
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
	opts, err := batchOptions(cfg)
	if err != nil {
		return err
	}
	o := batch.New(src, bt, opts, log)

	store, err := archive.New(cfg.Archive())
	if err != nil {
		return fmt.Errorf("opening output storage: %w", err)
	}
	o.SetSink(batch.NewArchiveSink(store, cfg.Output.Formats))

	summaries, closeStore, err := openSummaryStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	if summaries != nil {
		o.SetStore(summaries)
	}

	if cfg.Telemetry.MetricsAddr != "" {
		reg := metrics.NewRegistry()
		o.SetMetrics(reg)
		srv := metrics.NewServer(cfg.Telemetry.MetricsAddr, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		log.Info("serving metrics", zap.String("addr", cfg.Telemetry.MetricsAddr))
	}

	symbols := args
	if len(symbols) == 0 {
		symbols = cfg.Data.Symbols
	}

	rep, runErr := o.Run(ctx, symbols)
	if rep == nil {
		return runErr
	}
	printReport(rep)
	if runErr != nil {
		return fmt.Errorf("batch %s stopped early: %w", rep.RunID, runErr)
	}
	return nil
}

func printReport(rep *batch.Report) {
	fmt.Printf("=== Batch %s ===\n", rep.RunID)
	fmt.Printf("Strategy: %s\n", rep.Strategy)
	fmt.Printf("Symbols:  %d (ranked %d, no trades %d, failed %d, cancelled %d)\n",
		rep.Symbols, len(rep.Ranked), len(rep.NoTrades), len(rep.Failures), len(rep.Cancelled))
	fmt.Println()

	report.RenderRanking(os.Stdout, rep.Ranked)

	fmt.Println()
	fmt.Printf("Top tier (%d):\n", len(rep.TopTier))
	report.RenderRanking(os.Stdout, rep.TopTier)

	if len(rep.Failures) > 0 {
		fmt.Println()
		fmt.Println("Failures:")
		for _, f := range rep.Failures {
			fmt.Printf("  %-12s %-18s %v\n", f.Symbol, f.Code, f.Err)
		}
	}

	fmt.Println()
	fmt.Println("Aggregate:")
	report.RenderSummary(os.Stdout, rep.Aggregate)
}
